// Package inmemdb provides in-memory repository implementations with the same
// uniqueness and compare-and-swap semantics as the SQL repositories. Test use
// only.
package inmemdb

import (
	"sync"

	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
)

type DB struct {
	mutex sync.RWMutex

	exams         map[string]*exam.Exam
	questions     map[string]*exam.Question
	registrations map[string]*exam.Registration
	attempts      map[string]*attempt.Attempt
	answerRecords map[string]*attempt.AnswerRecord
	violations    map[string]*integrity.Violation
}

func NewDB() *DB {
	return &DB{
		exams:         make(map[string]*exam.Exam),
		questions:     make(map[string]*exam.Question),
		registrations: make(map[string]*exam.Registration),
		attempts:      make(map[string]*attempt.Attempt),
		answerRecords: make(map[string]*attempt.AnswerRecord),
		violations:    make(map[string]*integrity.Violation),
	}
}
