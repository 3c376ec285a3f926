package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
)

// Logger is a silent core.Logger that fails the test on Fatal.
type Logger struct {
	T *testing.T
}

var _ core.Logger = (*Logger)(nil)

func NewLogger(t *testing.T) *Logger { return &Logger{T: t} }

func (l *Logger) Enable(bool)                           {}
func (l *Logger) Debug(msg string, args ...interface{}) {}
func (l *Logger) Info(msg string, args ...interface{})  {}
func (l *Logger) Warn(msg string, args ...interface{})  {}
func (l *Logger) Error(msg string, args ...interface{}) {}
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.T.Fatalf("fatal: %s %v", msg, args)
}

// Diff renders a unified diff of two strings, for readable failure output.
func Diff(want, got string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  3,
	})
	return diff
}

// CreateExam creates a draft exam with the given questions.
func CreateExam(
	t *testing.T,
	repo exam.Repository,
	title string,
	duration time.Duration,
	passScore int,
	requiresApproval bool,
	questions []exam.Question,
	createdAt ...time.Time,
) exam.Exam {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	var total int
	for _, q := range questions {
		total += q.Score
	}
	ex := exam.Exam{
		Title:                title,
		Status:               exam.StatusDraft,
		StartAt:              tstamp,
		EndAt:                tstamp.Add(24 * time.Hour),
		RegistrationDeadline: tstamp.Add(12 * time.Hour),
		Duration:             duration,
		TotalScore:           total,
		PassScore:            passScore,
		RequiresApproval:     requiresApproval,
		CreatedAt:            tstamp,
		UpdatedAt:            tstamp,
	}
	ex, err := repo.CreateExam(context.Background(), ex, questions)
	if err != nil {
		t.Fatalf("CreateExam(): %v", err)
	}
	return ex
}

// CreatePublishedExam creates an exam already open to candidates.
func CreatePublishedExam(
	t *testing.T,
	repo exam.Repository,
	title string,
	duration time.Duration,
	passScore int,
	questions []exam.Question,
) exam.Exam {
	ex := CreateExam(t, repo, title, duration, passScore, false, questions)
	ex, err := repo.UpdateExamStatus(context.Background(), ex.ID, exam.StatusDraft, exam.StatusPublished)
	if err != nil {
		t.Fatalf("CreatePublishedExam(): %v", err)
	}
	return ex
}

// CreateRegistration registers a candidate for an exam with the given status.
func CreateRegistration(t *testing.T, repo exam.Repository, examID, candidateID, status string) exam.Registration {
	now := time.Now().UTC()
	reg, err := repo.CreateRegistration(context.Background(), exam.Registration{
		ExamID:      examID,
		CandidateID: candidateID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateRegistration(): %v", err)
	}
	return reg
}

// CreateAttempt creates an attempt in the given status. startedAt is only
// stamped for started attempts.
func CreateAttempt(
	t *testing.T,
	repo attempt.Repository,
	examID, candidateID, status string,
	startedAt ...time.Time,
) attempt.Attempt {
	now := time.Now().UTC()
	att := attempt.Attempt{
		ExamID:      examID,
		CandidateID: candidateID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == attempt.StatusStarted {
		att.StartedAt = now
		if len(startedAt) > 0 {
			att.StartedAt = startedAt[0].UTC()
		}
	}
	att, err := repo.CreateAttempt(context.Background(), att)
	if err != nil {
		t.Fatalf("CreateAttempt(): %v", err)
	}
	return att
}

// Questions builds a small mixed-type answer key for grading tests.
func Questions() []exam.Question {
	return []exam.Question{
		{Type: exam.QuestionSingleChoice, Prompt: "capital of Kenya?", Choices: []string{"Nairobi", "Mombasa"}, Correct: []string{"Nairobi"}, Score: 10, Position: 1},
		{Type: exam.QuestionMultipleChoice, Prompt: "prime numbers?", Choices: []string{"2", "3", "4"}, Correct: []string{"2", "3"}, Score: 10, Position: 2},
		{Type: exam.QuestionTrueFalse, Prompt: "the earth is flat", Correct: []string{"false"}, Score: 10, Position: 3},
		{Type: exam.QuestionFillBlank, Prompt: "H2O is commonly known as ___", Correct: []string{"water"}, Score: 10, Position: 4},
		{Type: exam.QuestionEssay, Prompt: "discuss", Score: 10, Position: 5},
	}
}
