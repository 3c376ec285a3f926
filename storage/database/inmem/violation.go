package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core/integrity"
)

type violationRepository struct {
	db *DB
}

var _ integrity.Repository = (*violationRepository)(nil)

func NewViolationRepository(db *DB) *violationRepository {
	return &violationRepository{db: db}
}

func (repo *violationRepository) CreateViolation(_ context.Context, v integrity.Violation) (integrity.Violation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	v.ID = uuid.New().String()
	repo.db.violations[v.ID] = &v
	return v, nil
}

func (repo *violationRepository) QueryAttemptViolations(_ context.Context, attemptID string) ([]integrity.Violation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	violations := make([]integrity.Violation, 0)
	for _, v := range repo.db.violations {
		if v.AttemptID == attemptID {
			violations = append(violations, *v)
		}
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].CreatedAt.Before(violations[j].CreatedAt) })
	return violations, nil
}

func (repo *violationRepository) CountAttemptViolations(_ context.Context, attemptID, vtype string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, v := range repo.db.violations {
		if v.AttemptID == attemptID && v.Type == vtype {
			n++
		}
	}
	return n, nil
}
