package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core/attempt"
)

type attemptRepository struct {
	db *DB
}

var _ attempt.Repository = (*attemptRepository)(nil)

func NewAttemptRepository(db *DB) *attemptRepository {
	return &attemptRepository{db: db}
}

func (repo *attemptRepository) CreateAttempt(_ context.Context, att attempt.Attempt) (attempt.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// uniqueness: at most one non-terminal attempt per (exam, candidate);
	// the lock makes concurrent creates yield exactly one success
	for _, a := range repo.db.attempts {
		if a.ExamID == att.ExamID && a.CandidateID == att.CandidateID && !a.IsTerminal() {
			return attempt.Attempt{}, attempt.ErrDuplicateAttempt
		}
	}

	att.ID = uuid.New().String()
	repo.db.attempts[att.ID] = &att
	return att, nil
}

func (repo *attemptRepository) StartAttempt(_ context.Context, id string, at time.Time) (attempt.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[id]
	if !ok {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	if a.Status != attempt.StatusAssigned {
		return attempt.Attempt{}, attempt.ErrStatusChanged
	}
	a.Status = attempt.StatusStarted
	a.StartedAt = at
	a.UpdatedAt = at
	return *a, nil
}

func (repo *attemptRepository) GetAttemptByID(_ context.Context, id string) (attempt.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.attempts[id]; ok {
		return *a, nil
	}
	return attempt.Attempt{}, attempt.ErrNotFound
}

func (repo *attemptRepository) GetActiveAttempt(_ context.Context, examID, candidateID string) (attempt.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, a := range repo.db.attempts {
		if a.ExamID == examID && a.CandidateID == candidateID && !a.IsTerminal() {
			return *a, nil
		}
	}
	return attempt.Attempt{}, attempt.ErrNotFound
}

func (repo *attemptRepository) CountActiveAttempts(_ context.Context, examID, candidateID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, a := range repo.db.attempts {
		if a.ExamID == examID && a.CandidateID == candidateID && !a.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (repo *attemptRepository) QueryCandidateAttempts(_ context.Context, candidateID string) ([]attempt.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	atts := make([]attempt.Attempt, 0)
	for _, a := range repo.db.attempts {
		if a.CandidateID == candidateID {
			atts = append(atts, *a)
		}
	}
	sort.Slice(atts, func(i, j int) bool { return atts[i].CreatedAt.After(atts[j].CreatedAt) })
	return atts, nil
}

func (repo *attemptRepository) UpdateAttemptStatus(_ context.Context, id, to string, from ...string) (attempt.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[id]
	if !ok {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	var match bool
	for _, f := range from {
		if a.Status == f {
			match = true
			break
		}
	}
	if !match {
		return attempt.Attempt{}, attempt.ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return *a, nil
}

func (repo *attemptRepository) SaveSubmission(_ context.Context, att attempt.Attempt, records []attempt.AnswerRecord) (attempt.Attempt, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[att.ID]
	if !ok {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	if a.Status != attempt.StatusStarted {
		return attempt.Attempt{}, attempt.ErrStatusChanged
	}

	a.Status = att.Status
	a.SubmittedAt = att.SubmittedAt
	a.Score = att.Score
	a.UpdatedAt = att.UpdatedAt
	for i := range records {
		rec := records[i]
		rec.ID = uuid.New().String()
		rec.AttemptID = att.ID
		repo.db.answerRecords[rec.ID] = &rec
	}
	return *a, nil
}

func (repo *attemptRepository) GetAnswerRecords(_ context.Context, attemptID string) ([]attempt.AnswerRecord, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	records := make([]attempt.AnswerRecord, 0)
	for _, rec := range repo.db.answerRecords {
		if rec.AttemptID == attemptID {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].QuestionID < records[j].QuestionID })
	return records, nil
}

func (repo *attemptRepository) QueryOverrunAttempts(_ context.Context, now time.Time) ([]attempt.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	atts := make([]attempt.Attempt, 0)
	for _, a := range repo.db.attempts {
		if !a.IsStarted() {
			continue
		}
		ex, ok := repo.db.exams[a.ExamID]
		if !ok {
			continue
		}
		if a.Elapsed(now) >= ex.Duration {
			atts = append(atts, *a)
		}
	}
	return atts, nil
}
