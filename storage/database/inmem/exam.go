package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mtihani/core/exam"
)

type examRepository struct {
	db *DB
}

var _ exam.Repository = (*examRepository)(nil)

func NewExamRepository(db *DB) *examRepository {
	return &examRepository{db: db}
}

func (repo *examRepository) CreateExam(_ context.Context, ex exam.Exam, questions []exam.Question) (exam.Exam, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ex.ID = uuid.New().String()
	repo.db.exams[ex.ID] = &ex
	for i := range questions {
		q := questions[i]
		q.ID = uuid.New().String()
		q.ExamID = ex.ID
		repo.db.questions[q.ID] = &q
	}
	return ex, nil
}

func (repo *examRepository) GetExamByID(_ context.Context, id string) (exam.Exam, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ex, ok := repo.db.exams[id]; ok {
		return *ex, nil
	}
	return exam.Exam{}, exam.ErrNotFound
}

func (repo *examRepository) QueryExams(_ context.Context, filter exam.QueryFilter) ([]exam.Exam, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	exams := make([]exam.Exam, 0, len(repo.db.exams))
	for _, ex := range repo.db.exams {
		if filter.Status != "" && ex.Status != filter.Status {
			continue
		}
		exams = append(exams, *ex)
	}
	sort.Slice(exams, func(i, j int) bool { return exams[i].StartAt.Before(exams[j].StartAt) })
	return exams, nil
}

func (repo *examRepository) UpdateExamStatus(_ context.Context, id, from, to string) (exam.Exam, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ex, ok := repo.db.exams[id]
	if !ok {
		return exam.Exam{}, exam.ErrNotFound
	}
	if ex.Status != from {
		return exam.Exam{}, exam.ErrStatusChanged
	}
	ex.Status = to
	return *ex, nil
}

func (repo *examRepository) GetExamQuestions(_ context.Context, examID string) ([]exam.Question, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	questions := make([]exam.Question, 0)
	for _, q := range repo.db.questions {
		if q.ExamID == examID {
			questions = append(questions, *q)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Position < questions[j].Position })
	return questions, nil
}

func (repo *examRepository) CreateRegistration(_ context.Context, reg exam.Registration) (exam.Registration, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// uniqueness: one non-cancelled registration per (exam, candidate)
	for _, r := range repo.db.registrations {
		if r.ExamID == reg.ExamID && r.CandidateID == reg.CandidateID && !r.IsCancelled() {
			return exam.Registration{}, exam.ErrAlreadyRegistered
		}
	}

	reg.ID = uuid.New().String()
	repo.db.registrations[reg.ID] = &reg
	return reg, nil
}

func (repo *examRepository) GetRegistration(_ context.Context, examID, candidateID string) (exam.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var found *exam.Registration
	for _, r := range repo.db.registrations {
		if r.ExamID == examID && r.CandidateID == candidateID {
			if found == nil || r.CreatedAt.After(found.CreatedAt) {
				found = r
			}
		}
	}
	if found == nil {
		return exam.Registration{}, exam.ErrRegistrationNotFound
	}
	return *found, nil
}

func (repo *examRepository) GetRegistrationByID(_ context.Context, id string) (exam.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if r, ok := repo.db.registrations[id]; ok {
		return *r, nil
	}
	return exam.Registration{}, exam.ErrRegistrationNotFound
}

func (repo *examRepository) UpdateRegistrationStatus(_ context.Context, id, from, to string) (exam.Registration, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	r, ok := repo.db.registrations[id]
	if !ok {
		return exam.Registration{}, exam.ErrRegistrationNotFound
	}
	if r.Status != from {
		return exam.Registration{}, exam.ErrStatusChanged
	}
	r.Status = to
	return *r, nil
}
