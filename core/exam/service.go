package exam

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/mtihani/core"
)

var (
	// errors
	ErrNotFound             = errors.New("exam not found")
	ErrNotPublished         = errors.New("exam is not open to candidates")
	ErrRegistrationClosed   = errors.New("registration deadline has passed")
	ErrAlreadyRegistered    = errors.New("candidate is already registered for this exam")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrStatusChanged        = errors.New("status changed underneath; transition rejected")
)

type (
	Repository interface {
		CreateExam(ctx context.Context, ex Exam, questions []Question) (Exam, error)
		GetExamByID(ctx context.Context, id string) (Exam, error)
		QueryExams(ctx context.Context, filter QueryFilter) ([]Exam, error)
		// UpdateExamStatus transitions an exam from -> to; it fails with
		// ErrStatusChanged if the exam is no longer in `from`.
		UpdateExamStatus(ctx context.Context, id, from, to string) (Exam, error)
		GetExamQuestions(ctx context.Context, examID string) ([]Question, error)

		// CreateRegistration fails with ErrAlreadyRegistered if a non-cancelled
		// registration already exists for the (exam, candidate) pair.
		CreateRegistration(ctx context.Context, reg Registration) (Registration, error)
		GetRegistration(ctx context.Context, examID, candidateID string) (Registration, error)
		GetRegistrationByID(ctx context.Context, id string) (Registration, error)
		UpdateRegistrationStatus(ctx context.Context, id, from, to string) (Registration, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		logger  core.Logger

		NowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		logger:  logger,
		NowFunc: time.Now,
	}
}

// Register runs the eligibility checks in order, short-circuiting on the first
// failure, and creates a Registration: pending when the exam requires approval,
// approved otherwise.
func (svc *Service) Register(ctx context.Context, examID, candidateID string) (Registration, error) {
	ex, err := svc.repo.GetExamByID(ctx, examID)
	if err != nil {
		return Registration{}, err
	}
	if !ex.IsPublished() {
		return Registration{}, ErrNotPublished
	}

	now := svc.NowFunc().UTC()
	if !ex.RegistrationOpen(now) {
		return Registration{}, ErrRegistrationClosed
	}

	if reg, err := svc.repo.GetRegistration(ctx, examID, candidateID); err == nil {
		if !reg.IsCancelled() {
			return Registration{}, ErrAlreadyRegistered
		}
	} else if err != ErrRegistrationNotFound {
		return Registration{}, err
	}

	status := RegistrationApproved
	if ex.RequiresApproval {
		status = RegistrationPending
	}
	reg := Registration{
		ExamID:      examID,
		CandidateID: candidateID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// the unique constraint settles concurrent duplicate registrations
	return svc.repo.CreateRegistration(ctx, reg)
}

// Approve transitions a pending registration to approved and notifies the
// review inbox. Approval of a non-pending registration is rejected.
func (svc *Service) Approve(ctx context.Context, regID string) (Registration, error) {
	reg, err := svc.repo.UpdateRegistrationStatus(ctx, regID, RegistrationPending, RegistrationApproved)
	if err != nil {
		return Registration{}, err
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: core.Conf.Exam.ReviewInbox}},
		Subject: "Registration approved",
		Body:    fmt.Sprintf("Registration %s (exam %s, candidate %s) was approved.", reg.ID, reg.ExamID, reg.CandidateID),
	})
	return reg, nil
}

// CancelRegistration cancels a pending or approved registration.
func (svc *Service) CancelRegistration(ctx context.Context, regID string) (Registration, error) {
	reg, err := svc.repo.GetRegistrationByID(ctx, regID)
	if err != nil {
		return Registration{}, err
	}
	if reg.IsCancelled() {
		return reg, nil // idempotent
	}
	return svc.repo.UpdateRegistrationStatus(ctx, regID, reg.Status, RegistrationCancelled)
}

// Create creates a draft exam with its questions. Admin path only.
func (svc *Service) Create(ctx context.Context, ne NewExam) (Exam, error) {
	now := svc.NowFunc().UTC()

	var total int
	questions := make([]Question, 0, len(ne.Questions))
	for i, nq := range ne.Questions {
		questions = append(questions, Question{
			Type:     nq.Type,
			Prompt:   core.CleanString(nq.Prompt),
			Choices:  nq.Choices,
			Correct:  nq.Correct,
			Score:    nq.Score,
			Position: i + 1,
		})
		total += nq.Score
	}

	ex := Exam{
		Title:                ne.Title,
		Description:          ne.Description,
		Status:               StatusDraft,
		StartAt:              ne.StartAt.UTC(),
		EndAt:                ne.EndAt.UTC(),
		RegistrationDeadline: ne.RegistrationDeadline.UTC(),
		Duration:             ne.Duration,
		TotalScore:           total,
		PassScore:            ne.PassScore,
		RequiresApproval:     ne.RequiresApproval,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return svc.repo.CreateExam(ctx, ex, questions)
}

// Publish opens a draft exam to candidates.
func (svc *Service) Publish(ctx context.Context, examID string) (Exam, error) {
	return svc.repo.UpdateExamStatus(ctx, examID, StatusDraft, StatusPublished)
}

// Archive retires a published exam. The only mutation allowed once attempts
// exist against it.
func (svc *Service) Archive(ctx context.Context, examID string) (Exam, error) {
	return svc.repo.UpdateExamStatus(ctx, examID, StatusPublished, StatusArchived)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Exam, error) {
	return svc.repo.GetExamByID(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Exam, error) {
	filter.Clean()
	return svc.repo.QueryExams(ctx, filter)
}

// QueryPublished lists the exams open to candidates, soonest first.
func (svc *Service) QueryPublished(ctx context.Context) ([]Exam, error) {
	filter := QueryFilter{Status: StatusPublished}
	filter.Clean()
	return svc.repo.QueryExams(ctx, filter)
}

func (svc *Service) GetQuestions(ctx context.Context, examID string) ([]Question, error) {
	return svc.repo.GetExamQuestions(ctx, examID)
}

// GetRegistration returns the candidate's registration for an exam.
func (svc *Service) GetRegistration(ctx context.Context, examID, candidateID string) (Registration, error) {
	return svc.repo.GetRegistration(ctx, examID, candidateID)
}
