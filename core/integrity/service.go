package integrity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
)

var (
	// errors
	ErrAttemptNotActive = errors.New("attempt is not active")
)

type (
	Repository interface {
		// CreateViolation is append-only and safe to call concurrently.
		CreateViolation(ctx context.Context, v Violation) (Violation, error)
		QueryAttemptViolations(ctx context.Context, attemptID string) ([]Violation, error)
		CountAttemptViolations(ctx context.Context, attemptID, vtype string) (int, error)
	}

	// Service classifies client-observed events into violations and records
	// them against the attempt. It is advisory: violations never terminate an
	// attempt; only the time authority and explicit administrative action do.
	Service struct {
		repo    Repository
		attRepo attempt.Repository
		mailSvc core.EmailService
		logger  core.Logger

		NowFunc func() time.Time // mockable
	}
)

var _ attempt.ViolationRecorder = (*Service)(nil)

func NewService(repo Repository, attRepo attempt.Repository, mailSvc core.EmailService, logger core.Logger) *Service {
	return &Service{
		repo:    repo,
		attRepo: attRepo,
		mailSvc: mailSvc,
		logger:  logger,
		NowFunc: time.Now,
	}
}

// HandleEvent classifies and records a client-observed event. Events against
// an attempt that is no longer started are rejected so a closed attempt never
// accumulates violations. Recording failures are logged and swallowed: losing
// a proctoring signal must never fail the candidate's exam flow.
func (svc *Service) HandleEvent(ctx context.Context, attemptID string, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	att, err := svc.attRepo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return err
	}
	if !att.IsStarted() {
		return ErrAttemptNotActive
	}

	var switchCount int
	if e.Kind == EventVisibilityLoss {
		n, err := svc.repo.CountAttemptViolations(ctx, attemptID, TypeTabSwitch)
		if err != nil {
			svc.logger.Error("counting tab_switch violations", err)
		}
		switchCount = n + 1
	}

	svc.record(ctx, att, classify(e, switchCount))
	return nil
}

// RecordTimeOverrun records the medium violation accompanying a forced expiry.
func (svc *Service) RecordTimeOverrun(ctx context.Context, att attempt.Attempt) error {
	v := Violation{
		Type:        TypeTimeOverrun,
		Severity:    SeverityMedium,
		Description: "attempt exceeded the exam duration limit and was expired",
	}
	return svc.create(ctx, att, v)
}

// RecordInactivity records a medium violation for a prolonged activity gap.
func (svc *Service) RecordInactivity(ctx context.Context, att attempt.Attempt, idle time.Duration) {
	v := Violation{
		Type:        TypeInactivity,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("no pointer/keyboard activity for %s", idle.Round(time.Second)),
		Meta:        map[string]interface{}{"idle_seconds": int(idle.Seconds())},
	}
	svc.record(ctx, att, v)
}

// CheckDuplicateSessions records a high violation if more than one non-terminal
// attempt exists for the pair. The uniqueness constraint makes this a
// should-never-happen condition; when it does, reviewers must know.
func (svc *Service) CheckDuplicateSessions(ctx context.Context, att attempt.Attempt) {
	n, err := svc.attRepo.CountActiveAttempts(ctx, att.ExamID, att.CandidateID)
	if err != nil {
		svc.logger.Error("counting active attempts", err)
		return
	}
	if n <= 1 {
		return
	}
	v := Violation{
		Type:        TypeMultipleAttempts,
		Severity:    SeverityHigh,
		Description: fmt.Sprintf("%d concurrent non-terminal attempts found for this candidate and exam", n),
		Meta:        map[string]interface{}{"active_attempts": n},
	}
	svc.record(ctx, att, v)
}

// QueryAttempt returns the violations recorded against an attempt, for review.
func (svc *Service) QueryAttempt(ctx context.Context, attemptID string) ([]Violation, error) {
	return svc.repo.QueryAttemptViolations(ctx, attemptID)
}

// record persists a violation, swallowing failures.
func (svc *Service) record(ctx context.Context, att attempt.Attempt, v Violation) {
	if err := svc.create(ctx, att, v); err != nil {
		svc.logger.Error("recording "+v.Type+" violation", err)
	}
}

func (svc *Service) create(ctx context.Context, att attempt.Attempt, v Violation) error {
	v.AttemptID = att.ID
	v.ExamID = att.ExamID
	v.CandidateID = att.CandidateID
	v.CreatedAt = svc.NowFunc().UTC()

	created, err := svc.repo.CreateViolation(ctx, v)
	if err != nil {
		return err
	}
	if created.Severity == SeverityHigh {
		svc.notifyReviewers(created)
	}
	return nil
}

// notifyReviewers emails the proctoring review inbox about a high-severity
// violation. Fire-and-forget.
func (svc *Service) notifyReviewers(v Violation) {
	inbox := core.Conf.Exam.ReviewInbox
	if inbox == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: inbox}},
		Subject: "High-severity violation recorded",
		Body: fmt.Sprintf(
			"A %s violation was recorded against attempt %s (exam %s, candidate %s):\n\n%s",
			v.Type, v.AttemptID, v.ExamID, v.CandidateID, v.Description,
		),
	})
}
