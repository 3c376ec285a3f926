package attempt

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

var (
	// errors
	ErrNotFound         = errors.New("attempt not found")
	ErrDuplicateAttempt = errors.New("an active attempt already exists for this exam")
	ErrAlreadyStarted   = errors.New("attempt has already been started")
	ErrAlreadySubmitted = errors.New("attempt has already been submitted")
	ErrExpired          = errors.New("attempt has expired")
	ErrCancelled        = errors.New("attempt has been cancelled")
	ErrNotStarted       = errors.New("attempt has not been started")
	ErrWindowClosed     = errors.New("the exam window is closed")
	ErrNotRegistered    = errors.New("candidate is not registered for this exam")
	ErrPendingApproval  = errors.New("registration is pending approval")
	// ErrStatusChanged rejects a transition that lost a compare-and-swap race;
	// callers re-read and map it to the winner's terminal state.
	ErrStatusChanged = errors.New("attempt status changed underneath; transition rejected")
)

type (
	Repository interface {
		// CreateAttempt fails with ErrDuplicateAttempt if a non-terminal
		// attempt already exists for the (exam, candidate) pair. Enforced by a
		// uniqueness constraint, not application logic; concurrent calls yield
		// exactly one success.
		CreateAttempt(ctx context.Context, att Attempt) (Attempt, error)
		// StartAttempt compare-and-swaps assigned -> started, stamping the
		// server-side start time; ErrStatusChanged if no longer assigned.
		StartAttempt(ctx context.Context, id string, at time.Time) (Attempt, error)
		GetAttemptByID(ctx context.Context, id string) (Attempt, error)
		GetActiveAttempt(ctx context.Context, examID, candidateID string) (Attempt, error)
		CountActiveAttempts(ctx context.Context, examID, candidateID string) (int, error)
		QueryCandidateAttempts(ctx context.Context, candidateID string) ([]Attempt, error)
		// UpdateAttemptStatus compare-and-swaps the attempt status to `to`
		// provided it is currently one of `from`; ErrStatusChanged otherwise.
		UpdateAttemptStatus(ctx context.Context, id, to string, from ...string) (Attempt, error)
		// SaveSubmission transitions started -> completed and persists the
		// answer records as a single atomic step; ErrStatusChanged if the
		// attempt is no longer started.
		SaveSubmission(ctx context.Context, att Attempt, records []AnswerRecord) (Attempt, error)
		GetAnswerRecords(ctx context.Context, attemptID string) ([]AnswerRecord, error)
		// QueryOverrunAttempts returns started attempts whose elapsed time
		// exceeds their exam's duration limit at `now`.
		QueryOverrunAttempts(ctx context.Context, now time.Time) ([]Attempt, error)
	}

	// ViolationRecorder records proctoring signals against an attempt.
	// Recording failures never fail the candidate's exam flow.
	ViolationRecorder interface {
		RecordTimeOverrun(ctx context.Context, att Attempt) error
	}

	Service struct {
		repo       Repository
		examRepo   exam.Repository
		violations ViolationRecorder
		logger     core.Logger

		NowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository, examRepo exam.Repository, violations ViolationRecorder, logger core.Logger) *Service {
	return &Service{
		repo:       repo,
		examRepo:   examRepo,
		violations: violations,
		logger:     logger,
		NowFunc:    time.Now,
	}
}

// Start runs the eligibility checks and creates the sole active attempt for
// the (exam, candidate) pair, already in Started state with the server-side
// start timestamp. A concurrent duplicate fails atomically with
// ErrDuplicateAttempt; it never silently returns the existing attempt.
func (svc *Service) Start(ctx context.Context, examID, candidateID string) (Attempt, error) {
	ex, err := svc.examRepo.GetExamByID(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}
	if !ex.IsPublished() {
		return Attempt{}, exam.ErrNotPublished
	}

	now := svc.NowFunc().UTC()
	if !ex.WindowOpen(now) {
		return Attempt{}, ErrWindowClosed
	}

	reg, err := svc.examRepo.GetRegistration(ctx, examID, candidateID)
	if err != nil {
		if err == exam.ErrRegistrationNotFound {
			return Attempt{}, ErrNotRegistered
		}
		return Attempt{}, err
	}
	switch {
	case reg.IsCancelled():
		return Attempt{}, ErrNotRegistered
	case reg.IsPending():
		return Attempt{}, ErrPendingApproval
	}

	// a pre-assigned attempt is started in place; anything else active is a
	// duplicate
	if existing, err := svc.repo.GetActiveAttempt(ctx, examID, candidateID); err == nil {
		if existing.Status == StatusAssigned {
			att, err := svc.repo.StartAttempt(ctx, existing.ID, now)
			if err == ErrStatusChanged {
				return Attempt{}, ErrAlreadyStarted
			}
			return att, err
		}
		return Attempt{}, ErrDuplicateAttempt
	} else if err != ErrNotFound {
		return Attempt{}, err
	}

	att := Attempt{
		ExamID:      examID,
		CandidateID: candidateID,
		Status:      StatusStarted,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateAttempt(ctx, att)
}

// Assign pre-creates an attempt in Assigned state for a candidate, typically
// by an examiner ahead of the exam window. The uniqueness constraint applies
// to assigned attempts as well.
func (svc *Service) Assign(ctx context.Context, examID, candidateID string) (Attempt, error) {
	if _, err := svc.examRepo.GetExamByID(ctx, examID); err != nil {
		return Attempt{}, err
	}
	now := svc.NowFunc().UTC()
	att := Attempt{
		ExamID:      examID,
		CandidateID: candidateID,
		Status:      StatusAssigned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateAttempt(ctx, att)
}

// Submit grades the submission and seals the attempt. The time authority is
// consulted first: expiry always wins over a late submission. Grading failures
// propagate and leave the attempt Started so a retry is safe.
func (svc *Service) Submit(ctx context.Context, attemptID string, sub Submission) (Result, error) {
	if err := sub.Validate(); err != nil {
		return Result{}, err
	}

	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}

	ex, err := svc.examRepo.GetExamByID(ctx, att.ExamID)
	if err != nil {
		return Result{}, err
	}

	now := svc.NowFunc().UTC()
	if att.IsStarted() && att.Elapsed(now) >= ex.Duration {
		svc.expire(ctx, att)
		return Result{}, ErrExpired
	}
	if err := statusErr(att.Status); err != nil {
		return Result{}, err
	}

	questions, err := svc.examRepo.GetExamQuestions(ctx, att.ExamID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(err, "loading answer key")
	}

	records, score, correct := grade(questions, sub.Answers, now)

	att.Status = StatusCompleted
	att.SubmittedAt = now
	att.Score = score
	att.UpdatedAt = now
	att, err = svc.repo.SaveSubmission(ctx, att, records)
	if err == ErrStatusChanged {
		// lost the race; report the winner's terminal state
		if curr, gerr := svc.repo.GetAttemptByID(ctx, attemptID); gerr == nil {
			if serr := statusErr(curr.Status); serr != nil {
				return Result{}, serr
			}
		}
		return Result{}, ErrAlreadySubmitted
	}
	if err != nil {
		return Result{}, pkgerrors.Wrap(err, "saving submission")
	}

	return svc.buildResult(att, ex, records, correct, len(questions)), nil
}

// CheckTimeLimit compares elapsed time against the exam's duration limit and
// force-expires an overrun attempt. Idempotent: repeated calls after expiry
// are no-ops reporting overrun=true.
func (svc *Service) CheckTimeLimit(ctx context.Context, attemptID string) (overrun bool, err error) {
	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return false, err
	}
	if att.IsTerminal() {
		return att.Status == StatusExpired, nil
	}
	if !att.IsStarted() {
		return false, nil
	}

	ex, err := svc.examRepo.GetExamByID(ctx, att.ExamID)
	if err != nil {
		return false, err
	}
	if att.Elapsed(svc.NowFunc().UTC()) < ex.Duration {
		return false, nil
	}

	svc.expire(ctx, att)
	return true, nil
}

// expire compare-and-swaps started -> expired. Only the CAS winner records the
// time_overrun violation, so exactly one is recorded no matter how many ticks
// observe the overrun. Losing the race means another caller already expired
// (or completed) the attempt.
func (svc *Service) expire(ctx context.Context, att Attempt) {
	expired, err := svc.repo.UpdateAttemptStatus(ctx, att.ID, StatusExpired, StatusStarted)
	if err != nil {
		if err != ErrStatusChanged {
			svc.logger.Error("expiring attempt", err)
		}
		return
	}
	if err := svc.violations.RecordTimeOverrun(ctx, expired); err != nil {
		// losing a proctoring signal must never fail the exam flow
		svc.logger.Error("recording time_overrun violation", err)
	}
}

// Cancel cancels an assigned or started attempt. An attempt with submitted
// answers (i.e. a terminal one) cannot be cancelled.
func (svc *Service) Cancel(ctx context.Context, attemptID string) (Attempt, error) {
	att, err := svc.repo.UpdateAttemptStatus(ctx, attemptID, StatusCancelled, StatusAssigned, StatusStarted)
	if err == ErrStatusChanged {
		if curr, gerr := svc.repo.GetAttemptByID(ctx, attemptID); gerr == nil {
			if serr := statusErr(curr.Status); serr != nil {
				return Attempt{}, serr
			}
		}
		return Attempt{}, err
	}
	return att, err
}

func (svc *Service) GetByID(ctx context.Context, id string) (Attempt, error) {
	return svc.repo.GetAttemptByID(ctx, id)
}

func (svc *Service) QueryForCandidate(ctx context.Context, candidateID string) ([]Attempt, error) {
	return svc.repo.QueryCandidateAttempts(ctx, candidateID)
}

// Result rebuilds the graded result of a completed attempt.
func (svc *Service) Result(ctx context.Context, attemptID string) (Result, error) {
	att, err := svc.repo.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	if att.Status != StatusCompleted {
		return Result{}, ErrNotStarted
	}

	ex, err := svc.examRepo.GetExamByID(ctx, att.ExamID)
	if err != nil {
		return Result{}, err
	}
	records, err := svc.repo.GetAnswerRecords(ctx, attemptID)
	if err != nil {
		return Result{}, err
	}
	questions, err := svc.examRepo.GetExamQuestions(ctx, att.ExamID)
	if err != nil {
		return Result{}, err
	}

	var correct int
	for _, rec := range records {
		if rec.Correct {
			correct++
		}
	}
	return svc.buildResult(att, ex, records, correct, len(questions)), nil
}

// SweepOverrun force-expires every started attempt past its duration limit.
// Run by the admin CLI and safe to run repeatedly.
func (svc *Service) SweepOverrun(ctx context.Context) (int, error) {
	atts, err := svc.repo.QueryOverrunAttempts(ctx, svc.NowFunc().UTC())
	if err != nil {
		return 0, err
	}
	for _, att := range atts {
		svc.expire(ctx, att)
	}
	return len(atts), nil
}

func (svc *Service) buildResult(att Attempt, ex exam.Exam, records []AnswerRecord, correct, totalQuestions int) Result {
	var pct float64
	if totalQuestions > 0 {
		pct = float64(correct) / float64(totalQuestions) * 100
	}
	return Result{
		AttemptID:      att.ID,
		Score:          att.Score,
		TotalScore:     ex.TotalScore,
		CorrectCount:   correct,
		TotalQuestions: totalQuestions,
		Percentage:     pct,
		Passed:         att.Score >= ex.PassScore,
		Breakdown:      records,
	}
}

// statusErr maps a terminal/pre-start status to its caller-facing error;
// nil for started.
func statusErr(status string) error {
	switch status {
	case StatusCompleted:
		return ErrAlreadySubmitted
	case StatusExpired:
		return ErrExpired
	case StatusCancelled:
		return ErrCancelled
	case StatusAssigned:
		return ErrNotStarted
	}
	return nil
}
