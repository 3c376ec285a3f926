package integrity_test

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
	emailsvc "github.com/trezcool/mtihani/services/email"
	inmemdb "github.com/trezcool/mtihani/storage/database/inmem"
	testutil "github.com/trezcool/mtihani/tests"
)

func setup(t *testing.T) (*integrity.Service, exam.Repository, attempt.Repository, integrity.Repository) {
	db := inmemdb.NewDB()
	examRepo := inmemdb.NewExamRepository(db)
	attRepo := inmemdb.NewAttemptRepository(db)
	violationRepo := inmemdb.NewViolationRepository(db)
	svc := integrity.NewService(violationRepo, attRepo, emailsvc.NewConsoleServiceMock(), testutil.NewLogger(t))
	return svc, examRepo, attRepo, violationRepo
}

func startedAttempt(t *testing.T, examRepo exam.Repository, attRepo attempt.Repository, candidateID string) attempt.Attempt {
	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, nil)
	return testutil.CreateAttempt(t, attRepo, ex.ID, candidateID, attempt.StatusStarted)
}

func TestService_HandleEvent_tabSwitchEscalation(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	att := startedAttempt(t, examRepo, attRepo, "cand")

	wantSeverities := []string{
		integrity.SeverityLow,
		integrity.SeverityLow,
		integrity.SeverityMedium,
		integrity.SeverityMedium,
		integrity.SeverityHigh,
		integrity.SeverityHigh,
	}
	for i := range wantSeverities {
		if err := svc.HandleEvent(ctx, att.ID, integrity.Event{Kind: integrity.EventVisibilityLoss}); err != nil {
			t.Fatalf("HandleEvent(#%d) error = %v", i+1, err)
		}
	}

	violations, err := svc.QueryAttempt(ctx, att.ID)
	if err != nil {
		t.Fatalf("QueryAttempt() error = %v", err)
	}
	if len(violations) != len(wantSeverities) {
		t.Fatalf("QueryAttempt() = %d violations, want %d", len(violations), len(wantSeverities))
	}
	for i, v := range violations {
		if v.Type != integrity.TypeTabSwitch {
			t.Errorf("violation #%d type = %q, want %q", i+1, v.Type, integrity.TypeTabSwitch)
		}
		if v.Severity != wantSeverities[i] {
			t.Errorf("violation #%d severity = %q, want %q", i+1, v.Severity, wantSeverities[i])
		}
		// the cumulative count rides along in the metadata
		if got, ok := v.Meta["count"].(int); !ok || got != i+1 {
			t.Errorf("violation #%d meta count = %v, want %d", i+1, v.Meta["count"], i+1)
		}
		if v.AttemptID != att.ID || v.ExamID != att.ExamID || v.CandidateID != att.CandidateID {
			t.Errorf("violation #%d not tied to the attempt: %+v", i+1, v)
		}
	}
}

func TestService_HandleEvent_clipboardAndContextMenu(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	att := startedAttempt(t, examRepo, attRepo, "cand")

	if err := svc.HandleEvent(ctx, att.ID, integrity.Event{Kind: integrity.EventContextMenu}); err != nil {
		t.Fatalf("HandleEvent(context_menu) error = %v", err)
	}
	if err := svc.HandleEvent(ctx, att.ID, integrity.Event{Kind: integrity.EventClipboard, Operation: integrity.OpPaste}); err != nil {
		t.Fatalf("HandleEvent(clipboard) error = %v", err)
	}

	violations, err := svc.QueryAttempt(ctx, att.ID)
	if err != nil {
		t.Fatalf("QueryAttempt() error = %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("QueryAttempt() = %d violations, want 2", len(violations))
	}
	if violations[0].Type != integrity.TypeRightClick || violations[0].Severity != integrity.SeverityMedium {
		t.Errorf("violation #1 = (%q, %q), want (right_click, medium)", violations[0].Type, violations[0].Severity)
	}
	if violations[1].Type != integrity.TypeCopyPaste || violations[1].Severity != integrity.SeverityMedium {
		t.Errorf("violation #2 = (%q, %q), want (copy_paste, medium)", violations[1].Type, violations[1].Severity)
	}
	if op := violations[1].Meta["operation"]; op != integrity.OpPaste {
		t.Errorf("violation #2 meta operation = %v, want %q", op, integrity.OpPaste)
	}
}

func TestService_HandleEvent_rejectsInactiveAttempts(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, nil)

	for _, status := range []string{attempt.StatusAssigned, attempt.StatusCompleted, attempt.StatusExpired, attempt.StatusCancelled} {
		att := testutil.CreateAttempt(t, attRepo, ex.ID, "cand-"+status, status)
		err := svc.HandleEvent(ctx, att.ID, integrity.Event{Kind: integrity.EventVisibilityLoss})
		if err != integrity.ErrAttemptNotActive {
			t.Errorf("HandleEvent(%s) error = %v, want %v", status, err, integrity.ErrAttemptNotActive)
		}
		if violations, _ := svc.QueryAttempt(ctx, att.ID); len(violations) != 0 {
			t.Errorf("HandleEvent(%s) recorded %d violations against a closed attempt", status, len(violations))
		}
	}

	if err := svc.HandleEvent(ctx, "nope", integrity.Event{Kind: integrity.EventVisibilityLoss}); err != attempt.ErrNotFound {
		t.Errorf("HandleEvent(unknown) error = %v, want %v", err, attempt.ErrNotFound)
	}
}

func TestService_HandleEvent_invalidEvent(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	att := startedAttempt(t, examRepo, attRepo, "cand")

	if err := svc.HandleEvent(ctx, att.ID, integrity.Event{Kind: integrity.EventClipboard}); err == nil {
		t.Error("HandleEvent() accepted a clipboard event without an operation")
	}
	if violations, _ := svc.QueryAttempt(ctx, att.ID); len(violations) != 0 {
		t.Errorf("HandleEvent() recorded %d violations for an invalid event", len(violations))
	}
}

func TestService_RecordTimeOverrun(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	att := startedAttempt(t, examRepo, attRepo, "cand")

	if err := svc.RecordTimeOverrun(ctx, att); err != nil {
		t.Fatalf("RecordTimeOverrun() error = %v", err)
	}

	violations, err := svc.QueryAttempt(ctx, att.ID)
	if err != nil {
		t.Fatalf("QueryAttempt() error = %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("QueryAttempt() = %d violations, want 1", len(violations))
	}
	if violations[0].Type != integrity.TypeTimeOverrun || violations[0].Severity != integrity.SeverityMedium {
		t.Errorf("violation = (%q, %q), want (time_overrun, medium)", violations[0].Type, violations[0].Severity)
	}
}

// dupSessionsRepo simulates the should-never-happen case of more than one
// non-terminal attempt slipping past the uniqueness constraint.
type dupSessionsRepo struct {
	attempt.Repository
}

func (dupSessionsRepo) CountActiveAttempts(context.Context, string, string) (int, error) {
	return 2, nil
}

func TestService_CheckDuplicateSessions(t *testing.T) {
	db := inmemdb.NewDB()
	examRepo := inmemdb.NewExamRepository(db)
	attRepo := inmemdb.NewAttemptRepository(db)
	violationRepo := inmemdb.NewViolationRepository(db)
	ctx := context.Background()

	// single active attempt: nothing to report
	svc := integrity.NewService(violationRepo, attRepo, emailsvc.NewConsoleServiceMock(), testutil.NewLogger(t))
	att := startedAttempt(t, examRepo, attRepo, "cand")
	svc.CheckDuplicateSessions(ctx, att)
	if violations, _ := svc.QueryAttempt(ctx, att.ID); len(violations) != 0 {
		t.Errorf("CheckDuplicateSessions() recorded %d violations for a single session", len(violations))
	}

	// duplicate sessions: a high violation is recorded
	svc = integrity.NewService(violationRepo, dupSessionsRepo{attRepo}, emailsvc.NewConsoleServiceMock(), testutil.NewLogger(t))
	svc.CheckDuplicateSessions(ctx, att)
	violations, _ := svc.QueryAttempt(ctx, att.ID)
	if len(violations) != 1 {
		t.Fatalf("CheckDuplicateSessions() = %d violations, want 1", len(violations))
	}
	if violations[0].Type != integrity.TypeMultipleAttempts || violations[0].Severity != integrity.SeverityHigh {
		t.Errorf("violation = (%q, %q), want (multiple_attempts, high)", violations[0].Type, violations[0].Severity)
	}
}
