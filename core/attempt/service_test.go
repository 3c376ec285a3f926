package attempt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	inmemdb "github.com/trezcool/mtihani/storage/database/inmem"
	testutil "github.com/trezcool/mtihani/tests"
)

// recorderSpy counts recorded time_overrun violations per attempt.
type recorderSpy struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorderSpy) RecordTimeOverrun(_ context.Context, att attempt.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[att.ID]++
	return nil
}

func (r *recorderSpy) count(attemptID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[attemptID]
}

func setup(t *testing.T) (*attempt.Service, exam.Repository, attempt.Repository, *recorderSpy) {
	db := inmemdb.NewDB()
	examRepo := inmemdb.NewExamRepository(db)
	attRepo := inmemdb.NewAttemptRepository(db)
	spy := &recorderSpy{}
	svc := attempt.NewService(attRepo, examRepo, spy, testutil.NewLogger(t))
	return svc, examRepo, attRepo, spy
}

// tenQuestions builds a 10-question single-choice key worth 10 points each.
func tenQuestions() []exam.Question {
	questions := make([]exam.Question, 0, 10)
	for i := 0; i < 10; i++ {
		questions = append(questions, exam.Question{
			Type:     exam.QuestionSingleChoice,
			Prompt:   "pick A",
			Choices:  []string{"A", "B"},
			Correct:  []string{"A"},
			Score:    10,
			Position: i + 1,
		})
	}
	return questions
}

func answersFor(questions []exam.Question, correct int) []attempt.Answer {
	answers := make([]attempt.Answer, 0, len(questions))
	for i, q := range questions {
		val := "A"
		if i >= correct {
			val = "B"
		}
		answers = append(answers, attempt.Answer{QuestionID: q.ID, Values: []string{val}})
	}
	return answers
}

func TestService_Start_eligibility(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	draft := testutil.CreateExam(t, examRepo, "Draft", time.Hour, 50, false, tenQuestions())
	closed := testutil.CreateExam(t, examRepo, "Closed", time.Hour, 50, false, tenQuestions(), time.Now().Add(-48*time.Hour))
	if _, err := examRepo.UpdateExamStatus(ctx, closed.ID, exam.StatusDraft, exam.StatusPublished); err != nil {
		t.Fatalf("publishing exam: %v", err)
	}
	open := testutil.CreatePublishedExam(t, examRepo, "Open", time.Hour, 50, tenQuestions())

	testutil.CreateRegistration(t, examRepo, closed.ID, "cand", exam.RegistrationApproved)
	testutil.CreateRegistration(t, examRepo, open.ID, "pending-cand", exam.RegistrationPending)
	testutil.CreateRegistration(t, examRepo, open.ID, "gone-cand", exam.RegistrationCancelled)
	testutil.CreateRegistration(t, examRepo, open.ID, "cand", exam.RegistrationApproved)
	testutil.CreateRegistration(t, examRepo, open.ID, "busy-cand", exam.RegistrationApproved)
	testutil.CreateAttempt(t, attRepo, open.ID, "busy-cand", attempt.StatusStarted)

	tests := []struct {
		name        string
		examID      string
		candidateID string
		wantErr     error
	}{
		{name: "unknown exam", examID: "nope", candidateID: "cand", wantErr: exam.ErrNotFound},
		// the published check fires before the registration check
		{name: "draft exam", examID: draft.ID, candidateID: "cand", wantErr: exam.ErrNotPublished},
		{name: "window closed", examID: closed.ID, candidateID: "cand", wantErr: attempt.ErrWindowClosed},
		{name: "not registered", examID: open.ID, candidateID: "stranger", wantErr: attempt.ErrNotRegistered},
		{name: "cancelled registration", examID: open.ID, candidateID: "gone-cand", wantErr: attempt.ErrNotRegistered},
		{name: "pending approval", examID: open.ID, candidateID: "pending-cand", wantErr: attempt.ErrPendingApproval},
		{name: "active attempt exists", examID: open.ID, candidateID: "busy-cand", wantErr: attempt.ErrDuplicateAttempt},
		{name: "eligible", examID: open.ID, candidateID: "cand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := svc.Start(ctx, tt.examID, tt.candidateID)
			if err != tt.wantErr {
				t.Fatalf("Start() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				if att.Status != attempt.StatusStarted {
					t.Errorf("Start() status = %q, want %q", att.Status, attempt.StatusStarted)
				}
				if att.StartedAt.IsZero() {
					t.Error("Start() did not stamp StartedAt")
				}
			}
		})
	}
}

func TestService_Start_assignedAttemptIsStartedInPlace(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())
	testutil.CreateRegistration(t, examRepo, ex.ID, "cand", exam.RegistrationApproved)
	assigned := testutil.CreateAttempt(t, attRepo, ex.ID, "cand", attempt.StatusAssigned)

	att, err := svc.Start(ctx, ex.ID, "cand")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if att.ID != assigned.ID {
		t.Errorf("Start() created a new attempt %s, want assigned %s started in place", att.ID, assigned.ID)
	}
	if att.Status != attempt.StatusStarted {
		t.Errorf("Start() status = %q, want %q", att.Status, attempt.StatusStarted)
	}

	// a second start of the now-started attempt is a duplicate
	if _, err = svc.Start(ctx, ex.ID, "cand"); err != attempt.ErrDuplicateAttempt {
		t.Errorf("Start() error = %v, want %v", err, attempt.ErrDuplicateAttempt)
	}
}

func TestService_Start_concurrent(t *testing.T) {
	svc, examRepo, _, _ := setup(t)

	ex := testutil.CreatePublishedExam(t, examRepo, "Race", time.Hour, 50, tenQuestions())
	testutil.CreateRegistration(t, examRepo, ex.ID, "cand", exam.RegistrationApproved)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(context.Background(), ex.ID, "cand")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch err {
		case nil:
			won++
		case attempt.ErrDuplicateAttempt, attempt.ErrAlreadyStarted:
			lost++
		default:
			t.Errorf("Start() unexpected error = %v", err)
		}
	}
	if won != 1 {
		t.Errorf("Start() winners = %d, want exactly 1", won)
	}
	if lost != n-1 {
		t.Errorf("Start() losers = %d, want %d", lost, n-1)
	}
}

func TestService_Submit(t *testing.T) {
	svc, examRepo, _, _ := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())
	testutil.CreateRegistration(t, examRepo, ex.ID, "cand", exam.RegistrationApproved)
	questions, err := examRepo.GetExamQuestions(ctx, ex.ID)
	if err != nil {
		t.Fatalf("GetExamQuestions(): %v", err)
	}

	t0 := time.Now().UTC()
	svc.NowFunc = func() time.Time { return t0 }

	att, err := svc.Start(ctx, ex.ID, "cand")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// submit 30 minutes in, 8 of 10 correct
	svc.NowFunc = func() time.Time { return t0.Add(30 * time.Minute) }
	res, err := svc.Submit(ctx, att.ID, attempt.Submission{Answers: answersFor(questions, 8)})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Score != 80 {
		t.Errorf("Submit() score = %d, want 80", res.Score)
	}
	if res.CorrectCount != 8 || res.TotalQuestions != 10 {
		t.Errorf("Submit() correct = %d/%d, want 8/10", res.CorrectCount, res.TotalQuestions)
	}
	if res.Percentage != 80 {
		t.Errorf("Submit() percentage = %v, want 80", res.Percentage)
	}
	if !res.Passed {
		t.Error("Submit() passed = false, want true")
	}
	if len(res.Breakdown) != 10 {
		t.Errorf("Submit() breakdown = %d records, want 10", len(res.Breakdown))
	}

	// the completed attempt rejects a re-submission
	if _, err = svc.Submit(ctx, att.ID, attempt.Submission{Answers: answersFor(questions, 10)}); err != attempt.ErrAlreadySubmitted {
		t.Errorf("Submit() error = %v, want %v", err, attempt.ErrAlreadySubmitted)
	}

	// the stored result matches the graded one
	got, err := svc.Result(ctx, att.ID)
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if got.Score != res.Score || got.CorrectCount != res.CorrectCount || got.Percentage != res.Percentage {
		t.Errorf("Result() = %+v, want %+v", got, res)
	}
}

func TestService_Submit_expiryWins(t *testing.T) {
	svc, examRepo, _, spy := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())
	testutil.CreateRegistration(t, examRepo, ex.ID, "cand", exam.RegistrationApproved)
	questions, _ := examRepo.GetExamQuestions(ctx, ex.ID)

	t0 := time.Now().UTC()
	svc.NowFunc = func() time.Time { return t0 }
	att, err := svc.Start(ctx, ex.ID, "cand")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// a perfect submission 1 minute past the limit is still rejected
	svc.NowFunc = func() time.Time { return t0.Add(61 * time.Minute) }
	if _, err = svc.Submit(ctx, att.ID, attempt.Submission{Answers: answersFor(questions, 10)}); err != attempt.ErrExpired {
		t.Fatalf("Submit() error = %v, want %v", err, attempt.ErrExpired)
	}

	att, err = svc.GetByID(ctx, att.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if att.Status != attempt.StatusExpired {
		t.Errorf("status = %q, want %q", att.Status, attempt.StatusExpired)
	}
	if n := spy.count(att.ID); n != 1 {
		t.Errorf("time_overrun violations = %d, want 1", n)
	}

	// subsequent submissions keep reporting expiry
	if _, err = svc.Submit(ctx, att.ID, attempt.Submission{Answers: answersFor(questions, 10)}); err != attempt.ErrExpired {
		t.Errorf("Submit() error = %v, want %v", err, attempt.ErrExpired)
	}
	if n := spy.count(att.ID); n != 1 {
		t.Errorf("time_overrun violations = %d, want 1", n)
	}
}

func TestService_CheckTimeLimit_idempotent(t *testing.T) {
	svc, examRepo, _, spy := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())
	testutil.CreateRegistration(t, examRepo, ex.ID, "cand", exam.RegistrationApproved)

	t0 := time.Now().UTC()
	svc.NowFunc = func() time.Time { return t0 }
	att, err := svc.Start(ctx, ex.ID, "cand")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// within the limit: no-op
	svc.NowFunc = func() time.Time { return t0.Add(59 * time.Minute) }
	if overrun, err := svc.CheckTimeLimit(ctx, att.ID); err != nil || overrun {
		t.Fatalf("CheckTimeLimit() = (%v, %v), want (false, nil)", overrun, err)
	}

	// past the limit: expires once, then keeps reporting overrun
	svc.NowFunc = func() time.Time { return t0.Add(61 * time.Minute) }
	for i := 0; i < 5; i++ {
		overrun, err := svc.CheckTimeLimit(ctx, att.ID)
		if err != nil {
			t.Fatalf("CheckTimeLimit() error = %v", err)
		}
		if !overrun {
			t.Error("CheckTimeLimit() overrun = false, want true")
		}
	}
	if n := spy.count(att.ID); n != 1 {
		t.Errorf("time_overrun violations = %d, want exactly 1", n)
	}

	att, _ = svc.GetByID(ctx, att.ID)
	if att.Status != attempt.StatusExpired {
		t.Errorf("status = %q, want %q", att.Status, attempt.StatusExpired)
	}
}

func TestService_Cancel(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())

	assigned := testutil.CreateAttempt(t, attRepo, ex.ID, "a", attempt.StatusAssigned)
	if att, err := svc.Cancel(ctx, assigned.ID); err != nil || att.Status != attempt.StatusCancelled {
		t.Errorf("Cancel(assigned) = (%q, %v), want (cancelled, nil)", att.Status, err)
	}

	started := testutil.CreateAttempt(t, attRepo, ex.ID, "b", attempt.StatusStarted)
	if att, err := svc.Cancel(ctx, started.ID); err != nil || att.Status != attempt.StatusCancelled {
		t.Errorf("Cancel(started) = (%q, %v), want (cancelled, nil)", att.Status, err)
	}

	// terminal attempts cannot be cancelled
	if _, err := svc.Cancel(ctx, started.ID); err != attempt.ErrCancelled {
		t.Errorf("Cancel(cancelled) error = %v, want %v", err, attempt.ErrCancelled)
	}
	if _, err := svc.Cancel(ctx, "nope"); err != attempt.ErrNotFound {
		t.Errorf("Cancel(unknown) error = %v, want %v", err, attempt.ErrNotFound)
	}

	// a cancelled attempt rejects submissions
	questions, _ := examRepo.GetExamQuestions(ctx, ex.ID)
	if _, err := svc.Submit(ctx, started.ID, attempt.Submission{Answers: answersFor(questions, 10)}); err != attempt.ErrCancelled {
		t.Errorf("Submit(cancelled) error = %v, want %v", err, attempt.ErrCancelled)
	}
}

func TestService_Result_requiresCompletion(t *testing.T) {
	svc, examRepo, attRepo, _ := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())
	att := testutil.CreateAttempt(t, attRepo, ex.ID, "cand", attempt.StatusStarted)

	if _, err := svc.Result(ctx, att.ID); err != attempt.ErrNotStarted {
		t.Errorf("Result() error = %v, want %v", err, attempt.ErrNotStarted)
	}
}

func TestService_SweepOverrun(t *testing.T) {
	svc, examRepo, attRepo, spy := setup(t)
	ctx := context.Background()

	ex := testutil.CreatePublishedExam(t, examRepo, "Algebra", time.Hour, 50, tenQuestions())

	t0 := time.Now().UTC()
	late1 := testutil.CreateAttempt(t, attRepo, ex.ID, "a", attempt.StatusStarted, t0.Add(-2*time.Hour))
	late2 := testutil.CreateAttempt(t, attRepo, ex.ID, "b", attempt.StatusStarted, t0.Add(-90*time.Minute))
	fresh := testutil.CreateAttempt(t, attRepo, ex.ID, "c", attempt.StatusStarted, t0.Add(-5*time.Minute))

	n, err := svc.SweepOverrun(ctx)
	if err != nil {
		t.Fatalf("SweepOverrun() error = %v", err)
	}
	if n != 2 {
		t.Errorf("SweepOverrun() = %d, want 2", n)
	}
	for _, id := range []string{late1.ID, late2.ID} {
		att, _ := svc.GetByID(ctx, id)
		if att.Status != attempt.StatusExpired {
			t.Errorf("attempt %s status = %q, want %q", id, att.Status, attempt.StatusExpired)
		}
		if c := spy.count(id); c != 1 {
			t.Errorf("attempt %s time_overrun violations = %d, want 1", id, c)
		}
	}
	if att, _ := svc.GetByID(ctx, fresh.ID); att.Status != attempt.StatusStarted {
		t.Errorf("fresh attempt status = %q, want %q", att.Status, attempt.StatusStarted)
	}

	// a second sweep finds nothing
	if n, err = svc.SweepOverrun(ctx); err != nil || n != 0 {
		t.Errorf("SweepOverrun() = (%d, %v), want (0, nil)", n, err)
	}
}
