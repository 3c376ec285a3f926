package tests

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
	testutil "github.com/trezcool/mtihani/tests"
)

type startResponse struct {
	Attempt   attempt.Attempt `json:"attempt"`
	Questions []exam.Question `json:"questions"`
}

// questionByType indexes the served questions by type; the fixture has one of
// each.
func questionByType(t *testing.T, questions []exam.Question) map[string]exam.Question {
	t.Helper()
	byType := make(map[string]exam.Question, len(questions))
	for _, q := range questions {
		byType[q.Type] = q
	}
	return byType
}

func TestAttemptAPI_flow(t *testing.T) {
	ex := testutil.CreatePublishedExam(t, examRepo, "Flow: Geography", time.Hour, 40, testutil.Questions())
	token := getToken(t, "flow-cand")

	// authentication is required
	req, rec := newRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/attempts")
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusUnauthorized, errMissingToken.Error)

	// registration is required
	req, rec = newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/attempts", token)
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusForbidden, "candidate is not registered for this exam")

	testutil.CreateRegistration(t, examRepo, ex.ID, "flow-cand", exam.RegistrationApproved)

	// start
	req, rec = newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/attempts", token)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusCreated)

	// the answer key never leaves the server
	if bytes.Contains(rec.Body.Bytes(), []byte(`"correct"`)) {
		t.Fatal("start() leaked the answer key")
	}

	var started startResponse
	decodeBody(t, rec, &started)
	if started.Attempt.Status != attempt.StatusStarted {
		t.Fatalf("start() status = %q, want %q", started.Attempt.Status, attempt.StatusStarted)
	}
	if len(started.Questions) != 5 {
		t.Fatalf("start() served %d questions, want 5", len(started.Questions))
	}
	attID := started.Attempt.ID

	// a second start conflicts
	req, rec = newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/attempts", token)
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusConflict, "an active attempt already exists for this exam")

	// other candidates cannot peek at the attempt
	req, rec = newAuthRequest(http.MethodGet, "/v1/attempts/"+attID, getToken(t, "flow-other"))
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusForbidden, "permission denied")

	// heartbeat keeps the session alive
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+attID+"/heartbeat", token)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusOK)
	var hb struct {
		Status  string `json:"status"`
		Overrun bool   `json:"overrun"`
	}
	decodeBody(t, rec, &hb)
	if hb.Status != attempt.StatusStarted || hb.Overrun {
		t.Errorf("heartbeat() = (%q, %v), want (started, false)", hb.Status, hb.Overrun)
	}

	// proctoring events are accepted and classified
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+attID+"/events", token,
		marshallObj(t, integrity.Event{Kind: integrity.EventVisibilityLoss}))
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusAccepted)

	// an incomplete clipboard event is rejected
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+attID+"/events", token,
		marshallObj(t, integrity.Event{Kind: integrity.EventClipboard}))
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusBadRequest)

	// candidates cannot review violations
	req, rec = newAuthRequest(http.MethodGet, "/v1/attempts/"+attID+"/violations", token)
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusForbidden, "permission denied")

	// examiners can
	req, rec = newAuthRequest(http.MethodGet, "/v1/attempts/"+attID+"/violations", getToken(t, "flow-examiner", echoapi.RoleExaminer))
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusOK)
	var violations []integrity.Violation
	decodeBody(t, rec, &violations)
	if assert.Len(t, violations, 1) {
		assert.Equal(t, integrity.TypeTabSwitch, violations[0].Type)
		assert.Equal(t, integrity.SeverityLow, violations[0].Severity)
	}

	// submit: 4 of 5 gradable answers correct (the essay is never auto-graded)
	byType := questionByType(t, started.Questions)
	sub := attempt.Submission{Answers: []attempt.Answer{
		{QuestionID: byType[exam.QuestionSingleChoice].ID, Values: []string{"Nairobi"}},
		{QuestionID: byType[exam.QuestionMultipleChoice].ID, Values: []string{"3", "2"}},
		{QuestionID: byType[exam.QuestionTrueFalse].ID, Values: []string{"false"}},
		{QuestionID: byType[exam.QuestionFillBlank].ID, Values: []string{" water "}},
		{QuestionID: byType[exam.QuestionEssay].ID, Values: []string{"a thoughtful essay"}},
	}}
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+attID+"/submit", token, marshallObj(t, sub))
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusOK)

	var res attempt.Result
	decodeBody(t, rec, &res)
	if res.Score != 40 || res.CorrectCount != 4 || res.TotalQuestions != 5 {
		t.Errorf("submit() = score %d, %d/%d correct; want 40, 4/5", res.Score, res.CorrectCount, res.TotalQuestions)
	}
	if res.Percentage != 80 {
		t.Errorf("submit() percentage = %v, want 80", res.Percentage)
	}
	if !res.Passed {
		t.Error("submit() passed = false, want true")
	}

	// the completed attempt rejects a re-submission
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+attID+"/submit", token, marshallObj(t, sub))
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusConflict, "attempt has already been submitted")

	// and rejects further proctoring events
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+attID+"/events", token,
		marshallObj(t, integrity.Event{Kind: integrity.EventContextMenu}))
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusBadRequest, "attempt is not active")

	// the stored result remains readable
	req, rec = newAuthRequest(http.MethodGet, "/v1/attempts/"+attID+"/result", token)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusOK)
	decodeBody(t, rec, &res)
	if res.Score != 40 || res.CorrectCount != 4 {
		t.Errorf("result() = score %d, correct %d; want 40, 4", res.Score, res.CorrectCount)
	}

	// the attempt shows up in the candidate's history
	req, rec = newAuthRequest(http.MethodGet, "/v1/attempts", token)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusOK)
	var atts []attempt.Attempt
	decodeBody(t, rec, &atts)
	if len(atts) != 1 || atts[0].ID != attID || atts[0].Status != attempt.StatusCompleted {
		t.Errorf("list() = %+v, want the completed attempt", atts)
	}
}

func TestAttemptAPI_assignAndCancel(t *testing.T) {
	ex := testutil.CreatePublishedExam(t, examRepo, "Assign: History", time.Hour, 40, testutil.Questions())
	testutil.CreateRegistration(t, examRepo, ex.ID, "asg-cand", exam.RegistrationApproved)
	examinerToken := getToken(t, "asg-examiner", echoapi.RoleExaminer)

	// candidates cannot assign attempts
	body := marshallObj(t, map[string]string{"candidate_id": "asg-cand"})
	req, rec := newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/assignments", getToken(t, "asg-cand"), body)
	app.ServeHTTP(rec, req)
	checkError(t, rec, http.StatusForbidden, "permission denied")

	req, rec = newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/assignments", examinerToken, body)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusCreated)

	var att attempt.Attempt
	decodeBody(t, rec, &att)
	if att.Status != attempt.StatusAssigned {
		t.Fatalf("assign() status = %q, want %q", att.Status, attempt.StatusAssigned)
	}

	// starting claims the assigned attempt
	req, rec = newAuthRequest(http.MethodPost, "/v1/exams/"+ex.ID+"/attempts", getToken(t, "asg-cand"))
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusCreated)
	var started startResponse
	decodeBody(t, rec, &started)
	if started.Attempt.ID != att.ID || started.Attempt.Status != attempt.StatusStarted {
		t.Errorf("start() = (%s, %q), want the assigned attempt started", started.Attempt.ID, started.Attempt.Status)
	}

	// examiners may cancel a running attempt
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+att.ID+"/cancel", examinerToken)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusOK)
	decodeBody(t, rec, &att)
	if att.Status != attempt.StatusCancelled {
		t.Errorf("cancel() status = %q, want %q", att.Status, attempt.StatusCancelled)
	}

	// a cancelled attempt cannot be cancelled again
	req, rec = newAuthRequest(http.MethodPost, "/v1/attempts/"+att.ID+"/cancel", examinerToken)
	app.ServeHTTP(rec, req)
	checkCode(t, rec, http.StatusConflict)
}
