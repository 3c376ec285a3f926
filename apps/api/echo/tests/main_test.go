package tests

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	. "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	inmemdb "github.com/trezcool/mtihani/storage/database/inmem"
	testutil "github.com/trezcool/mtihani/tests"
)

var (
	app Server

	examRepo      exam.Repository
	attRepo       attempt.Repository
	violationRepo integrity.Repository

	examSvc      *exam.Service
	attemptSvc   *attempt.Service
	integritySvc *integrity.Service
	monitor      *integrity.Monitor

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func TestMain(m *testing.M) {
	core.Conf.Debug = false
	core.Conf.TestMode = true

	// set up DB & repos
	db := inmemdb.NewDB()
	examRepo = inmemdb.NewExamRepository(db)
	attRepo = inmemdb.NewAttemptRepository(db)
	violationRepo = inmemdb.NewViolationRepository(db)

	// set up services
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags))
	logger.Enable(false)
	mailSvc := emailsvc.NewConsoleServiceMock()
	examSvc = exam.NewService(examRepo, mailSvc, logger)
	integritySvc = integrity.NewService(violationRepo, attRepo, mailSvc, logger)
	attemptSvc = attempt.NewService(attRepo, examRepo, integritySvc, logger)
	monitor = integrity.NewMonitor(integritySvc, attemptSvc, logger, core.Conf)

	// set up server
	app = NewServer(
		"",  /* addr */
		nil, /* shutdown */
		&Deps{
			Logger:       logger,
			ExamSvc:      examSvc,
			AttemptSvc:   attemptSvc,
			IntegritySvc: integritySvc,
			Monitor:      monitor,
		},
	)

	os.Exit(m.Run())
}

type httpErr struct {
	Error string `json:"error"`
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, candidateID string, roles ...string) string {
	t.Helper()
	claims := GetCandidateClaims(candidateID, candidateID, candidateID+"@test.test", roles...)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj(): %v", err)
	}
	return data
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decodeBody(): %v; body = %s", err, rec.Body.String())
	}
}

func checkCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("failed! code = %v; wantCode %v; body = %s", rec.Code, want, rec.Body.String())
	}
}

func checkError(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, wantErr string) {
	t.Helper()
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body = %s", rec.Code, wantCode, rec.Body.String())
	}
	var got httpErr
	decodeBody(t, rec, &got)
	if got.Error != wantErr {
		t.Errorf("failed! error mismatch:\n%s", testutil.Diff(wantErr, got.Error))
	}
}
