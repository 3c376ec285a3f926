package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
)

type attemptApi struct {
	svc          *attempt.Service
	examSvc      *exam.Service
	integritySvc *integrity.Service
	monitor      *integrity.Monitor
}

func registerAttemptAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := attemptApi{
		svc:          deps.AttemptSvc,
		examSvc:      deps.ExamSvc,
		integritySvc: deps.IntegritySvc,
		monitor:      deps.Monitor,
	}

	g.POST("/exams/:id/attempts", api.start, jwt)
	g.POST("/exams/:id/assignments", api.assign, jwt, examinerMiddleware())

	ag := g.Group("/attempts", jwt)
	ag.GET("", api.list)
	ag.GET("/:id", api.retrieve)
	ag.POST("/:id/submit", api.submit)
	ag.POST("/:id/heartbeat", api.heartbeat)
	ag.POST("/:id/events", api.reportEvent)
	ag.GET("/:id/result", api.result)
	ag.GET("/:id/violations", api.violations, examinerMiddleware())
	ag.POST("/:id/cancel", api.cancel, examinerMiddleware())
}

type startAttemptResponse struct {
	Attempt   attempt.Attempt `json:"attempt"`
	Questions []exam.Question `json:"questions"`
}

// start begins (or resumes a pre-assigned) attempt for the authenticated
// candidate and registers it with the integrity monitor. The answer key is
// never serialized.
func (api attemptApi) start(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()

	att, err := api.svc.Start(reqCtx, ctx.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	api.monitor.Watch(att)

	questions, err := api.examSvc.GetQuestions(reqCtx, att.ExamID)
	if err != nil {
		return errors.Wrap(err, "loading questions")
	}
	return ctx.JSON(http.StatusCreated, startAttemptResponse{Attempt: att, Questions: questions})
}

type assignAttemptRequest struct {
	CandidateID string `json:"candidate_id" validate:"required"`
}

// assign pre-creates an assigned attempt for a candidate. Examiner path.
func (api attemptApi) assign(ctx echo.Context) error {
	var req assignAttemptRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding assignment")
	}
	if err := core.Validate.Struct(&req); err != nil {
		return err
	}
	req.CandidateID = core.CleanString(req.CandidateID)

	att, err := api.svc.Assign(ctx.Request().Context(), ctx.Param("id"), req.CandidateID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, att)
}

func (api attemptApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	atts, err := api.svc.QueryForCandidate(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, atts)
}

func (api attemptApi) retrieve(ctx echo.Context) error {
	att, err := api.getOwned(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, att)
}

// submit grades the candidate's answers and seals the attempt. The monitor
// session is released once the attempt reaches a terminal state.
func (api attemptApi) submit(ctx echo.Context) error {
	att, err := api.getOwned(ctx)
	if err != nil {
		return err
	}

	var sub attempt.Submission
	if err := ctx.Bind(&sub); err != nil {
		return errors.Wrap(err, "binding submission")
	}

	res, err := api.svc.Submit(ctx.Request().Context(), att.ID, sub)
	if err != nil {
		if errors.Cause(err) == attempt.ErrExpired {
			api.monitor.Release(att.ID)
		}
		return err
	}
	api.monitor.Release(att.ID)
	return ctx.JSON(http.StatusOK, res)
}

type heartbeatResponse struct {
	AttemptID string `json:"attempt_id"`
	Status    string `json:"status"`
	Overrun   bool   `json:"overrun"`
}

// heartbeat resets the inactivity timer and reports whether the attempt has
// outrun its time limit.
func (api attemptApi) heartbeat(ctx echo.Context) error {
	att, err := api.getOwned(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()

	api.monitor.Touch(att.ID)
	overrun, err := api.svc.CheckTimeLimit(reqCtx, att.ID)
	if err != nil {
		return err
	}
	if overrun {
		api.monitor.Release(att.ID)
	}

	// re-read: the check may have expired the attempt
	if att, err = api.svc.GetByID(reqCtx, att.ID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, heartbeatResponse{AttemptID: att.ID, Status: att.Status, Overrun: overrun})
}

// reportEvent accepts a client-observed proctoring event. Classification is
// advisory: the attempt keeps running regardless, so the client gets a bare
// 202 back.
func (api attemptApi) reportEvent(ctx echo.Context) error {
	att, err := api.getOwned(ctx)
	if err != nil {
		return err
	}

	var e integrity.Event
	if err := ctx.Bind(&e); err != nil {
		return errors.Wrap(err, "binding event")
	}

	if err := api.monitor.HandleEvent(ctx.Request().Context(), att.ID, e); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusAccepted)
}

func (api attemptApi) result(ctx echo.Context) error {
	att, err := api.getOwned(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.Result(ctx.Request().Context(), att.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api attemptApi) violations(ctx echo.Context) error {
	vs, err := api.integritySvc.QueryAttempt(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, vs)
}

func (api attemptApi) cancel(ctx echo.Context) error {
	att, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	api.monitor.Release(att.ID)
	return ctx.JSON(http.StatusOK, att)
}

// getOwned loads the attempt and enforces ownership: candidates only ever see
// their own attempts, staff see all.
func (api attemptApi) getOwned(ctx echo.Context) (attempt.Attempt, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return attempt.Attempt{}, err
	}
	att, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return attempt.Attempt{}, err
	}
	if att.CandidateID != claims.Subject && !(claims.IsExaminer || claims.IsAdmin) {
		return attempt.Attempt{}, errHttpForbidden
	}
	return att, nil
}
