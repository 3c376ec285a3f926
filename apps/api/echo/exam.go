package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/exam"
)

type examApi struct {
	svc *exam.Service
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *exam.Service) {
	api := examApi{svc: svc}

	eg := g.Group("/exams", jwt)
	eg.GET("", api.list)
	eg.GET("/:id", api.retrieve)
	eg.POST("/:id/register", api.register)

	ag := g.Group("/exams", jwt, adminMiddleware())
	ag.POST("", api.create)
	ag.POST("/:id/publish", api.publish)
	ag.POST("/:id/archive", api.archive)

	rg := g.Group("/registrations", jwt, examinerMiddleware())
	rg.POST("/:id/approve", api.approve)
	rg.DELETE("/:id", api.cancelRegistration)
}

// list returns the exam catalog: candidates only see published exams, staff may
// filter freely.
func (api examApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	if claims.IsExaminer || claims.IsAdmin {
		var filter exam.QueryFilter
		if err := ctx.Bind(&filter); err != nil {
			return errors.Wrap(err, "binding filter")
		}
		exams, err := api.svc.Query(ctx.Request().Context(), filter)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, exams)
	}

	exams, err := api.svc.QueryPublished(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, exams)
}

func (api examApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ex, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	// unpublished exams do not exist as far as candidates are concerned
	if !ex.IsPublished() && !(claims.IsExaminer || claims.IsAdmin) {
		return exam.ErrNotFound
	}
	return ctx.JSON(http.StatusOK, ex)
}

// register registers the authenticated candidate for an exam.
func (api examApi) register(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	reg, err := api.svc.Register(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, reg)
}

func (api examApi) create(ctx echo.Context) error {
	var ne exam.NewExam
	if err := ctx.Bind(&ne); err != nil {
		return errors.Wrap(err, "binding new exam")
	}
	if err := ne.Validate(); err != nil {
		return err
	}

	ex, err := api.svc.Create(ctx.Request().Context(), ne)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, ex)
}

func (api examApi) publish(ctx echo.Context) error {
	ex, err := api.svc.Publish(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ex)
}

func (api examApi) archive(ctx echo.Context) error {
	ex, err := api.svc.Archive(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ex)
}

func (api examApi) approve(ctx echo.Context) error {
	reg, err := api.svc.Approve(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api examApi) cancelRegistration(ctx echo.Context) error {
	if _, err := api.svc.CancelRegistration(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
