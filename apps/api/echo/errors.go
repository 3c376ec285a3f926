package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/integrity"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errTokenSigning  = errors.New("signing token")
)

// errStatusCodes maps domain sentinel errors to HTTP status codes, per the
// error taxonomy: validation 400, not-found 404, conflict/expiry 409.
var errStatusCodes = map[error]int{
	// validation
	exam.ErrNotPublished:          http.StatusBadRequest,
	exam.ErrRegistrationClosed:    http.StatusBadRequest,
	attempt.ErrWindowClosed:       http.StatusBadRequest,
	attempt.ErrNotStarted:         http.StatusBadRequest,
	integrity.ErrAttemptNotActive: http.StatusBadRequest,

	// authorization-ish gate failures
	attempt.ErrNotRegistered:   http.StatusForbidden,
	attempt.ErrPendingApproval: http.StatusForbidden,

	// not-found
	exam.ErrNotFound:             http.StatusNotFound,
	exam.ErrRegistrationNotFound: http.StatusNotFound,
	attempt.ErrNotFound:          http.StatusNotFound,

	// conflict: the first successful transition wins
	exam.ErrAlreadyRegistered:   http.StatusConflict,
	exam.ErrStatusChanged:       http.StatusConflict,
	attempt.ErrDuplicateAttempt: http.StatusConflict,
	attempt.ErrAlreadyStarted:   http.StatusConflict,
	attempt.ErrAlreadySubmitted: http.StatusConflict,
	attempt.ErrCancelled:        http.StatusConflict,
	attempt.ErrStatusChanged:    http.StatusConflict,

	// expiry always wins over a late submission
	attempt.ErrExpired: http.StatusConflict,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how
// to handle our errors. signalShutdown is called in order to gracefully
// shutdown the Server whenever a core shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if status, ok := errStatusCodes[cause]; ok {
			code = status
			message = cause.Error()
		} else {
			switch origErr := cause.(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(origErr))
				for _, vErr := range origErr {
					fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					fldErrs := make(map[string]string, len(origErr.Fields))
					for _, fErr := range origErr.Fields {
						fldErrs[fErr.Field] = fErr.Error
					}
					message = fldErrs
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg
				logger.Error(msg, errors.Wrap(err, msg))

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
