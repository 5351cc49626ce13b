package access

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controllers.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// ErrorHandler renders err as a JSON error response.
type ErrorHandler func(ctx router.Context, err error) error

// NewErrorHandler returns an ErrorHandler that converts err with AsRichError
// and answers with its HTTP code. Internal failures are logged as errors,
// everything else at info.
func NewErrorHandler(logger Logger) ErrorHandler {
	if logger == nil {
		_, logger = ResolveLogger("access.http", nil, nil)
	}

	return func(ctx router.Context, err error) error {
		richErr := AsRichError(err)
		if richErr == nil {
			return nil
		}

		status := StatusCode(richErr)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"error", richErr.Error(),
				"category", richErr.Category,
				"path", ctx.Path(),
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
		} else {
			logger.Info("request rejected",
				"error", richErr.Message,
				"text_code", richErr.TextCode,
				"path", ctx.Path(),
			)
		}

		return ctx.JSON(status, goerrors.ErrorResponse{Error: richErr})
	}
}

// StatusCode returns the HTTP status for err. An explicit code wins,
// otherwise the category decides.
func StatusCode(err *goerrors.Error) int {
	if err == nil {
		return http.StatusOK
	}
	if err.Code >= 100 && err.Code <= 599 {
		return err.Code
	}

	switch err.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
