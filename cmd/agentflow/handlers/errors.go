package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// ErrorHandler renders every error through the canonical envelope
// {"error": <kind>, "message": <msg>, "details": {...}}. Echo's own
// routing errors (404, 405) are folded into the same shape.
func ErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		appErr := toAppError(err)
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"error", err)
		}

		details := appErr.Details
		if details == nil {
			details = map[string]interface{}{}
		}
		payload := map[string]interface{}{
			"error":   string(appErr.Kind),
			"message": apperror.MessageOf(appErr),
			"details": details,
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, payload)
		}
		if writeErr != nil {
			log.Error("failed to write error response", "error", writeErr)
		}
	}
}

func toAppError(err error) *apperror.Error {
	if appErr, ok := apperror.As(err); ok {
		return appErr
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		kind := apperror.KindInternal
		switch {
		case httpErr.Code == http.StatusNotFound:
			kind = apperror.KindNotFound
		case httpErr.Code == http.StatusMethodNotAllowed, httpErr.Code == http.StatusBadRequest:
			kind = apperror.KindValidation
		case httpErr.Code == http.StatusUnauthorized:
			kind = apperror.KindAuthentication
		}
		return apperror.New(kind, fmt.Sprintf("%v", httpErr.Message)).WithStatus(httpErr.Code)
	}

	return apperror.Wrap(apperror.KindInternal, err, "internal server error")
}
