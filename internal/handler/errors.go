package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/service"
)

// errorMessages maps framework status codes to client-facing error text.
var errorMessages = map[int]string{
	http.StatusNotFound:              MessageNotFound,
	http.StatusRequestEntityTooLarge: "Request body too large",
	http.StatusTooManyRequests:       "Too many requests, please try again later.",
}

// ErrorHandler renders every error that reaches echo as {"error": "..."}.
// Unexpected errors become 500 "Service unavailable".
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}

		// Echo answers unrouted methods with 405; the gateway treats any
		// unknown method/path pair as not found.
		if status == http.StatusMethodNotAllowed {
			status = http.StatusNotFound
		}

		msg, ok := errorMessages[status]
		if !ok {
			msg = service.MessageServiceUnavailable
			if status < http.StatusInternalServerError {
				msg = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"err", err,
			)
		}

		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSONBlob(status, service.ErrorBody(msg))
		}
		if err != nil {
			logger.Error("write error response", "err", err)
		}
	}
}
