// Package httperr renders the uniform error envelope every non-2xx gateway
// response carries and maps backend client failures onto it.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sturgeon/sturgeon/internal/platform/backend"
)

// Envelope is the gateway's error body. Detail is omitted when empty.
type Envelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// User-facing detail strings for transport failures.
const (
	timeoutDetail     = "The AI backend took too long to respond. Please try again."
	unreachableDetail = "Could not connect to the AI backend."
)

// JSON writes the envelope with the given status.
func JSON(c echo.Context, status int, msg, detail string) error {
	return c.JSON(status, Envelope{Error: msg, Detail: detail})
}

// BackendDetail extracts the user-facing detail for a backend failure,
// matching what Backend writes into the envelope. The debate flow records
// it on failed rounds so the transcript and the response agree.
func BackendDetail(err error) string {
	var se *backend.StatusError
	switch {
	case errors.As(err, &se):
		return se.Detail
	case errors.Is(err, backend.ErrTimeout):
		return timeoutDetail
	case errors.Is(err, backend.ErrUnreachable):
		return unreachableDetail
	default:
		return err.Error()
	}
}

// Backend maps a backend client error onto the response. Non-2xx backend
// statuses are relayed as-is with the extracted detail and any captured
// rate-limit headers; timeouts map to 504 and connection failures to 500.
func Backend(c echo.Context, err error) error {
	var se *backend.StatusError
	switch {
	case errors.As(err, &se):
		h := c.Response().Header()
		for name, values := range se.Header {
			for _, v := range values {
				h.Set(name, v)
			}
		}
		return JSON(c, se.StatusCode, "Backend error", se.Detail)
	case errors.Is(err, backend.ErrTimeout):
		return JSON(c, http.StatusGatewayTimeout, "Request timeout", timeoutDetail)
	case errors.Is(err, backend.ErrUnreachable):
		return JSON(c, http.StatusInternalServerError, "Connection failed", unreachableDetail)
	default:
		return JSON(c, http.StatusInternalServerError, "Internal server error", "")
	}
}

// BackendHealth is Backend with the health-route mapping: an unreachable
// backend reports 503 so orchestrators treat it as a failed dependency
// probe rather than a gateway fault.
func BackendHealth(c echo.Context, err error) error {
	if errors.Is(err, backend.ErrUnreachable) {
		return JSON(c, http.StatusServiceUnavailable, "Backend unavailable", unreachableDetail)
	}
	return Backend(c, err)
}

// ErrorHandler renders errors that escape a handler as the envelope.
// String messages from echo.NewHTTPError become the error field; anything
// unrecognized is a 500.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := "Internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch m := he.Message.(type) {
			case string:
				msg = m
			case error:
				msg = m.Error()
			}
		} else {
			logger.Error().
				Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		if writeErr := JSON(c, status, msg, ""); writeErr != nil {
			logger.Error().Err(writeErr).Msg("writing error response")
		}
	}
}
