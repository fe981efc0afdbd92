package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout enforces a hard ceiling on total request duration. The
// handler runs with a deadline-bound context; if the deadline fires first,
// the client receives a 504 with the standard error envelope and the
// handler's eventual result is discarded.
//
// The ceiling sits above every per-endpoint backend timeout, so in practice
// the backend client gives up first and this layer only catches handlers
// stalled outside a backend call.
func RequestTimeout(ceiling time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), ceiling)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			result := make(chan error, 1)
			go func() { result <- next(c) }()

			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				// Client disconnects cancel the context too; only a real
				// deadline expiry produces the 504.
				if ctx.Err() != context.DeadlineExceeded {
					return ctx.Err()
				}
				if c.Response().Committed {
					return nil
				}
				return c.JSON(http.StatusGatewayTimeout, map[string]interface{}{
					"error":  "Request timeout",
					"detail": "The request did not complete within the allowed time.",
				})
			}
		}
	}
}
