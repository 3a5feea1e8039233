package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/openvital/edrs/internal/platform/auth"
)

// Logger emits one structured line per request. The authenticated user is
// read after the handler ran, so the auth middleware further down the
// chain has already placed it on the context.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			method := c.Request().Method
			path := c.Request().URL.Path

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			rid, _ := c.Get("request_id").(string)
			if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
				evt = evt.Str("user", user)
			}

			evt.
				Str("request_id", rid).
				Str("method", method).
				Str("path", path).
				Int("status", c.Response().Status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
