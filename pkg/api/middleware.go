package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

const requestIDHeader = "X-Request-Id"

// requestID tags every request with a uuid, honoring one supplied by a
// trusted proxy.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.New().String()
			}
			c.Response().Header().Set(requestIDHeader, id)
			c.Set("request_id", id)
			return next(c)
		}
	}
}

// requestLog emits one structured line per request.
func requestLog(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := 0
			if resp, _ := echo.UnwrapResponse(c.Response()); resp != nil {
				status = resp.Status
			}
			log.Info("request",
				"request_id", c.Get("request_id"),
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"remote", c.RealIP(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

// securityHeaders sets standard hardening response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// recoverAndRethrow logs handler panics with a stack reference and rethrows
// so the process-level recover can take the exit-2 path. Corrupted state
// must not be papered over with a 500.
func recoverAndRethrow(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic",
						"request_id", c.Get("request_id"),
						"path", c.Request().URL.Path,
						"panic", fmt.Sprint(r))
					panic(r)
				}
			}()
			return next(c)
		}
	}
}
