package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
)

// RequestObserver records served requests, e.g. as metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// AccessLog logs one line per request and reports it to observer, which may be nil.
func AccessLog(observer RequestObserver) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data before the handler runs (Fiber reuses context objects)
		method := c.Method()
		path := c.Path()
		ip := c.IP()

		err := c.Next()

		// Errors returned up the chain are rendered later by the app error handler.
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := c.Route().Path
		duration := time.Since(start)

		attrs := []any{
			"method", method,
			"path", path,
			"route", route,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", ip,
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			slog.Error("http request", attrs...)
		case status >= fiber.StatusBadRequest:
			slog.Warn("http request", attrs...)
		default:
			slog.Info("http request", attrs...)
		}

		if observer != nil {
			observer.ObserveRequest(method, route, status, duration)
		}
		return err
	}
}
