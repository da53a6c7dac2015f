package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/observability"
)

// Observability records request metrics and one structured log line per
// /api request. Websocket upgrades are counted but kept out of the latency
// histogram; the socket outlives the upgrade request.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if !strings.HasPrefix(c.Path(), "/api/") {
			return err
		}

		elapsed := time.Since(start)
		route := routeTemplate(c)
		method := c.Method()
		status := c.Response().StatusCode()
		statusLabel := strconv.Itoa(status)
		upgraded := status == fiber.StatusSwitchingProtocols

		observability.APIRequests().WithLabelValues(method, route, statusLabel).Inc()
		if !upgraded {
			observability.APILatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
		}
		if status >= fiber.StatusBadRequest {
			observability.APIErrors().WithLabelValues(method, route, statusLabel).Inc()
		}

		event := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error()
		case status >= fiber.StatusBadRequest:
			event = logger.Warn()
		}
		event = event.
			Str("correlation_id", GetCorrelationID(c)).
			Str("method", method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed)
		if stream := c.Params("streamId", c.Params("id")); stream != "" {
			event = event.Str("stream_id", stream)
		}
		if user := UserID(c); user != "" {
			event = event.Str("user_id", user)
		}
		if upgraded {
			event.Msg("websocket upgraded")
		} else {
			event.Msg("request completed")
		}

		return err
	}
}

func routeTemplate(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}
