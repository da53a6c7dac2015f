package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/civic-stream-api/internal/config"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string                   `json:"status"`
	Timestamp   time.Time                `json:"timestamp"`
	Service     string                   `json:"service"`
	Environment string                   `json:"environment"`
	Realtime    realtime.TransportStatus `json:"realtime"`
}

// BusStatusFunc reports the state of the cross-node transport.
type BusStatusFunc func() realtime.TransportStatus

// HealthCheck returns a handler that reports application health information.
// The service stays "ok" for local delivery when the transport is gone but is
// reported as degraded.
func HealthCheck(cfg config.Config, busStatus BusStatusFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if busStatus != nil {
			payload.Realtime = busStatus()
			if payload.Realtime.State == realtime.TransportExhausted || payload.Realtime.State == realtime.TransportReconnecting {
				payload.Status = "degraded"
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
