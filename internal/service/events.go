package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// publishEvent broadcasts after the state change has been committed. A failed
// publish is logged and never undoes the operation; subscribers recover
// through the snapshot endpoint.
func publishEvent(ctx context.Context, bus realtime.Bus, logger zerolog.Logger, topic, name string, streamID uint, payload interface{}) {
	if bus == nil {
		return
	}

	event, err := channel.NewEvent(name, streamID, payload)
	if err != nil {
		logger.Error().Err(err).Str("event", name).Uint("stream_id", streamID).Msg("failed to encode channel event")
		return
	}

	if err := bus.Publish(ctx, topic, event); err != nil {
		logger.Warn().Err(err).Str("event", name).Str("topic", topic).Msg("failed to publish channel event")
	}
}
