package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// RedisTransport bridges hubs through Redis Pub/Sub. Channel names equal the
// topic names, so any Redis client can observe stream traffic.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport wraps an existing Redis client.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

// Name implements Transport.
func (t *RedisTransport) Name() string {
	return "redis"
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.client.Publish(ctx, topic, payload).Err()
}

// Run implements Transport using a single pattern subscription.
func (t *RedisTransport) Run(ctx context.Context, deliver func(topic string, payload []byte), ready func()) error {
	pubsub := t.client.PSubscribe(ctx, channel.TopicPattern())
	defer func() {
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	ready()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("redis subscription lost: %w", err)
		}
		deliver(msg.Channel, []byte(msg.Payload))
	}
}
