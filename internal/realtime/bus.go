// Package realtime fans channel events out to subscribers of per-stream topics
// and bridges them across nodes through a pluggable transport.
package realtime

import (
	"context"
	"errors"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

var (
	// ErrHubClosed is returned once the hub has been shut down.
	ErrHubClosed = errors.New("realtime hub closed")
	// ErrInvalidTopic is returned for topics outside the stream namespace.
	ErrInvalidTopic = errors.New("invalid realtime topic")
	// ErrSubscriberLagged is reported by a subscription closed for falling behind.
	ErrSubscriberLagged = errors.New("subscriber fell behind and was disconnected")
	// ErrTransportExhausted is reported when reconnect attempts ran out.
	ErrTransportExhausted = errors.New("realtime transport reconnect attempts exhausted")
)

// Handler consumes events delivered to a subscription. Handlers of one
// subscription are invoked sequentially.
type Handler func(channel.Event)

// Subscription is a live registration on a topic.
type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
	// Done is closed when the subscription ends for any reason.
	Done() <-chan struct{}
	// Err reports why the subscription ended, nil after a plain Unsubscribe.
	Err() error
}

// Bus is the publish/subscribe primitive used by the stream services.
type Bus interface {
	Publish(ctx context.Context, topic string, event channel.Event) error
	Subscribe(topic string, handler Handler) (Subscription, error)
}

// Transport carries serialised events between nodes.
type Transport interface {
	Name() string
	Publish(ctx context.Context, topic string, payload []byte) error
	// Run subscribes to every stream topic and blocks, calling deliver for each
	// message. ready is invoked from Run's goroutine once the subscription is
	// confirmed. Run returns nil when ctx is cancelled and an error when the
	// connection is lost.
	Run(ctx context.Context, deliver func(topic string, payload []byte), ready func()) error
}
