package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "civic."

var errNATSDisconnected = errors.New("nats connection lost")

// NATSTransport bridges hubs through core NATS subjects. Topic "stream:42:reactions"
// maps to subject "civic.stream.42.reactions".
type NATSTransport struct {
	conn *nats.Conn
}

// NewNATSTransport wraps an existing NATS connection.
func NewNATSTransport(conn *nats.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// Name implements Transport.
func (t *NATSTransport) Name() string {
	return "nats"
}

// Publish implements Transport.
func (t *NATSTransport) Publish(_ context.Context, topic string, payload []byte) error {
	return t.conn.Publish(SubjectForTopic(topic), payload)
}

// Run implements Transport. Every node must see every event, so a plain
// subscription is used rather than a queue group.
func (t *NATSTransport) Run(ctx context.Context, deliver func(topic string, payload []byte), ready func()) error {
	if !t.conn.IsConnected() {
		return errNATSDisconnected
	}

	lost := make(chan struct{}, 1)
	signal := func() {
		select {
		case lost <- struct{}{}:
		default:
		}
	}
	t.conn.SetDisconnectErrHandler(func(_ *nats.Conn, _ error) { signal() })
	t.conn.SetClosedHandler(func(_ *nats.Conn) { signal() })

	sub, err := t.conn.Subscribe(natsSubjectPrefix+"stream.>", func(msg *nats.Msg) {
		deliver(TopicForSubject(msg.Subject), msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	ready()

	select {
	case <-ctx.Done():
		_ = sub.Drain()
		return nil
	case <-lost:
		_ = sub.Unsubscribe()
		return errNATSDisconnected
	}
}

// SubjectForTopic converts a topic to its NATS subject.
func SubjectForTopic(topic string) string {
	return natsSubjectPrefix + strings.ReplaceAll(topic, ":", ".")
}

// TopicForSubject converts a NATS subject back to its topic.
func TopicForSubject(subject string) string {
	return strings.ReplaceAll(strings.TrimPrefix(subject, natsSubjectPrefix), ".", ":")
}
