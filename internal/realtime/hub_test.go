package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []channel.Event
}

func (r *eventRecorder) handle(event channel.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) snapshot() []channel.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]channel.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func chatEvent(t *testing.T, streamID uint, text string) channel.Event {
	t.Helper()
	event, err := channel.NewEvent(channel.EventChatMessage, streamID, channel.ChatMessagePayload{StreamID: streamID, Message: text, MessageType: "text"})
	require.NoError(t, err)
	return event
}

func TestHubFanOutPreservesPublishOrder(t *testing.T) {
	hub := NewHub(Options{}, zerolog.Nop())
	defer hub.Close()

	topic := channel.StreamTopic(1)
	first, second := &eventRecorder{}, &eventRecorder{}
	_, err := hub.Subscribe(topic, first.handle)
	require.NoError(t, err)
	_, err = hub.Subscribe(topic, second.handle)
	require.NoError(t, err)

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, hub.Publish(ctx, topic, chatEvent(t, 1, text)))
	}

	require.Eventually(t, func() bool { return first.count() == 3 && second.count() == 3 }, time.Second, 5*time.Millisecond)

	for _, recorder := range []*eventRecorder{first, second} {
		var texts []string
		var last uint64
		for _, event := range recorder.snapshot() {
			var payload channel.ChatMessagePayload
			require.NoError(t, event.Decode(&payload))
			texts = append(texts, payload.Message)
			require.Equal(t, hub.NodeID(), event.Origin)
			require.Greater(t, event.Sequence, last)
			last = event.Sequence
		}
		require.Equal(t, []string{"one", "two", "three"}, texts)
	}
}

func TestHubTopicsAreIsolated(t *testing.T) {
	hub := NewHub(Options{}, zerolog.Nop())
	defer hub.Close()

	chat, reactions := &eventRecorder{}, &eventRecorder{}
	_, err := hub.Subscribe(channel.StreamTopic(5), chat.handle)
	require.NoError(t, err)
	_, err = hub.Subscribe(channel.ReactionsTopic(5), reactions.handle)
	require.NoError(t, err)

	event, err := channel.NewEvent(channel.EventReactionAdded, 5, channel.ReactionAddedPayload{Count: 1})
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), channel.ReactionsTopic(5), event))

	require.Eventually(t, func() bool { return reactions.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, chat.count())
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(Options{}, zerolog.Nop())
	defer hub.Close()

	topic := channel.StreamTopic(2)
	recorder := &eventRecorder{}
	sub, err := hub.Subscribe(topic, recorder.handle)
	require.NoError(t, err)
	require.Equal(t, 1, hub.SubscriberCount(topic))

	sub.Unsubscribe()
	sub.Unsubscribe()

	<-sub.Done()
	require.NoError(t, sub.Err())
	require.Equal(t, 0, hub.SubscriberCount(topic))

	require.NoError(t, hub.Publish(context.Background(), topic, chatEvent(t, 2, "late")))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, recorder.count())
}

func TestHubRejectsInvalidTopic(t *testing.T) {
	hub := NewHub(Options{}, zerolog.Nop())
	defer hub.Close()

	_, err := hub.Subscribe("room:1", func(channel.Event) {})
	require.ErrorIs(t, err, ErrInvalidTopic)
	require.ErrorIs(t, hub.Publish(context.Background(), "stream:", channel.Event{}), ErrInvalidTopic)
}

func TestHubDropsLaggingSubscriber(t *testing.T) {
	hub := NewHub(Options{BufferSize: 1}, zerolog.Nop())
	defer hub.Close()

	topic := channel.StreamTopic(3)
	release := make(chan struct{})
	sub, err := hub.Subscribe(topic, func(channel.Event) { <-release })
	require.NoError(t, err)
	defer close(release)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(ctx, topic, chatEvent(t, 3, "flood")))
	}

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected lagging subscriber to be closed")
	}
	require.ErrorIs(t, sub.Err(), ErrSubscriberLagged)
	require.Equal(t, 0, hub.SubscriberCount(topic))
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(Options{}, zerolog.Nop())
	sub, err := hub.Subscribe(channel.StreamTopic(4), func(channel.Event) {})
	require.NoError(t, err)

	hub.Close()
	hub.Close()

	<-sub.Done()
	require.ErrorIs(t, sub.Err(), ErrHubClosed)
	require.ErrorIs(t, hub.Publish(context.Background(), channel.StreamTopic(4), channel.Event{}), ErrHubClosed)
	_, err = hub.Subscribe(channel.StreamTopic(4), func(channel.Event) {})
	require.ErrorIs(t, err, ErrHubClosed)
}

func TestHubRedisTransportBridgesNodes(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newNode := func() *Hub {
		client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		hub := NewHub(Options{Transport: NewRedisTransport(client), Backoff: channel.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}}, zerolog.Nop())
		hub.Start(ctx)
		t.Cleanup(hub.Close)
		return hub
	}
	nodeA, nodeB := newNode(), newNode()

	require.Eventually(t, func() bool {
		return nodeA.Status().State == TransportConnected && nodeB.Status().State == TransportConnected
	}, 2*time.Second, 10*time.Millisecond)

	topic := channel.StreamTopic(9)
	local, remote := &eventRecorder{}, &eventRecorder{}
	_, err = nodeA.Subscribe(topic, local.handle)
	require.NoError(t, err)
	_, err = nodeB.Subscribe(topic, remote.handle)
	require.NoError(t, err)

	require.NoError(t, nodeA.Publish(ctx, topic, chatEvent(t, 9, "first")))
	require.NoError(t, nodeA.Publish(ctx, topic, chatEvent(t, 9, "second")))

	require.Eventually(t, func() bool { return remote.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, local.count(), "own events must not be delivered twice")

	var texts []string
	for _, event := range remote.snapshot() {
		var payload channel.ChatMessagePayload
		require.NoError(t, event.Decode(&payload))
		texts = append(texts, payload.Message)
		require.Equal(t, nodeA.NodeID(), event.Origin)
	}
	require.Equal(t, []string{"first", "second"}, texts)
}

func TestHubSignalsResyncAfterReconnect(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr(), MaxRetries: -1})
	defer client.Close()

	hub := NewHub(Options{Transport: NewRedisTransport(client), Backoff: channel.Backoff{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond}}, zerolog.Nop())
	hub.Start(ctx)
	defer hub.Close()

	require.Eventually(t, func() bool { return hub.Status().State == TransportConnected }, 2*time.Second, 10*time.Millisecond)

	recorder := &eventRecorder{}
	_, err = hub.Subscribe(channel.StreamTopic(11), recorder.handle)
	require.NoError(t, err)

	mini.Close()
	require.Eventually(t, func() bool { return hub.Status().State == TransportReconnecting }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, mini.Restart())

	require.Eventually(t, func() bool {
		for _, event := range recorder.snapshot() {
			if event.Event == channel.EventResyncRequired {
				return event.StreamID == 11
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, TransportConnected, hub.Status().State)
}

type failingTransport struct {
	mu    sync.Mutex
	calls int
}

func (f *failingTransport) Name() string { return "failing" }

func (f *failingTransport) Publish(context.Context, string, []byte) error {
	return errors.New("offline")
}

func (f *failingTransport) Run(context.Context, func(string, []byte), func()) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("connection refused")
}

func TestHubReportsExhaustedTransport(t *testing.T) {
	transport := &failingTransport{}
	hub := NewHub(Options{Transport: transport, Backoff: channel.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)
	defer hub.Close()

	require.Eventually(t, func() bool { return hub.Status().State == TransportExhausted }, time.Second, 5*time.Millisecond)
	status := hub.Status()
	require.ErrorIs(t, status.Err, ErrTransportExhausted)
	require.Equal(t, 3, status.Attempts)

	transport.mu.Lock()
	require.Equal(t, 4, transport.calls)
	transport.mu.Unlock()

	recorder := &eventRecorder{}
	_, err := hub.Subscribe(channel.StreamTopic(1), recorder.handle)
	require.NoError(t, err)
	require.NoError(t, hub.Publish(ctx, channel.StreamTopic(1), chatEvent(t, 1, "still local")))
	require.Eventually(t, func() bool { return recorder.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNATSSubjectMapping(t *testing.T) {
	require.Equal(t, "civic.stream.42.reactions", SubjectForTopic(channel.ReactionsTopic(42)))
	require.Equal(t, channel.ReactionsTopic(42), TopicForSubject("civic.stream.42.reactions"))
	require.Equal(t, channel.StreamTopic(7), TopicForSubject(SubjectForTopic(channel.StreamTopic(7))))
}
