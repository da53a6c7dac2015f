package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/observability"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

const (
	defaultSubscriberBuffer = 64
	defaultOutboundBuffer   = 1024
	transportPublishTimeout = 5 * time.Second
)

// TransportState describes the cross-node transport connection.
type TransportState string

// Transport states.
const (
	TransportDisabled     TransportState = "disabled"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportReconnecting TransportState = "reconnecting"
	TransportExhausted    TransportState = "exhausted"
)

// TransportStatus is a point-in-time view of the transport.
type TransportStatus struct {
	Transport string         `json:"transport"`
	State     TransportState `json:"state"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	Err       error          `json:"-"`
}

// Options configures a Hub.
type Options struct {
	NodeID         string
	BufferSize     int
	OutboundBuffer int
	Transport      Transport
	Backoff        channel.Backoff
}

// Hub is the in-process fan-out bus. Local publishes are serialised so every
// subscriber of a topic observes them in the same order; events from the
// transport are delivered in arrival order.
type Hub struct {
	nodeID    string
	buffer    int
	transport Transport
	backoff   channel.Backoff
	logger    zerolog.Logger

	publishMu sync.Mutex
	sequence  uint64
	outbound  chan outboundEvent

	mu     sync.RWMutex
	topics map[string]map[uint64]*subscriber
	closed bool
	nextID atomic.Uint64

	statusMu sync.RWMutex
	status   TransportStatus
}

type outboundEvent struct {
	topic   string
	payload []byte
}

type subscriber struct {
	id      uint64
	topic   string
	queue   chan channel.Event
	handler Handler
	hub     *Hub

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewHub constructs a hub. A nil transport keeps delivery node-local.
func NewHub(opts Options, logger zerolog.Logger) *Hub {
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	buffer := opts.BufferSize
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	outbound := opts.OutboundBuffer
	if outbound <= 0 {
		outbound = defaultOutboundBuffer
	}

	hub := &Hub{
		nodeID:    nodeID,
		buffer:    buffer,
		transport: opts.Transport,
		backoff:   opts.Backoff,
		logger:    logger.With().Str("component", "realtime_hub").Str("node_id", nodeID).Logger(),
		topics:    make(map[string]map[uint64]*subscriber),
		status:    TransportStatus{Transport: "memory", State: TransportDisabled},
	}
	if opts.Transport != nil {
		hub.outbound = make(chan outboundEvent, outbound)
		hub.status = TransportStatus{Transport: opts.Transport.Name(), State: TransportConnecting}
	}
	return hub
}

// NodeID identifies this hub as an event origin.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Start launches the transport bridge. It is a no-op without a transport.
func (h *Hub) Start(ctx context.Context) {
	if h.transport == nil {
		return
	}
	go h.runOutbound(ctx)
	go h.runTransport(ctx)
}

// Publish stamps the event with this node's origin and the next sequence
// number, fans it out to local subscribers and forwards it to the transport.
func (h *Hub) Publish(ctx context.Context, topic string, event channel.Event) error {
	if _, ok := channel.ParseTopic(topic); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if h.isClosed() {
		return ErrHubClosed
	}

	h.sequence++
	event.Origin = h.nodeID
	event.Sequence = h.sequence
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	h.deliver(topic, event)
	observability.EventsPublished().WithLabelValues(event.Event).Inc()

	if h.outbound == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	select {
	case h.outbound <- outboundEvent{topic: topic, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers handler on topic.
func (h *Hub) Subscribe(topic string, handler Handler) (Subscription, error) {
	if _, ok := channel.ParseTopic(topic); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if handler == nil {
		return nil, fmt.Errorf("realtime: nil handler")
	}

	sub := &subscriber{
		id:      h.nextID.Add(1),
		topic:   topic,
		queue:   make(chan channel.Event, h.buffer),
		handler: handler,
		hub:     h,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[uint64]*subscriber)
	}
	h.topics[topic][sub.id] = sub
	h.mu.Unlock()

	observability.SubscriptionsActive().Inc()
	go sub.run()

	return sub, nil
}

// SubscriberCount returns the number of local subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Status reports the transport connection state.
func (h *Hub) Status() TransportStatus {
	h.statusMu.RLock()
	defer h.statusMu.RUnlock()
	return h.status
}

// Close ends every subscription and stops forwarding to the transport.
func (h *Hub) Close() {
	h.publishMu.Lock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.publishMu.Unlock()
		return
	}
	h.closed = true
	subscribers := make([]*subscriber, 0)
	for _, subs := range h.topics {
		for _, sub := range subs {
			subscribers = append(subscribers, sub)
		}
	}
	h.mu.Unlock()
	if h.outbound != nil {
		close(h.outbound)
	}
	h.publishMu.Unlock()

	for _, sub := range subscribers {
		sub.close(ErrHubClosed)
	}
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) deliver(topic string, event channel.Event) {
	h.mu.RLock()
	subs := h.topics[topic]
	targets := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if !sub.enqueue(event) {
			h.logger.Warn().Str("topic", topic).Uint64("subscriber_id", sub.id).Msg("dropping lagging subscriber")
			observability.SubscriptionsDropped().Inc()
			sub.close(ErrSubscriberLagged)
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.topics[sub.topic]; ok {
		if _, present := subs[sub.id]; present {
			delete(subs, sub.id)
			observability.SubscriptionsActive().Dec()
		}
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
}

// broadcastResync tells every local subscriber that events may have been missed.
func (h *Hub) broadcastResync() {
	h.mu.RLock()
	topics := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		topics = append(topics, topic)
	}
	h.mu.RUnlock()

	for _, topic := range topics {
		streamID, _ := channel.ParseTopic(topic)
		event := channel.Event{
			Event:    channel.EventResyncRequired,
			StreamID: streamID,
			Origin:   h.nodeID,
			SentAt:   time.Now().UTC(),
		}
		h.deliver(topic, event)
	}
}

func (h *Hub) receive(topic string, payload []byte) {
	var event channel.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("invalid realtime event payload")
		return
	}
	if event.Origin == h.nodeID {
		return
	}
	if !channel.IsKnown(event.Event) {
		h.logger.Debug().Str("event", event.Event).Msg("ignoring unknown realtime event")
		return
	}

	observability.EventsReceived().WithLabelValues(event.Event).Inc()
	h.deliver(topic, event)
}

func (h *Hub) runOutbound(ctx context.Context) {
	for item := range h.outbound {
		publishCtx, cancel := context.WithTimeout(context.Background(), transportPublishTimeout)
		if err := h.transport.Publish(publishCtx, item.topic, item.payload); err != nil {
			h.logger.Warn().Err(err).Str("topic", item.topic).Msg("failed to forward realtime event")
		}
		cancel()
		if ctx.Err() != nil {
			return
		}
	}
}

func (h *Hub) runTransport(ctx context.Context) {
	name := h.transport.Name()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		connected := false
		err := h.transport.Run(ctx, h.receive, func() {
			connected = true
			recovered := attempt > 0
			attempt = 0
			h.setStatus(TransportStatus{Transport: name, State: TransportConnected})
			h.logger.Info().Str("transport", name).Msg("realtime transport subscribed")
			if recovered {
				h.broadcastResync()
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("%s transport stopped", name)
		}

		if connected {
			attempt = 0
		}
		attempt++
		observability.ReconnectAttempts().WithLabelValues(name).Inc()

		if h.backoff.Exhausted(attempt) {
			exhausted := fmt.Errorf("%w: %v", ErrTransportExhausted, err)
			h.setStatus(TransportStatus{Transport: name, State: TransportExhausted, Attempts: attempt - 1, LastError: err.Error(), Err: exhausted})
			h.logger.Error().Err(err).Int("attempts", attempt-1).Msg("realtime transport gave up reconnecting; delivery is node-local")
			return
		}

		delay := h.backoff.Delay(attempt)
		h.setStatus(TransportStatus{Transport: name, State: TransportReconnecting, Attempts: attempt, LastError: err.Error(), Err: err})
		h.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("realtime transport disconnected")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (h *Hub) setStatus(status TransportStatus) {
	h.statusMu.Lock()
	h.status = status
	h.statusMu.Unlock()
}

func (s *subscriber) enqueue(event channel.Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}

	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			s.dispatch(event)
		}
	}
}

func (s *subscriber) dispatch(event channel.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.logger.Error().Interface("panic", r).Str("topic", s.topic).Msg("realtime handler panicked")
		}
	}()
	s.handler(event)
}

func (s *subscriber) close(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *subscriber) Unsubscribe() {
	s.close(nil)
}

func (s *subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
