package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	viewerJoinsTotal   prometheus.Counter
	viewerLeavesTotal  *prometheus.CounterVec
	viewersActive      prometheus.Gauge
	chatMessagesTotal  *prometheus.CounterVec
	chatModeratedTotal prometheus.Counter
	reactionsTotal     *prometheus.CounterVec
	reactionsThrottled prometheus.Counter

	busEventsPublished      *prometheus.CounterVec
	busEventsReceived       *prometheus.CounterVec
	busSubscriptionsActive  prometheus.Gauge
	busSubscriptionsDropped prometheus.Counter
	busReconnectAttempts    *prometheus.CounterVec
	websocketClientsActive  prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		viewerJoinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_viewer_joins_total",
			Help: "Viewer sessions opened.",
		})

		viewerLeavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_viewer_leaves_total",
			Help: "Viewer sessions closed, by reason.",
		}, []string{"reason"})

		viewersActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stream_viewers_active",
			Help: "Open viewer sessions tracked by this node.",
		})

		chatMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_chat_messages_total",
			Help: "Chat messages accepted, by message type.",
		}, []string{"type"})

		chatModeratedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_chat_moderated_total",
			Help: "Chat messages redacted by moderators.",
		})

		reactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_reactions_total",
			Help: "Reactions accepted, by reaction type.",
		}, []string{"type"})

		reactionsThrottled = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_reactions_throttled_total",
			Help: "Reactions rejected by the per-user throttle.",
		})

		busEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Channel events published, by event name.",
		}, []string{"event"})

		busEventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_received_total",
			Help: "Channel events received from the cross-node transport, by event name.",
		}, []string{"event"})

		busSubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_subscriptions_active",
			Help: "Active channel subscriptions on this node.",
		})

		busSubscriptionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_subscriptions_dropped_total",
			Help: "Subscriptions closed because the subscriber fell behind.",
		})

		busReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_transport_reconnect_attempts_total",
			Help: "Transport reconnect attempts, by transport.",
		}, []string{"transport"})

		websocketClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_websocket_clients_active",
			Help: "Connected stream websocket clients.",
		})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			viewerJoinsTotal, viewerLeavesTotal, viewersActive,
			chatMessagesTotal, chatModeratedTotal,
			reactionsTotal, reactionsThrottled,
			busEventsPublished, busEventsReceived, busSubscriptionsActive, busSubscriptionsDropped, busReconnectAttempts,
			websocketClientsActive,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// ViewerJoins counts opened viewer sessions.
func ViewerJoins() prometheus.Counter {
	RegisterMetrics()
	return viewerJoinsTotal
}

// ViewerLeaves counts closed viewer sessions by reason ("leave" or "forced").
func ViewerLeaves() *prometheus.CounterVec {
	RegisterMetrics()
	return viewerLeavesTotal
}

// ViewersActive tracks open viewer sessions.
func ViewersActive() prometheus.Gauge {
	RegisterMetrics()
	return viewersActive
}

// ChatMessages counts accepted chat messages.
func ChatMessages() *prometheus.CounterVec {
	RegisterMetrics()
	return chatMessagesTotal
}

// ChatModerated counts redacted messages.
func ChatModerated() prometheus.Counter {
	RegisterMetrics()
	return chatModeratedTotal
}

// Reactions counts accepted reactions.
func Reactions() *prometheus.CounterVec {
	RegisterMetrics()
	return reactionsTotal
}

// ReactionsThrottled counts throttled reactions.
func ReactionsThrottled() prometheus.Counter {
	RegisterMetrics()
	return reactionsThrottled
}

// EventsPublished counts published channel events.
func EventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return busEventsPublished
}

// EventsReceived counts events bridged in from the transport.
func EventsReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return busEventsReceived
}

// SubscriptionsActive tracks live subscriptions.
func SubscriptionsActive() prometheus.Gauge {
	RegisterMetrics()
	return busSubscriptionsActive
}

// SubscriptionsDropped counts lagging subscribers that were disconnected.
func SubscriptionsDropped() prometheus.Counter {
	RegisterMetrics()
	return busSubscriptionsDropped
}

// ReconnectAttempts counts transport reconnect attempts.
func ReconnectAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return busReconnectAttempts
}

// WebsocketClients tracks connected websocket clients.
func WebsocketClients() prometheus.Gauge {
	RegisterMetrics()
	return websocketClientsActive
}
