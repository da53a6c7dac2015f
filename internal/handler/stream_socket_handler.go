package handler

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/internal/observability"
	"github.com/noah-isme/civic-stream-api/internal/realtime"
	"github.com/noah-isme/civic-stream-api/internal/service"
	"github.com/noah-isme/civic-stream-api/internal/utils"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

const (
	socketWriteWait = 10 * time.Second
	// CloseResyncRequired tells the client it missed events and must reload the snapshot.
	CloseResyncRequired = 4000
)

// StreamSocketHandler pushes channel events of a stream to websocket clients.
type StreamSocketHandler struct {
	bus       realtime.Bus
	registry  service.StreamRegistry
	keepAlive time.Duration
	logger    zerolog.Logger
}

// NewStreamSocketHandler constructs the websocket fan-out endpoint.
func NewStreamSocketHandler(bus realtime.Bus, registry service.StreamRegistry, keepAlive time.Duration, logger zerolog.Logger) *StreamSocketHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &StreamSocketHandler{
		bus:       bus,
		registry:  registry,
		keepAlive: keepAlive,
		logger:    logger.With().Str("component", "stream_socket_handler").Logger(),
	}
}

// Register binds GET /:streamId/ws.
func (h *StreamSocketHandler) Register(router fiber.Router) {
	router.Get("/:streamId/ws", h.upgrade, websocket.New(h.serve))
}

func (h *StreamSocketHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stream, err := h.registry.Lookup(requestContext(c), streamID)
	if err != nil {
		return respondServiceError(c, h.logger, err, "open stream socket")
	}
	if stream.IsFinished() {
		return respondServiceError(c, h.logger, service.ErrStreamClosed, "open stream socket")
	}

	c.Locals("stream_id", streamID)
	return c.Next()
}

// socketSession is one connected client. code and reason are written once
// before done is closed.
type socketSession struct {
	conn   *websocket.Conn
	send   chan channel.Event
	done   chan struct{}
	once   sync.Once
	code   int
	reason string
}

func (s *socketSession) finish(code int, reason string) {
	s.once.Do(func() {
		s.code = code
		s.reason = reason
		close(s.done)
	})
}

func (s *socketSession) forward(event channel.Event) {
	select {
	case s.send <- event:
	case <-s.done:
	}
}

func (h *StreamSocketHandler) serve(conn *websocket.Conn) {
	streamID, _ := conn.Locals("stream_id").(uint)
	userID, _ := conn.Locals("user_id").(string)
	correlation, _ := conn.Locals("correlation_id").(string)
	logger := h.logger.With().
		Uint("stream_id", streamID).
		Str("user_id", userID).
		Str("correlation_id", correlation).
		Logger()

	session := &socketSession{
		conn: conn,
		send: make(chan channel.Event),
		done: make(chan struct{}),
	}

	subscriptions := make([]realtime.Subscription, 0, 2)
	defer func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}()

	for _, topic := range []string{channel.StreamTopic(streamID), channel.ReactionsTopic(streamID)} {
		sub, err := h.bus.Subscribe(topic, session.forward)
		if err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("failed to subscribe websocket client")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"))
			_ = conn.Close()
			return
		}
		subscriptions = append(subscriptions, sub)

		go func(sub realtime.Subscription) {
			select {
			case <-sub.Done():
				if errors.Is(sub.Err(), realtime.ErrSubscriberLagged) {
					session.finish(CloseResyncRequired, "resync required")
					return
				}
				session.finish(websocket.CloseGoingAway, "server shutting down")
			case <-session.done:
			}
		}(sub)
	}

	observability.WebsocketClients().Inc()
	defer observability.WebsocketClients().Dec()
	logger.Info().Msg("stream websocket connected")

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writePump(session, logger)
	}()

	h.readPump(conn)
	session.finish(websocket.CloseNormalClosure, "")
	writer.Wait()

	if session.code == CloseResyncRequired {
		logger.Warn().Msg("stream websocket fell behind, closed for resync")
	}
	logger.Info().Msg("stream websocket disconnected")
}

// readPump drains client frames so control messages are processed. Clients
// send nothing else over this socket.
func (h *StreamSocketHandler) readPump(conn *websocket.Conn) {
	readWait := 2 * h.keepAlive
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (h *StreamSocketHandler) writePump(session *socketSession, logger zerolog.Logger) {
	conn := session.conn
	ticker := time.NewTicker(h.keepAlive)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case event := <-session.send:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				session.finish(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				session.finish(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-session.done:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(session.code, session.reason))
			return
		}
	}
}
