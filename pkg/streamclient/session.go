package streamclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// ErrSessionLeft is returned by operations attempted after Leave.
var ErrSessionLeft = errors.New("streamclient: session has left the stream")

const releaseTimeout = 10 * time.Second

// Options configures a Session.
type Options struct {
	StreamID   uint
	API        API
	Dialer     Dialer
	SessionID  string
	DeviceInfo DeviceInfo
	Backoff    channel.Backoff
	// PollInterval is the snapshot refresh period once reconnect attempts are exhausted.
	PollInterval time.Duration
	// OnEvent is called after each event has been applied to the local view.
	OnEvent func(channel.Event)
	Logger  zerolog.Logger
}

// Message is a chat line in the local view. Pending lines were sent by this
// client and have not been confirmed yet.
type Message struct {
	channel.ChatMessagePayload
	Pending bool `json:"pending"`
}

// View is a copy of the local session state.
type View struct {
	State           State
	Degraded        bool
	ViewerID        string
	StreamStatus    string
	ViewerCount     int
	PeakViewerCount int
	ReactionCounts  map[string]int64
	Messages        []Message
}

// Session follows one stream on behalf of one viewer.
type Session struct {
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	degraded  bool
	viewerID  string
	conn      Conn
	cancel    context.CancelFunc
	status    string
	viewers   int
	peak      int
	reactions map[string]int64
	messages  []Message

	leaveOnce sync.Once
	leaveErr  error
	wg        sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	return &Session{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "stream_session").Uint("stream_id", opts.StreamID).Logger(),
		state:     StateIdle,
		reactions: make(map[string]int64),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Degraded reports whether reconnect attempts ran out and the session is polling.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// View returns a copy of the local state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	reactions := make(map[string]int64, len(s.reactions))
	for key, value := range s.reactions {
		reactions[key] = value
	}
	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)

	return View{
		State:           s.state,
		Degraded:        s.degraded,
		ViewerID:        s.viewerID,
		StreamStatus:    s.status,
		ViewerCount:     s.viewers,
		PeakViewerCount: s.peak,
		ReactionCounts:  reactions,
		Messages:        messages,
	}
}

// Start joins the stream, subscribes to its events and applies the initial
// snapshot. The background event loop runs until Leave.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transition(StateJoining); err != nil {
		return err
	}

	joined, err := s.opts.API.Join(ctx, s.opts.StreamID, s.joinRequest())
	if err != nil {
		s.abort()
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			s.releaseUnconfirmedJoin()
		}
		return err
	}

	s.mu.Lock()
	if s.state == StateLeft {
		s.mu.Unlock()
		s.logger.Info().Str("viewer_id", joined.ViewerID).Msg("left while joining, releasing viewer session")
		if err := s.sendLeave(ctx, joined.ViewerID); err != nil {
			return err
		}
		return ErrSessionLeft
	}
	s.viewerID = joined.ViewerID
	s.viewers = joined.ViewerCount
	s.peak = joined.PeakViewerCount
	s.mu.Unlock()

	conn, err := s.opts.Dialer.Dial(ctx, s.opts.StreamID)
	if err != nil {
		_ = s.Leave(ctx)
		return err
	}
	if err := s.attach(conn, StateSubscribed); err != nil {
		_ = conn.Close()
		return err
	}

	if err := s.resync(ctx); err != nil {
		_ = s.Leave(ctx)
		return err
	}
	if err := s.transition(StateActive); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state == StateLeft {
		s.mu.Unlock()
		cancel()
		return ErrSessionLeft
	}
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx, conn)
	s.logger.Info().Str("viewer_id", joined.ViewerID).Msg("stream session active")
	return nil
}

// Leave ends the session. The REST leave is sent at most once; later calls
// return the first result.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateLeft
	viewerID := s.viewerID
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()

	if viewerID == "" {
		// Still joining: Start releases the session once the join returns.
		return nil
	}
	return s.sendLeave(ctx, viewerID)
}

// SendMessage posts a chat line. The line appears in the view immediately as
// pending and is replaced by the stored message once confirmed.
func (s *Session) SendMessage(ctx context.Context, text, messageType string) (Message, error) {
	ref := uuid.NewString()
	pending := Message{
		ChatMessagePayload: channel.ChatMessagePayload{
			StreamID:    s.opts.StreamID,
			Message:     text,
			MessageType: messageType,
			ClientRef:   ref,
			CreatedAt:   time.Now().UTC(),
		},
		Pending: true,
	}

	s.mu.Lock()
	switch s.state {
	case StateActive, StateReconnecting, StateSubscribed:
	case StateLeft:
		s.mu.Unlock()
		return Message{}, ErrSessionLeft
	default:
		state := s.state
		s.mu.Unlock()
		return Message{}, transitionError(state, StateActive)
	}
	s.messages = append(s.messages, pending)
	s.mu.Unlock()

	stored, err := s.opts.API.PostMessage(ctx, s.opts.StreamID, MessageRequest{Message: text, MessageType: messageType, ClientRef: ref})
	if err != nil {
		s.mu.Lock()
		s.dropPending(ref)
		s.mu.Unlock()
		return Message{}, err
	}
	if stored.ClientRef == "" {
		stored.ClientRef = ref
	}

	s.mu.Lock()
	confirmed := s.mergeMessage(stored)
	s.mu.Unlock()
	return confirmed, nil
}

// React sends a reaction. The local tally follows the server count; the echoed
// reaction_added event does not increment it a second time.
func (s *Session) React(ctx context.Context, reactionType string) (channel.ReactionAddedPayload, error) {
	if err := s.requireJoined(); err != nil {
		return channel.ReactionAddedPayload{}, err
	}

	added, err := s.opts.API.AddReaction(ctx, s.opts.StreamID, ReactionRequest{
		ReactionType: reactionType,
		SessionID:    s.opts.SessionID,
	})
	if err != nil {
		return channel.ReactionAddedPayload{}, err
	}

	s.mu.Lock()
	if added.Count > s.reactions[reactionType] {
		s.reactions[reactionType] = added.Count
	}
	s.mu.Unlock()
	return added, nil
}

func (s *Session) requireJoined() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateActive, StateReconnecting, StateSubscribed:
		return nil
	case StateLeft:
		return ErrSessionLeft
	default:
		return transitionError(s.state, StateActive)
	}
}

func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Session) transitionLocked(next State) error {
	if s.state == StateLeft && next != StateLeft {
		return ErrSessionLeft
	}
	if !CanTransition(s.state, next) {
		return transitionError(s.state, next)
	}
	s.state = next
	return nil
}

// attach stores conn as the live subscription and moves to next. A session
// that already left rejects it.
func (s *Session) attach(conn Conn, next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(next); err != nil {
		return err
	}
	s.conn = conn
	if next == StateActive {
		s.degraded = false
	}
	return nil
}

func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateLeft
}

func (s *Session) joinRequest() JoinRequest {
	return JoinRequest{SessionID: s.opts.SessionID, DeviceInfo: s.opts.DeviceInfo}
}

// releaseUnconfirmedJoin handles a join whose outcome is unknown: the request
// may have been committed before the response was lost. Joining again with the
// same session id returns the open session without counting it twice, which
// gives us a viewer id to leave with.
func (s *Session) releaseUnconfirmedJoin() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	joined, err := s.opts.API.Join(ctx, s.opts.StreamID, s.joinRequest())
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", s.opts.SessionID).Msg("could not recover viewer session after failed join")
		return
	}
	s.logger.Info().Str("viewer_id", joined.ViewerID).Msg("releasing viewer session from failed join")
	_ = s.sendLeave(ctx, joined.ViewerID)
}

func (s *Session) sendLeave(ctx context.Context, viewerID string) error {
	s.leaveOnce.Do(func() {
		s.leaveErr = s.opts.API.Leave(ctx, s.opts.StreamID, viewerID)
		if s.leaveErr != nil {
			s.logger.Warn().Err(s.leaveErr).Str("viewer_id", viewerID).Msg("failed to leave stream")
		}
	})
	return s.leaveErr
}

func (s *Session) run(ctx context.Context, conn Conn) {
	defer s.wg.Done()

	for {
		event, err := conn.Next()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("stream socket lost")
			conn = s.reconnect(ctx)
			if conn == nil {
				return
			}
			continue
		}

		if event.Event == channel.EventResyncRequired {
			if err := s.resync(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("failed to resync snapshot")
			}
		} else {
			s.apply(event)
		}
		if s.opts.OnEvent != nil {
			s.opts.OnEvent(event)
		}
	}
}

// reconnect redials with backoff and returns the new connection, or nil once
// the session left. After the attempts run out it keeps the view fresh from
// snapshots and retries the socket on every poll.
func (s *Session) reconnect(ctx context.Context) Conn {
	s.mu.Lock()
	s.conn = nil
	err := s.transitionLocked(StateReconnecting)
	s.mu.Unlock()
	if err != nil {
		return nil
	}

	backoff := s.opts.Backoff
	for attempt := 1; !backoff.Exhausted(attempt); attempt++ {
		if !sleep(ctx, backoff.Delay(attempt)) {
			return nil
		}
		if conn := s.redial(ctx); conn != nil {
			return conn
		}
		s.logger.Debug().Int("attempt", attempt).Msg("stream socket reconnect failed")
	}

	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
	s.logger.Warn().Msg("reconnect attempts exhausted, polling snapshots")

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if conn := s.redial(ctx); conn != nil {
			return conn
		}
		if err := s.resync(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("snapshot poll failed")
		}
	}
}

func (s *Session) redial(ctx context.Context) Conn {
	conn, err := s.opts.Dialer.Dial(ctx, s.opts.StreamID)
	if err != nil {
		return nil
	}
	if err := s.resync(ctx); err != nil {
		_ = conn.Close()
		return nil
	}
	if err := s.attach(conn, StateActive); err != nil {
		_ = conn.Close()
		return nil
	}
	s.logger.Info().Msg("stream socket reconnected")
	return conn
}

func (s *Session) resync(ctx context.Context) error {
	snapshot, err := s.opts.API.Snapshot(ctx, s.opts.StreamID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = snapshot.Stream.Status
	s.viewers = snapshot.ViewerCount
	s.peak = snapshot.PeakViewerCount
	s.reactions = make(map[string]int64, len(snapshot.ReactionCounts))
	for key, value := range snapshot.ReactionCounts {
		s.reactions[key] = value
	}

	messages := make([]Message, 0, len(snapshot.RecentMessages)+len(s.messages))
	refs := make(map[string]struct{}, len(snapshot.RecentMessages))
	for _, message := range snapshot.RecentMessages {
		messages = append(messages, Message{ChatMessagePayload: message})
		if message.ClientRef != "" {
			refs[message.ClientRef] = struct{}{}
		}
	}
	for _, message := range s.messages {
		if !message.Pending {
			continue
		}
		if _, confirmed := refs[message.ClientRef]; confirmed {
			continue
		}
		messages = append(messages, message)
	}
	s.messages = messages
	return nil
}

func (s *Session) apply(event channel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Event {
	case channel.EventViewerJoined, channel.EventViewerLeft:
		var payload channel.PresencePayload
		if s.decode(event, &payload) {
			s.viewers = payload.ViewerCount
			if payload.PeakViewerCount > s.peak {
				s.peak = payload.PeakViewerCount
			}
		}
	case channel.EventChatMessage:
		var payload channel.ChatMessagePayload
		if s.decode(event, &payload) {
			s.mergeMessage(payload)
		}
	case channel.EventMessageModerated:
		var payload channel.MessageModeratedPayload
		if s.decode(event, &payload) {
			for i := range s.messages {
				if s.messages[i].ID == payload.MessageID && !s.messages[i].Pending {
					s.messages[i].Message = payload.Placeholder
					s.messages[i].IsModerated = true
				}
			}
		}
	case channel.EventReactionAdded:
		var payload channel.ReactionAddedPayload
		if s.decode(event, &payload) {
			kind := payload.Reaction.ReactionType
			if payload.Count > s.reactions[kind] {
				s.reactions[kind] = payload.Count
			} else if payload.Count == 0 {
				s.reactions[kind]++
			}
		}
	case channel.EventStreamStarted, channel.EventStreamEnded:
		var payload channel.StreamLifecyclePayload
		if s.decode(event, &payload) {
			s.status = payload.Status
			if event.Event == channel.EventStreamEnded {
				s.viewers = 0
			}
		}
	}
}

func (s *Session) decode(event channel.Event, target interface{}) bool {
	if err := event.Decode(target); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Event).Msg("dropping malformed event")
		return false
	}
	return true
}

// mergeMessage inserts a confirmed message, replacing the pending line with
// the same client ref. An id already in the view is updated in place.
func (s *Session) mergeMessage(payload channel.ChatMessagePayload) Message {
	confirmed := Message{ChatMessagePayload: payload}
	for i := range s.messages {
		current := s.messages[i]
		sameRef := payload.ClientRef != "" && current.ClientRef == payload.ClientRef
		sameID := !current.Pending && current.ID == payload.ID
		if !sameRef && !sameID {
			continue
		}
		if current.IsModerated {
			confirmed.Message = current.Message
			confirmed.IsModerated = true
		}
		s.messages[i] = confirmed
		return confirmed
	}
	s.messages = append(s.messages, confirmed)
	return confirmed
}

func (s *Session) dropPending(ref string) {
	for i := range s.messages {
		if s.messages[i].Pending && s.messages[i].ClientRef == ref {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
