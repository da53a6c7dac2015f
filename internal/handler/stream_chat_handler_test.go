package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/civic-stream-api/internal/dto"
	"github.com/noah-isme/civic-stream-api/internal/handler"
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/service"
)

type mockPresenceService struct {
	joinUser string
	joinReq  dto.JoinStreamRequest
	joinErr  error
	leaveID  string
	leaveErr error
	snapshot dto.StreamSnapshotResponse
	snapErr  error
}

func (m *mockPresenceService) Join(_ context.Context, streamID uint, userID string, req dto.JoinStreamRequest) (dto.JoinStreamResponse, error) {
	m.joinUser = userID
	m.joinReq = req
	if m.joinErr != nil {
		return dto.JoinStreamResponse{}, m.joinErr
	}
	return dto.JoinStreamResponse{ViewerID: "2f1c7c66-1f7b-4a53-9c1e-8f5f2b8f0a11", ViewerCount: 3, PeakViewerCount: 5}, nil
}

func (m *mockPresenceService) Leave(_ context.Context, streamID uint, viewerID string) (dto.LeaveStreamResponse, error) {
	m.leaveID = viewerID
	if m.leaveErr != nil {
		return dto.LeaveStreamResponse{}, m.leaveErr
	}
	return dto.LeaveStreamResponse{ViewerID: viewerID, Closed: true, ViewerCount: 2, PeakViewerCount: 5}, nil
}

func (m *mockPresenceService) ForceCloseAll(context.Context, uint, time.Time) (int64, error) {
	return 0, nil
}

func (m *mockPresenceService) Snapshot(_ context.Context, streamID uint) (dto.StreamSnapshotResponse, error) {
	if m.snapErr != nil {
		return dto.StreamSnapshotResponse{}, m.snapErr
	}
	return m.snapshot, nil
}

type mockChatService struct {
	postUser    string
	postReq     dto.PostMessageRequest
	postErr     error
	moderatorID string
	moderateErr error
	listLimit   int
}

func (m *mockChatService) PostMessage(_ context.Context, streamID uint, userID string, req dto.PostMessageRequest) (dto.ChatMessageResponse, error) {
	m.postUser = userID
	m.postReq = req
	if m.postErr != nil {
		return dto.ChatMessageResponse{}, m.postErr
	}
	return dto.ChatMessageResponse{ID: 11, StreamID: streamID, UserID: userID, Message: req.Message, MessageType: "text", ClientRef: req.ClientRef}, nil
}

func (m *mockChatService) Moderate(_ context.Context, streamID, messageID uint, moderatorID string, _ dto.ModerateMessageRequest) (dto.ChatMessageResponse, error) {
	m.moderatorID = moderatorID
	if m.moderateErr != nil {
		return dto.ChatMessageResponse{}, m.moderateErr
	}
	return dto.ChatMessageResponse{ID: messageID, StreamID: streamID, Message: models.ModeratedPlaceholder, IsModerated: true}, nil
}

func (m *mockChatService) List(_ context.Context, streamID uint, limit int) ([]dto.ChatMessageResponse, error) {
	m.listLimit = limit
	return []dto.ChatMessageResponse{{ID: 1, StreamID: streamID, Message: "hello"}}, nil
}

type mockReactionService struct {
	addErr error
	userID string
	req    dto.AddReactionRequest
}

func (m *mockReactionService) AddReaction(_ context.Context, streamID uint, userID string, req dto.AddReactionRequest) (dto.ReactionResponse, error) {
	m.userID = userID
	m.req = req
	if m.addErr != nil {
		return dto.ReactionResponse{}, m.addErr
	}
	return dto.ReactionResponse{Reaction: dto.NewReactionPayload(models.Reaction{ID: 4, StreamID: streamID, ReactionType: req.ReactionType}), Count: 2}, nil
}

func (m *mockReactionService) Counts(_ context.Context, streamID uint) (dto.ReactionCountsResponse, error) {
	return dto.ReactionCountsResponse{StreamID: streamID, Counts: map[string]int64{models.ReactionLike: 2}, Total: 2}, nil
}

type streamChatMocks struct {
	presence  *mockPresenceService
	chat      *mockChatService
	reactions *mockReactionService
}

// testIdentity mimics the JWT middleware using plain headers.
func testIdentity(c *fiber.Ctx) error {
	if user := c.Get("X-Test-User"); user != "" {
		c.Locals("user_id", user)
	}
	if role := c.Get("X-Test-Role"); role != "" {
		c.Locals("user_role", role)
	}
	return c.Next()
}

func newStreamChatApp(t *testing.T) (*fiber.App, streamChatMocks) {
	t.Helper()
	mocks := streamChatMocks{
		presence:  &mockPresenceService{},
		chat:      &mockChatService{},
		reactions: &mockReactionService{},
	}
	app := fiber.New()
	group := app.Group("/api/v1/stream-chat", testIdentity)
	handler.NewStreamChatHandler(mocks.presence, mocks.chat, mocks.reactions, zerolog.New(io.Discard)).Register(group, nil)
	return app, mocks
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]string `json:"details"`
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var payload envelope
	decodeResponse(t, resp, &payload)
	return resp, payload
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestStreamChatJoinAnonymous(t *testing.T) {
	app, mocks := newStreamChatApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/join", map[string]interface{}{
		"session_id":  "tab-1",
		"device_info": map[string]interface{}{"device_type": "desktop", "browser": "chrome"},
	}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, body.Success)

	var joined dto.JoinStreamResponse
	require.NoError(t, json.Unmarshal(body.Data, &joined))
	require.Equal(t, 3, joined.ViewerCount)
	require.Equal(t, 5, joined.PeakViewerCount)
	require.Empty(t, mocks.presence.joinUser)
	require.Equal(t, "tab-1", mocks.presence.joinReq.SessionID)
	require.Equal(t, "chrome", mocks.presence.joinReq.DeviceInfo.Browser)
}

func TestStreamChatJoinErrors(t *testing.T) {
	app, mocks := newStreamChatApp(t)

	mocks.presence.joinErr = service.ErrStreamClosed
	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/join", nil, nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.False(t, body.Success)

	mocks.presence.joinErr = service.ErrNotFound
	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/join", nil, nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	mocks.presence.joinErr = errors.New("database down")
	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/join", nil, nil)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "failed to join stream", body.Message)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/abc/join", nil, nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStreamChatLeave(t *testing.T) {
	app, mocks := newStreamChatApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/leave", map[string]string{"viewer_id": "2f1c7c66-1f7b-4a53-9c1e-8f5f2b8f0a11"}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, body.Success)
	require.Equal(t, "2f1c7c66-1f7b-4a53-9c1e-8f5f2b8f0a11", mocks.presence.leaveID)
}

func TestStreamChatPostMessage(t *testing.T) {
	app, mocks := newStreamChatApp(t)
	payload := map[string]string{"message": "hello council", "client_ref": "c-1"}

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/messages", payload, nil)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/messages", payload, map[string]string{"X-Test-User": "resident-1"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var message dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(body.Data, &message))
	require.Equal(t, "c-1", message.ClientRef)
	require.Equal(t, "resident-1", mocks.chat.postUser)

	mocks.chat.postErr = service.ErrChatUnavailable
	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/messages", payload, map[string]string{"X-Test-User": "resident-1"})
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.Equal(t, "chat is only available during live streams", body.Message)

	mocks.chat.postErr = &service.ValidationError{Message: "message is too long", Fields: map[string]string{"message": "max=500"}}
	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/messages", payload, map[string]string{"X-Test-User": "resident-1"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "max=500", body.Details["message"])
}

func TestStreamChatListMessagesLimit(t *testing.T) {
	app, mocks := newStreamChatApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/stream-chat/7/messages?limit=25", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, body.Success)
	require.Equal(t, 25, mocks.chat.listLimit)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/stream-chat/7/messages?limit=lots", nil, nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStreamChatModerateRequiresModerator(t *testing.T) {
	app, mocks := newStreamChatApp(t)
	path := "/api/v1/stream-chat/7/messages/11/moderate"

	resp, _ := doJSON(t, app, http.MethodPost, path, map[string]string{"reason": "spam"}, map[string]string{"X-Test-User": "resident-1", "X-Test-Role": "resident"})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, path, map[string]string{"reason": "spam"}, map[string]string{"X-Test-User": "mod-1", "X-Test-Role": "moderator"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var message dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal(body.Data, &message))
	require.True(t, message.IsModerated)
	require.Equal(t, models.ModeratedPlaceholder, message.Message)
	require.Equal(t, "mod-1", mocks.chat.moderatorID)
}

func TestStreamChatReactions(t *testing.T) {
	app, mocks := newStreamChatApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/reactions", map[string]interface{}{"reaction_type": "like", "stream_time_seconds": 12}, map[string]string{"X-Test-User": "resident-1"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var reaction dto.ReactionResponse
	require.NoError(t, json.Unmarshal(body.Data, &reaction))
	require.EqualValues(t, 2, reaction.Count)
	require.Equal(t, 12, *mocks.reactions.req.StreamTimeSeconds)

	mocks.reactions.addErr = service.ErrThrottled
	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/stream-chat/7/reactions", map[string]string{"reaction_type": "like"}, nil)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/stream-chat/7/reactions", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var counts dto.ReactionCountsResponse
	require.NoError(t, json.Unmarshal(body.Data, &counts))
	require.EqualValues(t, 2, counts.Counts[models.ReactionLike])
}

func TestStreamChatSnapshot(t *testing.T) {
	app, mocks := newStreamChatApp(t)
	mocks.presence.snapshot = dto.StreamSnapshotResponse{
		Stream:         dto.StreamResponse{ID: 7, Status: models.StreamStatusLive},
		ViewerCount:    4,
		ReactionCounts: map[string]int64{models.ReactionClap: 9},
	}

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/stream-chat/7/snapshot", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get(fiber.HeaderCacheControl))
	var snapshot dto.StreamSnapshotResponse
	require.NoError(t, json.Unmarshal(body.Data, &snapshot))
	require.Equal(t, 4, snapshot.ViewerCount)
	require.EqualValues(t, 9, snapshot.ReactionCounts[models.ReactionClap])

	mocks.presence.snapErr = service.ErrNotFound
	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/stream-chat/7/snapshot", nil, nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
