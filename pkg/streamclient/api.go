package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// DeviceInfo describes the viewer device reported on join.
type DeviceInfo struct {
	DeviceType string                 `json:"device_type,omitempty"`
	Browser    string                 `json:"browser,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// JoinRequest is the body of the join call.
type JoinRequest struct {
	SessionID  string     `json:"session_id,omitempty"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// JoinResult is returned by a successful join.
type JoinResult struct {
	ViewerID        string `json:"viewer_id"`
	ViewerCount     int    `json:"viewer_count"`
	PeakViewerCount int    `json:"peak_viewer_count"`
}

// MessageRequest is the body of a chat post.
type MessageRequest struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type,omitempty"`
	ClientRef   string `json:"client_ref,omitempty"`
}

// ReactionRequest is the body of a reaction post. SessionID identifies
// anonymous viewers to the throttle.
type ReactionRequest struct {
	ReactionType      string `json:"reaction_type"`
	ReactionEmoji     string `json:"reaction_emoji,omitempty"`
	StreamTimeSeconds *int   `json:"stream_time_seconds,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
}

// API is the REST surface the session depends on.
type API interface {
	Join(ctx context.Context, streamID uint, req JoinRequest) (JoinResult, error)
	Leave(ctx context.Context, streamID uint, viewerID string) error
	Snapshot(ctx context.Context, streamID uint) (channel.Snapshot, error)
	PostMessage(ctx context.Context, streamID uint, req MessageRequest) (channel.ChatMessagePayload, error)
	AddReaction(ctx context.Context, streamID uint, req ReactionRequest) (channel.ReactionAddedPayload, error)
}

// APIError is a non-2xx response from the stream API.
type APIError struct {
	StatusCode int
	Message    string
	Details    map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stream api: %d %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]string `json:"details"`
}

// HTTPClient calls the stream-chat REST endpoints.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a client for baseURL (for example http://host:8080/api/v1).
// token is sent as a bearer token when non-empty.
func NewHTTPClient(baseURL, token string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (c *HTTPClient) Join(ctx context.Context, streamID uint, req JoinRequest) (JoinResult, error) {
	var result JoinResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/stream-chat/%d/join", streamID), req, &result)
	return result, err
}

func (c *HTTPClient) Leave(ctx context.Context, streamID uint, viewerID string) error {
	body := map[string]string{"viewer_id": viewerID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/stream-chat/%d/leave", streamID), body, nil)
}

func (c *HTTPClient) Snapshot(ctx context.Context, streamID uint) (channel.Snapshot, error) {
	var snapshot channel.Snapshot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/stream-chat/%d/snapshot", streamID), nil, &snapshot)
	return snapshot, err
}

func (c *HTTPClient) PostMessage(ctx context.Context, streamID uint, req MessageRequest) (channel.ChatMessagePayload, error) {
	var message channel.ChatMessagePayload
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/stream-chat/%d/messages", streamID), req, &message)
	return message, err
}

func (c *HTTPClient) AddReaction(ctx context.Context, streamID uint, req ReactionRequest) (channel.ReactionAddedPayload, error) {
	var added channel.ReactionAddedPayload
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/stream-chat/%d/reactions", streamID), req, &added)
	return added, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var payload envelope
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !payload.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Message, Details: payload.Details}
	}

	if out == nil || len(payload.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
