package dto

import (
	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/pkg/channel"
)

// DeviceInfo carries what the client reports about itself on join.
type DeviceInfo struct {
	DeviceType string                 `json:"device_type" validate:"omitempty,max=32"`
	Browser    string                 `json:"browser" validate:"omitempty,max=64"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// JoinStreamRequest opens a viewer session.
type JoinStreamRequest struct {
	SessionID  string     `json:"session_id" validate:"omitempty,max=128"`
	DeviceInfo DeviceInfo `json:"device_info"`
}

// JoinStreamResponse reports the session id and counters after the join.
type JoinStreamResponse struct {
	ViewerID        string `json:"viewer_id"`
	ViewerCount     int    `json:"viewer_count"`
	PeakViewerCount int    `json:"peak_viewer_count"`
}

// LeaveStreamRequest closes a viewer session.
type LeaveStreamRequest struct {
	ViewerID string `json:"viewer_id" validate:"required,uuid"`
}

// LeaveStreamResponse reports the outcome of a leave. Closed is false when the
// session had already been closed.
type LeaveStreamResponse struct {
	ViewerID             string `json:"viewer_id"`
	Closed               bool   `json:"closed"`
	WatchDurationSeconds int64  `json:"watch_duration_seconds"`
	ViewerCount          int    `json:"viewer_count"`
	PeakViewerCount      int    `json:"peak_viewer_count"`
}

// PostMessageRequest is a chat line sent by an authenticated viewer.
type PostMessageRequest struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text emoji reaction system"`
	ClientRef   string `json:"client_ref" validate:"omitempty,max=64"`
}

// ModerateMessageRequest carries the moderator's reason.
type ModerateMessageRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// ChatMessageResponse is the client view of a chat message.
type ChatMessageResponse = channel.ChatMessagePayload

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:          message.ID,
		StreamID:    message.StreamID,
		UserID:      message.UserID,
		Message:     message.Message,
		MessageType: message.MessageType,
		IsModerated: message.IsModerated,
		ClientRef:   message.ClientRef,
		CreatedAt:   message.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

// AddReactionRequest records a reaction. Anonymous viewers identify themselves
// with the session id they joined with.
type AddReactionRequest struct {
	ReactionType      string `json:"reaction_type" validate:"required,oneof=like love clap laugh wow sad"`
	ReactionEmoji     string `json:"reaction_emoji" validate:"omitempty,max=16"`
	StreamTimeSeconds *int   `json:"stream_time_seconds" validate:"omitempty,min=0"`
	SessionID         string `json:"session_id" validate:"omitempty,max=128"`
}

// ReactionResponse is the stored reaction with the aggregated count for its type.
type ReactionResponse = channel.ReactionAddedPayload

// NewReactionPayload converts a reaction model into its wire form.
func NewReactionPayload(reaction models.Reaction) channel.ReactionPayload {
	return channel.ReactionPayload{
		ID:                reaction.ID,
		StreamID:          reaction.StreamID,
		UserID:            reaction.UserID,
		ReactionType:      reaction.ReactionType,
		Emoji:             reaction.Emoji,
		StreamTimeSeconds: reaction.StreamTimeSeconds,
		CreatedAt:         reaction.CreatedAt,
	}
}

// ReactionCountsResponse lists the aggregated counts of every reaction type.
type ReactionCountsResponse struct {
	StreamID uint             `json:"stream_id"`
	Counts   map[string]int64 `json:"counts"`
	Total    int64            `json:"total"`
}
