package channel

import "time"

// PresencePayload accompanies viewer_joined and viewer_left.
type PresencePayload struct {
	ViewerID        string `json:"viewer_id"`
	ViewerCount     int    `json:"viewer_count"`
	PeakViewerCount int    `json:"peak_viewer_count"`
}

// ChatMessagePayload accompanies chat_message.
type ChatMessagePayload struct {
	ID          uint      `json:"id"`
	StreamID    uint      `json:"stream_id"`
	UserID      string    `json:"user_id,omitempty"`
	Message     string    `json:"message"`
	MessageType string    `json:"message_type"`
	IsModerated bool      `json:"is_moderated"`
	ClientRef   string    `json:"client_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageModeratedPayload accompanies message_moderated.
type MessageModeratedPayload struct {
	MessageID   uint   `json:"message_id"`
	Placeholder string `json:"placeholder"`
}

// ReactionPayload describes a single reaction.
type ReactionPayload struct {
	ID                uint      `json:"id"`
	StreamID          uint      `json:"stream_id"`
	UserID            string    `json:"user_id,omitempty"`
	ReactionType      string    `json:"reaction_type"`
	Emoji             string    `json:"reaction_emoji"`
	StreamTimeSeconds *int      `json:"stream_time_seconds,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ReactionAddedPayload accompanies reaction_added. Count is the aggregated total
// for the reaction type after this reaction.
type ReactionAddedPayload struct {
	Reaction ReactionPayload `json:"reaction"`
	Count    int64           `json:"count"`
}

// StreamLifecyclePayload accompanies stream_started and stream_ended.
type StreamLifecyclePayload struct {
	StreamID uint      `json:"stream_id"`
	Status   string    `json:"status"`
	At       time.Time `json:"at"`
	Closed   int64     `json:"closed_sessions,omitempty"`
}
