package models

import "time"

// ChatMessageMaxLength is the maximum number of characters a chat message may hold.
const ChatMessageMaxLength = 500

// ModeratedPlaceholder replaces the content of a moderated message for every reader.
const ModeratedPlaceholder = "[message removed by moderator]"

// Chat message types.
const (
	ChatMessageTypeText     = "text"
	ChatMessageTypeEmoji    = "emoji"
	ChatMessageTypeReaction = "reaction"
	ChatMessageTypeSystem   = "system"
)

// ChatMessage is a single live chat line on a stream.
type ChatMessage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StreamID    uint      `gorm:"not null;index" json:"stream_id"`
	UserID      string    `gorm:"size:64;index" json:"user_id"`
	Message     string    `gorm:"type:text;not null" json:"message"`
	MessageType string    `gorm:"size:32;not null;default:text" json:"message_type"`
	IsModerated bool      `gorm:"not null;default:false" json:"is_moderated"`
	ClientRef   string    `gorm:"size:64" json:"client_ref,omitempty"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatModerationAudit keeps the original content of a moderated message.
// It is never exposed through client-facing endpoints.
type ChatModerationAudit struct {
	ID              uint   `gorm:"primaryKey"`
	MessageID       uint   `gorm:"not null;uniqueIndex"`
	StreamID        uint   `gorm:"not null;index"`
	OriginalMessage string `gorm:"type:text;not null"`
	ModeratorID     string `gorm:"size:64"`
	Reason          string `gorm:"size:255"`
	CreatedAt       time.Time
}

// IsValidChatMessageType reports whether value is a known message type.
func IsValidChatMessageType(value string) bool {
	switch value {
	case ChatMessageTypeText, ChatMessageTypeEmoji, ChatMessageTypeReaction, ChatMessageTypeSystem:
		return true
	default:
		return false
	}
}
