package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/models"
)

// ModerationOutcome reports the state of a message after a moderation request.
type ModerationOutcome struct {
	Message models.ChatMessage
	Changed bool
}

// ChatRepository persists stream chat messages and the moderation audit trail.
type ChatRepository interface {
	Save(ctx context.Context, message *models.ChatMessage) error
	FindByID(ctx context.Context, id uint) (models.ChatMessage, error)
	ListRecent(ctx context.Context, streamID uint, limit int) ([]models.ChatMessage, error)
	Moderate(ctx context.Context, id uint, moderatorID, reason string) (ModerationOutcome, error)
	FindAudit(ctx context.Context, messageID uint) (models.ChatModerationAudit, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Save(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *chatRepository) FindByID(ctx context.Context, id uint) (models.ChatMessage, error) {
	var message models.ChatMessage
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&message).Error; err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *chatRepository) ListRecent(ctx context.Context, streamID uint, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var messages []models.ChatMessage
	if err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Moderate redacts a message and stores its original content in the audit table.
// Moderating an already moderated message changes nothing.
func (r *chatRepository) Moderate(ctx context.Context, id uint, moderatorID, reason string) (ModerationOutcome, error) {
	var outcome ModerationOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.ChatMessage
		if err := tx.Where("id = ?", id).Take(&message).Error; err != nil {
			return err
		}
		if message.IsModerated {
			outcome.Message = message
			return nil
		}

		result := tx.Model(&models.ChatMessage{}).
			Where("id = ? AND is_moderated = ?", id, false).
			Updates(map[string]interface{}{
				"is_moderated": true,
				"message":      models.ModeratedPlaceholder,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Where("id = ?", id).Take(&outcome.Message).Error
		}

		audit := models.ChatModerationAudit{
			MessageID:       message.ID,
			StreamID:        message.StreamID,
			OriginalMessage: message.Message,
			ModeratorID:     moderatorID,
			Reason:          reason,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}

		message.IsModerated = true
		message.Message = models.ModeratedPlaceholder
		outcome.Message = message
		outcome.Changed = true
		return nil
	})
	if err != nil {
		return ModerationOutcome{}, err
	}
	return outcome, nil
}

func (r *chatRepository) FindAudit(ctx context.Context, messageID uint) (models.ChatModerationAudit, error) {
	var audit models.ChatModerationAudit
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&audit).Error; err != nil {
		return models.ChatModerationAudit{}, err
	}
	return audit, nil
}
