package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/models"
)

// Migrate creates or updates the tables owned by the realtime core.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Stream{},
		&models.ViewerSession{},
		&models.ChatMessage{},
		&models.ChatModerationAudit{},
		&models.Reaction{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
