package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/models"
)

// ReactionRepository stores write-once reactions and aggregates them by type.
type ReactionRepository interface {
	Create(ctx context.Context, reaction *models.Reaction) error
	CountByType(ctx context.Context, streamID uint) (map[string]int64, error)
}

type reactionRepository struct {
	db *gorm.DB
}

// NewReactionRepository constructs a reaction repository backed by GORM.
func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db}
}

func (r *reactionRepository) Create(ctx context.Context, reaction *models.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *reactionRepository) CountByType(ctx context.Context, streamID uint) (map[string]int64, error) {
	var rows []struct {
		ReactionType string
		Total        int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Reaction{}).
		Select("reaction_type, COUNT(*) AS total").
		Where("stream_id = ?", streamID).
		Group("reaction_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ReactionType] = row.Total
	}
	return counts, nil
}
