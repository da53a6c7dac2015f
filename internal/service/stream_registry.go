package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/civic-stream-api/internal/models"
	"github.com/noah-isme/civic-stream-api/internal/repository"
)

// StreamRegistry resolves streams for the presence, chat and reaction services.
type StreamRegistry interface {
	Lookup(ctx context.Context, id uint) (models.Stream, error)
}

type streamRegistry struct {
	repo repository.StreamRepository
}

// NewStreamRegistry builds a registry backed by the stream repository.
func NewStreamRegistry(repo repository.StreamRepository) StreamRegistry {
	return &streamRegistry{repo: repo}
}

func (r *streamRegistry) Lookup(ctx context.Context, id uint) (models.Stream, error) {
	if id == 0 {
		return models.Stream{}, ErrNotFound
	}
	stream, err := r.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Stream{}, ErrNotFound
		}
		return models.Stream{}, fmt.Errorf("load stream %d: %w", id, err)
	}
	return stream, nil
}
