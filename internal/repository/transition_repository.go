package repository

import (
	"context"
	"fmt"

	"cleaning-status-filter-go/internal/model"

	"gorm.io/gorm"
)

// TransitionRepository интерфейс для работы с журналом смен статуса
type TransitionRepository interface {
	Create(ctx context.Context, transition *model.StatusTransition) error
	List(ctx context.Context, streamID string, limit int) ([]*model.StatusTransition, error)
}

// transitionRepository реализация TransitionRepository
type transitionRepository struct {
	db *gorm.DB
}

// NewTransitionRepository создает новый instance TransitionRepository
func NewTransitionRepository(db *gorm.DB) TransitionRepository {
	return &transitionRepository{
		db: db,
	}
}

// Create сохраняет смену статуса
func (r *transitionRepository) Create(ctx context.Context, transition *model.StatusTransition) error {
	if err := r.db.WithContext(ctx).Create(transition).Error; err != nil {
		return fmt.Errorf("failed to create transition: %w", err)
	}
	return nil
}

// List возвращает последние смены статуса, новые первыми. Пустой streamID означает все потоки.
func (r *transitionRepository) List(ctx context.Context, streamID string, limit int) ([]*model.StatusTransition, error) {
	var transitions []*model.StatusTransition

	query := r.db.WithContext(ctx).Order("occurred_at DESC").Limit(limit)
	if streamID != "" {
		query = query.Where("stream_id = ?", streamID)
	}

	if err := query.Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return transitions, nil
}
