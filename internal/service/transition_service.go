package service

import (
	"context"
	"fmt"

	"cleaning-status-filter-go/internal/model"
	"cleaning-status-filter-go/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTransitionLimit количество записей журнала по умолчанию
const DefaultTransitionLimit = 50

// MaxTransitionLimit максимальное количество записей за один запрос
const MaxTransitionLimit = 1000

// TransitionService журнал смен стабильного статуса
type TransitionService struct {
	repo   repository.TransitionRepository
	logger *logrus.Logger
}

// NewTransitionService создает новый сервис журнала
func NewTransitionService(repo repository.TransitionRepository, logger *logrus.Logger) *TransitionService {
	return &TransitionService{
		repo:   repo,
		logger: logger,
	}
}

// RecordTransition сохраняет смену статуса в базе данных
func (s *TransitionService) RecordTransition(ctx context.Context, transition Transition) error {
	record := &model.StatusTransition{
		ID:         uuid.New().String(),
		StreamID:   transition.StreamID,
		FromStatus: transition.From.String(),
		ToStatus:   transition.To.String(),
		CenterY:    transition.CenterY,
		OccurredAt: transition.At,
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}

	s.logger.Debugf("Смена статуса %s сохранена с ID %s", transition.StreamID, record.ID)
	return nil
}

// ListTransitions возвращает журнал смен статуса
func (s *TransitionService) ListTransitions(ctx context.Context, streamID string, limit int) ([]*model.StatusTransition, error) {
	if limit <= 0 {
		limit = DefaultTransitionLimit
	}
	if limit > MaxTransitionLimit {
		limit = MaxTransitionLimit
	}

	transitions, err := s.repo.List(ctx, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return transitions, nil
}
