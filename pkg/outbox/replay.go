package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 把失败事件重新放回队列，由 Dispatcher 重新发送
type ReplayService struct {
	repo   *Repository
	logger *zap.Logger
}

// NewReplayService 创建新的 ReplayService
func NewReplayService(repo *Repository, logger *zap.Logger) *ReplayService {
	return &ReplayService{repo: repo, logger: logger}
}

// ReplayEvent resets a single event to pending.
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if err := s.repo.ResetForReplay(ctx, eventID); err != nil {
		return fmt.Errorf("failed to replay event: %w", err)
	}
	s.logger.Info("Outbox event queued for replay", zap.Int64("event_id", eventID))
	return nil
}

// ReplayFailedEvents resets up to limit failed events and returns how many were queued.
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	queued := 0
	for _, event := range events {
		if err := s.repo.ResetForReplay(ctx, event.ID); err != nil {
			s.logger.Warn("Failed to queue event for replay", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}
