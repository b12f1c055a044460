package dlq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
	"github.com/oramind/gatekit/retry"
)

// Service provides dead-letter inspection and replay over the retry
// store. All writes go through the retry coordinator so this package
// never schedules work on its own.
type Service struct {
	store       retry.Store
	coordinator *retry.Coordinator
	logger      *slog.Logger
}

// NewService creates a dead-letter service.
func NewService(store retry.Store, coordinator *retry.Coordinator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, coordinator: coordinator, logger: logger}
}

// List returns exhausted entries, newest first, up to limit.
func (s *Service) List(ctx context.Context, limit int) ([]*retry.Entry, error) {
	return s.store.ListRetriesByStatus(ctx, retry.StatusFailed, retry.ListOpts{Limit: limit})
}

// Abandoned returns operator-dropped entries, newest first, up to limit.
func (s *Service) Abandoned(ctx context.Context, limit int) ([]*retry.Entry, error) {
	return s.store.ListRetriesByStatus(ctx, retry.StatusAbandoned, retry.ListOpts{Limit: limit})
}

// Count returns how many entries have exhausted their attempt budget.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountRetries(ctx, retry.StatusFailed)
}

// Get returns a single dead-lettered entry. A live entry is not part of
// this surface and yields ErrNotDeadLettered.
func (s *Service) Get(ctx context.Context, retryID id.RetryID) (*retry.Entry, error) {
	e, err := s.store.GetRetry(ctx, retryID)
	if err != nil {
		return nil, err
	}
	if !e.Terminal() {
		return nil, fmt.Errorf("%w: entry %s has status %s", gatekit.ErrNotDeadLettered, e.ID, e.Status)
	}
	return e, nil
}

// Replay re-enqueues a dead-lettered entry as a fresh, immediately-due
// retry with the original payload and a reset attempt budget. The dead
// entry itself is left untouched as the record of the exhaustion.
func (s *Service) Replay(ctx context.Context, retryID id.RetryID) (*retry.Entry, error) {
	dead, err := s.Get(ctx, retryID)
	if err != nil {
		return nil, err
	}

	fresh, err := s.coordinator.Add(ctx, dead.ItemType, dead.SourceID, dead.Payload,
		fmt.Sprintf("replayed from dead letter %s", dead.ID),
		retry.WithMaxAttempts(dead.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("replay dead letter %s: %w", dead.ID, err)
	}
	if err := s.coordinator.RetryNow(ctx, fresh.ID); err != nil {
		// The replacement exists and will run at its scheduled time.
		s.logger.Warn("replayed entry not forced due",
			slog.String("retry_id", fresh.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("dead letter replayed",
		slog.String("dead_retry_id", dead.ID.String()),
		slog.String("retry_id", fresh.ID.String()),
		slog.String("item_type", dead.ItemType),
	)
	return fresh, nil
}
