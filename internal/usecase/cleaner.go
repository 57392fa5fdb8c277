package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/repository"
)

// Cleaner deletes schedules whose retry window closed more than grace ago.
// A schedule with any attempt still pending or running is never deleted.
type Cleaner struct {
	store  repository.ScheduleStore
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewCleaner(store repository.ScheduleStore, grace time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		store:  store,
		grace:  grace,
		logger: logger.With("component", "cleaner"),
		now:    time.Now,
	}
}

func (c *Cleaner) Clean(ctx context.Context) (int, error) {
	keys, err := c.store.ListKeys(ctx, 0)
	if err != nil {
		return 0, err
	}

	cutoff := c.now().UTC().Add(-c.grace)
	deleted := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}

		s, err := c.store.Get(ctx, key)
		switch {
		case errors.Is(err, domain.ErrScheduleNotFound):
			continue
		case errors.Is(err, domain.ErrMalformedSchedule):
			c.logger.WarnContext(ctx, "deleting malformed schedule", "event_key", key.String(), "error", err)
		case err != nil:
			c.logger.ErrorContext(ctx, "read schedule", "event_key", key.String(), "error", err)
			continue
		default:
			if !s.AllTerminal() || !s.LastScheduledTime().Before(cutoff) {
				continue
			}
		}

		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.ErrorContext(ctx, "delete schedule", "event_key", key.String(), "error", err)
			continue
		}
		deleted++
	}

	metrics.CleanupDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		c.logger.InfoContext(ctx, "expired schedules deleted", "count", deleted)
	}
	return deleted, nil
}
