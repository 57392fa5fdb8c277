package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// ScheduleStore is the shared, process-external home of every Schedule.
// Writers always replace the whole value through Update, which retries on a
// concurrent write, so no writer overwrites a change it did not see.
type ScheduleStore interface {
	// Get returns domain.ErrScheduleNotFound when no live schedule exists and
	// wraps domain.ErrMalformedSchedule when the stored value cannot be decoded.
	Get(ctx context.Context, key domain.EventKey) (*domain.Schedule, error)

	// Create writes s only if no schedule exists for its key. created is false
	// when another writer got there first.
	Create(ctx context.Context, s *domain.Schedule, ttl time.Duration) (created bool, err error)

	// Update reads the schedule, applies fn and writes the result with the TTL
	// fn returns, as one optimistic transaction. fn runs again on a fresh copy
	// if another writer got in between, so it must not have side effects. An
	// error from fn aborts without writing and is returned as is. Returns
	// domain.ErrScheduleNotFound if the key is missing or deleted meanwhile.
	Update(ctx context.Context, key domain.EventKey, fn func(s *domain.Schedule) (ttl time.Duration, err error)) (*domain.Schedule, error)

	Delete(ctx context.Context, key domain.EventKey) error

	// ListKeys scans the schedule namespace. season 0 means every season.
	ListKeys(ctx context.Context, season int) ([]domain.EventKey, error)
}
