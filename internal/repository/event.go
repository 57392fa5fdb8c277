package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// EventRepository is read-only access to the race calendar.
type EventRepository interface {
	ListEvents(ctx context.Context, season int) ([]*domain.Event, error)
	Get(ctx context.Context, key domain.EventKey) (*domain.Event, error)
	// ListBetween returns events whose event date falls within [from, to].
	ListBetween(ctx context.Context, from, to time.Time) ([]*domain.Event, error)
}
