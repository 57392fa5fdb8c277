package repository

import (
	"context"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// CategorySyncer fetches one category of post-race data from upstream and
// upserts it into the domain store. A nil error means the category is synced.
type CategorySyncer interface {
	Sync(ctx context.Context, key domain.EventKey, category domain.Category) error
}
