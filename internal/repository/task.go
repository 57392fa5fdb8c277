package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// DeferredExecutor registers callbacks to run at or after a wall-clock time on
// any worker, at least once.
type DeferredExecutor interface {
	// Register upserts by task ID. A task that is currently running is left as is.
	Register(ctx context.Context, task *domain.DeferredTask) error
	// Cancel is best effort: only a task still pending is cancelled.
	Cancel(ctx context.Context, taskID string) error
}

// TaskQueue is the worker side of the deferred executor.
type TaskQueue interface {
	Claim(ctx context.Context, workerID string, limit int) ([]*domain.DeferredTask, error)
	UpdateHeartbeat(ctx context.Context, taskID string) error
	Complete(ctx context.Context, taskID string) error
	Fail(ctx context.Context, taskID string, lastError string) error
	Reschedule(ctx context.Context, taskID string, lastError string, retryAt time.Time) error

	// Reaper methods: recover tasks from crashed workers
	RescheduleStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)
	FailStale(ctx context.Context, staleCutoff time.Time, limit int) (int, error)
}
