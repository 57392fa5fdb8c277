package domain

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskKindExecuteAttempt is the callback identifier for one post-race sync attempt.
const TaskKindExecuteAttempt = "post_race_sync.execute"

// DeferredTask is a timer registration: invoke the Kind callback with Payload
// at or after FireAt, on whichever worker claims it first.
type DeferredTask struct {
	ID      string
	Kind    string
	Payload []byte
	FireAt  time.Time

	Status     TaskStatus
	RetryCount int
	MaxRetries int

	ClaimedAt   *time.Time
	ClaimedBy   *string // worker ID
	HeartbeatAt *time.Time
	LastError   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttemptTaskID is stable per (event, attempt) so a repeated registration
// overwrites the earlier one instead of adding a second timer.
func AttemptTaskID(key EventKey, ordinal int) string {
	return fmt.Sprintf("post_race_sync:%d:%d:%d", key.Season, key.Round, ordinal)
}
