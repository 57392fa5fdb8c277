package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

type AttemptExecutor interface {
	ExecuteNow(ctx context.Context, key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error)
}

// NewAttemptHandler handles domain.TaskKindExecuteAttempt. A missing
// schedule or attempt, or an unreadable payload, is a data problem and is
// never retried; store outages are.
func NewAttemptHandler(exec AttemptExecutor) Handler {
	return HandlerFunc(func(ctx context.Context, task *domain.DeferredTask) error {
		p, err := usecase.DecodeAttemptPayload(task.Payload)
		if err != nil {
			return Permanent(err)
		}

		_, err = exec.ExecuteNow(ctx, p.Key(), p.Attempt)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrScheduleNotFound),
			errors.Is(err, domain.ErrAttemptNotFound),
			errors.Is(err, domain.ErrMalformedSchedule):
			return Permanent(fmt.Errorf("attempt %s/%d: %w", p.Key(), p.Attempt, err))
		default:
			return fmt.Errorf("attempt %s/%d: %w", p.Key(), p.Attempt, err)
		}
	})
}
