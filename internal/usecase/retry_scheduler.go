package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/repository"
)

const defaultTaskMaxRetries = 3

// ScheduleResult reports what a Schedule call did. Created is false when a
// live schedule already existed; Schedule is then the stored one, untouched.
// Expired is only set by ScheduleUnlessExpired, with a nil Schedule.
type ScheduleResult struct {
	Schedule   *domain.Schedule
	Created    bool
	Expired    bool
	Registered int // timers registered with the deferred executor
	Overdue    int // attempts already due, left for the sweeper
}

// RetryScheduler turns an event and a list of retry offsets into a persisted
// schedule with one deferred timer per future attempt.
type RetryScheduler struct {
	store          repository.ScheduleStore
	tasks          repository.DeferredExecutor
	grace          time.Duration
	taskMaxRetries int
	logger         *slog.Logger
	now            func() time.Time
}

func NewRetryScheduler(store repository.ScheduleStore, tasks repository.DeferredExecutor, grace time.Duration, logger *slog.Logger) *RetryScheduler {
	return &RetryScheduler{
		store:          store,
		tasks:          tasks,
		grace:          grace,
		taskMaxRetries: defaultTaskMaxRetries,
		logger:         logger.With("component", "retry_scheduler"),
		now:            time.Now,
	}
}

// normalizeOffsets returns a sorted copy, rejecting empty, negative and
// duplicate offsets.
func normalizeOffsets(offsets []time.Duration) ([]time.Duration, error) {
	if len(offsets) == 0 {
		return nil, domain.ErrInvalidOffsets
	}
	sorted := slices.Clone(offsets)
	slices.Sort(sorted)
	for i, o := range sorted {
		if o < 0 || (i > 0 && o == sorted[i-1]) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidOffsets, offsets)
		}
	}
	return sorted, nil
}

func (r *RetryScheduler) Schedule(ctx context.Context, event *domain.Event, offsets []time.Duration) (*ScheduleResult, error) {
	return r.schedule(ctx, event, offsets, false)
}

// ScheduleUnlessExpired behaves like Schedule, except that an event with no
// schedule whose whole retry window closed more than the expiry grace ago is
// reported as Expired and nothing is written. Batch runs use it so the
// cleaner and the next run do not delete and recreate the same schedule.
func (r *RetryScheduler) ScheduleUnlessExpired(ctx context.Context, event *domain.Event, offsets []time.Duration) (*ScheduleResult, error) {
	return r.schedule(ctx, event, offsets, true)
}

func (r *RetryScheduler) schedule(ctx context.Context, event *domain.Event, offsets []time.Duration, skipExpired bool) (*ScheduleResult, error) {
	offsets, err := normalizeOffsets(offsets)
	if err != nil {
		return nil, err
	}

	end, err := EstimateEndTime(event)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", event.Key, err)
	}

	existing, err := r.store.Get(ctx, event.Key)
	switch {
	case err == nil:
		return &ScheduleResult{Schedule: existing}, nil
	case !errors.Is(err, domain.ErrScheduleNotFound):
		return nil, fmt.Errorf("schedule %s: %w", event.Key, err)
	}

	now := r.now().UTC()
	if skipExpired && end.Add(offsets[len(offsets)-1]).Before(now.Add(-r.grace)) {
		return &ScheduleResult{Expired: true}, nil
	}

	s := &domain.Schedule{
		Key:          event.Key,
		EventName:    event.Name,
		EstimatedEnd: end,
		CreatedAt:    now,
		Attempts:     make([]domain.Attempt, len(offsets)),
	}
	for i, off := range offsets {
		s.Attempts[i] = domain.Attempt{
			Ordinal:       i + 1,
			ScheduledTime: end.Add(off),
			Status:        domain.StatusPending,
		}
	}

	// The schedule is written before any timer exists, so a timer can never
	// fire against a missing schedule. A crash in between leaves pending
	// attempts without timers, which the sweeper picks up once they are due.
	created, err := r.store.Create(ctx, s, s.TTL(now, r.grace))
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", event.Key, err)
	}
	if !created {
		existing, err := r.store.Get(ctx, event.Key)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: reload after lost race: %w", event.Key, err)
		}
		return &ScheduleResult{Schedule: existing}, nil
	}
	metrics.SchedulesCreatedTotal.Inc()

	res := &ScheduleResult{Schedule: s, Created: true}
	for _, a := range s.Attempts {
		if !a.ScheduledTime.After(now) {
			res.Overdue++
			continue
		}
		task, err := newAttemptTask(s.Key, a, r.taskMaxRetries)
		if err != nil {
			return nil, err
		}
		if err := r.tasks.Register(ctx, task); err != nil {
			// the attempt stays pending in the store; the sweeper runs it when due
			r.logger.WarnContext(ctx, "register attempt timer failed",
				"event_key", s.Key.String(), "attempt", a.Ordinal, "error", err)
			continue
		}
		res.Registered++
	}

	r.logger.InfoContext(ctx, "schedule created",
		"event_key", s.Key.String(),
		"estimated_end", end,
		"attempts", len(s.Attempts),
		"registered", res.Registered,
		"overdue", res.Overdue,
	)
	return res, nil
}
