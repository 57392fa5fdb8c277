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

// AttemptRef points at one attempt of one schedule.
type AttemptRef struct {
	Key           domain.EventKey `json:"event_key"`
	Ordinal       int             `json:"attempt"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Status        domain.Status   `json:"status,omitempty"`
}

type SweepResult struct {
	Triggered []AttemptRef `json:"triggered"`
	Abandoned []AttemptRef `json:"abandoned"`
	Errors    int          `json:"errors"`
}

// Sweeper catches attempts whose timer never fired: every pending attempt
// that is already due is executed synchronously. Running the same attempt
// concurrently with its timer is harmless because the executor skips
// anything no longer pending.
type Sweeper struct {
	store        repository.ScheduleStore
	executor     *SyncExecutor
	staleRunning time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewSweeper(store repository.ScheduleStore, executor *SyncExecutor, staleRunning time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:        store,
		executor:     executor,
		staleRunning: staleRunning,
		logger:       logger.With("component", "sweeper"),
		now:          time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	keys, err := s.store.ListKeys(ctx, 0)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Triggered: []AttemptRef{}, Abandoned: []AttemptRef{}}
	for _, key := range keys {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.sweepOne(ctx, key, res)
	}

	metrics.SweepTriggeredTotal.Add(float64(len(res.Triggered)))
	metrics.SweepAbandonedTotal.Add(float64(len(res.Abandoned)))
	if len(res.Triggered) > 0 || len(res.Abandoned) > 0 || res.Errors > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			"schedules", len(keys),
			"triggered", len(res.Triggered),
			"abandoned", len(res.Abandoned),
			"errors", res.Errors,
		)
	}
	return res, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, key domain.EventKey, res *SweepResult) {
	sched, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrScheduleNotFound):
		return // expired between scan and read
	case errors.Is(err, domain.ErrMalformedSchedule):
		s.logger.WarnContext(ctx, "skipping malformed schedule", "event_key", key.String(), "error", err)
		return
	case err != nil:
		s.logger.ErrorContext(ctx, "read schedule", "event_key", key.String(), "error", err)
		res.Errors++
		return
	}

	now := s.now().UTC()
	if s.staleRunning > 0 {
		cutoff := now.Add(-s.staleRunning)
		for _, a := range sched.Attempts {
			if a.Status != domain.StatusRunning {
				continue
			}
			ok, err := s.executor.Abandon(ctx, key, a.Ordinal, cutoff)
			if err != nil {
				s.logger.ErrorContext(ctx, "abandon stale attempt", "event_key", key.String(), "attempt", a.Ordinal, "error", err)
				res.Errors++
				continue
			}
			if ok {
				res.Abandoned = append(res.Abandoned, AttemptRef{
					Key: key, Ordinal: a.Ordinal, ScheduledTime: a.ScheduledTime, Status: domain.StatusFailed,
				})
			}
		}
	}

	for _, a := range sched.DuePending(now) {
		out, err := s.executor.Execute(ctx, key, a.Ordinal)
		if err != nil {
			s.logger.ErrorContext(ctx, "execute overdue attempt", "event_key", key.String(), "attempt", a.Ordinal, "error", err)
			res.Errors++
			continue
		}
		if out.Skipped {
			continue
		}
		res.Triggered = append(res.Triggered, AttemptRef{
			Key: key, Ordinal: a.Ordinal, ScheduledTime: a.ScheduledTime, Status: out.Status,
		})
	}
}
