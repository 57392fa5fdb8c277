package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	ctxlog "github.com/ErlanBelekov/race-sync/internal/log"
	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	abandonedError = "execution abandoned"
	// finalWriteTimeout bounds the result write, which outlives the caller's context.
	finalWriteTimeout = 10 * time.Second
)

// errNoChange aborts a store update that found nothing to write.
var errNoChange = errors.New("no change")

// Alerter is told once per schedule when every attempt has finished and none
// fully succeeded.
type Alerter interface {
	ScheduleExhausted(ctx context.Context, s *domain.Schedule) error
}

// AttemptOutcome is what one Execute call observed. Skipped means the attempt
// was not pending when invoked (or another execution finished it first) and
// Status is whatever the store holds.
type AttemptOutcome struct {
	Key     domain.EventKey
	Ordinal int
	Status  domain.Status
	Results *domain.CategoryResults
	Error   string
	Skipped bool
}

// SyncExecutor runs one attempt: every category is fetched independently and
// the aggregate outcome is written back to the schedule.
type SyncExecutor struct {
	store           repository.ScheduleStore
	syncer          repository.CategorySyncer
	alerter         Alerter
	grace           time.Duration
	categoryTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

func NewSyncExecutor(
	store repository.ScheduleStore,
	syncer repository.CategorySyncer,
	alerter Alerter,
	grace, categoryTimeout time.Duration,
	logger *slog.Logger,
) *SyncExecutor {
	return &SyncExecutor{
		store:           store,
		syncer:          syncer,
		alerter:         alerter,
		grace:           grace,
		categoryTimeout: categoryTimeout,
		logger:          logger.With("component", "sync_executor"),
		now:             time.Now,
	}
}

// Execute returns domain.ErrScheduleNotFound or domain.ErrAttemptNotFound
// when there is nothing to run; callers must not retry those. Category
// failures never surface as errors, only in the outcome.
func (e *SyncExecutor) Execute(ctx context.Context, key domain.EventKey, ordinal int) (*AttemptOutcome, error) {
	ctx = ctxlog.With(ctx, slog.String("event_key", key.String()), slog.Int("attempt", ordinal))

	start := e.now().UTC()
	var skipped *AttemptOutcome
	_, err := e.store.Update(ctx, key, func(s *domain.Schedule) (time.Duration, error) {
		skipped = nil
		a, err := s.Attempt(ordinal)
		if err != nil {
			return 0, err
		}
		if a.Status != domain.StatusPending {
			skipped = &AttemptOutcome{Key: key, Ordinal: ordinal, Status: a.Status, Results: a.Results, Skipped: true}
			return 0, errNoChange
		}
		if err := a.Transition(domain.StatusRunning); err != nil {
			return 0, err
		}
		a.ExecutedTime = &start
		return s.TTL(start, e.grace), nil
	})
	switch {
	case errors.Is(err, errNoChange):
		metrics.AttemptsExecutedTotal.WithLabelValues("skipped").Inc()
		e.logger.InfoContext(ctx, "attempt not pending, skipping", "status", skipped.Status)
		return skipped, nil
	case errors.Is(err, domain.ErrAttemptNotFound):
		e.logger.ErrorContext(ctx, "attempt missing from schedule")
		return nil, fmt.Errorf("execute attempt: %w", err)
	case err != nil:
		return nil, fmt.Errorf("mark attempt running: %w", err)
	}
	e.logger.InfoContext(ctx, "attempt started")

	results, errText := e.syncCategories(ctx, key)
	status := results.Status()
	metrics.AttemptExecutionDuration.Observe(e.now().Sub(start).Seconds())

	// The caller's deadline may be spent by now; the result is still written,
	// otherwise the attempt sits in running until the sweeper abandons it.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	stored, err := e.finish(wctx, key, ordinal, func(a *domain.Attempt) error {
		if a.Status != domain.StatusRunning {
			return errNoChange
		}
		if err := a.Transition(status); err != nil {
			return err
		}
		r := results
		a.Results = &r
		a.ExecutedTime = &start
		if errText != "" {
			a.Error = &errText
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		metrics.AttemptsExecutedTotal.WithLabelValues("skipped").Inc()
		e.logger.WarnContext(ctx, "attempt finished elsewhere, keeping stored result",
			"stored_status", stored.Status, "our_status", status)
		return &AttemptOutcome{Key: key, Ordinal: ordinal, Status: stored.Status, Results: stored.Results, Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("save attempt result: %w", err)
	}

	metrics.AttemptsExecutedTotal.WithLabelValues(string(status)).Inc()
	e.logger.InfoContext(ctx, "attempt finished",
		"status", status,
		"succeeded", results.Succeeded(),
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return &AttemptOutcome{Key: key, Ordinal: ordinal, Status: status, Results: &results, Error: errText}, nil
}

// Abandon fails an attempt that has been running since before cutoff. The
// worker that started it is presumed dead.
func (e *SyncExecutor) Abandon(ctx context.Context, key domain.EventKey, ordinal int, cutoff time.Time) (bool, error) {
	stored, err := e.finish(ctx, key, ordinal, func(a *domain.Attempt) error {
		if a.Status != domain.StatusRunning || a.ExecutedTime == nil || !a.ExecutedTime.Before(cutoff) {
			return errNoChange
		}
		if err := a.Transition(domain.StatusFailed); err != nil {
			return err
		}
		reason := abandonedError
		a.Error = &reason
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.AttemptsExecutedTotal.WithLabelValues("abandoned").Inc()
	e.logger.WarnContext(ctx, "running attempt abandoned",
		"event_key", key.String(), "attempt", ordinal, "started", *stored.ExecutedTime)
	return true, nil
}

// finish applies change to one attempt in a single store update and, the
// first time the schedule turns out exhausted, sends the alert. AlertSent is
// persisted with the change, so an alert goes out at most once even if the
// send fails. The returned attempt is the stored one, also when change
// returned errNoChange.
func (e *SyncExecutor) finish(ctx context.Context, key domain.EventKey, ordinal int, change func(a *domain.Attempt) error) (domain.Attempt, error) {
	var (
		attempt domain.Attempt
		alert   bool
	)
	s, err := e.store.Update(ctx, key, func(s *domain.Schedule) (time.Duration, error) {
		alert = false
		a, err := s.Attempt(ordinal)
		if err != nil {
			return 0, err
		}
		attempt = *a
		if err := change(a); err != nil {
			return 0, err
		}
		attempt = *a
		alert = e.alerter != nil && s.Exhausted() && !s.AlertSent
		if alert {
			s.AlertSent = true
		}
		return s.TTL(e.now().UTC(), e.grace), nil
	})
	if err != nil {
		return attempt, err
	}
	if !alert {
		return attempt, nil
	}
	if err := e.alerter.ScheduleExhausted(ctx, s); err != nil {
		metrics.AlertsSentTotal.WithLabelValues("error").Inc()
		e.logger.ErrorContext(ctx, "send exhausted alert", "event_key", s.Key.String(), "error", err)
		return attempt, nil
	}
	metrics.AlertsSentTotal.WithLabelValues("sent").Inc()
	return attempt, nil
}

// syncCategories issues every category in parallel, each under its own
// timeout. One failing or panicking category never affects the others.
func (e *SyncExecutor) syncCategories(ctx context.Context, key domain.EventKey) (domain.CategoryResults, string) {
	cats := domain.Categories()
	errs := make([]error, len(cats))
	var results domain.CategoryResults

	var g errgroup.Group
	for i, c := range cats {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("panic: %v", r)
				}
			}()

			cctx, cancel := context.WithTimeout(ctx, e.categoryTimeout)
			defer cancel()

			if err := e.syncer.Sync(cctx, key, c); err != nil {
				errs[i] = err
				return nil
			}
			results.Set(c, true)
			return nil
		})
	}
	_ = g.Wait()

	var msgs []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", e.categoryTimeout)
		}
		e.logger.WarnContext(ctx, "category sync failed", "category", cats[i].String(), "error", err)
		msgs = append(msgs, fmt.Sprintf("%s: %v", cats[i], err))
	}
	return results, strings.Join(msgs, "; ")
}
