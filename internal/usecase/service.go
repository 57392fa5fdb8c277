package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/repository"
)

type Options struct {
	ManualOffsets   []time.Duration
	SeasonOffsets   []time.Duration
	ExpiryGrace     time.Duration
	CategoryTimeout time.Duration
	StaleRunning    time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		ManualOffsets:   hours(6, 12, 24),
		SeasonOffsets:   hours(6, 12, 24, 30, 36, 42, 48),
		ExpiryGrace:     7 * 24 * time.Hour,
		CategoryTimeout: 60 * time.Second,
		StaleRunning:    30 * time.Minute,
	}
}

func hours(hs ...int) []time.Duration {
	out := make([]time.Duration, len(hs))
	for i, h := range hs {
		out[i] = time.Duration(h) * time.Hour
	}
	return out
}

// Service is the post-race sync facade used by the HTTP API, the CLI and
// the scheduler process.
type Service struct {
	events       repository.EventRepository
	store        repository.ScheduleStore
	tasks        repository.DeferredExecutor
	scheduler    *RetryScheduler
	executor     *SyncExecutor
	sweeper      *Sweeper
	cleaner      *Cleaner
	orchestrator *SeasonOrchestrator
	opts         Options
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(
	events repository.EventRepository,
	store repository.ScheduleStore,
	tasks repository.DeferredExecutor,
	syncer repository.CategorySyncer,
	alerter Alerter,
	opts Options,
	logger *slog.Logger,
) *Service {
	scheduler := NewRetryScheduler(store, tasks, opts.ExpiryGrace, logger)
	executor := NewSyncExecutor(store, syncer, alerter, opts.ExpiryGrace, opts.CategoryTimeout, logger)
	return &Service{
		events:       events,
		store:        store,
		tasks:        tasks,
		scheduler:    scheduler,
		executor:     executor,
		sweeper:      NewSweeper(store, executor, opts.StaleRunning, logger),
		cleaner:      NewCleaner(store, opts.ExpiryGrace, logger),
		orchestrator: NewSeasonOrchestrator(events, scheduler, logger),
		opts:         opts,
		logger:       logger.With("component", "post_race_service"),
		now:          time.Now,
	}
}

type AttemptView struct {
	Ordinal       int             `json:"attempt"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	ExecutedTime  *time.Time      `json:"executed_time,omitempty"`
	Status        domain.Status   `json:"status"`
	Results       map[string]bool `json:"results,omitempty"`
	Error         *string         `json:"error,omitempty"`
}

// ScheduleSummary is the read model of a schedule.
type ScheduleSummary struct {
	Key          domain.EventKey  `json:"event_key"`
	EventName    string           `json:"event_name"`
	EstimatedEnd time.Time        `json:"estimated_end_time"`
	CreatedAt    time.Time        `json:"created_at"`
	Lifecycle    domain.Lifecycle `json:"lifecycle"`
	IsCompleted  bool             `json:"is_completed"`
	SuccessRate  float64          `json:"success_rate"`
	NextPending  *AttemptView     `json:"next_pending_attempt,omitempty"`
	Attempts     []AttemptView    `json:"attempts"`

	// set by ScheduleEvent only
	Created    bool `json:"created,omitempty"`
	Registered int  `json:"registered_timers,omitempty"`
	Overdue    int  `json:"overdue_attempts,omitempty"`
}

func attemptView(a domain.Attempt) AttemptView {
	v := AttemptView{
		Ordinal:       a.Ordinal,
		ScheduledTime: a.ScheduledTime,
		ExecutedTime:  a.ExecutedTime,
		Status:        a.Status,
		Error:         a.Error,
	}
	if a.Results != nil {
		v.Results = a.Results.Map()
	}
	return v
}

func Summarize(s *domain.Schedule) *ScheduleSummary {
	sum := &ScheduleSummary{
		Key:          s.Key,
		EventName:    s.EventName,
		EstimatedEnd: s.EstimatedEnd,
		CreatedAt:    s.CreatedAt,
		Lifecycle:    s.Lifecycle(),
		IsCompleted:  s.IsCompleted(),
		SuccessRate:  s.SuccessRate(),
		Attempts:     make([]AttemptView, len(s.Attempts)),
	}
	for i, a := range s.Attempts {
		sum.Attempts[i] = attemptView(a)
	}
	if next := s.NextPending(); next != nil {
		v := attemptView(*next)
		sum.NextPending = &v
	}
	return sum
}

// ScheduleEvent schedules one event. nil offsets means the manual defaults.
func (s *Service) ScheduleEvent(ctx context.Context, key domain.EventKey, offsets []time.Duration) (*ScheduleSummary, error) {
	event, err := s.events.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", key, err)
	}
	if offsets == nil {
		offsets = s.opts.ManualOffsets
	}

	res, err := s.scheduler.Schedule(ctx, event, offsets)
	if err != nil {
		return nil, err
	}
	sum := Summarize(res.Schedule)
	sum.Created = res.Created
	sum.Registered = res.Registered
	sum.Overdue = res.Overdue
	return sum, nil
}

func (s *Service) GetSchedule(ctx context.Context, key domain.EventKey) (*domain.Schedule, error) {
	return s.store.Get(ctx, key)
}

// CancelSchedule cancels every attempt still pending and withdraws their
// timers. Attempts already running finish normally. Returns false when
// nothing was left to cancel.
func (s *Service) CancelSchedule(ctx context.Context, key domain.EventKey) (bool, error) {
	var cancelled []int
	_, err := s.store.Update(ctx, key, func(sched *domain.Schedule) (time.Duration, error) {
		cancelled = cancelled[:0]
		for i := range sched.Attempts {
			a := &sched.Attempts[i]
			if a.Status != domain.StatusPending {
				continue
			}
			if err := a.Transition(domain.StatusCancelled); err != nil {
				return 0, err
			}
			cancelled = append(cancelled, a.Ordinal)
		}
		if len(cancelled) == 0 {
			return 0, errNoChange
		}
		return sched.TTL(s.now().UTC(), s.opts.ExpiryGrace), nil
	})
	switch {
	case errors.Is(err, errNoChange):
		return false, nil
	case errors.Is(err, domain.ErrScheduleNotFound):
		return false, err
	case err != nil:
		return false, fmt.Errorf("cancel schedule %s: %w", key, err)
	}

	// a timer that still fires finds the attempt cancelled and skips it
	for _, ordinal := range cancelled {
		if err := s.tasks.Cancel(ctx, domain.AttemptTaskID(key, ordinal)); err != nil {
			s.logger.WarnContext(ctx, "cancel attempt timer", "event_key", key.String(), "attempt", ordinal, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "schedule cancelled", "event_key", key.String(), "attempts", len(cancelled))
	return true, nil
}

// ExecuteNow runs one attempt immediately. An attempt that is no longer
// pending is reported as skipped, not re-run.
func (s *Service) ExecuteNow(ctx context.Context, key domain.EventKey, ordinal int) (*AttemptOutcome, error) {
	return s.executor.Execute(ctx, key, ordinal)
}

// ListSchedules returns every live schedule, optionally narrowed to one
// season (0 = all) and one lifecycle ("" = all).
func (s *Service) ListSchedules(ctx context.Context, season int, lifecycle domain.Lifecycle) ([]*ScheduleSummary, error) {
	scheds, err := s.loadAll(ctx, season)
	if err != nil {
		return nil, err
	}
	out := make([]*ScheduleSummary, 0, len(scheds))
	for _, sched := range scheds {
		if lifecycle != "" && sched.Lifecycle() != lifecycle {
			continue
		}
		out = append(out, Summarize(sched))
	}
	return out, nil
}

// ListPendingDue returns every pending attempt scheduled at or before now.
func (s *Service) ListPendingDue(ctx context.Context, now time.Time) ([]AttemptRef, error) {
	scheds, err := s.loadAll(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := []AttemptRef{}
	for _, sched := range scheds {
		for _, a := range sched.DuePending(now) {
			out = append(out, AttemptRef{Key: sched.Key, Ordinal: a.Ordinal, ScheduledTime: a.ScheduledTime, Status: a.Status})
		}
	}
	return out, nil
}

func (s *Service) RunSweep(ctx context.Context) (*SweepResult, error) {
	return s.sweeper.Sweep(ctx)
}

func (s *Service) RunCleanup(ctx context.Context) (int, error) {
	return s.cleaner.Clean(ctx)
}

func (s *Service) ScheduleSeason(ctx context.Context, season int) (*OrchestratorSummary, error) {
	return s.orchestrator.ScheduleSeason(ctx, season, s.opts.SeasonOffsets)
}

func (s *Service) ScheduleUpcoming(ctx context.Context, window time.Duration) (*OrchestratorSummary, error) {
	return s.orchestrator.ScheduleUpcoming(ctx, window, s.opts.SeasonOffsets)
}

type Stats struct {
	Season              int                   `json:"season,omitempty"`
	Schedules           int                   `json:"schedules"`
	Pending             int                   `json:"pending"`
	Completed           int                   `json:"completed"`
	Failed              int                   `json:"failed"`
	MeanSuccessRate     float64               `json:"mean_success_rate"`
	AttemptsByStatus    map[domain.Status]int `json:"attempts_by_status"`
	CategorySuccessRate map[string]float64    `json:"category_success_rate"`
}

// Stats aggregates over live schedules. MeanSuccessRate averages only
// schedules with at least one executed attempt; per-category rates count
// executed attempts that carry results.
func (s *Service) Stats(ctx context.Context, season int) (*Stats, error) {
	scheds, err := s.loadAll(ctx, season)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Season:              season,
		Schedules:           len(scheds),
		AttemptsByStatus:    make(map[domain.Status]int),
		CategorySuccessRate: make(map[string]float64),
	}
	var rateSum float64
	var rated, withResults int
	catOK := make(map[domain.Category]int)

	for _, sched := range scheds {
		switch sched.Lifecycle() {
		case domain.LifecyclePending:
			st.Pending++
		case domain.LifecycleCompleted:
			st.Completed++
		case domain.LifecycleFailed:
			st.Failed++
		}

		executed := false
		for _, a := range sched.Attempts {
			st.AttemptsByStatus[a.Status]++
			if a.Status.IsExecuted() {
				executed = true
			}
			if a.Results == nil {
				continue
			}
			withResults++
			for _, c := range domain.Categories() {
				if a.Results.Get(c) {
					catOK[c]++
				}
			}
		}
		if executed {
			rateSum += sched.SuccessRate()
			rated++
		}
	}

	if rated > 0 {
		st.MeanSuccessRate = rateSum / float64(rated)
	}
	for _, c := range domain.Categories() {
		rate := 0.0
		if withResults > 0 {
			rate = float64(catOK[c]) / float64(withResults)
		}
		st.CategorySuccessRate[c.String()] = rate
	}
	return st, nil
}

// loadAll reads every schedule of season, skipping ones that vanished or
// cannot be decoded. Store outages propagate.
func (s *Service) loadAll(ctx context.Context, season int) ([]*domain.Schedule, error) {
	keys, err := s.store.ListKeys(ctx, season)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Schedule, 0, len(keys))
	for _, key := range keys {
		sched, err := s.store.Get(ctx, key)
		switch {
		case err == nil:
			out = append(out, sched)
		case errors.Is(err, domain.ErrScheduleNotFound):
		case errors.Is(err, domain.ErrMalformedSchedule):
			s.logger.WarnContext(ctx, "skipping malformed schedule", "event_key", key.String(), "error", err)
		default:
			return nil, err
		}
	}
	return out, nil
}
