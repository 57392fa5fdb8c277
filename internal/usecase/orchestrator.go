package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/repository"
)

// upcomingLookback widens the calendar query so a weekend whose race day is
// today is still found when its date column holds the Friday.
const upcomingLookback = 3 * 24 * time.Hour

type EventFailure struct {
	Key   domain.EventKey `json:"event_key"`
	Error string          `json:"error"`
}

// OrchestratorSummary classifies every event a batch looked at.
// Expired events have no schedule and their whole retry window closed more
// than the expiry grace ago, so none was created.
type OrchestratorSummary struct {
	Season           int            `json:"season,omitempty"`
	Total            int            `json:"total"`
	NewlyScheduled   int            `json:"newly_scheduled"`
	AlreadyScheduled int            `json:"already_scheduled"`
	Expired          int            `json:"expired"`
	Failed           int            `json:"failed"`
	Failures         []EventFailure `json:"failures,omitempty"`
}

type SeasonOrchestrator struct {
	events    repository.EventRepository
	scheduler *RetryScheduler
	logger    *slog.Logger
	now       func() time.Time
}

func NewSeasonOrchestrator(events repository.EventRepository, scheduler *RetryScheduler, logger *slog.Logger) *SeasonOrchestrator {
	return &SeasonOrchestrator{
		events:    events,
		scheduler: scheduler,
		logger:    logger.With("component", "season_orchestrator"),
		now:       time.Now,
	}
}

// ScheduleSeason schedules every event of the season. One event failing
// never aborts the batch.
func (o *SeasonOrchestrator) ScheduleSeason(ctx context.Context, season int, offsets []time.Duration) (*OrchestratorSummary, error) {
	events, err := o.events.ListEvents(ctx, season)
	if err != nil {
		return nil, fmt.Errorf("list season %d: %w", season, err)
	}

	sum := &OrchestratorSummary{Season: season}
	for _, e := range events {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		o.scheduleOne(ctx, e, offsets, sum)
	}

	o.logger.InfoContext(ctx, "season scheduled",
		"season", season,
		"total", sum.Total,
		"newly_scheduled", sum.NewlyScheduled,
		"already_scheduled", sum.AlreadyScheduled,
		"expired", sum.Expired,
		"failed", sum.Failed,
	)
	return sum, nil
}

// ScheduleUpcoming schedules every event whose estimated end falls within
// [now, now+window].
func (o *SeasonOrchestrator) ScheduleUpcoming(ctx context.Context, window time.Duration, offsets []time.Duration) (*OrchestratorSummary, error) {
	now := o.now().UTC()
	events, err := o.events.ListBetween(ctx, now.Add(-upcomingLookback), now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}

	sum := &OrchestratorSummary{}
	for _, e := range events {
		end, err := EstimateEndTime(e)
		if err != nil {
			sum.Total++
			sum.fail(e.Key, err)
			continue
		}
		if end.Before(now) || end.After(now.Add(window)) {
			continue
		}
		o.scheduleOne(ctx, e, offsets, sum)
	}

	if sum.Total > 0 {
		o.logger.InfoContext(ctx, "upcoming events scheduled",
			"window", window.String(),
			"total", sum.Total,
			"newly_scheduled", sum.NewlyScheduled,
			"already_scheduled", sum.AlreadyScheduled,
			"failed", sum.Failed,
		)
	}
	return sum, nil
}

func (o *SeasonOrchestrator) scheduleOne(ctx context.Context, e *domain.Event, offsets []time.Duration, sum *OrchestratorSummary) {
	sum.Total++

	res, err := o.scheduler.ScheduleUnlessExpired(ctx, e, offsets)
	if err != nil {
		o.logger.WarnContext(ctx, "schedule event failed", "event_key", e.Key.String(), "error", err)
		sum.fail(e.Key, err)
		return
	}
	switch {
	case res.Created:
		sum.NewlyScheduled++
	case res.Expired:
		sum.Expired++
	default:
		sum.AlreadyScheduled++
	}
}

func (s *OrchestratorSummary) fail(key domain.EventKey, err error) {
	s.Failed++
	s.Failures = append(s.Failures, EventFailure{Key: key, Error: err.Error()})
}
