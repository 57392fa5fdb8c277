package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/repository"
)

const reapBatch = 100

// Reaper returns tasks whose worker stopped heartbeating to the queue, or
// fails them once their retries are used up.
type Reaper struct {
	queue            repository.TaskQueue
	logger           *slog.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
}

func NewReaper(queue repository.TaskQueue, logger *slog.Logger, interval, heartbeatTimeout time.Duration) *Reaper {
	return &Reaper{
		queue:            queue,
		logger:           logger.With("component", "reaper"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReaperCycleDuration.Observe(time.Since(start).Seconds()) }()

	staleCutoff := start.Add(-r.heartbeatTimeout)

	rescheduled, err := r.queue.RescheduleStale(ctx, staleCutoff, reapBatch)
	if err != nil {
		r.logger.Error("reschedule stale tasks", "error", err)
	} else if rescheduled > 0 {
		metrics.ReaperRescuedTotal.WithLabelValues("rescheduled").Add(float64(rescheduled))
		r.logger.Warn("rescheduled stale tasks", "count", rescheduled)
	}

	failed, err := r.queue.FailStale(ctx, staleCutoff, reapBatch)
	if err != nil {
		r.logger.Error("fail stale tasks", "error", err)
	} else if failed > 0 {
		metrics.ReaperRescuedTotal.WithLabelValues("failed").Add(float64(failed))
		r.logger.Warn("permanently failed stale tasks (max retries exceeded)", "count", failed)
	}
}
