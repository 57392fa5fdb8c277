package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/requestid"
)

// Periodic runs named jobs on cron expressions in UTC. A run that is still
// going when its next tick fires is skipped, and a panic is contained to the run.
type Periodic struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
}

func NewPeriodic(logger *slog.Logger) *Periodic {
	logger = logger.With("component", "periodic")
	cl := cronLogger{logger: logger}
	return &Periodic{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers fn under name. spec is a standard five-field expression or a
// descriptor such as "@every 5m". Each run gets its own timeout.
func (p *Periodic) Add(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := p.cron.AddFunc(spec, func() {
		p.run(name, timeout, fn)
	})
	if err != nil {
		return fmt.Errorf("add periodic job %s: %w", name, err)
	}
	p.logger.Info("periodic job registered", "job", name, "spec", spec)
	return nil
}

func (p *Periodic) run(name string, timeout time.Duration, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(requestid.WithRequestID(p.ctx, requestid.New()), timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		metrics.PeriodicRunsTotal.WithLabelValues(name, "error").Inc()
		p.logger.ErrorContext(ctx, "periodic job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	metrics.PeriodicRunsTotal.WithLabelValues(name, "ok").Inc()
	p.logger.InfoContext(ctx, "periodic job finished", "job", name, "duration", time.Since(start))
}

// Start blocks until ctx is cancelled, then waits for running jobs.
func (p *Periodic) Start(ctx context.Context) {
	p.ctx = ctx
	p.cron.Start()
	p.logger.Info("periodic scheduler started", "jobs", len(p.cron.Entries()))

	<-ctx.Done()
	<-p.cron.Stop().Done()
	p.logger.Info("periodic scheduler shut down")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
