package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ErlanBelekov/race-sync/config"
	"github.com/ErlanBelekov/race-sync/internal/app"
	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/health"
	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := app.NewLogger(cfg.Env, cfg.SlogLevel(), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// one connection per in-flight task, plus reaper and periodic jobs
	a, err := app.New(ctx, cfg, logger, int32(cfg.WorkerCount)+4)
	if err != nil {
		stop()
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	logger.Info("db and redis connected")

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer, a.HealthDependencies()...)

	svc := a.Service
	worker := scheduler.NewWorker(
		a.Tasks,
		map[string]scheduler.Handler{
			domain.TaskKindExecuteAttempt: scheduler.NewAttemptHandler(svc),
		},
		logger,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		cfg.WorkerCount,
	)

	// heartbeat fires every 10s, so the default 30s timeout is 3 missed beats
	reaper := scheduler.NewReaper(a.Tasks, logger,
		time.Duration(cfg.ReaperIntervalSec)*time.Second,
		time.Duration(cfg.HeartbeatTimeoutSec)*time.Second,
	)

	periodic := scheduler.NewPeriodic(logger)
	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		run     func(ctx context.Context) error
	}{
		{"sweep", cfg.SweepCron, 10 * time.Minute, func(ctx context.Context) error {
			res, err := svc.RunSweep(ctx)
			if err == nil && (len(res.Triggered) > 0 || len(res.Abandoned) > 0) {
				logger.InfoContext(ctx, "sweep result", "triggered", len(res.Triggered), "abandoned", len(res.Abandoned), "errors", res.Errors)
			}
			return err
		}},
		{"cleanup", cfg.CleanupCron, 10 * time.Minute, func(ctx context.Context) error {
			_, err := svc.RunCleanup(ctx)
			return err
		}},
		{"season", cfg.SeasonCron, 30 * time.Minute, func(ctx context.Context) error {
			_, err := svc.ScheduleSeason(ctx, time.Now().UTC().Year())
			return err
		}},
		{"upcoming", cfg.UpcomingCron, 10 * time.Minute, func(ctx context.Context) error {
			_, err := svc.ScheduleUpcoming(ctx, cfg.UpcomingWindow())
			return err
		}},
	}
	for _, j := range jobs {
		if err := periodic.Add(j.name, j.spec, j.timeout, j.run); err != nil {
			stop()
			log.Fatalf("periodic: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){worker.Start, reaper.Start, periodic.Start} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	// in-flight tasks finish their store writes before the pools close
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}
