package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/repository"
	"github.com/ErlanBelekov/race-sync/internal/requestid"
)

// Handler runs one deferred task. Returning an error wrapped with Permanent
// fails the task without retrying; any other error reschedules it.
type Handler interface {
	Handle(ctx context.Context, task *domain.DeferredTask) error
}

type HandlerFunc func(ctx context.Context, task *domain.DeferredTask) error

func (f HandlerFunc) Handle(ctx context.Context, task *domain.DeferredTask) error {
	return f(ctx, task)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

const heartbeatInterval = 10 * time.Second

// Worker claims due deferred tasks and dispatches them by kind.
type Worker struct {
	id           string
	queue        repository.TaskQueue
	handlers     map[string]Handler
	logger       *slog.Logger
	pollInterval time.Duration
	concurrency  int
	sem          chan struct{}
	wg           sync.WaitGroup
}

func NewWorker(
	queue repository.TaskQueue,
	handlers map[string]Handler,
	logger *slog.Logger,
	pollInterval time.Duration,
	concurrency int,
) *Worker {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	return &Worker{
		id:           id,
		queue:        queue,
		handlers:     handlers,
		logger:       logger.With("component", "worker", "worker_id", id),
		pollInterval: pollInterval,
		concurrency:  concurrency,
		sem:          make(chan struct{}, concurrency),
	}
}

// Start polls until ctx is cancelled, then waits for in-flight tasks.
func (w *Worker) Start(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.concurrency)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker shut down")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	available := cap(w.sem) - len(w.sem)
	if available == 0 {
		return
	}

	tasks, err := w.queue.Claim(ctx, w.id, available)
	if err != nil {
		w.logger.Error("claim tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	w.logger.Info("claimed tasks", "count", len(tasks), "slots_used", len(w.sem)+len(tasks), "slots_total", cap(w.sem))

	for _, task := range tasks {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(t *domain.DeferredTask) {
			metrics.TasksInFlight.Inc()
			defer metrics.TasksInFlight.Dec()
			defer func() { <-w.sem }()
			defer w.wg.Done()
			w.runTask(ctx, t)
		}(task)
	}
}

func (w *Worker) runTask(ctx context.Context, task *domain.DeferredTask) {
	metrics.TaskPickupLatency.Observe(time.Since(task.FireAt).Seconds())

	// the worker's ctx is cancelled on shutdown; let the task finish its writes
	ctx = requestid.WithRequestID(context.WithoutCancel(ctx), requestid.New())
	startedAt := time.Now()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, task.ID)

	w.logger.InfoContext(ctx, "running task", "task_id", task.ID, "kind", task.Kind, "retry", task.RetryCount)

	var err error
	handler, ok := w.handlers[task.Kind]
	if !ok {
		err = Permanent(fmt.Errorf("no handler for task kind %q", task.Kind))
	} else {
		err = w.safeHandle(ctx, handler, task)
	}
	metrics.TaskExecutionDuration.WithLabelValues(task.Kind).Observe(time.Since(startedAt).Seconds())

	if err == nil {
		metrics.TasksCompletedTotal.WithLabelValues("success").Inc()
		if err := w.queue.Complete(ctx, task.ID); err != nil {
			w.logger.ErrorContext(ctx, "mark task complete", "task_id", task.ID, "error", err)
		}
		w.logger.InfoContext(ctx, "task completed", "task_id", task.ID, "duration", time.Since(startedAt))
		return
	}

	errMsg := err.Error()
	if !IsPermanent(err) && task.RetryCount < task.MaxRetries {
		retryAt := time.Now().Add(retryDelay(task.RetryCount))
		if err := w.queue.Reschedule(ctx, task.ID, errMsg, retryAt); err != nil {
			w.logger.ErrorContext(ctx, "reschedule task", "task_id", task.ID, "error", err)
		}
		metrics.TasksCompletedTotal.WithLabelValues("retry").Inc()
		w.logger.WarnContext(ctx, "task failed, will retry",
			"task_id", task.ID,
			"error", errMsg,
			"attempt", task.RetryCount+1,
			"max_retries", task.MaxRetries,
			"retry_at", retryAt,
		)
		return
	}

	if err := w.queue.Fail(ctx, task.ID, errMsg); err != nil {
		w.logger.ErrorContext(ctx, "mark task failed", "task_id", task.ID, "error", err)
	}
	metrics.TasksCompletedTotal.WithLabelValues("failed").Inc()
	w.logger.WarnContext(ctx, "task permanently failed", "task_id", task.ID, "error", errMsg, "permanent", IsPermanent(err))
}

func (w *Worker) safeHandle(ctx context.Context, h Handler, task *domain.DeferredTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}

func (w *Worker) heartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.UpdateHeartbeat(ctx, taskID); err != nil {
				w.logger.WarnContext(ctx, "heartbeat failed", "task_id", taskID, "error", err)
			}
		}
	}
}

// retryDelay is exponential from 30s, capped at an hour, with +/-25% jitter.
func retryDelay(retryCount int) time.Duration {
	base := 30 * time.Second
	delay := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
	delay = min(delay, time.Hour)
	jitter := time.Duration(rand.Int63n(int64(delay/2))) - delay/4
	return delay + jitter
}
