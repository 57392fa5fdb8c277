package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

const checkTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool, the redis schedule store and the
// upstream syncer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency is a named Pinger checked on every readiness check. A failing
// Optional dependency degrades readiness instead of failing it.
type Dependency struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

type CheckResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Ready reports whether the process should receive traffic.
func (r HealthResult) Ready() bool {
	return r.Status != StatusDown
}

type Checker struct {
	deps   []Dependency
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(logger *slog.Logger, reg prometheus.Registerer, deps ...Dependency) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "race_sync",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		deps:   deps,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns "up" while the process runs.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: StatusUp}
}

// Readiness pings every dependency concurrently. A slow store cannot push
// the check past checkTimeout.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(c.deps))
	)
	// checks never return errors to the group; each failure is recorded per dependency
	g := new(errgroup.Group)
	for _, d := range c.deps {
		g.Go(func() error {
			res := c.check(checkCtx, d)
			mu.Lock()
			checks[d.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusUp
	for _, d := range c.deps {
		if checks[d.Name].Status == StatusUp {
			continue
		}
		if !d.Optional {
			status = StatusDown
			break
		}
		status = StatusDegraded
	}

	return HealthResult{Status: status, Checks: checks}
}

func (c *Checker) check(ctx context.Context, d Dependency) CheckResult {
	start := time.Now()
	err := d.Pinger.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		c.logger.Warn("health check failed", "dependency", d.Name, "optional", d.Optional, "error", err)
		c.gauge.WithLabelValues(d.Name).Set(0)
		return CheckResult{Status: StatusDown, LatencyMS: latency, Error: err.Error()}
	}
	c.gauge.WithLabelValues(d.Name).Set(1)
	return CheckResult{Status: StatusUp, LatencyMS: latency}
}
