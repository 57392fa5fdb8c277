// Package upstream talks to the ingestion service that fetches one category
// of post-race data from the third-party source and upserts it into the
// domain store.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/metrics"
	"github.com/ErlanBelekov/race-sync/internal/requestid"
	"github.com/sony/gobreaker/v2"
)

var (
	ErrUpstreamStatus = errors.New("upstream returned non-2xx status")
	ErrBreakerOpen    = errors.New("category breaker open")
)

const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

type syncRequest struct {
	Season int `json:"season"`
	Round  int `json:"round"`
}

// Syncer implements repository.CategorySyncer with one circuit breaker per
// category, so a dead standings endpoint does not hold back race results.
type Syncer struct {
	baseURL  string
	client   *http.Client
	breakers map[domain.Category]*gobreaker.CircuitBreaker[struct{}]
	logger   *slog.Logger
}

// NewSyncer builds a Syncer. Timeouts come from the caller's context; client
// should not set its own.
func NewSyncer(baseURL string, client *http.Client, logger *slog.Logger) *Syncer {
	s := &Syncer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		breakers: make(map[domain.Category]*gobreaker.CircuitBreaker[struct{}]),
		logger:   logger.With("component", "upstream"),
	}
	for _, c := range domain.Categories() {
		s.breakers[c] = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        c.String(),
			MaxRequests: 1,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			// our own cancellation says nothing about upstream health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.logger.Warn("category breaker state changed", "category", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return s
}

func (s *Syncer) Sync(ctx context.Context, key domain.EventKey, category domain.Category) error {
	cb, ok := s.breakers[category]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrInvalidCategory, int(category))
	}

	start := time.Now()
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, key, category)
	})
	metrics.CategorySyncDuration.WithLabelValues(category.String()).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.CategorySyncTotal.WithLabelValues(category.String(), "ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CategorySyncTotal.WithLabelValues(category.String(), "breaker_open").Inc()
		return fmt.Errorf("sync %s: %w", category, err)
	default:
		metrics.CategorySyncTotal.WithLabelValues(category.String(), "error").Inc()
		return fmt.Errorf("sync %s: %w", category, err)
	}
}

// Ping reports the categories whose breaker is open. It makes no network
// call; readiness uses it to surface a degraded upstream.
func (s *Syncer) Ping(context.Context) error {
	var open []string
	for _, c := range domain.Categories() {
		if s.breakers[c].State() == gobreaker.StateOpen {
			open = append(open, c.String())
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, strings.Join(open, ","))
	}
	return nil
}

func (s *Syncer) post(ctx context.Context, key domain.EventKey, category domain.Category) error {
	body, err := json.Marshal(syncRequest{Season: key.Season, Round: key.Round})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/sync/%s", s.baseURL, category)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %d %s", ErrUpstreamStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool
	return nil
}
