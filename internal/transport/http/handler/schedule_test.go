package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/transport/http/handler"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubService implements handler.PostRaceService; unset funcs fail the call.
type stubService struct {
	scheduleEventFn  func(key domain.EventKey, offsets []time.Duration) (*usecase.ScheduleSummary, error)
	getScheduleFn    func(key domain.EventKey) (*domain.Schedule, error)
	cancelScheduleFn func(key domain.EventKey) (bool, error)
	executeNowFn     func(key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error)
	listSchedulesFn  func(season int, lc domain.Lifecycle) ([]*usecase.ScheduleSummary, error)
	statsFn          func(season int) (*usecase.Stats, error)
}

var errNotStubbed = errors.New("not stubbed")

func (s *stubService) ScheduleEvent(_ context.Context, key domain.EventKey, offsets []time.Duration) (*usecase.ScheduleSummary, error) {
	if s.scheduleEventFn == nil {
		return nil, errNotStubbed
	}
	return s.scheduleEventFn(key, offsets)
}

func (s *stubService) GetSchedule(_ context.Context, key domain.EventKey) (*domain.Schedule, error) {
	if s.getScheduleFn == nil {
		return nil, errNotStubbed
	}
	return s.getScheduleFn(key)
}

func (s *stubService) CancelSchedule(_ context.Context, key domain.EventKey) (bool, error) {
	if s.cancelScheduleFn == nil {
		return false, errNotStubbed
	}
	return s.cancelScheduleFn(key)
}

func (s *stubService) ExecuteNow(_ context.Context, key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error) {
	if s.executeNowFn == nil {
		return nil, errNotStubbed
	}
	return s.executeNowFn(key, ordinal)
}

func (s *stubService) ListSchedules(_ context.Context, season int, lc domain.Lifecycle) ([]*usecase.ScheduleSummary, error) {
	if s.listSchedulesFn == nil {
		return nil, errNotStubbed
	}
	return s.listSchedulesFn(season, lc)
}

func (s *stubService) ListPendingDue(context.Context, time.Time) ([]usecase.AttemptRef, error) {
	return []usecase.AttemptRef{}, nil
}

func (s *stubService) RunSweep(context.Context) (*usecase.SweepResult, error) {
	return &usecase.SweepResult{}, nil
}

func (s *stubService) RunCleanup(context.Context) (int, error) { return 4, nil }

func (s *stubService) ScheduleSeason(_ context.Context, season int) (*usecase.OrchestratorSummary, error) {
	return &usecase.OrchestratorSummary{Season: season}, nil
}

func (s *stubService) Stats(_ context.Context, season int) (*usecase.Stats, error) {
	if s.statsFn == nil {
		return nil, errNotStubbed
	}
	return s.statsFn(season)
}

func newEngine(svc *stubService) *gin.Engine {
	h := handler.NewScheduleHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := gin.New()
	r.POST("/events/:season/:round/schedule", h.Schedule)
	r.GET("/events/:season/:round/schedule", h.Get)
	r.DELETE("/events/:season/:round/schedule", h.Cancel)
	r.POST("/events/:season/:round/attempts/:ordinal/execute", h.Execute)
	r.GET("/schedules", h.List)
	r.POST("/cleanup", h.Cleanup)
	r.GET("/stats", h.Stats)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSchedule_EmptyBodyUsesDefaults(t *testing.T) {
	var gotOffsets []time.Duration
	var gotKey domain.EventKey
	svc := &stubService{scheduleEventFn: func(key domain.EventKey, offsets []time.Duration) (*usecase.ScheduleSummary, error) {
		gotKey, gotOffsets = key, offsets
		return &usecase.ScheduleSummary{Key: key, Created: true}, nil
	}}

	w := do(newEngine(svc), http.MethodPost, "/events/2025/9/schedule", "")

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body)
	}
	if gotKey != (domain.EventKey{Season: 2025, Round: 9}) {
		t.Errorf("key = %v", gotKey)
	}
	if gotOffsets != nil {
		t.Errorf("offsets = %v, want nil", gotOffsets)
	}
}

func TestSchedule_ExplicitOffsets(t *testing.T) {
	var gotOffsets []time.Duration
	svc := &stubService{scheduleEventFn: func(key domain.EventKey, offsets []time.Duration) (*usecase.ScheduleSummary, error) {
		gotOffsets = offsets
		return &usecase.ScheduleSummary{Key: key}, nil
	}}

	w := do(newEngine(svc), http.MethodPost, "/events/2025/9/schedule", `{"offsets_hours":[1.5,24]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("existing schedule: status = %d, want 200", w.Code)
	}
	want := []time.Duration{90 * time.Minute, 24 * time.Hour}
	if len(gotOffsets) != 2 || gotOffsets[0] != want[0] || gotOffsets[1] != want[1] {
		t.Errorf("offsets = %v, want %v", gotOffsets, want)
	}
}

func TestSchedule_NegativeOffsetRejected(t *testing.T) {
	svc := &stubService{}
	w := do(newEngine(svc), http.MethodPost, "/events/2025/9/schedule", `{"offsets_hours":[-1]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSchedule_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown event", domain.ErrEventNotFound, http.StatusNotFound},
		{"no timing", domain.ErrEstimationUnavailable, http.StatusUnprocessableEntity},
		{"bad offsets", domain.ErrInvalidOffsets, http.StatusBadRequest},
		{"store down", errors.Join(domain.ErrStoreUnavailable, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{scheduleEventFn: func(domain.EventKey, []time.Duration) (*usecase.ScheduleSummary, error) {
				return nil, tt.err
			}}
			w := do(newEngine(svc), http.MethodPost, "/events/2025/9/schedule", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestEventKeyParam_Invalid(t *testing.T) {
	for _, path := range []string{"/events/abc/9/schedule", "/events/2025/0/schedule", "/events/-1/3/schedule"} {
		w := do(newEngine(&stubService{}), http.MethodGet, path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestGet_ReturnsSummary(t *testing.T) {
	end := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	svc := &stubService{getScheduleFn: func(key domain.EventKey) (*domain.Schedule, error) {
		return &domain.Schedule{
			Key:          key,
			EventName:    "Spanish Grand Prix",
			EstimatedEnd: end,
			Attempts: []domain.Attempt{
				{Ordinal: 1, ScheduledTime: end.Add(6 * time.Hour), Status: domain.StatusPending},
			},
		}, nil
	}}

	w := do(newEngine(svc), http.MethodGet, "/events/2025/9/schedule", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Key         string `json:"event_key"`
		Lifecycle   string `json:"lifecycle"`
		NextPending struct {
			Attempt int `json:"attempt"`
		} `json:"next_pending_attempt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Key != "2025:9" || body.Lifecycle != "pending" || body.NextPending.Attempt != 1 {
		t.Errorf("unexpected body %s", w.Body)
	}
}

func TestGet_Missing404(t *testing.T) {
	svc := &stubService{getScheduleFn: func(domain.EventKey) (*domain.Schedule, error) {
		return nil, domain.ErrScheduleNotFound
	}}
	w := do(newEngine(svc), http.MethodGet, "/events/2025/9/schedule", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCancel_ReportsWhetherAnythingWasCancelled(t *testing.T) {
	svc := &stubService{cancelScheduleFn: func(domain.EventKey) (bool, error) { return false, nil }}
	w := do(newEngine(svc), http.MethodDelete, "/events/2025/9/schedule", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"cancelled":false`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestExecute_ReturnsOutcome(t *testing.T) {
	svc := &stubService{executeNowFn: func(key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error) {
		r := domain.CategoryResults{}
		r.Set(domain.CategoryRaceResults, true)
		return &usecase.AttemptOutcome{Key: key, Ordinal: ordinal, Status: domain.StatusPartial, Results: &r}, nil
	}}

	w := do(newEngine(svc), http.MethodPost, "/events/2025/9/attempts/2/execute", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Attempt int             `json:"attempt"`
		Status  string          `json:"status"`
		Results map[string]bool `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Attempt != 2 || body.Status != "partial" || !body.Results["race_results"] || body.Results["sprint_results"] {
		t.Errorf("unexpected body %s", w.Body)
	}
}

func TestExecute_BadOrdinal(t *testing.T) {
	w := do(newEngine(&stubService{}), http.MethodPost, "/events/2025/9/attempts/zero/execute", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestList_PassesFilters(t *testing.T) {
	var gotSeason int
	var gotLC domain.Lifecycle
	svc := &stubService{listSchedulesFn: func(season int, lc domain.Lifecycle) ([]*usecase.ScheduleSummary, error) {
		gotSeason, gotLC = season, lc
		return []*usecase.ScheduleSummary{}, nil
	}}

	w := do(newEngine(svc), http.MethodGet, "/schedules?season=2024&status=failed", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotSeason != 2024 || gotLC != domain.LifecycleFailed {
		t.Errorf("filters = %d %q", gotSeason, gotLC)
	}
}

func TestList_RejectsBadFilters(t *testing.T) {
	for _, q := range []string{"?status=done", "?season=abc", "?season=0"} {
		w := do(newEngine(&stubService{}), http.MethodGet, "/schedules"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestCleanup_ReportsDeleted(t *testing.T) {
	w := do(newEngine(&stubService{}), http.MethodPost, "/cleanup", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"deleted":4`) {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
}

func TestStats_AllSeasons(t *testing.T) {
	gotSeason := -1
	svc := &stubService{statsFn: func(season int) (*usecase.Stats, error) {
		gotSeason = season
		return &usecase.Stats{Schedules: 3}, nil
	}}
	w := do(newEngine(svc), http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK || gotSeason != 0 {
		t.Fatalf("status = %d season = %d", w.Code, gotSeason)
	}
}
