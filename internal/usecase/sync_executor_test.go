package usecase

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

var execKey = domain.EventKey{Season: 2025, Round: 10}

func TestExecute_PartialWhenThreeOfFiveSucceed(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow.Add(-time.Hour), testNow.Add(time.Hour)))
	syncer := syncerSucceeding(domain.CategoryRaceResults, domain.CategoryDriverStandings, domain.CategoryConstructorStandings)
	e := newTestExecutor(store, syncer, nil)

	out, err := e.Execute(context.Background(), execKey, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Skipped || out.Status != domain.StatusPartial {
		t.Fatalf("expected partial, got %+v", out)
	}

	a := store.get(execKey).Attempts[0]
	if a.Status != domain.StatusPartial {
		t.Fatalf("stored status %s", a.Status)
	}
	if a.ExecutedTime == nil || !a.ExecutedTime.Equal(testNow) {
		t.Fatalf("executed time %v", a.ExecutedTime)
	}
	results := a.Results.Map()
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %v", results)
	}
	var ok int
	for _, v := range results {
		if v {
			ok++
		}
	}
	if ok != 3 {
		t.Fatalf("expected 3 successes, got %v", results)
	}
	if a.Error == nil || !strings.Contains(*a.Error, "qualifying_results") || !strings.Contains(*a.Error, "sprint_results") {
		t.Fatalf("error should name failed categories, got %v", a.Error)
	}
	if store.get(execKey).Attempts[1].Status != domain.StatusPending {
		t.Fatal("other attempts must be untouched")
	}
}

func TestExecute_AllCategories(t *testing.T) {
	tests := []struct {
		name   string
		syncer *fakeSyncer
		want   domain.Status
	}{
		{"all succeed", syncerSucceeding(domain.Categories()...), domain.StatusSuccess},
		{"none succeed", syncerSucceeding(), domain.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.seed(pendingSchedule(execKey, testNow.Add(-time.Hour), testNow.Add(time.Hour)))

			out, err := newTestExecutor(store, tt.syncer, nil).Execute(context.Background(), execKey, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Status != tt.want || store.get(execKey).Attempts[0].Status != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, out)
			}
		})
	}
}

func TestExecute_OneCategoryNeverAbortsOthers(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))

	var calls atomic.Int32
	syncer := &fakeSyncer{sync: func(ctx context.Context, _ domain.EventKey, c domain.Category) error {
		calls.Add(1)
		switch c {
		case domain.CategorySprintResults:
			panic("nil pointer in sprint parser")
		case domain.CategoryQualifyingResults:
			<-ctx.Done() // hangs until its own timeout
			return ctx.Err()
		}
		return nil
	}}
	e := NewSyncExecutor(store, syncer, nil, testGrace, 20*time.Millisecond, discard)
	e.now = fixedNow

	out, err := e.Execute(context.Background(), execKey, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 5 {
		t.Fatalf("expected 5 category calls, got %d", calls.Load())
	}
	if out.Status != domain.StatusPartial || out.Results.Succeeded() != 3 {
		t.Fatalf("expected partial with 3 successes, got %+v", out)
	}
	if !strings.Contains(out.Error, "panic") || !strings.Contains(out.Error, "timed out") {
		t.Fatalf("unexpected error text %q", out.Error)
	}
}

func TestExecute_SkipsNonPending(t *testing.T) {
	for _, st := range []domain.Status{domain.StatusRunning, domain.StatusSuccess, domain.StatusCancelled, domain.StatusFailed} {
		t.Run(string(st), func(t *testing.T) {
			store := newMemStore()
			s := pendingSchedule(execKey, testNow)
			s.Attempts[0].Status = st
			store.seed(s)

			syncer := &fakeSyncer{sync: func(context.Context, domain.EventKey, domain.Category) error {
				t.Fatal("no category may be synced")
				return nil
			}}
			out, err := newTestExecutor(store, syncer, nil).Execute(context.Background(), execKey, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !out.Skipped || out.Status != st {
				t.Fatalf("expected skipped with %s, got %+v", st, out)
			}
		})
	}
}

func TestExecute_DuplicateInvocationDoesNotRegress(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))
	e := newTestExecutor(store, syncerSucceeding(domain.Categories()...), nil)

	if _, err := e.Execute(context.Background(), execKey, 1); err != nil {
		t.Fatalf("first: %v", err)
	}

	e.syncer = syncerSucceeding()
	out, err := e.Execute(context.Background(), execKey, 1)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !out.Skipped || store.get(execKey).Attempts[0].Status != domain.StatusSuccess {
		t.Fatalf("second invocation regressed the attempt: %+v", store.get(execKey).Attempts[0])
	}
}

func TestExecute_ConcurrentFinisherWins(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))

	// While our execution is fetching, a racing execution completes the
	// attempt with success.
	syncer := &fakeSyncer{sync: func(_ context.Context, _ domain.EventKey, c domain.Category) error {
		if c == domain.CategoryRaceResults {
			s := store.get(execKey)
			s.Attempts[0].Status = domain.StatusSuccess
			all := domain.CategoryResults{}
			for _, c := range domain.Categories() {
				all.Set(c, true)
			}
			s.Attempts[0].Results = &all
			store.seed(s)
		}
		return errors.New("upstream 503")
	}}

	out, err := newTestExecutor(store, syncer, nil).Execute(context.Background(), execKey, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Skipped || out.Status != domain.StatusSuccess {
		t.Fatalf("expected to defer to the stored success, got %+v", out)
	}
	if got := store.get(execKey).Attempts[0].Status; got != domain.StatusSuccess {
		t.Fatalf("stored status regressed to %s", got)
	}
}

func TestExecute_ReReadKeepsOtherAttemptWrites(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow, testNow.Add(time.Hour)))

	syncer := &fakeSyncer{sync: func(_ context.Context, _ domain.EventKey, c domain.Category) error {
		if c == domain.CategoryRaceResults {
			s := store.get(execKey)
			s.Attempts[1].Status = domain.StatusCancelled
			store.seed(s)
		}
		return nil
	}}

	if _, err := newTestExecutor(store, syncer, nil).Execute(context.Background(), execKey, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := store.get(execKey)
	if s.Attempts[0].Status != domain.StatusSuccess || s.Attempts[1].Status != domain.StatusCancelled {
		t.Fatalf("expected success and cancelled, got %s and %s", s.Attempts[0].Status, s.Attempts[1].Status)
	}
}

func TestExecute_MissingAttemptIsPermanent(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))

	_, err := newTestExecutor(store, syncerSucceeding(), nil).Execute(context.Background(), execKey, 4)
	if !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestExecute_MissingSchedule(t *testing.T) {
	_, err := newTestExecutor(newMemStore(), syncerSucceeding(), nil).Execute(context.Background(), execKey, 1)
	if !errors.Is(err, domain.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestExecute_AlertsOnceWhenExhausted(t *testing.T) {
	store := newMemStore()
	s := pendingSchedule(execKey, testNow.Add(-2*time.Hour), testNow)
	s.Attempts[0].Status = domain.StatusFailed
	store.seed(s)
	alerter := &fakeAlerter{}

	if _, err := newTestExecutor(store, syncerSucceeding(domain.CategoryRaceResults), alerter).Execute(context.Background(), execKey, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.sent) != 1 || alerter.sent[0] != execKey {
		t.Fatalf("expected one alert, got %v", alerter.sent)
	}
	if !store.get(execKey).AlertSent {
		t.Fatal("AlertSent must be persisted")
	}

	// an abandoned attempt on an already-alerted schedule does not alert again
	stored := store.get(execKey)
	stored.Attempts[1].Status = domain.StatusRunning
	store.seed(stored)
	if _, err := newTestExecutor(store, syncerSucceeding(), alerter).Abandon(context.Background(), execKey, 2, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if len(alerter.sent) != 1 {
		t.Fatalf("expected still one alert, got %d", len(alerter.sent))
	}
}

func TestExecute_NoAlertWhenCompleted(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))
	alerter := &fakeAlerter{}

	if _, err := newTestExecutor(store, syncerSucceeding(domain.Categories()...), alerter).Execute(context.Background(), execKey, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerter.sent) != 0 {
		t.Fatalf("completed schedule must not alert, got %v", alerter.sent)
	}
}

func TestAbandon(t *testing.T) {
	store := newMemStore()
	s := pendingSchedule(execKey, testNow.Add(-2*time.Hour), testNow.Add(-time.Hour))
	s.Attempts[0].Status = domain.StatusRunning
	s.Attempts[0].ExecutedTime = ptr(testNow.Add(-90 * time.Minute))
	s.Attempts[1].Status = domain.StatusRunning
	s.Attempts[1].ExecutedTime = ptr(testNow.Add(-5 * time.Minute))
	store.seed(s)
	e := newTestExecutor(store, syncerSucceeding(), nil)
	cutoff := testNow.Add(-30 * time.Minute)

	ok, err := e.Abandon(context.Background(), execKey, 1, cutoff)
	if err != nil || !ok {
		t.Fatalf("expected attempt 1 abandoned, got %v %v", ok, err)
	}
	ok, err = e.Abandon(context.Background(), execKey, 2, cutoff)
	if err != nil || ok {
		t.Fatalf("recent run must not be abandoned, got %v %v", ok, err)
	}

	got := store.get(execKey)
	if got.Attempts[0].Status != domain.StatusFailed || got.Attempts[0].Error == nil || *got.Attempts[0].Error != abandonedError {
		t.Fatalf("unexpected attempt 1: %+v", got.Attempts[0])
	}
	if got.Attempts[1].Status != domain.StatusRunning {
		t.Fatalf("attempt 2 must stay running, got %s", got.Attempts[1].Status)
	}
}

func TestExecute_LateStartDoesNotRegressFinishedAttempt(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))

	// a duplicate execution finishes the attempt between our read and our
	// write of the running status
	raced := false
	store.beforeCommit = func(key domain.EventKey) {
		if raced {
			return
		}
		raced = true
		store.mutate(key, func(s *domain.Schedule) {
			s.Attempts[0].Status = domain.StatusSuccess
		})
	}
	syncer := &fakeSyncer{sync: func(context.Context, domain.EventKey, domain.Category) error {
		t.Fatal("no category may be synced")
		return nil
	}}

	out, err := newTestExecutor(store, syncer, nil).Execute(context.Background(), execKey, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Skipped || out.Status != domain.StatusSuccess {
		t.Fatalf("expected skipped with success, got %+v", out)
	}
	if got := store.get(execKey).Attempts[0].Status; got != domain.StatusSuccess {
		t.Fatalf("stored status regressed to %s", got)
	}
}

func TestExecute_ResultWrittenAfterCallerDeadline(t *testing.T) {
	store := newMemStore()
	store.seed(pendingSchedule(execKey, testNow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// the caller's deadline passes while categories are being fetched
	syncer := &fakeSyncer{sync: func(context.Context, domain.EventKey, domain.Category) error {
		cancel()
		return nil
	}}

	out, err := newTestExecutor(store, syncer, nil).Execute(ctx, execKey, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != domain.StatusSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if got := store.get(execKey).Attempts[0].Status; got != domain.StatusSuccess {
		t.Fatalf("result must be stored, attempt is %s", got)
	}
}
