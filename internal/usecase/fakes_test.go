package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// ---- schedule store ----

// memStore copies on every read and write, like a real serialized store.
// Update is optimistic: it retries when the version moved under it.
type memStore struct {
	mu        sync.Mutex
	data      map[domain.EventKey]*domain.Schedule
	ttl       map[domain.EventKey]time.Duration
	version   map[domain.EventKey]int
	malformed map[domain.EventKey]bool
	// beforeCommit runs between an Update's fn and its write; other writers
	// may change the stored schedule there.
	beforeCommit func(key domain.EventKey)
	getErr       error
}

func newMemStore() *memStore {
	return &memStore{
		data:      make(map[domain.EventKey]*domain.Schedule),
		ttl:       make(map[domain.EventKey]time.Duration),
		version:   make(map[domain.EventKey]int),
		malformed: make(map[domain.EventKey]bool),
	}
}

func (m *memStore) Get(_ context.Context, key domain.EventKey) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.malformed[key] {
		return nil, fmt.Errorf("decode schedule %s: %w", key, domain.ErrMalformedSchedule)
	}
	s, ok := m.data[key]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (m *memStore) Create(_ context.Context, s *domain.Schedule, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[s.Key]; ok || m.malformed[s.Key] {
		return false, nil
	}
	m.data[s.Key] = cloneSchedule(s)
	m.ttl[s.Key] = ttl
	m.version[s.Key]++
	return true, nil
}

func (m *memStore) Update(ctx context.Context, key domain.EventKey, fn func(*domain.Schedule) (time.Duration, error)) (*domain.Schedule, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.getErr != nil {
			m.mu.Unlock()
			return nil, m.getErr
		}
		if m.malformed[key] {
			m.mu.Unlock()
			return nil, fmt.Errorf("decode schedule %s: %w", key, domain.ErrMalformedSchedule)
		}
		stored, ok := m.data[key]
		if !ok {
			m.mu.Unlock()
			return nil, domain.ErrScheduleNotFound
		}
		s, seen := cloneSchedule(stored), m.version[key]
		m.mu.Unlock()

		ttl, err := fn(s)
		if err != nil {
			return nil, err
		}
		if hook := m.beforeCommit; hook != nil {
			hook(key)
		}

		m.mu.Lock()
		if _, ok := m.data[key]; !ok {
			m.mu.Unlock()
			return nil, domain.ErrScheduleNotFound
		}
		if m.version[key] != seen {
			m.mu.Unlock()
			continue
		}
		m.data[key] = cloneSchedule(s)
		m.ttl[key] = ttl
		m.version[key]++
		m.mu.Unlock()
		return s, nil
	}
}

// mutate changes the stored schedule directly, as a concurrent writer would.
func (m *memStore) mutate(key domain.EventKey, fn func(s *domain.Schedule)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.data[key])
	m.version[key]++
}

func (m *memStore) Delete(_ context.Context, key domain.EventKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.malformed, key)
	m.version[key]++
	return nil
}

func (m *memStore) ListKeys(_ context.Context, season int) ([]domain.EventKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []domain.EventKey
	add := func(k domain.EventKey) {
		if season == 0 || k.Season == season {
			keys = append(keys, k)
		}
	}
	for k := range m.data {
		add(k)
	}
	for k := range m.malformed {
		add(k)
	}
	slices.SortFunc(keys, func(a, b domain.EventKey) int {
		if a.Season != b.Season {
			return a.Season - b.Season
		}
		return a.Round - b.Round
	})
	return keys, nil
}

// seed stores s directly, bypassing Create.
func (m *memStore) seed(s *domain.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.Key] = cloneSchedule(s)
	m.version[s.Key]++
}

func (m *memStore) get(key domain.EventKey) *domain.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.data[key]; ok {
		return cloneSchedule(s)
	}
	return nil
}

func cloneSchedule(s *domain.Schedule) *domain.Schedule {
	c := *s
	c.Attempts = make([]domain.Attempt, len(s.Attempts))
	for i, a := range s.Attempts {
		ac := a
		if a.ExecutedTime != nil {
			t := *a.ExecutedTime
			ac.ExecutedTime = &t
		}
		if a.Results != nil {
			r := *a.Results
			ac.Results = &r
		}
		if a.Error != nil {
			e := *a.Error
			ac.Error = &e
		}
		c.Attempts[i] = ac
	}
	return &c
}

// ---- deferred executor ----

type fakeTasks struct {
	mu          sync.Mutex
	registered  map[string]*domain.DeferredTask
	registerErr error
	registers   int
	cancelled   []string
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{registered: make(map[string]*domain.DeferredTask)}
}

func (f *fakeTasks) Register(_ context.Context, t *domain.DeferredTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered[t.ID] = t
	return nil
}

func (f *fakeTasks) Cancel(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	delete(f.registered, taskID)
	return nil
}

// ---- category syncer ----

type fakeSyncer struct {
	sync func(ctx context.Context, key domain.EventKey, c domain.Category) error
}

func (f *fakeSyncer) Sync(ctx context.Context, key domain.EventKey, c domain.Category) error {
	return f.sync(ctx, key, c)
}

func syncerSucceeding(ok ...domain.Category) *fakeSyncer {
	return &fakeSyncer{sync: func(_ context.Context, _ domain.EventKey, c domain.Category) error {
		if slices.Contains(ok, c) {
			return nil
		}
		return fmt.Errorf("%s not published", c)
	}}
}

// ---- events ----

type fakeEvents struct {
	events map[domain.EventKey]*domain.Event
}

func newFakeEvents(events ...*domain.Event) *fakeEvents {
	f := &fakeEvents{events: make(map[domain.EventKey]*domain.Event)}
	for _, e := range events {
		f.events[e.Key] = e
	}
	return f
}

func (f *fakeEvents) ListEvents(_ context.Context, season int) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, e := range f.events {
		if e.Key.Season == season {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Event) int { return a.Key.Round - b.Key.Round })
	return out, nil
}

func (f *fakeEvents) Get(_ context.Context, key domain.EventKey) (*domain.Event, error) {
	e, ok := f.events[key]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return e, nil
}

func (f *fakeEvents) ListBetween(_ context.Context, from, to time.Time) ([]*domain.Event, error) {
	var out []*domain.Event
	for _, e := range f.events {
		if e.EventDate != nil && !e.EventDate.Before(from) && !e.EventDate.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- alerter ----

type fakeAlerter struct {
	mu   sync.Mutex
	sent []domain.EventKey
	err  error
}

func (f *fakeAlerter) ScheduleExhausted(_ context.Context, s *domain.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s.Key)
	return f.err
}

// ---- helpers ----

var (
	testNow   = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testGrace = 7 * 24 * time.Hour
	discard   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func fixedNow() time.Time { return testNow }

func ptr[T any](v T) *T { return &v }

// raceEvent has only its race session set, so it ends at raceStart+3h.
func raceEvent(season, round int, raceStart time.Time) *domain.Event {
	e := &domain.Event{
		Key:       domain.EventKey{Season: season, Round: round},
		Name:      fmt.Sprintf("Round %d", round),
		EventDate: ptr(raceStart.Truncate(24 * time.Hour)),
	}
	e.Sessions[domain.SessionCount-1] = ptr(raceStart)
	return e
}

// pendingSchedule has one pending attempt per scheduled time.
func pendingSchedule(key domain.EventKey, times ...time.Time) *domain.Schedule {
	s := &domain.Schedule{Key: key, EventName: "test", EstimatedEnd: times[0].Add(-6 * time.Hour), CreatedAt: testNow.Add(-72 * time.Hour)}
	for i, t := range times {
		s.Attempts = append(s.Attempts, domain.Attempt{Ordinal: i + 1, ScheduledTime: t, Status: domain.StatusPending})
	}
	return s
}

func newTestExecutor(store *memStore, syncer *fakeSyncer, alerter Alerter) *SyncExecutor {
	e := NewSyncExecutor(store, syncer, alerter, testGrace, time.Second, discard)
	e.now = fixedNow
	return e
}

func newTestScheduler(store *memStore, tasks *fakeTasks) *RetryScheduler {
	r := NewRetryScheduler(store, tasks, testGrace, discard)
	r.now = fixedNow
	return r
}
