package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrScheduleNotFound      = errors.New("schedule not found")
	ErrAttemptNotFound       = errors.New("attempt not found")
	ErrEstimationUnavailable = errors.New("event end time cannot be estimated")
	ErrInvalidOffsets        = errors.New("retry offsets must be non-empty, non-negative and distinct")
	ErrInvalidTransition     = errors.New("invalid attempt status transition")
	ErrInvalidStatus         = errors.New("invalid attempt status")
	ErrInvalidCategory       = errors.New("invalid data category")
	ErrMalformedSchedule     = errors.New("malformed schedule record")
	ErrStoreUnavailable      = errors.New("schedule store unavailable")
)

// minScheduleTTL keeps a freshly written schedule around even when its whole
// retry window is already behind us.
const minScheduleTTL = time.Hour

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSuccess, StatusPartial, StatusFailed},
}

// ParseStatus validates a status read from storage.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// IsTerminal reports whether no further automatic transition leaves s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsExecuted is true for the terminal statuses an execution can produce.
func (s Status) IsExecuted() bool {
	return s == StatusSuccess || s == StatusPartial || s == StatusFailed
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Category is one independently fetchable slice of post-race data.
type Category int

const (
	CategoryRaceResults Category = iota
	CategoryQualifyingResults
	CategorySprintResults
	CategoryDriverStandings
	CategoryConstructorStandings

	categoryCount
)

var categoryNames = [categoryCount]string{
	"race_results",
	"qualifying_results",
	"sprint_results",
	"driver_standings",
	"constructor_standings",
}

func (c Category) String() string {
	if c < 0 || c >= categoryCount {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Categories returns every category in sync order.
func Categories() []Category {
	out := make([]Category, categoryCount)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// CategoryResults holds one success flag per category. Every category is
// always present, so a missing key cannot be confused with a failure.
type CategoryResults [categoryCount]bool

func (r CategoryResults) Get(c Category) bool { return r[c] }

func (r *CategoryResults) Set(c Category, ok bool) { r[c] = ok }

func (r CategoryResults) Succeeded() int {
	n := 0
	for _, ok := range r {
		if ok {
			n++
		}
	}
	return n
}

// Status folds the per-category flags into an attempt outcome.
func (r CategoryResults) Status() Status {
	switch r.Succeeded() {
	case len(r):
		return StatusSuccess
	case 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Map returns the results keyed by category name.
func (r CategoryResults) Map() map[string]bool {
	m := make(map[string]bool, len(r))
	for i, ok := range r {
		m[categoryNames[i]] = ok
	}
	return m
}

type Attempt struct {
	Ordinal       int
	ScheduledTime time.Time
	ExecutedTime  *time.Time
	Status        Status
	Results       *CategoryResults // nil until executed
	Error         *string
}

// Transition moves the attempt to next, rejecting moves the state machine
// does not allow.
func (a *Attempt) Transition(next Status) error {
	if !a.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: attempt %d %s -> %s", ErrInvalidTransition, a.Ordinal, a.Status, next)
	}
	a.Status = next
	return nil
}

// Lifecycle is the coarse state of a whole schedule, used for filtering.
type Lifecycle string

const (
	LifecyclePending   Lifecycle = "pending"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleFailed    Lifecycle = "failed"
)

func ParseLifecycle(s string) (Lifecycle, error) {
	switch l := Lifecycle(s); l {
	case LifecyclePending, LifecycleCompleted, LifecycleFailed:
		return l, nil
	}
	return "", fmt.Errorf("invalid lifecycle %q", s)
}

// Schedule is the persisted set of retry attempts for one event.
type Schedule struct {
	Key          EventKey
	EventName    string
	EstimatedEnd time.Time
	CreatedAt    time.Time
	Attempts     []Attempt
	AlertSent    bool
}

// Attempt returns a pointer into s.Attempts so callers can mutate in place.
func (s *Schedule) Attempt(ordinal int) (*Attempt, error) {
	for i := range s.Attempts {
		if s.Attempts[i].Ordinal == ordinal {
			return &s.Attempts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s attempt %d", ErrAttemptNotFound, s.Key, ordinal)
}

func (s *Schedule) IsCompleted() bool {
	for _, a := range s.Attempts {
		if a.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// SuccessRate is the share of executed attempts that fetched at least one
// category. Pending, running and cancelled attempts are not counted.
func (s *Schedule) SuccessRate() float64 {
	var executed, ok int
	for _, a := range s.Attempts {
		if !a.Status.IsExecuted() {
			continue
		}
		executed++
		if a.Status != StatusFailed {
			ok++
		}
	}
	if executed == 0 {
		return 0
	}
	return float64(ok) / float64(executed)
}

// NextPending returns the earliest attempt still waiting to run, or nil.
func (s *Schedule) NextPending() *Attempt {
	for i := range s.Attempts {
		if s.Attempts[i].Status == StatusPending {
			return &s.Attempts[i]
		}
	}
	return nil
}

func (s *Schedule) AllTerminal() bool {
	for _, a := range s.Attempts {
		if !a.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Exhausted is true once nothing is left to run and no attempt fully succeeded.
func (s *Schedule) Exhausted() bool {
	return s.AllTerminal() && !s.IsCompleted()
}

func (s *Schedule) Lifecycle() Lifecycle {
	switch {
	case s.IsCompleted():
		return LifecycleCompleted
	case s.AllTerminal():
		return LifecycleFailed
	default:
		return LifecyclePending
	}
}

func (s *Schedule) LastScheduledTime() time.Time {
	var last time.Time
	for _, a := range s.Attempts {
		if a.ScheduledTime.After(last) {
			last = a.ScheduledTime
		}
	}
	return last
}

// DuePending returns the pending attempts scheduled at or before now.
func (s *Schedule) DuePending(now time.Time) []Attempt {
	var due []Attempt
	for _, a := range s.Attempts {
		if a.Status == StatusPending && !a.ScheduledTime.After(now) {
			due = append(due, a)
		}
	}
	return due
}

// TTL covers the last attempt plus grace, and never drops below an hour.
func (s *Schedule) TTL(now time.Time, grace time.Duration) time.Duration {
	ttl := s.LastScheduledTime().Add(grace).Sub(now)
	return max(ttl, minScheduleTTL)
}

// Validate checks the ordering invariants: ordinals run 1..N and scheduled
// times strictly increase with them.
func (s *Schedule) Validate() error {
	if len(s.Attempts) == 0 {
		return fmt.Errorf("%w: %s has no attempts", ErrMalformedSchedule, s.Key)
	}
	for i, a := range s.Attempts {
		if a.Ordinal != i+1 {
			return fmt.Errorf("%w: %s attempt %d has ordinal %d", ErrMalformedSchedule, s.Key, i+1, a.Ordinal)
		}
		if i > 0 && !a.ScheduledTime.After(s.Attempts[i-1].ScheduledTime) {
			return fmt.Errorf("%w: %s attempts out of order at %d", ErrMalformedSchedule, s.Key, a.Ordinal)
		}
	}
	return nil
}
