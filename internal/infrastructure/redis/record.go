package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// scheduleRecord is the stored JSON shape of a schedule.
type scheduleRecord struct {
	EventKey     string          `json:"event_key"`
	EventName    string          `json:"event_name"`
	EstimatedEnd time.Time       `json:"estimated_end_time"`
	CreatedAt    time.Time       `json:"created_at"`
	AlertSent    bool            `json:"alert_sent,omitempty"`
	Attempts     []attemptRecord `json:"attempts"`
}

type attemptRecord struct {
	Ordinal       int             `json:"ordinal"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	ExecutedTime  *time.Time      `json:"executed_time,omitempty"`
	Status        string          `json:"status"`
	Results       map[string]bool `json:"results,omitempty"`
	Error         *string         `json:"error,omitempty"`
}

func encodeSchedule(s *domain.Schedule) ([]byte, error) {
	rec := scheduleRecord{
		EventKey:     s.Key.String(),
		EventName:    s.EventName,
		EstimatedEnd: s.EstimatedEnd.UTC(),
		CreatedAt:    s.CreatedAt.UTC(),
		AlertSent:    s.AlertSent,
		Attempts:     make([]attemptRecord, len(s.Attempts)),
	}
	for i, a := range s.Attempts {
		ar := attemptRecord{
			Ordinal:       a.Ordinal,
			ScheduledTime: a.ScheduledTime.UTC(),
			Status:        string(a.Status),
			Error:         a.Error,
		}
		if a.ExecutedTime != nil {
			t := a.ExecutedTime.UTC()
			ar.ExecutedTime = &t
		}
		if a.Results != nil {
			ar.Results = a.Results.Map()
		}
		rec.Attempts[i] = ar
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule %s: %w", s.Key, err)
	}
	return b, nil
}

// decodeSchedule validates everything it reads: statuses and category names
// must be known and attempts must satisfy the schedule ordering invariants.
func decodeSchedule(data []byte) (*domain.Schedule, error) {
	var rec scheduleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSchedule, err)
	}
	key, err := domain.ParseEventKey(rec.EventKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSchedule, err)
	}

	s := &domain.Schedule{
		Key:          key,
		EventName:    rec.EventName,
		EstimatedEnd: rec.EstimatedEnd.UTC(),
		CreatedAt:    rec.CreatedAt.UTC(),
		AlertSent:    rec.AlertSent,
		Attempts:     make([]domain.Attempt, len(rec.Attempts)),
	}
	for i, ar := range rec.Attempts {
		status, err := domain.ParseStatus(ar.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %s attempt %d: %v", domain.ErrMalformedSchedule, key, ar.Ordinal, err)
		}
		a := domain.Attempt{
			Ordinal:       ar.Ordinal,
			ScheduledTime: ar.ScheduledTime.UTC(),
			Status:        status,
			Error:         ar.Error,
		}
		if ar.ExecutedTime != nil {
			t := ar.ExecutedTime.UTC()
			a.ExecutedTime = &t
		}
		if ar.Results != nil {
			results, err := decodeResults(ar.Results)
			if err != nil {
				return nil, fmt.Errorf("%w: %s attempt %d: %v", domain.ErrMalformedSchedule, key, ar.Ordinal, err)
			}
			a.Results = results
		}
		s.Attempts[i] = a
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeResults(m map[string]bool) (*domain.CategoryResults, error) {
	var r domain.CategoryResults
	for name, ok := range m {
		c, err := domain.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		r.Set(c, ok)
	}
	if len(m) != len(domain.Categories()) {
		return nil, fmt.Errorf("results carry %d categories, want %d", len(m), len(domain.Categories()))
	}
	return &r, nil
}
