package usecase

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
)

// AttemptPayload is the body of a TaskKindExecuteAttempt deferred task.
type AttemptPayload struct {
	Season  int `json:"season"`
	Round   int `json:"round"`
	Attempt int `json:"attempt"`
}

func (p AttemptPayload) Key() domain.EventKey {
	return domain.EventKey{Season: p.Season, Round: p.Round}
}

func newAttemptTask(key domain.EventKey, a domain.Attempt, maxRetries int) (*domain.DeferredTask, error) {
	payload, err := json.Marshal(AttemptPayload{Season: key.Season, Round: key.Round, Attempt: a.Ordinal})
	if err != nil {
		return nil, fmt.Errorf("marshal attempt payload: %w", err)
	}
	return &domain.DeferredTask{
		ID:         domain.AttemptTaskID(key, a.Ordinal),
		Kind:       domain.TaskKindExecuteAttempt,
		Payload:    payload,
		FireAt:     a.ScheduledTime.UTC(),
		Status:     domain.TaskPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// DecodeAttemptPayload validates a task payload before it reaches the executor.
func DecodeAttemptPayload(raw []byte) (AttemptPayload, error) {
	var p AttemptPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode attempt payload: %w", err)
	}
	if !p.Key().Valid() || p.Attempt < 1 {
		return p, fmt.Errorf("%w: payload %s attempt %d", domain.ErrInvalidEventKey, p.Key(), p.Attempt)
	}
	return p, nil
}
