package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

type fakeExecutor struct {
	executeFn func(key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error)
}

func (f fakeExecutor) ExecuteNow(_ context.Context, key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error) {
	return f.executeFn(key, ordinal)
}

func attemptTask(t *testing.T, payload string) *domain.DeferredTask {
	t.Helper()
	tk := task("post_race_sync:2025:9:2", domain.TaskKindExecuteAttempt, 0, 3)
	tk.Payload = []byte(payload)
	return tk
}

func TestAttemptHandler_DecodesPayload(t *testing.T) {
	var gotKey domain.EventKey
	var gotOrdinal int
	h := NewAttemptHandler(fakeExecutor{executeFn: func(key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error) {
		gotKey, gotOrdinal = key, ordinal
		return &usecase.AttemptOutcome{Key: key, Ordinal: ordinal, Status: domain.StatusSuccess}, nil
	}})

	err := h.Handle(context.Background(), attemptTask(t, `{"season":2025,"round":9,"attempt":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != (domain.EventKey{Season: 2025, Round: 9}) || gotOrdinal != 2 {
		t.Fatalf("executed %v attempt %d", gotKey, gotOrdinal)
	}
}

func TestAttemptHandler_Permanence(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"schedule gone", domain.ErrScheduleNotFound, true},
		{"attempt gone", domain.ErrAttemptNotFound, true},
		{"malformed", fmt.Errorf("decode: %w", domain.ErrMalformedSchedule), true},
		{"store outage", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAttemptHandler(fakeExecutor{executeFn: func(domain.EventKey, int) (*usecase.AttemptOutcome, error) {
				return nil, tt.err
			}})
			err := h.Handle(context.Background(), attemptTask(t, `{"season":2025,"round":9,"attempt":2}`))
			if !errors.Is(err, tt.err) {
				t.Fatalf("error %v does not wrap %v", err, tt.err)
			}
			if IsPermanent(err) != tt.permanent {
				t.Fatalf("IsPermanent = %v, want %v", IsPermanent(err), tt.permanent)
			}
		})
	}
}

func TestAttemptHandler_BadPayloadIsPermanent(t *testing.T) {
	h := NewAttemptHandler(fakeExecutor{executeFn: func(domain.EventKey, int) (*usecase.AttemptOutcome, error) {
		t.Fatal("executor must not be called")
		return nil, nil
	}})

	for _, payload := range []string{`not json`, `{"season":2025,"round":9,"attempt":0}`} {
		if err := h.Handle(context.Background(), attemptTask(t, payload)); !IsPermanent(err) {
			t.Errorf("payload %q: expected permanent error, got %v", payload, err)
		}
	}
}
