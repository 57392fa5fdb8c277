package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	ctxlog "github.com/ErlanBelekov/race-sync/internal/log"
	"github.com/ErlanBelekov/race-sync/internal/requestid"
)

func TestContextHandler_AddsRequestIDAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ctxlog.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := requestid.WithRequestID(context.Background(), "req-1")
	ctx = ctxlog.With(ctx, slog.String("event_key", "2025:3"))
	ctx = ctxlog.With(ctx, slog.Int("attempt", 2))

	logger.InfoContext(ctx, "attempt finished")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", rec["request_id"])
	}
	if rec["event_key"] != "2025:3" {
		t.Fatalf("expected event_key 2025:3, got %v", rec["event_key"])
	}
	if rec["attempt"] != float64(2) {
		t.Fatalf("expected attempt 2, got %v", rec["attempt"])
	}
}

func TestContextHandler_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ctxlog.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "tick")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := rec["request_id"]; ok {
		t.Fatal("request_id must be absent without one in context")
	}
}
