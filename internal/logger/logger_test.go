package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	l, err := New("test-service", "debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	if !l.Core().Enabled(zap.DebugLevel) {
		t.Error("expected debug level enabled")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"WARN":    "warn",
		"warning": "warn",
		"error":   "error",
		"":        "info",
		"verbose": "info",
	}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	if a == b {
		t.Fatal("expected distinct trace ids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("expected uuid trace id, got %q: %v", a, err)
	}
}

func TestFields(t *testing.T) {
	ctx := context.Background()
	if f := Fields(ctx); f != nil {
		t.Errorf("expected nil fields when no trace id, got %v", f)
	}

	ctx = WithTraceID(ctx, "abc-123")
	f := Fields(ctx)
	if len(f) != 1 || f[0].Key != "trace_id" || f[0].String != "abc-123" {
		t.Fatalf("unexpected fields %v", f)
	}
}
