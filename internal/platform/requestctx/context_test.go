package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if got := Logger(context.Background()); got != NoopLogger() {
		t.Fatalf("expected noop logger, got %v", got)
	}
	//nolint:staticcheck // nil context is tolerated on purpose
	if got := Logger(nil); got != NoopLogger() {
		t.Fatalf("expected noop logger for nil context")
	}
}

func TestWithLoggerRoundTrip(t *testing.T) {
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceAndSession(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def", Sampled: true})
	ctx = WithSessionID(ctx, "sess-1")
	if TraceID(ctx) != "abc" {
		t.Fatalf("expected trace id abc, got %q", TraceID(ctx))
	}
	if SessionID(ctx) != "sess-1" {
		t.Fatalf("expected session id, got %q", SessionID(ctx))
	}
	if _, ok := Trace(context.Background()); ok {
		t.Fatalf("expected no trace on empty context")
	}
}
