package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "meshvoice" {
		t.Errorf("expected service name 'meshvoice', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider should be a no-op, got %v", err)
	}
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	ctx := context.Background()

	spans := []func() (context.Context, trace.Span){
		func() (context.Context, trace.Span) { return TraceHTTPRequest(ctx, "POST", "/api/v1/signal") },
		func() (context.Context, trace.Span) {
			return TraceSignal(ctx, "receive", "offer-with-candidates", "10.0.0.1")
		},
		func() (context.Context, trace.Span) {
			return TraceNegotiation(ctx, "create_offer", "10.0.0.1", "offerer")
		},
		func() (context.Context, trace.Span) { return TraceMembership(ctx, "merge", "u1") },
		func() (context.Context, trace.Span) { return TraceStoreOperation(ctx, "add_user", "channel:1") },
	}

	for _, start := range spans {
		spanCtx, span := start()
		if span == nil {
			t.Fatal("expected non-nil span")
		}
		AddSpanAttributes(spanCtx, attribute.String("k", "v"))
		RecordError(spanCtx, errors.New("boom"))
		MeasureDuration(spanCtx, time.Now())
		span.End()
	}
}
