package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := NewTracer(TraceConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if tracer.provider != nil {
		t.Fatal("expected no SDK provider without endpoint")
	}

	ctx, span := tracer.TraceTurn(context.Background(), "sess-1", "mock")
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatal("expected context and span")
	}
}

func TestTracerNilSafe(t *testing.T) {
	var tracer *Tracer
	ctx := context.Background()
	gotCtx, span := tracer.TraceToolExecution(ctx, "calculator", "local")
	if gotCtx != ctx {
		t.Fatal("nil tracer should return the input context")
	}
	if span.SpanContext().IsValid() {
		t.Fatal("nil tracer should return a non-recording span")
	}
	tracer.RecordError(span, errors.New("boom"))
	tracer.RecordError(nil, errors.New("boom"))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
	if got := samplerFor(0.5).Description(); got == "AlwaysOnSampler" {
		t.Errorf("expected ratio sampler for 0.5, got %s", got)
	}
}

func TestTraceHTTPRequestSpanKind(t *testing.T) {
	tracer, _, err := NewTracer(TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	_, span := tracer.TraceHTTPRequest(context.Background(), "GET", "/api/health")
	defer span.End()
	if span == nil {
		t.Fatal("expected span")
	}
}
