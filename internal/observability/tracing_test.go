package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, recorder
}

func TestNewTracer_NoEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil || shutdown == nil {
		t.Fatal("NewTracer() returned nil")
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if got := GetTraceID(ctx); got != "" {
		t.Errorf("GetTraceID() = %q, want empty for no-op tracer", got)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}

func TestTraceSession(t *testing.T) {
	tracer, recorder := recordingTracer(t)
	ctx, span := tracer.TraceSession(context.Background(), "openai", "gpt-4o")
	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID() should be set inside a recording span")
	}
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "agent.session" || got.SpanKind() != trace.SpanKindInternal {
		t.Errorf("span = %s/%v", got.Name(), got.SpanKind())
	}
	attrs := map[string]string{}
	for _, kv := range got.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["llm.provider"] != "openai" || attrs["llm.model"] != "gpt-4o" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestWithSpan_RecordsError(t *testing.T) {
	tracer, recorder := recordingTracer(t)
	want := errors.New("boom")
	err := WithSpan(context.Background(), tracer, "op", func(ctx context.Context, span trace.Span) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("WithSpan() error = %v, want %v", err, want)
	}
	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Status().Code != codes.Error {
		t.Errorf("span status = %+v, want error", ended)
	}

	if err := WithSpan(context.Background(), tracer, "ok", func(context.Context, trace.Span) error { return nil }); err != nil {
		t.Errorf("WithSpan() error = %v", err)
	}
	if got := recorder.Ended()[1].Status().Code; got == codes.Error {
		t.Error("successful span should not be marked failed")
	}
}
