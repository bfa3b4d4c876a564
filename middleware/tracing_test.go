package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/canvasshq/canvass/execution"
	mw "github.com/canvasshq/canvass/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")
	return sr, tracer
}

func TestTracing_CreatesSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	_, err := m(context.Background(), newTestDial(), func(_ context.Context) (*execution.CallResult, error) {
		return &execution.CallResult{Outcome: "booked"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Name() != "canvass.call.place" {
		t.Errorf("expected span name %q, got %q", "canvass.call.place", spans[0].Name())
	}
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	_, err := m(context.Background(), newTestDial(), func(_ context.Context) (*execution.CallResult, error) {
		return &execution.CallResult{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}

	if got := attrs["canvass.execution.id"].AsString(); got != "exec_123" {
		t.Errorf("execution.id attr = %q", got)
	}
	if got := attrs["canvass.property.id"].AsString(); got != "prop_456" {
		t.Errorf("property.id attr = %q", got)
	}
	if got := attrs["canvass.call.attempt"].AsInt64(); got != 1 {
		t.Errorf("call.attempt attr = %d", got)
	}
	if got := attrs["canvass.call.mode"].AsString(); got != "inspection" {
		t.Errorf("call.mode attr = %q", got)
	}
}

func TestTracing_ErrorStatus(t *testing.T) {
	sr, tracer := setupTestTracer()
	m := mw.TracingWithTracer(tracer)

	dialErr := errors.New("line busy")
	_, err := m(context.Background(), newTestDial(), func(_ context.Context) (*execution.CallResult, error) {
		return nil, dialErr
	})
	if !errors.Is(err, dialErr) {
		t.Fatalf("err = %v, want dial error", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}
}
