package tracing

// OpenTelemetry-backed Tracer, selected instead of the lightweight
// in-process simpleTracer when a collector endpoint is configured
// (spec.md §6.4 telemetry.endpoint). The teacher declares the otel trace
// SDK as a dependency but only ever exercises its own lightweight tracer;
// this bridges real spans onto the `dispatch_to_processor` path so the
// declared dependency is actually wired, matching the way the teacher
// selects between a noop and real backend for metrics
// (telemetry/metrics/otel_provider.go).

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/frameorchestrator/core/internal/models"
)

// NewOTelTracer wraps an sdktrace.TracerProvider (already configured with
// whatever exporter the caller wants — OTLP, stdout, etc.) as a Tracer.
func NewOTelTracer(tp *sdktrace.TracerProvider, instrumentationName string) Tracer {
	if instrumentationName == "" {
		instrumentationName = "frameorchestrator"
	}
	return &otelTracer{tracer: tp.Tracer(instrumentationName)}
}

type otelTracer struct {
	tracer trace.Tracer
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, sp := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: sp}
}

// StartSpanFromTrace seeds the new span's parent from an externally
// decoded trace context (e.g. a frame's traceparent) rather than whatever
// happens to be active in ctx, so a frame's journey across processors
// stays correlated under the trace id it arrived with (I3).
func (t *otelTracer) StartSpanFromTrace(ctx context.Context, name string, tc models.TraceContext) (context.Context, Span) {
	if tc.IsZero() {
		return t.StartSpan(ctx, name)
	}
	remote, err := remoteSpanContext(tc)
	if err == nil {
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	ctx, sp := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: sp}
}

func (t *otelTracer) Noop() bool { return false }

func remoteSpanContext(tc models.TraceContext) (trace.SpanContext, error) {
	traceID, err := trace.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return trace.SpanContext{}, err
	}
	spanID, err := trace.SpanIDFromHex(tc.SpanID)
	if err != nil {
		// no valid parent span id on the wire; mint a fresh remote span id
		// under the same trace so the trace_id still propagates (P2).
		spanID, _ = trace.SpanIDFromHex(newID(8))
	}
	flags := trace.TraceFlags(0)
	if tc.Flags == "01" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), nil
}

type otelSpan struct {
	span  trace.Span
	start time.Time
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(attributeFor(key, value))
}

func (s *otelSpan) Context() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

func (s *otelSpan) IsEnded() bool { return false }
