// Package tracing provides a minimal in-process span tracer plus W3C
// traceparent propagation, adapted from the teacher's
// packages/engine/telemetry/tracing/tracing.go. The teacher always mints a
// fresh trace id when none is active; this system additionally needs to
// seed a span from a trace context extracted off an inbound frame record
// (spec.md §4.5, I3: "propagate, don't always synthesize").
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/frameorchestrator/core/internal/models"
)

// Span represents an active unit of work.
type Span interface {
	End()
	SetAttribute(key string, value any)
	Context() SpanContext
	IsEnded() bool
}

// SpanContext carries identifiers for correlation.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Start        time.Time
	End          time.Time
}

// Tracer creates spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	StartSpanFromTrace(ctx context.Context, name string, trace models.TraceContext) (context.Context, Span)
	Noop() bool
}

type noopTracer struct{}
type noopSpan struct{}

func (n noopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (n noopTracer) StartSpanFromTrace(ctx context.Context, name string, trace models.TraceContext) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (n noopTracer) Noop() bool                       { return true }
func (n noopSpan) End()                               {}
func (n noopSpan) SetAttribute(key string, value any) {}
func (n noopSpan) Context() SpanContext               { return SpanContext{} }
func (n noopSpan) IsEnded() bool                      { return true }

type simpleTracer struct{ enabled bool }

type simpleSpan struct {
	ctx   SpanContext
	mu    sync.Mutex
	ended bool
	attrs map[string]any
}

// NewTracer returns a simple in-process tracer, or a noop tracer if enabled
// is false (spec.md's tracing_enabled config flag).
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return noopTracer{}
	}
	return simpleTracer{enabled: true}
}

// StartSpan creates a span, inheriting trace id from an already-active
// span in ctx or minting a new one if none is active.
func (t simpleTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent := SpanFromContext(ctx)
	traceID := parent.ctx.TraceID
	if traceID == "" {
		traceID = newID(16)
	}
	sp := &simpleSpan{ctx: SpanContext{TraceID: traceID, SpanID: newID(8), ParentSpanID: parent.ctx.SpanID, Start: time.Now()}, attrs: make(map[string]any)}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	return ctx, sp
}

// StartSpanFromTrace seeds a new span under an externally supplied trace
// context (e.g. decoded from an inbound frame's traceparent field) instead
// of minting a fresh trace id, so a frame's journey across processors stays
// correlated under one trace.
func (t simpleTracer) StartSpanFromTrace(ctx context.Context, name string, trace models.TraceContext) (context.Context, Span) {
	traceID := trace.TraceID
	parentSpan := trace.SpanID
	if traceID == "" {
		return t.StartSpan(ctx, name)
	}
	sp := &simpleSpan{ctx: SpanContext{TraceID: traceID, SpanID: newID(8), ParentSpanID: parentSpan, Start: time.Now()}, attrs: make(map[string]any)}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	return ctx, sp
}

func (t simpleTracer) Noop() bool { return !t.enabled }

func (s *simpleSpan) End() {
	s.mu.Lock()
	if !s.ended {
		s.ctx.End = time.Now()
		s.ended = true
	}
	s.mu.Unlock()
}
func (s *simpleSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	if s.attrs != nil {
		s.attrs[key] = value
	}
	s.mu.Unlock()
}
func (s *simpleSpan) Context() SpanContext { return s.ctx }
func (s *simpleSpan) IsEnded() bool        { s.mu.Lock(); ended := s.ended; s.mu.Unlock(); return ended }

type spanKey struct{}

// SpanFromContext returns the active span or a zero-value span if absent.
func SpanFromContext(ctx context.Context) *simpleSpan {
	if ctx == nil {
		return &simpleSpan{}
	}
	if sp, ok := ctx.Value(spanKey{}).(*simpleSpan); ok {
		return sp
	}
	return &simpleSpan{}
}

// ExtractIDs returns the active trace/span ids from context, empty if none.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sp := SpanFromContext(ctx)
	return sp.ctx.TraceID, sp.ctx.SpanID
}

// ToTraceContext converts a SpanContext into the wire-level TraceContext
// carried on outgoing frame records.
func ToTraceContext(sc SpanContext) models.TraceContext {
	return models.TraceContext{TraceID: sc.TraceID, SpanID: sc.SpanID, Flags: "01"}
}

// Propagate derives the outgoing trace context for a frame record: the
// inbound trace id is kept with a fresh span id, and a frame that arrived
// without any context gets a newly synthesised root (I3). Used when the
// active tracer emits no spans of its own and the record still needs a
// valid traceparent on the wire.
func Propagate(tc models.TraceContext) models.TraceContext {
	if tc.TraceID == "" {
		return models.TraceContext{TraceID: newID(16), SpanID: newID(8), Flags: "01"}
	}
	flags := tc.Flags
	if flags == "" {
		flags = "01"
	}
	return models.TraceContext{TraceID: tc.TraceID, SpanID: newID(8), Flags: flags}
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
