// Package dispatch implements the Dispatcher (spec.md §4.5, C5): given a
// routed frame and its target processor, it injects/propagates trace
// context, writes the frame to the processor's ready stream, and reports
// the outcome to the circuit breaker; successful writes are also recorded
// in metrics. The
// time-then-feedback-then-branch sequencing follows the teacher's
// extractionWorker in engine/internal/pipeline/pipeline.go (measure the
// operation, feed the outcome back to the rate limiter/circuit breaker,
// then branch on success/failure).
package dispatch

import (
	"context"
	"time"

	"github.com/frameorchestrator/core/internal/bus"
	"github.com/frameorchestrator/core/internal/health"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/telemetry/metrics"
	"github.com/frameorchestrator/core/internal/telemetry/tracing"
)

// Writer is the subset of *bus.Bus the Dispatcher depends on.
type Writer interface {
	WriteToProcessorStream(ctx context.Context, stream string, values map[string]string) (string, error)
}

// Dispatcher writes routed frames onto their target processor's stream.
type Dispatcher struct {
	writer  Writer
	tracer  tracing.Tracer
	health  *health.Monitor
	metrics *metrics.Set
}

// New builds a Dispatcher. health and metrics may be nil in tests.
func New(writer Writer, tracer tracing.Tracer, healthMonitor *health.Monitor, metricsSet *metrics.Set) *Dispatcher {
	if tracer == nil {
		tracer = tracing.NewTracer(false)
	}
	return &Dispatcher{writer: writer, tracer: tracer, health: healthMonitor, metrics: metricsSet}
}

// Dispatch injects a traceparent (propagating the frame's existing trace
// context if present, per I3), starts a dispatch_to_processor span with the
// attributes spec.md §4.5 lists, writes to the bus, and reports the
// outcome to the circuit breaker. A successful write increments
// frames_routed_total and observes routing_duration_seconds; a failed write
// is not counted in any metric. On failure the ingress entry is left
// unacknowledged by the caller (I2: post-dispatch ack only).
func (d *Dispatcher) Dispatch(ctx context.Context, frame models.FrameRecord, target models.ProcessorInfo) error {
	ctx, span := d.tracer.StartSpanFromTrace(ctx, "dispatch_to_processor", frame.Trace)
	defer span.End()
	span.SetAttribute("processor.id", target.ID)
	span.SetAttribute("queue.name", target.Queue)
	span.SetAttribute("frame.id", frame.FrameID)
	span.SetAttribute("frame.camera_id", frame.CameraID)
	span.SetAttribute("frame.priority", frame.Priority)
	span.SetAttribute("selected_processor.load", target.CurrentLoad)

	outTrace := tracing.ToTraceContext(span.Context())
	if outTrace.TraceID == "" {
		// noop tracer: no span ids to borrow, so derive the wire context
		// directly from the frame (same trace id, fresh span id per I3).
		outTrace = tracing.Propagate(frame.Trace)
	}
	values := bus.EncodeFrame(frame, bus.FormatTraceparent(outTrace), nil)

	start := time.Now()
	_, err := d.writer.WriteToProcessorStream(ctx, target.Queue, values)
	latency := time.Since(start)

	if err != nil {
		if d.health != nil {
			d.health.ReportOutcome(target.ID, false)
		}
		return models.NewFrameError(frame.FrameID, "dispatch", err)
	}

	if d.health != nil {
		d.health.ReportOutcome(target.ID, true)
	}
	if d.metrics != nil {
		d.metrics.FramesRouted.Inc(1, target.ID)
		d.metrics.RoutingDuration.Observe(latency.Seconds(), target.ID)
	}
	return nil
}
