package dispatch

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/frameorchestrator/core/internal/bus"
	"github.com/frameorchestrator/core/internal/circuit"
	"github.com/frameorchestrator/core/internal/health"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
	"github.com/frameorchestrator/core/internal/telemetry/metrics"
	"github.com/frameorchestrator/core/internal/telemetry/tracing"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	err    error
	values map[string]string
}

func (f *fakeWriter) WriteToProcessorStream(ctx context.Context, stream string, values map[string]string) (string, error) {
	f.values = values
	return "1-1", f.err
}

func TestDispatchSuccessRecordsMetricsAndTraceparent(t *testing.T) {
	writer := &fakeWriter{}
	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	metricsSet := metrics.NewSet(provider)
	d := New(writer, tracing.NewTracer(true), nil, metricsSet)

	frame := models.FrameRecord{FrameID: "f1", CameraID: "cam1", Priority: 5}
	target := models.ProcessorInfo{ID: "p1", Queue: "proc:p1:ready"}

	err := d.Dispatch(context.Background(), frame, target)
	require.NoError(t, err)
	require.NotEmpty(t, writer.values["traceparent"])
	require.Equal(t, "f1", writer.values["frame_id"])

	rec := httptest.NewRecorder()
	provider.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), `frameorchestrator_frames_routed_total{processor_id="p1"} 1`)
}

func TestDispatchFailureReportsUnhealthy(t *testing.T) {
	writer := &fakeWriter{err: errors.New("write failed")}
	reg := registry.New(nil, circuit.Config{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: 1})
	require.NoError(t, reg.Register(context.Background(), models.ProcessorInfo{ID: "p1"}))

	mon := health.NewMonitor(reg, nil, time.Hour, time.Hour)
	d := New(writer, tracing.NewTracer(false), mon, nil)
	frame := models.FrameRecord{FrameID: "f1"}
	target := models.ProcessorInfo{ID: "p1", Queue: "proc:p1:ready"}

	err := d.Dispatch(context.Background(), frame, target)
	require.Error(t, err)

	var frameErr *models.FrameError
	require.ErrorAs(t, err, &frameErr)
	require.Equal(t, "dispatch", frameErr.Stage)
	require.Equal(t, models.HealthUnhealthy, mon.Health("p1"))
}

func TestDispatchPropagatesTraceIDWithNoopTracer(t *testing.T) {
	writer := &fakeWriter{}
	d := New(writer, tracing.NewTracer(false), nil, nil)

	frame := models.FrameRecord{
		FrameID: "f1",
		Trace:   models.TraceContext{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", SpanID: "00f067aa0ba902b7", Flags: "01"},
	}
	require.NoError(t, d.Dispatch(context.Background(), frame, models.ProcessorInfo{ID: "p1", Queue: "frames:ready:p1"}))

	tc, ok := bus.ParseTraceparent(writer.values["traceparent"])
	require.True(t, ok, "a disabled tracer still yields a well-formed traceparent")
	require.Equal(t, frame.Trace.TraceID, tc.TraceID)
	require.NotEqual(t, frame.Trace.SpanID, tc.SpanID)
}

func TestDispatchSynthesisesRootContextWhenAbsent(t *testing.T) {
	writer := &fakeWriter{}
	d := New(writer, tracing.NewTracer(false), nil, nil)

	require.NoError(t, d.Dispatch(context.Background(), models.FrameRecord{FrameID: "f1"}, models.ProcessorInfo{ID: "p1", Queue: "frames:ready:p1"}))

	_, ok := bus.ParseTraceparent(writer.values["traceparent"])
	require.True(t, ok, "a frame with no inbound context gets a synthesised root")
}
