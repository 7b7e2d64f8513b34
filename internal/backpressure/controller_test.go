package backpressure

import (
	"context"
	"testing"

	"github.com/frameorchestrator/core/internal/circuit"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
	"github.com/stretchr/testify/require"
)

type fakeSink struct{ rate float64 }

func (f *fakeSink) SetRate(rate float64) { f.rate = rate }

func TestClassifyThresholds(t *testing.T) {
	th := DefaultThresholds()
	level, rate := classify(0.1, th)
	require.Equal(t, models.PressureNormal, level)
	require.Equal(t, 1.0, rate)

	level, rate = classify(0.7, th)
	require.Equal(t, models.PressureModerate, level)
	require.Equal(t, 0.8, rate)

	level, rate = classify(0.82, th)
	require.Equal(t, models.PressureHigh, level)
	require.Equal(t, 0.5, rate)

	level, rate = classify(0.98, th)
	require.Equal(t, models.PressureCritical, level)
	require.Equal(t, 0.0, rate)
}

func TestSampleOncePublishesRateToSink(t *testing.T) {
	reg := registry.New(nil, circuit.DefaultConfig())
	require.NoError(t, reg.Register(context.Background(), models.ProcessorInfo{ID: "p1", Capacity: 100, Queue: "proc:p1:ready"}))

	queueLen := func(ctx context.Context, stream string) (int64, error) {
		return 98, nil
	}
	sink := &fakeSink{}
	c := New(reg, queueLen, DefaultConfig(), sink, nil, nil)
	c.sampleOnce(context.Background())

	require.Equal(t, models.PressureCritical, c.Level())
	require.Equal(t, 0.0, sink.rate)
}

func TestPauseOverridesSampledRate(t *testing.T) {
	reg := registry.New(nil, circuit.DefaultConfig())
	require.NoError(t, reg.Register(context.Background(), models.ProcessorInfo{ID: "p1", Capacity: 100, Queue: "proc:p1:ready"}))

	queueLen := func(ctx context.Context, stream string) (int64, error) { return 1, nil }
	sink := &fakeSink{}
	c := New(reg, queueLen, DefaultConfig(), sink, nil, nil)
	c.sampleOnce(context.Background())
	require.Equal(t, 1.0, sink.rate)

	c.Pause()
	mode, rate, _ := c.Status()
	require.Equal(t, "paused", mode)
	require.Equal(t, 0.0, rate)
	require.Equal(t, 0.0, sink.rate)

	c.sampleOnce(context.Background())
	require.Equal(t, 0.0, sink.rate, "pause holds rate at 0 even while pressure stays low")

	c.Resume()
	mode, rate, _ = c.Status()
	require.Equal(t, "running", mode)
	require.Equal(t, 1.0, rate)
	require.Equal(t, 1.0, sink.rate)
}
