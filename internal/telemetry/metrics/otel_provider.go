package metrics

// OpenTelemetry metrics bridge implementing the Provider interface, kept as
// an alternate backend the Config can select instead of Prometheus (spec.md
// §6.4 metrics_backend). Gauges simulate Set semantics via an
// UpDownCounter delta, mirroring the teacher's
// packages/engine/telemetry/metrics/otel_provider.go.

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviderOptions configures an OpenTelemetry-backed Provider.
type OTelProviderOptions struct {
	ServiceName string
}

// NewOTelProvider returns a metrics.Provider backed by an OTEL MeterProvider.
func NewOTelProvider(opts OTelProviderOptions) Provider {
	name := opts.ServiceName
	if name == "" {
		name = "frameorchestrator"
	}
	mp := sdkmetric.NewMeterProvider()
	meter := mp.Meter(name)
	return &otelProvider{mp: mp, meter: meter}
}

type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	name := buildOTelName(opts.CommonOpts)
	inst, err := p.meter.Float64Counter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	name := buildOTelName(opts.CommonOpts)
	inst, err := p.meter.Float64UpDownCounter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	name := buildOTelName(opts.CommonOpts)
	inst, err := p.meter.Float64Histogram(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst}
}

func (p *otelProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(HistogramOpts{CommonOpts: h.CommonOpts, Buckets: h.Buckets})
	return func() Timer { return &otelTimer{h: hist, start: time.Now()} }
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

func buildOTelName(c CommonOpts) string {
	switch {
	case c.Namespace != "" && c.Subsystem != "":
		return c.Namespace + "." + c.Subsystem + "." + c.Name
	case c.Namespace != "":
		if c.Name != "" {
			return c.Namespace + "." + c.Name
		}
		return c.Namespace
	case c.Subsystem != "":
		if c.Name != "" {
			return c.Subsystem + "." + c.Name
		}
		return c.Subsystem
	default:
		return c.Name
	}
}

type otelCounter struct{ c metric.Float64Counter }

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta > 0 {
		c.c.Add(context.Background(), delta)
	}
}

type otelGauge struct {
	g     metric.Float64UpDownCounter
	value atomic.Value
	mu    sync.Mutex
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	prev, _ := g.value.Load().(float64)
	diff := v - prev
	g.value.Store(v)
	g.mu.Unlock()
	if diff != 0 {
		g.g.Add(context.Background(), diff)
	}
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.mu.Lock()
	prev, _ := g.value.Load().(float64)
	g.value.Store(prev + delta)
	g.mu.Unlock()
	g.g.Add(context.Background(), delta)
}

type otelHistogram struct{ h metric.Float64Histogram }

func (h *otelHistogram) Observe(value float64, labels ...string) {
	h.h.Record(context.Background(), value)
}

type otelTimer struct {
	h     Histogram
	start time.Time
}

func (t *otelTimer) ObserveDuration(labels ...string) {
	t.h.Observe(time.Since(t.start).Seconds(), labels...)
}
