package metrics

// Set holds the pre-registered domain metrics this system emits (spec.md
// §7): frames routed, routing latency, malformed drops, circuit state, and
// queue depth. Building them once at startup avoids re-registering the same
// fq name from multiple call sites, the way the teacher's pipeline wires
// its counters once in engine construction.
type Set struct {
	FramesRouted    Counter
	MalformedFrames Counter
	RoutingDuration Histogram
	QueueDepth      Gauge
	CircuitState    Gauge
	PressureLevel   Gauge
}

// NewSet registers the domain metric family against provider.
func NewSet(provider Provider) *Set {
	return &Set{
		FramesRouted: provider.NewCounter(CounterOpts{CommonOpts{
			Namespace: "frameorchestrator", Name: "frames_routed_total",
			Help:   "frames successfully written to a processor stream",
			Labels: []string{"processor_id"},
		}}),
		MalformedFrames: provider.NewCounter(CounterOpts{CommonOpts{
			Namespace: "frameorchestrator", Name: "malformed_frames_total",
			Help: "ingress entries dropped for failing validation",
		}}),
		RoutingDuration: provider.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{
			Namespace: "frameorchestrator", Name: "routing_duration_seconds",
			Help: "duration of a successful processor-stream bus write", Labels: []string{"processor_id"},
		}}),
		QueueDepth: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: "frameorchestrator", Name: "queue_depth",
			Help: "sampled length of a processor's ready stream", Labels: []string{"processor_id"},
		}}),
		CircuitState: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: "frameorchestrator", Name: "circuit_state",
			Help: "0=closed 1=half_open 2=open", Labels: []string{"processor_id"},
		}}),
		PressureLevel: provider.NewGauge(GaugeOpts{CommonOpts{
			Namespace: "frameorchestrator", Name: "pressure_level",
			Help: "0=normal 1=moderate 2=high 3=critical",
		}}),
	}
}
