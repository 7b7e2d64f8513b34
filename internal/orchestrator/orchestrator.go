// Package orchestrator composes C1-C9 behind a single facade, the way the
// teacher's Engine composes its pipeline/limiter/resources/telemetry
// subsystems (engine/engine.go): one constructor wires every component
// from Config, Start/Stop drive the process lifecycle, and Snapshot
// exposes a reduced diagnostic view.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/frameorchestrator/core/internal/api"
	"github.com/frameorchestrator/core/internal/backpressure"
	"github.com/frameorchestrator/core/internal/bus"
	"github.com/frameorchestrator/core/internal/circuit"
	"github.com/frameorchestrator/core/internal/config"
	"github.com/frameorchestrator/core/internal/dispatch"
	"github.com/frameorchestrator/core/internal/health"
	"github.com/frameorchestrator/core/internal/logging"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/priority"
	"github.com/frameorchestrator/core/internal/registry"
	"github.com/frameorchestrator/core/internal/router"
	"github.com/frameorchestrator/core/internal/stats"
	"github.com/frameorchestrator/core/internal/telemetry/events"
	"github.com/frameorchestrator/core/internal/telemetry/metrics"
	"github.com/frameorchestrator/core/internal/telemetry/tracing"
)

// Snapshot is a reduced diagnostic view of orchestrator state, mirroring
// the teacher's Engine.Snapshot (engine/engine.go).
type Snapshot struct {
	StartedAt        time.Time              `json:"started_at"`
	Uptime           time.Duration          `json:"uptime"`
	ActiveProcessors int                    `json:"active_processors"`
	Pressure         models.PressureLevel   `json:"pressure"`
	Processors       []models.ProcessorInfo `json:"processors"`
}

// Orchestrator wires the Stream Consumer, Processor Registry, Health
// Monitor, Router, Dispatcher, Backpressure Controller, Control API, and
// telemetry stack described in spec.md §2 behind Start/Stop/Snapshot.
type Orchestrator struct {
	cfg    config.Config
	logger logging.Logger

	redisClient *redis.Client
	busAdapter  *bus.Bus
	consumer    *bus.Consumer

	reg        *registry.Registry
	healthMon  *health.Monitor
	bp         *backpressure.Controller
	rtr        *router.Router
	dispatcher *dispatch.Dispatcher
	pq         *priority.Queue

	metricsProvider metrics.Provider
	metricsSet      *metrics.Set
	tracer          tracing.Tracer
	eventsBus       events.Bus
	otelTP          *sdktrace.TracerProvider

	apiServer  *api.Server
	httpServer *http.Server
	tracker    *stats.Tracker

	pqMu      sync.Mutex
	pqWaiters map[string]chan error
	pqNotify  chan struct{}

	startedAt time.Time

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New builds every component from cfg but does not start any loop yet.
func New(ctx context.Context, cfg config.Config, logger logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.New(nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Bus.URL)
	if err != nil {
		// accept a bare host:port the way the teacher's CLI accepts a bare
		// listen address alongside full URLs.
		redisOpts = &redis.Options{Addr: cfg.Bus.URL}
	}
	client := redis.NewClient(redisOpts)
	busAdapter := bus.New(client)

	provider := newMetricsProvider(cfg.Telemetry)
	metricsSet := metrics.NewSet(provider)
	eventsBus := events.NewBus(provider)
	tracer, otelTP := newTracer(cfg.Telemetry)

	circuitCfg := circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout(),
	}
	reg := registry.New(bus.NewRegistryPersister(client), circuitCfg)

	healthMon := health.NewMonitor(reg, health.NewHTTPProber(cfg.Health.ProbeTimeout()), cfg.Health.CheckInterval(), cfg.Health.ProbeTimeout())
	healthMon.SetMetrics(metricsSet)

	strategy := router.NewStrategyByName(cfg.Router.Strategy, cfg.Router.HighPriorityThreshold)
	rtr := router.New(reg, strategy)

	dispatcher := dispatch.New(busAdapter, tracer, healthMon, metricsSet)

	consumerCfg := bus.DefaultConsumerConfig(cfg.Bus.IngressStream, cfg.Bus.ConsumerGroup, cfg.Bus.ConsumerID)

	o := &Orchestrator{
		cfg:             cfg,
		logger:          logger,
		redisClient:     client,
		busAdapter:      busAdapter,
		reg:             reg,
		healthMon:       healthMon,
		rtr:             rtr,
		dispatcher:      dispatcher,
		metricsProvider: provider,
		metricsSet:      metricsSet,
		tracer:          tracer,
		eventsBus:       eventsBus,
		otelTP:          otelTP,
	}

	queueLen := busAdapter.QueueLength
	bpCfg := backpressure.Config{
		CheckInterval: cfg.Backpressure.CheckInterval(),
		Thresholds: backpressure.Thresholds{
			Low: cfg.Backpressure.Low, High: cfg.Backpressure.High, Critical: cfg.Backpressure.Critical,
		},
	}

	if cfg.Router.Strategy == "priority" {
		o.pq = priority.New(cfg.Priority.StarvationThreshold)
		o.pqWaiters = make(map[string]chan error)
		o.pqNotify = make(chan struct{}, 1024)
	}

	tracker := stats.NewTracker(10 * time.Second)
	o.tracker = tracker

	o.consumer = bus.NewConsumer(busAdapter, client, consumerCfg, o.handleFrame(tracker))
	o.consumer.OnMalformed(func(string) { metricsSet.MalformedFrames.Inc(1) })
	o.bp = backpressure.New(reg, queueLen, bpCfg, o.consumer, eventsBus, metricsSet)
	o.apiServer = api.New(reg, healthMon, o.bp, provider, queueLen, tracker)

	o.httpServer = &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: o.apiServer.Handler()}

	return o, nil
}

func newMetricsProvider(cfg config.TelemetryConfig) metrics.Provider {
	switch cfg.MetricsBackend {
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: cfg.ServiceName})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

func newTracer(cfg config.TelemetryConfig) (tracing.Tracer, *sdktrace.TracerProvider) {
	if !cfg.TracingEnabled {
		return tracing.NewTracer(false), nil
	}
	if cfg.Endpoint == "" {
		return tracing.NewTracer(true), nil
	}
	tp := sdktrace.NewTracerProvider()
	return tracing.NewOTelTracer(tp, cfg.ServiceName), tp
}

// handleFrame builds the FrameHandler the Consumer (C1) drives: route
// (C4), dispatch (C5), report success/failure, record fps. Returning an
// error leaves the ingress entry unacknowledged (I2).
//
// When the priority strategy is configured, frames are staged through the
// Priority Queue (C7) instead of routed immediately: handleFrame blocks
// until a dispatch worker actually pops and dispatches this frame, so
// ACK ordering (I2) still follows the real dispatch outcome. The Consumer
// hands frames over one at a time and waits for each outcome, so the queue
// holds at most one frame from it at a time and does not reorder frames
// within a batch.
func (o *Orchestrator) handleFrame(tracker *stats.Tracker) bus.FrameHandler {
	return func(ctx context.Context, rec models.FrameRecord, entryID string) error {
		if o.pq != nil {
			return o.enqueueAndWait(ctx, rec, tracker)
		}
		return o.routeAndDispatch(ctx, rec, tracker)
	}
}

func (o *Orchestrator) routeAndDispatch(ctx context.Context, rec models.FrameRecord, tracker *stats.Tracker) error {
	target, err := o.rtr.Route(ctx, rec)
	if err != nil {
		return err
	}
	if err := o.dispatcher.Dispatch(ctx, rec, target); err != nil {
		return err
	}
	tracker.Record(time.Now())
	return nil
}

func (o *Orchestrator) enqueueAndWait(ctx context.Context, rec models.FrameRecord, tracker *stats.Tracker) error {
	done := make(chan error, 1)
	o.pqMu.Lock()
	o.pqWaiters[rec.FrameID] = done
	o.pqMu.Unlock()

	o.pq.Push(rec)
	select {
	case o.pqNotify <- struct{}{}:
	default:
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPriorityWorker drains the priority queue, routing and dispatching
// each frame in the order the anti-starvation schedule picks, and wakes
// whichever handleFrame call is waiting on that frame's outcome.
func (o *Orchestrator) runPriorityWorker(ctx context.Context, tracker *stats.Tracker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.pqNotify:
		}
		for {
			frame, ok := o.pq.Pop()
			if !ok {
				break
			}
			err := o.routeAndDispatch(ctx, frame, tracker)
			o.pqMu.Lock()
			waiter := o.pqWaiters[frame.FrameID]
			delete(o.pqWaiters, frame.FrameID)
			o.pqMu.Unlock()
			if waiter != nil {
				waiter <- err
			}
		}
	}
}

// Start launches the Stream Consumer, Health Monitor, Backpressure
// Controller, and Control API HTTP server. It returns once every loop has
// been launched; Start does not block.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.reg.LoadFromBus(ctx); err != nil {
		return fmt.Errorf("load registry from bus: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.startedAt = time.Now()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.ErrorCtx(runCtx, "stream consumer exited", "error", err)
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.healthMon.Run(runCtx)
	}()

	o.bp.Start(runCtx)

	if o.pq != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runPriorityWorker(runCtx, o.tracker)
		}()
	}

	// The HTTP server is not tracked by o.wg: Stop shuts it down after the
	// drain wait, and ListenAndServe returns once Shutdown begins.
	go func() {
		if err := o.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.ErrorCtx(runCtx, "control API server exited", "error", err)
		}
	}()

	o.logger.InfoCtx(ctx, "orchestrator started", "listen_addr", o.cfg.HTTP.ListenAddr, "strategy", o.cfg.Router.Strategy)
	return nil
}

// Stop performs the graceful shutdown sequence from spec.md §5: cancel
// the consumer's read loop, wait up to the configured grace period for
// in-flight dispatches to drain, then stop the HTTP server so no new
// registrations or control requests land mid-shutdown.
func (o *Orchestrator) Stop() error {
	var stopErr error
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		o.bp.Stop()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), o.cfg.Shutdown.Grace())
		defer drainCancel()
		done := make(chan struct{})
		go func() { o.wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-drainCtx.Done():
			o.logger.WarnCtx(drainCtx, "shutdown grace period elapsed with loops still draining")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := o.httpServer.Shutdown(shutdownCtx); err != nil {
			stopErr = err
		}
		if o.otelTP != nil {
			_ = o.otelTP.Shutdown(context.Background())
		}
		_ = o.redisClient.Close()
	})
	return stopErr
}

// Snapshot returns a point-in-time view of orchestrator state for
// diagnostics; cmd/frameorchestrator logs it periodically alongside what
// /frames/stats already exposes over HTTP.
func (o *Orchestrator) Snapshot() Snapshot {
	infos := o.reg.List()
	return Snapshot{
		StartedAt:        o.startedAt,
		Uptime:           time.Since(o.startedAt),
		ActiveProcessors: len(infos),
		Pressure:         o.bp.Level(),
		Processors:       infos,
	}
}
