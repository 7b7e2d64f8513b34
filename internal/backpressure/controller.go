// Package backpressure implements the Backpressure Controller (spec.md
// §4.6, C6): periodic queue-depth sampling across registered processors,
// pressure-level derivation, and rate publication to the Stream Consumer.
// The ticker/stop-channel loop shape is grounded on the teacher's
// AdaptiveRateLimiter eviction loop
// (engine/internal/ratelimit/limiter.go: startEvictionLoop/evictLoop).
package backpressure

import (
	"context"
	"sync"
	"time"

	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
	"github.com/frameorchestrator/core/internal/telemetry/events"
	"github.com/frameorchestrator/core/internal/telemetry/metrics"
)

// QueueLengthFunc samples the current depth of a processor's ready stream.
type QueueLengthFunc func(ctx context.Context, streamName string) (int64, error)

// RateSink receives the newly computed consumption rate; the Stream
// Consumer's Consumer.SetRate satisfies this.
type RateSink interface {
	SetRate(rate float64)
}

// Thresholds configures the level/rate mapping (spec.md §4.6 defaults).
type Thresholds struct {
	Low      float64
	High     float64
	Critical float64
}

// DefaultThresholds returns the spec.md default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.6, High: 0.8, Critical: 0.95}
}

// Config controls the controller's sample cadence and thresholds.
type Config struct {
	CheckInterval time.Duration
	Thresholds    Thresholds
}

// DefaultConfig returns the spec.md default check_interval (5s).
func DefaultConfig() Config {
	return Config{CheckInterval: 5 * time.Second, Thresholds: DefaultThresholds()}
}

// Controller samples queue depth, derives a PressureLevel and consumption
// rate, and publishes both to the rate sink and the metrics/events stack.
type Controller struct {
	reg        *registry.Registry
	queueLen   QueueLengthFunc
	cfg        Config
	sink       RateSink
	bus        events.Bus
	metricsSet *metrics.Set

	mu       sync.Mutex
	level    models.PressureLevel
	lastRate float64
	paused   bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Controller. bus and metricsSet may be nil.
func New(reg *registry.Registry, queueLen QueueLengthFunc, cfg Config, sink RateSink, bus events.Bus, metricsSet *metrics.Set) *Controller {
	return &Controller{
		reg:        reg,
		queueLen:   queueLen,
		cfg:        cfg,
		sink:       sink,
		bus:        bus,
		metricsSet: metricsSet,
		level:      models.PressureNormal,
		lastRate:   1.0,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sample loop in a background goroutine.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop terminates the sample loop and waits for it to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Controller) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sampleOnce(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sampleOnce computes max utilisation across registered processors and
// updates the published rate and level, per spec.md §4.6.
func (c *Controller) sampleOnce(ctx context.Context) {
	infos := c.reg.List()
	maxUtil := 0.0
	for _, info := range infos {
		if info.Capacity <= 0 {
			continue
		}
		length, err := c.queueLen(ctx, info.Queue)
		if err != nil {
			continue
		}
		util := float64(length) / float64(info.Capacity)
		if util > maxUtil {
			maxUtil = util
		}
		if c.metricsSet != nil {
			c.metricsSet.QueueDepth.Set(float64(length), info.ID)
		}
	}

	level, rate := classify(maxUtil, c.cfg.Thresholds)

	c.mu.Lock()
	changed := level != c.level
	c.level = level
	c.lastRate = rate
	paused := c.paused
	c.mu.Unlock()

	if paused {
		rate = 0
	}
	if c.sink != nil {
		c.sink.SetRate(rate)
	}
	if c.metricsSet != nil {
		c.metricsSet.PressureLevel.Set(float64(levelOrdinal(level)))
	}
	if changed && c.bus != nil {
		severity := "info"
		if level == models.PressureHigh {
			severity = "warning"
		} else if level == models.PressureCritical {
			severity = "alert"
		}
		_ = c.bus.PublishCtx(ctx, events.Event{
			Category: events.CategoryBackpressure,
			Type:     "level_changed",
			Severity: severity,
			Fields:   map[string]interface{}{"level": string(level), "rate": rate, "max_utilisation": maxUtil},
		})
	}
}

// Level returns the most recently computed pressure level.
func (c *Controller) Level() models.PressureLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Pause forces the published consumption rate to 0 regardless of sampled
// pressure, for the Control API's POST /control/pause (spec.md §4.8).
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.SetRate(0)
	}
}

// Resume clears a manual pause override, letting the next sample tick
// republish the pressure-derived rate (POST /control/resume).
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	rate := c.lastRate
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.SetRate(rate)
	}
}

// Status reports the controller's current mode, effective rate, and
// pressure level for GET /control/status.
func (c *Controller) Status() (mode string, rate float64, level models.PressureLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return "paused", 0, c.level
	}
	return "running", c.lastRate, c.level
}

func classify(util float64, t Thresholds) (models.PressureLevel, float64) {
	switch {
	case util >= t.Critical:
		return models.PressureCritical, 0.0
	case util >= t.High:
		return models.PressureHigh, 0.5
	case util >= t.Low:
		return models.PressureModerate, 0.8
	default:
		return models.PressureNormal, 1.0
	}
}

func levelOrdinal(level models.PressureLevel) int {
	switch level {
	case models.PressureModerate:
		return 1
	case models.PressureHigh:
		return 2
	case models.PressureCritical:
		return 3
	default:
		return 0
	}
}
