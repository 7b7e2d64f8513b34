package bus

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frameorchestrator/core/internal/models"
)

// FrameHandler processes one decoded frame read off the ingress stream. A
// non-nil error leaves the entry unacknowledged; the handler is expected to
// have already routed/dispatched the frame before returning, per spec.md
// §4.1's "dispatch before ack" ordering (Open Question I2, resolved in
// favor of post-dispatch ack only).
type FrameHandler func(ctx context.Context, rec models.FrameRecord, entryID string) error

// ConsumerConfig controls the Stream Consumer's read cadence (spec.md §4.1,
// C1).
type ConsumerConfig struct {
	Stream     string
	Group      string
	Consumer   string
	BatchSize  int64
	BlockFor   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultConsumerConfig returns conservative defaults matching spec.md's
// suggested batch size and block duration.
func DefaultConsumerConfig(stream, group, consumer string) ConsumerConfig {
	return ConsumerConfig{
		Stream:     stream,
		Group:      group,
		Consumer:   consumer,
		BatchSize:  10,
		BlockFor:   time.Second,
		MinBackoff: 50 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// Consumer drives the ingress-side claim-drain-then-live read loop
// described in spec.md §4.1. Rate gating (I5) is applied by scaling the
// effective batch size and inserting a proportional sleep, driven by an
// externally published consumption rate in [0,1].
type Consumer struct {
	bus         *Bus
	client      StreamClient
	cfg         ConsumerConfig
	rate        atomic.Value // float64, 1.0 = unthrottled
	handler     FrameHandler
	onMalformed func(entryID string)
}

// NewConsumer wires a Consumer to the given bus/client and handler.
func NewConsumer(bus *Bus, client StreamClient, cfg ConsumerConfig, handler FrameHandler) *Consumer {
	c := &Consumer{bus: bus, client: client, cfg: cfg, handler: handler}
	c.SetRate(1.0)
	return c
}

// OnMalformed registers a callback invoked for each ingress entry that is
// acked-and-dropped for failing validation, so the caller can keep the
// malformed_frames_total count (spec.md §7).
func (c *Consumer) OnMalformed(fn func(entryID string)) { c.onMalformed = fn }

// SetRate updates the fraction of full throughput the consumer should
// target; the backpressure controller (C6) calls this as pressure changes.
func (c *Consumer) SetRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	c.rate.Store(rate)
}

func (c *Consumer) currentRate() float64 {
	if v, ok := c.rate.Load().(float64); ok {
		return v
	}
	return 1.0
}

// Run starts the consumer loop and blocks until ctx is cancelled or a
// non-transient error occurs (for example models.ErrBusFatal). It first
// ensures the consumer group exists, then performs a claim-drain pass over
// any entries left pending from a prior crash (XREADGROUP with "0"),
// followed by repeated live reads (XREADGROUP with ">"). Transient bus
// errors in any of these phases are retried with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		err := c.bus.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group)
		if err == nil {
			err = c.drainPending(ctx)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrBusTransient) {
			return err
		}
		sleepWithJitter(ctx, backoff)
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}

	backoff = c.cfg.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.currentRate() <= 0 {
			// CRITICAL pressure (I5): reads are paused entirely; in-flight
			// entries already in the PEL still get ACKed as their dispatch
			// completes, only new reads stop.
			sleepWithJitter(ctx, c.cfg.BlockFor)
			continue
		}
		n, err := c.readBatch(ctx, ">")
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, models.ErrBusFatal) {
				return err
			}
			// transient: back off with jitter and retry.
			sleepWithJitter(ctx, backoff)
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}
		backoff = c.cfg.MinBackoff
		if n == 0 {
			continue
		}
		if rate := c.currentRate(); rate < 1.0 {
			throttle(ctx, c.cfg.BlockFor, rate)
		}
	}
}

// drainPending replays entries assigned to this consumer name that were
// never ack'd before a prior crash, satisfying spec.md §4.1's crash
// recovery requirement. It reads with "0" until an empty batch returns.
func (c *Consumer) drainPending(ctx context.Context) error {
	for {
		n, err := c.readBatch(ctx, "0")
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (c *Consumer) readBatch(ctx context.Context, start string) (int, error) {
	batch := c.effectiveBatchSize()
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, start},
		Count:    batch,
		Block:    c.cfg.BlockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, classify(err)
	}
	count := 0
	for _, stream := range res {
		for _, msg := range stream.Messages {
			count++
			c.handleOne(ctx, msg)
		}
	}
	return count, nil
}

func (c *Consumer) handleOne(ctx context.Context, msg redis.XMessage) {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	rec, err := DecodeFrame(fields)
	if err != nil {
		// malformed entry: ack it so it never blocks the group, and let the
		// caller's metrics count the drop (spec.md §7, malformed_frames_total).
		_ = c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err()
		if c.onMalformed != nil {
			c.onMalformed(msg.ID)
		}
		return
	}
	if ts, ok := entryTime(msg.ID); ok && rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = ts
	}
	if c.handler != nil {
		// I2: the ingress entry is ACKed only once the handler confirms the
		// bus accepted the dispatch write. A handler error (routing/dispatch
		// failure) leaves the entry in the PEL for redelivery.
		if err := c.handler(ctx, rec, msg.ID); err != nil {
			return
		}
	}
	_ = c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err()
}

func (c *Consumer) effectiveBatchSize() int64 {
	rate := c.currentRate()
	scaled := int64(float64(c.cfg.BatchSize) * rate)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

func throttle(ctx context.Context, unit time.Duration, rate float64) {
	if rate >= 1.0 {
		return
	}
	delay := time.Duration(float64(unit) * (1 - rate))
	if delay <= 0 {
		return
	}
	sleepWithJitter(ctx, delay)
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
