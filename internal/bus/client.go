// Package bus adapts the durable Redis-Streams-shaped message bus
// described in spec.md §1/§6: a consumer-group ingress reader (C1), a
// per-processor stream writer (C5), and queue-depth sampling (C6).
//
// The wire protocol (XGroupCreateMkStream/XReadGroup/XAck/XAdd/XLen) is
// grounded on the real github.com/redis/go-redis/v9 usage in
// other_examples/e18ad2ea_brokle-ai-brokle__...telemetry_stream_consumer.go.go.
package bus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frameorchestrator/core/internal/models"
)

// StreamClient is the subset of *redis.Client this package depends on. It
// exists so tests can substitute an in-memory fake without a live Redis
// instance, the way the teacher isolates ratelimit.Clock for deterministic
// timing tests.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Bus wraps a StreamClient with the naming conventions and error
// classification this system needs.
type Bus struct {
	client StreamClient
}

// New wraps any StreamClient (a *redis.Client satisfies it directly).
func New(client StreamClient) *Bus { return &Bus{client: client} }

// classify maps a redis client error onto the spec's bus error taxonomy
// (spec.md §7: BusTransientError vs BusFatalError).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, redis.ErrClosed) {
		return models.ErrBusFatal
	}
	// Authentication and permission replies (NOAUTH/WRONGPASS/NOPERM/ERR
	// AUTH) surface as plain strings from go-redis and are matched by
	// prefix as fatal. Anything else reaching here is treated as transient
	// and left to the caller's backoff loop, matching spec.md's "bus
	// read/write timeout or disconnect" transient classification.
	msg := err.Error()
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "NOPERM", "ERR AUTH"} {
		if strings.HasPrefix(msg, prefix) {
			return models.ErrBusFatal
		}
	}
	return models.ErrBusTransient
}

// EnsureGroup creates the ingress consumer group if it does not already
// exist (idempotent: BUSYGROUP is swallowed).
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err == nil {
		return nil
	}
	if errIsBusyGroup(err) {
		return nil
	}
	return classify(err)
}

func errIsBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// QueueLength returns the current length of a processor's stream (C6's
// XLEN-style sample).
func (b *Bus) QueueLength(ctx context.Context, stream string) (int64, error) {
	n, err := b.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// WriteToProcessorStream appends a frame record to the target processor's
// ready stream (C5, spec.md §6.2). The values are written as given; the
// enqueued_at and traceparent fields are filled in by the caller (see
// EncodeFrame and dispatch.Dispatcher), not here.
func (b *Bus) WriteToProcessorStream(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: stringMapToAny(values)}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// entryTime extracts the millisecond timestamp from a stream entry id. The
// consumer uses it to fill FrameRecord.EnqueuedAt when the record carries
// none, which EncodeFrame then writes out as enqueued_at.
func entryTime(id string) (time.Time, bool) {
	// Redis stream ids are "<ms>-<seq>"; parsing is best-effort and reports
	// false for anything that does not match that shape.
	var ms int64
	i := 0
	for ; i < len(id) && id[i] != '-'; i++ {
		if id[i] < '0' || id[i] > '9' {
			return time.Time{}, false
		}
		ms = ms*10 + int64(id[i]-'0')
	}
	if i == 0 || i == len(id) {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
