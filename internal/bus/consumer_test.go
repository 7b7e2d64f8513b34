package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/frameorchestrator/core/internal/models"
)

// scriptedStream extends the fake client with a one-shot queue of ingress
// messages and an ack journal, enough to exercise the consumer's read and
// ack paths deterministically.
type scriptedStream struct {
	*fakeClient
	queued []redis.XMessage
	acked  []string
}

func newScriptedStream(msgs ...redis.XMessage) *scriptedStream {
	return &scriptedStream{fakeClient: newFakeClient(), queued: msgs}
}

func (s *scriptedStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	if len(s.queued) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	msgs := s.queued
	s.queued = nil
	cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}})
	return cmd
}

func (s *scriptedStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	s.acked = append(s.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func ingressMessage(id, frameID string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{
		"frame_id":  frameID,
		"camera_id": "cam1",
		"priority":  "3",
	}}
}

func newTestConsumer(client *scriptedStream, handler FrameHandler) *Consumer {
	cfg := DefaultConsumerConfig("frames:metadata", "frame-buffer", "orch-0")
	return NewConsumer(New(client), client, cfg, handler)
}

func TestReadBatchAcksAfterSuccessfulHandler(t *testing.T) {
	client := newScriptedStream(ingressMessage("1-1", "f1"))
	var handled []string
	c := newTestConsumer(client, func(ctx context.Context, rec models.FrameRecord, entryID string) error {
		handled = append(handled, rec.FrameID)
		return nil
	})

	n, err := c.readBatch(context.Background(), ">")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"f1"}, handled)
	require.Equal(t, []string{"1-1"}, client.acked)
}

func TestReadBatchLeavesEntryPendingOnHandlerError(t *testing.T) {
	client := newScriptedStream(ingressMessage("1-1", "f1"))
	c := newTestConsumer(client, func(ctx context.Context, rec models.FrameRecord, entryID string) error {
		return models.ErrNoEligibleProcessor
	})

	n, err := c.readBatch(context.Background(), ">")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Empty(t, client.acked, "a failed dispatch must leave the entry in the PEL for redelivery")
}

func TestReadBatchAcksAndCountsMalformedEntries(t *testing.T) {
	malformed := redis.XMessage{ID: "2-0", Values: map[string]interface{}{"camera_id": "cam1"}}
	client := newScriptedStream(malformed)
	handled := 0
	c := newTestConsumer(client, func(ctx context.Context, rec models.FrameRecord, entryID string) error {
		handled++
		return nil
	})
	var dropped []string
	c.OnMalformed(func(entryID string) { dropped = append(dropped, entryID) })

	n, err := c.readBatch(context.Background(), ">")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, handled, "malformed entries never reach the handler")
	require.Equal(t, []string{"2-0"}, client.acked, "malformed entries are acked so they never block the group")
	require.Equal(t, []string{"2-0"}, dropped)
}

func TestReadBatchReturnsZeroOnEmptyStream(t *testing.T) {
	client := newScriptedStream()
	c := newTestConsumer(client, nil)
	n, err := c.readBatch(context.Background(), ">")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEffectiveBatchSizeScalesWithRate(t *testing.T) {
	client := newScriptedStream()
	c := newTestConsumer(client, nil)

	require.Equal(t, int64(10), c.effectiveBatchSize())
	c.SetRate(0.5)
	require.Equal(t, int64(5), c.effectiveBatchSize())
	c.SetRate(0.001)
	require.Equal(t, int64(1), c.effectiveBatchSize(), "batch size never drops below one")
}

func TestSetRateClampsToUnitInterval(t *testing.T) {
	client := newScriptedStream()
	c := newTestConsumer(client, nil)
	c.SetRate(4.2)
	require.Equal(t, 1.0, c.currentRate())
	c.SetRate(-1)
	require.Equal(t, 0.0, c.currentRate())
}

func TestDrainPendingReplaysClaimedEntries(t *testing.T) {
	client := newScriptedStream(ingressMessage("1-1", "f1"), ingressMessage("1-2", "f2"))
	var replayed []string
	c := newTestConsumer(client, func(ctx context.Context, rec models.FrameRecord, entryID string) error {
		replayed = append(replayed, entryID)
		return nil
	})

	require.NoError(t, c.drainPending(context.Background()))
	require.Equal(t, []string{"1-1", "1-2"}, replayed)
	require.Equal(t, []string{"1-1", "1-2"}, client.acked)
}

func TestRunStopsOnFatalBusError(t *testing.T) {
	client := newScriptedStream()
	client.groupErr = errors.New("NOAUTH Authentication required")
	c := newTestConsumer(client, nil)
	// group creation failure that is not BUSYGROUP surfaces as an error and
	// terminates the loop instead of retrying forever.
	err := c.Run(context.Background())
	require.Error(t, err)
}
