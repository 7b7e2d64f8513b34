package registry

import (
	"context"
	"testing"

	"github.com/frameorchestrator/core/internal/circuit"
	"github.com/frameorchestrator/core/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotency(t *testing.T) {
	r := New(nil, circuit.DefaultConfig())
	ctx := context.Background()
	info := models.ProcessorInfo{ID: "p1", Capacity: 10}
	require.NoError(t, r.Register(ctx, info))
	err := r.Register(ctx, info)
	require.ErrorIs(t, err, models.ErrConflict)

	got, err := r.Get("p1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Version)
}

func TestUnregisterRemovesAffinityAndCircuit(t *testing.T) {
	r := New(nil, circuit.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, models.ProcessorInfo{ID: "p1"}))
	r.AssignAffinity("cam1", "p1")

	require.NoError(t, r.Unregister(ctx, "p1"))
	_, ok := r.AffinityTarget("cam1")
	require.False(t, ok)
	require.Nil(t, r.Circuit("p1"))

	err := r.Unregister(ctx, "p1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestByCapabilityFilters(t *testing.T) {
	r := New(nil, circuit.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, models.ProcessorInfo{ID: "p1", Capabilities: map[string]bool{"face_detection": true}}))
	require.NoError(t, r.Register(ctx, models.ProcessorInfo{ID: "p2", Capabilities: map[string]bool{"object_detection": true}}))

	faces := r.ByCapability("face_detection")
	require.Len(t, faces, 1)
	require.Equal(t, "p1", faces[0].ID)
}

func TestLeastAssignedEligiblePrefersFewestCameras(t *testing.T) {
	r := New(nil, circuit.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, models.ProcessorInfo{ID: "p1"}))
	require.NoError(t, r.Register(ctx, models.ProcessorInfo{ID: "p2"}))
	r.AssignAffinity("cam1", "p1")

	eligible := r.List()
	best := r.LeastAssignedEligible(eligible)
	require.Equal(t, "p2", best)
}

func TestUpdateLoadClampsRange(t *testing.T) {
	r := New(nil, circuit.DefaultConfig())
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, models.ProcessorInfo{ID: "p1"}))
	require.NoError(t, r.UpdateLoad("p1", 1.5))
	got, _ := r.Get("p1")
	require.Equal(t, 1.0, got.CurrentLoad)
}
