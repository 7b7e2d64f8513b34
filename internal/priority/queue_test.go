package priority

import (
	"testing"

	"github.com/frameorchestrator/core/internal/models"
	"github.com/stretchr/testify/require"
)

func TestPopServesHighestBandFirst(t *testing.T) {
	q := New(0)
	q.Push(models.FrameRecord{FrameID: "low", Priority: 1})
	q.Push(models.FrameRecord{FrameID: "high", Priority: 9})

	frame, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "high", frame.FrameID)
}

func TestPopFIFOWithinBand(t *testing.T) {
	q := New(0)
	q.Push(models.FrameRecord{FrameID: "first", Priority: 5})
	q.Push(models.FrameRecord{FrameID: "second", Priority: 5})

	a, _ := q.Pop()
	b, _ := q.Pop()
	require.Equal(t, "first", a.FrameID)
	require.Equal(t, "second", b.FrameID)
}

func TestAntiStarvationForcesLowerBand(t *testing.T) {
	q := New(2)
	q.Push(models.FrameRecord{FrameID: "lo", Priority: 0})
	for i := 0; i < 5; i++ {
		q.Push(models.FrameRecord{FrameID: "hi", Priority: 9})
	}

	var order []string
	for i := 0; i < 3; i++ {
		f, ok := q.Pop()
		require.True(t, ok)
		order = append(order, f.FrameID)
	}
	require.Equal(t, []string{"hi", "hi", "lo"}, order)
}

func TestPopFalseOnEmpty(t *testing.T) {
	q := New(0)
	_, ok := q.Pop()
	require.False(t, ok)
}

func TestBandDepthsReportsPerBandCounts(t *testing.T) {
	q := New(0)
	q.Push(models.FrameRecord{Priority: 1})
	q.Push(models.FrameRecord{Priority: 1})
	q.Push(models.FrameRecord{Priority: 5})

	depths := q.BandDepths()
	require.Equal(t, 2, depths[1])
	require.Equal(t, 1, depths[5])
	require.Equal(t, 3, q.Len())
}
