package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerRateOverWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	tr := NewTracker(10 * time.Second)
	for i := 0; i < 5; i++ {
		tr.Record(base.Add(time.Duration(i) * time.Second))
	}
	require.Equal(t, 0.5, tr.Rate(base.Add(4*time.Second)))
}

func TestTrackerPrunesOldEvents(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	tr := NewTracker(1 * time.Second)
	tr.Record(base)
	require.Equal(t, 0.0, tr.Rate(base.Add(5*time.Second)))
}

func TestTrackerEmpty(t *testing.T) {
	tr := NewTracker(time.Second)
	require.Equal(t, 0.0, tr.Rate(time.Now()))
}
