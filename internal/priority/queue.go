// Package priority implements a multi-band FIFO queue with anti-starvation
// admission, used by the orchestrator to stage frames when the priority
// routing strategy is configured (spec.md §4.7 — numbered C7 in SPEC_FULL).
package priority

import (
	"container/list"
	"sync"

	"github.com/frameorchestrator/core/internal/models"
)

// Queue holds one FIFO list per distinct priority band. Dequeue normally
// serves the highest band first, but after StarvationThreshold consecutive
// dequeues from high bands it forces the next dequeue from the oldest
// non-empty lower band, so low-priority frames are never starved entirely.
type Queue struct {
	mu                  sync.Mutex
	bands               map[int]*list.List
	order               []int // known band values, descending
	StarvationThreshold int
	highStreak          int
}

// New builds an empty Queue. starvationThreshold <= 0 disables
// anti-starvation forcing (pure strict-priority behavior).
func New(starvationThreshold int) *Queue {
	return &Queue{bands: make(map[int]*list.List), StarvationThreshold: starvationThreshold}
}

// Push enqueues a frame into its priority band, creating the band on first
// use and keeping the known-bands list sorted descending.
func (q *Queue) Push(frame models.FrameRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	band, ok := q.bands[frame.Priority]
	if !ok {
		band = list.New()
		q.bands[frame.Priority] = band
		q.insertOrder(frame.Priority)
	}
	band.PushBack(frame)
}

func (q *Queue) insertOrder(p int) {
	i := 0
	for ; i < len(q.order); i++ {
		if q.order[i] == p {
			return
		}
		if q.order[i] < p {
			break
		}
	}
	q.order = append(q.order, 0)
	copy(q.order[i+1:], q.order[i:])
	q.order[i] = p
}

// Pop removes and returns the next frame per the anti-starvation rule, and
// false if every band is empty.
func (q *Queue) Pop() (models.FrameRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.StarvationThreshold > 0 && q.highStreak >= q.StarvationThreshold {
		if frame, ok := q.popOldestLowerBand(); ok {
			q.highStreak = 0
			return frame, true
		}
	}

	for _, p := range q.order {
		band := q.bands[p]
		if band.Len() == 0 {
			continue
		}
		frame := band.Remove(band.Front()).(models.FrameRecord)
		q.highStreak++
		return frame, true
	}
	return models.FrameRecord{}, false
}

// popOldestLowerBand dequeues from the lowest non-empty band, the band
// most at risk of starvation.
func (q *Queue) popOldestLowerBand() (models.FrameRecord, bool) {
	for i := len(q.order) - 1; i >= 0; i-- {
		band := q.bands[q.order[i]]
		if band.Len() > 0 {
			return band.Remove(band.Front()).(models.FrameRecord), true
		}
	}
	return models.FrameRecord{}, false
}

// Len returns the total number of queued frames across all bands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, band := range q.bands {
		n += band.Len()
	}
	return n
}

// BandDepths reports the current depth of every known band.
func (q *Queue) BandDepths() map[int]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[int]int, len(q.bands))
	for p, band := range q.bands {
		out[p] = band.Len()
	}
	return out
}
