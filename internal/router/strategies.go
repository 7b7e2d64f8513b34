package router

import (
	"context"
	"sync/atomic"

	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
)

// AffinityStrategy pins a camera to the processor it was first routed to,
// falling back to the least-assigned eligible processor for a camera's
// first frame (spec.md §4.4).
type AffinityStrategy struct{}

func (AffinityStrategy) Select(ctx context.Context, frame models.FrameRecord, eligible []models.ProcessorInfo, reg *registry.Registry) (models.ProcessorInfo, error) {
	if target, ok := reg.AffinityTarget(frame.CameraID); ok {
		for _, info := range eligible {
			if info.ID == target {
				return info, nil
			}
		}
		// previously assigned processor is no longer eligible; fall through
		// to reassignment below.
	}
	best := reg.LeastAssignedEligible(eligible)
	if best == "" {
		return models.ProcessorInfo{}, models.ErrNoEligibleProcessor
	}
	reg.AssignAffinity(frame.CameraID, best)
	for _, info := range eligible {
		if info.ID == best {
			return info, nil
		}
	}
	return models.ProcessorInfo{}, models.ErrNoEligibleProcessor
}

// LeastLoadedStrategy picks the eligible processor with the lowest current
// load fraction, breaking ties by id for determinism.
type LeastLoadedStrategy struct{}

func (LeastLoadedStrategy) Select(ctx context.Context, frame models.FrameRecord, eligible []models.ProcessorInfo, reg *registry.Registry) (models.ProcessorInfo, error) {
	best := eligible[0]
	for _, info := range eligible[1:] {
		if info.CurrentLoad < best.CurrentLoad || (info.CurrentLoad == best.CurrentLoad && info.ID < best.ID) {
			best = info
		}
	}
	return best, nil
}

// RoundRobinStrategy cycles through the eligible set in snapshot order.
// Since the eligible slice is sorted by id and may shrink/grow between
// calls, the counter is only a best-effort rotation, matching spec.md's
// "approximately even distribution" wording rather than a strict cycle.
type RoundRobinStrategy struct {
	counter uint64
}

func (s *RoundRobinStrategy) Select(ctx context.Context, frame models.FrameRecord, eligible []models.ProcessorInfo, reg *registry.Registry) (models.ProcessorInfo, error) {
	n := atomic.AddUint64(&s.counter, 1)
	idx := int(n-1) % len(eligible)
	return eligible[idx], nil
}

// PriorityStrategy routes high-priority frames to the least-loaded
// processor and low-priority frames to whichever eligible processor has
// spare capacity first, per spec.md §4.4's priority-aware variant.
type PriorityStrategy struct {
	HighPriorityThreshold int
}

func (s *PriorityStrategy) Select(ctx context.Context, frame models.FrameRecord, eligible []models.ProcessorInfo, reg *registry.Registry) (models.ProcessorInfo, error) {
	threshold := s.HighPriorityThreshold
	if frame.Priority >= threshold {
		return LeastLoadedStrategy{}.Select(ctx, frame, eligible, reg)
	}
	for _, info := range eligible {
		if info.Capacity <= 0 || info.CurrentLoad < 1.0 {
			return info, nil
		}
	}
	return eligible[0], nil
}
