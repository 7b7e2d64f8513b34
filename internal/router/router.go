// Package router implements the Router (spec.md §4.4): eligibility and
// capability filtering shared by four pluggable selection strategies,
// mirroring the teacher's small single-method interface style
// (engine/strategies.go) rather than one large dispatch-table type.
package router

import (
	"context"
	"sort"

	"github.com/frameorchestrator/core/internal/models"
	"github.com/frameorchestrator/core/internal/registry"
)

// Strategy picks one eligible processor for a frame from an already
// filtered snapshot.
type Strategy interface {
	Select(ctx context.Context, frame models.FrameRecord, eligible []models.ProcessorInfo, reg *registry.Registry) (models.ProcessorInfo, error)
}

// Router applies eligibility/capability filtering before delegating to the
// configured Strategy (spec.md §4.4 steps 1-2 run identically regardless
// of strategy).
type Router struct {
	reg      *registry.Registry
	strategy Strategy
}

// New builds a Router backed by reg, selecting with strategy.
func New(reg *registry.Registry, strategy Strategy) *Router {
	return &Router{reg: reg, strategy: strategy}
}

// Route filters the current registry snapshot down to eligible processors
// and asks the strategy to pick one, returning models.ErrNoEligibleProcessor
// when nothing qualifies (spec.md's NoEligibleProcessor error kind).
func (r *Router) Route(ctx context.Context, frame models.FrameRecord) (models.ProcessorInfo, error) {
	eligible := r.eligible(frame)
	if len(eligible) == 0 {
		return models.ProcessorInfo{}, models.ErrNoEligibleProcessor
	}
	return r.strategy.Select(ctx, frame, eligible, r.reg)
}

// eligible returns processors not marked unhealthy (healthy, degraded, or
// unknown/newly registered) whose circuit is not open and which advertise
// the frame's required capability, sorted by id for
// deterministic strategy input (spec.md §4.4 steps 1-2).
func (r *Router) eligible(frame models.FrameRecord) []models.ProcessorInfo {
	cap := frame.DetectionType()
	all := r.reg.ByCapability(cap)
	out := make([]models.ProcessorInfo, 0, len(all))
	for _, info := range all {
		if info.Health == models.HealthUnhealthy {
			continue
		}
		if br := r.reg.Circuit(info.ID); br != nil && br.State() == models.CircuitOpen {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
