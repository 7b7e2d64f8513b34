// Package registry implements the Processor Registry (spec.md §4.2): a
// concurrent-safe map from processor id to ProcessorInfo plus its circuit
// breaker, sharded the way the teacher's adaptive rate limiter shards
// per-domain state (engine/internal/ratelimit/limiter.go), generalized
// from "domain" to "processor id".
package registry

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/frameorchestrator/core/internal/circuit"
	"github.com/frameorchestrator/core/internal/models"
)

// Persister mirrors registry mutations to durable bus-side storage
// (spec.md §6.5, "processors:registry" hash) so a restarted orchestrator
// can reconstruct state. A nil Persister makes the registry memory-only,
// which is sufficient for tests.
type Persister interface {
	SaveProcessor(ctx context.Context, info models.ProcessorInfo) error
	DeleteProcessor(ctx context.Context, id string) error
	LoadProcessors(ctx context.Context) ([]models.ProcessorInfo, error)
}

const shardCount = 16

type entry struct {
	mu      sync.Mutex
	info    models.ProcessorInfo
	breaker *circuit.Breaker
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Registry is the concurrent-safe processor registry.
type Registry struct {
	shards      [shardCount]*shard
	persister   Persister
	circuitCfg  circuit.Config
	affinityMu  sync.Mutex
	affinity    map[string]string // camera_id -> processor_id
	affinityCnt map[string]int    // processor_id -> assigned camera count
}

// New constructs an empty registry.
func New(persister Persister, circuitCfg circuit.Config) *Registry {
	r := &Registry{
		persister:   persister,
		circuitCfg:  circuitCfg,
		affinity:    make(map[string]string),
		affinityCnt: make(map[string]int),
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// LoadFromBus reconstructs the registry from persisted state at startup
// (spec.md §6.5). Each loaded processor starts with a fresh CLOSED
// breaker and UNKNOWN health, as if newly registered (I1 is re-satisfied
// once the first health record lands).
func (r *Registry) LoadFromBus(ctx context.Context) error {
	if r.persister == nil {
		return nil
	}
	infos, err := r.persister.LoadProcessors(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		info.Health = models.HealthUnknown
		sh := r.shardFor(info.ID)
		sh.mu.Lock()
		sh.entries[info.ID] = &entry{info: info, breaker: circuit.New(r.circuitCfg)}
		sh.mu.Unlock()
	}
	return nil
}

// Register adds a new processor. Returns models.ErrConflict if the id is
// already registered (I8/P8: idempotent register must reject duplicates
// and leave the first registration unchanged).
func (r *Registry) Register(ctx context.Context, info models.ProcessorInfo) error {
	if info.ID == "" {
		return models.ErrValidation
	}
	if info.Queue == "" {
		info.Queue = models.QueueName(info.ID)
	}
	sh := r.shardFor(info.ID)
	sh.mu.Lock()
	if _, exists := sh.entries[info.ID]; exists {
		sh.mu.Unlock()
		return models.ErrConflict
	}
	now := time.Now()
	info.RegisteredAt = now
	info.LastHeartbeatAt = now
	info.Health = models.HealthUnknown
	info.Version = 1
	e := &entry{info: info, breaker: circuit.New(r.circuitCfg)}
	sh.entries[info.ID] = e
	sh.mu.Unlock()

	if r.persister != nil {
		if err := r.persister.SaveProcessor(ctx, info); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a processor, its circuit state, and any affinity
// entries pointing to it. Does not drain its per-processor stream
// (external concern, per spec.md §4.2).
func (r *Registry) Unregister(ctx context.Context, id string) error {
	sh := r.shardFor(id)
	sh.mu.Lock()
	_, exists := sh.entries[id]
	if !exists {
		sh.mu.Unlock()
		return models.ErrNotFound
	}
	delete(sh.entries, id)
	sh.mu.Unlock()

	r.affinityMu.Lock()
	for camera, proc := range r.affinity {
		if proc == id {
			delete(r.affinity, camera)
		}
	}
	delete(r.affinityCnt, id)
	r.affinityMu.Unlock()

	if r.persister != nil {
		return r.persister.DeleteProcessor(ctx, id)
	}
	return nil
}

// Get returns a copy of the processor's info, or models.ErrNotFound.
func (r *Registry) Get(id string) (models.ProcessorInfo, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return models.ProcessorInfo{}, models.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info, nil
}

// Circuit returns the breaker for a processor id, or nil if unregistered.
func (r *Registry) Circuit(id string) *circuit.Breaker {
	sh := r.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.breaker
}

// List returns a consistent snapshot of every registered processor,
// sorted by id for deterministic iteration (spec.md §4.2 invariant: "a
// snapshot used by C4 is internally consistent").
func (r *Registry) List() []models.ProcessorInfo {
	out := make([]models.ProcessorInfo, 0, shardCount*4)
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			e.mu.Lock()
			out = append(out, e.info)
			e.mu.Unlock()
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByCapability returns every registered processor advertising cap.
func (r *Registry) ByCapability(cap string) []models.ProcessorInfo {
	all := r.List()
	if cap == "" {
		return all
	}
	out := make([]models.ProcessorInfo, 0, len(all))
	for _, info := range all {
		if info.HasCapability(cap) {
			out = append(out, info)
		}
	}
	return out
}

// MarkHealthy records a successful probe, deriving HEALTHY health.
func (r *Registry) MarkHealthy(id string, at time.Time) error {
	return r.mutate(id, func(e *entry) {
		e.info.Health = models.HealthHealthy
		e.info.LastHeartbeatAt = at
		e.info.Version++
	})
}

// MarkUnhealthy records a failed probe; the derived health is refined by
// the health monitor based on circuit state (OPEN => UNHEALTHY, otherwise
// DEGRADED per spec.md §4.3).
func (r *Registry) MarkUnhealthy(id string, health models.Health, at time.Time) error {
	return r.mutate(id, func(e *entry) {
		e.info.Health = health
		e.info.LastHeartbeatAt = at
		e.info.Version++
	})
}

// UpdateLoad records the latest queue-depth-derived load fraction.
func (r *Registry) UpdateLoad(id string, fraction float64) error {
	return r.mutate(id, func(e *entry) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		e.info.CurrentLoad = fraction
		e.info.Version++
	})
}

func (r *Registry) mutate(id string, fn func(e *entry)) error {
	sh := r.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return models.ErrNotFound
	}
	e.mu.Lock()
	fn(e)
	e.mu.Unlock()
	return nil
}

// AffinityTarget returns the processor id currently assigned to camera,
// and whether one exists.
func (r *Registry) AffinityTarget(camera string) (string, bool) {
	r.affinityMu.Lock()
	defer r.affinityMu.Unlock()
	id, ok := r.affinity[camera]
	return id, ok
}

// AssignAffinity records a new camera -> processor assignment, used by
// the affinity strategy the first time a camera is seen (spec.md §4.4).
func (r *Registry) AssignAffinity(camera, processorID string) {
	r.affinityMu.Lock()
	defer r.affinityMu.Unlock()
	if prev, ok := r.affinity[camera]; ok {
		if prev == processorID {
			return
		}
		r.affinityCnt[prev]--
	}
	r.affinity[camera] = processorID
	r.affinityCnt[processorID]++
}

// LeastAssignedEligible returns the eligible processor id currently
// carrying the fewest camera assignments (spec.md §4.4 affinity fallback).
func (r *Registry) LeastAssignedEligible(eligible []models.ProcessorInfo) string {
	r.affinityMu.Lock()
	defer r.affinityMu.Unlock()
	best := ""
	bestCount := -1
	for _, p := range eligible {
		c := r.affinityCnt[p.ID]
		if bestCount == -1 || c < bestCount || (c == bestCount && p.ID < best) {
			best = p.ID
			bestCount = c
		}
	}
	return best
}

// PruneAffinity removes affinity entries pointing at processors no longer
// registered (spec.md §4.4: "orphaned entries are pruned lazily").
func (r *Registry) PruneAffinity() {
	live := make(map[string]bool)
	for _, p := range r.List() {
		live[p.ID] = true
	}
	r.affinityMu.Lock()
	defer r.affinityMu.Unlock()
	for camera, proc := range r.affinity {
		if !live[proc] {
			delete(r.affinity, camera)
			delete(r.affinityCnt, proc)
		}
	}
}
