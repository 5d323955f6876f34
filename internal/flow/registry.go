package flow

import (
	"sync"

	"github.com/omnidma/adamap-engine/internal/dma"
	"github.com/omnidma/adamap-engine/internal/diagnostics"
)

// Registry tracks the receiver Engines active in one process and
// satisfies diagnostics.Source so the periodic reporter can snapshot
// every flow alongside the scheduler they share.
type Registry struct {
	mu        sync.RWMutex
	engines   map[uint16]*Engine
	scheduler *dma.Scheduler
}

// NewRegistry creates an empty Registry bound to scheduler.
func NewRegistry(scheduler *dma.Scheduler) *Registry {
	return &Registry{engines: make(map[uint16]*Engine), scheduler: scheduler}
}

// Put registers e, replacing any engine already tracked for its flow ID.
func (r *Registry) Put(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.FlowID()] = e
}

// Get returns the engine tracked for flowID, if any.
func (r *Registry) Get(flowID uint16) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[flowID]
	return e, ok
}

// GetOrCreate returns the engine tracked for flowID, creating one with
// factory and registering it if none exists yet.
func (r *Registry) GetOrCreate(flowID uint16, factory func() *Engine) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[flowID]; ok {
		return e
	}
	e := factory()
	r.engines[flowID] = e
	return e
}

// Remove drops the engine tracked for flowID, e.g. once it finishes.
func (r *Registry) Remove(flowID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, flowID)
}

// ActiveFlows implements diagnostics.Source.
func (r *Registry) ActiveFlows() []diagnostics.FlowSnapshotter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]diagnostics.FlowSnapshotter, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// Scheduler implements diagnostics.Source.
func (r *Registry) Scheduler() *dma.Scheduler {
	return r.scheduler
}
