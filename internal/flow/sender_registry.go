package flow

import (
	"sync"

	"github.com/omnidma/adamap-engine/internal/dma"
	"github.com/omnidma/adamap-engine/internal/diagnostics"
)

// SenderRegistry tracks the SenderEngines active in one sender process
// and satisfies diagnostics.Source alongside the scheduler they share.
type SenderRegistry struct {
	mu        sync.RWMutex
	engines   map[uint16]*SenderEngine
	scheduler *dma.Scheduler
}

// NewSenderRegistry creates an empty SenderRegistry bound to scheduler.
func NewSenderRegistry(scheduler *dma.Scheduler) *SenderRegistry {
	return &SenderRegistry{engines: make(map[uint16]*SenderEngine), scheduler: scheduler}
}

// Get returns the engine tracked for flowID, if any.
func (r *SenderRegistry) Get(flowID uint16) (*SenderEngine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[flowID]
	return e, ok
}

// GetOrCreate returns the engine tracked for flowID, creating one with
// factory and registering it if none exists yet.
func (r *SenderRegistry) GetOrCreate(flowID uint16, factory func() *SenderEngine) *SenderEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[flowID]; ok {
		return e
	}
	e := factory()
	r.engines[flowID] = e
	return e
}

// ActiveFlows implements diagnostics.Source.
func (r *SenderRegistry) ActiveFlows() []diagnostics.FlowSnapshotter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]diagnostics.FlowSnapshotter, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// Scheduler implements diagnostics.Source.
func (r *SenderRegistry) Scheduler() *dma.Scheduler {
	return r.scheduler
}
