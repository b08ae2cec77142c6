// Package registry provides the capability registry: a queryable catalog of
// dispatchable targets (workers, tools, models) with declared capabilities,
// cost/latency/stability metadata and an exponentially updated historical
// success rate. The registry is read-mostly and safe for concurrent access
// from many sessions.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// CandidateType classifies a registry entry.
type CandidateType string

const (
	// CandidateWorker is an autonomous worker service.
	CandidateWorker CandidateType = "worker"
	// CandidateTool is a directly invocable tool.
	CandidateTool CandidateType = "tool"
	// CandidateModel is a model backend.
	CandidateModel CandidateType = "model"
)

// Candidate is one dispatchable target. Score fields are normalized to
// [0,1] where higher is better (CostScore of 1.0 means cheapest).
//
// SideEffect distinguishes read-only support candidates from stateful
// execution candidates. It is a hard security boundary declared at
// registration time, never inferred at dispatch time.
type Candidate struct {
	ID             string        `json:"candidate_id"`
	Type           CandidateType `json:"candidate_type"`
	Capabilities   []string      `json:"capabilities"`
	CostScore      float64       `json:"cost_score"`
	LatencyScore   float64       `json:"latency_score"`
	Stability      float64       `json:"stability"`
	SuccessHistory float64       `json:"success_history"`
	SideEffect     bool          `json:"side_effect"`
	Registered     time.Time     `json:"registered"`
}

// HasCapability reports whether the candidate declares the exact tag.
func (c Candidate) HasCapability(tag string) bool {
	for _, cap := range c.Capabilities {
		if cap == tag {
			return true
		}
	}
	return false
}

// historyAlpha is the EMA smoothing factor applied by ReportOutcome.
// A new observation contributes 20% to the updated success history.
const historyAlpha = 0.2

// Registry is a concurrent in-memory candidate catalog. Reads return
// copies so callers can never mutate registry state.
type Registry struct {
	mu         sync.RWMutex
	candidates map[string]Candidate
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{candidates: make(map[string]Candidate)}
}

// Register adds or replaces a candidate. A candidate without capabilities
// or with an empty id is rejected.
func (r *Registry) Register(c Candidate) error {
	if c.ID == "" {
		return fmt.Errorf("registry: candidate id must not be empty")
	}
	if len(c.Capabilities) == 0 {
		return fmt.Errorf("registry: candidate %s declares no capabilities", c.ID)
	}
	switch c.Type {
	case CandidateWorker, CandidateTool, CandidateModel:
	default:
		return fmt.Errorf("registry: candidate %s has invalid type %q", c.ID, c.Type)
	}
	if c.Registered.IsZero() {
		c.Registered = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[c.ID] = c
	return nil
}

// Deregister removes a candidate from the catalog.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.candidates, id)
}

// Get returns a copy of the candidate with the given id.
func (r *Registry) Get(id string) (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.candidates[id]
	if !ok {
		return Candidate{}, false
	}
	return cloneCandidate(c), true
}

func cloneCandidate(c Candidate) Candidate {
	caps := make([]string, len(c.Capabilities))
	copy(caps, c.Capabilities)
	c.Capabilities = caps
	return c
}

// Snapshot returns a copy of all candidates in a stable order (by id).
// Matchers score against a snapshot so an evaluation never observes a
// half-updated catalog.
func (r *Registry) Snapshot() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Candidate, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, cloneCandidate(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capabilities returns the union of all declared capability tags, sorted.
// Planners use this to constrain plan output to dispatchable requirements.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, c := range r.candidates {
		for _, tag := range c.Capabilities {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Resolves reports whether at least one candidate declares the capability.
func (r *Registry) Resolves(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.candidates {
		if c.HasCapability(tag) {
			return true
		}
	}
	return false
}

// ReportOutcome folds one observed dispatch outcome into the candidate's
// success history using an exponential moving average. Unknown ids are
// ignored; a deregistered candidate may still have results in flight.
func (r *Registry) ReportOutcome(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.candidates[id]
	if !ok {
		return
	}
	observed := 0.0
	if success {
		observed = 1.0
	}
	c.SuccessHistory = (1-historyAlpha)*c.SuccessHistory + historyAlpha*observed
	r.candidates[id] = c
}

// Len returns the number of registered candidates.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candidates)
}
