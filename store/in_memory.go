// Package store provides execution state persistence for orchestration
// sessions: session records, per-dispatch task records and the append-only
// decision log used for audit replay and crash recovery.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/reactmesh/core"
)

// InMemoryStore is a volatile core.ExecutionStore implementation keeping
// all records in process-local maps. It is safe for concurrent access and
// best suited for tests or ephemeral demo deployments. Returned records are
// copies so callers can never mutate stored state.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]core.SessionRecord
	tasks     map[string]core.TaskRecord
	decisions map[string][]core.DecisionLogEntry
}

// NewInMemoryStore constructs an empty in-memory execution store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]core.SessionRecord),
		tasks:     make(map[string]core.TaskRecord),
		decisions: make(map[string][]core.DecisionLogEntry),
	}
}

// CreateSession persists a fresh session record.
func (s *InMemoryStore) CreateSession(rec core.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ReactID]; ok {
		return fmt.Errorf("store: session %s already exists", rec.ReactID)
	}
	now := time.Now().UTC()
	if rec.Created.IsZero() {
		rec.Created = now
	}
	rec.Updated = now
	s.sessions[rec.ReactID] = cloneSession(rec)
	return nil
}

// GetSession returns the current session snapshot.
func (s *InMemoryStore) GetSession(reactID string) (core.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[reactID]
	if !ok {
		return core.SessionRecord{}, fmt.Errorf("store: unknown session %s", reactID)
	}
	return cloneSession(rec), nil
}

// UpdateSession replaces the session snapshot.
func (s *InMemoryStore) UpdateSession(rec core.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ReactID]; !ok {
		return fmt.Errorf("store: unknown session %s", rec.ReactID)
	}
	rec.Updated = time.Now().UTC()
	s.sessions[rec.ReactID] = cloneSession(rec)
	return nil
}

// ListSessions returns all known session snapshots ordered by creation time.
func (s *InMemoryStore) ListSessions() ([]core.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, cloneSession(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// SaveTask upserts a task record keyed by TaskID.
func (s *InMemoryStore) SaveTask(rec core.TaskRecord) error {
	if rec.TaskID == "" {
		return fmt.Errorf("store: task record missing task_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Updated = time.Now().UTC()
	s.tasks[rec.TaskID] = rec
	return nil
}

// GetTask returns the task record for a TaskID.
func (s *InMemoryStore) GetTask(taskID string) (core.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return core.TaskRecord{}, fmt.Errorf("store: unknown task %s", taskID)
	}
	return rec, nil
}

// TasksBySession returns all task records for a session ordered by
// iteration then step id.
func (s *InMemoryStore) TasksBySession(reactID string) ([]core.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.TaskRecord
	for _, rec := range s.tasks {
		if rec.ReactID == reactID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Iteration != out[j].Iteration {
			return out[i].Iteration < out[j].Iteration
		}
		return out[i].StepID < out[j].StepID
	})
	return out, nil
}

// AppendDecision appends one decision log entry. Entries are never mutated
// or removed.
func (s *InMemoryStore) AppendDecision(entry core.DecisionLogEntry) error {
	if entry.ReactID == "" {
		return fmt.Errorf("store: decision log entry missing react_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.decisions[entry.ReactID] = append(s.decisions[entry.ReactID], entry)
	return nil
}

// DecisionLog returns the full ordered log for a session.
func (s *InMemoryStore) DecisionLog(reactID string) ([]core.DecisionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.decisions[reactID]
	out := make([]core.DecisionLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// DecisionLogRange returns log entries with iteration in [from, to).
func (s *InMemoryStore) DecisionLogRange(reactID string, from, to int) ([]core.DecisionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.DecisionLogEntry
	for _, entry := range s.decisions[reactID] {
		if entry.Iteration >= from && entry.Iteration < to {
			out = append(out, entry)
		}
	}
	return out, nil
}

// cloneSession deep copies the maps and pointers of a session record.
func cloneSession(rec core.SessionRecord) core.SessionRecord {
	out := rec
	if rec.StepTaskIDs != nil {
		out.StepTaskIDs = make(map[string]string, len(rec.StepTaskIDs))
		for k, v := range rec.StepTaskIDs {
			out.StepTaskIDs[k] = v
		}
	}
	if rec.Signal != nil {
		sig := *rec.Signal
		out.Signal = &sig
	}
	if rec.Plan != nil {
		plan := *rec.Plan
		plan.Nodes = make([]core.PlanNode, len(rec.Plan.Nodes))
		copy(plan.Nodes, rec.Plan.Nodes)
		out.Plan = &plan
	}
	return out
}
