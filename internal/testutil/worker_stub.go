package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/registry"
)

// StubWorker is a scripted dispatch target for tests. Each call pops the
// next scripted reply; when the script is exhausted the last reply repeats.
// It records every dispatch it receives.
type StubWorker struct {
	id    string
	delay time.Duration

	mu       sync.Mutex
	script   []Reply
	calls    int
	Received []core.TaskDispatch
}

// Reply is one scripted worker response.
type Reply struct {
	Status core.TaskStatus
	Issue  core.IssueType // attached when Status != success
	Err    error          // returned instead of a result when set
}

// NewStubWorker creates a worker that always succeeds.
func NewStubWorker(id string) *StubWorker {
	return &StubWorker{id: id, script: []Reply{{Status: core.TaskStatusSuccess}}}
}

// Script replaces the reply sequence (chainable).
func (w *StubWorker) Script(replies ...Reply) *StubWorker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.script = replies
	return w
}

// Delay makes every call sleep before replying, honoring context
// cancellation (chainable).
func (w *StubWorker) Delay(d time.Duration) *StubWorker {
	w.delay = d
	return w
}

// Calls returns the number of Execute invocations observed.
func (w *StubWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// ID implements core.Worker.
func (w *StubWorker) ID() string { return w.id }

// Execute implements core.Worker.
func (w *StubWorker) Execute(ctx context.Context, dispatch core.TaskDispatch) (core.TaskResult, error) {
	if w.delay > 0 {
		select {
		case <-ctx.Done():
			return core.TaskResult{}, ctx.Err()
		case <-time.After(w.delay):
		}
	}

	w.mu.Lock()
	idx := w.calls
	if idx >= len(w.script) {
		idx = len(w.script) - 1
	}
	reply := w.script[idx]
	w.calls++
	w.Received = append(w.Received, dispatch)
	w.mu.Unlock()

	if reply.Err != nil {
		return core.TaskResult{}, reply.Err
	}

	result := core.TaskResult{
		Envelope: core.NewEnvelope(core.MessageTypeTaskResult, dispatch.ReactID, dispatch.Iteration),
		TaskID:   dispatch.TaskID,
		AgentID:  w.id,
		Status:   reply.Status,
		Result:   core.ResultPayload{Summary: "stub result from " + w.id},
		ExecutionMeta: core.ExecutionMeta{
			StartedAt:  time.Now().UTC(),
			FinishedAt: time.Now().UTC(),
		},
	}
	if reply.Status != core.TaskStatusSuccess && reply.Issue != "" {
		result.Issues = []core.Issue{{Type: reply.Issue, Message: "scripted " + string(reply.Issue)}}
	}
	return result, nil
}

// Candidate returns registry metadata for the worker with neutral scores.
func (w *StubWorker) Candidate(sideEffect bool, capabilities ...string) registry.Candidate {
	return registry.Candidate{
		ID:             w.id,
		Type:           registry.CandidateWorker,
		Capabilities:   capabilities,
		CostScore:      0.8,
		LatencyScore:   0.8,
		Stability:      0.9,
		SuccessHistory: 0.9,
		SideEffect:     sideEffect,
	}
}
