package core

import "context"

// Worker is a dispatch target. Implementations execute one task at a time
// and must be safe for concurrent Execute calls with distinct dispatches.
//
// Idempotency contract: a worker receiving a duplicate TaskID for a step it
// already completed must return the prior result rather than re-executing a
// side-effecting action. The dispatcher additionally enforces this on the
// worker's behalf via its result cache.
type Worker interface {
	// ID returns the stable identifier the capability registry knows this
	// worker by.
	ID() string

	// Execute performs the dispatched task and returns its result. A nil
	// error with a failed-status result is the normal failure path; an error
	// return means the worker could not produce a contract-valid result at
	// all.
	Execute(ctx context.Context, dispatch TaskDispatch) (TaskResult, error)
}

// Analyzer turns a raw instruction into a structured semantic signal. The
// concrete natural-language understanding step lives outside the kernel.
type Analyzer interface {
	Analyze(ctx context.Context, instruction string) (Signal, error)
}

// PlanRequest bundles the inputs a planner decomposes into a task DAG.
type PlanRequest struct {
	ReactID      string
	Instruction  string
	Signal       Signal
	Capabilities []string // capability tags present in the registry
	// PriorSummary is non-nil when planning is re-entered to extend an
	// existing plan after a partial observation.
	PriorSummary *ObservationSummary
}

// Planner decomposes one instruction into a Plan. Planner output is never
// trusted directly; the planner package validates the DAG and its
// capability requirements against the registry before acceptance.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}
