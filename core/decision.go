package core

import (
	"fmt"
	"time"
)

// DecisionAction is the closed set of actions the orchestration loop may
// emit at the end of an iteration. No other value is valid; the restriction
// keeps the loop deterministic and auditable.
type DecisionAction string

const (
	// ActionComplete terminates the session successfully.
	ActionComplete DecisionAction = "complete"
	// ActionRetry re-dispatches the failed steps of the current plan.
	ActionRetry DecisionAction = "retry"
	// ActionExtendPlan returns to planning to add steps for unmet needs.
	ActionExtendPlan DecisionAction = "extend_plan"
	// ActionEscalate hands the session to the human-in-the-loop boundary.
	ActionEscalate DecisionAction = "escalate"
)

// State identifies a phase of the orchestration state machine.
type State string

const (
	// StateAwareness consumes the semantic signal for a new instruction.
	StateAwareness State = "AWARENESS"
	// StatePlanning decomposes the instruction into a task DAG.
	StatePlanning State = "PLANNING"
	// StateDelegation fans out ready tasks to workers.
	StateDelegation State = "DELEGATION"
	// StateObservation waits for the dispatcher's fan-in summary.
	StateObservation State = "OBSERVATION"
	// StateDecision converts the observation into a bounded decision.
	StateDecision State = "DECISION"
	// StateComplete is the terminal state.
	StateComplete State = "COMPLETE"
)

// Decision is the only output shape an orchestration iteration may produce.
// NextState is restricted to the three states a decision can route to.
type Decision struct {
	Action    DecisionAction `json:"action" yaml:"action"`
	Reason    string         `json:"reason" yaml:"reason"`
	NextState State          `json:"next_state" yaml:"next_state"`
}

// Validate enforces the closed action and next-state sets.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionComplete, ActionRetry, ActionExtendPlan, ActionEscalate:
	default:
		return fmt.Errorf("decision: invalid action %q", d.Action)
	}
	switch d.NextState {
	case StateComplete, StateDelegation, StatePlanning:
	default:
		return fmt.Errorf("decision: invalid next_state %q", d.NextState)
	}
	return nil
}

// DecisionLogEntry is the append-only audit record written once per state
// transition. Entries are never mutated or deleted; they are the source of
// truth for crash recovery and replay.
type DecisionLogEntry struct {
	ReactID            string    `json:"react_id"`
	Iteration          int       `json:"iteration"`
	State              State     `json:"state"`
	InputSignature     string    `json:"input_signature"`
	ObservationSummary string    `json:"observation_summary,omitempty"`
	Decision           *Decision `json:"decision,omitempty"`
	Outcome            string    `json:"outcome"`
	Timestamp          time.Time `json:"timestamp"`
}
