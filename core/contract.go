package core

import (
	"fmt"
	"time"
)

// DelegateClass partitions dispatch targets into read-only support workers
// and side-effect-bearing execution workers. The class is declared on the
// dispatch, never inferred by the receiving worker.
type DelegateClass string

const (
	// DelegateSupport targets read-only workers (retrieval, analysis).
	DelegateSupport DelegateClass = "support_agent"
	// DelegateExecution targets stateful workers (edits, writes, queries
	// with side effects).
	DelegateExecution DelegateClass = "execution_agent"
)

// TaskPolicy is the explicit capability gate attached to every outgoing
// dispatch. Workers enforce it verbatim; they never self-police.
type TaskPolicy struct {
	AllowedActions   []string `json:"allowed_actions"`
	ForbiddenActions []string `json:"forbidden_actions"`
}

// TaskContext carries the background a worker needs to execute a task.
type TaskContext struct {
	Background  string            `json:"background,omitempty"`
	Constraints []string          `json:"constraints,omitempty"`
	Inputs      map[string]any    `json:"inputs,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TaskDispatch is the message sent to a worker for one unit of work.
//
// Contract:
//   - TaskID is unique per logical step and stable across retries of the
//     same step, enabling worker-side idempotency.
//   - SuccessCriteria is non-empty; a result should address each predicate.
//   - Policy is computed by the policy engine before fan-out.
type TaskDispatch struct {
	Envelope
	TaskID          string        `json:"task_id"`
	StepID          string        `json:"step_id"`
	DelegateTo      DelegateClass `json:"delegate_to"`
	Objective       string        `json:"objective"`
	Context         TaskContext   `json:"context"`
	SuccessCriteria []string      `json:"success_criteria"`
	Timeout         time.Duration `json:"timeout"`
	Policy          TaskPolicy    `json:"policy"`
}

// Validate checks the required dispatch fields. It is called on the kernel
// side before fan-out so malformed contracts never reach a worker.
func (d TaskDispatch) Validate() error {
	if d.ReactID == "" {
		return fmt.Errorf("task dispatch: missing react_id")
	}
	if d.TaskID == "" {
		return fmt.Errorf("task dispatch: missing task_id")
	}
	switch d.DelegateTo {
	case DelegateSupport, DelegateExecution:
	default:
		return fmt.Errorf("task dispatch %s: invalid delegate_to %q", d.TaskID, d.DelegateTo)
	}
	if d.Objective == "" {
		return fmt.Errorf("task dispatch %s: missing objective", d.TaskID)
	}
	if len(d.SuccessCriteria) == 0 {
		return fmt.Errorf("task dispatch %s: success_criteria must not be empty", d.TaskID)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("task dispatch %s: timeout must be positive", d.TaskID)
	}
	return nil
}

// TaskStatus is the closed result status set a worker may report.
type TaskStatus string

const (
	// TaskStatusSuccess indicates all success criteria were satisfied.
	TaskStatusSuccess TaskStatus = "success"
	// TaskStatusPartial indicates some but not all criteria were satisfied.
	TaskStatusPartial TaskStatus = "partial"
	// TaskStatusFailed indicates the task did not complete.
	TaskStatusFailed TaskStatus = "failed"
)

// IssueType classifies why a task degraded or failed.
type IssueType string

const (
	// IssuePermission marks a policy or access denial.
	IssuePermission IssueType = "permission"
	// IssueMissingData marks an unsatisfiable input requirement.
	IssueMissingData IssueType = "missing_data"
	// IssueTimeout marks a per-task deadline expiry.
	IssueTimeout IssueType = "timeout"
	// IssueExecutionError marks a worker-side runtime failure.
	IssueExecutionError IssueType = "execution_error"
	// IssueUnknown marks an unclassified failure.
	IssueUnknown IssueType = "unknown"
)

// Issue is a typed problem report attached to a task result.
type Issue struct {
	Type    IssueType `json:"type"`
	Message string    `json:"message"`
}

// ExecutionMeta records worker-side execution timing.
type ExecutionMeta struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns the worker-side execution time.
func (m ExecutionMeta) Duration() time.Duration { return m.FinishedAt.Sub(m.StartedAt) }

// ResultPayload is the substantive content of a task result.
type ResultPayload struct {
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
}

// TaskResult is the worker's reply to a TaskDispatch. It is produced
// exclusively by the worker that received the matching dispatch and consumed
// exactly once by the dispatcher's fan-in logic for that TaskID.
type TaskResult struct {
	Envelope
	TaskID        string        `json:"task_id"`
	AgentID       string        `json:"agent_id"`
	Status        TaskStatus    `json:"status"`
	Result        ResultPayload `json:"result"`
	Issues        []Issue       `json:"issues,omitempty"`
	Confidence    float64       `json:"confidence"`
	ExecutionMeta ExecutionMeta `json:"execution_meta"`
}

// Validate checks the required result fields, including the closed status
// set and the confidence bounds.
func (r TaskResult) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("task result: missing task_id")
	}
	if r.AgentID == "" {
		return fmt.Errorf("task result %s: missing agent_id", r.TaskID)
	}
	switch r.Status {
	case TaskStatusSuccess, TaskStatusPartial, TaskStatusFailed:
	default:
		return fmt.Errorf("task result %s: invalid status %q", r.TaskID, r.Status)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("task result %s: confidence %f out of [0,1]", r.TaskID, r.Confidence)
	}
	for _, is := range r.Issues {
		switch is.Type {
		case IssuePermission, IssueMissingData, IssueTimeout, IssueExecutionError, IssueUnknown:
		default:
			return fmt.Errorf("task result %s: invalid issue type %q", r.TaskID, is.Type)
		}
	}
	return nil
}

// HasIssue reports whether the result carries an issue of the given type.
func (r TaskResult) HasIssue(t IssueType) bool {
	for _, is := range r.Issues {
		if is.Type == t {
			return true
		}
	}
	return false
}
