package core

import "time"

// SessionStatus tracks the lifecycle of one orchestration session.
type SessionStatus string

const (
	// SessionRunning marks an in-flight session.
	SessionRunning SessionStatus = "running"
	// SessionComplete marks a successfully terminated session.
	SessionComplete SessionStatus = "complete"
	// SessionEscalated marks a session handed to the operator.
	SessionEscalated SessionStatus = "escalated"
	// SessionCancelled marks an operator-cancelled session.
	SessionCancelled SessionStatus = "cancelled"
)

// SessionRecord is the durable snapshot of one orchestration session.
type SessionRecord struct {
	ReactID     string            `json:"react_id"`
	Instruction string            `json:"instruction"`
	Status      SessionStatus     `json:"status"`
	State       State             `json:"state"`
	Iteration   int               `json:"iteration"`
	Signal      *Signal           `json:"signal,omitempty"`
	Plan        *Plan             `json:"plan,omitempty"`
	StepTaskIDs map[string]string `json:"step_task_ids,omitempty"`
	Created     time.Time         `json:"created"`
	Updated     time.Time         `json:"updated"`
}

// TaskRecord is the durable per-dispatch record kept for audit and for the
// idempotency cache to survive a restart.
type TaskRecord struct {
	TaskID    string      `json:"task_id"`
	StepID    string      `json:"step_id"`
	ReactID   string      `json:"react_id"`
	Iteration int         `json:"iteration"`
	Attempts  int         `json:"attempts"`
	Status    TaskStatus  `json:"status"`
	Result    *TaskResult `json:"result,omitempty"`
	Updated   time.Time   `json:"updated"`
}

// ExecutionStore persists session records, task records and the append-only
// decision log. Implementations must guarantee a durable write per state
// transition and allow point-in-time reconstruction of a session's history
// from its decision log.
type ExecutionStore interface {
	// CreateSession persists a fresh session record.
	CreateSession(rec SessionRecord) error

	// GetSession returns the current session snapshot.
	GetSession(reactID string) (SessionRecord, error)

	// UpdateSession replaces the session snapshot.
	UpdateSession(rec SessionRecord) error

	// ListSessions returns all known session snapshots, for audit tooling.
	ListSessions() ([]SessionRecord, error)

	// SaveTask upserts a task record keyed by TaskID.
	SaveTask(rec TaskRecord) error

	// GetTask returns the task record for a TaskID.
	GetTask(taskID string) (TaskRecord, error)

	// TasksBysession returns all task records for a session.
	TasksBySession(reactID string) ([]TaskRecord, error)

	// AppendDecision appends one decision log entry. The write must be
	// durable before the next iteration may begin.
	AppendDecision(entry DecisionLogEntry) error

	// DecisionLog returns the full ordered log for a session.
	DecisionLog(reactID string) ([]DecisionLogEntry, error)

	// DecisionLogRange returns log entries with iteration in [from, to).
	DecisionLogRange(reactID string, from, to int) ([]DecisionLogEntry, error)
}
