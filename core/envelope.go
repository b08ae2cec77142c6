package core

import (
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the contract version stamped on every envelope. Consumers
// reject messages carrying an unknown major version.
const SpecVersion = "1.0"

// MessageType discriminates the contract messages exchanged between the
// kernel and its workers.
type MessageType string

const (
	// MessageTypeTaskDispatch is the kernel → worker task assignment.
	MessageTypeTaskDispatch MessageType = "TASK_DISPATCH"
	// MessageTypeTaskResult is the worker → kernel observation.
	MessageTypeTaskResult MessageType = "TASK_RESULT"
)

// Trace carries correlation identifiers across a dispatch chain.
type Trace struct {
	CorrelationID string `json:"correlation_id"`
	ParentTaskID  string `json:"parent_task_id,omitempty"`
}

// Timestamps records envelope lifecycle instants in UTC.
type Timestamps struct {
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// Envelope is the shared header of every contract message. It correlates a
// message with one orchestration session (ReactID) and one loop iteration.
// After emission an envelope should be treated as immutable.
type Envelope struct {
	SpecVersion string      `json:"spec_version"`
	MessageType MessageType `json:"message_type"`
	ReactID     string      `json:"react_id"`
	Iteration   int         `json:"iteration"`
	Trace       Trace       `json:"trace"`
	Timestamps  Timestamps  `json:"timestamps"`
}

// NewEnvelope creates an envelope bound to a session and iteration with a
// fresh correlation id and a UTC creation timestamp.
func NewEnvelope(mt MessageType, reactID string, iteration int) Envelope {
	return Envelope{
		SpecVersion: SpecVersion,
		MessageType: mt,
		ReactID:     reactID,
		Iteration:   iteration,
		Trace:       Trace{CorrelationID: NewID()},
		Timestamps:  Timestamps{CreatedAt: time.Now().UTC()},
	}
}

// MarkSent stamps the envelope's SentAt timestamp. Called by the dispatcher
// immediately before handing the message to a worker.
func (e *Envelope) MarkSent() {
	now := time.Now().UTC()
	e.Timestamps.SentAt = &now
}

// NewID generates a new unique identifier for sessions, tasks and
// compensation actions.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
