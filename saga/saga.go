// Package saga implements the compensation manager. A compensating action
// is recorded for every step immediately after its dispatch is accepted, so
// a dispatch that crashes mid-flight remains compensable. On failure or
// operator cancellation the recorded actions are replayed in strict
// reverse-chronological order; the first unrecoverable compensation failure
// stops the replay and is surfaced rather than silently skipped, because
// blind retry of a compensating action risks double-undo.
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/logging"
)

// CompensationError surfaces an unrecoverable compensation failure. It
// carries the failed action and how many compensations had already been
// replayed, for the human-in-the-loop path.
type CompensationError struct {
	Action   core.CompensationAction
	Executed int
	Err      error
}

// Error implements the error interface.
func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga: compensation %s for step %s failed after %d executed: %v",
		e.Action.ActionID, e.Action.StepID, e.Executed, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CompensationError) Unwrap() error { return e.Err }

// Executor runs one compensating action as a policy-gated Task Contract
// dispatch. Implemented by the dispatcher.
type Executor interface {
	ExecuteCompensation(ctx context.Context, action core.CompensationAction, policy core.TaskPolicy) (core.TaskResult, error)
}

// Options configures a Manager.
type Options struct {
	// Logger records compensation replay. Defaults to NoOp.
	Logger logging.Logger
}

// Manager keeps a per-session compensation stack (last recorded, first
// compensated) and replays it through an Executor.
type Manager struct {
	executor Executor
	logger   logging.Logger

	mu     sync.Mutex
	stacks map[string][]core.CompensationAction
}

// NewManager constructs a compensation manager around an executor.
func NewManager(executor Executor, optFns ...func(o *Options)) *Manager {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{executor: executor, logger: opts.Logger, stacks: make(map[string][]core.CompensationAction)}
}

// Record pushes a compensating action for a dispatched step. Call it
// immediately after the forward dispatch is accepted, not after it
// completes.
func (m *Manager) Record(reactID, stepID, forwardActionType, compensationType string, params map[string]any) core.CompensationAction {
	action := core.CompensationAction{
		ActionID:          core.NewID(),
		ReactID:           reactID,
		StepID:            stepID,
		ForwardActionType: forwardActionType,
		CompensationType:  compensationType,
		Params:            params,
		RecordedAt:        time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stacks[reactID] = append(m.stacks[reactID], action)
	return action
}

// Recorded returns the session's compensation stack in dispatch order.
func (m *Manager) Recorded(reactID string) []core.CompensationAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.stacks[reactID]
	out := make([]core.CompensationAction, len(stack))
	copy(out, stack)
	return out
}

// Compensate replays all recorded compensations for the session in reverse
// order of recording. Successfully compensated actions are popped; on the
// first unrecoverable failure the remaining stack is preserved and a
// CompensationError is returned.
func (m *Manager) Compensate(ctx context.Context, reactID string, policy core.TaskPolicy) error {
	m.mu.Lock()
	stack := m.stacks[reactID]
	m.mu.Unlock()

	executed := 0
	for i := len(stack) - 1; i >= 0; i-- {
		action := stack[i]
		result, err := m.executor.ExecuteCompensation(ctx, action, policy)
		if err == nil && result.Status != core.TaskStatusSuccess {
			err = fmt.Errorf("compensation reported status %s: %s", result.Status, result.Result.Summary)
		}
		if err != nil {
			m.logger.Error("compensation failed, stopping replay", "action_id", action.ActionID, "step_id", action.StepID, "error", err)
			m.mu.Lock()
			m.stacks[reactID] = stack[:i+1]
			m.mu.Unlock()
			return &CompensationError{Action: action, Executed: executed, Err: err}
		}
		m.logger.Info("compensation executed", "action_id", action.ActionID, "step_id", action.StepID)
		executed++
	}

	m.mu.Lock()
	delete(m.stacks, reactID)
	m.mu.Unlock()
	return nil
}

// Discard drops a session's stack once the session completed successfully
// and its forward effects are final.
func (m *Manager) Discard(reactID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, reactID)
}
