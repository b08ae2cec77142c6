// Package react implements the orchestration state machine. One machine
// drives many sessions; each session moves through
// AWARENESS -> PLANNING -> DELEGATION -> OBSERVATION -> DECISION and back,
// until a DECISION routes it to COMPLETE.
//
// Every state transition appends one durable decision log entry before the
// next iteration may begin, so a crashed session can be resumed from its
// log at the last recorded transition.
package react

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/dispatch"
	"github.com/hupe1980/reactmesh/logging"
	"github.com/hupe1980/reactmesh/planner"
	"github.com/hupe1980/reactmesh/policy"
	"github.com/hupe1980/reactmesh/registry"
	"github.com/hupe1980/reactmesh/saga"
)

// DefaultMaxIterations bounds the loop independently of the retry policy,
// guarding against plans that keep extending themselves.
const DefaultMaxIterations = 25

// Options configures a Machine.
type Options struct {
	// MaxIterations is the hard iteration bound per session; a session
	// reaching it escalates. Defaults to DefaultMaxIterations.
	MaxIterations int

	// TaskTimeout bounds each dispatched task; zero defers to the
	// dispatcher's default.
	TaskTimeout time.Duration

	// Logger receives transition and decision records. Defaults to NoOp.
	Logger logging.Logger
}

// Machine coordinates the collaborators of the orchestration loop. It holds
// no per-instruction state itself; all session state lives in the execution
// store, so the machine is safe for concurrent use by many sessions.
type Machine struct {
	analyzer   core.Analyzer
	planner    core.Planner
	engine     *policy.Engine
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	saga       *saga.Manager
	store      core.ExecutionStore
	logger     logging.Logger

	maxIterations int
	taskTimeout   time.Duration

	mu        sync.Mutex
	cancelled map[string]bool
}

// New constructs a Machine over its collaborators.
func New(analyzer core.Analyzer, pl core.Planner, engine *policy.Engine, reg *registry.Registry,
	d *dispatch.Dispatcher, sg *saga.Manager, st core.ExecutionStore, optFns ...func(o *Options)) *Machine {
	opts := Options{MaxIterations: DefaultMaxIterations, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Machine{
		analyzer:      analyzer,
		planner:       pl,
		engine:        engine,
		registry:      reg,
		dispatcher:    d,
		saga:          sg,
		store:         st,
		logger:        opts.Logger,
		maxIterations: opts.MaxIterations,
		taskTimeout:   opts.TaskTimeout,
		cancelled:     make(map[string]bool),
	}
}

// Outcome is the terminal product of one session run.
type Outcome struct {
	ReactID    string
	Status     core.SessionStatus
	Decision   core.Decision
	Iterations int
	Results    map[string]core.TaskResult // latest result per step id
}

// session is the in-flight working set for one run. The durable parts live
// in rec; the rest is rebuilt from the store on resume.
type session struct {
	rec     core.SessionRecord
	done    map[string]bool            // step id -> completed
	results map[string]core.TaskResult // step id -> latest result
	retries map[string]int             // step id -> retry count
	summary *core.ObservationSummary
	op      *dispatch.Operation
	batch   []string // step ids of the in-flight fan-out

	lastDecision core.Decision
}

// Run executes a new session for the instruction and blocks until it
// reaches a terminal state.
func (m *Machine) Run(ctx context.Context, instruction string) (*Outcome, error) {
	s, err := m.newSession(instruction)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, s)
}

// Start creates the session durably, returns its react id immediately and
// drives the loop in a background goroutine. Exactly one of the returned
// channels delivers a value before both close.
func (m *Machine) Start(ctx context.Context, instruction string) (string, <-chan *Outcome, <-chan error, error) {
	s, err := m.newSession(instruction)
	if err != nil {
		return "", nil, nil, err
	}
	outCh := make(chan *Outcome, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(outCh)
		defer close(errCh)
		out, err := m.run(ctx, s)
		if err != nil {
			errCh <- err
			return
		}
		outCh <- out
	}()
	return s.rec.ReactID, outCh, errCh, nil
}

func (m *Machine) newSession(instruction string) (*session, error) {
	rec := core.SessionRecord{
		ReactID:     core.NewID(),
		Instruction: instruction,
		Status:      core.SessionRunning,
		State:       core.StateAwareness,
		Iteration:   1,
		StepTaskIDs: make(map[string]string),
		Created:     time.Now().UTC(),
	}
	if err := m.store.CreateSession(rec); err != nil {
		return nil, fmt.Errorf("react: create session: %w", err)
	}
	return &session{
		rec:     rec,
		done:    make(map[string]bool),
		results: make(map[string]core.TaskResult),
		retries: make(map[string]int),
	}, nil
}

// Resume picks up a running session after a crash, rebuilding the working
// set from the task records and decision log, and continues the loop from
// the last durable transition. Completed side-effecting steps are not
// re-executed: their task records mark them done and the dispatcher serves
// duplicate task ids from its cache.
func (m *Machine) Resume(ctx context.Context, reactID string) (*Outcome, error) {
	rec, err := m.store.GetSession(reactID)
	if err != nil {
		return nil, fmt.Errorf("react: resume: %w", err)
	}
	if rec.Status != core.SessionRunning {
		return nil, fmt.Errorf("react: session %s is %s, not resumable", reactID, rec.Status)
	}
	if rec.StepTaskIDs == nil {
		rec.StepTaskIDs = make(map[string]string)
	}

	s := &session{
		rec:     rec,
		done:    make(map[string]bool),
		results: make(map[string]core.TaskResult),
		retries: make(map[string]int),
	}
	tasks, err := m.store.TasksBySession(reactID)
	if err != nil {
		return nil, fmt.Errorf("react: resume: %w", err)
	}
	for _, t := range tasks {
		if t.Result != nil {
			s.results[t.StepID] = *t.Result
		}
		if t.Status == core.TaskStatusSuccess {
			s.done[t.StepID] = true
		}
	}
	// Retry rounds already spent count against every still-open step.
	log, err := m.store.DecisionLog(reactID)
	if err != nil {
		return nil, fmt.Errorf("react: resume: %w", err)
	}
	rounds := 0
	for _, e := range log {
		if e.Decision != nil && e.Decision.Action == core.ActionRetry {
			rounds++
		}
	}
	if rounds > 0 && rec.Plan != nil {
		for _, n := range rec.Plan.Nodes {
			if !s.done[n.StepID] {
				s.retries[n.StepID] = rounds
			}
		}
	}

	// Re-enter at the last state that can be replayed idempotently: a
	// session interrupted mid-dispatch or mid-observation restarts its
	// DELEGATION; one without a plan restarts PLANNING.
	switch {
	case rec.Signal == nil:
		s.rec.State = core.StateAwareness
	case rec.Plan == nil:
		s.rec.State = core.StatePlanning
	default:
		s.rec.State = core.StateDelegation
	}
	m.logger.Info("resuming session", "react_id", reactID, "state", string(s.rec.State), "iteration", s.rec.Iteration)
	return m.run(ctx, s)
}

// Cancel flags the session for cancellation. The flag is honored at the
// next delegation entry and at every fan-in evaluation; in-flight tasks are
// awaited, then recorded compensations are replayed.
func (m *Machine) Cancel(reactID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled[reactID] = true
}

func (m *Machine) isCancelled(reactID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[reactID]
}

func (m *Machine) clearCancel(reactID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancelled, reactID)
}

// run drives the state loop for one session. Each session is advanced by
// exactly one goroutine; concurrency happens inside the dispatcher, never
// across the loop itself.
func (m *Machine) run(ctx context.Context, s *session) (*Outcome, error) {
	defer m.clearCancel(s.rec.ReactID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("react: session %s: %w", s.rec.ReactID, err)
		}

		var err error
		switch s.rec.State {
		case core.StateAwareness:
			err = m.stepAwareness(ctx, s)
		case core.StatePlanning:
			err = m.stepPlanning(ctx, s)
		case core.StateDelegation:
			err = m.stepDelegation(ctx, s)
		case core.StateObservation:
			err = m.stepObservation(ctx, s)
		case core.StateDecision:
			err = m.stepDecision(ctx, s)
		case core.StateComplete:
			return m.outcome(s), nil
		default:
			err = fmt.Errorf("react: session %s in unknown state %q", s.rec.ReactID, s.rec.State)
		}
		if err != nil {
			return nil, err
		}
	}
}

// stepAwareness consumes the semantic signal for the instruction. A
// non-actionable instruction completes immediately; an analyzer failure
// escalates, it is never silently retried.
func (m *Machine) stepAwareness(ctx context.Context, s *session) error {
	signal, err := m.analyzer.Analyze(ctx, s.rec.Instruction)
	if err != nil {
		m.logger.Warn("analyzer failed", "react_id", s.rec.ReactID, "error", err)
		return m.finish(s, core.Decision{
			Action:    core.ActionEscalate,
			Reason:    fmt.Sprintf("instruction analysis failed: %v", err),
			NextState: core.StateComplete,
		}, core.SessionEscalated)
	}
	s.rec.Signal = &signal

	if err := m.appendLog(s, core.StateAwareness, fingerprint(s.rec.ReactID, s.rec.Instruction), "",
		nil, fmt.Sprintf("signal: actionable=%t requires_planning=%t risk=%s class=%s",
			signal.Actionable, signal.RequiresPlanning, signal.RiskLevel, signal.CommandClass)); err != nil {
		return err
	}

	if !signal.Actionable {
		return m.finish(s, core.Decision{
			Action:    core.ActionComplete,
			Reason:    "instruction carries no actionable intent",
			NextState: core.StateComplete,
		}, core.SessionComplete)
	}
	return m.transition(s, core.StatePlanning)
}

// stepPlanning asks the planner for a task DAG and validates it against the
// registry before acceptance. Planner output is never trusted directly.
func (m *Machine) stepPlanning(ctx context.Context, s *session) error {
	caps := m.registry.Capabilities()
	plan, err := m.planner.Plan(ctx, core.PlanRequest{
		ReactID:      s.rec.ReactID,
		Instruction:  s.rec.Instruction,
		Signal:       *s.rec.Signal,
		Capabilities: caps,
		PriorSummary: s.summary,
	})
	if err == nil {
		err = planner.Validate(plan, caps)
	}
	if err != nil {
		m.logger.Warn("planning failed", "react_id", s.rec.ReactID, "iteration", s.rec.Iteration, "error", err)
		return m.finish(s, core.Decision{
			Action:    core.ActionEscalate,
			Reason:    fmt.Sprintf("planning failed: %v", err),
			NextState: core.StateComplete,
		}, core.SessionEscalated)
	}

	s.rec.Plan = plan
	// Task ids are assigned once per logical step and reused on retries so
	// workers and the result cache can deduplicate re-dispatches.
	for _, n := range plan.Nodes {
		if _, ok := s.rec.StepTaskIDs[n.StepID]; !ok {
			s.rec.StepTaskIDs[n.StepID] = core.NewID()
		}
	}

	steps := make([]string, 0, len(plan.Nodes))
	for _, n := range plan.Nodes {
		steps = append(steps, n.StepID)
	}
	if err := m.appendLog(s, core.StatePlanning, fingerprint(s.rec.ReactID, strconv.Itoa(s.rec.Iteration), s.rec.Instruction), "",
		nil, fmt.Sprintf("plan accepted: %d steps [%s]", len(plan.Nodes), strings.Join(steps, " "))); err != nil {
		return err
	}
	return m.transition(s, core.StateDelegation)
}

// stepDelegation fans the ready frontier of the plan out to workers. Every
// dispatch is gated by a per-capability policy evaluation; forbidden steps
// still enter the batch so their denial surfaces as a permission-issue
// result rather than vanishing.
func (m *Machine) stepDelegation(ctx context.Context, s *session) error {
	if m.isCancelled(s.rec.ReactID) {
		return m.cancel(ctx, s)
	}

	ready := s.rec.Plan.Ready(s.done)
	if len(ready) == 0 {
		// Nothing dispatchable: either the plan is finished or its open
		// steps sit behind failures. DECISION arbitrates both.
		return m.transition(s, core.StateDecision)
	}

	eval := m.engine.Evaluate(m.policyContext(s, "", false, m.maxRetryCount(s)))
	m.logPolicy(eval)

	tasks := make([]dispatch.Task, 0, len(ready))
	for _, node := range ready {
		taskEval := m.engine.Evaluate(m.policyContext(s, node.CapabilityRequirement, node.Execution, s.retries[node.StepID]))
		tasks = append(tasks, dispatch.Task{
			Node:      node,
			TaskID:    s.rec.StepTaskIDs[node.StepID],
			Policy:    taskEval.Policy.TaskPolicy(),
			Execution: node.Execution,
			Timeout:   m.taskTimeout,
			Context: core.TaskContext{
				Background:  s.rec.Plan.Objective,
				Constraints: s.rec.Signal.Constraints,
			},
		})
	}

	op, err := m.dispatcher.Dispatch(ctx, dispatch.Request{
		ReactID:   s.rec.ReactID,
		Iteration: s.rec.Iteration,
		Tasks:     tasks,
		FanIn:     batchFanIn(ready, eval),
		Cancelled: func() bool { return m.isCancelled(s.rec.ReactID) },
	})
	if err != nil {
		return m.finish(s, core.Decision{
			Action:    core.ActionEscalate,
			Reason:    fmt.Sprintf("delegation failed: %v", err),
			NextState: core.StateComplete,
		}, core.SessionEscalated)
	}
	s.op = op
	s.batch = s.batch[:0]
	for _, node := range ready {
		s.batch = append(s.batch, node.StepID)
	}

	// Compensations are recorded the moment a side-effecting dispatch is
	// accepted, not when its result arrives; a crash mid-flight must still
	// know what to undo.
	for i, td := range op.Dispatches {
		node := tasks[i].Node
		if !node.Execution {
			continue
		}
		m.saga.Record(s.rec.ReactID, node.StepID, node.CapabilityRequirement,
			compensationTag(node), map[string]any{"task_id": td.TaskID, "objective": node.Objective})
	}

	ids := make([]string, 0, len(op.Dispatches))
	for _, td := range op.Dispatches {
		ids = append(ids, td.StepID)
	}
	if err := m.appendLog(s, core.StateDelegation, fingerprint(s.rec.ReactID, strconv.Itoa(s.rec.Iteration), strings.Join(ids, ",")), "",
		nil, fmt.Sprintf("fan-out issued: %d tasks [%s]", len(op.Dispatches), strings.Join(ids, " "))); err != nil {
		return err
	}
	return m.transition(s, core.StateObservation)
}

// stepObservation suspends on the dispatcher's fan-in summary and merges it
// into the working set.
func (m *Machine) stepObservation(ctx context.Context, s *session) error {
	if s.op == nil {
		// Resumed mid-observation without an operation in flight; the
		// delegation replays idempotently via the result cache.
		return m.transition(s, core.StateDelegation)
	}

	var summary core.ObservationSummary
	select {
	case <-ctx.Done():
		return fmt.Errorf("react: session %s: %w", s.rec.ReactID, ctx.Err())
	case summary = <-s.op.Summary:
	}
	s.op = nil
	s.summary = &summary

	stepByTask := make(map[string]string, len(s.rec.StepTaskIDs))
	for step, task := range s.rec.StepTaskIDs {
		stepByTask[task] = step
	}
	for _, r := range summary.Results {
		step, ok := stepByTask[r.TaskID]
		if !ok {
			continue
		}
		s.results[step] = r
		if r.Status == core.TaskStatusSuccess {
			s.done[step] = true
		}
	}
	// A satisfied any/quorum batch is complete as a whole: steps that did
	// not (or did not successfully) report are superseded by the quorum and
	// must not block the DAG or trigger a retry round.
	if summary.Satisfied && summary.Rule.Mode != core.FanInAll && !summary.Cancelled {
		for _, step := range s.batch {
			s.done[step] = true
		}
	}

	if err := m.appendLog(s, core.StateObservation, fingerprint(s.rec.ReactID, strconv.Itoa(s.rec.Iteration), summary.String()),
		summary.String(), nil, "fan-in "+fanInOutcome(summary)); err != nil {
		return err
	}
	return m.transition(s, core.StateDecision)
}

// stepDecision converts the latest observation into one of the four bounded
// actions. A matched policy rule carrying a decision override is
// authoritative; otherwise the decision is derived from the observation.
func (m *Machine) stepDecision(ctx context.Context, s *session) error {
	if s.summary != nil && s.summary.Cancelled {
		return m.cancel(ctx, s)
	}

	eval := m.engine.Evaluate(m.policyContext(s, "", false, m.maxRetryCount(s)))
	m.logPolicy(eval)

	var decision core.Decision
	switch {
	case eval.Decision != nil && eval.Decision.Validate() == nil:
		decision = *eval.Decision
	default:
		decision = m.deriveDecision(s, eval.Policy.Retry)
	}

	if s.rec.Iteration >= m.maxIterations && decision.NextState != core.StateComplete {
		decision = core.Decision{
			Action:    core.ActionEscalate,
			Reason:    fmt.Sprintf("iteration bound %d reached: %s", m.maxIterations, decision.Reason),
			NextState: core.StateComplete,
		}
	}

	obs := ""
	if s.summary != nil {
		obs = s.summary.String()
	}
	if err := m.appendLog(s, core.StateDecision, fingerprint(s.rec.ReactID, strconv.Itoa(s.rec.Iteration), string(decision.Action)),
		obs, &decision, decision.Reason); err != nil {
		return err
	}
	m.logger.Info("decision", "react_id", s.rec.ReactID, "iteration", s.rec.Iteration,
		"action", string(decision.Action), "next_state", string(decision.NextState), "reason", decision.Reason)

	switch decision.Action {
	case core.ActionComplete:
		return m.terminate(s, decision, core.SessionComplete)
	case core.ActionEscalate:
		return m.terminate(s, decision, core.SessionEscalated)
	case core.ActionRetry:
		for step, r := range s.results {
			if !s.done[step] && r.Status != core.TaskStatusSuccess {
				s.retries[step]++
			}
		}
		if err := m.backoff(ctx, eval.Policy.Retry); err != nil {
			return err
		}
	case core.ActionExtendPlan:
		// Iteration advances; existing step ids and done marks survive so
		// the extended plan only dispatches genuinely new or open work.
	}

	s.rec.Iteration++
	return m.transition(s, decision.NextState)
}

// deriveDecision is the default decision function applied when no policy
// rule forces one.
func (m *Machine) deriveDecision(s *session, retry policy.RetryPolicy) core.Decision {
	if s.allStepsDone() {
		return core.Decision{
			Action:    core.ActionComplete,
			Reason:    "all plan steps completed",
			NextState: core.StateComplete,
		}
	}
	if s.summary == nil {
		// No observation yet means the open steps are unreachable behind
		// failed dependencies that were never dispatched.
		return core.Decision{
			Action:    core.ActionEscalate,
			Reason:    "open steps are not dispatchable",
			NextState: core.StateComplete,
		}
	}
	if s.summary.HasIssue(core.IssueMissingData) {
		return core.Decision{
			Action:    core.ActionExtendPlan,
			Reason:    "observed missing_data issue, extending plan",
			NextState: core.StatePlanning,
		}
	}
	if !s.hasOpenFailures() {
		// The batch succeeded and the DAG has further frontiers; this
		// consumes no retry budget.
		return core.Decision{
			Action:    core.ActionRetry,
			Reason:    "batch complete, dispatching next ready steps",
			NextState: core.StateDelegation,
		}
	}
	if m.maxRetryCount(s) < retry.MaxRetry {
		return core.Decision{
			Action:    core.ActionRetry,
			Reason:    fmt.Sprintf("re-dispatching failed steps, attempt %d of %d", m.maxRetryCount(s)+1, retry.MaxRetry),
			NextState: core.StateDelegation,
		}
	}
	return core.Decision{
		Action:    core.ActionEscalate,
		Reason:    fmt.Sprintf("retry budget of %d exhausted", retry.MaxRetry),
		NextState: core.StateComplete,
	}
}

// cancel drains the session after an operator cancellation: no new
// dispatches, in-flight work already awaited by fan-in, recorded
// compensations replayed in reverse, session marked cancelled.
func (m *Machine) cancel(ctx context.Context, s *session) error {
	m.logger.Info("session cancelled, compensating", "react_id", s.rec.ReactID,
		"recorded", len(m.saga.Recorded(s.rec.ReactID)))

	if err := m.Compensate(ctx, s.rec.ReactID); err != nil {
		// Compensation failures stop the replay and surface; the partial
		// stack stays recorded for the operator.
		m.logger.Error("compensation failed during cancellation", "react_id", s.rec.ReactID, "error", err)
		if aerr := m.appendLog(s, s.rec.State, fingerprint(s.rec.ReactID, "cancel"), "",
			nil, fmt.Sprintf("cancellation: compensation failed: %v", err)); aerr != nil {
			return aerr
		}
		s.rec.Status = core.SessionCancelled
		s.rec.State = core.StateComplete
		if uerr := m.store.UpdateSession(s.rec); uerr != nil {
			return fmt.Errorf("react: update session: %w", uerr)
		}
		return nil
	}

	if err := m.appendLog(s, s.rec.State, fingerprint(s.rec.ReactID, "cancel"), "",
		nil, "session cancelled by operator, compensations replayed"); err != nil {
		return err
	}
	s.rec.Status = core.SessionCancelled
	s.rec.State = core.StateComplete
	if err := m.store.UpdateSession(s.rec); err != nil {
		return fmt.Errorf("react: update session: %w", err)
	}
	return nil
}

// Compensate replays the recorded compensation stack for a session in
// reverse chronological order under the current effective policy. It is
// exposed so an operator can trigger the saga for an escalated session.
func (m *Machine) Compensate(ctx context.Context, reactID string) error {
	rec, err := m.store.GetSession(reactID)
	if err != nil {
		return fmt.Errorf("react: compensate: %w", err)
	}
	pctx := &policy.Context{ReactID: reactID, Iteration: rec.Iteration}
	if rec.Signal != nil {
		pctx.Signal = *rec.Signal
	}
	eval := m.engine.Evaluate(pctx)
	return m.saga.Compensate(ctx, reactID, eval.Policy.TaskPolicy())
}

// finish appends the terminal log entry for a decision made outside the
// DECISION state (awareness and planning short-circuits) and terminates.
func (m *Machine) finish(s *session, decision core.Decision, status core.SessionStatus) error {
	if err := m.appendLog(s, s.rec.State, fingerprint(s.rec.ReactID, strconv.Itoa(s.rec.Iteration), string(decision.Action)),
		"", &decision, decision.Reason); err != nil {
		return err
	}
	return m.terminate(s, decision, status)
}

// terminate moves the session to COMPLETE with the given status. A
// successful completion discards the compensation stack; an escalation
// keeps it recorded for the operator.
func (m *Machine) terminate(s *session, decision core.Decision, status core.SessionStatus) error {
	if status == core.SessionComplete {
		m.saga.Discard(s.rec.ReactID)
	}
	s.rec.Status = status
	s.rec.State = core.StateComplete
	s.lastDecision = decision
	if err := m.store.UpdateSession(s.rec); err != nil {
		return fmt.Errorf("react: update session: %w", err)
	}
	return nil
}

// transition records the new state durably before the loop enters it.
func (m *Machine) transition(s *session, next core.State) error {
	s.rec.State = next
	if err := m.store.UpdateSession(s.rec); err != nil {
		return fmt.Errorf("react: update session: %w", err)
	}
	return nil
}

// appendLog writes one decision log entry; the write must succeed before
// the loop may continue.
func (m *Machine) appendLog(s *session, state core.State, signature, obs string, decision *core.Decision, outcome string) error {
	entry := core.DecisionLogEntry{
		ReactID:            s.rec.ReactID,
		Iteration:          s.rec.Iteration,
		State:              state,
		InputSignature:     signature,
		ObservationSummary: obs,
		Decision:           decision,
		Outcome:            outcome,
		Timestamp:          time.Now().UTC(),
	}
	if err := m.store.AppendDecision(entry); err != nil {
		return fmt.Errorf("react: append decision log: %w", err)
	}
	return nil
}

// backoff sleeps the configured retry backoff, honoring cancellation.
func (m *Machine) backoff(ctx context.Context, retry policy.RetryPolicy) error {
	if retry.BackoffSec <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(retry.BackoffSec) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Machine) policyContext(s *session, requirement string, execution bool, retryCount int) *policy.Context {
	return &policy.Context{
		ReactID:     s.rec.ReactID,
		Iteration:   s.rec.Iteration,
		Signal:      *s.rec.Signal,
		Requirement: requirement,
		Execution:   execution,
		RetryCount:  retryCount,
		Summary:     s.summary,
	}
}

func (m *Machine) logPolicy(eval policy.Evaluation) {
	if rl, ok := m.logger.(*logging.ReactMeshLogger); ok {
		rl.LogPolicyEvaluation(eval.RuleHits, len(eval.Policy.Allowed), len(eval.Policy.Forbidden), eval.Decision != nil)
	}
}

// maxRetryCount is the highest retry counter across open steps; it drives
// the transition-level policy context and the retry budget check.
func (m *Machine) maxRetryCount(s *session) int {
	max := 0
	for step, n := range s.retries {
		if !s.done[step] && n > max {
			max = n
		}
	}
	return max
}

func (m *Machine) outcome(s *session) *Outcome {
	results := make(map[string]core.TaskResult, len(s.results))
	for k, v := range s.results {
		results[k] = v
	}
	return &Outcome{
		ReactID:    s.rec.ReactID,
		Status:     s.rec.Status,
		Decision:   s.lastDecision,
		Iterations: s.rec.Iteration,
		Results:    results,
	}
}

// hasOpenFailures reports whether any not-yet-done step carries a
// non-success result. Steps never dispatched (still behind dependencies)
// have no result and are not failures.
func (s *session) hasOpenFailures() bool {
	for step, r := range s.results {
		if !s.done[step] && r.Status != core.TaskStatusSuccess {
			return true
		}
	}
	return false
}

func (s *session) allStepsDone() bool {
	for _, n := range s.rec.Plan.Nodes {
		if !s.done[n.StepID] {
			return false
		}
	}
	return true
}

// batchFanIn selects the fan-in rule for one fan-out batch: a policy rule
// override wins, then a rule shared by every ready node, then all.
func batchFanIn(ready []core.PlanNode, eval policy.Evaluation) core.FanInRule {
	if eval.FanInOverridden {
		return eval.Policy.FanIn
	}
	shared := ready[0].FanInRule
	for _, n := range ready[1:] {
		if n.FanInRule != shared {
			return core.FanInRule{Mode: core.FanInAll}
		}
	}
	if shared.Mode == "" {
		return core.FanInRule{Mode: core.FanInAll}
	}
	return shared
}

// compensationTag resolves the capability that undoes a step.
func compensationTag(node core.PlanNode) string {
	if node.Compensation != "" {
		return node.Compensation
	}
	return "undo." + node.CapabilityRequirement
}

func fanInOutcome(summary core.ObservationSummary) string {
	switch {
	case summary.Cancelled:
		return "cancelled"
	case summary.Satisfied:
		return "satisfied"
	default:
		return "exhausted"
	}
}

// fingerprint derives the short input signature recorded with each decision
// log entry, making replays comparable transition by transition.
func fingerprint(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])[:12]
}
