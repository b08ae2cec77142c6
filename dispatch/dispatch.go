// Package dispatch implements the fan-out/fan-in scheduler. Ready tasks are
// dispatched concurrently to matched workers, results are collected as they
// arrive or time out, and a fan-in summary is produced once the declared
// completion rule (all/any/quorum) is satisfied.
//
// Retries of the same logical step reuse the same task id; the dispatcher
// keeps a result cache so a duplicate task id for an already completed
// side-effecting step returns the cached prior result instead of
// re-executing.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/logging"
	"github.com/hupe1980/reactmesh/matcher"
	"github.com/hupe1980/reactmesh/registry"
)

// DefaultTaskTimeout bounds a task when neither the plan nor the caller
// supplies one.
const DefaultTaskTimeout = 60 * time.Second

// Task is one ready unit of work prepared for fan-out by the state machine:
// the plan node, its stable task id, and the effective policy computed for
// this dispatch.
type Task struct {
	Node      core.PlanNode
	TaskID    string
	Policy    core.TaskPolicy
	Execution bool
	Timeout   time.Duration
	Context   core.TaskContext
}

// Request is one fan-out batch for a session iteration.
type Request struct {
	ReactID   string
	Iteration int
	Tasks     []Task
	FanIn     core.FanInRule

	// Cancelled is polled at every fan-in evaluation; when it reports true
	// the summary is emitted with the results collected so far and no new
	// work is awaited. Nil means never cancelled.
	Cancelled func() bool
}

// Operation is a fan-out in flight. Dispatches lists the contracts that
// were issued (in task order) so the caller can record compensations
// immediately; Summary delivers exactly one fan-in summary.
type Operation struct {
	Dispatches []core.TaskDispatch
	Summary    <-chan core.ObservationSummary
}

// Options configures a Dispatcher.
type Options struct {
	// DefaultTimeout bounds tasks that declare none.
	DefaultTimeout time.Duration
	// Logger receives dispatch and late-arrival records. Defaults to NoOp.
	Logger logging.Logger
}

// Dispatcher fans tasks out to workers and aggregates their results. It is
// safe for concurrent use by many sessions.
type Dispatcher struct {
	registry *registry.Registry
	matcher  *matcher.Matcher
	store    core.ExecutionStore
	logger   logging.Logger

	defaultTimeout time.Duration

	wmu     sync.RWMutex
	workers map[string]core.Worker

	cmu   sync.RWMutex
	cache map[string]core.TaskResult
}

// New constructs a Dispatcher over a registry, matcher and execution store.
func New(reg *registry.Registry, m *matcher.Matcher, st core.ExecutionStore, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{DefaultTimeout: DefaultTaskTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{
		registry:       reg,
		matcher:        m,
		store:          st,
		logger:         opts.Logger,
		defaultTimeout: opts.DefaultTimeout,
		workers:        make(map[string]core.Worker),
		cache:          make(map[string]core.TaskResult),
	}
}

// RegisterWorker binds a worker implementation to its registry candidate id.
func (d *Dispatcher) RegisterWorker(w core.Worker) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	d.workers[w.ID()] = w
}

func (d *Dispatcher) worker(id string) (core.Worker, bool) {
	d.wmu.RLock()
	defer d.wmu.RUnlock()
	w, ok := d.workers[id]
	return w, ok
}

// CachedResult returns the cached terminal result for a task id, if any.
func (d *Dispatcher) CachedResult(taskID string) (core.TaskResult, bool) {
	d.cmu.RLock()
	defer d.cmu.RUnlock()
	r, ok := d.cache[taskID]
	return r, ok
}

func (d *Dispatcher) cacheResult(r core.TaskResult) {
	d.cmu.Lock()
	defer d.cmu.Unlock()
	d.cache[r.TaskID] = r
}

// Dispatch issues the fan-out for one batch of ready tasks and returns
// immediately with the issued contracts plus a summary channel. The caller
// suspends on the channel; fan-in completes when the rule is satisfied,
// every task has reported or timed out, or the batch is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Operation, error) {
	if len(req.Tasks) == 0 {
		return nil, fmt.Errorf("dispatch: no ready tasks for session %s", req.ReactID)
	}
	if req.FanIn.Mode == "" {
		req.FanIn.Mode = core.FanInAll
	}
	if err := req.FanIn.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	dispatches := make([]core.TaskDispatch, 0, len(req.Tasks))
	results := make(chan core.TaskResult, len(req.Tasks))
	var wg sync.WaitGroup

	for _, task := range req.Tasks {
		td, err := d.buildDispatch(req, task)
		if err != nil {
			return nil, err
		}
		dispatches = append(dispatches, td)

		// Completed step dispatched again: serve the prior result instead
		// of re-executing a side-effecting action.
		if cached, ok := d.CachedResult(task.TaskID); ok {
			d.logger.Debug("duplicate task id, returning cached result", "task_id", task.TaskID)
			results <- cached
			continue
		}

		wg.Add(1)
		go func(task Task, td core.TaskDispatch) {
			defer wg.Done()
			results <- d.execute(ctx, task, td)
		}(task, td)
	}

	// Close the results stream once every outstanding task has reported so
	// the collector can drain late arrivals after fan-in completed.
	go func() {
		wg.Wait()
		close(results)
	}()

	summaryCh := make(chan core.ObservationSummary, 1)
	go d.collect(req, len(dispatches), results, summaryCh)

	return &Operation{Dispatches: dispatches, Summary: summaryCh}, nil
}

// buildDispatch assembles and validates the outgoing contract for a task.
func (d *Dispatcher) buildDispatch(req Request, task Task) (core.TaskDispatch, error) {
	delegateTo := core.DelegateSupport
	if task.Execution {
		delegateTo = core.DelegateExecution
	}
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	td := core.TaskDispatch{
		Envelope:        core.NewEnvelope(core.MessageTypeTaskDispatch, req.ReactID, req.Iteration),
		TaskID:          task.TaskID,
		StepID:          task.Node.StepID,
		DelegateTo:      delegateTo,
		Objective:       task.Node.Objective,
		Context:         task.Context,
		SuccessCriteria: task.Node.SuccessCriteria,
		Timeout:         timeout,
		Policy:          task.Policy,
	}
	if err := td.Validate(); err != nil {
		return core.TaskDispatch{}, fmt.Errorf("dispatch: %w", err)
	}
	return td, nil
}

// execute resolves a target for the task and runs it under its timeout,
// synthesizing a contract-valid failed result for every error path so no
// failure is silently dropped.
func (d *Dispatcher) execute(ctx context.Context, task Task, td core.TaskDispatch) core.TaskResult {
	start := time.Now().UTC()

	if !permitted(task.Policy, task.Node.CapabilityRequirement) {
		return d.failedResult(td, start, core.IssuePermission,
			fmt.Sprintf("capability %s forbidden by policy", task.Node.CapabilityRequirement), "policy")
	}

	match, ok := d.matcher.Best(matcher.Requirement{Capability: task.Node.CapabilityRequirement, Execution: task.Execution})
	if !ok {
		return d.failedResult(td, start, core.IssueExecutionError,
			fmt.Sprintf("no eligible candidate for capability %s", task.Node.CapabilityRequirement), "matcher")
	}
	worker, ok := d.worker(match.Candidate.ID)
	if !ok {
		return d.failedResult(td, start, core.IssueExecutionError,
			fmt.Sprintf("candidate %s has no bound worker", match.Candidate.ID), "matcher")
	}

	taskCtx, cancel := context.WithTimeout(ctx, td.Timeout)
	defer cancel()

	td.MarkSent()

	type outcome struct {
		result core.TaskResult
		err    error
	}
	outCh := make(chan outcome, 1)
	go func() {
		r, err := worker.Execute(taskCtx, td)
		outCh <- outcome{result: r, err: err}
	}()

	var result core.TaskResult
	select {
	case <-taskCtx.Done():
		// Fan-in proceeds without waiting for a stuck worker; a result
		// arriving later is treated as a late arrival.
		result = d.failedResult(td, start, core.IssueTimeout,
			fmt.Sprintf("task exceeded timeout of %s", td.Timeout), worker.ID())
	case out := <-outCh:
		switch {
		case out.err != nil:
			result = d.failedResult(td, start, core.IssueExecutionError, out.err.Error(), worker.ID())
		default:
			result = out.result
			if verr := result.Validate(); verr != nil {
				result = d.failedResult(td, start, core.IssueExecutionError,
					fmt.Sprintf("contract violation: %v", verr), worker.ID())
			}
		}
	}
	dur := time.Since(start)

	success := result.Status == core.TaskStatusSuccess
	d.registry.ReportOutcome(match.Candidate.ID, success)
	d.logger.Debug("task dispatch finished", "task_id", td.TaskID, "target", match.Candidate.ID, "duration", dur, "status", string(result.Status))

	if success {
		d.cacheResult(result)
	}
	d.persistResult(td, result)

	return result
}

// failedResult synthesizes a contract-valid failed result for a task that
// never produced one.
func (d *Dispatcher) failedResult(td core.TaskDispatch, start time.Time, issueType core.IssueType, msg, agentID string) core.TaskResult {
	return core.TaskResult{
		Envelope: core.NewEnvelope(core.MessageTypeTaskResult, td.ReactID, td.Iteration),
		TaskID:   td.TaskID,
		AgentID:  agentID,
		Status:   core.TaskStatusFailed,
		Result:   core.ResultPayload{Summary: msg},
		Issues:   []core.Issue{{Type: issueType, Message: msg}},
		ExecutionMeta: core.ExecutionMeta{
			StartedAt:  start,
			FinishedAt: time.Now().UTC(),
		},
	}
}

// persistResult upserts the task record so the idempotency cache and the
// audit trail survive a restart.
func (d *Dispatcher) persistResult(td core.TaskDispatch, result core.TaskResult) {
	rec, err := d.store.GetTask(td.TaskID)
	if err != nil {
		rec = core.TaskRecord{TaskID: td.TaskID, StepID: td.StepID, ReactID: td.ReactID}
	}
	rec.Iteration = td.Iteration
	rec.Attempts++
	rec.Status = result.Status
	rec.Result = &result
	if err := d.store.SaveTask(rec); err != nil {
		d.logger.Warn("failed to persist task record", "task_id", td.TaskID, "error", err)
	}
}

// collect aggregates results until the fan-in rule is satisfied, emits the
// summary, then keeps draining so late results are logged and recorded but
// never mutate the emitted summary.
func (d *Dispatcher) collect(req Request, dispatched int, results <-chan core.TaskResult, summaryCh chan<- core.ObservationSummary) {
	summary := core.ObservationSummary{
		ReactID:    req.ReactID,
		Iteration:  req.Iteration,
		Rule:       req.FanIn,
		Dispatched: dispatched,
	}
	emitted := false
	emit := func() {
		if !emitted {
			emitted = true
			summaryCh <- summary
			close(summaryCh)
		}
	}

	for result := range results {
		if emitted {
			// Late arrival after fan-in completed: logged but ignored for
			// the current iteration.
			d.logger.Debug("late task result ignored for current iteration", "task_id", result.TaskID, "status", string(result.Status))
			continue
		}
		summary.Results = append(summary.Results, result)

		if req.Cancelled != nil && req.Cancelled() {
			summary.Cancelled = true
			emit()
			continue
		}
		if satisfied(req.FanIn, dispatched, &summary) {
			summary.Satisfied = true
			emit()
		}
	}

	// Every task reported or timed out; fan-in completes with whatever was
	// collected even when the rule was never formally satisfied.
	emit()
}

// satisfied evaluates the fan-in rule against the collected subset.
func satisfied(rule core.FanInRule, dispatched int, summary *core.ObservationSummary) bool {
	reported := len(summary.Results)
	switch rule.Mode {
	case core.FanInAny:
		return summary.Succeeded() >= 1 || reported == dispatched
	case core.FanInQuorum:
		needed := int(math.Ceil(rule.Threshold * float64(dispatched)))
		if needed < 1 {
			needed = 1
		}
		return summary.Succeeded() >= needed || reported == dispatched
	default: // FanInAll
		return reported == dispatched
	}
}

// permitted applies the explicit allow/forbid lists attached to a dispatch.
// An empty allow list means deny-list-only mode.
func permitted(policy core.TaskPolicy, capability string) bool {
	for _, f := range policy.ForbiddenActions {
		if f == capability {
			return false
		}
	}
	if len(policy.AllowedActions) == 0 {
		return true
	}
	for _, a := range policy.AllowedActions {
		if a == capability || a == "*" {
			return true
		}
	}
	return false
}
