// Package reactmesh provides a high-level façade over the orchestration
// kernel: the capability registry, weighted matcher, policy engine,
// fan-out/fan-in dispatcher, compensation manager and the ReAct state
// machine. Most applications interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding the in-memory store,
//     the planner, the analyzer or the policy rules)
//  2. Registering one or more workers with their capability metadata
//  3. Submitting instructions asynchronously (Submit) or synchronously
//     (SubmitSync)
//
// The façade delegates orchestration to react.Machine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable execution
// store, a structured logger and a rule file under hot reload.
package reactmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/reactmesh/analyzer"
	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/dispatch"
	"github.com/hupe1980/reactmesh/logging"
	"github.com/hupe1980/reactmesh/matcher"
	"github.com/hupe1980/reactmesh/planner"
	"github.com/hupe1980/reactmesh/policy"
	"github.com/hupe1980/reactmesh/react"
	"github.com/hupe1980/reactmesh/registry"
	"github.com/hupe1980/reactmesh/saga"
	"github.com/hupe1980/reactmesh/store"
)

// Options configures the Mesh instance.
type Options struct {
	// Analyzer turns raw instructions into semantic signals. Defaults to
	// the heuristic analyzer with its built-in class rules.
	Analyzer core.Analyzer

	// Planner decomposes signals into task DAGs. Defaults to the template
	// planner; supply an LLM planner for open-ended instructions.
	Planner core.Planner

	// PolicyRules is the raw YAML rule set activated at startup. Empty
	// means permissive defaults (no rules, deny-list-only mode).
	PolicyRules []byte

	// PolicyFile, when set, is loaded at startup and hot-reloaded on
	// change for the lifetime of the context passed to WatchPolicy.
	// Takes precedence over PolicyRules.
	PolicyFile string

	// Store persists sessions, task records and the decision log.
	// Defaults to the in-memory implementation.
	Store core.ExecutionStore

	// MaxConcurrentSessions limits simultaneously running sessions,
	// providing backpressure at Submit. Zero means unlimited.
	MaxConcurrentSessions int

	// MaxIterations is the hard per-session iteration bound.
	MaxIterations int

	// TaskTimeout bounds each dispatched task. Zero defers to the
	// dispatcher default.
	TaskTimeout time.Duration

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the kernel components.
type Mesh struct {
	opts       Options
	registry   *registry.Registry
	engine     *policy.Engine
	dispatcher *dispatch.Dispatcher
	saga       *saga.Manager
	machine    *react.Machine
	store      core.ExecutionStore
	limiter    *core.SessionLimiter
}

// New creates a Mesh with optional overrides. Any unset collaborator is
// initialized with its in-memory or heuristic default.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		MaxIterations: react.DefaultMaxIterations,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analyzer.NewHeuristic()
	}
	if opts.Planner == nil {
		opts.Planner = planner.NewTemplatePlanner()
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}

	var rules *policy.RuleSet
	switch {
	case opts.PolicyFile != "":
		rs, err := policy.ParseFile(opts.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("reactmesh: load policy file: %w", err)
		}
		rules = rs
	case len(opts.PolicyRules) > 0:
		rs, err := policy.Parse(opts.PolicyRules)
		if err != nil {
			return nil, fmt.Errorf("reactmesh: parse policy rules: %w", err)
		}
		rules = rs
	default:
		rules = policy.EmptyRuleSet()
	}

	reg := registry.New()
	engine := policy.NewEngine(rules, func(o *policy.Options) { o.Logger = opts.Logger })
	m := matcher.New(reg)
	d := dispatch.New(reg, m, opts.Store, func(o *dispatch.Options) {
		o.Logger = opts.Logger
		if opts.TaskTimeout > 0 {
			o.DefaultTimeout = opts.TaskTimeout
		}
	})
	sg := saga.NewManager(d, func(o *saga.Options) { o.Logger = opts.Logger })
	machine := react.New(opts.Analyzer, opts.Planner, engine, reg, d, sg, opts.Store, func(o *react.Options) {
		o.MaxIterations = opts.MaxIterations
		o.TaskTimeout = opts.TaskTimeout
		o.Logger = opts.Logger
	})

	return &Mesh{
		opts:       opts,
		registry:   reg,
		engine:     engine,
		dispatcher: d,
		saga:       sg,
		machine:    machine,
		store:      opts.Store,
		limiter:    core.NewSessionLimiter(opts.MaxConcurrentSessions),
	}, nil
}

// RegisterWorker adds a worker and its capability metadata to the registry
// and binds its implementation as a dispatch target. The candidate id must
// equal the worker id.
func (m *Mesh) RegisterWorker(c registry.Candidate, w core.Worker) error {
	if c.ID != w.ID() {
		return fmt.Errorf("reactmesh: candidate id %q does not match worker id %q", c.ID, w.ID())
	}
	if err := m.registry.Register(c); err != nil {
		return err
	}
	m.dispatcher.RegisterWorker(w)
	return nil
}

// DeregisterWorker removes a worker from the registry. In-flight dispatches
// complete; new matches no longer consider it.
func (m *Mesh) DeregisterWorker(id string) { m.registry.Deregister(id) }

// Submit starts an asynchronous session and returns its react id plus
// outcome and error channels. Exactly one channel delivers before both
// close.
func (m *Mesh) Submit(ctx context.Context, instruction string) (string, <-chan *react.Outcome, <-chan error, error) {
	if err := m.limiter.Acquire(); err != nil {
		return "", nil, nil, fmt.Errorf("reactmesh: %w", err)
	}
	reactID, outCh, errCh, err := m.machine.Start(ctx, instruction)
	if err != nil {
		m.limiter.Release()
		return "", nil, nil, err
	}

	wrappedOut := make(chan *react.Outcome, 1)
	wrappedErr := make(chan error, 1)
	go func() {
		defer m.limiter.Release()
		defer close(wrappedOut)
		defer close(wrappedErr)
		select {
		case out, ok := <-outCh:
			if ok {
				wrappedOut <- out
				return
			}
			if err, ok := <-errCh; ok {
				wrappedErr <- err
			}
		case err, ok := <-errCh:
			if ok {
				wrappedErr <- err
				return
			}
			if out, ok := <-outCh; ok {
				wrappedOut <- out
			}
		}
	}()
	return reactID, wrappedOut, wrappedErr, nil
}

// SubmitSync runs a session to its terminal state and returns the outcome.
func (m *Mesh) SubmitSync(ctx context.Context, instruction string) (*react.Outcome, error) {
	if err := m.limiter.Acquire(); err != nil {
		return nil, fmt.Errorf("reactmesh: %w", err)
	}
	defer m.limiter.Release()
	return m.machine.Run(ctx, instruction)
}

// Resume continues a running session after a restart.
func (m *Mesh) Resume(ctx context.Context, reactID string) (*react.Outcome, error) {
	if err := m.limiter.Acquire(); err != nil {
		return nil, fmt.Errorf("reactmesh: %w", err)
	}
	defer m.limiter.Release()
	return m.machine.Resume(ctx, reactID)
}

// Cancel flags a session for cancellation. New dispatches stop, in-flight
// tasks are awaited and recorded compensations replay in reverse order.
func (m *Mesh) Cancel(reactID string) { m.machine.Cancel(reactID) }

// Compensate replays the recorded compensation stack for a session, for
// operator use after an escalation.
func (m *Mesh) Compensate(ctx context.Context, reactID string) error {
	return m.machine.Compensate(ctx, reactID)
}

// Session returns the durable snapshot of a session.
func (m *Mesh) Session(reactID string) (core.SessionRecord, error) {
	return m.store.GetSession(reactID)
}

// DecisionLog returns the full ordered decision log for a session.
func (m *Mesh) DecisionLog(reactID string) ([]core.DecisionLogEntry, error) {
	return m.store.DecisionLog(reactID)
}

// ReloadPolicy parses raw rule data and atomically activates it. On error
// the previous rule set stays active.
func (m *Mesh) ReloadPolicy(rules []byte) error { return m.engine.Reload(rules) }

// WatchPolicy starts hot-reloading the configured policy file on change;
// the watch runs in the background until the context is cancelled. It
// returns an error when no policy file was configured.
func (m *Mesh) WatchPolicy(ctx context.Context) error {
	if m.opts.PolicyFile == "" {
		return fmt.Errorf("reactmesh: no policy file configured")
	}
	w, err := policy.NewWatcher(m.engine, m.opts.PolicyFile, m.opts.Logger)
	if err != nil {
		return err
	}
	return w.Watch(ctx)
}

// Registry exposes the capability registry for candidate inspection and
// outcome feedback.
func (m *Mesh) Registry() *registry.Registry { return m.registry }

// ActiveSessions returns the number of sessions currently running.
func (m *Mesh) ActiveSessions() int { return m.limiter.Active() }
