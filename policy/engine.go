package policy

import (
	"sort"
	"sync/atomic"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/logging"
)

// EffectivePolicy is the merged result of defaults plus all matched rule
// deltas. Capability lists are sorted so the output is canonical for a
// given input.
//
// An empty allow list means deny-list-only mode: everything not forbidden
// is permitted.
type EffectivePolicy struct {
	Allowed   []string       `json:"allowed_actions"`
	Forbidden []string       `json:"forbidden_actions"`
	FanIn     core.FanInRule `json:"fan_in"`
	Retry     RetryPolicy    `json:"retry"`
}

// Permits reports whether the capability passes the effective policy.
func (p EffectivePolicy) Permits(capability string) bool {
	for _, f := range p.Forbidden {
		if f == capability {
			return false
		}
	}
	if len(p.Allowed) == 0 {
		return true
	}
	for _, a := range p.Allowed {
		if a == capability || a == "*" {
			return true
		}
	}
	return false
}

// TaskPolicy converts the effective policy into the contract shape attached
// to an outgoing dispatch.
func (p EffectivePolicy) TaskPolicy() core.TaskPolicy {
	return core.TaskPolicy{AllowedActions: p.Allowed, ForbiddenActions: p.Forbidden}
}

// Evaluation is the full output of one policy evaluation: the merged
// policy, an optional forced decision, and the names of the rules that
// fired, for audit.
type Evaluation struct {
	Policy   EffectivePolicy
	Decision *core.Decision
	RuleHits []string

	// FanInOverridden and RetryOverridden report whether a matched rule
	// supplied the value, as opposed to the rule set defaults passing
	// through. Callers use them to arbitrate against plan-level settings.
	FanInOverridden bool
	RetryOverridden bool
}

// Engine evaluates the active rule set against execution contexts. The rule
// set is swapped atomically on reload; evaluation reads exactly one
// snapshot and is a pure function of (context, snapshot).
type Engine struct {
	ruleSet atomic.Pointer[RuleSet]
	version atomic.Int64
	logger  logging.Logger
}

// Options configures an Engine.
type Options struct {
	// Logger receives load warnings and reload notices. Defaults to NoOp.
	Logger logging.Logger
}

// NewEngine constructs an engine around an initial rule set.
func NewEngine(rs *RuleSet, optFns ...func(o *Options)) *Engine {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	e := &Engine{logger: opts.Logger}
	e.swap(rs)
	return e
}

// RuleSet returns the active rule set snapshot.
func (e *Engine) RuleSet() *RuleSet { return e.ruleSet.Load() }

// Reload parses raw rule data and atomically swaps the active set. On
// error the previous set stays active (fail closed).
func (e *Engine) Reload(data []byte) error {
	rs, err := Parse(data)
	if err != nil {
		e.logger.Warn("policy reload rejected, keeping active rule set", "error", err)
		return err
	}
	e.swap(rs)
	return nil
}

// ReloadFile parses a rule file and atomically swaps the active set. On
// error the previous set stays active (fail closed).
func (e *Engine) ReloadFile(path string) error {
	rs, err := ParseFile(path)
	if err != nil {
		e.logger.Warn("policy reload rejected, keeping active rule set", "path", path, "error", err)
		return err
	}
	e.swap(rs)
	return nil
}

func (e *Engine) swap(rs *RuleSet) {
	rs.Version = int(e.version.Add(1))
	for _, w := range rs.Warnings {
		e.logger.Warn("policy rule skipped", "warning", w)
	}
	e.ruleSet.Store(rs)
	e.logger.Info("policy rule set activated", "version", rs.Version, "rules", len(rs.Rules))
}

// Evaluate runs the deterministic evaluation algorithm:
//
//  1. Select all rules whose when predicate matches the context.
//  2. Sort matches by priority descending, declaration order ascending.
//  3. Merge allow/forbid deltas into the default allow list; a deny wins
//     over an allow of the same or lower priority.
//  4. The highest-priority matched rule supplying a decision is
//     authoritative; equal priorities break on declaration order.
//  5. Return the merged policy plus the names of the rules that fired.
func (e *Engine) Evaluate(ctx *Context) Evaluation {
	rs := e.ruleSet.Load()

	var matched []Rule
	for _, rule := range rs.Rules {
		if rule.Matches(ctx) {
			matched = append(matched, rule)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].order < matched[j].order
	})

	// Track, per capability, the highest priority at which it was allowed
	// and forbidden. Defaults sit below every rule priority.
	type verdict struct {
		allowPrio  int
		forbidPrio int
		allowed    bool
		forbidden  bool
	}
	verdicts := map[string]*verdict{}
	touch := func(cap string) *verdict {
		v, ok := verdicts[cap]
		if !ok {
			v = &verdict{}
			verdicts[cap] = v
		}
		return v
	}
	for _, cap := range rs.Defaults.Allow.Capabilities {
		v := touch(cap)
		v.allowed = true
		v.allowPrio = minPriority
	}
	for _, cap := range rs.Defaults.Forbid.Capabilities {
		v := touch(cap)
		v.forbidden = true
		v.forbidPrio = minPriority
	}

	policy := EffectivePolicy{FanIn: rs.Defaults.FanIn, Retry: rs.Defaults.Retry}
	var decision *core.Decision
	fanInPrio := minPriority
	retryPrio := minPriority
	hits := make([]string, 0, len(matched))

	for _, rule := range matched {
		hits = append(hits, rule.Name)
		if rule.Then.Allow != nil {
			for _, cap := range rule.Then.Allow.Capabilities {
				v := touch(cap)
				if !v.allowed || rule.Priority > v.allowPrio {
					v.allowed = true
					v.allowPrio = rule.Priority
				}
			}
		}
		if rule.Then.Forbid != nil {
			for _, cap := range rule.Then.Forbid.Capabilities {
				v := touch(cap)
				if !v.forbidden || rule.Priority > v.forbidPrio {
					v.forbidden = true
					v.forbidPrio = rule.Priority
				}
			}
		}
		// matched is ordered by priority desc then declaration order, so
		// the first supplier of each override is authoritative.
		if rule.Then.Decision != nil && decision == nil {
			d := *rule.Then.Decision
			decision = &d
		}
		if rule.Then.FanIn != nil && fanInPrio == minPriority {
			policy.FanIn = *rule.Then.FanIn
			fanInPrio = rule.Priority
		}
		if rule.Then.Retry != nil && retryPrio == minPriority {
			policy.Retry = *rule.Then.Retry
			retryPrio = rule.Priority
		}
	}
	for cap, v := range verdicts {
		switch {
		case v.forbidden && v.allowed:
			// Deny wins unless the allow carries strictly higher priority.
			if v.allowPrio > v.forbidPrio {
				policy.Allowed = append(policy.Allowed, cap)
			} else {
				policy.Forbidden = append(policy.Forbidden, cap)
			}
		case v.forbidden:
			policy.Forbidden = append(policy.Forbidden, cap)
		case v.allowed:
			policy.Allowed = append(policy.Allowed, cap)
		}
	}
	sort.Strings(policy.Allowed)
	sort.Strings(policy.Forbidden)

	return Evaluation{
		Policy:          policy,
		Decision:        decision,
		RuleHits:        hits,
		FanInOverridden: fanInPrio != minPriority,
		RetryOverridden: retryPrio != minPriority,
	}
}

// minPriority sits below any user-declared rule priority so defaults are
// always overridable.
const minPriority = -1 << 31
