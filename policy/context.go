package policy

import "github.com/hupe1980/reactmesh/core"

// Context bundles everything a policy evaluation may predicate on: the
// semantic signal, the capability requirement under consideration, retry
// counters and the latest fan-in summary. It is read-only during
// evaluation.
type Context struct {
	ReactID   string
	Iteration int

	// Signal carries command classification, risk and declared constraints.
	Signal core.Signal

	// Requirement is the capability under consideration for a dispatch
	// gate; empty for transition-level evaluations.
	Requirement string

	// Execution marks the requirement as side-effect-bearing, sourced from
	// the registry's side-effect metadata.
	Execution bool

	// RetryCount is the per-task retry counter for the current step, or the
	// maximum across the iteration for transition-level evaluations.
	RetryCount int

	// Summary is the latest observation summary; nil before the first
	// fan-in.
	Summary *core.ObservationSummary

	// Attributes carries additional predicate fields without widening the
	// struct.
	Attributes map[string]any
}

// Get resolves a predicate field by name. The second return reports whether
// the field is present, which the exists operator distinguishes from a zero
// value.
func (c *Context) Get(field string) (any, bool) {
	switch field {
	case "actionable":
		return c.Signal.Actionable, true
	case "requires_planning":
		return c.Signal.RequiresPlanning, true
	case "risk_level":
		return string(c.Signal.RiskLevel), c.Signal.RiskLevel != ""
	case "command_class":
		return c.Signal.CommandClass, c.Signal.CommandClass != ""
	case "constraints":
		return c.Signal.Constraints, len(c.Signal.Constraints) > 0
	case "local_only":
		return c.Signal.HasConstraint("local_only"), true
	case "capability":
		return c.Requirement, c.Requirement != ""
	case "execution", "side_effect":
		return c.Execution, true
	case "retry_count":
		return c.RetryCount, true
	case "iteration":
		return c.Iteration, true
	case "dispatched":
		if c.Summary == nil {
			return 0, false
		}
		return c.Summary.Dispatched, true
	case "succeeded":
		if c.Summary == nil {
			return 0, false
		}
		return c.Summary.Succeeded(), true
	case "failed":
		if c.Summary == nil {
			return 0, false
		}
		return c.Summary.Failed(), true
	case "partial":
		if c.Summary == nil {
			return 0, false
		}
		return c.Summary.Partial(), true
	case "issues":
		if c.Summary == nil {
			return nil, false
		}
		issues := c.Summary.Issues()
		out := make([]string, len(issues))
		for i, t := range issues {
			out[i] = string(t)
		}
		return out, len(out) > 0
	default:
		if c.Attributes != nil {
			v, ok := c.Attributes[field]
			return v, ok
		}
		return nil, false
	}
}
