// Package planner decomposes one instruction into a directed acyclic graph
// of sub-tasks with declared dependencies and success criteria. Planner
// output is never trusted directly: every plan is validated against the
// capability catalog before acceptance, and a plan containing a cycle or an
// unresolvable requirement is rejected before anything is dispatched.
package planner

import (
	"fmt"
	"strings"

	"github.com/hupe1980/reactmesh/core"
)

// ValidationError rejects a plan before dispatch. Reasons lists every
// violation found, not just the first, to make planner debugging tractable.
type ValidationError struct {
	ReactID string
	Reasons []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("planner: plan for session %s rejected: %s", e.ReactID, strings.Join(e.Reasons, "; "))
}

// Validate checks a plan's structural invariants: unique step ids, resolvable
// dependencies, an acyclic graph, valid fan-in rules, non-empty success
// criteria, and capability requirements present in the provided catalog.
func Validate(plan *core.Plan, capabilities []string) error {
	var reasons []string

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	if len(plan.Nodes) == 0 {
		reasons = append(reasons, "plan has no nodes")
	}

	ids := map[string]bool{}
	for _, n := range plan.Nodes {
		if n.StepID == "" {
			reasons = append(reasons, "node with empty step_id")
			continue
		}
		if ids[n.StepID] {
			reasons = append(reasons, fmt.Sprintf("duplicate step_id %q", n.StepID))
		}
		ids[n.StepID] = true
	}

	for _, n := range plan.Nodes {
		if n.CapabilityRequirement == "" {
			reasons = append(reasons, fmt.Sprintf("step %q: empty capability_requirement", n.StepID))
		} else if !caps[n.CapabilityRequirement] {
			reasons = append(reasons, fmt.Sprintf("step %q: capability %q not in registry", n.StepID, n.CapabilityRequirement))
		}
		if len(n.SuccessCriteria) == 0 {
			reasons = append(reasons, fmt.Sprintf("step %q: success_criteria must not be empty", n.StepID))
		}
		switch n.RiskLevel {
		case core.RiskLow, core.RiskMid, core.RiskHigh:
		default:
			reasons = append(reasons, fmt.Sprintf("step %q: invalid risk_level %q", n.StepID, n.RiskLevel))
		}
		if err := n.FanInRule.Validate(); err != nil {
			reasons = append(reasons, fmt.Sprintf("step %q: %v", n.StepID, err))
		}
		for _, dep := range n.Dependencies {
			if !ids[dep] {
				reasons = append(reasons, fmt.Sprintf("step %q: unknown dependency %q", n.StepID, dep))
			}
			if dep == n.StepID {
				reasons = append(reasons, fmt.Sprintf("step %q: depends on itself", n.StepID))
			}
		}
	}

	if cycle := findCycle(plan); len(cycle) > 0 {
		reasons = append(reasons, fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	if len(reasons) > 0 {
		return &ValidationError{ReactID: plan.ReactID, Reasons: reasons}
	}
	return nil
}

// findCycle runs Kahn's algorithm; any nodes left with unresolved in-degree
// form at least one cycle and are returned in stable step order.
func findCycle(plan *core.Plan) []string {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, n := range plan.Nodes {
		if _, ok := indegree[n.StepID]; !ok {
			indegree[n.StepID] = 0
		}
		for _, dep := range n.Dependencies {
			indegree[n.StepID]++
			dependents[dep] = append(dependents[dep], n.StepID)
		}
	}

	var queue []string
	for _, n := range plan.Nodes {
		if indegree[n.StepID] == 0 {
			queue = append(queue, n.StepID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited == len(indegree) {
		return nil
	}
	var cycle []string
	for _, n := range plan.Nodes {
		if indegree[n.StepID] > 0 {
			cycle = append(cycle, n.StepID)
		}
	}
	return cycle
}

// TopologicalOrder returns step ids in a valid execution order. It assumes
// the plan already passed Validate and returns an error otherwise.
func TopologicalOrder(plan *core.Plan) ([]string, error) {
	if cycle := findCycle(plan); len(cycle) > 0 {
		return nil, &ValidationError{ReactID: plan.ReactID, Reasons: []string{fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> "))}}
	}

	done := map[string]bool{}
	var order []string
	for len(order) < len(plan.Nodes) {
		progressed := false
		for _, n := range plan.Ready(done) {
			done[n.StepID] = true
			order = append(order, n.StepID)
			progressed = true
		}
		if !progressed {
			return nil, &ValidationError{ReactID: plan.ReactID, Reasons: []string{"no topological order exists"}}
		}
	}
	return order, nil
}
