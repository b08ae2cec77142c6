package core

import "fmt"

// RiskLevel grades the blast radius of a planned step.
type RiskLevel string

const (
	// RiskLow marks read-only or trivially reversible steps.
	RiskLow RiskLevel = "low"
	// RiskMid marks steps with contained, compensable side effects.
	RiskMid RiskLevel = "mid"
	// RiskHigh marks steps whose effects are hard to reverse.
	RiskHigh RiskLevel = "high"
)

// FanInMode selects the completion rule for one fan-out batch.
type FanInMode string

const (
	// FanInAll waits for every outstanding task to report or time out.
	FanInAll FanInMode = "all"
	// FanInAny completes on the first successful result.
	FanInAny FanInMode = "any"
	// FanInQuorum completes once the configured success fraction reports.
	FanInQuorum FanInMode = "quorum"
)

// FanInRule declares when a fan-out batch is considered observed.
// Threshold is the success fraction in (0,1] and only meaningful for quorum.
type FanInRule struct {
	Mode      FanInMode `json:"mode" yaml:"mode"`
	Threshold float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// Validate checks mode membership and the quorum threshold range.
func (r FanInRule) Validate() error {
	switch r.Mode {
	case FanInAll, FanInAny:
		return nil
	case FanInQuorum:
		if r.Threshold <= 0 || r.Threshold > 1 {
			return fmt.Errorf("fan-in rule: quorum threshold %f out of (0,1]", r.Threshold)
		}
		return nil
	default:
		return fmt.Errorf("fan-in rule: invalid mode %q", r.Mode)
	}
}

// PlanNode is one planned unit of work inside a task DAG.
type PlanNode struct {
	StepID                string    `json:"step_id"`
	Objective             string    `json:"objective"`
	CapabilityRequirement string    `json:"capability_requirement"`
	Dependencies          []string  `json:"dependencies,omitempty"`
	RiskLevel             RiskLevel `json:"risk_level"`
	FanInRule             FanInRule `json:"fan_in_rule"`
	SuccessCriteria       []string  `json:"success_criteria"`

	// Execution marks the step as side-effect-bearing. It is declared by
	// the planner, never inferred at dispatch time, and restricts matching
	// to execution-capable candidates.
	Execution bool `json:"execution,omitempty"`

	// Compensation names the capability that undoes this step. Execution
	// steps without one fall back to "undo.<capability>" so a missing undo
	// handler surfaces as a compensation failure instead of a silent no-op.
	Compensation string `json:"compensation,omitempty"`
}

// Plan is a directed acyclic graph of sub-tasks produced by a planner for
// one instruction. Acyclicity is enforced by the planner package before any
// node is dispatched.
type Plan struct {
	ReactID   string     `json:"react_id"`
	Objective string     `json:"objective"`
	Nodes     []PlanNode `json:"nodes"`
}

// Node returns the node with the given step id, or nil.
func (p *Plan) Node(stepID string) *PlanNode {
	for i := range p.Nodes {
		if p.Nodes[i].StepID == stepID {
			return &p.Nodes[i]
		}
	}
	return nil
}

// Ready returns the nodes whose dependencies are all contained in the done
// set and which are not done themselves. Order follows plan declaration
// order; no execution ordering is implied beyond the DAG edges.
func (p *Plan) Ready(done map[string]bool) []PlanNode {
	var ready []PlanNode
	for _, n := range p.Nodes {
		if done[n.StepID] {
			continue
		}
		ok := true
		for _, dep := range n.Dependencies {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}
