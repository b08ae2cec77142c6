package testutil

import (
	"github.com/hupe1980/reactmesh/core"
)

// PlanBuilder provides a fluent helper for constructing task plans in tests.
// Example:
//
//	plan := NewPlanBuilder("react-1").
//		Step("s1", "search.web").
//		Step("s2", "report.write", "s1").
//		Build()
//
// Chain only the parts you need; sensible defaults are applied.
type PlanBuilder struct {
	plan core.Plan
}

// NewPlanBuilder creates a builder for the given session id.
func NewPlanBuilder(reactID string) *PlanBuilder {
	return &PlanBuilder{plan: core.Plan{ReactID: reactID, Objective: "test objective"}}
}

// Objective sets the plan objective (chainable).
func (b *PlanBuilder) Objective(o string) *PlanBuilder {
	b.plan.Objective = o
	return b
}

// Step appends a low-risk support step with the given capability and
// dependencies (chainable).
func (b *PlanBuilder) Step(stepID, capability string, deps ...string) *PlanBuilder {
	b.plan.Nodes = append(b.plan.Nodes, core.PlanNode{
		StepID:                stepID,
		Objective:             "objective for " + stepID,
		CapabilityRequirement: capability,
		Dependencies:          deps,
		RiskLevel:             core.RiskLow,
		FanInRule:             core.FanInRule{Mode: core.FanInAll},
		SuccessCriteria:       []string{"criteria for " + stepID},
	})
	return b
}

// ExecStep appends a side-effecting execution step (chainable).
func (b *PlanBuilder) ExecStep(stepID, capability, compensation string, deps ...string) *PlanBuilder {
	b.Step(stepID, capability, deps...)
	n := &b.plan.Nodes[len(b.plan.Nodes)-1]
	n.RiskLevel = core.RiskMid
	n.Execution = true
	n.Compensation = compensation
	return b
}

// FanIn overrides the fan-in rule of the last appended step (chainable).
func (b *PlanBuilder) FanIn(rule core.FanInRule) *PlanBuilder {
	b.plan.Nodes[len(b.plan.Nodes)-1].FanInRule = rule
	return b
}

// Risk overrides the risk level of the last appended step (chainable).
func (b *PlanBuilder) Risk(level core.RiskLevel) *PlanBuilder {
	b.plan.Nodes[len(b.plan.Nodes)-1].RiskLevel = level
	return b
}

// Build returns the constructed plan.
func (b *PlanBuilder) Build() *core.Plan {
	p := b.plan
	return &p
}
