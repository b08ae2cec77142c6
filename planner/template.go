package planner

import (
	"context"
	"fmt"

	"github.com/hupe1980/reactmesh/core"
)

// TemplatePlanner decomposes instructions using declared per-command-class
// node templates. It is fully deterministic: the same request always yields
// the same plan, which makes it the default planner for tests and for
// deployments that do not want model-driven planning.
type TemplatePlanner struct {
	templates  map[string][]core.PlanNode
	extensions map[string][]core.PlanNode
	fallback   core.FanInRule
}

// TemplateOption configures a TemplatePlanner.
type TemplateOption func(*TemplatePlanner)

// WithTemplate registers the plan nodes emitted for a command class.
func WithTemplate(commandClass string, nodes []core.PlanNode) TemplateOption {
	return func(p *TemplatePlanner) { p.templates[commandClass] = nodes }
}

// WithExtension registers additional nodes appended when planning is
// re-entered after a partial observation (extend_plan).
func WithExtension(commandClass string, nodes []core.PlanNode) TemplateOption {
	return func(p *TemplatePlanner) { p.extensions[commandClass] = nodes }
}

// NewTemplatePlanner constructs a planner with the given templates.
func NewTemplatePlanner(opts ...TemplateOption) *TemplatePlanner {
	p := &TemplatePlanner{
		templates:  map[string][]core.PlanNode{},
		extensions: map[string][]core.PlanNode{},
		fallback:   core.FanInRule{Mode: core.FanInAll},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Plan implements core.Planner. When no template matches the command class
// a single-step plan requiring the class itself as capability is emitted,
// so simple one-shot commands need no registration. The produced plan is
// validated against the request's capability catalog before it is returned.
func (p *TemplatePlanner) Plan(_ context.Context, req core.PlanRequest) (*core.Plan, error) {
	nodes, ok := p.templates[req.Signal.CommandClass]
	if !ok {
		nodes = []core.PlanNode{{
			StepID:                "step-1",
			Objective:             req.Instruction,
			CapabilityRequirement: req.Signal.CommandClass,
			RiskLevel:             defaultRisk(req.Signal.RiskLevel),
			FanInRule:             p.fallback,
			SuccessCriteria:       []string{fmt.Sprintf("objective addressed: %s", req.Instruction)},
		}}
	}

	out := make([]core.PlanNode, len(nodes))
	copy(out, nodes)
	if req.PriorSummary != nil {
		if ext, ok := p.extensions[req.Signal.CommandClass]; ok {
			out = append(out, ext...)
		}
	}

	plan := &core.Plan{ReactID: req.ReactID, Objective: req.Instruction, Nodes: out}
	if err := Validate(plan, req.Capabilities); err != nil {
		return nil, err
	}
	return plan, nil
}

func defaultRisk(r core.RiskLevel) core.RiskLevel {
	if r == "" {
		return core.RiskLow
	}
	return r
}
