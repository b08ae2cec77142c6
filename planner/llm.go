package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/model"
)

const planSystemPrompt = `You decompose an instruction into a JSON task plan.
Respond with a JSON array of step objects and nothing else. Each step:
{"step_id": string, "objective": string, "capability_requirement": string,
 "dependencies": [string], "risk_level": "low"|"mid"|"high",
 "fan_in_rule": {"mode": "all"|"any"|"quorum", "threshold": number},
 "success_criteria": [string]}
Only use capability_requirement values from the provided list. Keep the
graph acyclic.`

// LLMPlanner asks a model to decompose the instruction into a task DAG. The
// model sees only the capabilities present in the registry and its output
// is parsed and validated before acceptance; a plan that fails validation
// is rejected, never repaired silently.
type LLMPlanner struct {
	model model.Model
}

// NewLLMPlanner constructs a planner around a completion model.
func NewLLMPlanner(m model.Model) *LLMPlanner {
	return &LLMPlanner{model: m}
}

// Plan implements core.Planner.
func (p *LLMPlanner) Plan(ctx context.Context, req core.PlanRequest) (*core.Plan, error) {
	prompt := buildPrompt(req)

	resp, err := p.model.Complete(ctx, model.Request{System: planSystemPrompt, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("planner: model completion: %w", err)
	}

	var nodes []core.PlanNode
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &nodes); err != nil {
		return nil, fmt.Errorf("planner: unparseable plan output: %w", err)
	}

	plan := &core.Plan{ReactID: req.ReactID, Objective: req.Instruction, Nodes: nodes}
	if err := Validate(plan, req.Capabilities); err != nil {
		return nil, err
	}
	return plan, nil
}

func buildPrompt(req core.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", req.Instruction)
	fmt.Fprintf(&b, "Risk level: %s\n", req.Signal.RiskLevel)
	if len(req.Signal.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(req.Signal.Constraints, ", "))
	}
	fmt.Fprintf(&b, "Available capabilities: %s\n", strings.Join(req.Capabilities, ", "))
	if req.PriorSummary != nil {
		fmt.Fprintf(&b, "Prior attempt: %s. Extend the plan to cover the gaps.\n", req.PriorSummary.String())
	}
	return b.String()
}

// extractJSON strips markdown code fences some models wrap around JSON.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}
