package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/model"
)

// Interface compliance (compile-time assertion)
var (
	_ core.Planner = (*TemplatePlanner)(nil)
	_ core.Planner = (*LLMPlanner)(nil)
)

func TestTemplatePlanner_Template(t *testing.T) {
	p := NewTemplatePlanner(
		WithTemplate("research", []core.PlanNode{
			node("fetch", "search.web"),
			node("summarize", "report.write", "fetch"),
		}),
	)

	plan, err := p.Plan(context.Background(), core.PlanRequest{
		ReactID:      "react-1",
		Instruction:  "research the topic",
		Signal:       core.Signal{Actionable: true, CommandClass: "research"},
		Capabilities: testCaps,
	})
	require.NoError(t, err)
	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, "react-1", plan.ReactID)
	assert.Equal(t, "fetch", plan.Nodes[0].StepID)
	assert.Equal(t, []string{"fetch"}, plan.Nodes[1].Dependencies)
}

func TestTemplatePlanner_FallbackSingleStep(t *testing.T) {
	p := NewTemplatePlanner()

	plan, err := p.Plan(context.Background(), core.PlanRequest{
		ReactID:      "react-1",
		Instruction:  "find recent papers",
		Signal:       core.Signal{Actionable: true, CommandClass: "search.web", RiskLevel: core.RiskLow},
		Capabilities: testCaps,
	})
	require.NoError(t, err)
	require.Len(t, plan.Nodes, 1)
	assert.Equal(t, "step-1", plan.Nodes[0].StepID)
	assert.Equal(t, "search.web", plan.Nodes[0].CapabilityRequirement)
}

func TestTemplatePlanner_RejectsUnresolvableFallback(t *testing.T) {
	p := NewTemplatePlanner()

	_, err := p.Plan(context.Background(), core.PlanRequest{
		ReactID:      "react-1",
		Instruction:  "deploy everything",
		Signal:       core.Signal{Actionable: true, CommandClass: "deploy.production"},
		Capabilities: testCaps,
	})
	require.Error(t, err)
	verr := &ValidationError{}
	assert.ErrorAs(t, err, &verr)
}

func TestTemplatePlanner_ExtensionOnReplan(t *testing.T) {
	p := NewTemplatePlanner(
		WithTemplate("research", []core.PlanNode{node("fetch", "search.web")}),
		WithExtension("research", []core.PlanNode{node("backfill", "search.web")}),
	)
	req := core.PlanRequest{
		ReactID:      "react-1",
		Instruction:  "research the topic",
		Signal:       core.Signal{Actionable: true, CommandClass: "research"},
		Capabilities: testCaps,
	}

	plan, err := p.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, plan.Nodes, 1)

	// Re-planning after a partial observation appends the extension nodes.
	req.PriorSummary = &core.ObservationSummary{Dispatched: 1}
	plan, err = p.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, plan.Nodes, 2)
	assert.Equal(t, "backfill", plan.Nodes[1].StepID)
}

// scriptedModel returns a fixed completion regardless of the prompt.
type scriptedModel struct {
	text string
	err  error
}

func (m *scriptedModel) Complete(context.Context, model.Request) (model.Response, error) {
	if m.err != nil {
		return model.Response{}, m.err
	}
	return model.Response{Text: m.text, FinishReason: "stop"}, nil
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted", Provider: "mock"} }

func TestLLMPlanner_ParsesAndValidates(t *testing.T) {
	m := &scriptedModel{text: "```json\n" + `[
  {"step_id": "s1", "objective": "find sources", "capability_requirement": "search.web",
   "risk_level": "low", "fan_in_rule": {"mode": "all"}, "success_criteria": ["sources found"]},
  {"step_id": "s2", "objective": "write report", "capability_requirement": "report.write",
   "dependencies": ["s1"], "risk_level": "low", "fan_in_rule": {"mode": "all"},
   "success_criteria": ["report written"]}
]` + "\n```"}
	p := NewLLMPlanner(m)

	plan, err := p.Plan(context.Background(), core.PlanRequest{
		ReactID:      "react-1",
		Instruction:  "research and report",
		Signal:       core.Signal{Actionable: true},
		Capabilities: testCaps,
	})
	require.NoError(t, err)
	require.Len(t, plan.Nodes, 2)
	assert.Equal(t, []string{"s1"}, plan.Nodes[1].Dependencies)
}

func TestLLMPlanner_RejectsInvalidOutput(t *testing.T) {
	req := core.PlanRequest{
		ReactID:      "react-1",
		Instruction:  "research and report",
		Signal:       core.Signal{Actionable: true},
		Capabilities: testCaps,
	}

	// Unparseable output is an error, never silently repaired.
	_, err := NewLLMPlanner(&scriptedModel{text: "I would suggest..."}).Plan(context.Background(), req)
	assert.Error(t, err)

	// A parseable plan referencing unknown capabilities is rejected too.
	_, err = NewLLMPlanner(&scriptedModel{text: `[
  {"step_id": "s1", "objective": "deploy", "capability_requirement": "deploy.production",
   "risk_level": "low", "fan_in_rule": {"mode": "all"}, "success_criteria": ["deployed"]}
]`}).Plan(context.Background(), req)
	require.Error(t, err)
	verr := &ValidationError{}
	assert.ErrorAs(t, err, &verr)
}
