package dispatch

import (
	"context"
	"fmt"

	"github.com/hupe1980/reactmesh/core"
)

// ExecuteCompensation runs one recorded compensating action as a regular
// Task Contract dispatch. The action's compensation type is its capability
// requirement; compensations always target execution-class workers and are
// gated by the same allow/forbid policy as forward actions.
func (d *Dispatcher) ExecuteCompensation(ctx context.Context, action core.CompensationAction, policy core.TaskPolicy) (core.TaskResult, error) {
	node := core.PlanNode{
		StepID:                action.StepID,
		Objective:             fmt.Sprintf("compensate %s for step %s", action.ForwardActionType, action.StepID),
		CapabilityRequirement: action.CompensationType,
		RiskLevel:             core.RiskMid,
		FanInRule:             core.FanInRule{Mode: core.FanInAll},
		SuccessCriteria:       []string{fmt.Sprintf("forward effects of %s undone", action.ForwardActionType)},
	}
	task := Task{
		Node:      node,
		TaskID:    action.ActionID,
		Policy:    policy,
		Execution: true,
		Timeout:   d.defaultTimeout,
	}

	td, err := d.buildDispatch(Request{ReactID: action.ReactID, Iteration: -1}, task)
	if err != nil {
		return core.TaskResult{}, err
	}
	td.Context.Inputs = action.Params

	result := d.execute(ctx, task, td)
	return result, nil
}
