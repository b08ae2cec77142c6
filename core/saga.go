package core

import "time"

// CompensationAction is the recorded undo for one dispatched step. It is
// created immediately after the forward dispatch is accepted, not after it
// completes, so a dispatch that crashes mid-flight remains compensable.
type CompensationAction struct {
	ActionID          string         `json:"action_id"`
	ReactID           string         `json:"react_id"`
	StepID            string         `json:"step_id"`
	ForwardActionType string         `json:"forward_action_type"`
	CompensationType  string         `json:"compensation_type"`
	Params            map[string]any `json:"params,omitempty"`
	RecordedAt        time.Time      `json:"recorded_at"`
}
