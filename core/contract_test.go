package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validDispatch() TaskDispatch {
	return TaskDispatch{
		Envelope:        NewEnvelope(MessageTypeTaskDispatch, "react-1", 1),
		TaskID:          "task-1",
		StepID:          "s1",
		DelegateTo:      DelegateSupport,
		Objective:       "collect repository statistics",
		SuccessCriteria: []string{"statistics collected"},
		Timeout:         30 * time.Second,
	}
}

func TestTaskDispatch_Validate(t *testing.T) {
	assert.NoError(t, validDispatch().Validate())

	d := validDispatch()
	d.ReactID = ""
	assert.Error(t, d.Validate())

	d = validDispatch()
	d.TaskID = ""
	assert.Error(t, d.Validate())

	d = validDispatch()
	d.DelegateTo = "observer_agent"
	assert.Error(t, d.Validate())

	d = validDispatch()
	d.SuccessCriteria = nil
	assert.Error(t, d.Validate())

	d = validDispatch()
	d.Timeout = 0
	assert.Error(t, d.Validate())
}

func TestTaskResult_Validate(t *testing.T) {
	r := TaskResult{
		Envelope: NewEnvelope(MessageTypeTaskResult, "react-1", 1),
		TaskID:   "task-1",
		AgentID:  "worker-1",
		Status:   TaskStatusSuccess,
		Result:   ResultPayload{Summary: "done"},
	}
	assert.NoError(t, r.Validate())

	r.Status = "succeeded"
	assert.Error(t, r.Validate())

	r.Status = TaskStatusFailed
	r.Confidence = 1.2
	assert.Error(t, r.Validate())

	r.Confidence = 0.5
	r.Issues = []Issue{{Type: "weather", Message: "?"}}
	assert.Error(t, r.Validate())

	r.Issues = []Issue{{Type: IssueTimeout, Message: "deadline"}}
	assert.NoError(t, r.Validate())
	assert.True(t, r.HasIssue(IssueTimeout))
	assert.False(t, r.HasIssue(IssueMissingData))
}

func TestDecision_Validate(t *testing.T) {
	valid := []Decision{
		{Action: ActionComplete, NextState: StateComplete},
		{Action: ActionRetry, NextState: StateDelegation},
		{Action: ActionExtendPlan, NextState: StatePlanning},
		{Action: ActionEscalate, NextState: StateComplete},
	}
	for _, d := range valid {
		assert.NoError(t, d.Validate(), "action %s", d.Action)
	}

	// The action set is closed; anything outside it is rejected.
	assert.Error(t, Decision{Action: "pause", NextState: StateComplete}.Validate())
	assert.Error(t, Decision{Action: ActionRetry, NextState: StateAwareness}.Validate())
	assert.Error(t, Decision{Action: ActionRetry, NextState: StateObservation}.Validate())
}

func TestNewEnvelope(t *testing.T) {
	e := NewEnvelope(MessageTypeTaskDispatch, "react-1", 3)

	assert.Equal(t, SpecVersion, e.SpecVersion)
	assert.Equal(t, "react-1", e.ReactID)
	assert.Equal(t, 3, e.Iteration)
	assert.NotEmpty(t, e.Trace.CorrelationID)
	assert.False(t, e.Timestamps.CreatedAt.IsZero())
	assert.Nil(t, e.Timestamps.SentAt)

	e.MarkSent()
	assert.NotNil(t, e.Timestamps.SentAt)
}

func TestFanInRule_Validate(t *testing.T) {
	assert.NoError(t, FanInRule{Mode: FanInAll}.Validate())
	assert.NoError(t, FanInRule{Mode: FanInAny}.Validate())
	assert.NoError(t, FanInRule{Mode: FanInQuorum, Threshold: 0.7}.Validate())

	assert.Error(t, FanInRule{Mode: FanInQuorum}.Validate())
	assert.Error(t, FanInRule{Mode: FanInQuorum, Threshold: 1.5}.Validate())
	assert.Error(t, FanInRule{Mode: "most"}.Validate())
}
