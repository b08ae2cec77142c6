package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlan_Ready(t *testing.T) {
	plan := &Plan{
		ReactID: "react-1",
		Nodes: []PlanNode{
			{StepID: "a"},
			{StepID: "b", Dependencies: []string{"a"}},
			{StepID: "c", Dependencies: []string{"a"}},
			{StepID: "d", Dependencies: []string{"b", "c"}},
		},
	}

	ready := plan.Ready(map[string]bool{})
	assert.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].StepID)

	// Completing "a" unblocks both branches at once.
	ready = plan.Ready(map[string]bool{"a": true})
	assert.Len(t, ready, 2)
	assert.Equal(t, "b", ready[0].StepID)
	assert.Equal(t, "c", ready[1].StepID)

	ready = plan.Ready(map[string]bool{"a": true, "b": true})
	assert.Len(t, ready, 1)
	assert.Equal(t, "c", ready[0].StepID)

	ready = plan.Ready(map[string]bool{"a": true, "b": true, "c": true, "d": true})
	assert.Empty(t, ready)
}

func TestPlan_Node(t *testing.T) {
	plan := &Plan{Nodes: []PlanNode{{StepID: "a"}, {StepID: "b"}}}

	assert.NotNil(t, plan.Node("b"))
	assert.Nil(t, plan.Node("z"))
}

func TestSessionLimiter(t *testing.T) {
	l := NewSessionLimiter(2)

	assert.NoError(t, l.Acquire())
	assert.NoError(t, l.Acquire())
	assert.Equal(t, 2, l.Active())

	assert.Error(t, l.Acquire())

	l.Release()
	assert.NoError(t, l.Acquire())
}

func TestSessionLimiter_Unlimited(t *testing.T) {
	l := NewSessionLimiter(0)
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.Acquire())
	}
	assert.Equal(t, 100, l.Active())
}
