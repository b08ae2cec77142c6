package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reactmesh/core"
)

func mustParse(t *testing.T, yml string) *RuleSet {
	t.Helper()
	rs, err := Parse([]byte(yml))
	require.NoError(t, err)
	return rs
}

func TestEngine_DenyWinsAtSamePriority(t *testing.T) {
	rs := mustParse(t, `
rules:
  - name: allow-network
    priority: 10
    when:
      command_class: research
    then:
      allow:
        capabilities: [network.fetch]
  - name: forbid-network
    priority: 10
    when:
      command_class: research
    then:
      forbid:
        capabilities: [network.fetch]
`)
	e := NewEngine(rs)

	eval := e.Evaluate(&Context{Signal: core.Signal{Actionable: true, CommandClass: "research"}})
	assert.Equal(t, []string{"network.fetch"}, eval.Policy.Forbidden)
	assert.Empty(t, eval.Policy.Allowed)
	assert.False(t, eval.Policy.Permits("network.fetch"))
}

func TestEngine_HigherPriorityAllowBeatsDeny(t *testing.T) {
	rs := mustParse(t, `
rules:
  - name: forbid-network
    priority: 10
    then:
      forbid:
        capabilities: [network.fetch]
  - name: allow-network-for-research
    priority: 20
    when:
      command_class: research
    then:
      allow:
        capabilities: [network.fetch]
`)
	e := NewEngine(rs)

	eval := e.Evaluate(&Context{Signal: core.Signal{CommandClass: "research"}})
	assert.True(t, eval.Policy.Permits("network.fetch"))

	// Without the higher-priority allow the deny stands.
	eval = e.Evaluate(&Context{Signal: core.Signal{CommandClass: "cleanup"}})
	assert.False(t, eval.Policy.Permits("network.fetch"))
}

func TestEngine_DenyBeatsDefaultAllow(t *testing.T) {
	rs := mustParse(t, `
defaults:
  allow:
    capabilities: [file.edit]
rules:
  - name: lockdown
    priority: 1
    when:
      local_only: true
    then:
      forbid:
        capabilities: [file.edit]
`)
	e := NewEngine(rs)

	eval := e.Evaluate(&Context{Signal: core.Signal{Constraints: []string{"local_only"}}})
	assert.False(t, eval.Policy.Permits("file.edit"))

	eval = e.Evaluate(&Context{})
	assert.True(t, eval.Policy.Permits("file.edit"))
}

func TestEngine_DecisionOverride(t *testing.T) {
	rs := mustParse(t, `
rules:
  - name: low-priority-retry
    priority: 5
    when:
      retry_count: {gte: 1}
    then:
      decision:
        action: retry
        reason: low priority retry
        next_state: DELEGATION
  - name: escalate-on-exhaustion
    priority: 50
    when:
      retry_count: {gte: 2}
    then:
      decision:
        action: escalate
        reason: retry budget exhausted
        next_state: COMPLETE
`)
	e := NewEngine(rs)

	// Highest priority matched rule supplies the decision.
	eval := e.Evaluate(&Context{RetryCount: 2})
	require.NotNil(t, eval.Decision)
	assert.Equal(t, core.ActionEscalate, eval.Decision.Action)

	eval = e.Evaluate(&Context{RetryCount: 1})
	require.NotNil(t, eval.Decision)
	assert.Equal(t, core.ActionRetry, eval.Decision.Action)

	eval = e.Evaluate(&Context{RetryCount: 0})
	assert.Nil(t, eval.Decision)
}

func TestEngine_DecisionTieBreaksOnDeclarationOrder(t *testing.T) {
	rs := mustParse(t, `
rules:
  - name: first
    priority: 10
    then:
      decision: {action: complete, reason: first wins, next_state: COMPLETE}
  - name: second
    priority: 10
    then:
      decision: {action: escalate, reason: never reached, next_state: COMPLETE}
`)
	e := NewEngine(rs)

	eval := e.Evaluate(&Context{})
	require.NotNil(t, eval.Decision)
	assert.Equal(t, core.ActionComplete, eval.Decision.Action)
	assert.Equal(t, []string{"first", "second"}, eval.RuleHits)
}

func TestEngine_Deterministic(t *testing.T) {
	rs := mustParse(t, `
defaults:
  retry: {max_retry: 2, backoff_sec: 1}
rules:
  - name: quorum-search
    priority: 10
    when:
      command_class: research
    then:
      fan_in: {mode: quorum, threshold: 0.7}
  - name: forbid-deploy
    priority: 5
    then:
      forbid:
        capabilities: [deploy.production]
`)
	e := NewEngine(rs)
	ctx := &Context{Signal: core.Signal{CommandClass: "research", RiskLevel: core.RiskMid}}

	first := e.Evaluate(ctx)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.Evaluate(ctx))
	}
	assert.True(t, first.FanInOverridden)
	assert.Equal(t, core.FanInQuorum, first.Policy.FanIn.Mode)
	assert.Equal(t, 2, first.Policy.Retry.MaxRetry)
}

func TestEngine_ReloadFailClosed(t *testing.T) {
	e := NewEngine(mustParse(t, `
rules:
  - name: forbid-deploy
    priority: 1
    then:
      forbid:
        capabilities: [deploy.production]
`))

	err := e.Reload([]byte("rules:\n  - priority: [broken"))
	assert.Error(t, err)

	// The previous rule set stays active.
	eval := e.Evaluate(&Context{})
	assert.False(t, eval.Policy.Permits("deploy.production"))
	assert.Equal(t, 1, e.RuleSet().Version)

	require.NoError(t, e.Reload([]byte("rules: []")))
	assert.Equal(t, 2, e.RuleSet().Version)
	assert.True(t, e.Evaluate(&Context{}).Policy.Permits("deploy.production"))
}

func TestParse_MalformedDecisionSkippedWithWarning(t *testing.T) {
	rs := mustParse(t, `
rules:
  - name: bad-decision
    priority: 1
    then:
      decision: {action: pause, reason: not in the action set, next_state: COMPLETE}
  - name: good
    priority: 1
    then:
      forbid:
        capabilities: [file.edit]
`)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "good", rs.Rules[0].Name)
	require.Len(t, rs.Warnings, 1)
	assert.Contains(t, rs.Warnings[0], "bad-decision")
}

func TestParse_RejectsStructuralErrors(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - priority: 1
    then:
      forbid: {capabilities: [x]}
`))
	assert.Error(t, err) // missing name

	_, err = Parse([]byte(`
rules:
  - name: dup
    priority: 1
  - name: dup
    priority: 2
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
rules:
  - name: bad-quorum
    priority: 1
    then:
      fan_in: {mode: quorum, threshold: 1.4}
`))
	assert.Error(t, err)
}

func TestCondition_Operators(t *testing.T) {
	ctx := &Context{
		Iteration:  3,
		RetryCount: 2,
		Signal: core.Signal{
			CommandClass: "research",
			RiskLevel:    core.RiskHigh,
			Constraints:  []string{"local_only"},
		},
		Summary: &core.ObservationSummary{
			Dispatched: 3,
			Results: []core.TaskResult{
				{TaskID: "t1", Status: core.TaskStatusFailed, Issues: []core.Issue{{Type: core.IssueTimeout}}},
			},
		},
	}

	rules := mustParse(t, `
rules:
  - name: match
    priority: 1
    when:
      risk_level: {in: [mid, high]}
      retry_count: {gte: 2, lt: 5}
      command_class: {exists: true}
      issues: {contains: timeout}
      local_only: true
    then:
      forbid:
        capabilities: [network.fetch]
`)
	eval := NewEngine(rules).Evaluate(ctx)
	assert.Equal(t, []string{"match"}, eval.RuleHits)

	// retry_count below the bound stops the rule from matching.
	ctx.RetryCount = 1
	eval = NewEngine(rules).Evaluate(ctx)
	assert.Empty(t, eval.RuleHits)
}
