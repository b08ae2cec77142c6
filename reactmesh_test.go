package reactmesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reactmesh/analyzer"
	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/internal/testutil"
)

func newMesh(t *testing.T, optFns ...func(o *Options)) *Mesh {
	t.Helper()
	base := func(o *Options) {
		o.Analyzer = analyzer.NewHeuristic(
			analyzer.WithDefaultClass("search.web", core.RiskLow),
		)
	}
	m, err := New(append([]func(o *Options){base}, optFns...)...)
	require.NoError(t, err)
	return m
}

func TestMesh_SubmitSync(t *testing.T) {
	m := newMesh(t)
	w := testutil.NewStubWorker("w1")
	require.NoError(t, m.RegisterWorker(w.Candidate(false, "search.web"), w))

	out, err := m.SubmitSync(context.Background(), "find recent papers")
	require.NoError(t, err)

	assert.Equal(t, core.SessionComplete, out.Status)
	assert.Equal(t, 1, w.Calls())

	rec, err := m.Session(out.ReactID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionComplete, rec.Status)

	log, err := m.DecisionLog(out.ReactID)
	require.NoError(t, err)
	assert.NotEmpty(t, log)
}

func TestMesh_SubmitAsync(t *testing.T) {
	m := newMesh(t)
	w := testutil.NewStubWorker("w1")
	require.NoError(t, m.RegisterWorker(w.Candidate(false, "search.web"), w))

	reactID, outCh, errCh, err := m.Submit(context.Background(), "find recent papers")
	require.NoError(t, err)
	require.NotEmpty(t, reactID)

	select {
	case out := <-outCh:
		require.NotNil(t, out)
		assert.Equal(t, reactID, out.ReactID)
		assert.Equal(t, core.SessionComplete, out.Status)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("session never terminated")
	}
}

func TestMesh_RegisterWorkerIDMismatch(t *testing.T) {
	m := newMesh(t)
	w := testutil.NewStubWorker("w1")

	err := m.RegisterWorker(testutil.NewStubWorker("other").Candidate(false, "search.web"), w)
	assert.Error(t, err)
}

func TestMesh_SessionLimit(t *testing.T) {
	m := newMesh(t, func(o *Options) { o.MaxConcurrentSessions = 1 })
	w := testutil.NewStubWorker("w1").Delay(300 * time.Millisecond)
	require.NoError(t, m.RegisterWorker(w.Candidate(false, "search.web"), w))

	_, outCh, _, err := m.Submit(context.Background(), "find recent papers")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveSessions())

	_, _, _, err = m.Submit(context.Background(), "another one")
	assert.Error(t, err, "second concurrent session exceeds the limit")

	<-outCh
	assert.Eventually(t, func() bool { return m.ActiveSessions() == 0 },
		time.Second, 10*time.Millisecond)

	// The released slot admits the next session.
	out, err := m.SubmitSync(context.Background(), "another one")
	require.NoError(t, err)
	assert.Equal(t, core.SessionComplete, out.Status)
}

func TestMesh_PolicyRulesApplied(t *testing.T) {
	m := newMesh(t, func(o *Options) {
		o.PolicyRules = []byte(`
defaults:
  retry:
    max_retry: 0
rules:
  - name: forbid-search
    priority: 10
    then:
      forbid:
        capabilities: [search.web]
`)
	})
	w := testutil.NewStubWorker("w1")
	require.NoError(t, m.RegisterWorker(w.Candidate(false, "search.web"), w))

	out, err := m.SubmitSync(context.Background(), "find recent papers")
	require.NoError(t, err)

	assert.Equal(t, core.SessionEscalated, out.Status)
	assert.Zero(t, w.Calls())
}

func TestMesh_ReloadPolicy(t *testing.T) {
	m := newMesh(t)

	require.NoError(t, m.ReloadPolicy([]byte(`
rules:
  - name: forbid-deploy
    priority: 1
    then:
      forbid:
        capabilities: [deploy.production]
`)))
	assert.Error(t, m.ReloadPolicy([]byte("rules:\n  - name: [broken")))
}

func TestMesh_RejectsBadStartupPolicy(t *testing.T) {
	_, err := New(func(o *Options) {
		o.PolicyRules = []byte("rules:\n  - name: [broken")
	})
	assert.Error(t, err)
}

func TestMesh_WatchPolicyRequiresFile(t *testing.T) {
	m := newMesh(t)
	assert.Error(t, m.WatchPolicy(context.Background()))
}
