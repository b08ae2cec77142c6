package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(id string, caps ...string) Candidate {
	return Candidate{
		ID:             id,
		Type:           CandidateWorker,
		Capabilities:   caps,
		CostScore:      0.8,
		LatencyScore:   0.8,
		Stability:      0.9,
		SuccessHistory: 0.9,
	}
}

func TestRegistry_Register(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(candidate("w1", "search.web")))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("w1")
	assert.True(t, ok)
	assert.Equal(t, "w1", got.ID)
	assert.False(t, got.Registered.IsZero())

	// Re-registering replaces the entry; incomplete candidates are rejected.
	assert.NoError(t, r.Register(candidate("w1", "search.code")))
	got, _ = r.Get("w1")
	assert.Equal(t, []string{"search.code"}, got.Capabilities)

	assert.Error(t, r.Register(candidate("", "search.web")))
	assert.Error(t, r.Register(candidate("w2")))

	bad := candidate("w3", "search.web")
	bad.Type = "plugin"
	assert.Error(t, r.Register(bad))
}

func TestRegistry_Deregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(candidate("w1", "search.web")))

	r.Deregister("w1")
	_, ok := r.Get("w1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotIsSortedCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(candidate("w2", "file.edit")))
	require.NoError(t, r.Register(candidate("w1", "search.web")))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "w1", snap[0].ID)
	assert.Equal(t, "w2", snap[1].ID)

	// Mutating the snapshot must not affect registry state.
	snap[0].Capabilities[0] = "mutated"
	got, _ := r.Get("w1")
	assert.Equal(t, "search.web", got.Capabilities[0])
}

func TestRegistry_Capabilities(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(candidate("w1", "search.web", "search.code")))
	require.NoError(t, r.Register(candidate("w2", "search.web", "file.edit")))

	caps := r.Capabilities()
	assert.Equal(t, []string{"file.edit", "search.code", "search.web"}, caps)

	assert.True(t, r.Resolves("file.edit"))
	assert.False(t, r.Resolves("deploy.production"))
}

func TestRegistry_ReportOutcome(t *testing.T) {
	r := New()
	c := candidate("w1", "search.web")
	c.SuccessHistory = 0.5
	require.NoError(t, r.Register(c))

	r.ReportOutcome("w1", true)
	got, _ := r.Get("w1")
	assert.InDelta(t, 0.6, got.SuccessHistory, 1e-9) // 0.8*0.5 + 0.2*1.0

	r.ReportOutcome("w1", false)
	got, _ = r.Get("w1")
	assert.InDelta(t, 0.48, got.SuccessHistory, 1e-9) // 0.8*0.6

	// Unknown ids are ignored.
	r.ReportOutcome("nope", true)
}
