package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/reactmesh/core"
	"github.com/hupe1980/reactmesh/internal/testutil"
	"github.com/hupe1980/reactmesh/matcher"
	"github.com/hupe1980/reactmesh/registry"
	"github.com/hupe1980/reactmesh/store"
)

type fixture struct {
	registry   *registry.Registry
	store      *store.InMemoryStore
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, workers ...*testutil.StubWorker) *fixture {
	t.Helper()
	reg := registry.New()
	st := store.NewInMemoryStore()
	d := New(reg, matcher.New(reg), st)
	for _, w := range workers {
		require.NoError(t, reg.Register(w.Candidate(false, "search.web")))
		d.RegisterWorker(w)
	}
	return &fixture{registry: reg, store: st, dispatcher: d}
}

func task(stepID, taskID string) Task {
	return Task{
		Node: core.PlanNode{
			StepID:                stepID,
			Objective:             "objective for " + stepID,
			CapabilityRequirement: "search.web",
			RiskLevel:             core.RiskLow,
			FanInRule:             core.FanInRule{Mode: core.FanInAll},
			SuccessCriteria:       []string{"done"},
		},
		TaskID:  taskID,
		Timeout: 5 * time.Second,
	}
}

func await(t *testing.T, op *Operation) core.ObservationSummary {
	t.Helper()
	select {
	case s := <-op.Summary:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("fan-in summary never arrived")
		return core.ObservationSummary{}
	}
}

func TestDispatcher_FanOutAll(t *testing.T) {
	w := testutil.NewStubWorker("w1")
	f := newFixture(t, w)

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID:   "react-1",
		Iteration: 1,
		Tasks:     []Task{task("s1", "t1"), task("s2", "t2"), task("s3", "t3")},
		FanIn:     core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)
	require.Len(t, op.Dispatches, 3)
	assert.Equal(t, core.DelegateSupport, op.Dispatches[0].DelegateTo)

	summary := await(t, op)
	assert.True(t, summary.Satisfied)
	assert.Equal(t, 3, summary.Dispatched)
	assert.Equal(t, 3, summary.Succeeded())
	assert.Equal(t, 3, w.Calls())

	// Every result is persisted for audit and crash recovery.
	tasks, err := f.store.TasksBySession("react-1")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	for _, rec := range tasks {
		assert.Equal(t, core.TaskStatusSuccess, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
	}
}

func TestDispatcher_EmptyBatchRejected(t *testing.T) {
	f := newFixture(t, testutil.NewStubWorker("w1"))

	_, err := f.dispatcher.Dispatch(context.Background(), Request{ReactID: "react-1"})
	assert.Error(t, err)
}

func TestDispatcher_TimeoutProducesFailedResult(t *testing.T) {
	w := testutil.NewStubWorker("w1").Delay(2 * time.Second)
	f := newFixture(t, w)

	tk := task("s1", "t1")
	tk.Timeout = 50 * time.Millisecond

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{tk},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)

	summary := await(t, op)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.TaskStatusFailed, summary.Results[0].Status)
	assert.True(t, summary.Results[0].HasIssue(core.IssueTimeout))
}

func TestDispatcher_PolicyForbiddenSurfacesAsPermissionIssue(t *testing.T) {
	w := testutil.NewStubWorker("w1")
	f := newFixture(t, w)

	tk := task("s1", "t1")
	tk.Policy = core.TaskPolicy{ForbiddenActions: []string{"search.web"}}

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{tk},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)

	summary := await(t, op)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].HasIssue(core.IssuePermission))
	assert.Zero(t, w.Calls(), "forbidden task must never reach the worker")
}

func TestDispatcher_NoEligibleCandidate(t *testing.T) {
	f := newFixture(t, testutil.NewStubWorker("w1"))

	tk := task("s1", "t1")
	tk.Node.CapabilityRequirement = "deploy.production"

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{tk},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)

	summary := await(t, op)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.TaskStatusFailed, summary.Results[0].Status)
	assert.True(t, summary.Results[0].HasIssue(core.IssueExecutionError))
}

func TestDispatcher_IdempotentRetrySameTaskID(t *testing.T) {
	w := testutil.NewStubWorker("w1")
	f := newFixture(t, w)

	req := Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1")},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	}
	op, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	first := await(t, op)
	require.Equal(t, 1, first.Succeeded())

	// Same logical step, same task id: the cached result is served and the
	// worker is not executed again.
	req.Iteration = 2
	op, err = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	second := await(t, op)
	assert.Equal(t, 1, second.Succeeded())
	assert.Equal(t, 1, w.Calls())

	cached, ok := f.dispatcher.CachedResult("t1")
	require.True(t, ok)
	assert.Equal(t, core.TaskStatusSuccess, cached.Status)
}

func TestDispatcher_FailedResultNotCached(t *testing.T) {
	w := testutil.NewStubWorker("w1").Script(
		testutil.Reply{Status: core.TaskStatusFailed, Issue: core.IssueExecutionError},
		testutil.Reply{Status: core.TaskStatusSuccess},
	)
	f := newFixture(t, w)

	req := Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1")},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	}
	op, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, await(t, op).Failed())

	// The retry re-executes because failures are never served from cache.
	op, err = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, await(t, op).Succeeded())
	assert.Equal(t, 2, w.Calls())

	rec, err := f.store.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
}

func TestDispatcher_QuorumFanIn(t *testing.T) {
	fast := testutil.NewStubWorker("w1")
	f := newFixture(t, fast)

	// quorum 0.7 of 3 dispatched needs ceil(2.1) = 3 successes here, so use
	// threshold 0.6: ceil(1.8) = 2 of 3.
	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1"), task("s2", "t2"), task("s3", "t3")},
		FanIn: core.FanInRule{Mode: core.FanInQuorum, Threshold: 0.6},
	})
	require.NoError(t, err)

	summary := await(t, op)
	assert.True(t, summary.Satisfied)
	assert.GreaterOrEqual(t, summary.Succeeded(), 2)
}

func TestDispatcher_QuorumNotReached(t *testing.T) {
	w := testutil.NewStubWorker("w1").Script(
		testutil.Reply{Status: core.TaskStatusFailed, Issue: core.IssueExecutionError},
	)
	f := newFixture(t, w)

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1"), task("s2", "t2")},
		FanIn: core.FanInRule{Mode: core.FanInQuorum, Threshold: 0.7},
	})
	require.NoError(t, err)

	// All tasks reported without reaching quorum: the summary is emitted
	// with Satisfied=false so DECISION can arbitrate.
	summary := await(t, op)
	assert.False(t, summary.Satisfied)
	assert.Equal(t, 2, summary.Failed())
}

func TestDispatcher_AnyFanIn(t *testing.T) {
	w := testutil.NewStubWorker("w1")
	f := newFixture(t, w)

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1"), task("s2", "t2")},
		FanIn: core.FanInRule{Mode: core.FanInAny},
	})
	require.NoError(t, err)

	summary := await(t, op)
	assert.True(t, summary.Satisfied)
	assert.GreaterOrEqual(t, summary.Succeeded(), 1)
}

func TestDispatcher_CancellationEmitsPartialSummary(t *testing.T) {
	slow := testutil.NewStubWorker("w1").Delay(100 * time.Millisecond)
	f := newFixture(t, slow)

	var cancelled atomic.Bool
	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks:     []Task{task("s1", "t1"), task("s2", "t2")},
		FanIn:     core.FanInRule{Mode: core.FanInAll},
		Cancelled: cancelled.Load,
	})
	require.NoError(t, err)
	cancelled.Store(true)

	summary := await(t, op)
	assert.True(t, summary.Cancelled)
	assert.LessOrEqual(t, len(summary.Results), 2)
}

func TestDispatcher_ExecutionClassTargetsExecutionCandidates(t *testing.T) {
	reg := registry.New()
	st := store.NewInMemoryStore()
	d := New(reg, matcher.New(reg), st)

	reader := testutil.NewStubWorker("reader")
	editor := testutil.NewStubWorker("editor")
	require.NoError(t, reg.Register(reader.Candidate(false, "file.edit")))
	require.NoError(t, reg.Register(editor.Candidate(true, "file.edit")))
	d.RegisterWorker(reader)
	d.RegisterWorker(editor)

	tk := task("s1", "t1")
	tk.Node.CapabilityRequirement = "file.edit"
	tk.Execution = true

	op, err := d.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{tk},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)
	require.Len(t, op.Dispatches, 1)
	assert.Equal(t, core.DelegateExecution, op.Dispatches[0].DelegateTo)

	summary := await(t, op)
	require.Equal(t, 1, summary.Succeeded())
	assert.Equal(t, 1, editor.Calls())
	assert.Zero(t, reader.Calls())
}

func TestDispatcher_OutcomeFeedbackUpdatesHistory(t *testing.T) {
	w := testutil.NewStubWorker("w1").Script(
		testutil.Reply{Status: core.TaskStatusFailed, Issue: core.IssueExecutionError},
	)
	f := newFixture(t, w)
	before, _ := f.registry.Get("w1")

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1")},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)
	await(t, op)

	after, _ := f.registry.Get("w1")
	assert.Less(t, after.SuccessHistory, before.SuccessHistory)
}

func TestDispatcher_WorkerErrorBecomesFailedResult(t *testing.T) {
	w := testutil.NewStubWorker("w1").Script(testutil.Reply{Err: context.DeadlineExceeded})
	f := newFixture(t, w)

	op, err := f.dispatcher.Dispatch(context.Background(), Request{
		ReactID: "react-1", Iteration: 1,
		Tasks: []Task{task("s1", "t1")},
		FanIn: core.FanInRule{Mode: core.FanInAll},
	})
	require.NoError(t, err)

	summary := await(t, op)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, core.TaskStatusFailed, summary.Results[0].Status)
	assert.True(t, summary.Results[0].HasIssue(core.IssueExecutionError))
}
