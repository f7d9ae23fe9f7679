package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webpilot-org/webpilot/internal/dag"
)

// fakeExecutor records execution order and runs a per-task script.
type fakeExecutor struct {
	mu    sync.Mutex
	order []string
	runs  map[string]int
	run   func(ctx context.Context, task *dag.Task) *dag.TaskResult
}

func newFakeExecutor(run func(ctx context.Context, task *dag.Task) *dag.TaskResult) *fakeExecutor {
	return &fakeExecutor{runs: make(map[string]int), run: run}
}

func (e *fakeExecutor) Execute(ctx context.Context, workerID string, task *dag.Task) *dag.TaskResult {
	e.mu.Lock()
	e.order = append(e.order, task.ID)
	e.runs[task.ID]++
	e.mu.Unlock()
	if e.run != nil {
		return e.run(ctx, task)
	}
	return &dag.TaskResult{TaskID: task.ID, Success: true}
}

func (e *fakeExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

func buildChain(t *testing.T, ids ...string) *dag.DAG {
	t.Helper()
	d := dag.New()
	for i, id := range ids {
		task := &dag.Task{ID: id, Description: id}
		if i > 0 {
			task.Dependencies = []string{ids[i-1]}
		}
		require.NoError(t, d.AddTask(task))
	}
	return d
}

func TestRunLinearChainInOrder(t *testing.T) {
	t.Parallel()

	d := buildChain(t, "a", "b", "c")
	exec := newFakeExecutor(nil)
	s := New(d, exec, WithWorkers(2), WithDeadline(10*time.Second))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.True(t, summary.Succeeded())
	require.Equal(t, 3, summary.Completed)
	require.Equal(t, []string{"a", "b", "c"}, exec.executed())
}

func TestRunParallelSiblingsExactlyOnce(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "root", Description: "root"}))
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		require.NoError(t, d.AddTask(&dag.Task{ID: id, Description: id, Dependencies: []string{"root"}}))
	}
	require.NoError(t, d.AddTask(&dag.Task{ID: "join", Description: "join",
		Dependencies: []string{"s1", "s2", "s3", "s4"}}))

	exec := newFakeExecutor(func(ctx context.Context, task *dag.Task) *dag.TaskResult {
		time.Sleep(5 * time.Millisecond)
		return &dag.TaskResult{TaskID: task.ID, Success: true}
	})
	s := New(d, exec, WithWorkers(3), WithDeadline(10*time.Second))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, summary.Completed)

	// The dispatcher rescans ready tasks on every completion wake-up,
	// but each task is enqueued and executed exactly once.
	for id, n := range exec.runs {
		require.Equal(t, 1, n, "task %s", id)
	}

	order := exec.executed()
	require.Equal(t, "root", order[0])
	require.Equal(t, "join", order[len(order)-1])
}

func TestRunConvertsPanicToFailure(t *testing.T) {
	t.Parallel()

	d := buildChain(t, "boom")
	exec := newFakeExecutor(func(ctx context.Context, task *dag.Task) *dag.TaskResult {
		panic("executor exploded")
	})
	s := New(d, exec, WithDeadlockGrace(50*time.Millisecond), WithDeadline(5*time.Second))

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	task, ok := d.Get("boom")
	require.True(t, ok)
	require.Equal(t, dag.StatusFailed, task.Status)
	require.NotNil(t, task.Result.Error)
	require.Equal(t, dag.ErrSystemError, task.Result.Error.Category)
}

func TestRunDeadlineExceededFailsUnfinished(t *testing.T) {
	t.Parallel()

	d := buildChain(t, "slow", "never")
	exec := newFakeExecutor(func(ctx context.Context, task *dag.Task) *dag.TaskResult {
		<-ctx.Done()
		return &dag.TaskResult{TaskID: task.ID,
			Error: dag.NewTimeoutError(dag.TimeoutTimeLimit, "cancelled", nil)}
	})
	s := New(d, exec, WithWorkers(1), WithDeadline(100*time.Millisecond))

	summary, err := s.Run(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, summary.TimedOut)
	require.False(t, summary.Succeeded())

	for _, id := range []string{"slow", "never"} {
		task, ok := d.Get(id)
		require.True(t, ok)
		require.Equal(t, dag.StatusFailed, task.Status, "task %s", id)
	}
}

func TestRunDetectsPersistentDeadlock(t *testing.T) {
	t.Parallel()

	d := dag.New(dag.WithSkipSatisfiesDependency(false))
	require.NoError(t, d.AddTask(&dag.Task{ID: "first", Description: "first"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "second", Description: "second", Dependencies: []string{"first"}}))

	exec := newFakeExecutor(func(ctx context.Context, task *dag.Task) *dag.TaskResult {
		return &dag.TaskResult{TaskID: task.ID, Success: false,
			Error: dag.NewSystemError(errors.New("no luck"))}
	})
	s := New(d, exec, WithDeadlockGrace(50*time.Millisecond), WithDeadline(10*time.Second))

	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrDeadlocked)
}

func TestRunPriorityOrderWithSingleWorker(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "low", Description: "low", Priority: dag.PriorityLow}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "critical", Description: "critical", Priority: dag.PriorityCritical}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "normal", Description: "normal", Priority: dag.PriorityNormal}))

	exec := newFakeExecutor(nil)
	s := New(d, exec, WithWorkers(1), WithDeadline(10*time.Second))

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"critical", "normal", "low"}, exec.executed())
}

func TestResultHooksObserveEveryTask(t *testing.T) {
	t.Parallel()

	d := buildChain(t, "a", "b")
	exec := newFakeExecutor(nil)

	var mu sync.Mutex
	var seen []string
	s := New(d, exec,
		WithDeadline(10*time.Second),
		WithResultHook(func(res *dag.TaskResult) {
			mu.Lock()
			seen = append(seen, res.TaskID)
			mu.Unlock()
		}))

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, seen)
}
