package dag

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, deps ...string) *Task {
	return &Task{ID: id, Description: "task " + id, Dependencies: deps}
}

func buildDAG(t *testing.T, tasks ...*Task) *DAG {
	t.Helper()
	d := New()
	for _, tk := range tasks {
		require.NoError(t, d.AddTask(tk))
	}
	return d
}

func TestAddTaskDuplicateID(t *testing.T) {
	d := buildDAG(t, task("a"))
	err := d.AddTask(task("a"))
	require.ErrorIs(t, err, ErrTaskExists)
}

func TestAddTaskForwardReference(t *testing.T) {
	// Supervisor may insert a task whose dependency does not exist yet.
	d := New()
	require.NoError(t, d.AddTask(task("b", "a")))
	require.NoError(t, d.AddTask(task("a")))

	report := NewResolver(d).Validate()
	require.True(t, report.OK())
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"), task("c", "b"))

	err := d.AddDependency("a", "c")
	require.ErrorIs(t, err, ErrCycleDetected)

	err = d.AddDependency("a", "a")
	require.ErrorIs(t, err, ErrCycleDetected)

	// The rejected edge left the graph intact.
	require.True(t, NewResolver(d).Validate().OK())
}

func TestAddDependencyMissingTask(t *testing.T) {
	d := buildDAG(t, task("a"))
	require.ErrorIs(t, d.AddDependency("a", "ghost"), ErrTaskNotFound)
	require.ErrorIs(t, d.AddDependency("ghost", "a"), ErrTaskNotFound)
}

func TestStatusTransitions(t *testing.T) {
	d := buildDAG(t, task("a"))

	require.NoError(t, d.MarkRunning("a", "w1"))
	got, _ := d.Get("a")
	require.Equal(t, StatusRunning, got.Status)
	require.Equal(t, "w1", got.AssignedWorker)

	require.NoError(t, d.MarkCompleted("a", &TaskResult{TaskID: "a", Success: true}))
	got, _ = d.Get("a")
	require.Equal(t, StatusCompleted, got.Status)
	require.Empty(t, got.AssignedWorker)

	// Terminal tasks are immutable.
	require.ErrorIs(t, d.MarkRunning("a", "w2"), ErrInvalidTransition)
	require.ErrorIs(t, d.MarkFailed("a", nil), ErrInvalidTransition)
	require.ErrorIs(t, d.MarkSkipped("a", nil), ErrInvalidTransition)
}

func TestMarkCompletedRequiresRunning(t *testing.T) {
	d := buildDAG(t, task("a"))
	require.ErrorIs(t, d.MarkCompleted("a", nil), ErrInvalidTransition)
	require.ErrorIs(t, d.MarkFailed("a", nil), ErrInvalidTransition)
}

func TestMarkSkippedFromAnyNonTerminal(t *testing.T) {
	d := buildDAG(t, task("a"), task("b"))
	require.NoError(t, d.MarkSkipped("a", nil))

	require.NoError(t, d.MarkRunning("b", "w1"))
	require.NoError(t, d.MarkSkipped("b", nil))
}

func TestExclusiveClaim(t *testing.T) {
	d := buildDAG(t, task("a"))

	const claimers = 32
	var wg sync.WaitGroup
	succeeded := make(chan string, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			if err := d.MarkRunning("a", worker); err == nil {
				succeeded <- worker
			}
		}(string(rune('A' + i)))
	}
	wg.Wait()
	close(succeeded)

	var winners []string
	for w := range succeeded {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	got, _ := d.Get("a")
	require.Equal(t, winners[0], got.AssignedWorker)
}

func TestReadyTasks(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c"))

	ready := d.ReadyTasks()
	require.Len(t, ready, 1)
	require.Equal(t, "a", ready[0].ID)

	require.NoError(t, d.MarkRunning("a", "w1"))
	require.Empty(t, d.ReadyTasks())

	require.NoError(t, d.MarkCompleted("a", &TaskResult{TaskID: "a", Success: true}))
	ready = d.ReadyTasks()
	require.Len(t, ready, 2)
	assert.Equal(t, "b", ready[0].ID)
	assert.Equal(t, "c", ready[1].ID)
}

func TestReadyTasksPriorityOrder(t *testing.T) {
	d := New()
	require.NoError(t, d.AddTask(&Task{ID: "low", Priority: PriorityLow}))
	require.NoError(t, d.AddTask(&Task{ID: "critical", Priority: PriorityCritical}))
	require.NoError(t, d.AddTask(&Task{ID: "normal1", Priority: PriorityNormal}))
	require.NoError(t, d.AddTask(&Task{ID: "normal2", Priority: PriorityNormal}))

	ready := d.ReadyTasks()
	ids := make([]string, len(ready))
	for i, tk := range ready {
		ids[i] = tk.ID
	}
	require.Equal(t, []string{"critical", "normal1", "normal2", "low"}, ids)
}

func TestReadyTasksDoesNotMutate(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"))

	before := d.Tasks()
	_ = d.ReadyTasks()
	_ = d.ReadyTasks()
	after := d.Tasks()

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Status, after[i].Status)
	}
}

func TestSkippedDependencyPolicy(t *testing.T) {
	t.Run("skip satisfies", func(t *testing.T) {
		d := New(WithSkipSatisfiesDependency(true))
		require.NoError(t, d.AddTask(task("a")))
		require.NoError(t, d.AddTask(task("b", "a")))

		require.NoError(t, d.MarkSkipped("a", nil))
		ready := d.ReadyTasks()
		require.Len(t, ready, 1)
		require.Equal(t, "b", ready[0].ID)
	})

	t.Run("skip blocks", func(t *testing.T) {
		d := New(WithSkipSatisfiesDependency(false))
		require.NoError(t, d.AddTask(task("a")))
		require.NoError(t, d.AddTask(task("b", "a")))

		require.NoError(t, d.MarkSkipped("a", nil))
		require.Empty(t, d.ReadyTasks())
		require.True(t, d.IsDeadlocked())
	})
}

func TestIsDeadlocked(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"))

	// a is ready, so not deadlocked.
	require.False(t, d.IsDeadlocked())

	// a running: progress is still possible.
	require.NoError(t, d.MarkRunning("a", "w1"))
	require.False(t, d.IsDeadlocked())

	// a failed: b can never run.
	require.NoError(t, d.MarkFailed("a", &TaskResult{TaskID: "a"}))
	require.True(t, d.IsDeadlocked())
}

func TestIsDeadlockedDoesNotMutate(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"))
	require.NoError(t, d.MarkRunning("a", "w1"))
	require.NoError(t, d.MarkFailed("a", nil))

	before := d.Tasks()
	for i := 0; i < 10; i++ {
		require.True(t, d.IsDeadlocked())
	}
	after := d.Tasks()
	for i := range before {
		require.Equal(t, before[i].Status, after[i].Status)
		require.Equal(t, before[i].AssignedWorker, after[i].AssignedWorker)
	}
}

func TestIsCompleteAndCounts(t *testing.T) {
	d := buildDAG(t, task("a"), task("b"), task("c"))
	require.False(t, d.IsComplete())

	require.NoError(t, d.MarkRunning("a", "w"))
	require.NoError(t, d.MarkCompleted("a", &TaskResult{TaskID: "a", Success: true}))
	require.NoError(t, d.MarkRunning("b", "w"))
	require.NoError(t, d.MarkFailed("b", &TaskResult{TaskID: "b"}))
	require.False(t, d.IsComplete())

	require.NoError(t, d.MarkSkipped("c", nil))
	require.True(t, d.IsComplete())

	c := d.Counts()
	require.Equal(t, Counts{Completed: 1, Failed: 1, Skipped: 1, Total: 3}, c)
}

func TestGetReturnsCopy(t *testing.T) {
	d := buildDAG(t, task("a", "x"))
	got, ok := d.Get("a")
	require.True(t, ok)

	got.Status = StatusCompleted
	got.Dependencies[0] = "mutated"

	fresh, _ := d.Get("a")
	require.Equal(t, StatusPending, fresh.Status)
	require.Equal(t, []string{"x"}, fresh.Dependencies)
}

func TestUpdatesSignal(t *testing.T) {
	d := New()
	require.NoError(t, d.AddTask(task("a")))

	select {
	case <-d.Updates():
	case <-time.After(time.Second):
		t.Fatal("expected update signal after AddTask")
	}
}

func TestExtractedDataMerge(t *testing.T) {
	d := buildDAG(t, task("a"), task("b"))
	require.NoError(t, d.MarkRunning("a", "w"))
	require.NoError(t, d.MarkCompleted("a", &TaskResult{
		TaskID:        "a",
		Success:       true,
		ExtractedData: map[string]string{"k": "v1", "only-a": "x"},
	}))
	require.NoError(t, d.MarkRunning("b", "w"))
	require.NoError(t, d.MarkCompleted("b", &TaskResult{
		TaskID:        "b",
		Success:       true,
		ExtractedData: map[string]string{"k": "v2"},
	}))

	data := d.ExtractedData()
	require.Equal(t, "v2", data["k"])
	require.Equal(t, "x", data["only-a"])
}

func TestRecoveryTaskCount(t *testing.T) {
	d := buildDAG(t, task("a"))
	require.NoError(t, d.AddTask(&Task{ID: "r1", InsertedBySupervisor: true}))
	require.NoError(t, d.AddTask(&Task{ID: "r2", InsertedBySupervisor: true}))
	require.Equal(t, 2, d.RecoveryTaskCount())
}

func TestProgressMetrics(t *testing.T) {
	p := &ProgressMetrics{}
	require.False(t, p.HasMeaningfulProgress())
	require.Zero(t, p.SuccessRate())

	for i := 0; i < 15; i++ {
		p.Record(ActionResult{ActionType: "click", Success: i%3 != 0})
	}
	require.Equal(t, 15, p.ActionsExecuted)
	require.Equal(t, 10, p.SuccessfulActions)
	require.Equal(t, 5, p.FailedActions)
	require.Len(t, p.LastActions, ProgressWindow)
	require.InDelta(t, 10.0/15.0, p.SuccessRate(), 1e-9)

	// Successful actions alone are not meaningful progress.
	require.False(t, p.HasMeaningfulProgress())
	p.StateChanges = 1
	require.True(t, p.HasMeaningfulProgress())
}

func TestStructuredErrorString(t *testing.T) {
	err := NewTimeoutError(TimeoutTimeLimit, "global deadline exceeded", nil)
	require.Equal(t, "TIMEOUT/TIME_LIMIT: global deadline exceeded", err.Error())

	sys := NewSystemError(assert.AnError)
	require.Contains(t, sys.Error(), "SYSTEM_ERROR")
	require.False(t, sys.IsRecoverable)
	require.Equal(t, SuggestAbort, sys.SuggestedAction)
}

func TestRewireDependents(t *testing.T) {
	t.Parallel()

	d := buildDAG(t,
		task("a"),
		task("b", "a"),
		task("c", "a"),
	)
	require.NoError(t, d.AddTask(task("bridge")))

	require.NoError(t, d.RewireDependents("a", "bridge"))

	for _, id := range []string{"b", "c"} {
		got, ok := d.Get(id)
		require.True(t, ok)
		require.Equal(t, []string{"bridge"}, got.Dependencies)
	}

	// Children are blocked until the bridge finishes.
	require.Empty(t, readyIDs(d.ReadyTasks(), "b", "c"))
	require.NoError(t, d.MarkRunning("bridge", "w1"))
	require.NoError(t, d.MarkCompleted("bridge", &TaskResult{TaskID: "bridge", Success: true}))
	require.Len(t, readyIDs(d.ReadyTasks(), "b", "c"), 2)
}

func TestRewireDependentsRejectsCycle(t *testing.T) {
	t.Parallel()

	d := buildDAG(t,
		task("a"),
		task("b", "a"),
	)
	// Rewiring b onto itself would make b depend on b.
	require.ErrorIs(t, d.RewireDependents("a", "b"), ErrCycleDetected)
}

func readyIDs(tasks []*Task, want ...string) []string {
	set := map[string]bool{}
	for _, w := range want {
		set[w] = true
	}
	var out []string
	for _, task := range tasks {
		if set[task.ID] {
			out = append(out, task.ID)
		}
	}
	return out
}
