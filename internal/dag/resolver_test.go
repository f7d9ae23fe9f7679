package dag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func estTask(id string, est time.Duration, deps ...string) *Task {
	return &Task{
		ID:           id,
		Dependencies: deps,
		Metadata:     Metadata{EstimatedDuration: est},
	}
}

func TestExecutionLevels(t *testing.T) {
	d := buildDAG(t,
		task("a"),
		task("b"),
		task("c", "a"),
		task("d", "a", "b"),
		task("e", "c", "d"),
	)

	levels := NewResolver(d).ExecutionLevels()
	require.Len(t, levels, 3)

	ids := func(level []*Task) []string {
		out := make([]string, len(level))
		for i, tk := range level {
			out[i] = tk.ID
		}
		return out
	}
	assert.Equal(t, []string{"a", "b"}, ids(levels[0]))
	assert.Equal(t, []string{"c", "d"}, ids(levels[1]))
	assert.Equal(t, []string{"e"}, ids(levels[2]))
}

func TestExecutionLevelsSingleTask(t *testing.T) {
	d := buildDAG(t, task("only"))
	levels := NewResolver(d).ExecutionLevels()
	require.Len(t, levels, 1)
	require.Equal(t, "only", levels[0][0].ID)
}

func TestCanRun(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"))
	r := NewResolver(d)

	require.True(t, r.CanRun("a"))
	require.False(t, r.CanRun("b"))
	require.False(t, r.CanRun("ghost"))

	require.NoError(t, d.MarkRunning("a", "w"))
	require.False(t, r.CanRun("a"))

	require.NoError(t, d.MarkCompleted("a", &TaskResult{TaskID: "a", Success: true}))
	require.True(t, r.CanRun("b"))
}

func TestCriticalPath(t *testing.T) {
	d := buildDAG(t,
		estTask("a", 10*time.Second),
		estTask("b", 60*time.Second),
		estTask("c", 5*time.Second, "a"),
		estTask("d", 5*time.Second, "b"),
		estTask("e", 1*time.Second, "c", "d"),
	)

	path, total := NewResolver(d).CriticalPath()
	require.Equal(t, 66*time.Second, total)

	ids := make([]string, len(path))
	for i, tk := range path {
		ids[i] = tk.ID
	}
	require.Equal(t, []string{"b", "d", "e"}, ids)
}

func TestCriticalPathTieBrokenByInsertionOrder(t *testing.T) {
	d := buildDAG(t,
		estTask("first", 10*time.Second),
		estTask("second", 10*time.Second),
	)
	path, total := NewResolver(d).CriticalPath()
	require.Equal(t, 10*time.Second, total)
	require.Len(t, path, 1)
	require.Equal(t, "first", path[0].ID)
}

func TestCriticalPathEmptyGraph(t *testing.T) {
	path, total := NewResolver(New()).CriticalPath()
	require.Nil(t, path)
	require.Zero(t, total)
}

func TestTimeEstimates(t *testing.T) {
	d := buildDAG(t,
		estTask("a", 10*time.Second),
		estTask("b", 20*time.Second),
		estTask("c", 15*time.Second, "a", "b"),
	)
	r := NewResolver(d)

	require.Equal(t, 35*time.Second, r.EstimateParallelTime())
	require.Equal(t, 45*time.Second, r.EstimateSequentialTime())
}

func TestTimeEstimateDefault(t *testing.T) {
	d := buildDAG(t, task("a"))
	require.Equal(t, DefaultEstimatedDuration, NewResolver(d).EstimateSequentialTime())
}

func TestValidateDanglingDependency(t *testing.T) {
	d := New()
	require.NoError(t, d.AddTask(task("a", "ghost")))

	report := NewResolver(d).Validate()
	require.False(t, report.OK())
	require.Equal(t, []string{"ghost"}, report.DanglingDependencies["a"])
	require.Empty(t, report.Cycles)
}

func TestValidateCleanGraph(t *testing.T) {
	d := buildDAG(t, task("a"), task("b", "a"))
	require.True(t, NewResolver(d).Validate().OK())
}
