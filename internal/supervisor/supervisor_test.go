package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/llm"
)

// cannedProvider returns a fixed reply for every decision request.
type cannedProvider struct {
	mu    sync.Mutex
	reply string
	calls int
	err   error
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Chat(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.reply}, nil
}

func failTask(t *testing.T, d *dag.DAG, id string, serr *dag.StructuredError) {
	t.Helper()
	require.NoError(t, d.MarkRunning(id, "w"))
	require.NoError(t, d.MarkFailed(id, &dag.TaskResult{TaskID: id, Error: serr}))
}

func elementError() *dag.StructuredError {
	return &dag.StructuredError{
		Category:        dag.ErrElementNotFound,
		Message:         "element 12 not found on current page",
		IsRecoverable:   true,
		SuggestedAction: dag.SuggestSkip,
	}
}

func TestClassifierCategories(t *testing.T) {
	t.Parallel()

	c := NewClassifier()
	cases := []struct {
		msg      string
		category dag.ErrorCategory
	}{
		{"element 4 not found on current page", dag.ErrElementNotFound},
		{"context deadline exceeded", dag.ErrTimeout},
		{"no completion after 50 iterations", dag.ErrTimeout},
		{"navigation to https://x failed: net::ERR_NAME_NOT_RESOLVED", dag.ErrNavigationError},
		{"click dispatch rejected", dag.ErrActionFailed},
		{"panic: runtime error", dag.ErrSystemError},
		{"some nonsense", dag.ErrUnknown},
	}
	for _, tc := range cases {
		serr := c.Classify(errors.New(tc.msg), nil, 0)
		require.Equal(t, tc.category, serr.Category, "message %q", tc.msg)
	}
}

func TestClassifierTimeoutSuggestionDependsOnProgress(t *testing.T) {
	t.Parallel()

	c := NewClassifier()

	// No progress means the approach went nowhere; start over.
	idle := c.Classify(errors.New("timed out"), &dag.ProgressMetrics{}, 0)
	require.Equal(t, dag.SuggestRetry, idle.SuggestedAction)

	// Real progress is worth finishing from where the task stopped.
	progress := &dag.ProgressMetrics{SuccessfulActions: 3, ActionsExecuted: 4, StateChanges: 2}
	busy := c.Classify(errors.New("timed out"), progress, 0)
	require.Equal(t, dag.SuggestContinue, busy.SuggestedAction)
}

func TestClassifierElementNotFoundRetriesOnceThenSkips(t *testing.T) {
	t.Parallel()

	c := NewClassifier()

	first := c.Classify(errors.New("element 7 not found"), nil, 0)
	require.Equal(t, dag.SuggestRetry, first.SuggestedAction)

	second := c.Classify(errors.New("element 7 not found"), nil, 1)
	require.Equal(t, dag.SuggestSkip, second.SuggestedAction)
}

func TestHealthGrading(t *testing.T) {
	t.Parallel()

	d := dag.New()
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, d.AddTask(&dag.Task{ID: id, Description: id}))
	}
	m := NewHealthMonitor(d, time.Minute)

	snap := m.Snapshot(context.Background())
	require.Equal(t, HealthHealthy, snap.Health)

	// Failures dominating completions turn the run critical.
	for _, id := range []string{"a", "b", "c"} {
		failTask(t, d, id, elementError())
	}
	snap = m.Snapshot(context.Background())
	require.Equal(t, HealthCritical, snap.Health)
	require.NotEmpty(t, snap.Reasons)
}

func TestHealthBalancedFailuresStayHealthy(t *testing.T) {
	t.Parallel()

	d := dag.New()
	for _, id := range []string{"a", "b", "c", "ok1", "ok2", "ok3"} {
		require.NoError(t, d.AddTask(&dag.Task{ID: id, Description: id}))
	}
	for _, id := range []string{"ok1", "ok2", "ok3"} {
		require.NoError(t, d.MarkRunning(id, "w"))
		require.NoError(t, d.MarkCompleted(id, &dag.TaskResult{TaskID: id, Success: true}))
	}
	// 3 failures against 3 completions: failures never exceed double
	// the completions, so the run keeps running without intervention.
	for _, id := range []string{"a", "b", "c"} {
		failTask(t, d, id, elementError())
	}

	m := NewHealthMonitor(d, time.Minute)
	snap := m.Snapshot(context.Background())
	require.Equal(t, HealthHealthy, snap.Health)
}

func TestHealthDegradedWhenStalled(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "a", Description: "a"}))

	m := NewHealthMonitor(d, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	snap := m.Snapshot(context.Background())
	require.Equal(t, HealthDegraded, snap.Health)
	require.NotEmpty(t, snap.Reasons)
}

func TestSupervisorSkipDecisionReleasesDependents(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "find", Description: "find the form"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "submit", Description: "submit it", Dependencies: []string{"find"}}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "x1", Description: "x1"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "x2", Description: "x2"}))

	failTask(t, d, "find", elementError())
	failTask(t, d, "x1", elementError())
	failTask(t, d, "x2", elementError())

	provider := &cannedProvider{reply: `{"decision": "SKIP", "reasoning": "form is optional"}`}
	s := New(d, provider, nil, Config{Goal: "fill the form", Interval: time.Hour})

	s.tick(context.Background())

	ready := d.ReadyTasks()
	ids := make([]string, 0, len(ready))
	for _, task := range ready {
		ids = append(ids, task.ID)
	}
	require.Contains(t, ids, "submit")
}

func TestSupervisorRetryDecisionInsertsRecoveryTask(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "login", Description: "log in"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "browse", Description: "browse", Dependencies: []string{"login"}}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "y1", Description: "y1"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "y2", Description: "y2"}))

	failTask(t, d, "login", elementError())
	failTask(t, d, "y1", elementError())
	failTask(t, d, "y2", elementError())

	provider := &cannedProvider{reply: `{"decision": "RETRY", "reasoning": "transient page glitch"}`}
	s := New(d, provider, nil, Config{Goal: "buy", Interval: time.Hour})

	s.tick(context.Background())

	retry, ok := d.Get("login-retry-1")
	require.True(t, ok)
	require.True(t, retry.InsertedBySupervisor)
	require.Equal(t, "log in", retry.Description)

	browse, ok := d.Get("browse")
	require.True(t, ok)
	require.Equal(t, []string{"login-retry-1"}, browse.Dependencies)
	// Every failed task got its own retry clone.
	require.Equal(t, 3, d.RecoveryTaskCount())
}

func TestSupervisorBridgeDecision(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "search", Description: "search for item"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "open", Description: "open result", Dependencies: []string{"search"}}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "z1", Description: "z1"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "z2", Description: "z2"}))

	failTask(t, d, "search", elementError())
	failTask(t, d, "z1", elementError())
	failTask(t, d, "z2", elementError())

	provider := &cannedProvider{reply: `{"decision": "BRIDGE", "reasoning": "use the category page instead",
		"bridge_task": {"id": "browse-category", "description": "navigate to the category listing"}}`}
	s := New(d, provider, nil, Config{Goal: "find item", Interval: time.Hour})

	s.tick(context.Background())

	bridge, ok := d.Get("browse-category")
	require.True(t, ok)
	require.True(t, bridge.InsertedBySupervisor)
	require.Equal(t, dag.PriorityHigh, bridge.Priority)

	open, ok := d.Get("open")
	require.True(t, ok)
	require.Equal(t, []string{"browse-category"}, open.Dependencies)
}

func TestSupervisorAbortsWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	d := dag.New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.AddTask(&dag.Task{ID: id, Description: id}))
		failTask(t, d, id, elementError())
	}

	// Factor small enough that the budget rounds down to zero.
	aborted := false
	provider := &cannedProvider{reply: `{"decision": "RETRY", "reasoning": "again"}`}
	s := New(d, provider, func() { aborted = true }, Config{
		Goal:                 "g",
		Interval:             time.Hour,
		RecoveryBudgetFactor: 0.1,
	})

	s.tick(context.Background())
	require.True(t, aborted)
	// The decision model was never consulted.
	require.Equal(t, 0, provider.calls)
	require.Equal(t, "recovery budget exhausted", s.AbortReason())
}

func TestSupervisorActsOnIsolatedFailure(t *testing.T) {
	t.Parallel()

	// One failure in an otherwise healthy run still gets a decision:
	// its dependent stays blocked until someone acts.
	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "banner", Description: "dismiss the banner"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "search", Description: "search", Dependencies: []string{"banner"}}))
	for _, id := range []string{"ok1", "ok2", "ok3"} {
		require.NoError(t, d.AddTask(&dag.Task{ID: id, Description: id}))
		require.NoError(t, d.MarkRunning(id, "w"))
		require.NoError(t, d.MarkCompleted(id, &dag.TaskResult{TaskID: id, Success: true}))
	}
	require.NoError(t, d.AddTask(&dag.Task{ID: "active", Description: "active"}))
	require.NoError(t, d.MarkRunning("active", "w2"))
	failTask(t, d, "banner", elementError())

	provider := &cannedProvider{reply: `{"decision": "SKIP", "reasoning": "banner is cosmetic"}`}
	s := New(d, provider, nil, Config{Goal: "g", Interval: time.Hour})

	s.tick(context.Background())

	require.Equal(t, 1, provider.calls)
	search, ok := d.Get("search")
	require.True(t, ok)
	require.Empty(t, search.Dependencies)
}

func TestSupervisorFallsBackWhenDecisionModelFails(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "a", Description: "a"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "child", Description: "child", Dependencies: []string{"a"}}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "b", Description: "b"}))
	require.NoError(t, d.AddTask(&dag.Task{ID: "c", Description: "c"}))
	failTask(t, d, "a", elementError())
	failTask(t, d, "b", elementError())
	failTask(t, d, "c", elementError())

	provider := &cannedProvider{err: errors.New("model offline")}
	s := New(d, provider, nil, Config{Goal: "g", Interval: time.Hour})

	s.tick(context.Background())

	// ELEMENT_NOT_FOUND suggests skip; the child must be released.
	child, ok := d.Get("child")
	require.True(t, ok)
	require.Empty(t, child.Dependencies)
}

type stubReplanner struct {
	mu     sync.Mutex
	calls  int
	reason string
	tasks  []*dag.Task
}

func (r *stubReplanner) Replan(_ context.Context, _ string, _ *dag.DAG, reason string) ([]*dag.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.reason = reason
	return r.tasks, nil
}

func TestSupervisorHonorsWorkerReplanSignal(t *testing.T) {
	t.Parallel()

	d := dag.New()
	require.NoError(t, d.AddTask(&dag.Task{ID: "a", Description: "a"}))
	require.NoError(t, d.MarkRunning("a", "w"))
	require.NoError(t, d.MarkFailed("a", &dag.TaskResult{
		TaskID:       "a",
		NeedsReplan:  true,
		ReplanReason: "verification rejected the claim twice",
		Error:        elementError(),
	}))

	replanner := &stubReplanner{tasks: []*dag.Task{
		{ID: "alt", Description: "try the mobile site"},
	}}
	provider := &cannedProvider{reply: `{"decision": "SKIP", "reasoning": "n/a"}`}
	s := New(d, provider, nil, Config{Goal: "g", Interval: time.Hour}, WithReplanner(replanner))

	s.tick(context.Background())
	require.Equal(t, 1, replanner.calls)
	require.Contains(t, replanner.reason, "verification")

	alt, ok := d.Get("alt")
	require.True(t, ok)
	require.True(t, alt.InsertedBySupervisor)

	// The signal is handled once, not on every tick.
	s.tick(context.Background())
	require.Equal(t, 1, replanner.calls)
}

func TestParseDecisionRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseDecision("I think we should retry")
	require.Error(t, err)

	_, err = parseDecision(`{"decision": "PONDER"}`)
	require.Error(t, err)

	_, err = parseDecision(`{"decision": "BRIDGE", "reasoning": "x"}`)
	require.Error(t, err)

	resp, err := parseDecision(`Sure. {"decision": "SKIP", "reasoning": "fine"}`)
	require.NoError(t, err)
	require.Equal(t, DecisionSkip, resp.Decision)
}
