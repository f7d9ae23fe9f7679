package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/llm"
	"github.com/webpilot-org/webpilot/internal/logger"
	"github.com/webpilot-org/webpilot/internal/metrics"
)

// DefaultInterval is how often the supervisor re-evaluates health.
const DefaultInterval = 5 * time.Second

// DefaultRecoveryBudgetFactor bounds recovery tasks relative to the
// initial plan size.
const DefaultRecoveryBudgetFactor = 2.0

// Replanner produces additional tasks from the current execution state.
type Replanner interface {
	Replan(ctx context.Context, goal string, d *dag.DAG, reason string) ([]*dag.Task, error)
}

// Config tunes the supervisor.
type Config struct {
	Goal                 string
	Model                string
	Interval             time.Duration
	StuckThreshold       time.Duration
	RecoveryBudgetFactor float64
}

// Option configures optional collaborators.
type Option func(*Supervisor)

// WithReplanner enables the REPLAN decision.
func WithReplanner(r Replanner) Option {
	return func(s *Supervisor) { s.replanner = r }
}

// WithMetrics records decisions on the given instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// Supervisor owns execution recovery: it watches health, classifies
// failures, and applies typed decisions to the task graph.
type Supervisor struct {
	d          *dag.DAG
	engine     *Engine
	classifier *Classifier
	health     *HealthMonitor
	abort      context.CancelFunc
	replanner  Replanner
	metrics    *metrics.Metrics
	cfg        Config

	budget        int
	handled       map[string]bool
	handledReplan map[string]bool

	mu          sync.Mutex
	abortReason string
}

// New builds a supervisor over a running graph. The abort function
// cancels the whole execution when the supervisor decides to stop it.
func New(d *dag.DAG, provider llm.Provider, abort context.CancelFunc, cfg Config, opts ...Option) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RecoveryBudgetFactor <= 0 {
		cfg.RecoveryBudgetFactor = DefaultRecoveryBudgetFactor
	}
	s := &Supervisor{
		d:             d,
		engine:        NewEngine(provider, cfg.Model),
		classifier:    NewClassifier(),
		health:        NewHealthMonitor(d, cfg.StuckThreshold),
		abort:         abort,
		cfg:           cfg,
		handled:       make(map[string]bool),
		handledReplan: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.budget = int(cfg.RecoveryBudgetFactor * float64(d.Counts().Total))
	return s
}

// Run watches the execution until the context ends or the graph
// completes. It blocks; run it on its own goroutine beside the
// scheduler.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.d.IsComplete() {
			return
		}
		s.tick(ctx)
	}
}

// tick runs one evaluation cycle.
func (s *Supervisor) tick(ctx context.Context) {
	snap := s.health.Snapshot(ctx)
	if snap.Health != HealthHealthy {
		logger.Warn(ctx, "Execution health degraded",
			"health", snap.Health.String(),
			"reasons", snap.Reasons,
			"cpu_pct", fmt.Sprintf("%.0f", snap.CPUPercent),
			"mem_pct", fmt.Sprintf("%.0f", snap.MemoryPercent),
		)
	}

	// Worker-raised replan signals are honored at any health grade.
	for _, res := range s.d.Results() {
		if res.NeedsReplan && !s.handledReplan[res.TaskID] {
			s.handledReplan[res.TaskID] = true
			s.replan(ctx, res.ReplanReason)
		}
	}

	// Every terminal failure gets a recovery decision, even in an
	// otherwise healthy run; an isolated failure still blocks its
	// dependents until someone acts on it.
	for _, task := range s.d.Tasks() {
		if task.Status == dag.StatusFailed && !s.handled[task.ID] {
			s.handled[task.ID] = true
			s.intervene(ctx, task, snap)
		}
	}
	if snap.Deadlocked {
		s.resolveDeadlock(ctx, snap)
	}
}

// intervene decides and applies recovery for one failed task.
func (s *Supervisor) intervene(ctx context.Context, task *dag.Task, snap Snapshot) {
	serr := s.taskError(task)
	remaining := s.budget - s.d.RecoveryTaskCount()
	if remaining <= 0 {
		s.abortRun(ctx, "recovery budget exhausted")
		return
	}

	req := DecisionRequest{
		Goal:            s.cfg.Goal,
		TaskID:          task.ID,
		TaskDescription: task.Description,
		Error:           serr,
		Health:          snap,
		BlockedTasks:    s.d.Dependents(task.ID),
		BudgetRemaining: remaining,
	}
	resp, err := s.engine.Decide(ctx, req)
	if err != nil {
		logger.Warn(ctx, "Decision model unavailable, using classifier suggestion",
			"task", task.ID, "err", err)
		resp = &DecisionResponse{
			Decision:  fallbackDecision(serr),
			Reasoning: "classifier default after decision failure",
		}
	}

	logger.Info(ctx, "Supervisor decision", "task", task.ID,
		"decision", string(resp.Decision), "reasoning", resp.Reasoning)
	s.countDecision(resp.Decision)
	s.apply(ctx, task, resp)
}

func (s *Supervisor) apply(ctx context.Context, task *dag.Task, resp *DecisionResponse) {
	switch resp.Decision {
	case DecisionRetry:
		retry := &dag.Task{
			ID:                   fmt.Sprintf("%s-retry-%d", task.ID, s.d.RecoveryTaskCount()+1),
			Description:          task.Description,
			Dependencies:         append([]string(nil), task.Dependencies...),
			Priority:             task.Priority,
			Metadata:             task.Metadata,
			InsertedBySupervisor: true,
		}
		if err := s.d.AddTask(retry); err != nil {
			logger.Error(ctx, "Inserting retry task failed", "task", task.ID, "err", err)
			return
		}
		if err := s.d.RewireDependents(task.ID, retry.ID); err != nil {
			logger.Error(ctx, "Rewiring dependents to retry failed", "task", task.ID, "err", err)
		}

	case DecisionSkip:
		if err := s.d.ReleaseDependents(task.ID); err != nil {
			logger.Error(ctx, "Releasing dependents failed", "task", task.ID, "err", err)
		}

	case DecisionBridge:
		bridge := &dag.Task{
			ID:                   resp.BridgeTask.ID,
			Description:          resp.BridgeTask.Description,
			Dependencies:         append([]string(nil), task.Dependencies...),
			Priority:             dag.PriorityHigh,
			InsertedBySupervisor: true,
		}
		if bridge.ID == "" {
			bridge.ID = "bridge-" + task.ID
		}
		if err := s.d.AddTask(bridge); err != nil {
			logger.Error(ctx, "Inserting bridge task failed", "task", task.ID, "err", err)
			return
		}
		if err := s.d.RewireDependents(task.ID, bridge.ID); err != nil {
			logger.Error(ctx, "Rewiring dependents to bridge failed", "task", task.ID, "err", err)
		}

	case DecisionReplan:
		s.replan(ctx, fmt.Sprintf("task %s failed: %s", task.ID, resp.Reasoning))

	case DecisionAbort:
		s.abortRun(ctx, resp.Reasoning)
	}
}

// replan asks the planner for fresh tasks and inserts them within budget.
func (s *Supervisor) replan(ctx context.Context, reason string) {
	if s.replanner == nil {
		logger.Warn(ctx, "Replan requested but no replanner configured", "reason", reason)
		return
	}
	if s.metrics != nil {
		s.metrics.ReplansTotal.Inc()
	}

	tasks, err := s.replanner.Replan(ctx, s.cfg.Goal, s.d, reason)
	if err != nil {
		logger.Error(ctx, "Replanning failed", "err", err)
		return
	}
	for _, task := range tasks {
		if s.d.RecoveryTaskCount() >= s.budget {
			s.abortRun(ctx, "recovery budget exhausted during replan")
			return
		}
		task.InsertedBySupervisor = true
		if err := s.d.AddTask(task); err != nil {
			logger.Error(ctx, "Inserting replanned task failed", "task", task.ID, "err", err)
		}
	}
	logger.Info(ctx, "Replan applied", "new_tasks", len(tasks), "reason", reason)
}

// resolveDeadlock handles blocked tasks with no failed task left to act
// on, skipping tasks whose dependencies can never be satisfied.
func (s *Supervisor) resolveDeadlock(ctx context.Context, snap Snapshot) {
	if !s.d.IsDeadlocked() {
		return
	}
	for _, task := range s.d.Tasks() {
		if task.Status.IsTerminal() {
			continue
		}
		if s.blockedForever(task) && !s.handled["deadlock/"+task.ID] {
			s.handled["deadlock/"+task.ID] = true
			logger.Warn(ctx, "Skipping permanently blocked task", "task", task.ID)
			s.countDecision(DecisionSkip)
			_ = s.d.MarkSkipped(task.ID, &dag.TaskResult{
				TaskID: task.ID,
				Error: &dag.StructuredError{
					Category:        dag.ErrUnknown,
					Message:         "dependencies can never be satisfied",
					IsRecoverable:   false,
					SuggestedAction: dag.SuggestSkip,
				},
			})
		}
	}
}

// blockedForever reports whether some dependency is terminal without
// satisfying the task.
func (s *Supervisor) blockedForever(task *dag.Task) bool {
	for _, depID := range task.Dependencies {
		dep, ok := s.d.Get(depID)
		if !ok {
			return true
		}
		if dep.Status == dag.StatusFailed {
			return true
		}
		if dep.Status == dag.StatusSkipped && !s.d.SkipSatisfiesDependency() {
			return true
		}
	}
	return false
}

func (s *Supervisor) taskError(task *dag.Task) *dag.StructuredError {
	if task.Result != nil && task.Result.Error != nil {
		return task.Result.Error
	}
	// Retry clones carry a "-retry-" id segment per insertion, so their
	// count doubles as the attempt number for the original task.
	attempts := strings.Count(task.ID, "-retry-")
	return s.classifier.Classify(fmt.Errorf("task %s failed without detail", task.ID), nil, attempts)
}

func (s *Supervisor) abortRun(ctx context.Context, reason string) {
	logger.Error(ctx, "Aborting execution", "reason", reason)
	s.countDecision(DecisionAbort)
	s.mu.Lock()
	if s.abortReason == "" {
		s.abortReason = reason
	}
	s.mu.Unlock()
	if s.abort != nil {
		s.abort()
	}
}

// AbortReason reports why the supervisor aborted the run, or "" if it
// did not. Safe to read after the execution context is cancelled.
func (s *Supervisor) AbortReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortReason
}

func (s *Supervisor) countDecision(d Decision) {
	if s.metrics != nil {
		s.metrics.SupervisorDecisionsTotal.WithLabelValues(string(d)).Inc()
	}
}

// fallbackDecision maps the classifier suggestion to a decision when
// the model cannot be reached.
func fallbackDecision(serr *dag.StructuredError) Decision {
	switch serr.SuggestedAction {
	case dag.SuggestRetry:
		return DecisionRetry
	case dag.SuggestAbort:
		return DecisionAbort
	default:
		return DecisionSkip
	}
}
