// Package agent wires planning, scheduling, and supervision into a
// single goal execution.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/webpilot-org/webpilot/internal/browser"
	"github.com/webpilot-org/webpilot/internal/config"
	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/llm"
	"github.com/webpilot-org/webpilot/internal/logger"
	"github.com/webpilot-org/webpilot/internal/metrics"
	"github.com/webpilot-org/webpilot/internal/perception"
	"github.com/webpilot-org/webpilot/internal/planner"
	"github.com/webpilot-org/webpilot/internal/scheduler"
	"github.com/webpilot-org/webpilot/internal/store"
	"github.com/webpilot-org/webpilot/internal/supervisor"
	"github.com/webpilot-org/webpilot/internal/worker"
)

// ExecutionResult is the user-facing outcome of one goal execution.
type ExecutionResult struct {
	ExecutionID   string            `json:"execution_id"`
	Goal          string            `json:"goal"`
	Success       bool              `json:"success"`
	Confidence    float64           `json:"confidence"`
	Completed     int               `json:"completed"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	Total         int               `json:"total"`
	Elapsed       time.Duration     `json:"elapsed"`
	TimedOut      bool              `json:"timed_out"`
	Errors        []string          `json:"errors,omitempty"`
	ExtractedData map[string]string `json:"extracted_data,omitempty"`
}

// Agent executes natural-language goals against a shared browser
// session.
type Agent struct {
	cfg       config.Config
	provider  llm.Provider
	session   *browser.Session
	perceptor *perception.Perceptor
	planner   *planner.Planner
	metrics   *metrics.Metrics

	// plan, when set, bypasses the planning model.
	plan *planner.StructuredPlan
	// log, when set, receives task results and the execution record.
	log *store.Store
}

// Option configures an Agent.
type Option func(*Agent)

// WithPlan runs a pre-built plan instead of asking the planner.
func WithPlan(p *planner.StructuredPlan) Option {
	return func(a *Agent) { a.plan = p }
}

// WithStore enables the append-only result log.
func WithStore(s *store.Store) Option {
	return func(a *Agent) { a.log = s }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New builds an agent over an established browser session.
func New(cfg config.Config, provider llm.Provider, session *browser.Session, perceptor *perception.Perceptor, opts ...Option) *Agent {
	a := &Agent{
		cfg:       cfg,
		provider:  provider,
		session:   session,
		perceptor: perceptor,
		planner:   planner.New(provider, cfg.LLM.Model),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics != nil {
		perceptor.OnCacheEvent(func(hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			a.metrics.PerceptionCacheTotal.WithLabelValues(result).Inc()
		})
	}
	return a
}

// ExecuteGoal plans the goal, runs the resulting task graph to
// completion under supervision, and aggregates the outcome. Partial
// extracted data is returned even when the run fails.
func (a *Agent) ExecuteGoal(ctx context.Context, goal, startingURL string) (*ExecutionResult, error) {
	executionID := uuid.NewString()
	started := time.Now()
	logger.Info(ctx, "Executing goal",
		"execution_id", executionID,
		"goal", goal,
		"url", startingURL,
		"workers", a.cfg.Workers,
	)

	plan, err := a.resolvePlan(ctx, goal, startingURL)
	if err != nil {
		return nil, err
	}
	d, err := plan.Build(dag.WithSkipSatisfiesDependency(a.cfg.SkipSatisfiesDependency))
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.ObserveDAG(d)
	}

	exec := worker.New(a.session, a.perceptor, a.provider, llm.NewSessionStore(), worker.Config{
		Model:           a.cfg.LLM.Model,
		MaxIterations:   a.cfg.MaxIterations,
		VerifyThreshold: a.cfg.VerifyThreshold,
	}, a.metrics)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(d, exec,
		scheduler.WithWorkers(a.cfg.Workers),
		scheduler.WithDeadline(a.cfg.Timeout),
		scheduler.WithResultHook(a.recordResult(executionID)),
	)

	supOpts := []supervisor.Option{supervisor.WithReplanner(a.planner)}
	if a.metrics != nil {
		supOpts = append(supOpts, supervisor.WithMetrics(a.metrics))
	}
	sup := supervisor.New(d, a.provider, cancel, supervisor.Config{
		Goal:                 goal,
		Model:                a.cfg.LLM.Model,
		StuckThreshold:       a.cfg.StuckThreshold,
		RecoveryBudgetFactor: a.cfg.RecoveryBudgetFactor,
	}, supOpts...)
	go sup.Run(runCtx)

	summary, runErr := sched.Run(runCtx)
	cancel()

	result := a.summarize(executionID, goal, d, summary, runErr, sup.AbortReason(), time.Since(started))
	a.recordExecution(ctx, result, started)
	logger.Info(ctx, "Goal execution finished",
		"execution_id", executionID,
		"success", result.Success,
		"confidence", result.Confidence,
		"completed", result.Completed,
		"failed", result.Failed,
		"elapsed", result.Elapsed.Round(time.Millisecond),
	)
	return result, nil
}

// resolvePlan returns the preloaded plan or asks the planning model,
// grounding it on a best-effort observation of the starting page.
func (a *Agent) resolvePlan(ctx context.Context, goal, startingURL string) (*planner.StructuredPlan, error) {
	if a.plan != nil {
		return a.plan, nil
	}

	exploration := ""
	if startingURL != "" {
		if err := a.session.Act(ctx, func(drv browser.Driver) error {
			return drv.Navigate(ctx, startingURL)
		}); err != nil {
			return nil, err
		}
		if obs, err := a.perceptor.Perceive(ctx); err == nil {
			exploration = summarizeObservation(obs)
		} else {
			logger.Warn(ctx, "Exploration before planning failed", "err", err)
		}
	}
	return a.planner.Plan(ctx, goal, startingURL, exploration)
}

// summarizeObservation renders a compact element listing for the
// planning prompt. Full observations are the worker's business.
func summarizeObservation(obs *perception.Observation) string {
	const maxElements = 40
	var b strings.Builder
	b.WriteString("URL: " + obs.URL + "\n")
	for i, el := range obs.Elements {
		if i >= maxElements {
			b.WriteString("…\n")
			break
		}
		content := el.Content
		if len(content) > 80 {
			content = content[:80] + "…"
		}
		b.WriteString("- " + el.Type + ": " + content + "\n")
	}
	return b.String()
}

func (a *Agent) recordResult(executionID string) func(*dag.TaskResult) {
	return func(res *dag.TaskResult) {
		if a.metrics != nil {
			status := "completed"
			if !res.Success {
				status = "failed"
			}
			a.metrics.TasksTotal.WithLabelValues(status).Inc()
		}
		if a.log == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.log.RecordTaskResult(ctx, executionID, res); err != nil {
			logger.Warn(ctx, "Recording task result failed", "task", res.TaskID, "err", err)
		}
	}
}

func (a *Agent) summarize(executionID, goal string, d *dag.DAG, summary *scheduler.Summary, runErr error, abortReason string, elapsed time.Duration) *ExecutionResult {
	result := &ExecutionResult{
		ExecutionID:   executionID,
		Goal:          goal,
		Elapsed:       elapsed,
		ExtractedData: d.ExtractedData(),
	}
	// A supervisor abort surfaces as a context cancellation; the reason
	// is what the caller needs to see.
	if abortReason != "" {
		result.Errors = append(result.Errors, "execution aborted: "+abortReason)
	}
	if runErr != nil && !errors.Is(runErr, scheduler.ErrDeadlocked) &&
		!(abortReason != "" && errors.Is(runErr, context.Canceled)) {
		result.Errors = append(result.Errors, runErr.Error())
	}
	if errors.Is(runErr, scheduler.ErrDeadlocked) {
		result.Errors = append(result.Errors, "task graph deadlocked beyond recovery")
	}
	if summary == nil {
		return result
	}

	result.Completed = summary.Completed
	result.Failed = summary.Failed
	result.Skipped = summary.Skipped
	result.Total = summary.Total
	result.TimedOut = summary.TimedOut
	result.Success = runErr == nil && abortReason == "" && summary.Succeeded()

	verified := 0
	for _, res := range summary.Results {
		if res.Verification != nil {
			result.Confidence += res.Verification.Confidence
			verified++
		}
		if res.Error != nil {
			result.Errors = append(result.Errors, res.TaskID+": "+res.Error.Error())
		}
	}
	if verified > 0 {
		result.Confidence /= float64(verified)
	}
	return result
}

func (a *Agent) recordExecution(ctx context.Context, result *ExecutionResult, started time.Time) {
	if a.log == nil {
		return
	}
	rec := store.ExecutionRecord{
		ExecutionID: result.ExecutionID,
		Goal:        result.Goal,
		Success:     result.Success,
		Confidence:  result.Confidence,
		Error:       strings.Join(result.Errors, "; "),
		Extracted:   result.ExtractedData,
		StartedAt:   started,
		FinishedAt:  started.Add(result.Elapsed),
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.log.RecordExecution(writeCtx, rec); err != nil {
		logger.Warn(ctx, "Recording execution failed", "execution_id", result.ExecutionID, "err", err)
	}
}
