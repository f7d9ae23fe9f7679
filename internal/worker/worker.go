// Package worker executes a single task against the shared browser by
// looping perceive, decide, act, verify until the task completes or its
// budget runs out.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/webpilot-org/webpilot/internal/browser"
	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/llm"
	"github.com/webpilot-org/webpilot/internal/logger"
	"github.com/webpilot-org/webpilot/internal/metrics"
	"github.com/webpilot-org/webpilot/internal/perception"
	"github.com/webpilot-org/webpilot/internal/tools"
)

const (
	// DefaultMaxIterations bounds the perceive-decide-act loop per task.
	DefaultMaxIterations = 50
	// DefaultVerifyThreshold is the minimum confidence a completion
	// claim must earn from the verifier.
	DefaultVerifyThreshold = 0.6
	// actionRetryCap is how often the same action on the same target may
	// fail before the model is told to change approach.
	actionRetryCap = 3
	// replanAfterVerifyFailures is how many rejected completion claims
	// it takes before the result carries a replan signal. The worker
	// keeps iterating either way; a later claim can still be accepted.
	replanAfterVerifyFailures = 2
	// maxConsecutiveInfraErrors before perception or model failures sink
	// the task.
	maxConsecutiveInfraErrors = 3
)

// Config tunes the execution loop.
type Config struct {
	Model           string
	MaxIterations   int
	VerifyThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.VerifyThreshold <= 0 {
		c.VerifyThreshold = DefaultVerifyThreshold
	}
	return c
}

// Executor runs tasks through the browser. One executor serves the
// whole pool; per-task state lives on the stack of Execute.
type Executor struct {
	session   *browser.Session
	perceptor *perception.Perceptor
	provider  llm.Provider
	sessions  *llm.SessionStore
	cfg       Config
	metrics   *metrics.Metrics
}

// New builds an executor. Metrics may be nil.
func New(session *browser.Session, perceptor *perception.Perceptor, provider llm.Provider, sessions *llm.SessionStore, cfg Config, m *metrics.Metrics) *Executor {
	return &Executor{
		session:   session,
		perceptor: perceptor,
		provider:  provider,
		sessions:  sessions,
		cfg:       cfg.withDefaults(),
		metrics:   m,
	}
}

// Execute runs the task to a terminal result. It never returns nil.
func (e *Executor) Execute(ctx context.Context, workerID string, task *dag.Task) *dag.TaskResult {
	threadID := workerID + "/" + task.ID
	defer e.sessions.Clear(threadID)

	run := &taskRun{
		exec:     e,
		task:     task,
		threadID: threadID,
		result: &dag.TaskResult{
			TaskID:        task.ID,
			StartedAt:     time.Now(),
			ExtractedData: make(map[string]string),
		},
		progress: &dag.ProgressMetrics{},
		retries:  make(map[string]int),
		seen:     make(map[string]bool),
	}
	logger.Info(ctx, "Task started", "worker", workerID, "task", task.ID)
	res := run.loop(ctx)
	res.FinishedAt = time.Now()
	logger.Info(ctx, "Task finished", "worker", workerID, "task", task.ID,
		"success", res.Success, "iterations", run.iteration, "actions", run.progress.ActionsExecuted)
	return res
}

// taskRun is the per-task loop state.
type taskRun struct {
	exec     *Executor
	task     *dag.Task
	threadID string
	result   *dag.TaskResult
	progress *dag.ProgressMetrics

	iteration       int
	retries         map[string]int
	seen            map[string]bool
	lastFingerprint string
	verifyFailures  int
	infraErrors     int

	// visual holds elements discovered by visual analysis. They are
	// merged into every later observation so their ids stay clickable,
	// and dropped once a mutating action changes the page under them.
	visual []perception.Element
}

func (r *taskRun) loop(ctx context.Context) *dag.TaskResult {
	e := r.exec
	e.sessions.Append(r.threadID, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(r.task)})

	for r.iteration = 1; r.iteration <= e.cfg.MaxIterations; r.iteration++ {
		if ctx.Err() != nil {
			return r.fail(dag.NewTimeoutError(dag.TimeoutTimeLimit, "execution deadline reached", r.progress))
		}

		obs, err := e.perceptor.Perceive(ctx)
		if err != nil {
			if done := r.infraFailure(ctx, fmt.Errorf("perceive: %w", err)); done != nil {
				return done
			}
			continue
		}
		r.observeState(obs)
		obs = r.withVisual(obs)

		e.sessions.Append(r.threadID, llm.Message{
			Role:    llm.RoleUser,
			Content: renderObservation(obs, r.iteration, e.cfg.MaxIterations),
		})
		resp, err := e.chat(ctx, e.sessions.History(r.threadID), tools.Catalog())
		if err != nil {
			if done := r.infraFailure(ctx, fmt.Errorf("decide: %w", err)); done != nil {
				return done
			}
			continue
		}
		r.infraErrors = 0

		e.sessions.Append(r.threadID, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			e.sessions.Append(r.threadID, llm.Message{
				Role:    llm.RoleUser,
				Content: "Reply with exactly one tool call. Plain text does not act on the page.",
			})
			continue
		}

		call := resp.ToolCalls[0]
		if done := r.handleCall(ctx, obs, call); done != nil {
			return done
		}
	}

	err := dag.NewTimeoutError(dag.TimeoutMaxIterations,
		fmt.Sprintf("no completion after %d iterations", e.cfg.MaxIterations), r.progress)
	if !r.result.NeedsReplan && !r.progress.HasMeaningfulProgress() {
		r.result.NeedsReplan = true
		r.result.ReplanReason = "iteration budget exhausted without meaningful progress"
	}
	return r.fail(err)
}

// handleCall dispatches one tool call. A non-nil return ends the task.
func (r *taskRun) handleCall(ctx context.Context, obs *perception.Observation, call llm.ToolCall) *dag.TaskResult {
	e := r.exec
	inv, err := tools.ParseToolCall(call)
	if err != nil {
		r.toolReply(call.ID, "error: "+err.Error())
		return nil
	}

	switch inv := inv.(type) {
	case tools.MarkTaskComplete:
		return r.handleCompletion(ctx, obs, call.ID, inv.Reasoning)

	case tools.StoreData:
		r.result.ExtractedData[inv.Key] = inv.Value
		r.toolReply(call.ID, fmt.Sprintf("stored %q", inv.Key))
		return nil

	case tools.GetAccomplishments:
		r.toolReply(call.ID, renderAccomplishments(r.result.ExtractedData))
		return nil

	case tools.AnalyzeVisualContent:
		answer, merged, err := e.perceptor.Analyze(ctx, obs, inv.Question)
		if err != nil {
			r.toolReply(call.ID, "error: "+err.Error())
			return nil
		}
		reply := answer
		if extra := len(merged.Elements) - len(obs.Elements); extra > 0 {
			// The latest analysis supersedes earlier visual elements;
			// their id ranges would collide otherwise.
			r.visual = append([]perception.Element(nil), merged.Elements[len(obs.Elements):]...)
			reply += fmt.Sprintf("\n%d additional elements identified visually:\n", extra)
			reply += renderObservation(merged, r.iteration, e.cfg.MaxIterations)
		}
		r.toolReply(call.ID, reply)
		return nil

	case tools.GetElementDetails:
		if err := e.perceptor.ElementDetails(ctx, obs, inv.ElementIDs); err != nil {
			r.toolReply(call.ID, "error: "+err.Error())
			return nil
		}
		r.toolReply(call.ID, renderObservation(obs, r.iteration, e.cfg.MaxIterations))
		return nil

	default:
		r.performAction(ctx, obs, call.ID, inv)
		return nil
	}
}

// performAction applies a browser action and reports its outcome to the
// model, enforcing the per-target retry cap.
func (r *taskRun) performAction(ctx context.Context, obs *perception.Observation, callID string, inv tools.Invocation) {
	e := r.exec
	target := actionTarget(inv)
	retryKey := inv.Name() + "/" + target

	if r.retries[retryKey] >= actionRetryCap {
		r.toolReply(callID, fmt.Sprintf(
			"%s on %s has already failed %d times. Do not repeat it; try a different element or approach, or mark the task complete if the goal is already met.",
			inv.Name(), target, actionRetryCap))
		return
	}

	actErr := e.applyAction(ctx, obs, inv)
	action := dag.ActionResult{
		ActionType: inv.Name(),
		Target:     target,
		Success:    actErr == nil,
		Timestamp:  time.Now(),
	}
	if actErr != nil {
		action.Error = actErr.Error()
	}
	r.result.ActionHistory = append(r.result.ActionHistory, action)
	r.progress.Record(action)
	e.countAction(inv.Name(), actErr == nil)

	if actErr != nil {
		r.retries[retryKey]++
		reply := "error: " + actErr.Error()
		if r.retries[retryKey] >= actionRetryCap {
			reply += fmt.Sprintf("\nThis action has now failed %d times and is blocked. Choose a different approach.", actionRetryCap)
		}
		r.toolReply(callID, reply)
		return
	}

	delete(r.retries, retryKey)
	if inv.Mutating() {
		e.perceptor.Invalidate(obs.URL)
		// Visually located coordinates are stale once the page changes.
		r.visual = nil
	}
	r.toolReply(callID, "ok")
}

// handleCompletion verifies a completion claim. Below-threshold verdicts
// are fed back to the model and the loop keeps going; the worker only
// fails when its iteration or time budget runs out.
func (r *taskRun) handleCompletion(ctx context.Context, obs *perception.Observation, callID, reasoning string) *dag.TaskResult {
	e := r.exec
	verification, err := e.verify(ctx, r.task, reasoning, r.result.ExtractedData, obs, r.result.ActionHistory)
	if err != nil {
		if done := r.infraFailure(ctx, fmt.Errorf("verify: %w", err)); done != nil {
			return done
		}
		r.toolReply(callID, "verification unavailable, continue working and try again")
		return nil
	}
	r.infraErrors = 0
	r.result.Verification = verification

	if verification.Completed && verification.Confidence >= e.cfg.VerifyThreshold {
		r.result.Success = true
		r.result.NeedsReplan = false
		r.result.ReplanReason = ""
		r.toolReply(callID, "completion confirmed")
		return r.result
	}

	r.verifyFailures++
	logger.Info(ctx, "Completion claim rejected", "task", r.task.ID,
		"confidence", verification.Confidence, "failures", r.verifyFailures)
	if r.verifyFailures >= replanAfterVerifyFailures && !r.result.NeedsReplan {
		r.result.NeedsReplan = true
		r.result.ReplanReason = fmt.Sprintf("verification rejected the completion claim %d times: %s",
			r.verifyFailures, verification.Reasoning)
	}

	reply := fmt.Sprintf("Completion rejected (confidence %.2f): %s", verification.Confidence, verification.Reasoning)
	for _, issue := range verification.Issues {
		reply += "\n- " + issue
	}
	reply += "\nAddress the issues above, then claim completion again."
	r.toolReply(callID, reply)
	return nil
}

// withVisual merges retained visual elements into a fresh observation.
// The original stays untouched; it may live in the perception cache.
func (r *taskRun) withVisual(obs *perception.Observation) *perception.Observation {
	if len(r.visual) == 0 {
		return obs
	}
	return &perception.Observation{
		URL:            obs.URL,
		ScreenshotHash: obs.ScreenshotHash,
		Elements:       append(append([]perception.Element(nil), obs.Elements...), r.visual...),
		CapturedAt:     obs.CapturedAt,
	}
}

// verify asks the model to judge the completion claim in a fresh
// conversation, outside the task's decision thread. Verdicts depend on
// live page state and are never served from the response cache.
func (e *Executor) verify(ctx context.Context, task *dag.Task, reasoning string, data map[string]string, obs *perception.Observation, history []dag.ActionResult) (*dag.VerificationResult, error) {
	resp, err := e.chat(llm.WithoutCache(ctx), []llm.Message{
		{Role: llm.RoleSystem, Content: verificationPrompt(task, reasoning, data, obs, history)},
	}, nil)
	if err != nil {
		return nil, err
	}
	return parseVerification(resp.Content)
}

func (e *Executor) chat(ctx context.Context, msgs []llm.Message, catalog []llm.Tool) (*llm.ChatResponse, error) {
	resp, err := e.provider.Chat(ctx, &llm.ChatRequest{
		Model:    e.cfg.Model,
		Messages: msgs,
		Tools:    catalog,
	})
	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		e.metrics.LLMRequestsTotal.WithLabelValues(e.provider.Name(), outcome).Inc()
		if resp != nil {
			e.metrics.LLMTokensTotal.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
			e.metrics.LLMTokensTotal.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))
		}
	}
	return resp, err
}

func (e *Executor) countAction(tool string, success bool) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	e.metrics.ActionsTotal.WithLabelValues(tool, outcome).Inc()
}

// observeState updates progress counters from the page fingerprint.
func (r *taskRun) observeState(obs *perception.Observation) {
	fp := obs.Fingerprint()
	if fp != r.lastFingerprint && r.lastFingerprint != "" {
		r.progress.StateChanges++
	}
	r.lastFingerprint = fp
	if !r.seen[fp] {
		r.seen[fp] = true
		r.progress.UniqueStatesVisited++
	}
}

// infraFailure counts consecutive perception or model errors. It returns
// a terminal result once the tolerance is exhausted or the context died.
func (r *taskRun) infraFailure(ctx context.Context, err error) *dag.TaskResult {
	if ctx.Err() != nil {
		return r.fail(dag.NewTimeoutError(dag.TimeoutTimeLimit, "execution deadline reached", r.progress))
	}
	r.infraErrors++
	logger.Warn(ctx, "Transient task infrastructure error", "task", r.task.ID,
		"err", err, "consecutive", r.infraErrors)
	if r.infraErrors >= maxConsecutiveInfraErrors {
		return r.fail(dag.NewSystemError(err))
	}
	return nil
}

func (r *taskRun) toolReply(callID, content string) {
	r.exec.sessions.Append(r.threadID, llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: callID,
	})
}

func (r *taskRun) fail(serr *dag.StructuredError) *dag.TaskResult {
	if serr.Progress == nil {
		serr.Progress = r.progress
	}
	r.result.Error = serr
	return r.result
}

func actionTarget(inv tools.Invocation) string {
	switch inv := inv.(type) {
	case tools.Click:
		return strconv.Itoa(inv.ElementID)
	case tools.Type:
		return strconv.Itoa(inv.ElementID)
	case tools.ScrollToResult:
		return strconv.Itoa(inv.ElementID)
	case tools.Navigate:
		return inv.URL
	case tools.Scroll:
		return inv.Direction
	default:
		return ""
	}
}
