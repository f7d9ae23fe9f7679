package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/llm"
)

// Decision is a typed recovery intervention.
type Decision string

const (
	DecisionRetry  Decision = "RETRY"
	DecisionSkip   Decision = "SKIP"
	DecisionReplan Decision = "REPLAN"
	DecisionBridge Decision = "BRIDGE"
	DecisionAbort  Decision = "ABORT"
)

func validDecision(d Decision) bool {
	switch d {
	case DecisionRetry, DecisionSkip, DecisionReplan, DecisionBridge, DecisionAbort:
		return true
	}
	return false
}

// DecisionRequest is the context handed to the decision model.
type DecisionRequest struct {
	Goal            string
	TaskID          string
	TaskDescription string
	Error           *dag.StructuredError
	Health          Snapshot
	BlockedTasks    []string
	BudgetRemaining int
}

// BridgeTask describes a task the model wants inserted to restore a
// precondition the failed task should have produced.
type BridgeTask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// DecisionResponse is the model's parsed verdict.
type DecisionResponse struct {
	Decision   Decision    `json:"decision"`
	Reasoning  string      `json:"reasoning"`
	BridgeTask *BridgeTask `json:"bridge_task,omitempty"`
}

// Engine asks the model for recovery decisions.
type Engine struct {
	provider llm.Provider
	model    string
}

// NewEngine builds a decision engine on the given provider.
func NewEngine(provider llm.Provider, model string) *Engine {
	return &Engine{provider: provider, model: model}
}

// Decide asks the model to pick one intervention for the failure. The
// verdict depends on current execution state, so it bypasses any
// response cache.
func (e *Engine) Decide(ctx context.Context, req DecisionRequest) (*DecisionResponse, error) {
	resp, err := e.provider.Chat(llm.WithoutCache(ctx), &llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: decisionPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decision request: %w", err)
	}
	return parseDecision(resp.Content)
}

func decisionPrompt(req DecisionRequest) string {
	var b strings.Builder
	b.WriteString("You supervise a web automation run and must pick exactly one recovery action.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Failed task %q: %s\n", req.TaskID, req.TaskDescription)
	if req.Error != nil {
		fmt.Fprintf(&b, "Failure: %s (recoverable: %v, suggested: %s)\n",
			req.Error.Error(), req.Error.IsRecoverable, req.Error.SuggestedAction)
	}
	fmt.Fprintf(&b, "Execution health: %s", req.Health.Health)
	if len(req.Health.Reasons) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(req.Health.Reasons, "; "))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Tasks: %d completed, %d failed, %d skipped, %d running, %d total.\n",
		req.Health.Counts.Completed, req.Health.Counts.Failed, req.Health.Counts.Skipped,
		req.Health.Counts.Running, req.Health.Counts.Total)
	if len(req.BlockedTasks) > 0 {
		fmt.Fprintf(&b, "Tasks blocked behind the failure: %s\n", strings.Join(req.BlockedTasks, ", "))
	}
	fmt.Fprintf(&b, "Recovery task budget remaining: %d\n\n", req.BudgetRemaining)

	b.WriteString("Actions:\n")
	b.WriteString("- RETRY: run the task again as a fresh recovery task\n")
	b.WriteString("- SKIP: give up on the task, unblocking dependents\n")
	b.WriteString("- REPLAN: ask the planner for new tasks from the current state\n")
	b.WriteString("- BRIDGE: insert one specific task restoring what the failure broke; include bridge_task\n")
	b.WriteString("- ABORT: stop the whole execution\n\n")
	b.WriteString(`Respond with a single JSON object: {"decision": "RETRY|SKIP|REPLAN|BRIDGE|ABORT", "reasoning": string, "bridge_task": {"id": string, "description": string}}. Omit bridge_task unless the decision is BRIDGE.`)
	return b.String()
}

// parseDecision extracts the verdict JSON, tolerating surrounding prose.
func parseDecision(content string) (*DecisionResponse, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in decision reply")
	}
	var resp DecisionResponse
	if err := json.Unmarshal([]byte(content[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("decode decision reply: %w", err)
	}
	if !validDecision(resp.Decision) {
		return nil, fmt.Errorf("unknown decision %q", resp.Decision)
	}
	if resp.Decision == DecisionBridge && (resp.BridgeTask == nil || resp.BridgeTask.Description == "") {
		return nil, fmt.Errorf("BRIDGE decision without a bridge task")
	}
	return &resp, nil
}
