package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/llm"
	"github.com/webpilot-org/webpilot/internal/logger"
)

// Planner turns a natural-language goal into a structured plan by
// asking the model to decompose it.
type Planner struct {
	provider llm.Provider
	model    string
}

// New builds a planner on the given provider.
func New(provider llm.Provider, model string) *Planner {
	return &Planner{provider: provider, model: model}
}

// Plan decomposes the goal into steps. exploration, when non-empty, is
// a textual observation of the starting page the model can ground the
// plan on.
func (p *Planner) Plan(ctx context.Context, goal, startingURL, exploration string) (*StructuredPlan, error) {
	prompt := planPrompt(goal, startingURL, exploration)
	resp, err := p.provider.Chat(ctx, &llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan request: %w", err)
	}
	plan, err := parsePlan(resp.Content)
	if err != nil {
		return nil, err
	}
	plan.Goal = goal
	logger.Info(ctx, "Goal planned",
		"steps", len(plan.Steps),
		"complexity", string(plan.Complexity),
	)
	return plan, nil
}

// Replan asks the model for fresh tasks continuing from the current
// graph state. It satisfies the supervisor's replanner contract: the
// returned tasks carry ids that cannot collide with existing ones.
func (p *Planner) Replan(ctx context.Context, goal string, d *dag.DAG, reason string) ([]*dag.Task, error) {
	prompt := replanPrompt(goal, d, reason)
	resp, err := p.provider.Chat(ctx, &llm.ChatRequest{
		Model: p.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("replan request: %w", err)
	}
	plan, err := parsePlan(resp.Content)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("replanned steps invalid: %w", err)
	}

	generation := d.RecoveryTaskCount() + 1
	tasks := plan.Tasks()
	ids := make(map[string]string, len(tasks))
	for _, task := range tasks {
		fresh := fmt.Sprintf("replan-%d-%s", generation, task.ID)
		ids[task.ID] = fresh
		task.ID = fresh
	}
	for _, task := range tasks {
		for i, dep := range task.Dependencies {
			if fresh, ok := ids[dep]; ok {
				task.Dependencies[i] = fresh
			}
		}
	}
	return tasks, nil
}

func planPrompt(goal, startingURL, exploration string) string {
	var b strings.Builder
	b.WriteString("Decompose a web automation goal into concrete browser sub-tasks.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	if startingURL != "" {
		fmt.Fprintf(&b, "Starting URL: %s\n", startingURL)
	}
	if exploration != "" {
		fmt.Fprintf(&b, "\nCurrent page observation:\n%s\n", exploration)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Each step is one self-contained browser activity a worker can finish alone.\n")
	b.WriteString("- Steps that do not depend on each other should have no dependency edge, so they can run in parallel.\n")
	b.WriteString("- Number steps from 1. Dependencies reference step numbers.\n")
	b.WriteString("- type is \"direct\" for plain browser work, \"delegate\" for steps that are themselves small goals.\n\n")
	b.WriteString(`Respond with a single JSON object: {"complexity": "simple|moderate|complex", "steps": [{"number": int, "name": string, "description": string, "type": "direct|delegate", "dependencies": [int], "estimated_time_s": int, "fallback_strategy": string}]}.`)
	return b.String()
}

func replanPrompt(goal string, d *dag.DAG, reason string) string {
	var b strings.Builder
	b.WriteString("A web automation run needs a revised plan for what remains of its goal.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "Replan reason: %s\n\n", reason)

	b.WriteString("Task history so far:\n")
	for _, task := range d.Tasks() {
		line := fmt.Sprintf("- [%s] %s: %s", task.Status, task.ID, task.Description)
		if task.Result != nil && task.Result.Error != nil {
			line += " (" + task.Result.Error.Message + ")"
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\nPlan only the remaining work. Do not repeat completed tasks.\n")
	b.WriteString(`Respond with a single JSON object: {"complexity": "simple|moderate|complex", "steps": [{"number": int, "name": string, "description": string, "type": "direct|delegate", "dependencies": [int], "estimated_time_s": int, "fallback_strategy": string}]}.`)
	return b.String()
}

// parsePlan extracts the plan JSON, tolerating surrounding prose.
func parsePlan(content string) (*StructuredPlan, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan reply")
	}
	var plan StructuredPlan
	if err := json.Unmarshal([]byte(content[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("decode plan reply: %w", err)
	}
	for i := range plan.Steps {
		if plan.Steps[i].Type == "" {
			plan.Steps[i].Type = StepDirect
		}
	}
	if plan.Complexity == "" {
		plan.Complexity = ComplexityModerate
	}
	return &plan, nil
}
