package planner

import (
	"fmt"
	"time"

	"github.com/webpilot-org/webpilot/internal/dag"
)

// StepType separates steps a worker performs directly from steps that
// delegate to a nested goal.
type StepType string

const (
	StepDirect   StepType = "direct"
	StepDelegate StepType = "delegate"
)

// Complexity is the planner's own estimate of how hard the goal is.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Step is one unit of a structured plan. Dependencies reference other
// steps by number, not by task id.
type Step struct {
	Number           int      `json:"number" yaml:"number"`
	Name             string   `json:"name" yaml:"name"`
	Description      string   `json:"description" yaml:"description"`
	Type             StepType `json:"type" yaml:"type"`
	Dependencies     []int    `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	EstimatedTimeS   int      `json:"estimated_time_s,omitempty" yaml:"estimated_time_s,omitempty"`
	FallbackStrategy string   `json:"fallback_strategy,omitempty" yaml:"fallback_strategy,omitempty"`
}

// StructuredPlan is the planner's decomposition of a goal.
type StructuredPlan struct {
	Goal       string     `json:"goal" yaml:"goal"`
	Complexity Complexity `json:"complexity" yaml:"complexity"`
	Steps      []Step     `json:"steps" yaml:"steps"`
}

// Validate checks step numbering and dependency references. Step
// numbers must be unique and every dependency must name an existing
// step other than itself.
func (p *StructuredPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[int]bool, len(p.Steps))
	for _, step := range p.Steps {
		if step.Number <= 0 {
			return fmt.Errorf("step %q has non-positive number %d", step.Name, step.Number)
		}
		if seen[step.Number] {
			return fmt.Errorf("duplicate step number %d", step.Number)
		}
		if step.Description == "" {
			return fmt.Errorf("step %d has no description", step.Number)
		}
		seen[step.Number] = true
	}
	for _, step := range p.Steps {
		for _, dep := range step.Dependencies {
			if dep == step.Number {
				return fmt.Errorf("step %d depends on itself", step.Number)
			}
			if !seen[dep] {
				return fmt.Errorf("step %d depends on unknown step %d", step.Number, dep)
			}
		}
	}
	return nil
}

// TaskID is the task id a plan step converts to.
func TaskID(number int) string {
	return fmt.Sprintf("step-%d", number)
}

// Tasks converts the plan into DAG tasks. Step dependencies by number
// become task dependencies by id. The plan must be validated first;
// invalid references surface as AddTask or resolver errors later.
func (p *StructuredPlan) Tasks() []*dag.Task {
	tasks := make([]*dag.Task, 0, len(p.Steps))
	for _, step := range p.Steps {
		deps := make([]string, 0, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			deps = append(deps, TaskID(dep))
		}
		task := &dag.Task{
			ID:           TaskID(step.Number),
			Description:  step.Description,
			Dependencies: deps,
			Metadata: dag.Metadata{
				Step:              step.Number,
				EstimatedDuration: time.Duration(step.EstimatedTimeS) * time.Second,
				FallbackStrategy:  step.FallbackStrategy,
			},
		}
		if step.Name != "" {
			task.Metadata.Values = map[string]string{"step_name": step.Name}
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// Build validates the plan and loads it into a fresh DAG.
func (p *StructuredPlan) Build(opts ...dag.Option) (*dag.DAG, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d := dag.New(opts...)
	for _, task := range p.Tasks() {
		if err := d.AddTask(task); err != nil {
			return nil, fmt.Errorf("add task %s: %w", task.ID, err)
		}
	}
	if report := dag.NewResolver(d).Validate(); !report.OK() {
		return nil, fmt.Errorf("plan graph invalid: cycles %v, dangling deps %v",
			report.Cycles, report.DanglingDependencies)
	}
	return d, nil
}
