// Package dag holds the in-memory task graph that drives a goal execution,
// together with the shared data contracts attached to tasks.
package dag

import "time"

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Priority orders ready tasks; ties are broken by insertion order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// DefaultEstimatedDuration is assumed when the planner provides no estimate.
const DefaultEstimatedDuration = 30 * time.Second

// Metadata carries planner- and supervisor-provided task annotations.
type Metadata struct {
	// Step is the plan step number this task was converted from.
	Step int
	// EstimatedDuration is the planner's duration estimate.
	EstimatedDuration time.Duration
	// FallbackStrategy is a free-form hint used on recovery.
	FallbackStrategy string
	// Values holds arbitrary key/values set by the planner or supervisor.
	Values map[string]string
}

// EstimatedOrDefault returns the estimate, or DefaultEstimatedDuration if unset.
func (m Metadata) EstimatedOrDefault() time.Duration {
	if m.EstimatedDuration > 0 {
		return m.EstimatedDuration
	}
	return DefaultEstimatedDuration
}

// Task is a single unit of work in the graph. All mutable fields are owned
// by the DAG and must only be accessed under its lock; callers receive
// copies via snapshot methods.
type Task struct {
	ID           string
	Description  string
	Dependencies []string
	Status       Status
	Priority     Priority
	// AssignedWorker is the id of the worker holding the task while RUNNING.
	AssignedWorker string
	Metadata       Metadata
	// Result is attached when the task reaches a terminal status.
	Result *TaskResult
	// InsertedBySupervisor marks recovery tasks, counted against the budget.
	InsertedBySupervisor bool

	// seq is the insertion sequence number, assigned by the DAG.
	seq int
}

// Seq returns the task's insertion sequence number.
func (t *Task) Seq() int { return t.seq }

// DependsOn reports whether the task directly depends on the given id.
func (t *Task) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

func (t *Task) clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Metadata.Values != nil {
		values := make(map[string]string, len(t.Metadata.Values))
		for k, v := range t.Metadata.Values {
			values[k] = v
		}
		c.Metadata.Values = values
	}
	return &c
}
