package dag

import "time"

// ActionResult records a single browser action taken while executing a task.
// Results are strictly ordered in append order within a task.
type ActionResult struct {
	ActionType string            `json:"action_type"`
	Success    bool              `json:"success"`
	Target     string            `json:"target,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// VerificationResult is the verifier's judgement of whether a task's goal
// has been achieved.
type VerificationResult struct {
	Completed  bool     `json:"completed"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Issues     []string `json:"issues,omitempty"`
}

// TaskResult is attached to a task when it reaches a terminal status.
type TaskResult struct {
	TaskID        string              `json:"task_id"`
	Success       bool                `json:"success"`
	ActionHistory []ActionResult      `json:"action_history,omitempty"`
	ExtractedData map[string]string   `json:"extracted_data,omitempty"`
	Verification  *VerificationResult `json:"verification,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
	WorkerID      string              `json:"worker_id,omitempty"`
	Error         *StructuredError    `json:"error,omitempty"`
	// NeedsReplan signals the supervisor without marking the task failed.
	NeedsReplan  bool   `json:"needs_replan,omitempty"`
	ReplanReason string `json:"replan_reason,omitempty"`
}

// Duration returns the wall-clock time the task spent executing.
func (r *TaskResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
