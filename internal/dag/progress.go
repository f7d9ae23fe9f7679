package dag

// ProgressWindow is how many recent actions ProgressMetrics retains.
const ProgressWindow = 10

// ProgressMetrics tracks per-task counters used to decide whether a timeout
// represents meaningful progress.
type ProgressMetrics struct {
	ActionsExecuted     int            `json:"actions_executed"`
	SuccessfulActions   int            `json:"successful_actions"`
	FailedActions       int            `json:"failed_actions"`
	LastActions         []ActionResult `json:"last_actions,omitempty"`
	StateChanges        int            `json:"state_changes"`
	UniqueStatesVisited int            `json:"unique_states_visited"`
	ConvergenceDetected bool           `json:"convergence_detected"`
	ConvergenceMetric   string         `json:"convergence_metric,omitempty"`
	ConvergenceValue    float64        `json:"convergence_value,omitempty"`
}

// Record appends an action outcome, keeping the recent-action window bounded.
func (p *ProgressMetrics) Record(action ActionResult) {
	p.ActionsExecuted++
	if action.Success {
		p.SuccessfulActions++
	} else {
		p.FailedActions++
	}
	p.LastActions = append(p.LastActions, action)
	if len(p.LastActions) > ProgressWindow {
		p.LastActions = p.LastActions[len(p.LastActions)-ProgressWindow:]
	}
}

// SuccessRate returns successful/executed, or zero before any action.
func (p *ProgressMetrics) SuccessRate() float64 {
	if p.ActionsExecuted == 0 {
		return 0
	}
	return float64(p.SuccessfulActions) / float64(p.ActionsExecuted)
}

// HasMeaningfulProgress reports whether the task moved the page forward:
// at least one successful action and either a state change or convergence.
func (p *ProgressMetrics) HasMeaningfulProgress() bool {
	return p.SuccessfulActions > 0 && (p.StateChanges > 0 || p.ConvergenceDetected)
}
