// Package supervisor watches a running execution, classifies failures,
// and intervenes with typed recovery decisions when the run degrades.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/logger"
)

// Health grades the overall state of an execution.
type Health int

const (
	HealthHealthy Health = iota
	HealthDegraded
	HealthCritical
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "HEALTHY"
	case HealthDegraded:
		return "DEGRADED"
	case HealthCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Health(%d)", int(h))
	}
}

// Health thresholds.
const (
	// criticalFailureFloor is the minimum failure count before the
	// failure ratio can mark the run critical.
	criticalFailureFloor = 3
	// degradedSuccessRate is the success-rate floor once enough tasks
	// finished to judge it.
	degradedSuccessRate = 0.3
	// degradedSampleSize is how many finished tasks that judgement needs.
	degradedSampleSize = 5
)

// DefaultStuckThreshold is how long without a completion counts as stuck.
const DefaultStuckThreshold = 60 * time.Second

// Snapshot is one health evaluation.
type Snapshot struct {
	Health        Health
	Counts        dag.Counts
	Deadlocked    bool
	SuccessRate   float64
	StuckFor      time.Duration
	RecoveryTasks int
	CPUPercent    float64
	MemoryPercent float64
	Reasons       []string
}

// HealthMonitor evaluates execution health from the task graph and,
// best effort, from host load.
type HealthMonitor struct {
	d              *dag.DAG
	stuckThreshold time.Duration
	startedAt      time.Time
}

// NewHealthMonitor builds a monitor. A non-positive threshold falls
// back to DefaultStuckThreshold.
func NewHealthMonitor(d *dag.DAG, stuckThreshold time.Duration) *HealthMonitor {
	if stuckThreshold <= 0 {
		stuckThreshold = DefaultStuckThreshold
	}
	return &HealthMonitor{d: d, stuckThreshold: stuckThreshold, startedAt: time.Now()}
}

// Snapshot grades the execution right now.
func (m *HealthMonitor) Snapshot(ctx context.Context) Snapshot {
	counts := m.d.Counts()
	snap := Snapshot{
		Health:        HealthHealthy,
		Counts:        counts,
		Deadlocked:    m.d.IsDeadlocked(),
		RecoveryTasks: m.d.RecoveryTaskCount(),
	}

	finished := counts.Completed + counts.Failed
	if finished > 0 {
		snap.SuccessRate = float64(counts.Completed) / float64(finished)
	}

	last := m.d.LastCompletionTime()
	if last.IsZero() {
		last = m.startedAt
	}
	snap.StuckFor = time.Since(last)

	m.probeHost(ctx, &snap)

	if snap.Deadlocked {
		snap.Health = HealthCritical
		snap.Reasons = append(snap.Reasons, "task graph is deadlocked")
	}
	if counts.Failed >= criticalFailureFloor && counts.Failed > 2*counts.Completed {
		snap.Health = HealthCritical
		snap.Reasons = append(snap.Reasons,
			fmt.Sprintf("%d failures against %d completions", counts.Failed, counts.Completed))
	}
	if snap.Health == HealthHealthy {
		if finished >= degradedSampleSize && snap.SuccessRate < degradedSuccessRate {
			snap.Health = HealthDegraded
			snap.Reasons = append(snap.Reasons,
				fmt.Sprintf("success rate %.2f below %.2f", snap.SuccessRate, degradedSuccessRate))
		}
		if !m.d.IsComplete() && snap.StuckFor > 2*m.stuckThreshold {
			snap.Health = HealthDegraded
			snap.Reasons = append(snap.Reasons,
				fmt.Sprintf("no completion for %s", snap.StuckFor.Round(time.Second)))
		}
	}
	return snap
}

// probeHost samples host load for decision context. Failures are logged
// and ignored; health never depends on the probe succeeding.
func (m *HealthMonitor) probeHost(ctx context.Context, snap *Snapshot) {
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else if err != nil {
		logger.Debug(ctx, "CPU probe failed", "err", err)
	}
	if stat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = stat.UsedPercent
	} else {
		logger.Debug(ctx, "Memory probe failed", "err", err)
	}
}
