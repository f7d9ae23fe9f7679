// Package scheduler runs a task graph to completion over a fixed pool
// of workers. It owns dispatch and status bookkeeping; task semantics
// live in the executor it is given.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/webpilot-org/webpilot/internal/dag"
	"github.com/webpilot-org/webpilot/internal/logger"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 2

// wakeInterval bounds how long dispatch sleeps between re-scans. The
// update channel normally wakes it much sooner.
const wakeInterval = 500 * time.Millisecond

// defaultDeadlockGrace is how long a deadlock must persist before the
// run is abandoned. The supervisor gets this window to skip or bridge
// the blocking tasks.
const defaultDeadlockGrace = 10 * time.Second

// ErrDeadlocked reports that unfinished tasks remain but none can ever
// become ready.
var ErrDeadlocked = errors.New("scheduler: task graph is deadlocked")

// Executor runs one claimed task to a terminal result. Implementations
// must honor context cancellation and must not panic; the scheduler
// still converts a panic into a failed result as a last line of defense.
type Executor interface {
	Execute(ctx context.Context, workerID string, task *dag.Task) *dag.TaskResult
}

// Summary describes a finished run.
type Summary struct {
	Completed int
	Failed    int
	Skipped   int
	Total     int
	Elapsed   time.Duration
	TimedOut  bool
	Results   []*dag.TaskResult
}

// Succeeded reports whether every task reached a successful terminal
// state, counting skips as success.
func (s *Summary) Succeeded() bool {
	return !s.TimedOut && s.Failed == 0 && s.Completed+s.Skipped == s.Total
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithDeadline sets the global execution deadline.
func WithDeadline(d time.Duration) Option {
	return func(s *Scheduler) { s.deadline = d }
}

// WithResultHook registers a callback invoked after each task finishes.
// Hooks run on worker goroutines and must be safe for concurrent use.
func WithResultHook(hook func(*dag.TaskResult)) Option {
	return func(s *Scheduler) { s.resultHooks = append(s.resultHooks, hook) }
}

// WithDeadlockGrace overrides how long a deadlock may persist before
// the run is abandoned.
func WithDeadlockGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.deadlockGrace = d
		}
	}
}

// Scheduler dispatches ready tasks to workers until the graph is done,
// the deadline passes, or the context is cancelled.
type Scheduler struct {
	d             *dag.DAG
	exec          Executor
	workers       int
	deadline      time.Duration
	deadlockGrace time.Duration
	resultHooks   []func(*dag.TaskResult)
}

// New builds a scheduler over the given graph and executor.
func New(d *dag.DAG, exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		d:             d,
		exec:          exec,
		workers:       DefaultWorkers,
		deadlockGrace: defaultDeadlockGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the graph and blocks until it finishes. It returns a
// summary regardless of outcome; the error reports why the run stopped
// early, if it did.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runCtx := ctx
	if s.deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.workerLoop(runCtx, workerID, jobs)
		}()
	}

	dispatchErr := s.dispatch(runCtx, jobs)
	close(jobs)
	wg.Wait()

	timedOut := errors.Is(dispatchErr, context.DeadlineExceeded) && ctx.Err() == nil
	if timedOut {
		s.failUnfinished()
	}

	counts := s.d.Counts()
	summary := &Summary{
		Completed: counts.Completed,
		Failed:    counts.Failed,
		Skipped:   counts.Skipped,
		Total:     counts.Total,
		Elapsed:   time.Since(start),
		TimedOut:  timedOut,
		Results:   s.d.Results(),
	}
	logger.Info(ctx, "Execution finished",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"total", summary.Total,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, dispatchErr
}

// dispatch feeds ready task ids to the worker pool. It returns nil when
// every task is terminal.
func (s *Scheduler) dispatch(ctx context.Context, jobs chan<- string) error {
	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()

	// Each task is handed to the pool at most once in its lifetime,
	// even when wake-ups race while it is still READY.
	enqueued := make(map[string]bool)
	var deadlockedSince time.Time
	for {
		if s.d.IsComplete() {
			return nil
		}
		if s.d.IsDeadlocked() {
			if deadlockedSince.IsZero() {
				deadlockedSince = time.Now()
				logger.Warn(ctx, "Task graph deadlocked, waiting for recovery")
			} else if time.Since(deadlockedSince) > s.deadlockGrace {
				return ErrDeadlocked
			}
		} else {
			deadlockedSince = time.Time{}
		}

		for _, task := range s.d.ReadyTasks() {
			if enqueued[task.ID] {
				continue
			}
			if task.Status == dag.StatusPending {
				// A failed MarkReady means another goroutine moved the
				// task first; it is no longer ours to enqueue.
				if err := s.d.MarkReady(task.ID); err != nil {
					continue
				}
			}
			select {
			case jobs <- task.ID:
				enqueued[task.ID] = true
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-s.d.Updates():
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, workerID string, jobs <-chan string) {
	for id := range jobs {
		if err := s.d.MarkRunning(id, workerID); err != nil {
			// Lost the claim race or the task was skipped meanwhile.
			continue
		}
		task, ok := s.d.Get(id)
		if !ok {
			continue
		}

		result := s.runSafely(ctx, workerID, task)
		result.TaskID = id
		result.WorkerID = workerID
		if result.FinishedAt.IsZero() {
			result.FinishedAt = time.Now()
		}

		var err error
		if result.Success {
			err = s.d.MarkCompleted(id, result)
		} else {
			err = s.d.MarkFailed(id, result)
		}
		if err != nil {
			logger.Error(ctx, "Recording task outcome failed", "task", id, "err", err)
		}
		for _, hook := range s.resultHooks {
			hook(result)
		}
	}
}

// runSafely executes the task, converting a panic into a failed result
// so one bad task cannot take down the pool.
func (s *Scheduler) runSafely(ctx context.Context, workerID string, task *dag.Task) (result *dag.TaskResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Worker panic recovered", "worker", workerID, "task", task.ID, "panic", r)
			result = &dag.TaskResult{
				TaskID:    task.ID,
				StartedAt: started,
				Error:     dag.NewSystemError(fmt.Errorf("panic: %v", r)),
			}
		}
	}()
	return s.exec.Execute(ctx, workerID, task)
}

// failUnfinished marks every non-terminal task as failed after the
// global deadline fired.
func (s *Scheduler) failUnfinished() {
	for _, task := range s.d.Tasks() {
		if task.Status.IsTerminal() {
			continue
		}
		result := &dag.TaskResult{
			TaskID:     task.ID,
			FinishedAt: time.Now(),
			Error:      dag.NewTimeoutError(dag.TimeoutTimeLimit, "global deadline exceeded", nil),
		}
		if task.Status == dag.StatusRunning {
			_ = s.d.MarkFailed(task.ID, result)
			continue
		}
		// Pending and ready tasks never started; move them through
		// RUNNING so the transition rules stay intact.
		if err := s.d.MarkRunning(task.ID, "scheduler"); err == nil {
			_ = s.d.MarkFailed(task.ID, result)
		}
	}
}
