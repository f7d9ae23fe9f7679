package dag

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DAG is the directed acyclic graph of tasks for one goal execution.
// It owns every task; all mutation happens under a single mutex, and
// snapshot methods hand out copies.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	order      []string            // task ids in insertion order
	dependents map[string][]string // parent id -> ids of tasks depending on it

	skipSatisfies bool
	nextSeq       int

	// notify coalesces mutation events for the scheduler.
	notify chan struct{}
}

// Option configures a DAG.
type Option func(*DAG)

// WithSkipSatisfiesDependency controls whether a SKIPPED dependency
// satisfies its children. Default true.
func WithSkipSatisfiesDependency(v bool) Option {
	return func(d *DAG) {
		d.skipSatisfies = v
	}
}

// New creates an empty DAG.
func New(opts ...Option) *DAG {
	d := &DAG{
		tasks:         make(map[string]*Task),
		dependents:    make(map[string][]string),
		skipSatisfies: true,
		notify:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Updates returns a channel that receives a (coalesced) signal after any
// mutation. The scheduler selects on it instead of polling.
func (d *DAG) Updates() <-chan struct{} {
	return d.notify
}

func (d *DAG) ping() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// SkipSatisfiesDependency reports the configured skip policy.
func (d *DAG) SkipSatisfiesDependency() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.skipSatisfies
}

// AddTask inserts a task. The id must be unique. Dependencies are not
// required to resolve at insert time; the supervisor may insert out of
// order. Validate reports dangling references.
func (d *DAG) AddTask(task *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if _, ok := d.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	// Reject an edge that would close a cycle among already-present tasks.
	for _, dep := range task.Dependencies {
		if _, ok := d.tasks[dep]; ok && d.reachableLocked(dep, task.ID) {
			return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, task.ID, dep)
		}
	}

	t := task.clone()
	t.seq = d.nextSeq
	d.nextSeq++
	if t.Status != StatusPending {
		t.Status = StatusPending
	}

	d.tasks[t.ID] = t
	d.order = append(d.order, t.ID)
	for _, dep := range t.Dependencies {
		d.dependents[dep] = append(d.dependents[dep], t.ID)
	}
	d.ping()
	return nil
}

// AddDependency makes child depend on parent. Both must exist; the edge is
// rejected if parent transitively depends on child.
func (d *DAG) AddDependency(childID, parentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	child, ok := d.tasks[childID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, childID)
	}
	if _, ok := d.tasks[parentID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, parentID)
	}
	if child.DependsOn(parentID) {
		return nil
	}
	if d.reachableLocked(parentID, childID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, childID, parentID)
	}

	child.Dependencies = append(child.Dependencies, parentID)
	d.dependents[parentID] = append(d.dependents[parentID], childID)
	d.ping()
	return nil
}

// RewireDependents repoints every task depending on oldParent to depend on
// newParent instead, leaving other dependencies untouched. A recovery task
// uses this to take over the obligations of a failed one. The rewire is
// rejected wholesale if any new edge would close a cycle.
func (d *DAG) RewireDependents(oldParent, newParent string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tasks[oldParent]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, oldParent)
	}
	if _, ok := d.tasks[newParent]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, newParent)
	}
	if oldParent == newParent {
		return nil
	}

	children := d.dependents[oldParent]
	for _, childID := range children {
		if childID == newParent || d.reachableLocked(newParent, childID) {
			return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, childID, newParent)
		}
	}

	for _, childID := range children {
		child := d.tasks[childID]
		for i, dep := range child.Dependencies {
			if dep == oldParent {
				child.Dependencies[i] = newParent
			}
		}
		d.dependents[newParent] = append(d.dependents[newParent], childID)
	}
	d.dependents[oldParent] = nil
	d.ping()
	return nil
}

// Dependents returns the ids of tasks that directly depend on id.
func (d *DAG) Dependents(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[id]...)
}

// ReleaseDependents removes the dependency on parentID from every task
// holding it. The supervisor uses this to accept a failure and let the
// children proceed anyway.
func (d *DAG) ReleaseDependents(parentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tasks[parentID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, parentID)
	}
	for _, childID := range d.dependents[parentID] {
		child := d.tasks[childID]
		deps := child.Dependencies[:0]
		for _, dep := range child.Dependencies {
			if dep != parentID {
				deps = append(deps, dep)
			}
		}
		child.Dependencies = deps
	}
	d.dependents[parentID] = nil
	d.ping()
	return nil
}

// reachableLocked reports whether `to` is reachable from `from` by walking
// dependency edges. Caller holds the lock.
func (d *DAG) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]struct{}{}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		task, ok := d.tasks[cur]
		if !ok {
			continue
		}
		for _, dep := range task.Dependencies {
			if dep == to {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// MarkReady transitions a PENDING task to READY. The scheduler calls this
// exactly once per readiness transition when enqueueing.
func (d *DAG) MarkReady(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status != StatusPending {
		return TransitionError(id, task.Status, StatusReady)
	}
	task.Status = StatusReady
	return nil
}

// MarkRunning atomically claims a task for a worker. Exactly one concurrent
// claim succeeds; the task must be PENDING or READY.
func (d *DAG) MarkRunning(id, workerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	switch task.Status {
	case StatusPending, StatusReady:
		task.Status = StatusRunning
		task.AssignedWorker = workerID
		return nil
	case StatusRunning:
		return fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, id, task.AssignedWorker)
	default:
		return TransitionError(id, task.Status, StatusRunning)
	}
}

// MarkCompleted finishes a RUNNING task successfully and attaches its result.
func (d *DAG) MarkCompleted(id string, result *TaskResult) error {
	return d.finish(id, StatusCompleted, result)
}

// MarkFailed finishes a RUNNING task with a failure result.
func (d *DAG) MarkFailed(id string, result *TaskResult) error {
	return d.finish(id, StatusFailed, result)
}

func (d *DAG) finish(id string, status Status, result *TaskResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status != StatusRunning {
		return TransitionError(id, task.Status, status)
	}
	task.Status = status
	task.AssignedWorker = ""
	task.Result = result
	d.ping()
	return nil
}

// MarkSkipped skips any non-terminal task, optionally attaching a result.
func (d *DAG) MarkSkipped(id string, result *TaskResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status.IsTerminal() {
		return TransitionError(id, task.Status, StatusSkipped)
	}
	task.Status = StatusSkipped
	task.AssignedWorker = ""
	task.Result = result
	d.ping()
	return nil
}

// Get returns a copy of the task with the given id.
func (d *DAG) Get(id string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	task, ok := d.tasks[id]
	if !ok {
		return nil, false
	}
	return task.clone(), true
}

// Tasks returns copies of all tasks in insertion order.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Task, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.tasks[id].clone())
	}
	return out
}

// ReadyTasks returns copies of tasks whose dependencies are all satisfied
// and whose status is PENDING or READY, ordered by priority (highest first)
// then insertion order. It never mutates.
func (d *DAG) ReadyTasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ready []*Task
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Status != StatusPending && task.Status != StatusReady {
			continue
		}
		if d.depsSatisfiedLocked(task) {
			ready = append(ready, task.clone())
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

func (d *DAG) depsSatisfiedLocked(task *Task) bool {
	for _, depID := range task.Dependencies {
		dep, ok := d.tasks[depID]
		if !ok {
			return false
		}
		switch dep.Status {
		case StatusCompleted:
		case StatusSkipped:
			if !d.skipSatisfies {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// IsComplete reports whether every task is terminal.
func (d *DAG) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, task := range d.tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// IsDeadlocked reports whether non-terminal tasks remain but none is ready
// or running. The check never mutates task state.
func (d *DAG) IsDeadlocked() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nonTerminal := false
	for _, task := range d.tasks {
		switch {
		case task.Status == StatusRunning:
			return false
		case !task.Status.IsTerminal():
			nonTerminal = true
			if d.depsSatisfiedLocked(task) {
				return false
			}
		}
	}
	return nonTerminal
}

// Counts summarizes terminal statuses.
type Counts struct {
	Completed int
	Failed    int
	Skipped   int
	Running   int
	Total     int
}

// Counts returns the current status tallies.
func (d *DAG) Counts() Counts {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c := Counts{Total: len(d.tasks)}
	for _, task := range d.tasks {
		switch task.Status {
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		case StatusRunning:
			c.Running++
		}
	}
	return c
}

// RecoveryTaskCount returns how many tasks the supervisor has inserted.
func (d *DAG) RecoveryTaskCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, task := range d.tasks {
		if task.InsertedBySupervisor {
			n++
		}
	}
	return n
}

// ExtractedData merges extracted key/values from every terminal result in
// insertion order; later tasks win on key collisions.
func (d *DAG) ExtractedData() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := map[string]string{}
	for _, id := range d.order {
		task := d.tasks[id]
		if task.Result == nil {
			continue
		}
		for k, v := range task.Result.ExtractedData {
			out[k] = v
		}
	}
	return out
}

// Results returns the attached results of all terminal tasks in insertion order.
func (d *DAG) Results() []*TaskResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*TaskResult
	for _, id := range d.order {
		if r := d.tasks[id].Result; r != nil {
			out = append(out, r)
		}
	}
	return out
}

// LastCompletionTime returns the most recent FinishedAt among COMPLETED
// tasks, or the zero time if none completed yet.
func (d *DAG) LastCompletionTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var last time.Time
	for _, task := range d.tasks {
		if task.Status == StatusCompleted && task.Result != nil && task.Result.FinishedAt.After(last) {
			last = task.Result.FinishedAt
		}
	}
	return last
}
