package dag

import (
	"sort"
	"time"
)

// Resolver provides pure, read-only analysis over a DAG snapshot: execution
// levels, runnability, critical path, and time estimates. It never mutates
// task state.
type Resolver struct {
	dag *DAG
}

// NewResolver creates a resolver bound to the given DAG.
func NewResolver(d *DAG) *Resolver {
	return &Resolver{dag: d}
}

// ExecutionLevels groups tasks by the length of their longest dependency
// chain: level i contains every task whose longest chain is exactly i.
// Computed by Kahn-style peeling; tasks in a dependency cycle are omitted.
func (r *Resolver) ExecutionLevels() [][]*Task {
	tasks := r.dag.Tasks()
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	depth := make(map[string]int, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		n := 0
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; ok {
				n++
				dependents[dep] = append(dependents[dep], t.ID)
			}
		}
		indegree[t.ID] = n
	}

	var frontier []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			frontier = append(frontier, t.ID)
			depth[t.ID] = 0
		}
	}

	maxDepth := -1
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			if depth[id] > maxDepth {
				maxDepth = depth[id]
			}
			for _, child := range dependents[id] {
				if d := depth[id] + 1; d > depth[child] {
					depth[child] = d
				}
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	levels := make([][]*Task, maxDepth+1)
	for _, t := range tasks {
		if indegree[t.ID] > 0 {
			continue // unreachable: part of a cycle
		}
		lvl := depth[t.ID]
		levels[lvl] = append(levels[lvl], t)
	}
	for _, level := range levels {
		sort.SliceStable(level, func(i, j int) bool {
			return level[i].seq < level[j].seq
		})
	}
	return levels
}

// CanRun reports whether the task is non-terminal, not running, and has all
// dependencies satisfied under the skip policy.
func (r *Resolver) CanRun(id string) bool {
	r.dag.mu.RLock()
	defer r.dag.mu.RUnlock()

	task, ok := r.dag.tasks[id]
	if !ok {
		return false
	}
	if task.Status != StatusPending && task.Status != StatusReady {
		return false
	}
	return r.dag.depsSatisfiedLocked(task)
}

// CriticalPath returns one longest root-to-leaf path by estimated duration,
// with ties broken by insertion order, and the path's total duration.
func (r *Resolver) CriticalPath() ([]*Task, time.Duration) {
	tasks := r.dag.Tasks()
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	// cost[id] is the longest-path duration of the chain ending at id.
	cost := make(map[string]time.Duration, len(tasks))
	prev := make(map[string]string, len(tasks))
	visiting := make(map[string]bool)

	var walk func(id string) time.Duration
	walk = func(id string) time.Duration {
		if c, ok := cost[id]; ok {
			return c
		}
		task, ok := byID[id]
		if !ok || visiting[id] {
			return 0
		}
		visiting[id] = true
		defer delete(visiting, id)

		var best time.Duration
		bestDep := ""
		for _, dep := range task.Dependencies {
			depTask, ok := byID[dep]
			if !ok {
				continue
			}
			c := walk(dep)
			switch {
			case bestDep == "", c > best:
				best, bestDep = c, dep
			case c == best && depTask.seq < byID[bestDep].seq:
				bestDep = dep
			}
		}
		total := best + task.Metadata.EstimatedOrDefault()
		cost[id] = total
		if bestDep != "" {
			prev[id] = bestDep
		}
		return total
	}

	var endTask *Task
	var endCost time.Duration
	for _, t := range tasks {
		c := walk(t.ID)
		if endTask == nil || c > endCost || (c == endCost && t.seq < endTask.seq) {
			endTask, endCost = t, c
		}
	}
	if endTask == nil {
		return nil, 0
	}

	var path []*Task
	for id := endTask.ID; id != ""; id = prev[id] {
		path = append(path, byID[id])
	}
	// Reverse to root-first order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, endCost
}

// EstimateParallelTime sums the slowest task of each execution level.
func (r *Resolver) EstimateParallelTime() time.Duration {
	var total time.Duration
	for _, level := range r.ExecutionLevels() {
		var slowest time.Duration
		for _, t := range level {
			if est := t.Metadata.EstimatedOrDefault(); est > slowest {
				slowest = est
			}
		}
		total += slowest
	}
	return total
}

// EstimateSequentialTime sums every task's estimate.
func (r *Resolver) EstimateSequentialTime() time.Duration {
	var total time.Duration
	for _, t := range r.dag.Tasks() {
		total += t.Metadata.EstimatedOrDefault()
	}
	return total
}

// ValidationReport lists structural problems in the graph.
type ValidationReport struct {
	// Cycles holds one task id per detected dependency cycle.
	Cycles []string
	// DanglingDependencies maps task id to dependency ids that do not exist.
	DanglingDependencies map[string][]string
}

// OK reports whether the graph is structurally sound.
func (v *ValidationReport) OK() bool {
	return len(v.Cycles) == 0 && len(v.DanglingDependencies) == 0
}

// Validate checks the snapshot for cycles and dangling dependency references.
func (r *Resolver) Validate() *ValidationReport {
	tasks := r.dag.Tasks()
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	report := &ValidationReport{DanglingDependencies: map[string][]string{}}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				report.DanglingDependencies[t.ID] = append(report.DanglingDependencies[t.ID], dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		task := byID[id]
		for _, dep := range task.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if visit(dep) {
				state[id] = done
				return true
			}
		}
		state[id] = done
		return false
	}
	for _, t := range tasks {
		if state[t.ID] == unvisited && visit(t.ID) {
			report.Cycles = append(report.Cycles, t.ID)
		}
	}
	return report
}
