package taskgraph

import (
	"fmt"
	"sort"
)

// Validate checks structural validity of a task set: non-empty unique names
// and dependencies that reference tasks in the same workflow. It does not
// check for cycles; ComputePhases does that.
func Validate(tasks []TaskDefinition) error {
	names := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.Name == "" {
			return fmt.Errorf("task with empty name")
		}
		if names[task.Name] {
			return fmt.Errorf("duplicate task name %q", task.Name)
		}
		names[task.Name] = true
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if !names[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", task.Name, dep)
			}
			if dep == task.Name {
				return fmt.Errorf("task %q depends on itself", task.Name)
			}
		}
	}
	return nil
}

// ComputePhases produces the ordered list of execution phases via a layered
// topological sort: each iteration places every not-yet-placed task whose
// dependencies are all already placed, so each phase is maximal. If an
// iteration places nothing while tasks remain, the remainder contains a
// cycle and a CyclicDependencyError naming it is returned with no partial
// result.
func ComputePhases(tasks []TaskDefinition) ([][]string, error) {
	if err := Validate(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	deps := make(map[string][]string, len(tasks))
	for _, task := range tasks {
		deps[task.Name] = task.Dependencies
	}

	placed := make(map[string]bool, len(tasks))
	remaining := make([]string, 0, len(tasks))
	for _, task := range tasks {
		remaining = append(remaining, task.Name)
	}

	var phases [][]string
	for len(remaining) > 0 {
		var phase []string
		var next []string
		for _, name := range remaining {
			ready := true
			for _, dep := range deps[name] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				phase = append(phase, name)
			} else {
				next = append(next, name)
			}
		}

		if len(phase) == 0 {
			sort.Strings(next)
			return nil, &CyclicDependencyError{Remaining: next}
		}

		for _, name := range phase {
			placed[name] = true
		}
		phases = append(phases, phase)
		remaining = next
	}

	return phases, nil
}

// CriticalPath returns the dependency chain maximizing cumulative estimated
// duration, assuming independent tasks run in parallel and each task starts
// at the latest finish time among its dependencies. The input must be
// acyclic; call ComputePhases first.
func CriticalPath(tasks []TaskDefinition) []string {
	if len(tasks) == 0 {
		return nil
	}

	byName := make(map[string]TaskDefinition, len(tasks))
	for _, task := range tasks {
		byName[task.Name] = task
	}

	// Depth-first post-order gives a topological order for the forward pass.
	visited := make(map[string]bool, len(tasks))
	var order []string
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range byName[name].Dependencies {
			visit(dep)
		}
		order = append(order, name)
	}
	for _, task := range tasks {
		visit(task.Name)
	}

	earliestStart := make(map[string]int, len(tasks))
	earliestFinish := make(map[string]int, len(tasks))
	for _, name := range order {
		start := 0
		for _, dep := range byName[name].Dependencies {
			if earliestFinish[dep] > start {
				start = earliestFinish[dep]
			}
		}
		earliestStart[name] = start
		earliestFinish[name] = start + byName[name].EstimatedMinutes
	}

	// The chain ends at the task finishing last; walk back through the
	// dependency whose finish time equals the current task's start time.
	end := order[0]
	for _, name := range order {
		if earliestFinish[name] > earliestFinish[end] {
			end = name
		}
	}

	path := []string{end}
	current := end
	for {
		deps := byName[current].Dependencies
		if len(deps) == 0 {
			break
		}
		var pred string
		for _, dep := range deps {
			if earliestFinish[dep] == earliestStart[current] {
				pred = dep
				break
			}
		}
		if pred == "" {
			break
		}
		path = append(path, pred)
		current = pred
	}

	// Reverse into execution order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// EstimateTime computes the advisory sequential/parallel timing metrics.
// parallel <= sequential always holds, so SavedMinutes is never negative.
func EstimateTime(tasks []TaskDefinition) (TimeEstimate, error) {
	phases, err := ComputePhases(tasks)
	if err != nil {
		return TimeEstimate{}, err
	}

	byName := make(map[string]TaskDefinition, len(tasks))
	sequential := 0
	for _, task := range tasks {
		byName[task.Name] = task
		sequential += task.EstimatedMinutes
	}

	parallel := 0
	for _, phase := range phases {
		longest := 0
		for _, name := range phase {
			if m := byName[name].EstimatedMinutes; m > longest {
				longest = m
			}
		}
		parallel += longest
	}

	est := TimeEstimate{
		SequentialMinutes: sequential,
		ParallelMinutes:   parallel,
		SavedMinutes:      sequential - parallel,
		SpeedupFactor:     1,
	}
	if parallel > 0 {
		est.SpeedupFactor = float64(sequential) / float64(parallel)
	}
	return est, nil
}

// Analyze computes the full execution plan: phases, per-phase parallelism,
// critical path, and time estimates. Fails closed on any configuration
// error (cycles, unknown dependencies) before any scheduling happens.
func Analyze(tasks []TaskDefinition) (*ExecutionPlan, error) {
	phases, err := ComputePhases(tasks)
	if err != nil {
		return nil, err
	}

	parallelism := make([]int, len(phases))
	for i, phase := range phases {
		parallelism[i] = len(phase)
	}

	est, err := EstimateTime(tasks)
	if err != nil {
		return nil, err
	}

	return &ExecutionPlan{
		Phases:       phases,
		Parallelism:  parallelism,
		CriticalPath: CriticalPath(tasks),
		Estimate:     est,
	}, nil
}

// Batches splits each phase into batches of at most maxParallel tasks,
// ordered by descending priority, so lower-priority overflow from a crowded
// phase runs as a continuation after the higher-priority subset completes.
// With maxParallel <= 0 each phase is a single batch.
func Batches(phases [][]string, tasks []TaskDefinition, maxParallel int) [][]string {
	priority := make(map[string]int, len(tasks))
	for _, task := range tasks {
		priority[task.Name] = task.Priority
	}

	var batches [][]string
	for _, phase := range phases {
		ordered := append([]string(nil), phase...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return priority[ordered[i]] > priority[ordered[j]]
		})

		if maxParallel <= 0 || len(ordered) <= maxParallel {
			batches = append(batches, ordered)
			continue
		}
		for start := 0; start < len(ordered); start += maxParallel {
			end := start + maxParallel
			if end > len(ordered) {
				end = len(ordered)
			}
			batches = append(batches, ordered[start:end])
		}
	}
	return batches
}
