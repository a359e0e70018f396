// Package taskgraph models workflows as dependency graphs of task
// definitions and computes execution plans from them: phases of tasks that
// can run concurrently, the critical path through the graph, and advisory
// time estimates. It performs no I/O.
package taskgraph

import "fmt"

// TaskDefinition is an immutable description of one task in a workflow.
type TaskDefinition struct {
	// Name is the task identifier, unique within a workflow.
	Name string `json:"name" yaml:"name"`

	// Component is the role tag for the task (e.g. "backend", "frontend").
	Component string `json:"component" yaml:"component"`

	// Description is the free-text task statement given to the worker.
	Description string `json:"description" yaml:"description"`

	// Dependencies names tasks in the same workflow that must complete
	// before this one may start.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Priority orders tasks within a phase; higher values are scheduled
	// first when a phase exceeds the concurrency bound.
	Priority int `json:"priority" yaml:"priority"`

	// EstimatedMinutes is used only for planning estimates, never to gate
	// execution.
	EstimatedMinutes int `json:"estimated_minutes" yaml:"estimated_minutes"`

	// RequiredCapabilities is an advisory set of capability tags.
	RequiredCapabilities []string `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
}

// ExecutionPlan is the derived schedule for a workflow. It is computed fresh
// from a task list and never mutated.
type ExecutionPlan struct {
	// Phases is the ordered list of maximal task groups; every task depends
	// only on tasks in strictly earlier phases.
	Phases [][]string `json:"phases"`

	// Parallelism is the task count per phase.
	Parallelism []int `json:"parallelism"`

	// CriticalPath is the dependency chain with the largest cumulative
	// estimated duration, in execution order. Reporting only.
	CriticalPath []string `json:"critical_path"`

	// Estimate holds the advisory sequential/parallel time metrics.
	Estimate TimeEstimate `json:"estimate"`
}

// TimeEstimate is the advisory timing summary for a task set, assuming tasks
// within a phase run fully in parallel.
type TimeEstimate struct {
	SequentialMinutes int     `json:"sequential_execution_minutes"`
	ParallelMinutes   int     `json:"parallel_execution_minutes"`
	SavedMinutes      int     `json:"time_saved_minutes"`
	SpeedupFactor     float64 `json:"speedup_factor"`
}

// CyclicDependencyError reports a dependency cycle. Remaining lists the task
// names that could not be placed into any phase; at least one of them is part
// of a cycle.
type CyclicDependencyError struct {
	Remaining []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected in tasks: %v", e.Remaining)
}
