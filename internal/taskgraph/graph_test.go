package taskgraph

import (
	"errors"
	"testing"
)

func abcTasks() []TaskDefinition {
	return []TaskDefinition{
		{Name: "A", Component: "backend", EstimatedMinutes: 10},
		{Name: "B", Component: "backend", EstimatedMinutes: 20},
		{Name: "C", Component: "testing", Dependencies: []string{"A", "B"}, EstimatedMinutes: 5},
	}
}

func TestComputePhasesScenarioABC(t *testing.T) {
	phases, err := ComputePhases(abcTasks())
	if err != nil {
		t.Fatalf("ComputePhases: %v", err)
	}
	if len(phases) != 2 {
		t.Fatalf("phases = %v, want 2 phases", phases)
	}
	if len(phases[0]) != 2 || len(phases[1]) != 1 {
		t.Fatalf("phase sizes = %v, want [[A B] [C]]", phases)
	}
	first := map[string]bool{phases[0][0]: true, phases[0][1]: true}
	if !first["A"] || !first["B"] {
		t.Errorf("phase 0 = %v, want A and B", phases[0])
	}
	if phases[1][0] != "C" {
		t.Errorf("phase 1 = %v, want [C]", phases[1])
	}
}

func TestEstimateTimeScenarioABC(t *testing.T) {
	est, err := EstimateTime(abcTasks())
	if err != nil {
		t.Fatalf("EstimateTime: %v", err)
	}
	if est.SequentialMinutes != 35 {
		t.Errorf("sequential = %d, want 35", est.SequentialMinutes)
	}
	if est.ParallelMinutes != 25 {
		t.Errorf("parallel = %d, want 25", est.ParallelMinutes)
	}
	if est.SavedMinutes != 10 {
		t.Errorf("saved = %d, want 10", est.SavedMinutes)
	}
}

func TestComputePhasesCoversEveryTaskOnce(t *testing.T) {
	tasks := []TaskDefinition{
		{Name: "db"},
		{Name: "api", Dependencies: []string{"db"}},
		{Name: "auth", Dependencies: []string{"db"}},
		{Name: "ui", Dependencies: []string{"api", "auth"}},
		{Name: "docs"},
		{Name: "e2e", Dependencies: []string{"ui"}},
	}
	phases, err := ComputePhases(tasks)
	if err != nil {
		t.Fatalf("ComputePhases: %v", err)
	}

	placedIn := make(map[string]int)
	for i, phase := range phases {
		for _, name := range phase {
			if prev, seen := placedIn[name]; seen {
				t.Errorf("task %s placed in phases %d and %d", name, prev, i)
			}
			placedIn[name] = i
		}
	}
	if len(placedIn) != len(tasks) {
		t.Fatalf("placed %d tasks, want %d", len(placedIn), len(tasks))
	}

	// Every dependency sits in a strictly earlier phase.
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if placedIn[dep] >= placedIn[task.Name] {
				t.Errorf("dependency %s (phase %d) not before %s (phase %d)",
					dep, placedIn[dep], task.Name, placedIn[task.Name])
			}
		}
	}

	// Maximality: docs has no deps, so it belongs to phase 0.
	if placedIn["docs"] != 0 {
		t.Errorf("docs placed in phase %d, want 0", placedIn["docs"])
	}
}

func TestComputePhasesCycleError(t *testing.T) {
	tasks := []TaskDefinition{
		{Name: "a", Dependencies: []string{"c"}},
		{Name: "b", Dependencies: []string{"a"}},
		{Name: "c", Dependencies: []string{"b"}},
		{Name: "free"},
	}
	phases, err := ComputePhases(tasks)
	if phases != nil {
		t.Errorf("got partial phases %v, want none", phases)
	}
	var cycleErr *CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("err = %v, want CyclicDependencyError", err)
	}
	if len(cycleErr.Remaining) != 3 {
		t.Errorf("remaining = %v, want the 3 cyclic tasks", cycleErr.Remaining)
	}
	for _, name := range cycleErr.Remaining {
		if name == "free" {
			t.Error("free task reported as part of the cycle")
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []TaskDefinition
		wantErr bool
	}{
		{"valid", abcTasks(), false},
		{"empty name", []TaskDefinition{{Name: ""}}, true},
		{"duplicate names", []TaskDefinition{{Name: "x"}, {Name: "x"}}, true},
		{"unknown dependency", []TaskDefinition{{Name: "x", Dependencies: []string{"ghost"}}}, true},
		{"self dependency", []TaskDefinition{{Name: "x", Dependencies: []string{"x"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tasks)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCriticalPath(t *testing.T) {
	// B(20) -> C(5) is the longest chain: finish 25 beats A's 10.
	path := CriticalPath(abcTasks())
	if len(path) != 2 || path[0] != "B" || path[1] != "C" {
		t.Errorf("critical path = %v, want [B C]", path)
	}
}

func TestCriticalPathChain(t *testing.T) {
	tasks := []TaskDefinition{
		{Name: "schema", EstimatedMinutes: 30},
		{Name: "api", Dependencies: []string{"schema"}, EstimatedMinutes: 60},
		{Name: "ui", Dependencies: []string{"api"}, EstimatedMinutes: 45},
		{Name: "docs", EstimatedMinutes: 20},
	}
	path := CriticalPath(tasks)
	want := []string{"schema", "api", "ui"}
	if len(path) != len(want) {
		t.Fatalf("critical path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("path[%d] = %s, want %s", i, path[i], want[i])
		}
	}
}

func TestEstimateSavedNeverNegative(t *testing.T) {
	tests := []struct {
		name  string
		tasks []TaskDefinition
	}{
		{"single task", []TaskDefinition{{Name: "solo", EstimatedMinutes: 15}}},
		{"pure chain", []TaskDefinition{
			{Name: "a", EstimatedMinutes: 10},
			{Name: "b", Dependencies: []string{"a"}, EstimatedMinutes: 10},
		}},
		{"independent", []TaskDefinition{
			{Name: "a", EstimatedMinutes: 10},
			{Name: "b", EstimatedMinutes: 30},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := EstimateTime(tt.tasks)
			if err != nil {
				t.Fatalf("EstimateTime: %v", err)
			}
			if est.SavedMinutes < 0 {
				t.Errorf("saved = %d, want >= 0", est.SavedMinutes)
			}
			if est.ParallelMinutes > est.SequentialMinutes {
				t.Errorf("parallel %d > sequential %d", est.ParallelMinutes, est.SequentialMinutes)
			}
		})
	}

	// A pure chain saves nothing.
	est, err := EstimateTime([]TaskDefinition{
		{Name: "a", EstimatedMinutes: 10},
		{Name: "b", Dependencies: []string{"a"}, EstimatedMinutes: 10},
	})
	if err != nil {
		t.Fatalf("EstimateTime: %v", err)
	}
	if est.SavedMinutes != 0 {
		t.Errorf("chain saved = %d, want 0", est.SavedMinutes)
	}
}

func TestAnalyze(t *testing.T) {
	plan, err := Analyze(abcTasks())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(plan.Phases) != 2 {
		t.Errorf("phases = %v", plan.Phases)
	}
	if len(plan.Parallelism) != 2 || plan.Parallelism[0] != 2 || plan.Parallelism[1] != 1 {
		t.Errorf("parallelism = %v, want [2 1]", plan.Parallelism)
	}
	if plan.Estimate.SavedMinutes != 10 {
		t.Errorf("saved = %d, want 10", plan.Estimate.SavedMinutes)
	}
}

func TestBatchesSplitsByPriority(t *testing.T) {
	tasks := []TaskDefinition{
		{Name: "low", Priority: 1},
		{Name: "mid", Priority: 5},
		{Name: "high", Priority: 9},
		{Name: "last", Dependencies: []string{"high"}},
	}
	phases, err := ComputePhases(tasks)
	if err != nil {
		t.Fatalf("ComputePhases: %v", err)
	}

	batches := Batches(phases, tasks, 2)
	if len(batches) != 3 {
		t.Fatalf("batches = %v, want 3 batches", batches)
	}
	if batches[0][0] != "high" || batches[0][1] != "mid" {
		t.Errorf("batch 0 = %v, want [high mid]", batches[0])
	}
	if len(batches[1]) != 1 || batches[1][0] != "low" {
		t.Errorf("batch 1 = %v, want overflow [low]", batches[1])
	}
	if len(batches[2]) != 1 || batches[2][0] != "last" {
		t.Errorf("batch 2 = %v, want [last]", batches[2])
	}

	// Unbounded: one batch per phase.
	unbounded := Batches(phases, tasks, 0)
	if len(unbounded) != 2 {
		t.Errorf("unbounded batches = %v, want 2", unbounded)
	}
}
