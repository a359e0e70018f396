// Package workflow loads workflow definitions from YAML files and validates
// them before the orchestrator executes anything. Loading is fail-closed: a
// file with an unknown task reference, a duplicate name, or a dependency
// cycle is rejected entirely.
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/casewise/ccc/internal/taskgraph"
)

// TaskSpec is one task entry in a workflow file.
type TaskSpec struct {
	Name         string   `yaml:"name"`
	Component    string   `yaml:"component"`
	Description  string   `yaml:"description"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Priority     int      `yaml:"priority,omitempty"`

	// EstimatedMinutes feeds the planner's time estimates only.
	EstimatedMinutes int `yaml:"estimated_minutes,omitempty"`

	// Prompt overrides the generated task prompt when set.
	Prompt string `yaml:"prompt,omitempty"`

	// TimeoutSeconds overrides the configured session timeout for this task.
	// Zero means the configured default applies.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// Input is arbitrary key/value context recorded on the session state.
	Input map[string]string `yaml:"input,omitempty"`

	RequiredCapabilities []string `yaml:"required_capabilities,omitempty"`
}

// Spec is a parsed workflow file.
type Spec struct {
	Name string `yaml:"name"`

	// Parallel selects phased parallel execution; false runs tasks one at a
	// time in dependency order.
	Parallel bool `yaml:"parallel"`

	Tasks []TaskSpec `yaml:"tasks"`
}

// Load reads and validates a workflow file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates workflow YAML.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the workflow structure, including that its task graph is
// well formed and acyclic.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("workflow name must not be empty")
	}
	if len(s.Tasks) == 0 {
		return fmt.Errorf("workflow %q has no tasks", s.Name)
	}
	for _, task := range s.Tasks {
		if task.Component == "" {
			return fmt.Errorf("task %q has no component", task.Name)
		}
		if task.Description == "" && task.Prompt == "" {
			return fmt.Errorf("task %q has neither description nor prompt", task.Name)
		}
		if task.TimeoutSeconds < 0 {
			return fmt.Errorf("task %q has negative timeout", task.Name)
		}
	}

	defs := s.Definitions()
	if err := taskgraph.Validate(defs); err != nil {
		return fmt.Errorf("workflow %q: %w", s.Name, err)
	}
	if _, err := taskgraph.ComputePhases(defs); err != nil {
		return fmt.Errorf("workflow %q: %w", s.Name, err)
	}
	return nil
}

// Definitions converts the workflow tasks to planner task definitions.
func (s *Spec) Definitions() []taskgraph.TaskDefinition {
	defs := make([]taskgraph.TaskDefinition, 0, len(s.Tasks))
	for _, task := range s.Tasks {
		defs = append(defs, taskgraph.TaskDefinition{
			Name:                 task.Name,
			Component:            task.Component,
			Description:          task.Description,
			Dependencies:         append([]string(nil), task.Dependencies...),
			Priority:             task.Priority,
			EstimatedMinutes:     task.EstimatedMinutes,
			RequiredCapabilities: append([]string(nil), task.RequiredCapabilities...),
		})
	}
	return defs
}

// Task returns the task spec with the given name, or nil.
func (s *Spec) Task(name string) *TaskSpec {
	for i := range s.Tasks {
		if s.Tasks[i].Name == name {
			return &s.Tasks[i]
		}
	}
	return nil
}
