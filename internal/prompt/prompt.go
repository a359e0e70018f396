// Package prompt builds the task text handed to worker processes. It is a
// configuration-table-driven formatter: each component role maps to a block
// of guideline fragments appended to the task statement. No inheritance, no
// templates with logic.
package prompt

import (
	"fmt"
	"strings"

	"github.com/casewise/ccc/internal/taskgraph"
)

// roleGuidelines maps a component role to the guideline block included in
// prompts for that role. Unknown roles get no extra block.
var roleGuidelines = map[string]string{
	"frontend": `Frontend Guidelines:
- Use React with TypeScript
- Create reusable components with modern hooks
- Include proper TypeScript types
- Make it responsive and accessible`,

	"backend": `Backend Guidelines:
- Include validation models for request and response data
- Add proper error handling and status codes
- Follow RESTful conventions
- Document the API surface`,

	"testing": `Testing Guidelines:
- Write comprehensive unit tests
- Include integration tests where appropriate
- Cover both positive and negative cases`,

	"documentation": `Documentation Guidelines:
- Write clear, example-driven documentation
- Cover setup, usage, and troubleshooting`,
}

// BuildTask renders the full worker prompt for a task definition.
func BuildTask(task taskgraph.TaskDefinition) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a %s specialist working on the '%s' component.\n\n",
		task.Component, task.Name)
	fmt.Fprintf(&b, "Task: %s\n\n", task.Description)

	b.WriteString("Requirements:\n- Create production-quality code\n")
	if len(task.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, "- Follow best practices for %s\n",
			strings.Join(task.RequiredCapabilities, ", "))
	}
	b.WriteString("- Include appropriate error handling\n\n")

	if len(task.Dependencies) > 0 {
		fmt.Fprintf(&b, "Dependencies:\nThis task depends on: %s\n",
			strings.Join(task.Dependencies, ", "))
		b.WriteString("Assume these are already implemented and available.\n\n")
	}

	if guidelines, ok := roleGuidelines[task.Component]; ok {
		b.WriteString(guidelines)
		b.WriteString("\n\n")
	}

	if task.EstimatedMinutes > 0 {
		fmt.Fprintf(&b, "Estimated time: %d minutes\n\n", task.EstimatedMinutes)
	}
	b.WriteString("Begin implementation now. Create all necessary files in your workspace.")

	return b.String()
}

// BuildRetry annotates the original prompt with the prior failure so the
// retried attempt knows what went wrong. Files from the failed attempt may
// still be present in the workspace.
func BuildRetry(attempt int, lastError, original string) string {
	return fmt.Sprintf(`[RETRY ATTEMPT %d]
Previous error: %s

Output from the previous attempt may still exist in your workspace.

Original task:
%s`, attempt, lastError, original)
}
