package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/casewise/ccc/internal/taskgraph"
	"github.com/casewise/ccc/internal/workflow"
)

var planCmd = &cobra.Command{
	Use:   "plan <workflow.yaml>",
	Short: "Show the execution plan for a workflow without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := workflow.Load(args[0])
		if err != nil {
			return err
		}
		plan, err := taskgraph.Analyze(spec.Definitions())
		if err != nil {
			return err
		}

		cmd.Printf("workflow %s: %d tasks, %d phases\n", spec.Name, len(spec.Tasks), len(plan.Phases))
		for i, phase := range plan.Phases {
			cmd.Printf("  phase %d: %s\n", i+1, strings.Join(phase, ", "))
		}
		if len(plan.CriticalPath) > 0 {
			cmd.Printf("critical path: %s\n", strings.Join(plan.CriticalPath, " -> "))
		}
		est := plan.Estimate
		cmd.Printf("estimate: %dm sequential, %dm parallel (saves %dm, %.1fx)\n",
			est.SequentialMinutes, est.ParallelMinutes, est.SavedMinutes, est.SpeedupFactor)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
