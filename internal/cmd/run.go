package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/casewise/ccc/internal/logging"
	"github.com/casewise/ccc/internal/orchestrator"
	"github.com/casewise/ccc/internal/workflow"
)

var (
	runParallel    bool
	runSequential  bool
	runConsolidate string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow of worker sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := workflow.Load(args[0])
		if err != nil {
			return err
		}
		if runParallel {
			spec.Parallel = true
		}
		if runSequential {
			spec.Parallel = false
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var logger *logging.Logger
		if cfg.Logging.Enabled {
			logger, err = logging.NewLogger(workspaceRoot, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer logger.Close()
		}

		orch, err := orchestrator.New(workspaceRoot, cfg, nil, logger)
		if err != nil {
			return err
		}
		defer orch.Shutdown(false)

		result, err := orch.ExecuteWorkflow(spec)
		if err != nil {
			return err
		}
		printResult(cmd, result)

		if runConsolidate != "" {
			ids := successfulSessions(result)
			cons, err := orch.ConsolidateResults(ids, runConsolidate)
			if err != nil {
				return err
			}
			cmd.Printf("consolidated %d sessions into %s\n", len(cons.Copied), cons.Dir)
			for _, msg := range cons.Errors {
				cmd.Printf("  warning: %s\n", msg)
			}
		}

		if !result.Success {
			return fmt.Errorf("workflow %s failed", result.Workflow)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "force parallel execution")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "force sequential execution")
	runCmd.Flags().StringVar(&runConsolidate, "consolidate", "",
		"directory to gather session outputs into after the run")
	rootCmd.AddCommand(runCmd)
}

func printResult(cmd *cobra.Command, result *orchestrator.WorkflowResult) {
	names := make([]string, 0, len(result.Tasks))
	for name := range result.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	cmd.Printf("workflow %s: success=%v in %s\n",
		result.Workflow, result.Success, result.Duration.Round(10*time.Millisecond))
	for _, name := range names {
		tr := result.Tasks[name]
		line := fmt.Sprintf("  %-20s %-10s", name, tr.Status)
		if tr.SessionID != "" {
			line += " " + tr.SessionID
		}
		if tr.Error != "" {
			line += " (" + tr.Error + ")"
		}
		cmd.Println(line)
	}
}

func successfulSessions(result *orchestrator.WorkflowResult) []string {
	var ids []string
	for _, tr := range result.Tasks {
		if tr.Success && tr.SessionID != "" {
			ids = append(ids, tr.SessionID)
		}
	}
	sort.Strings(ids)
	return ids
}
