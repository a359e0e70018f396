// Package cmd implements the ccc command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casewise/ccc/internal/config"
)

var workspaceRoot string

var rootCmd = &cobra.Command{
	Use:   "ccc",
	Short: "Casewise coordination: multi-session worker orchestrator",
	Long: `ccc runs coding tasks as supervised worker sessions, each in its own
workspace, and orchestrates whole workflows of dependent tasks: planning
execution phases, running independent tasks in parallel, retrying failures,
and consolidating the results.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", ".",
		"workspace root holding sessions and state")
}

func initConfig() {
	if err := config.Init(workspaceRoot); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}
