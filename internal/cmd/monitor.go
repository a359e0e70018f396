package cmd

import (
	"github.com/spf13/cobra"

	"github.com/casewise/ccc/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal view of sessions in the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(workspaceRoot)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
