package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casewise/ccc/internal/config"
	"github.com/casewise/ccc/internal/orchestrator"
	"github.com/casewise/ccc/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted orchestrator status for a workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := orchestrator.LoadState(config.StateFile(workspaceRoot),
			cfg.Orchestrator.MaxNotifications, cfg.Orchestrator.MaxEvents)
		if errors.Is(err, os.ErrNotExist) {
			cmd.Println("no orchestrator state in this workspace")
			return nil
		}
		if err != nil {
			return err
		}

		cmd.Print(st.Summary())
		if len(st.Notifications) > 0 {
			cmd.Println("recent notifications:")
			for _, n := range tail(st.Notifications, 10) {
				cmd.Printf("  [%s] %s %s\n", n.Level, n.Time.Format("15:04:05"), n.Message)
			}
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions discovered under the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, err := session.Discover(config.SessionsDir(workspaceRoot))
		if err != nil {
			return err
		}
		if len(states) == 0 {
			cmd.Println("no sessions")
			return nil
		}
		for _, st := range states {
			line := fmt.Sprintf("%-30s %-11s %s", st.SessionID, st.Status, st.TaskName)
			if st.LastError != "" {
				line += " (" + st.LastError + ")"
			}
			cmd.Println(line)
		}
		return nil
	},
}

func tail[T any](list []T, n int) []T {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
}
