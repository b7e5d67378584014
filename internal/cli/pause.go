package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Ask the running taskpilot to pause",
	Long: `Sends an interrupt to the process holding the run lock. The run saves its
state as paused with the current task unchanged; continue with resume.`,
	Args: cobra.NoArgs,
	RunE: runPause,
}

func runPause(cmd *cobra.Command, args []string) error {
	owner := openStates().Owner()
	if owner == nil {
		return fmt.Errorf("no taskpilot process is running here")
	}
	if err := owner.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("signal PID %d: %w", owner.PID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent interrupt to run %s (PID %d). It will pause after saving its state.\n", owner.RunID, owner.PID)
	return nil
}
