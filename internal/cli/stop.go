package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the running taskpilot to stop",
	Long: `Sends SIGTERM to the process holding the run lock. The run saves its state
as blocked with reason "stopped" and the current task unchanged. Unlike
pause, a stopped run is not picked up again until someone resumes it.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	owner := openStates().Owner()
	if owner == nil {
		return fmt.Errorf("no taskpilot process is running here")
	}
	if err := owner.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal PID %d: %w", owner.PID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent stop to run %s (PID %d). It will block after saving its state.\n", owner.RunID, owner.PID)
	return nil
}

// SignalCause is the cancel cause for a run ended by sig. SIGTERM stops
// the run; any other signal pauses it.
func SignalCause(sig os.Signal) error {
	if sig == syscall.SIGTERM {
		return orchestrator.ErrStopRequested
	}
	return context.Canceled
}
