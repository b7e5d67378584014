package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/state"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the current run",
	Long: `Removes the run record, its documents and its events so a new run can
start. config.yaml, the run logs and queued mailbox messages are kept.
A run that could still be resumed is only removed with --force.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolP("force", "f", false, "remove a run that is still resumable")
}

func runClean(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	states := openStates()

	if owner := states.Owner(); owner != nil {
		return fmt.Errorf("run %s is active (PID %d). Run: taskpilot pause", owner.RunID, owner.PID)
	}

	st, err := states.Load()
	switch {
	case errors.Is(err, state.ErrNotFound):
		fmt.Printf("%sNothing to clean.%s\n", c(colorDim), c(colorReset))
		return nil
	case err != nil:
		var corrupt *state.CorruptError
		if !errors.As(err, &corrupt) || !force {
			return fmt.Errorf("%w (use --force to remove it anyway)", err)
		}
	case st.Status.Resumable() && !force:
		return fmt.Errorf("run %s is %s and can be resumed (use --force to remove it)", st.RunID, st.Status)
	}

	if st != nil {
		if db, err := mustDB(states); err == nil {
			n, err := db.DeleteEvents(st.RunID)
			db.Close()
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Printf("Removed %d events of run %s\n", n, st.RunID)
			}
		}
	}

	if err := states.Clear(); err != nil {
		return err
	}
	fmt.Printf("%s✓%s Cleaned %s/\n", c(colorGreen), c(colorReset), states.Dir())
	return nil
}
