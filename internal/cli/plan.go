package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/state"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the plan of the current run",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show the progress journal of the current run",
	Args:  cobra.NoArgs,
	RunE:  runProgress,
}

func init() {
	progressCmd.Flags().Bool("context", false, "show the agent notes (context.md) instead")
}

func runPlan(cmd *cobra.Command, args []string) error {
	states := openStates()
	st, err := loadRun(states)
	if err != nil {
		return err
	}
	if len(st.Plan) == 0 {
		fmt.Printf("%sNo plan yet.%s The run is %s.\n", c(colorDim), c(colorReset), st.Status)
		return nil
	}

	doc, err := states.ReadPlan(st.RunID)
	if err != nil || strings.TrimSpace(doc) == "" {
		doc = state.RenderPlan(st)
	}
	fmt.Print(doc)
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	states := openStates()
	st, err := loadRun(states)
	if err != nil {
		return err
	}

	read, name := states.ReadProgress, "progress"
	if showContext, _ := cmd.Flags().GetBool("context"); showContext {
		read, name = states.ReadContext, "context notes"
	}
	doc, err := read(st.RunID)
	if err != nil || strings.TrimSpace(doc) == "" {
		fmt.Printf("%sNo %s recorded yet.%s\n", c(colorDim), name, c(colorReset))
		return nil
	}
	fmt.Print(doc)
	return nil
}
