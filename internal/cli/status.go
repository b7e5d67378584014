package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/orchestrator"
	"github.com/imkarma/taskpilot/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Quick status overview",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the raw state record")
}

func runStatus(cmd *cobra.Command, args []string) error {
	states := openStates()
	st, err := loadRun(states)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	printStatus(os.Stdout, st, states.Owner())
	return nil
}

func printStatus(w io.Writer, st *state.TaskState, owner *state.Lock) {
	fmt.Fprintf(w, "%sRun %s%s  %s%s%s", c(colorBold), st.RunID, c(colorReset),
		c(statusColor(st.Status)), st.Status, c(colorReset))
	if st.StatusReason != "" {
		fmt.Fprintf(w, " %s(%s)%s", c(colorDim), st.StatusReason, c(colorReset))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-14s %s\n", "goal:", st.Goal)

	done := st.CompletedTasks()
	fmt.Fprintf(w, "  %-14s %d/%d done", "tasks:", done, len(st.Plan))
	if len(st.Plan) > 0 && !st.AllGroupsDone() {
		if t, err := st.CurrentTask(); err == nil {
			fmt.Fprintf(w, ", current #%d %s", st.CurrentTaskIndex+1, truncate(t.Description, 50))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %-14s %d", "sessions:", st.SessionCount)
	if st.Options.MaxSessions != nil {
		fmt.Fprintf(w, "/%d", *st.Options.MaxSessions)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %-14s %d created, %d merged", "prs:", st.PRsCreated, st.PRsMerged)
	if st.Options.MaxPRs != nil {
		fmt.Fprintf(w, " (limit %d)", *st.Options.MaxPRs)
	}
	fmt.Fprintln(w)

	if pr := st.CurrentPR; pr != nil {
		fmt.Fprintf(w, "  %-14s %s#%d%s %s", "current pr:", c(colorMagenta), pr.Number, c(colorReset), pr.URL)
		if st.WorkflowStage != "" {
			fmt.Fprintf(w, " [%s]", st.WorkflowStage)
		}
		fmt.Fprintln(w)
		if st.PRStartTime != nil {
			fmt.Fprintf(w, "  %-14s %s active work\n", "", orchestrator.FormatDuration(st.PRActiveWorkSeconds))
		}
	}

	if st.LastError != nil {
		fmt.Fprintf(w, "  %-14s %s%s: %s%s\n", "last error:", c(colorRed), st.LastError.Type, st.LastError.Message, c(colorReset))
	}
	if owner != nil {
		fmt.Fprintf(w, "  %-14s PID %d on %s since %s\n", "running:", owner.PID, owner.Hostname, owner.StartedAt.Format("15:04:05"))
	}
}
