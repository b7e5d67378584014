package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/imkarma/taskpilot/internal/state"
)

var startCmd = &cobra.Command{
	Use:   "start <goal>",
	Short: "Start a new run toward a goal",
	Long: `Plans the goal into PR-sized groups and works through them.

Examples:
  taskpilot start "Add rate limiting to the API" --criteria "go test ./... passes"
  taskpilot start "Migrate config to YAML" --max-sessions 10 --no-auto-merge`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func init() {
	addStartFlags(startCmd.Flags())
}

func addStartFlags(f *pflag.FlagSet) {
	f.StringArray("criteria", nil, "overall success criterion (repeatable)")
	f.Int("max-sessions", 0, "stop after this many agent sessions (0 = unlimited)")
	f.Int("max-prs", 0, "stop after creating this many PRs (0 = unlimited)")
	f.Bool("no-auto-merge", false, "wait for a human to merge each green PR")
	f.Bool("pause-on-pr", false, "pause right after each PR is opened")
	f.Bool("pr-per-task", false, "open one PR per task instead of per group")
	f.Bool("no-mailbox", false, "ignore mailbox change requests during this run")
	f.String("webhook", "", "extra webhook URL for lifecycle events")
}

func runStart(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(strings.Join(args, " "))
	if goal == "" {
		return fmt.Errorf("goal is empty")
	}

	opts, err := startOptions(cmd)
	if err != nil {
		return err
	}
	criteria, _ := cmd.Flags().GetStringArray("criteria")
	noMailbox, _ := cmd.Flags().GetBool("no-mailbox")

	states := openStates()
	if states.Exists() {
		st, err := states.Load()
		if err == nil && st.Status.Resumable() {
			return fmt.Errorf("run %s is %s. Run: taskpilot resume (or taskpilot clean)", st.RunID, st.Status)
		}
		return fmt.Errorf("a previous run exists in %s. Run: taskpilot clean", states.Dir())
	}
	if _, err := ensureStateDir(states); err != nil {
		return err
	}

	st := state.New(goal, criteria, opts, time.Now())
	st.MailboxEnabled = !noMailbox
	if err := states.Initialize(st); err != nil {
		return err
	}

	fmt.Printf("%sStarting run %s%s\n", c(colorBold), st.RunID, c(colorReset))
	fmt.Printf("  Goal: %s\n", goal)
	for _, cr := range criteria {
		fmt.Printf("  %s✓%s %s\n", c(colorDim), c(colorReset), cr)
	}
	fmt.Println()

	return drive(cmd.Context(), states, st, false)
}

func startOptions(cmd *cobra.Command) (state.Options, error) {
	opts := state.DefaultOptions()
	f := cmd.Flags()

	maxSessions, _ := f.GetInt("max-sessions")
	maxPRs, _ := f.GetInt("max-prs")
	if maxSessions < 0 || maxPRs < 0 {
		return opts, fmt.Errorf("limits must not be negative")
	}
	if maxSessions > 0 {
		opts.MaxSessions = &maxSessions
	}
	if maxPRs > 0 {
		opts.MaxPRs = &maxPRs
	}

	noAutoMerge, _ := f.GetBool("no-auto-merge")
	opts.AutoMerge = !noAutoMerge
	opts.PauseOnPR, _ = f.GetBool("pause-on-pr")
	opts.PRPerTask, _ = f.GetBool("pr-per-task")
	opts.WebhookURL, _ = f.GetString("webhook")
	opts.LogLevel = viperLogLevel()
	return opts, nil
}
