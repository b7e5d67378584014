package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/mailbox"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [message]",
	Short: "Resume the run in this directory",
	Long: `Reconciles the saved run with the hosting provider (a PR merged or closed
while taskpilot was stopped) and continues from the saved task.

A message is queued as a high-priority change request and folded into the
plan after the current task.

Examples:
  taskpilot resume
  taskpilot resume "Use the v2 endpoint, v1 is deprecated"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	states := openStates()
	st, err := loadRun(states)
	if err != nil {
		return err
	}
	if err := state.ValidateForResume(st); err != nil {
		return err
	}

	if len(args) == 1 {
		msg, err := queueResumeMessage(states, st, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s✓%s Queued %s (%s, from %s)\n", c(colorGreen), c(colorReset),
			msg.ID, mailbox.Priority(msg.Priority), msg.Sender)
	}

	done := st.CompletedTasks()
	fmt.Printf("%sResuming run %s%s (%s, %d/%d tasks done, %d sessions used)\n\n",
		c(colorBold), st.RunID, c(colorReset), st.Status, done, len(st.Plan), st.SessionCount)

	return drive(cmd.Context(), states, st, true)
}

// queueResumeMessage adds content to the mailbox of st as a high-priority
// change request.
func queueResumeMessage(states *state.Store, st *state.TaskState, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("resume message is empty")
	}
	if !st.MailboxEnabled {
		return nil, fmt.Errorf("run %s was started with --no-mailbox, so a resume message would never be merged", st.RunID)
	}

	db, err := store.New(states.Path(dbFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return db.AddMessage(store.Message{
		Sender:   "resume",
		Content:  content,
		Priority: int(mailbox.PriorityHigh),
		Metadata: map[string]string{"run_id": st.RunID},
	})
}
