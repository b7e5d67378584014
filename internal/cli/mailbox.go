package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/mailbox"
	"github.com/imkarma/taskpilot/internal/store"
)

var mailboxCmd = &cobra.Command{
	Use:   "mailbox",
	Short: "Queue change requests for the running plan",
	Long: `Messages sent to the mailbox are folded into the plan after the current
task completes, as one new trailing group. Higher priorities come first.`,
}

var mailboxSendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "Queue a change request",
	Long: `Queue a change request. Use "-" to read the content from stdin.

Examples:
  taskpilot mailbox send "Also cover the empty-input case"
  taskpilot mailbox send --priority urgent --sender alice "Stop touching the migrations"
  git diff | taskpilot mailbox send -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMailboxSend,
}

var mailboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued change requests",
	Args:  cobra.NoArgs,
	RunE:  runMailboxList,
}

func init() {
	mailboxSendCmd.Flags().StringP("priority", "p", "normal", "low, normal, high or urgent")
	mailboxSendCmd.Flags().StringP("sender", "s", "", "who is asking (default anonymous)")
	mailboxSendCmd.Flags().StringToString("meta", nil, "metadata key=value pairs")
	mailboxListCmd.Flags().BoolP("all", "a", false, "include messages already merged")

	mailboxCmd.AddCommand(mailboxSendCmd)
	mailboxCmd.AddCommand(mailboxListCmd)
}

func runMailboxSend(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")
	if content == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(data)
	}

	prioFlag, _ := cmd.Flags().GetString("priority")
	prio, err := mailbox.ParsePriority(prioFlag)
	if err != nil {
		return err
	}
	sender, _ := cmd.Flags().GetString("sender")
	meta, _ := cmd.Flags().GetStringToString("meta")

	db, err := mustDB(openStates())
	if err != nil {
		return err
	}
	defer db.Close()

	msg, err := db.AddMessage(store.Message{
		Sender:   sender,
		Content:  strings.TrimSpace(content),
		Priority: int(prio),
		Metadata: meta,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s✓%s Queued %s (%s, from %s)\n",
		c(colorGreen), c(colorReset), msg.ID, prio, msg.Sender)
	return nil
}

func runMailboxList(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")

	db, err := mustDB(openStates())
	if err != nil {
		return err
	}
	defer db.Close()

	msgs, err := db.ListMessages(all)
	if err != nil {
		return err
	}
	printMessages(cmd.OutOrStdout(), msgs)
	return nil
}

func printMessages(w io.Writer, msgs []store.Message) {
	if len(msgs) == 0 {
		fmt.Fprintf(w, "%sMailbox is empty.%s\n", c(colorDim), c(colorReset))
		return
	}
	for _, m := range msgs {
		state := c(colorYellow) + "queued" + c(colorReset)
		if m.Consumed {
			state = c(colorDim) + "merged" + c(colorReset)
		}
		prio := mailbox.Priority(m.Priority)
		prioColor := ""
		if prio >= mailbox.PriorityHigh {
			prioColor = colorRed
		}
		fmt.Fprintf(w, "%s%s%s  %s  %s%-6s%s  %-12s %s\n",
			c(colorCyan), shortID(m.ID), c(colorReset),
			state,
			c(prioColor), prio, c(colorReset),
			truncate(m.Sender, 12),
			truncate(firstLine(m.Content), 60))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
