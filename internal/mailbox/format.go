package mailbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/imkarma/taskpilot/internal/store"
)

// FormatMerged turns ordered messages into a single change request text.
// A single message keeps its content as is; several are consolidated under
// a numbered list.
func FormatMerged(msgs []store.Message, now time.Time) string {
	switch len(msgs) {
	case 0:
		return ""
	case 1:
		m := msgs[0]
		if m.Sender == "" || m.Sender == store.DefaultSender {
			return m.Content
		}
		return fmt.Sprintf("%s\n\n---\n*From: %s*", m.Content, m.Sender)
	}

	var b strings.Builder
	b.WriteString("## Consolidated Change Requests\n\n")
	fmt.Fprintf(&b, "%d messages\n", len(msgs))
	fmt.Fprintf(&b, "Processed at: %s\n", now.UTC().Format(time.RFC3339))
	for i, m := range msgs {
		b.WriteString("\n---\n\n")
		fmt.Fprintf(&b, "### Request %d%s\n", i+1, Priority(m.Priority).label())
		if m.Sender != "" && m.Sender != store.DefaultSender {
			fmt.Fprintf(&b, "*From: %s*\n", m.Sender)
		}
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(m.Content))
	}
	b.WriteString("\n---\n\n")
	fmt.Fprintf(&b, "Please address ALL %d change requests.", len(msgs))
	return b.String()
}
