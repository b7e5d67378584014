package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/logging"
	"github.com/imkarma/taskpilot/internal/store"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the lifecycle events of a run",
	Long: `Shows the events recorded for the current run (the same events sent to
webhooks). With --raw, prints the JSON run log instead.`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	logCmd.Flags().String("run", "", "run ID (default: the current run)")
	logCmd.Flags().IntP("limit", "n", 50, "show only the last N events (0 = all)")
	logCmd.Flags().Bool("raw", false, "print the structured run log file")
}

func runLog(cmd *cobra.Command, args []string) error {
	states := openStates()
	runID, _ := cmd.Flags().GetString("run")
	if runID == "" {
		st, err := loadRun(states)
		if err != nil {
			return err
		}
		runID = st.RunID
	}

	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		f, err := os.Open(logging.RunLogPath(states.Dir(), runID))
		if err != nil {
			return fmt.Errorf("open run log: %w", err)
		}
		defer f.Close()
		_, err = io.Copy(cmd.OutOrStdout(), f)
		return err
	}

	db, err := mustDB(states)
	if err != nil {
		return err
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	events, err := db.ListEvents(runID, limit)
	if err != nil {
		return err
	}
	printEvents(cmd.OutOrStdout(), events)
	return nil
}

// Payload keys already shown as columns.
var eventHeaderKeys = map[string]bool{
	"event_id": true, "event_type": true, "timestamp": true, "run_id": true,
}

func printEvents(w io.Writer, events []store.Event) {
	if len(events) == 0 {
		fmt.Fprintf(w, "%sNo events recorded.%s\n", c(colorDim), c(colorReset))
		return
	}
	for _, e := range events {
		fmt.Fprintf(w, "%s%s%s  %s%-18s%s %s\n",
			c(colorDim), e.Timestamp.Local().Format("2006-01-02 15:04:05"), c(colorReset),
			c(eventColor(e.Type)), e.Type, c(colorReset),
			summarizePayload(e.Payload))
	}
}

func eventColor(typ string) string {
	switch {
	case strings.HasSuffix(typ, ".failed"):
		return colorRed
	case strings.HasSuffix(typ, ".completed"), strings.HasSuffix(typ, ".merged"), strings.HasSuffix(typ, ".passed"):
		return colorGreen
	case strings.HasPrefix(typ, "pr."):
		return colorMagenta
	default:
		return colorBlue
	}
}

// summarizePayload renders the data fields of an event as sorted key=value pairs.
func summarizePayload(payload string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return payload
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		if !eventHeaderKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(data[k])
		if s, ok := data[k].(string); ok {
			v = truncate(firstLine(s), 40)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
