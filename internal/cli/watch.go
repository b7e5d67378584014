package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/imkarma/taskpilot/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live dashboard",
	Long:  "Opens an interactive dashboard of the run: status, groups, PR, progress and events. Press m to queue a change request.",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isTTY(os.Stdout) || !isTTY(os.Stdin) {
		return fmt.Errorf("watch needs an interactive terminal; use: taskpilot status")
	}

	states := openStates()
	if _, err := os.Stat(states.Dir()); err != nil {
		return fmt.Errorf("taskpilot not initialized. Run: taskpilot init")
	}

	var db tui.Database
	if s, err := mustDB(states); err == nil {
		defer s.Close()
		db = s
	}

	// Without a watcher the dashboard refreshes on its timer.
	watcher, err := tui.NewWatcher(states.Dir())
	if err == nil {
		defer watcher.Close()
	}

	p := tea.NewProgram(tui.New(states, db, watcher), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
