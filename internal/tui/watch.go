package tui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

var errNoMailbox = errors.New("mailbox database not available")

// fileChangedMsg reports a write inside the state directory.
type fileChangedMsg struct{ name string }

// watchErrMsg carries a watcher failure; the dashboard falls back to the
// refresh timer.
type watchErrMsg struct{ err error }

// NewWatcher watches the state directory for writes.
func NewWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// waitForChange blocks until the watcher reports a relevant change.
func waitForChange(w *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					return fileChangedMsg{name: ev.Name}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}
