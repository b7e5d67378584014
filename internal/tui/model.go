// Package tui is the live dashboard of a run (taskpilot watch).
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/imkarma/taskpilot/internal/mailbox"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
)

// screen is which page the dashboard shows.
type screen int

const (
	screenOverview screen = iota // status, groups, current PR
	screenProgress               // progress.md
	screenEvents                 // lifecycle events
)

// Database is what the dashboard reads events from and posts mailbox
// messages to. *store.Store satisfies it.
type Database interface {
	ListEvents(runID string, limit int) ([]store.Event, error)
	AddMessage(m store.Message) (*store.Message, error)
}

const eventLimit = 200

// Model is the top-level bubbletea model.
type Model struct {
	states  *state.Store
	db      Database
	watcher *fsnotify.Watcher
	width   int
	height  int

	screen screen

	// Last loaded run.
	st       *state.TaskState
	loadErr  error
	progress string
	events   []store.Event
	owner    *state.Lock
	loadedAt time.Time

	viewport viewport.Model

	// Mailbox compose popup.
	composing bool
	input     textinput.Model

	// Status message at the bottom.
	statusMsg  string
	statusTime time.Time

	quitting bool
}

// New creates the dashboard. db and watcher may be nil; without a watcher
// the dashboard refreshes on a timer only.
func New(states *state.Store, db Database, watcher *fsnotify.Watcher) Model {
	in := textinput.New()
	in.Placeholder = "Change request for the running plan..."
	in.CharLimit = 2000
	in.Width = 60

	return Model{
		states:   states,
		db:       db,
		watcher:  watcher,
		screen:   screenOverview,
		viewport: viewport.New(80, 20),
		input:    in,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.load(), tickCmd()}
	if m.watcher != nil {
		cmds = append(cmds, waitForChange(m.watcher))
	}
	return tea.Batch(cmds...)
}

type stateLoadedMsg struct {
	st       *state.TaskState
	err      error
	progress string
	events   []store.Event
	owner    *state.Lock
}

type messageSentMsg struct {
	msg *store.Message
	err error
}

type tickMsg time.Time

const refreshInterval = 3 * time.Second

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) load() tea.Cmd {
	return func() tea.Msg {
		st, err := m.states.Load()
		if err != nil {
			return stateLoadedMsg{err: err}
		}
		msg := stateLoadedMsg{st: st, owner: m.states.Owner()}
		msg.progress, _ = m.states.ReadProgress(st.RunID)
		if m.db != nil {
			msg.events, _ = m.db.ListEvents(st.RunID, eventLimit)
		}
		return msg
	}
}

func (m Model) send(content string) tea.Cmd {
	return func() tea.Msg {
		if m.db == nil {
			return messageSentMsg{err: errNoMailbox}
		}
		msg, err := m.db.AddMessage(store.Message{Content: content, Sender: "watch", Priority: int(mailbox.PriorityNormal)})
		return messageSentMsg{msg: msg, err: err}
	}
}

func (m *Model) setStatus(s string) {
	m.statusMsg = s
	m.statusTime = time.Now()
}
