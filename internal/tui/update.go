package tui

import (
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.composing {
			return m.handleComposeKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vw := m.width - 4
		vh := m.height - 6
		if vw < 20 {
			vw = 20
		}
		if vh < 6 {
			vh = 6
		}
		m.viewport.Width = vw
		m.viewport.Height = vh
		m.syncViewport()
		return m, nil

	case stateLoadedMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.st = msg.st
			m.progress = msg.progress
			m.events = msg.events
			m.owner = msg.owner
			m.loadedAt = time.Now()
			m.syncViewport()
		}
		return m, nil

	case fileChangedMsg:
		var cmds []tea.Cmd
		if m.watcher != nil {
			cmds = append(cmds, waitForChange(m.watcher))
		}
		switch filepath.Base(msg.name) {
		case "state.json", "taskpilot.db", "taskpilot.db-wal":
			cmds = append(cmds, m.load())
		}
		return m, tea.Batch(cmds...)

	case watchErrMsg:
		m.setStatus("Watcher error: " + msg.err.Error())
		return m, nil

	case messageSentMsg:
		if msg.err != nil {
			m.setStatus("Failed to send: " + msg.err.Error())
			return m, nil
		}
		m.setStatus("Queued change request " + shortID(msg.msg.ID))
		return m, m.load()

	case tickMsg:
		if m.statusMsg != "" && time.Since(m.statusTime) > 5*time.Second {
			m.statusMsg = ""
		}
		return m, tea.Batch(tickCmd(), m.load())
	}

	if m.screen != screenOverview {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "tab":
		m.screen = (m.screen + 1) % 3
		m.syncViewport()
		return m, nil
	case "1":
		m.screen = screenOverview
		return m, nil
	case "2":
		m.screen = screenProgress
		m.syncViewport()
		return m, nil
	case "3":
		m.screen = screenEvents
		m.syncViewport()
		return m, nil
	case "r":
		return m, m.load()
	case "m":
		m.composing = true
		m.input.Reset()
		cmd := m.input.Focus()
		return m, cmd
	}

	if m.screen != screenOverview {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.composing = false
		m.input.Blur()
		return m, nil
	case "enter":
		content := strings.TrimSpace(m.input.Value())
		m.composing = false
		m.input.Blur()
		if content == "" {
			return m, nil
		}
		return m, m.send(content)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// syncViewport loads the scrollable content of the current screen.
func (m *Model) syncViewport() {
	switch m.screen {
	case screenProgress:
		m.viewport.SetContent(m.progress)
	case screenEvents:
		m.viewport.SetContent(renderEvents(m.events))
		m.viewport.GotoBottom()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
