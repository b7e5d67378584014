package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
	"github.com/imkarma/taskpilot/internal/workflow"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrBlue      = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	clrCyan      = lipgloss.AdaptiveColor{Light: "#0E7490", Dark: "#22D3EE"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

// --- Styles ---
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle   = lipgloss.NewStyle().Foreground(clrDim)
	boldStyle  = lipgloss.NewStyle().Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1)

	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrHighlight).
			Padding(1, 2).
			Width(60)

	statusStyle = lipgloss.NewStyle().Foreground(clrGreen).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(clrRed).Bold(true)

	footerKeyStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	footerDescStyle = lipgloss.NewStyle().Foreground(clrSubtle)
)

var statusColors = map[workflow.Status]lipgloss.AdaptiveColor{
	workflow.StatusPlanning: clrCyan,
	workflow.StatusWorking:  clrBlue,
	workflow.StatusPaused:   clrYellow,
	workflow.StatusBlocked:  clrRed,
	workflow.StatusSuccess:  clrGreen,
	workflow.StatusFailed:   clrRed,
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.header() + "\n\n")

	switch {
	case m.loadErr != nil:
		b.WriteString(errorStyle.Render("  Cannot read run state: "+m.loadErr.Error()) + "\n")
	case m.st == nil:
		b.WriteString(dimStyle.Render("  Loading...") + "\n")
	default:
		switch m.screen {
		case screenOverview:
			b.WriteString(m.viewOverview())
		case screenProgress, screenEvents:
			b.WriteString(m.viewport.View() + "\n")
		}
	}

	if m.composing {
		b.WriteString("\n" + m.viewCompose() + "\n")
	}

	if m.statusMsg != "" {
		b.WriteString("\n")
		if strings.HasPrefix(strings.ToLower(m.statusMsg), "failed") || strings.HasPrefix(strings.ToLower(m.statusMsg), "watcher error") {
			b.WriteString(errorStyle.Render("  " + m.statusMsg))
		} else {
			b.WriteString(statusStyle.Render("  " + m.statusMsg))
		}
	}

	b.WriteString("\n")
	b.WriteString(renderFooter([]struct{ key, desc string }{
		{"tab", "switch"},
		{"1/2/3", "overview/progress/events"},
		{"m", "mailbox"},
		{"r", "refresh"},
		{"q", "quit"},
	}))
	return b.String()
}

func (m Model) header() string {
	header := titleStyle.Render("taskpilot watch")
	if m.st != nil {
		header += dimStyle.Render(" — run " + m.st.RunID)
	}
	tabs := []string{"overview", "progress", "events"}
	var parts []string
	for i, name := range tabs {
		if screen(i) == m.screen {
			parts = append(parts, footerKeyStyle.Render(name))
		} else {
			parts = append(parts, footerDescStyle.Render(name))
		}
	}
	right := strings.Join(parts, "  ")
	if m.width > 0 {
		pad := m.width - lipgloss.Width(header) - lipgloss.Width(right)
		if pad > 0 {
			return header + strings.Repeat(" ", pad) + right
		}
	}
	return header + "  " + right
}

func (m Model) viewOverview() string {
	st := m.st
	var b strings.Builder

	badge := lipgloss.NewStyle().Bold(true).Foreground(statusColors[st.Status]).Render(strings.ToUpper(string(st.Status)))
	b.WriteString("  " + badge)
	if st.StatusReason != "" {
		b.WriteString(dimStyle.Render("  " + st.StatusReason))
	}
	b.WriteString("\n")
	if m.owner != nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  running in pid %d on %s", m.owner.PID, m.owner.Hostname)) + "\n")
	}
	b.WriteString("\n")

	b.WriteString("  " + boldStyle.Render("Goal") + "  " + truncate(st.Goal, m.lineWidth()-8) + "\n")
	b.WriteString("  " + boldStyle.Render("Tasks") + " " + progressBar(st.CompletedTasks(), len(st.Plan), 24) +
		fmt.Sprintf(" %d/%d", st.CompletedTasks(), len(st.Plan)) + "\n")
	b.WriteString("  " + dimStyle.Render(sessionLine(st)) + "\n")
	if st.LastError != nil {
		b.WriteString("  " + errorStyle.Render(st.LastError.Type+": ") + truncate(st.LastError.Message, m.lineWidth()-12) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(panelStyle.Render(m.renderGroups()) + "\n")
	if st.CurrentPR != nil {
		b.WriteString(panelStyle.Render(renderPR(st.CurrentPR, st.WorkflowStage)) + "\n")
	}
	return b.String()
}

func (m Model) renderGroups() string {
	st := m.st
	if len(st.Plan) == 0 {
		return dimStyle.Render("Not planned yet")
	}

	current := -1
	if st.CurrentTaskIndex >= 0 && st.CurrentTaskIndex < len(st.Plan) {
		current = st.Plan[st.CurrentTaskIndex].Group
	}

	var lines []string
	for g, group := range st.Groups {
		var dot string
		switch {
		case group.Done:
			dot = lipgloss.NewStyle().Foreground(clrGreen).Render("●")
		case g == current:
			dot = lipgloss.NewStyle().Foreground(clrBlue).Render("◉")
		default:
			dot = dimStyle.Render("○")
		}
		line := fmt.Sprintf("%s PR %d: %s", dot, g+1, truncate(group.Title, m.lineWidth()-16))
		if group.PRNumber > 0 {
			line += dimStyle.Render(fmt.Sprintf(" (#%d)", group.PRNumber))
		}
		lines = append(lines, line)

		if g != current {
			continue
		}
		for _, i := range st.GroupTasks(g) {
			t := st.Plan[i]
			box := "[ ]"
			style := lipgloss.NewStyle()
			switch {
			case t.Done:
				box = "[x]"
				style = dimStyle
			case i == st.CurrentTaskIndex:
				style = lipgloss.NewStyle().Foreground(clrBlue)
			}
			lines = append(lines, style.Render(fmt.Sprintf("    %s %s", box, truncate(firstLine(t.Description), m.lineWidth()-14))))
		}
	}
	return strings.Join(lines, "\n")
}

func renderPR(pr *state.PRHandle, stage state.Stage) string {
	var b strings.Builder
	b.WriteString(boldStyle.Render(fmt.Sprintf("PR #%d", pr.Number)))
	if pr.URL != "" {
		b.WriteString(dimStyle.Render("  " + pr.URL))
	}
	b.WriteString("\n" + dimStyle.Render("stage: "+string(stage)))
	if pr.Status == nil {
		return b.String()
	}

	ciColor := clrYellow
	switch pr.Status.CI {
	case state.CISuccess:
		ciColor = clrGreen
	case state.CIFailure, state.CIError:
		ciColor = clrRed
	}
	b.WriteString("\nCI: " + lipgloss.NewStyle().Foreground(ciColor).Render(string(pr.Status.CI)))
	if pr.Status.UnresolvedThreads > 0 {
		b.WriteString(fmt.Sprintf("  unresolved threads: %d", pr.Status.UnresolvedThreads))
	}
	for _, c := range pr.Status.Checks {
		mark := dimStyle.Render("·")
		switch strings.ToUpper(c.Conclusion) {
		case "SUCCESS":
			mark = lipgloss.NewStyle().Foreground(clrGreen).Render("✓")
		case "FAILURE", "ERROR":
			mark = lipgloss.NewStyle().Foreground(clrRed).Render("✗")
		}
		b.WriteString("\n  " + mark + " " + c.Name)
	}
	return b.String()
}

func renderEvents(events []store.Event) string {
	if len(events) == 0 {
		return "No events yet."
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "%s  %-18s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Type, e.Payload)
	}
	return b.String()
}

func (m Model) viewCompose() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Send change request") + "\n\n")
	b.WriteString(m.input.View() + "\n\n")
	b.WriteString(footerKeyStyle.Render("enter") + footerDescStyle.Render(" send  ") +
		footerKeyStyle.Render("esc") + footerDescStyle.Render(" cancel"))
	return popupStyle.Render(b.String())
}

func sessionLine(st *state.TaskState) string {
	s := fmt.Sprintf("sessions %d", st.SessionCount)
	if st.Options.MaxSessions != nil {
		s += fmt.Sprintf("/%d", *st.Options.MaxSessions)
	}
	s += fmt.Sprintf("  PRs %d created, %d merged", st.PRsCreated, st.PRsMerged)
	if st.Options.MaxPRs != nil {
		s += fmt.Sprintf(" (max %d)", *st.Options.MaxPRs)
	}
	return s
}

func progressBar(done, total, width int) string {
	if total <= 0 {
		return dimStyle.Render(strings.Repeat("░", width))
	}
	filled := done * width / total
	return lipgloss.NewStyle().Foreground(clrGreen).Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", width-filled))
}

func (m Model) lineWidth() int {
	if m.width > 0 {
		return m.width
	}
	return 80
}

func renderFooter(keys []struct{ key, desc string }) string {
	var parts []string
	for _, k := range keys {
		key := footerKeyStyle.Render(k.key)
		desc := footerDescStyle.Render(k.desc)
		parts = append(parts, key+" "+desc)
	}
	return "  " + strings.Join(parts, "  ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
