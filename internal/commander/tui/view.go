package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View composes the output log, hint bar, and status bar.
func (m Model) View() string {
	if !m.ready || m.feed == nil {
		return "Initializing..."
	}
	status := m.statusBar
	status.spinner = ""
	if m.running {
		status.spinner = m.spinner.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.feed.View(), m.renderHintBar(), status.View(m.width))
}

func (m Model) renderOutput() string {
	lines := m.backend.Output().Lines()
	if len(lines) == 0 {
		return welcomeStyle.Width(m.width).Render("No output yet.")
	}
	return outputStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderHintBar() string {
	if m.notice != "" {
		return hintBarStyle.Width(m.width).Render(noticeStyle.Render(m.notice))
	}
	keys := []string{"r re-run", "s stop all", "c clear"}
	if m.backend.CurrentSettings().EnableCopyButton {
		keys = append(keys, "y copy")
	}
	keys = append(keys, "q quit")
	hint := strings.Join(keys, " | ")
	if m.running {
		hint = dimStyle.Render(strings.Replace(hint, "r re-run", "running...", 1))
	} else {
		hint = dimStyle.Render(hint)
	}
	return hintBarStyle.Width(m.width).Render(hint)
}
