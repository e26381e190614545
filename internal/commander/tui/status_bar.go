package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// StatusBar renders the language, last result, and running scripts counter.
type StatusBar struct {
	language    string
	result      string
	spinner     string
	running     int
	showCounter bool
}

func (s StatusBar) View(width int) string {
	left := "commander"
	if s.language != "" {
		left = fmt.Sprintf("commander | %s", s.language)
	}
	if s.spinner != "" {
		left += " " + s.spinner
	} else if s.result != "" {
		left += " | " + renderResult(s.result)
	}
	right := ""
	if s.showCounter {
		right = runningLabel(s.running)
	}
	padding := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}
	return statusStyle.Render(left + strings.Repeat(" ", padding) + right)
}

func runningLabel(n int) string {
	return fmt.Sprintf("%d running scripts", n)
}

func renderResult(result string) string {
	if result == "done" {
		return successStyle.Render(result)
	}
	return failureStyle.Render(result)
}
