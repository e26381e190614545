package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/commander/framework"
	"github.com/lexcodex/commander/persistence"
)

type outputMsg struct {
	event framework.OutputEvent
}

type noticeMsg struct {
	text string
}

type runDoneMsg struct {
	record persistence.RunRecord
	err    error
}

// Init fulfills the Bubble Tea Model interface.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		listenOutput(m.events),
		listenNotices(m.notices),
	}
	if !m.job.Empty() {
		cmds = append(cmds, func() tea.Msg { return rerunMsg{} })
	}
	return tea.Batch(cmds...)
}

type rerunMsg struct{}

// Update applies incoming Bubble Tea messages to mutate the Model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)
	case tea.KeyMsg:
		return m.handleKey(msg)
	case rerunMsg:
		return m.startRun()
	case outputMsg:
		m = m.refreshFeed()
		return m, listenOutput(m.events)
	case noticeMsg:
		m = m.setNotice(msg.text)
		return m, listenNotices(m.notices)
	case runDoneMsg:
		m.running = false
		m.lastResult = summarizeRun(msg.record, msg.err)
		m = m.refreshStatus()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m = m.refreshStatus()
		if m.notice != "" && time.Since(m.noticeAt) > noticeTTL {
			m.notice = ""
		}
		return m, cmd
	}
	return m, nil
}

// handleResize adjusts the feed layout on terminal resize events.
func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	statusBarHeight := 1
	hintBarHeight := 1
	feedHeight := max(1, msg.Height-statusBarHeight-hintBarHeight)

	if !m.ready {
		v := viewport.New(msg.Width, feedHeight)
		m.feed = &v
		m.ready = true
	} else {
		m.feed.Width = msg.Width
		m.feed.Height = feedHeight
	}
	m = m.refreshFeed()
	m.feed.GotoBottom()
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "r":
		return m.startRun()
	case "s":
		m.backend.StopAll()
		m = m.refreshStatus()
		return m, nil
	case "c", "ctrl+l":
		m.backend.Output().Clear()
		return m, nil
	case "y":
		return m.copyOutput(), nil
	case "up", "down", "pgup", "pgdown", "home", "end":
		if m.feed == nil {
			return m, nil
		}
		var cmd tea.Cmd
		*m.feed, cmd = m.feed.Update(msg)
		return m, cmd
	}
	return m, nil
}

func listenOutput(ch <-chan framework.OutputEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return nil
		}
		return outputMsg{event: evt}
	}
}

func listenNotices(ch <-chan string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		text, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg{text: text}
	}
}
