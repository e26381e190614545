package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/commander/framework"
	"github.com/lexcodex/commander/persistence"
)

// Backend is the part of the runtime the output panel drives.
type Backend interface {
	Run(ctx context.Context, language string, content ...string) (persistence.RunRecord, error)
	StopAll() int
	Running() int
	Output() *framework.OutputBuffer
	AddNotifier(n framework.Notifier) func()
	CurrentSettings() framework.Settings
}

// Job is the snippet the panel runs on start and re-runs on demand.
type Job struct {
	Language string
	Content  string
}

// Empty reports whether there is nothing to run.
func (j Job) Empty() bool {
	return j.Language == ""
}

// Run opens the output panel until the user quits.
func Run(ctx context.Context, backend Backend, job Job) error {
	if backend == nil {
		return fmt.Errorf("backend is required")
	}
	model := NewModel(ctx, backend, job)
	defer model.Close()
	program := tea.NewProgram(
		model,
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	_, err := program.Run()
	return err
}

// Model implements the Bubble Tea Model interface for the output panel: a
// scrollable log, a key hint bar, and a status bar with the running counter.
type Model struct {
	ctx     context.Context
	backend Backend
	job     Job

	feed    *viewport.Model
	spinner spinner.Model

	statusBar StatusBar

	events  <-chan framework.OutputEvent
	notices chan string
	release func()

	copy func(string) error

	width  int
	height int
	ready  bool

	running    bool
	lastResult string
	notice     string
	noticeAt   time.Time
}

// noticeTTL bounds how long a notice stays in the hint bar.
const noticeTTL = 4 * time.Second

// NewModel subscribes to the backend output and notices. Close releases the
// subscriptions.
func NewModel(ctx context.Context, backend Backend, job Job) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	events, unsubscribe := backend.Output().Subscribe(256)
	notices := make(chan string, 16)
	removeNotifier := backend.AddNotifier(framework.NotifierFunc(func(msg string) {
		select {
		case notices <- msg:
		default:
		}
	}))

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorWarning)

	v := viewport.New(0, 0)
	return Model{
		ctx:       ctx,
		backend:   backend,
		job:       job,
		feed:      &v,
		spinner:   sp,
		statusBar: StatusBar{language: job.Language},
		events:    events,
		notices:   notices,
		release: func() {
			removeNotifier()
			unsubscribe()
		},
		copy: clipboard.WriteAll,
	}
}

// Close releases output and notice subscriptions.
func (m Model) Close() {
	if m.release != nil {
		m.release()
	}
}

// startRun launches the job unless one is already in flight.
func (m Model) startRun() (Model, tea.Cmd) {
	if m.running || m.job.Empty() {
		return m, nil
	}
	m.running = true
	m.lastResult = ""
	backend, job, ctx := m.backend, m.job, m.ctx
	return m, func() tea.Msg {
		record, err := backend.Run(ctx, job.Language, job.Content)
		return runDoneMsg{record: record, err: err}
	}
}

// copyOutput puts the whole output log on the system clipboard.
func (m Model) copyOutput() Model {
	if !m.backend.CurrentSettings().EnableCopyButton {
		return m
	}
	if err := m.copy(m.backend.Output().String()); err != nil {
		return m.setNotice(fmt.Sprintf("Copy failed: %v", err))
	}
	return m.setNotice("Console output copied!")
}

func (m Model) setNotice(text string) Model {
	m.notice = text
	m.noticeAt = time.Now()
	return m
}

// refreshFeed re-renders the viewport from the buffer, keeping the view
// pinned to the bottom when it already was.
func (m Model) refreshFeed() Model {
	if !m.ready || m.feed == nil {
		return m
	}
	follow := m.feed.AtBottom()
	m.feed.SetContent(m.renderOutput())
	if follow {
		m.feed.GotoBottom()
	}
	return m
}

// refreshStatus pulls the running counter and settings into the status bar.
func (m Model) refreshStatus() Model {
	settings := m.backend.CurrentSettings()
	m.statusBar.showCounter = settings.EnableStatusBarItem
	m.statusBar.running = m.backend.Running()
	m.statusBar.result = m.lastResult
	return m
}

// summarizeRun renders the settled state of a run for the status bar.
func summarizeRun(record persistence.RunRecord, err error) string {
	if err == nil {
		return "done"
	}
	switch framework.KindOf(err) {
	case framework.KindNonZeroExit:
		return fmt.Sprintf("exit code %d", record.ExitCode)
	case framework.KindKilled:
		return "stopped"
	default:
		return err.Error()
	}
}
