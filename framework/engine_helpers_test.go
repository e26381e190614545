package framework

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedStamp is the clock used by engine tests so script names are known.
const fixedStamp = int64(1699999999999)

type recordingSink struct {
	mu     sync.Mutex
	prints []string
	clears int
}

func (s *recordingSink) Print(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prints = append(s.prints, text)
}

func (s *recordingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.prints = nil
}

func (s *recordingSink) Prints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prints...)
}

func (s *recordingSink) Joined() string {
	return strings.Join(s.Prints(), "")
}

func (s *recordingSink) Count(text string) int {
	n := 0
	for _, p := range s.Prints() {
		if p == text {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTelemetry) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTelemetry) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type engineFixture struct {
	engine    *Engine
	sink      *recordingSink
	notifier  *recordingNotifier
	telemetry *recordingTelemetry
	dir       string
}

// newEngineFixture builds an engine rooted in a temp working directory with
// a frozen clock. mutate may adjust the settings before construction.
func newEngineFixture(t *testing.T, mutate func(*Settings)) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	settings := DefaultSettings()
	settings.WorkingDirectory = dir
	settings.WordsBlacklist = []string{"sudo"}
	if mutate != nil {
		mutate(&settings)
	}
	fx := &engineFixture{
		sink:      &recordingSink{},
		notifier:  &recordingNotifier{},
		telemetry: &recordingTelemetry{},
		dir:       dir,
	}
	engine, err := NewEngine(settings, EngineOptions{
		Output:    fx.sink,
		Notifier:  fx.notifier,
		Telemetry: fx.telemetry,
		Now:       func() time.Time { return time.UnixMilli(fixedStamp) },
	})
	require.NoError(t, err)
	fx.engine = engine
	return fx
}

func (fx *engineFixture) dirEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(fx.dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available: %v", name, err)
		}
	}
}
