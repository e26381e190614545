package framework

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType names a step in a script's lifecycle.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunBlocked   EventType = "run_blocked"
	EventFileWritten  EventType = "file_written"
	EventProcessSpawn EventType = "process_spawn"
	EventProcessExit  EventType = "process_exit"
	EventRunFinish    EventType = "run_finish"
	EventStopAll      EventType = "stop_all"
)

// Event is one lifecycle record emitted by the engine.
type Event struct {
	Type      EventType              `json:"type"`
	ScriptID  string                 `json:"script_id,omitempty"`
	Language  string                 `json:"language,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry receives engine lifecycle events. Emit must not block on the
// script it describes.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry fans events out to every non-nil sink in order.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to each sink, skipping nil entries.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, sink := range m.Sinks {
		if sink == nil {
			continue
		}
		sink.Emit(event)
	}
}

// JSONFileTelemetry appends one JSON object per event (NDJSON). Emit after
// Close is a no-op.
type JSONFileTelemetry struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewJSONFileTelemetry opens path for appending, creating parent directories.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry: %w", err)
	}
	return &JSONFileTelemetry{file: f}, nil
}

// Emit stamps a missing timestamp and appends the event as one JSON line.
// Write errors are dropped.
func (j *JSONFileTelemetry) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	_, _ = j.file.Write(append(line, '\n'))
}

// Close is idempotent.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// LoggerTelemetry writes one log line per event.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event type, script and language, then metadata in key
// order and the message when present.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] script=%s lang=%s", event.Type, event.ScriptID, event.Language)
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, event.Metadata[k])
	}
	if event.Message != "" {
		fmt.Fprintf(&b, " msg=%q", event.Message)
	}
	logger.Print(b.String())
}

type noopTelemetry struct{}

func (noopTelemetry) Emit(Event) {}
