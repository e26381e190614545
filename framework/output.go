package framework

import (
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// OutputSink receives streamed script output. The sink owns line-join and
// truncation policy; callers always hand over raw text.
type OutputSink interface {
	Print(text string)
	Clear()
}

// Notifier surfaces user-facing notices on a channel separate from the
// output log (policy refusals, stop confirmations).
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(message string)

// Notify calls f(message).
func (f NotifierFunc) Notify(message string) {
	if f != nil {
		f(message)
	}
}

// OutputEventType distinguishes buffer mutations delivered to subscribers.
type OutputEventType string

const (
	OutputPrinted OutputEventType = "print"
	OutputCleared OutputEventType = "clear"
)

// OutputEvent is delivered to OutputBuffer subscribers.
type OutputEvent struct {
	Type OutputEventType `json:"type"`
	Text string          `json:"text,omitempty"`
}

// OutputBuffer is an append-only log of text lines with a maximum length.
// The last element of lines is the line currently being written; an empty
// last element means the buffer ends in a newline.
type OutputBuffer struct {
	mu       sync.RWMutex
	lines    []string
	maxLines int

	subMu  sync.Mutex
	subs   map[int]chan OutputEvent
	nextID int
}

// NewOutputBuffer creates a buffer keeping at most maxLines lines.
func NewOutputBuffer(maxLines int) *OutputBuffer {
	return &OutputBuffer{
		maxLines: ClampOutputLines(maxLines),
		subs:     make(map[int]chan OutputEvent),
	}
}

// SetMaxLines changes the truncation bound and trims immediately.
func (b *OutputBuffer) SetMaxLines(n int) {
	b.mu.Lock()
	b.maxLines = ClampOutputLines(n)
	b.trimLocked()
	b.mu.Unlock()
}

// Print appends text. Unless the buffer is empty or already ends in a
// newline, the text starts on a new line.
func (b *OutputBuffer) Print(text string) {
	text = ansi.Strip(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n")

	b.mu.Lock()
	switch {
	case len(b.lines) == 0:
		b.lines = parts
	case b.lines[len(b.lines)-1] == "":
		b.lines[len(b.lines)-1] = parts[0]
		b.lines = append(b.lines, parts[1:]...)
	default:
		b.lines = append(b.lines, parts...)
	}
	b.trimLocked()
	b.mu.Unlock()

	b.publish(OutputEvent{Type: OutputPrinted, Text: text})
}

// Clear empties the buffer.
func (b *OutputBuffer) Clear() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
	b.publish(OutputEvent{Type: OutputCleared})
}

func (b *OutputBuffer) trimLocked() {
	if over := len(b.lines) - b.maxLines; over > 0 {
		b.lines = append([]string(nil), b.lines[over:]...)
	}
}

// Lines returns a copy of the logical lines. A trailing newline does not
// produce an extra empty line.
func (b *OutputBuffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lines := b.lines
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// String renders the buffer with newline separators.
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.lines, "\n")
}

// Len reports the number of logical lines.
func (b *OutputBuffer) Len() int {
	return len(b.Lines())
}

// Subscribe registers a listener for print and clear events. Delivery never
// blocks the writer: when the channel is full the event is dropped and the
// listener is expected to resync from Lines. The returned func unsubscribes.
func (b *OutputBuffer) Subscribe(buffer int) (<-chan OutputEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan OutputEvent, buffer)
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
			close(ch)
		})
	}
}

func (b *OutputBuffer) publish(evt OutputEvent) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
