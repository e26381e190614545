package framework

import (
	"sync"

	"github.com/google/uuid"
)

// Script is a single execution request: snippet text plus its language tag.
// It is consumed by exactly one Engine.Run call.
type Script struct {
	ID       string
	Language string

	mu      sync.Mutex
	content string
	proc    *Process
	used    bool
}

// NewScript creates a request for the given language tag.
func NewScript(language string) *Script {
	return &Script{
		ID:       uuid.NewString(),
		Language: language,
	}
}

// AddContent appends a block; adjacent blocks are joined with a newline.
func (s *Script) AddContent(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content == "" {
		s.content = content
		return
	}
	s.content += "\n" + content
}

// Content returns the concatenated source text.
func (s *Script) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Process returns the spawned process handle, or nil before spawn.
func (s *Script) Process() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Kill terminates this script's process if it has one. The run still
// settles through its normal exit path.
func (s *Script) Kill() error {
	return s.Process().Kill()
}

func (s *Script) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return false
	}
	s.used = true
	return true
}

func (s *Script) attach(p *Process) {
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
}
