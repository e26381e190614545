package framework

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ProcessInfo captures runtime details for a spawned script process.
type ProcessInfo struct {
	ID       string    `json:"id"`
	ScriptID string    `json:"script_id"`
	Language string    `json:"language"`
	PID      int       `json:"pid"`
	Args     []string  `json:"args"`
	Started  time.Time `json:"started"`
}

// Process is the engine-owned handle of one live external process.
type Process struct {
	info ProcessInfo
	cmd  *exec.Cmd
}

func newProcess(script *Script, cmd *exec.Cmd) *Process {
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	return &Process{
		info: ProcessInfo{
			ID:       uuid.NewString(),
			ScriptID: script.ID,
			Language: script.Language,
			PID:      pid,
			Args:     append([]string(nil), cmd.Args...),
			Started:  time.Now(),
		},
		cmd: cmd,
	}
}

// Info returns a snapshot of the process metadata.
func (p *Process) Info() ProcessInfo {
	info := p.info
	info.Args = append([]string(nil), p.info.Args...)
	return info
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.info.PID }

// Kill asks the process to terminate. SIGTERM is tried first; platforms that
// cannot deliver it get a hard kill. Killing an exited process is not an
// error.
func (p *Process) Kill() error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	err = p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// ProcessRegistry is a non-owning list of live processes used for bulk
// cancellation. Lifecycle still flows through each process's exit.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs []*Process
}

// NewProcessRegistry creates an empty registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{}
}

// Add tracks p.
func (r *ProcessRegistry) Add(p *Process) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()
}

// Start runs start and registers the process it returns while holding the
// registry lock, so a concurrent StopAll either waits for the registration
// or runs before the process exists.
func (r *ProcessRegistry) Start(start func() (*Process, error)) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := start()
	if err != nil {
		return nil, err
	}
	if p != nil {
		r.procs = append(r.procs, p)
	}
	return p, nil
}

// Remove forgets p if present.
func (r *ProcessRegistry) Remove(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.procs {
		if existing == p {
			r.procs = append(r.procs[:i], r.procs[i+1:]...)
			return
		}
	}
}

// Len reports how many processes are tracked.
func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// List returns metadata for every tracked process.
func (r *ProcessRegistry) List() []ProcessInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProcessInfo, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.Info())
	}
	return out
}

// StopAll signals every tracked process and clears the list without waiting
// for exits. It returns how many processes were signalled.
func (r *ProcessRegistry) StopAll() int {
	r.mu.Lock()
	procs := r.procs
	r.procs = nil
	r.mu.Unlock()
	for _, p := range procs {
		_ = p.Kill()
	}
	return len(procs)
}
