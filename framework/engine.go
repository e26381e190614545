package framework

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// maxNameAttempts bounds the search for a free script file name when two
// runs of the same language start within the same millisecond.
const maxNameAttempts = 64

// EngineOptions wires the engine's collaborators. Every field is optional.
type EngineOptions struct {
	Output    OutputSink
	Notifier  Notifier
	Telemetry Telemetry
	// Now stamps script file names; defaults to time.Now.
	Now func() time.Time
	// Environ supplies the inherited environment; defaults to os.Environ.
	Environ func() []string
}

// Engine materializes scripts to disk, runs them and relays their output.
// It exclusively owns the handles of the processes it spawns.
type Engine struct {
	mu       sync.RWMutex
	settings Settings
	registry *Registry

	output    OutputSink
	notifier  Notifier
	telemetry Telemetry
	now       func() time.Time
	environ   func() []string

	printMu sync.Mutex
	procs   *ProcessRegistry
}

// NewEngine validates settings and builds the language registry.
func NewEngine(settings Settings, opts EngineOptions) (*Engine, error) {
	e := &Engine{
		output:    opts.Output,
		notifier:  opts.Notifier,
		telemetry: opts.Telemetry,
		now:       opts.Now,
		environ:   opts.Environ,
		procs:     NewProcessRegistry(),
	}
	if e.telemetry == nil {
		e.telemetry = noopTelemetry{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.environ == nil {
		e.environ = os.Environ
	}
	if err := e.UpdateSettings(settings); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateSettings swaps the settings used by subsequent runs. Runs already in
// flight keep the snapshot they started with.
func (e *Engine) UpdateSettings(settings Settings) error {
	settings.Normalize()
	registry, err := NewRegistry(settings.Languages)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.settings = settings
	e.registry = registry
	e.mu.Unlock()
	return nil
}

// Settings returns the current settings snapshot.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// Registry returns the current language registry.
func (e *Engine) Registry() *Registry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry
}

// Processes exposes the registry of live processes.
func (e *Engine) Processes() *ProcessRegistry {
	return e.procs
}

// Running reports how many processes are currently tracked.
func (e *Engine) Running() int {
	return e.procs.Len()
}

// StopAll signals every running script and forgets them immediately. Each
// killed run still settles through its own exit handling.
func (e *Engine) StopAll() int {
	n := e.procs.StopAll()
	e.emit(Event{Type: EventStopAll, Metadata: map[string]interface{}{"count": n}})
	return n
}

// Run executes script and blocks until it settles. A nil return means the
// process exited with code 0; every failure is a *RunError.
func (e *Engine) Run(ctx context.Context, script *Script) error {
	if script == nil {
		return errors.New("script required")
	}
	if !script.claim() {
		return ErrScriptConsumed
	}
	e.mu.RLock()
	settings, registry := e.settings, e.registry
	e.mu.RUnlock()

	start := e.now()
	e.emit(Event{Type: EventRunStart, ScriptID: script.ID, Language: script.Language})
	err := e.run(ctx, script, settings, registry)

	finish := Event{
		Type:     EventRunFinish,
		ScriptID: script.ID,
		Language: script.Language,
		Metadata: map[string]interface{}{"duration_ms": e.now().Sub(start).Milliseconds()},
	}
	if err != nil {
		finish.Message = err.Error()
		finish.Metadata["kind"] = string(KindOf(err))
	}
	e.emit(finish)
	return err
}

func (e *Engine) run(ctx context.Context, script *Script, settings Settings, registry *Registry) error {
	if settings.EnableOutputAutoClear && e.output != nil {
		e.output.Clear()
	}

	spec, ok := registry.Resolve(script.Language)
	if !ok {
		return newRunError(KindUnsupportedLanguage, ErrUnsupportedLanguage.Message, nil)
	}

	content := script.Content()
	if word, blocked := settings.Blocked(content); blocked {
		e.notify(ErrBlocked.Message)
		e.emit(Event{
			Type:     EventRunBlocked,
			ScriptID: script.ID,
			Language: script.Language,
			Metadata: map[string]interface{}{"word": word},
		})
		return newRunError(KindBlocked, ErrBlocked.Message, nil)
	}

	fileName, filePath, err := e.writeScript(settings.WorkingDirectory, script.Language, spec, content)
	if err != nil {
		return newRunError(KindWriteError, ErrWriteError.Message, err)
	}
	e.emit(Event{Type: EventFileWritten, ScriptID: script.ID, Language: script.Language, Message: filePath})

	args := Tokenize(strings.Replace(spec.Executable, FilePlaceholder, fileName, 1))
	if len(args) == 0 || args[0] == "" {
		e.removeFile(filePath)
		return newRunError(KindInvalidCommand, ErrInvalidCommand.Message, nil)
	}

	env, err := settings.Environ(e.environ())
	if err != nil {
		e.print(err.Error())
		e.removeFile(filePath)
		return newRunError(KindSpawnError, ErrSpawnError.Message, err)
	}

	stream := streamWriter{engine: e}
	var (
		cmd    *exec.Cmd
		cancel context.CancelFunc
	)
	proc, err := e.procs.Start(func() (*Process, error) {
		var startErr error
		cmd, cancel, startErr = startCommand(ctx, CommandRequest{
			Workdir: settings.WorkingDirectory,
			Args:    args,
			Env:     env,
			Timeout: settings.Timeout(),
			Stdout:  stream,
			Stderr:  stream,
		})
		if startErr != nil {
			return nil, startErr
		}
		return newProcess(script, cmd), nil
	})
	if err != nil {
		e.print(err.Error())
		e.removeFile(filePath)
		return newRunError(KindSpawnError, ErrSpawnError.Message, err)
	}
	defer cancel()
	script.attach(proc)
	e.emit(Event{
		Type:     EventProcessSpawn,
		ScriptID: script.ID,
		Language: script.Language,
		Metadata: map[string]interface{}{"pid": proc.PID(), "args": args},
	})

	waitErr := cmd.Wait()
	e.procs.Remove(proc)
	e.removeFile(filePath)
	return e.settle(script, cmd, waitErr)
}

// settle maps the exit status to the run outcome. It runs once per spawned
// process, after all stream output has been relayed.
func (e *Engine) settle(script *Script, cmd *exec.Cmd, waitErr error) error {
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) &&
		!errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		e.print(waitErr.Error())
	}
	state := cmd.ProcessState
	if state == nil {
		return newRunError(KindSpawnError, ErrSpawnError.Message, waitErr)
	}
	code := state.ExitCode()
	e.emit(Event{
		Type:     EventProcessExit,
		ScriptID: script.ID,
		Language: script.Language,
		Metadata: map[string]interface{}{"exit_code": code},
	})
	switch {
	case code == 0:
		return nil
	case code < 0:
		e.print(ErrKilled.Message)
		return newRunError(KindKilled, ErrKilled.Message, nil)
	default:
		msg := fmt.Sprintf("exit code %d", code)
		e.print(msg)
		return &RunError{Kind: KindNonZeroExit, Message: msg, ExitCode: code}
	}
}

func (e *Engine) writeScript(dir, tag string, spec LanguageSpec, content string) (string, string, error) {
	body := content
	if spec.Template != "" {
		body = strings.Replace(spec.Template, ContentPlaceholder, content, 1)
	}
	stamp := e.now().UnixMilli()
	for attempt := int64(0); attempt < maxNameAttempts; attempt++ {
		name := fmt.Sprintf("%d.%s", stamp+attempt, tag)
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", err
		}
		if _, err := f.WriteString(body); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", "", err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", "", err
		}
		return name, path, nil
	}
	return "", "", fmt.Errorf("no free script name in %s", dir)
}

func (e *Engine) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.print(err.Error())
	}
}

func (e *Engine) print(text string) {
	if e.output == nil {
		return
	}
	e.printMu.Lock()
	defer e.printMu.Unlock()
	e.output.Print(text)
}

func (e *Engine) notify(message string) {
	if e.notifier != nil {
		e.notifier.Notify(message)
	}
}

func (e *Engine) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	e.telemetry.Emit(event)
}

// streamWriter relays process output chunks verbatim to the output sink.
type streamWriter struct {
	engine *Engine
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.engine.print(string(p))
	return len(p), nil
}
