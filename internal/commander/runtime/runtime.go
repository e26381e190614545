package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/commander/framework"
	"github.com/lexcodex/commander/persistence"
	"github.com/lexcodex/commander/server"
)

// Runtime wires the commander CLI, Bubble Tea panel, and servers to a shared
// engine. It owns the log file, settings, run history, and notice fan-out.
type Runtime struct {
	Config Config
	Engine *framework.Engine
	Buffer *framework.OutputBuffer
	Store  persistence.RunStore
	Logger *log.Logger

	sink      *teeSink
	logFile   io.Closer
	telemetry *framework.JSONFileTelemetry

	notifyMu   sync.Mutex
	notifiers  map[int]framework.Notifier
	nextNotify int

	settingsMu sync.Mutex

	serverMu     sync.Mutex
	serverCancel context.CancelFunc
}

// New builds a runtime. A missing settings file is not an error; defaults
// are used and the miss is logged.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	var logOut io.Writer = logFile
	if cfg.Verbose {
		logOut = io.MultiWriter(os.Stderr, logFile)
	}
	logger := log.New(logOut, "commander ", log.LstdFlags|log.Lmicroseconds)

	settings, err := framework.LoadSettings(cfg.SettingsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logFile.Close()
			return nil, fmt.Errorf("load settings: %w", err)
		}
		logger.Printf("no settings at %s, using defaults", cfg.SettingsPath)
	}

	store, err := persistence.NewSQLiteRunStore(cfg.HistoryPath)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("history init: %w", err)
	}

	rt := &Runtime{
		Config:    cfg,
		Store:     store,
		Logger:    logger,
		logFile:   logFile,
		notifiers: make(map[int]framework.Notifier),
	}
	rt.Buffer = framework.NewOutputBuffer(settings.OutputMaxLines)
	rt.sink = &teeSink{buffer: rt.Buffer}

	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: logger}}
	if cfg.Telemetry {
		telemetry, err := framework.NewJSONFileTelemetry(cfg.TelemetryPath)
		if err != nil {
			rt.closeResources()
			return nil, fmt.Errorf("telemetry init: %w", err)
		}
		rt.telemetry = telemetry
		sinks = append(sinks, telemetry)
	}

	engine, err := framework.NewEngine(settings, framework.EngineOptions{
		Output:    rt.sink,
		Notifier:  framework.NotifierFunc(rt.Notify),
		Telemetry: framework.MultiplexTelemetry{Sinks: sinks},
	})
	if err != nil {
		rt.closeResources()
		return nil, fmt.Errorf("engine init: %w", err)
	}
	rt.Engine = engine
	logger.Printf("runtime ready in %s (%d languages)", cfg.Workspace, engine.Registry().Len())
	return rt, nil
}

// Close stops every running script and releases resources.
func (r *Runtime) Close() error {
	if r.Engine != nil {
		if n := r.Engine.StopAll(); n > 0 {
			r.Logger.Printf("stopped %d scripts on shutdown", n)
		}
	}
	return r.closeResources()
}

func (r *Runtime) closeResources() error {
	var errs []error
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	if r.telemetry != nil {
		errs = append(errs, r.telemetry.Close())
	}
	if r.logFile != nil {
		errs = append(errs, r.logFile.Close())
	}
	return errors.Join(errs...)
}

// Run executes content as one script in language and records the outcome in
// the run history. The returned record is populated even when err != nil.
func (r *Runtime) Run(ctx context.Context, language string, content ...string) (persistence.RunRecord, error) {
	script := framework.NewScript(language)
	for _, block := range content {
		script.AddContent(block)
	}
	record := persistence.RunRecord{
		ID:        script.ID,
		Language:  language,
		Content:   script.Content(),
		Status:    persistence.RunStatusRunning,
		StartedAt: time.Now(),
	}
	r.saveRecord(ctx, record)

	err := r.Engine.Run(ctx, script)
	record.FinishedAt = time.Now()
	record.Status = statusFor(err)
	if err != nil {
		record.ErrorKind = string(framework.KindOf(err))
		record.Error = err.Error()
		if code, ok := framework.ExitCode(err); ok {
			record.ExitCode = code
		}
		r.Logger.Printf("run %s (%s) %s: %v", script.ID, language, record.Status, err)
	}
	r.saveRecord(context.WithoutCancel(ctx), record)
	return record, err
}

func (r *Runtime) saveRecord(ctx context.Context, record persistence.RunRecord) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Save(ctx, record); err != nil {
		r.Logger.Printf("history save %s failed: %v", record.ID, err)
	}
}

func statusFor(err error) persistence.RunStatus {
	switch framework.KindOf(err) {
	case "":
		if err != nil {
			return persistence.RunStatusFailed
		}
		return persistence.RunStatusSucceeded
	case framework.KindKilled:
		return persistence.RunStatusKilled
	case framework.KindUnsupportedLanguage, framework.KindBlocked:
		return persistence.RunStatusRejected
	default:
		return persistence.RunStatusFailed
	}
}

// StopAll stops every running script and announces the result.
func (r *Runtime) StopAll() int {
	n := r.Engine.StopAll()
	if n == 0 {
		r.Notify("No running scripts found")
	} else {
		r.Notify(fmt.Sprintf("%d scripts stopped", n))
	}
	return n
}

// Running reports how many scripts are currently executing.
func (r *Runtime) Running() int {
	return r.Engine.Running()
}

// Notify logs message and forwards it to every registered notifier.
func (r *Runtime) Notify(message string) {
	r.Logger.Printf("notice: %s", message)
	r.notifyMu.Lock()
	targets := make([]framework.Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		targets = append(targets, n)
	}
	r.notifyMu.Unlock()
	for _, n := range targets {
		n.Notify(message)
	}
}

// AddNotifier registers n for user-facing notices. The returned func
// removes it.
func (r *Runtime) AddNotifier(n framework.Notifier) func() {
	r.notifyMu.Lock()
	id := r.nextNotify
	r.nextNotify++
	r.notifiers[id] = n
	r.notifyMu.Unlock()
	return func() {
		r.notifyMu.Lock()
		delete(r.notifiers, id)
		r.notifyMu.Unlock()
	}
}

// Echo mirrors raw script output to w until the returned func is called.
func (r *Runtime) Echo(w io.Writer) func() {
	return r.sink.add(w)
}

// Languages lists the registered language patterns in resolution order.
func (r *Runtime) Languages() []string {
	return r.Engine.Registry().Patterns()
}

// SupportedTags joins every registered pattern into one alternation.
func (r *Runtime) SupportedTags() string {
	return r.Engine.Registry().AllSupportedTags()
}

// Output exposes the shared output buffer.
func (r *Runtime) Output() *framework.OutputBuffer {
	return r.Buffer
}

// History lists the most recent runs first.
func (r *Runtime) History(ctx context.Context, limit int) ([]persistence.RunRecord, error) {
	if r.Store == nil {
		return nil, errors.New("history unavailable")
	}
	return r.Store.List(ctx, limit)
}

// Record loads one run by id.
func (r *Runtime) Record(ctx context.Context, id string) (*persistence.RunRecord, bool, error) {
	if r.Store == nil {
		return nil, false, errors.New("history unavailable")
	}
	return r.Store.Get(ctx, id)
}

// ReloadSettings re-reads the settings file and applies it to new runs.
func (r *Runtime) ReloadSettings() error {
	settings, err := framework.LoadSettings(r.Config.SettingsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return r.applySettings(settings)
}

// SaveSettings persists settings and applies them to new runs.
func (r *Runtime) SaveSettings(settings framework.Settings) error {
	settings.Normalize()
	if _, err := framework.NewRegistry(settings.Languages); err != nil {
		return err
	}
	if err := framework.SaveSettings(r.Config.SettingsPath, settings); err != nil {
		return err
	}
	return r.applySettings(settings)
}

func (r *Runtime) applySettings(settings framework.Settings) error {
	r.settingsMu.Lock()
	defer r.settingsMu.Unlock()
	if err := r.Engine.UpdateSettings(settings); err != nil {
		return err
	}
	r.Buffer.SetMaxLines(r.Engine.Settings().OutputMaxLines)
	r.Logger.Printf("settings applied from %s", r.Config.SettingsPath)
	return nil
}

// CurrentSettings returns the settings used by new runs.
func (r *Runtime) CurrentSettings() framework.Settings {
	return r.Engine.Settings()
}

// StartServer launches the HTTP API server. The returned stop function shuts
// the server down using the provided context.
func (r *Runtime) StartServer(ctx context.Context, addr string) (func(context.Context) error, error) {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	if r.serverCancel != nil {
		return nil, errors.New("server already running")
	}
	if addr == "" {
		addr = r.Config.ServerAddr
	}
	api := &server.APIServer{Runner: r, Logger: r.Logger}
	serverCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ServeContext(serverCtx, addr)
	}()
	r.serverCancel = cancel
	stopFn := func(shutdownCtx context.Context) error {
		r.serverMu.Lock()
		if r.serverCancel == nil {
			r.serverMu.Unlock()
			return nil
		}
		r.serverCancel()
		r.serverCancel = nil
		r.serverMu.Unlock()
		select {
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}
	return stopFn, nil
}

// ServerRunning reports whether the HTTP server is active.
func (r *Runtime) ServerRunning() bool {
	r.serverMu.Lock()
	defer r.serverMu.Unlock()
	return r.serverCancel != nil
}

// teeSink feeds the output buffer and mirrors prints to echo writers. Like
// the buffer, a print that follows an unterminated one starts on a new line.
type teeSink struct {
	buffer *framework.OutputBuffer

	mu      sync.Mutex
	echoes  map[int]io.Writer
	nextID  int
	partial bool
}

func (t *teeSink) Print(text string) {
	t.buffer.Print(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	chunk := text
	if t.partial {
		chunk = "\n" + text
	}
	t.partial = !strings.HasSuffix(text, "\n")
	for _, w := range t.echoes {
		_, _ = io.WriteString(w, chunk)
	}
}

func (t *teeSink) Clear() {
	t.buffer.Clear()
}

func (t *teeSink) add(w io.Writer) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.echoes == nil {
		t.echoes = make(map[int]io.Writer)
	}
	id := t.nextID
	t.nextID++
	t.echoes[id] = w
	return func() {
		t.mu.Lock()
		delete(t.echoes, id)
		t.mu.Unlock()
	}
}
