package runtime

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config captures every knob shared across the commander CLI, TUI, and server
// entry points.
type Config struct {
	Workspace     string
	SettingsPath  string
	LogPath       string
	HistoryPath   string
	TelemetryPath string
	ServerAddr    string
	// Telemetry enables the NDJSON event log at TelemetryPath.
	Telemetry bool
	// Verbose mirrors the log to stderr in addition to the log file.
	Verbose bool
}

// DefaultConfig infers defaults based on the current working directory.
// Errors from os.Getwd are ignored so callers can override manually.
func DefaultConfig() Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return Config{
		Workspace:     cwd,
		SettingsPath:  filepath.Join(cwd, ".commander", "settings.yaml"),
		LogPath:       filepath.Join(cwd, ".commander", "commander.log"),
		HistoryPath:   filepath.Join(cwd, ".commander", "history.db"),
		TelemetryPath: filepath.Join(cwd, ".commander", "telemetry.jsonl"),
		ServerAddr:    "127.0.0.1:8765",
	}
}

// Normalize ensures every filesystem path is absolute and fills missing
// defaults so runtime initialization never has to re-check them.
func (c *Config) Normalize() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	absWorkspace, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = absWorkspace
	c.SettingsPath = c.resolve(c.SettingsPath, "settings.yaml")
	c.LogPath = c.resolve(c.LogPath, "commander.log")
	c.HistoryPath = c.resolve(c.HistoryPath, "history.db")
	c.TelemetryPath = c.resolve(c.TelemetryPath, "telemetry.jsonl")
	if c.ServerAddr == "" {
		c.ServerAddr = "127.0.0.1:8765"
	}
	return nil
}

func (c Config) resolve(path, fallback string) string {
	if path == "" {
		return filepath.Join(c.Workspace, ".commander", fallback)
	}
	if !filepath.IsAbs(path) {
		return filepath.Join(c.Workspace, path)
	}
	return path
}
