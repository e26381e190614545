package framework

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FilePlaceholder is replaced with the generated script file name.
	FilePlaceholder = "%FILE%"
	// ContentPlaceholder is replaced with the snippet source.
	ContentPlaceholder = "%CONTENT%"

	MinOutputLines = 5
	MaxOutputLines = 5000
)

// Settings is the persisted plugin configuration consumed by the engine.
type Settings struct {
	EnableStatusBarItem   bool              `yaml:"enableStatusBarItem" json:"enableStatusBarItem"`
	EnableCopyButton      bool              `yaml:"enableCopyButton" json:"enableCopyButton"`
	EnableOutputAutoClear bool              `yaml:"enableOutputAutoClear" json:"enableOutputAutoClear"`
	OutputMaxLines        int               `yaml:"outputMaxLines" json:"outputMaxLines"`
	WorkingDirectory      string            `yaml:"workingDirectory" json:"workingDirectory"`
	ScriptTimeout         int               `yaml:"scriptTimeout" json:"scriptTimeout"`
	WordsBlacklist        []string          `yaml:"wordsBlacklist" json:"wordsBlacklist"`
	Env                   map[string]string `yaml:"env" json:"env"`
	EnvFile               string            `yaml:"envFile,omitempty" json:"envFile,omitempty"`
	Languages             Languages         `yaml:"languages" json:"languages"`
}

// DefaultSettings returns the stock configuration.
func DefaultSettings() Settings {
	return Settings{
		EnableStatusBarItem:   true,
		EnableCopyButton:      true,
		EnableOutputAutoClear: false,
		OutputMaxLines:        50,
		WorkingDirectory:      os.TempDir(),
		ScriptTimeout:         300,
		WordsBlacklist:        []string{"sudo"},
		Env:                   map[string]string{},
		Languages:             DefaultLanguages(),
	}
}

// Normalize clamps numeric fields and fills empty ones.
func (s *Settings) Normalize() {
	s.OutputMaxLines = ClampOutputLines(s.OutputMaxLines)
	if s.ScriptTimeout < 0 {
		s.ScriptTimeout = 0
	}
	if strings.TrimSpace(s.WorkingDirectory) == "" {
		s.WorkingDirectory = os.TempDir()
	}
	if s.Env == nil {
		s.Env = map[string]string{}
	}
}

// ClampOutputLines bounds n to [MinOutputLines, MaxOutputLines].
func ClampOutputLines(n int) int {
	if n < MinOutputLines {
		return MinOutputLines
	}
	if n > MaxOutputLines {
		return MaxOutputLines
	}
	return n
}

// Timeout converts the configured seconds into a duration; zero disables it.
func (s Settings) Timeout() time.Duration {
	if s.ScriptTimeout <= 0 {
		return 0
	}
	return time.Duration(s.ScriptTimeout) * time.Second
}

// Blocked reports the first blacklisted word contained in content.
func (s Settings) Blocked(content string) (string, bool) {
	for _, word := range s.WordsBlacklist {
		if word == "" {
			continue
		}
		if strings.Contains(content, word) {
			return word, true
		}
	}
	return "", false
}

// Environ merges base (usually os.Environ()) with the env file and the Env
// map. Later layers override earlier ones by key.
func (s Settings) Environ(base []string) ([]string, error) {
	merged := make(map[string]string, len(base)+len(s.Env))
	order := make([]string, 0, len(base)+len(s.Env))
	set := func(key, value string) {
		if _, ok := merged[key]; !ok {
			order = append(order, key)
		}
		merged[key] = value
	}
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		set(key, value)
	}
	if s.EnvFile != "" {
		fileEnv, err := godotenv.Read(s.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		for _, key := range sortedKeys(fileEnv) {
			set(key, fileEnv[key])
		}
	}
	for _, key := range sortedKeys(s.Env) {
		set(key, s.Env[key])
	}
	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, key+"="+merged[key])
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadSettings overlays the YAML file at path on top of DefaultSettings.
// A missing file yields an error wrapping os.ErrNotExist together with the
// defaults, so callers can continue.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, errors.New("settings path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("parse settings: %w", err)
	}
	if settings.EnvFile != "" && !filepath.IsAbs(settings.EnvFile) {
		settings.EnvFile = filepath.Join(filepath.Dir(path), settings.EnvFile)
	}
	settings.Normalize()
	return settings, nil
}

// SaveSettings persists settings as YAML, creating parent directories.
func SaveSettings(path string, settings Settings) error {
	if path == "" {
		return errors.New("settings path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
