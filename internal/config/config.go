package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Engine describes the external transcoding executable.
type Engine struct {
	Binary             string   `toml:"binary"`
	DefaultPreset      string   `toml:"default_preset"`
	ListPresetsArgs    []string `toml:"list_presets_args"`
	ExtraArgs          []string `toml:"extra_args"`
	PresetImportGUI    bool     `toml:"preset_import_gui"`
	FatalMarkers       []string `toml:"fatal_markers"`
	StaticPresets      []string `toml:"static_presets"`
	CancelGraceSeconds int      `toml:"cancel_grace_seconds"`
	ListTimeoutSeconds int      `toml:"list_timeout_seconds"`
}

// Workers bounds concurrent encodes. Values are fixed once the daemon starts.
type Workers struct {
	MaxConcurrent          int `toml:"max_concurrent"`
	QueueLimit             int `toml:"queue_limit"`
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
}

// SMTP contains mail relay settings for email notifications.
type SMTP struct {
	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UseTLS   bool   `toml:"use_tls"`
	Sender   string `toml:"sender"`
}

// Notifications contains configuration for webhook and email delivery.
type Notifications struct {
	WebhookURLs     []string `toml:"webhook_urls"`
	EmailRecipients []string `toml:"email_recipients"`
	Events          []string `toml:"events"`
	RequestTimeout  int      `toml:"request_timeout"`
	MaxAttempts     int      `toml:"max_attempts"`
	RetryBaseMillis int      `toml:"retry_base_ms"`
	RetryMaxSeconds int      `toml:"retry_max_seconds"`
	RatePerSecond   float64  `toml:"rate_per_second"`
	SMTP            SMTP     `toml:"smtp"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// History controls the SQLite job journal.
type History struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// WatchRule describes one monitored directory.
type WatchRule struct {
	Directory       string         `toml:"directory"`
	Patterns        []string       `toml:"patterns"`
	Recursive       bool           `toml:"recursive"`
	Preset          string         `toml:"preset"`
	Options         map[string]any `toml:"options"`
	PostPolicy      string         `toml:"post_policy"`
	ProcessedDir    string         `toml:"processed_dir"`
	OutputDir       string         `toml:"output_dir"`
	OutputSuffix    string         `toml:"output_suffix"`
	OutputExtension string         `toml:"output_extension"`
	ScanExisting    bool           `toml:"scan_existing"`
	DebounceMillis  int            `toml:"debounce_ms"`
}

// Config encapsulates all configuration values for spool.
//
// Configuration sections by subsystem:
//   - Paths: log and state directories
//   - Engine: transcoder binary, preset discovery, cancellation grace
//   - Workers: concurrent encode bound and optional queue limit
//   - Notifications: webhook/email sinks and retry policy
//   - Logging: log format and level
//   - History: SQLite job journal
//   - Watch: watch-folder rules
type Config struct {
	Paths         Paths         `toml:"paths"`
	Engine        Engine        `toml:"engine"`
	Workers       Workers       `toml:"workers"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	History       History       `toml:"history"`
	Watch         []WatchRule   `toml:"watch"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/spool/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("spool.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CancelGrace returns how long a cancelled encoder may take to exit before it is killed.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Engine.CancelGraceSeconds) * time.Second
}

// ShutdownTimeout bounds daemon teardown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Workers.ShutdownTimeoutSeconds) * time.Second
}

// HistoryPath returns the SQLite journal location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "spool.lock")
}

// Debounce returns the stability window for a watch rule.
func (r WatchRule) Debounce() time.Duration {
	return time.Duration(r.DebounceMillis) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}
