// Package config handles configuration loading, validation, and defaults
// for macrod.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version"`

	// Devices configures the device config directory and capture timing.
	Devices DevicesConfig `toml:"devices"`

	// Dispatch configures the run loop.
	Dispatch DispatchConfig `toml:"dispatch"`

	// Trigger configures the external automation sink.
	Trigger TriggerConfig `toml:"trigger"`

	// History configures the trigger history store.
	History HistoryConfig `toml:"history"`

	// Notify configures desktop notifications.
	Notify NotifyConfig `toml:"notify"`

	// Logging configures structured logging.
	Logging LoggingConfig `toml:"logging"`
}

// DevicesConfig holds device configuration storage settings.
type DevicesConfig struct {
	// Dir is the directory holding one config file per device.
	Dir string `toml:"dir"`

	// SettleMs is the debounce delay before capture and before the run
	// loop starts draining, so stray input during setup is not matched.
	SettleMs int `toml:"settle_ms"`
}

// DispatchConfig holds run-loop settings.
type DispatchConfig struct {
	// PollIntervalMs is the idle delay between polling passes.
	PollIntervalMs int `toml:"poll_interval_ms"`
}

// TriggerConfig holds automation sink settings.
type TriggerConfig struct {
	// Command is the automation program to invoke.
	Command string `toml:"command"`

	// TimeoutMs bounds a single sink invocation. Zero means no bound;
	// firing stays strictly sequential either way.
	TimeoutMs int `toml:"timeout_ms"`
}

// HistoryConfig holds trigger history store settings.
type HistoryConfig struct {
	// Enabled turns the history store on.
	Enabled bool `toml:"enabled"`

	// Path is the SQLite database path.
	Path string `toml:"path"`
}

// NotifyConfig holds desktop notification settings.
type NotifyConfig struct {
	// Enabled turns layer-switch and failure notifications on.
	Enabled bool `toml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`

	// Format is the output format: text or json.
	Format string `toml:"format"`

	// Output is where logs go: stdout, stderr, file, both.
	Output string `toml:"output"`

	// FilePath is the log file path when Output includes file.
	FilePath string `toml:"file_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Devices: DevicesConfig{
			Dir:      DefaultDevicesDir(),
			SettleMs: 500,
		},
		Dispatch: DispatchConfig{
			PollIntervalMs: 10,
		},
		Trigger: TriggerConfig{
			Command:   "autokey-run",
			TimeoutMs: 0,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    defaultHistoryPath(),
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// DefaultConfigDir returns the macrod config root under XDG_CONFIG_HOME.
func DefaultConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, _ := os.UserHomeDir()
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, "macrod")
}

// DefaultConfigPath returns the daemon config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.toml")
}

// DefaultDevicesDir returns the per-device config directory.
func DefaultDevicesDir() string {
	return filepath.Join(DefaultConfigDir(), "devices")
}

// defaultHistoryPath returns the trigger history database path under
// XDG_STATE_HOME.
func defaultHistoryPath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		homeDir, _ := os.UserHomeDir()
		stateHome = filepath.Join(homeDir, ".local", "state")
	}
	return filepath.Join(stateHome, "macrod", "history.db")
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a present but malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("stat config: %w", err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MACROD_DEVICES_DIR"); v != "" {
		c.Devices.Dir = v
	}
	if v := os.Getenv("MACROD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MACROD_TRIGGER_COMMAND"); v != "" {
		c.Trigger.Command = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Devices.Dir == "" {
		return errors.New("devices.dir must not be empty")
	}
	if c.Devices.SettleMs < 0 {
		return errors.New("devices.settle_ms must not be negative")
	}
	if c.Dispatch.PollIntervalMs <= 0 {
		return errors.New("dispatch.poll_interval_ms must be positive")
	}
	if c.Trigger.Command == "" {
		return errors.New("trigger.command must not be empty")
	}
	if c.Trigger.TimeoutMs < 0 {
		return errors.New("trigger.timeout_ms must not be negative")
	}
	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path must be set when history is enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format: %q", c.Logging.Format)
	}
	return nil
}

// SettleDelay returns the capture/startup debounce as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Devices.SettleMs) * time.Millisecond
}

// PollInterval returns the run-loop idle delay as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMs) * time.Millisecond
}

// TriggerTimeout returns the sink invocation bound as a duration.
func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.Trigger.TimeoutMs) * time.Millisecond
}
