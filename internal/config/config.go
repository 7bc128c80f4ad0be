// Package config loads the optional globus-go configuration file. All fields
// have working defaults so the zero-config first-run experience holds: users
// only create config.toml to override the client id, bundle path, or poll
// cadence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Application directory name used across all platforms.
const appName = "globus-go"

// Config file name.
const configFileName = "config.toml"

// Log levels accepted in the config file.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Config is the TOML document at ~/.config/globus-go/config.toml.
type Config struct {
	// ClientID is the OAuth2 native-app client registered with Globus Auth.
	ClientID string `toml:"client_id"`

	// TokenFile is the credential bundle path. Empty means the fixed
	// ~/.parsl/.globus.json default shared with other Globus tooling.
	TokenFile string `toml:"token_file"`

	// PollIntervalSeconds is the in-round task poll cadence.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// WaitTimeoutSeconds is the length of one wait round; after each round
	// still ACTIVE, the latest error event is fetched and logged.
	WaitTimeoutSeconds int `toml:"wait_timeout_seconds"`

	// HistoryDB is the transfer ledger path. Empty means the default under
	// the user data directory; "off" disables the ledger.
	HistoryDB string `toml:"history_db"`

	// LogLevel is the baseline slog level: debug, info, warn, error.
	// CLI flags override it.
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		PollIntervalSeconds: 15,
		WaitTimeoutSeconds:  60,
		LogLevel:            "warn",
	}
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// WaitTimeout returns the wait round length as a duration.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

// HistoryDisabled reports whether the user turned the ledger off.
func (c *Config) HistoryDisabled() bool {
	return c.HistoryDB == "off"
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal — silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

func validate(cfg *Config) error {
	if cfg.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive (got %d)", cfg.PollIntervalSeconds)
	}

	if cfg.WaitTimeoutSeconds < cfg.PollIntervalSeconds {
		return fmt.Errorf("wait_timeout_seconds (%d) must be at least poll_interval_seconds (%d)",
			cfg.WaitTimeoutSeconds, cfg.PollIntervalSeconds)
	}

	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("log_level must be debug, info, warn, or error (got %q)", cfg.LogLevel)
	}

	return nil
}

// DefaultConfigPath returns the platform-specific config file path.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/globus-go).
// On macOS, uses ~/Library/Application Support/globus-go per Apple guidelines.
func DefaultConfigPath() string {
	dir := defaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultHistoryPath returns the default transfer ledger location under the
// platform data directory.
func DefaultHistoryPath() string {
	dir := defaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "history.db")
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	}
}
