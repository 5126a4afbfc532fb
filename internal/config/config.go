// Package config provides TOML configuration file loading for the console.
// The configuration file lives at ~/.veyra/console.toml by default, but can
// be overridden with the --config flag. CLI flags always take precedence
// over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the console configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files via struct tags.
type Config struct {
	// AgentURL is the WebSocket endpoint of the remote agent.
	// If empty and discovery is enabled, the console browses mDNS for it.
	// Default: ws://127.0.0.1:8765/ws
	AgentURL string `toml:"agent_url"`

	// FallbackURL is the base HTTP URL of the agent's request/response
	// fallback transport (POST /api/command, GET /api/health).
	// Default: http://127.0.0.1:8766
	FallbackURL string `toml:"fallback_url"`

	// MaxAttempts is the number of consecutive failed connection attempts
	// tolerated before the console goes offline and switches to the
	// fallback transport. Default: 5
	MaxAttempts int `toml:"max_attempts"`

	// BackoffBaseMs is the initial reconnect delay in milliseconds.
	// The delay doubles after each failed attempt. Default: 500
	BackoffBaseMs int `toml:"backoff_base_ms"`

	// BackoffCeilingMs caps the reconnect delay in milliseconds.
	// Default: 30000
	BackoffCeilingMs int `toml:"backoff_ceiling_ms"`

	// ProbeIntervalMs is the fixed interval of the offline health probe in
	// milliseconds. The probe is independent of the backoff schedule.
	// Default: 15000
	ProbeIntervalMs int `toml:"probe_interval_ms"`

	// RequestTimeoutMs is the per-command response budget in milliseconds.
	// Default: 10000
	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// TranscriptLimit is the maximum number of retained transcript entries.
	// Oldest entries are evicted when the limit is reached. Default: 500
	TranscriptLimit int `toml:"transcript_limit"`

	// DefaultSection is the control surface section shown at startup.
	// Default: console
	DefaultSection string `toml:"default_section"`

	// Theme is the display theme name applied at startup.
	// Default: dark
	Theme string `toml:"theme"`

	// PrefsStore is the path to the SQLite preference database.
	// Default: ~/.veyra/console.db
	PrefsStore string `toml:"prefs_store"`

	// DiscoveryEnabled controls mDNS browsing for the agent endpoint when
	// AgentURL is empty. Default: true
	DiscoveryEnabled bool `toml:"discovery_enabled"`
}

// DefaultConfigPath returns the default config file location:
// ~/.veyra/console.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".veyra", "console.toml"), nil
}

// DefaultPrefsStorePath returns the default preference database location:
// ~/.veyra/console.db.
func DefaultPrefsStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".veyra", "console.db"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.veyra/console.toml). Returns an empty Config without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{DiscoveryEnabled: true}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the console to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
// Called after CLI flags have been merged over the file values.
func (c *Config) ApplyDefaults() {
	if c.AgentURL == "" {
		c.AgentURL = DefaultAgentURL
	}
	if c.FallbackURL == "" {
		c.FallbackURL = DefaultFallbackURL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBaseMs <= 0 {
		c.BackoffBaseMs = DefaultBackoffBaseMs
	}
	if c.BackoffCeilingMs <= 0 {
		c.BackoffCeilingMs = DefaultBackoffCeilingMs
	}
	if c.ProbeIntervalMs <= 0 {
		c.ProbeIntervalMs = DefaultProbeIntervalMs
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	if c.TranscriptLimit <= 0 {
		c.TranscriptLimit = DefaultTranscriptLimit
	}
	if c.DefaultSection == "" {
		c.DefaultSection = DefaultSection
	}
	if c.Theme == "" {
		c.Theme = DefaultTheme
	}
}
