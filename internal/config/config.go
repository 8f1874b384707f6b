// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/aeris-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete aeris configuration.
type Config struct {
	// General settings
	Version string `toml:"version"`

	// Backend configuration
	Backend BackendConfig `toml:"backend"`

	// Streaming configuration
	Streaming StreamingConfig `toml:"streaming"`

	// Location configuration
	Location LocationConfig `toml:"location"`

	// Transcript persistence configuration
	Transcripts TranscriptConfig `toml:"transcripts"`

	// UI configuration
	UI UIConfig `toml:"ui"`
}

// BackendConfig contains agent backend connection settings.
type BackendConfig struct {
	// URL is the agent backend base URL
	URL string `toml:"url"`
	// Role is the role hint sent with every turn
	Role string `toml:"role"`
	// TimeoutSecs is the per-request timeout for batched calls
	TimeoutSecs int `toml:"timeout_secs"`
	// RateLimit bounds chat sends per second (0 = unlimited)
	RateLimit float64 `toml:"rate_limit"`
	// RateBurst is the rate limiter burst size
	RateBurst int `toml:"rate_burst"`
}

// StreamingConfig contains stream consumption settings.
type StreamingConfig struct {
	// Enabled selects the streaming chat endpoint over the batched one
	Enabled bool `toml:"enabled"`
	// FlushIntervalMs is the thinking-fragment flush cadence in milliseconds
	FlushIntervalMs int `toml:"flush_interval_ms"`
}

// LocationConfig contains geolocation settings.
type LocationConfig struct {
	// Enabled attaches coordinates to chat turns when available
	Enabled bool `toml:"enabled"`
	// AutoRequest retrieves the position at startup when permission is
	// already granted. Never prompts on its own.
	AutoRequest bool `toml:"auto_request"`
	// TimeoutSecs bounds a one-shot position request
	TimeoutSecs int `toml:"timeout_secs"`
	// Command is the helper command used to resolve the position.
	// Empty disables the command source.
	Command string `toml:"command"`
	// Latitude/Longitude pin fixed coordinates, used when both are set
	// and Command is empty.
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// TranscriptConfig contains local transcript persistence settings.
type TranscriptConfig struct {
	// Enabled persists finished conversations locally
	Enabled bool `toml:"enabled"`
	// MaxTranscripts prunes the oldest entries past the limit (0 = unlimited)
	MaxTranscripts int `toml:"max_transcripts"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark" or "light"
	Theme string `toml:"theme"`
	// ShowThinking renders the reasoning panel during streaming
	ShowThinking bool `toml:"show_thinking"`
	// ShowTools displays tool invocations in the UI
	ShowTools bool `toml:"show_tools"`
	// CompactMode uses a more compact layout
	CompactMode bool `toml:"compact_mode"`
	// Plain disables the TUI in favor of the line REPL
	Plain bool `toml:"plain"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			URL:         "http://localhost:8000",
			Role:        "general",
			TimeoutSecs: 60,
			RateLimit:   0, // unlimited
			RateBurst:   1,
		},

		Streaming: StreamingConfig{
			Enabled:         true,
			FlushIntervalMs: 50,
		},

		Location: LocationConfig{
			Enabled:     false,
			AutoRequest: false,
			TimeoutSecs: 10,
		},

		Transcripts: TranscriptConfig{
			Enabled:        true,
			MaxTranscripts: 100,
		},

		UI: UIConfig{
			Theme:        "dark",
			ShowThinking: true,
			ShowTools:    true,
			CompactMode:  false,
			Plain:        false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the aeris configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aeris"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StateDir returns the directory for mutable state (session id, logs),
// creating it if needed.
func StateDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	stateDir := filepath.Join(dir, "state")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return "", err
	}
	return stateDir, nil
}

// TranscriptsDir returns the transcripts directory path.
func TranscriptsDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transcripts"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when the file is absent. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full
// validation. A missing file yields defaults, not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default path atomically.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(path, buf.Bytes(), 0o600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies AERIS_* environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	// AERIS_URL
	if backendURL := os.Getenv("AERIS_URL"); backendURL != "" {
		c.Backend.URL = backendURL
	}

	// AERIS_ROLE
	if role := os.Getenv("AERIS_ROLE"); role != "" {
		c.Backend.Role = role
	}

	// AERIS_TIMEOUT
	if timeout := os.Getenv("AERIS_TIMEOUT"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil && secs > 0 {
			c.Backend.TimeoutSecs = secs
		}
	}

	// AERIS_STREAMING
	if streaming := os.Getenv("AERIS_STREAMING"); streaming != "" {
		c.Streaming.Enabled = isTruthy(streaming)
	}

	// AERIS_LOCATION
	if loc := os.Getenv("AERIS_LOCATION"); loc != "" {
		c.Location.Enabled = isTruthy(loc)
	}

	// AERIS_THEME
	if theme := os.Getenv("AERIS_THEME"); theme != "" {
		c.UI.Theme = theme
	}

	// AERIS_PLAIN
	if plain := os.Getenv("AERIS_PLAIN"); plain != "" {
		c.UI.Plain = isTruthy(plain)
	}
}

func isTruthy(s string) bool {
	return s == "1" || strings.EqualFold(s, "true") || strings.EqualFold(s, "yes")
}

// =============================================================================
// DEFAULTS & VALIDATION
// =============================================================================

// SetDefaults fills zero values that have no meaningful zero semantics.
func (c *Config) SetDefaults() {
	defaults := Default()
	if c.Backend.URL == "" {
		c.Backend.URL = defaults.Backend.URL
	}
	if c.Backend.Role == "" {
		c.Backend.Role = defaults.Backend.Role
	}
	if c.Backend.TimeoutSecs <= 0 {
		c.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if c.Backend.RateBurst <= 0 {
		c.Backend.RateBurst = defaults.Backend.RateBurst
	}
	if c.Streaming.FlushIntervalMs <= 0 {
		c.Streaming.FlushIntervalMs = defaults.Streaming.FlushIntervalMs
	}
	if c.Location.TimeoutSecs <= 0 {
		c.Location.TimeoutSecs = defaults.Location.TimeoutSecs
	}
	if c.Transcripts.MaxTranscripts < 0 {
		c.Transcripts.MaxTranscripts = defaults.Transcripts.MaxTranscripts
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend url must be http or https, got %q", c.Backend.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend url has no host: %q", c.Backend.URL)
	}

	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0, got %v", c.Backend.RateLimit)
	}
	if c.Streaming.FlushIntervalMs > 1000 {
		return fmt.Errorf("flush_interval_ms must be <= 1000, got %d", c.Streaming.FlushIntervalMs)
	}
	if c.UI.Theme != "dark" && c.UI.Theme != "light" {
		return fmt.Errorf("theme must be dark or light, got %q", c.UI.Theme)
	}
	if c.Location.Enabled && c.Location.Command == "" {
		if c.Location.Latitude == 0 && c.Location.Longitude == 0 {
			return fmt.Errorf("location enabled but neither command nor coordinates configured")
		}
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("latitude out of range: %v", c.Location.Latitude)
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("longitude out of range: %v", c.Location.Longitude)
		}
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the backend request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSecs) * time.Second
}

// FlushInterval returns the streaming flush cadence as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Streaming.FlushIntervalMs) * time.Millisecond
}

// LocationTimeout returns the position request timeout as a duration.
func (c *Config) LocationTimeout() time.Duration {
	return time.Duration(c.Location.TimeoutSecs) * time.Second
}
