// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Backend.URL != "http://localhost:8000" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if !cfg.Streaming.Enabled {
		t.Error("streaming should default on")
	}
	if cfg.FlushInterval() != 50*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval())
	}
}

func TestLoadFromPathMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Backend.URL != Default().Backend.URL {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
}

func TestLoadFromPathParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1.0.0"

[backend]
url = "https://aeris.example.com"
role = "researcher"
timeout_secs = 30

[streaming]
enabled = false
flush_interval_ms = 100

[location]
enabled = true
latitude = 59.91
longitude = 10.75

[ui]
theme = "light"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Backend.URL != "https://aeris.example.com" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.Role != "researcher" {
		t.Errorf("Backend.Role = %q", cfg.Backend.Role)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout())
	}
	if cfg.Streaming.Enabled {
		t.Error("streaming should be off")
	}
	if cfg.FlushInterval() != 100*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval())
	}
	if !cfg.Location.Enabled || cfg.Location.Latitude != 59.91 {
		t.Errorf("Location = %+v", cfg.Location)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("Theme = %q", cfg.UI.Theme)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AERIS_URL", "http://10.0.0.5:8000")
	t.Setenv("AERIS_STREAMING", "false")
	t.Setenv("AERIS_THEME", "light")
	t.Setenv("AERIS_PLAIN", "1")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Backend.URL != "http://10.0.0.5:8000" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Streaming.Enabled {
		t.Error("AERIS_STREAMING=false should disable streaming")
	}
	if cfg.UI.Theme != "light" || !cfg.UI.Plain {
		t.Errorf("UI = %+v", cfg.UI)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad scheme", func(c *Config) { c.Backend.URL = "ftp://example.com" }},
		{"no host", func(c *Config) { c.Backend.URL = "http://" }},
		{"negative rate", func(c *Config) { c.Backend.RateLimit = -1 }},
		{"huge flush", func(c *Config) { c.Streaming.FlushIntervalMs = 5000 }},
		{"bad theme", func(c *Config) { c.UI.Theme = "solarized" }},
		{"location without source", func(c *Config) { c.Location.Enabled = true }},
		{"latitude range", func(c *Config) {
			c.Location.Enabled = true
			c.Location.Latitude = 120
			c.Location.Longitude = 10
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	if cfg.Backend.TimeoutSecs != 60 {
		t.Errorf("TimeoutSecs = %d", cfg.Backend.TimeoutSecs)
	}
	if cfg.Streaming.FlushIntervalMs != 50 {
		t.Errorf("FlushIntervalMs = %d", cfg.Streaming.FlushIntervalMs)
	}
	if cfg.UI.Theme != "dark" {
		t.Errorf("Theme = %q", cfg.UI.Theme)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[backend]\nurl = \"http://a:1\"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("[backend]\nurl = \"http://b:2\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Backend.URL != "http://b:2" {
			t.Errorf("reloaded URL = %q", cfg.Backend.URL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}
