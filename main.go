// aeris TUI - terminal client for the Aeris air-quality chat agent.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/cli"
	"github.com/jeranaias/aeris-tui/internal/config"
	"github.com/jeranaias/aeris-tui/internal/location"
	"github.com/jeranaias/aeris-tui/internal/session"
	"github.com/jeranaias/aeris-tui/internal/storage"
	"github.com/jeranaias/aeris-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		flagURL     = flag.String("url", "", "agent backend URL (overrides config)")
		flagConfig  = flag.String("config", "", "path to config file")
		flagPlain   = flag.Bool("plain", false, "use the plain line REPL instead of the TUI")
		flagVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *flagVersion {
		fmt.Printf("aeris %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*flagConfig, *flagURL, *flagPlain); err != nil {
		fmt.Fprintln(os.Stderr, "aeris:", err)
		os.Exit(1)
	}
}

func run(configPath, urlOverride string, plain bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if urlOverride != "" {
		cfg.Backend.URL = urlOverride
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	stateDir, err := config.StateDir()
	if err != nil {
		stateDir = ""
	}
	setupLogging(stateDir, plain || cfg.UI.Plain)

	client := agent.NewClient(cfg.Backend.URL).
		WithTimeout(cfg.Timeout()).
		WithUserAgent("aeris-tui/" + Version).
		WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.RateBurst)

	sessions := session.NewStore(client, stateDir)

	var transcripts *storage.TranscriptStore
	if cfg.Transcripts.Enabled {
		transcripts, err = storage.NewTranscriptStore()
		if err != nil {
			log.Printf("transcripts disabled: %v", err)
			transcripts = nil
		} else {
			transcripts.MaxTranscripts = cfg.Transcripts.MaxTranscripts
		}
	}

	provider := buildLocationProvider(cfg)

	if plain || cfg.UI.Plain {
		return runPlain(cfg, client, sessions, transcripts, provider)
	}
	return runTUI(cfg, client, sessions, transcripts, provider)
}

// loadConfig resolves the effective configuration; an explicit path must
// exist, the default path falls back to defaults when absent.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// setupLogging sends the standard logger to a state-dir file so log lines
// never corrupt the TUI or REPL output.
func setupLogging(stateDir string, plain bool) {
	if stateDir == "" {
		log.SetOutput(io.Discard)
		return
	}
	f, err := os.OpenFile(filepath.Join(stateDir, "aeris.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.SetOutput(io.Discard)
		return
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
}

// buildLocationProvider selects the position source from config: a helper
// command when set, pinned coordinates otherwise, nil when disabled.
func buildLocationProvider(cfg *config.Config) *location.Provider {
	if !cfg.Location.Enabled {
		return nil
	}

	var source location.Source
	if cfg.Location.Command != "" {
		source = &location.CommandSource{Command: cfg.Location.Command}
	} else {
		source = &location.FixedSource{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
		}
	}

	opts := []location.Option{location.WithTimeout(cfg.LocationTimeout())}
	if cfg.Location.AutoRequest {
		opts = append(opts, location.WithAutoRequest(true))
	}
	return location.NewProvider(source, opts...)
}

// =============================================================================
// FRONTENDS
// =============================================================================

func runTUI(cfg *config.Config, client *agent.Client, sessions *session.Store, transcripts *storage.TranscriptStore, provider *location.Provider) error {
	m := chat.New(cfg, client, sessions, transcripts, provider)

	// Live config reload only touches settings the model re-reads per
	// frame; backend changes need a restart.
	watcher := watchConfig(cfg)
	if watcher != nil {
		defer watcher.Close()
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	m.SaveTranscript()
	m.Consumer().Close()
	sessions.End()
	return nil
}

func runPlain(cfg *config.Config, client *agent.Client, sessions *session.Store, transcripts *storage.TranscriptStore, provider *location.Provider) error {
	r := cli.New(cfg, client, sessions, transcripts, provider, os.Stdout)

	if err := r.Run(context.Background()); err != nil {
		return fmt.Errorf("repl: %w", err)
	}

	r.SaveTranscript()
	sessions.End()
	return nil
}

func watchConfig(cfg *config.Config) *config.Watcher {
	path, err := config.ConfigPath()
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := config.NewWatcher(path, func(next *config.Config) {
		cfg.UI = next.UI
		log.Printf("config reloaded from %s", path)
	})
	if err != nil {
		log.Printf("config watch unavailable: %v", err)
		return nil
	}
	return w
}
