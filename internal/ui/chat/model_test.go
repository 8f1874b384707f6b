// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/config"
	"github.com/jeranaias/aeris-tui/internal/session"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	cfg := config.Default()
	client := agent.NewClient("http://localhost:1")
	sessions := session.NewStore(client, "")
	return New(cfg, client, sessions, nil, nil)
}

func TestPublishNeverBlocks(t *testing.T) {
	m := newTestModel(t)

	// Flood well past the buffer; a blocking publish would hang the test.
	for i := 0; i < eventBuffer*3; i++ {
		m.publish(refreshMsg{})
	}
}

func TestSendKeyIgnoresWhitespaceInput(t *testing.T) {
	m := newTestModel(t)
	m.input.SetValue("   ")

	cmd, handled := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	if !handled {
		t.Error("enter should be handled")
	}
	if cmd != nil {
		t.Error("whitespace-only input should not produce a send command")
	}
}

func TestResizeMakesViewportReady(t *testing.T) {
	m := newTestModel(t)
	if m.ready {
		t.Fatal("model should not be ready before the first resize")
	}

	m.resize(100, 40)
	if !m.ready {
		t.Error("resize should mark the model ready")
	}
	if m.viewport.Width != 100 {
		t.Errorf("viewport width = %d, want 100", m.viewport.Width)
	}
}

func TestEmptyConversationShowsHint(t *testing.T) {
	m := newTestModel(t)
	m.resize(80, 24)

	out := m.renderConversation()
	if !strings.Contains(out, "air quality") {
		t.Errorf("empty conversation should show the usage hint, got %q", out)
	}
}

func TestHydrateCmdUsesPersistedSession(t *testing.T) {
	cfg := config.Default()
	client := agent.NewClient("http://localhost:1")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "session"), []byte("srv-1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	m := New(cfg, client, session.NewStore(client, dir), nil, nil)
	if m.hydrateCmd() == nil {
		t.Error("a persisted backend session should schedule a history fetch")
	}
}

func TestHydrateCmdSkipsEmptyAndLocalSessions(t *testing.T) {
	m := newTestModel(t)
	if m.hydrateCmd() != nil {
		t.Error("no persisted session should mean no history fetch")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "session"), []byte("local-abc\n"), 0600); err != nil {
		t.Fatal(err)
	}
	client := agent.NewClient("http://localhost:1")
	m = New(config.Default(), client, session.NewStore(client, dir), nil, nil)
	if m.hydrateCmd() != nil {
		t.Error("local fallback ids have no backend history to fetch")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abcdefghijkl"); got != "abcdefgh" {
		t.Errorf("shortID() = %q, want %q", got, "abcdefgh")
	}
	if got := shortID("ab"); got != "ab" {
		t.Errorf("shortID() = %q, want %q", got, "ab")
	}
}
