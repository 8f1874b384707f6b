// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/config"
	"github.com/jeranaias/aeris-tui/internal/session"
)

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Streaming.Enabled = false
	client := agent.NewClient("http://localhost:1")
	sessions := session.NewStore(client, "")
	out := &bytes.Buffer{}
	return New(cfg, client, sessions, nil, nil, out), out
}

func TestDispatchHelp(t *testing.T) {
	r, out := newTestREPL(t)

	if quit := r.dispatch(context.Background(), "/help"); quit {
		t.Error("/help should not quit")
	}
	for _, want := range []string{"/new", "/retry", "/export", "/quit"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestDispatchQuit(t *testing.T) {
	r, _ := newTestREPL(t)

	for _, cmd := range []string{"/quit", "/q", "/exit"} {
		if quit := r.dispatch(context.Background(), cmd); !quit {
			t.Errorf("%s should quit", cmd)
		}
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r, out := newTestREPL(t)

	r.dispatch(context.Background(), "/bogus")
	if !strings.Contains(out.String(), "unknown command /bogus") {
		t.Errorf("expected unknown-command notice, got %q", out.String())
	}
}

func TestDispatchSessionWithoutBackend(t *testing.T) {
	r, out := newTestREPL(t)

	r.dispatch(context.Background(), "/session")
	if !strings.Contains(out.String(), "no active session") {
		t.Errorf("expected no-session notice, got %q", out.String())
	}
}

func TestAttachValidatesPath(t *testing.T) {
	r, out := newTestREPL(t)

	r.dispatch(context.Background(), "/attach /no/such/file.csv")
	if !strings.Contains(out.String(), "cannot attach") {
		t.Errorf("expected attach failure, got %q", out.String())
	}
	if r.pendingFile != "" {
		t.Error("failed attach should not set the pending file")
	}
}

func TestAttachThenUpload(t *testing.T) {
	r, out := newTestREPL(t)

	path := filepath.Join(t.TempDir(), "readings.csv")
	if err := os.WriteFile(path, []byte("pm25,12\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r.dispatch(context.Background(), "/attach "+path)
	if !strings.Contains(out.String(), "readings.csv") {
		t.Errorf("expected attach confirmation, got %q", out.String())
	}

	upload, closeFn, err := r.takePendingUpload()
	if err != nil {
		t.Fatalf("takePendingUpload() error = %v", err)
	}
	defer closeFn()

	if upload.Name != "readings.csv" {
		t.Errorf("upload name = %q", upload.Name)
	}
	if upload.Size != 8 {
		t.Errorf("upload size = %d, want 8", upload.Size)
	}
	if r.pendingFile != "" {
		t.Error("pending file should be consumed")
	}

	// Second take returns nothing.
	if again, _, _ := r.takePendingUpload(); again != nil {
		t.Error("pending upload should be single-use")
	}
}

func TestExportWithoutMessages(t *testing.T) {
	r, out := newTestREPL(t)

	r.dispatch(context.Background(), "/export")
	if !strings.Contains(out.String(), "nothing to export") {
		t.Errorf("expected empty-export notice, got %q", out.String())
	}
}

func TestLocationDisabled(t *testing.T) {
	r, out := newTestREPL(t)

	r.dispatch(context.Background(), "/location")
	if !strings.Contains(out.String(), "location is disabled") {
		t.Errorf("expected disabled notice, got %q", out.String())
	}
}
