// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/model"
)

// fakeBackend scripts session creation and records deletes.
type fakeBackend struct {
	mu        sync.Mutex
	nextID    string
	err       error
	deleteErr error
	deleted   []string
}

func (f *fakeBackend) NewSession(ctx context.Context) (*agent.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &agent.SessionInfo{SessionID: f.nextID}, nil
}

func (f *fakeBackend) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return f.deleteErr
}

func (f *fakeBackend) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// waitForDeletes polls for asynchronous deletes to land.
func waitForDeletes(t *testing.T, backend *fakeBackend, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := backend.deletedIDs(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deletes, got %v", want, backend.deletedIDs())
	return nil
}

func TestGetOrCreateFromBackend(t *testing.T) {
	backend := &fakeBackend{nextID: "srv-1"}
	store := NewStore(backend, t.TempDir())

	id := store.GetOrCreate(context.Background())
	if id != "srv-1" {
		t.Errorf("id = %q, want srv-1", id)
	}
	// Second call must return the cached id without another round trip.
	backend.nextID = "srv-2"
	if got := store.GetOrCreate(context.Background()); got != "srv-1" {
		t.Errorf("second call id = %q, want srv-1", got)
	}
}

func TestGetOrCreateFallsBackToLocalID(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	store := NewStore(backend, t.TempDir())

	id := store.GetOrCreate(context.Background())
	if !model.IsLocalSessionID(id) {
		t.Errorf("id = %q, want a local fallback id", id)
	}
	if second := store.GetOrCreate(context.Background()); second != id {
		t.Errorf("fallback id changed across calls: %q then %q", id, second)
	}
}

func TestGetOrCreatePersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{nextID: "srv-1"}

	first := NewStore(backend, dir).GetOrCreate(context.Background())

	backend.nextID = "srv-2"
	second := NewStore(backend, dir).GetOrCreate(context.Background())
	if second != first {
		t.Errorf("restarted store id = %q, want persisted %q", second, first)
	}
}

func TestStartNewDeletesOldSession(t *testing.T) {
	backend := &fakeBackend{nextID: "srv-1"}
	store := NewStore(backend, t.TempDir())
	store.GetOrCreate(context.Background())

	backend.mu.Lock()
	backend.nextID = "srv-2"
	backend.mu.Unlock()

	fresh := store.StartNew(context.Background())
	if fresh != "srv-2" {
		t.Errorf("fresh id = %q", fresh)
	}
	if got := waitForDeletes(t, backend, 1); got[0] != "srv-1" {
		t.Errorf("deleted = %v, want [srv-1]", got)
	}
}

func TestStartNewSurvivesFailedDelete(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{nextID: "srv-1", deleteErr: errors.New("backend gone")}
	store := NewStore(backend, dir)
	old := store.GetOrCreate(context.Background())

	backend.mu.Lock()
	backend.nextID = "srv-2"
	backend.mu.Unlock()

	fresh := store.StartNew(context.Background())
	if fresh == old {
		t.Errorf("fresh id = %q, must differ from %q even when delete fails", fresh, old)
	}
	if store.Current() != fresh {
		t.Errorf("Current = %q, want %q", store.Current(), fresh)
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionFileName))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != fresh {
		t.Errorf("persisted id = %q, want %q", got, fresh)
	}

	// The delete was still attempted against the old session.
	if got := waitForDeletes(t, backend, 1); got[0] != old {
		t.Errorf("deleted = %v, want [%s]", got, old)
	}
}

func TestCurrentExposesPersistedIDAtStartup(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{nextID: "srv-1"}
	NewStore(backend, dir).GetOrCreate(context.Background())

	// A restarted store must surface the persisted id before any send,
	// so startup can rejoin the session and fetch its history.
	restarted := NewStore(backend, dir)
	if got := restarted.Current(); got != "srv-1" {
		t.Errorf("Current = %q at startup, want persisted srv-1", got)
	}
}

func TestAdoptReconcilesLocalID(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{err: errors.New("down")}
	store := NewStore(backend, dir)

	local := store.GetOrCreate(context.Background())
	if !model.IsLocalSessionID(local) {
		t.Fatalf("expected local id, got %q", local)
	}

	store.Adopt("srv-9")
	if store.Current() != "srv-9" {
		t.Errorf("Current = %q, want srv-9", store.Current())
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionFileName))
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "srv-9" {
		t.Errorf("persisted id = %q, want srv-9", got)
	}
}

func TestAdoptIgnoresEmptyAndSame(t *testing.T) {
	store := NewStore(&fakeBackend{nextID: "srv-1"}, "")
	store.GetOrCreate(context.Background())

	store.Adopt("")
	if store.Current() != "srv-1" {
		t.Errorf("Current = %q after empty Adopt", store.Current())
	}
}

func TestEndClearsStateAndDeletes(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{nextID: "srv-1"}
	store := NewStore(backend, dir)
	store.GetOrCreate(context.Background())

	store.End()

	if store.Current() != "" {
		t.Errorf("Current = %q after End", store.Current())
	}
	if _, err := os.Stat(filepath.Join(dir, sessionFileName)); !os.IsNotExist(err) {
		t.Error("state file should be removed by End")
	}
	if got := backend.deletedIDs(); len(got) != 1 || got[0] != "srv-1" {
		t.Errorf("deleted = %v", got)
	}
}

func TestEndSkipsLocalID(t *testing.T) {
	backend := &fakeBackend{err: errors.New("down")}
	store := NewStore(backend, "")
	store.GetOrCreate(context.Background())

	store.End()
	if got := backend.deletedIDs(); len(got) != 0 {
		t.Errorf("local ids must not be sent to the backend, deleted = %v", got)
	}
}
