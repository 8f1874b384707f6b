// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/model"
	"github.com/jeranaias/aeris-tui/internal/util"
)

// sessionFileName is the state file holding the persisted session id.
const sessionFileName = "session"

// teardownTimeout bounds the best-effort session delete on shutdown.
const teardownTimeout = 3 * time.Second

// Backend is the subset of the agent client the store needs.
type Backend interface {
	NewSession(ctx context.Context) (*agent.SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// =============================================================================
// SESSION STORE
// =============================================================================

// Store manages the active session id: lazy acquisition, persistence across
// runs, local fallback when the backend is down, and teardown.
//
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	backend Backend
	path    string // Persisted id location; empty disables persistence
	current string
}

// NewStore creates a store persisting the session id under stateDir.
// An empty stateDir disables persistence.
func NewStore(backend Backend, stateDir string) *Store {
	path := ""
	if stateDir != "" {
		path = filepath.Join(stateDir, sessionFileName)
	}
	s := &Store{backend: backend, path: path}
	// A previous run's session is visible through Current immediately,
	// so startup can rejoin it before the first send.
	s.current = s.loadPersisted()
	return s
}

// Current returns the active session id, or "" if none has been acquired.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// GetOrCreate returns the active session id, acquiring one if needed.
//
// Resolution order: in-memory id, persisted id from a previous run, a fresh
// backend session, and finally a locally generated fallback id when the
// backend cannot be reached. The fallback keeps the client usable offline;
// the real id is adopted later from the first successful chat turn.
func (s *Store) GetOrCreate(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" {
		return s.current
	}

	if id := s.loadPersisted(); id != "" {
		s.current = id
		return id
	}

	s.current = s.acquire(ctx)
	s.persist(s.current)
	return s.current
}

// StartNew discards the active session and acquires a fresh one. The old
// backend session is deleted best-effort in the background; a dead backend
// never delays the fresh session.
func (s *Store) StartNew(ctx context.Context) string {
	s.mu.Lock()
	old := s.current
	s.current = s.acquire(ctx)
	s.persist(s.current)
	fresh := s.current
	s.mu.Unlock()

	go deleteDetached(s.backend, old)
	return fresh
}

// Adopt records a backend-issued session id. Used to reconcile a local
// fallback id (or an id the backend replaced) with the authoritative one
// carried on a chat response.
func (s *Store) Adopt(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.current {
		return
	}
	s.current = id
	s.persist(id)
}

// End deletes the active session best-effort and clears persisted state.
// Intended for process teardown, so the delete runs synchronously (it
// would not survive exit on a goroutine) but never blocks longer than
// teardownTimeout.
func (s *Store) End() {
	s.mu.Lock()
	old := s.current
	s.current = ""
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			log.Printf("session: failed to remove state file: %v", err)
		}
	}
	s.mu.Unlock()

	deleteDetached(s.backend, old)
}

// =============================================================================
// ACQUISITION
// =============================================================================

// acquire asks the backend for a session id, falling back to a local id.
// Caller holds s.mu.
func (s *Store) acquire(ctx context.Context) string {
	if s.backend != nil {
		info, err := s.backend.NewSession(ctx)
		if err == nil && info.SessionID != "" {
			return info.SessionID
		}
		if err != nil {
			log.Printf("session: backend unavailable, using local id: %v", err)
		}
	}
	return model.LocalSessionPrefix + uuid.NewString()
}

// deleteDetached deletes a backend session without tying the request to the
// caller's lifetime: its own context, bounded by teardownTimeout. Local
// fallback ids are unknown to the backend and are skipped.
func deleteDetached(backend Backend, id string) {
	if backend == nil || id == "" || model.IsLocalSessionID(id) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := backend.DeleteSession(ctx, id); err != nil {
		log.Printf("session: delete %s: %v", id, err)
	}
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// loadPersisted reads the session id saved by a previous run. Caller holds
// s.mu.
func (s *Store) loadPersisted() string {
	if s.path == "" {
		return ""
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// persist writes the session id atomically. Caller holds s.mu.
func (s *Store) persist(id string) {
	if s.path == "" || id == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		log.Printf("session: failed to create state dir: %v", err)
		return
	}
	if err := util.AtomicWriteFile(s.path, []byte(id+"\n"), 0o600); err != nil {
		log.Printf("session: failed to persist id: %v", err)
	}
}
