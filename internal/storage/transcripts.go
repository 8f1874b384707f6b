// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local transcript persistence for aeris TUI.
//
// Transcripts are the client's own copy of finished conversations, one JSON
// file each, independent of the backend's session history. They survive
// backend resets and give export something to work from.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/aeris-tui/internal/model"
	"github.com/jeranaias/aeris-tui/internal/util"
)

// =============================================================================
// TRANSCRIPT TYPES
// =============================================================================

// Transcript is a persisted conversation.
type Transcript struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []TranscriptMessage `json:"messages"`
}

// TranscriptMessage is one persisted message.
type TranscriptMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"is_error,omitempty"`

	ToolsUsed        []string `json:"tools_used,omitempty"`
	ReasoningContent string   `json:"reasoning_content,omitempty"`

	// Attachment metadata, bytes are not persisted.
	FileName string `json:"file_name,omitempty"`
}

// TranscriptMeta is the listing view of a transcript.
type TranscriptMeta struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// FromMessages builds a transcript from a live message log. Streaming
// messages are captured with whatever content they hold.
func FromMessages(sessionID string, msgs []*model.Message) *Transcript {
	tr := &Transcript{SessionID: sessionID}
	for _, m := range msgs {
		stored := TranscriptMessage{
			Role:             m.Role.String(),
			Content:          m.DisplayContent(),
			Timestamp:        m.Timestamp,
			IsError:          m.IsError,
			ToolsUsed:        m.ToolsUsed,
			ReasoningContent: m.ReasoningContent,
		}
		if m.File != nil {
			stored.FileName = m.File.Name
		}
		tr.Messages = append(tr.Messages, stored)
	}
	return tr
}

// =============================================================================
// TRANSCRIPT STORE
// =============================================================================

// TranscriptStore persists transcripts as JSON files under BaseDir.
type TranscriptStore struct {
	// BaseDir is the transcripts directory, default ~/.aeris/transcripts/.
	BaseDir string

	// MaxTranscripts prunes the oldest entries past the limit (0 = unlimited).
	MaxTranscripts int
}

// NewTranscriptStore creates a store under the default directory.
func NewTranscriptStore() (*TranscriptStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewTranscriptStoreWithDir(filepath.Join(homeDir, ".aeris", "transcripts"))
}

// NewTranscriptStoreWithDir creates a store under a custom directory.
func NewTranscriptStoreWithDir(baseDir string) (*TranscriptStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &TranscriptStore{
		BaseDir:        baseDir,
		MaxTranscripts: 100,
	}, nil
}

// Save persists a transcript and returns its id. A missing id or title is
// filled in; UpdatedAt always advances.
func (s *TranscriptStore) Save(tr *Transcript) (string, error) {
	if tr.ID == "" {
		tr.ID = generateTranscriptID()
	}
	if tr.Title == "" {
		tr.Title = deriveTitle(tr)
	}
	tr.UpdatedAt = time.Now()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = tr.UpdatedAt
	}

	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return "", err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(tr.ID), data, 0o644); err != nil {
		return "", err
	}

	if s.MaxTranscripts > 0 {
		s.enforceLimit()
	}
	return tr.ID, nil
}

// Load retrieves a transcript by id.
func (s *TranscriptStore) Load(id string) (*Transcript, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTranscriptNotFound
		}
		return nil, err
	}

	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// List returns all transcripts, most recently updated first. Corrupted
// files are skipped.
func (s *TranscriptStore) List() ([]TranscriptMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []TranscriptMeta{}, nil
		}
		return nil, err
	}

	var metas []TranscriptMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		tr, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		metas = append(metas, TranscriptMeta{
			ID:           tr.ID,
			SessionID:    tr.SessionID,
			Title:        tr.Title,
			CreatedAt:    tr.CreatedAt,
			UpdatedAt:    tr.UpdatedAt,
			MessageCount: len(tr.Messages),
			Preview:      tr.Preview(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search finds transcripts whose title, preview, or message content matches
// the query, case-insensitive. An empty query lists everything.
func (s *TranscriptStore) Search(query string) ([]TranscriptMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}

	query = strings.ToLower(query)
	var results []TranscriptMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
			continue
		}
		tr, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range tr.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// Delete removes a transcript by id.
func (s *TranscriptStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrTranscriptNotFound
		}
		return err
	}
	return nil
}

// Clear removes all transcripts.
func (s *TranscriptStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

// enforceLimit prunes the oldest transcripts past MaxTranscripts.
func (s *TranscriptStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxTranscripts {
		return
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})
	for i := 0; i < len(metas)-s.MaxTranscripts; i++ {
		s.Delete(metas[i].ID)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// Preview returns a single-line preview from the first user message.
func (tr *Transcript) Preview() string {
	for _, msg := range tr.Messages {
		if msg.Role == string(model.RoleUser) && msg.Content != "" {
			line := strings.ReplaceAll(msg.Content, "\n", " ")
			return util.TruncateRunes(line, 80)
		}
	}
	return ""
}

// deriveTitle builds a title from the first user message.
func deriveTitle(tr *Transcript) string {
	for _, msg := range tr.Messages {
		if msg.Role == string(model.RoleUser) && msg.Content != "" {
			return model.TitleFromContent(msg.Content)
		}
	}
	return "New conversation"
}

func (s *TranscriptStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// generateTranscriptID creates a unique transcript id.
func generateTranscriptID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "tr_" + hex.EncodeToString(bytes)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrTranscriptNotFound is returned when a transcript doesn't exist.
// Use errors.Is(err, ErrTranscriptNotFound) to check for this error.
var ErrTranscriptNotFound = &TranscriptError{Message: "transcript not found"}

// TranscriptError represents a transcript-related error.
type TranscriptError struct {
	Message string
}

// Error implements the error interface.
func (e *TranscriptError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing transcript errors.
func (e *TranscriptError) Is(target error) bool {
	t, ok := target.(*TranscriptError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
