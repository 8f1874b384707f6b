// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/jeranaias/aeris-tui/internal/util"
)

// titleMaxRunes bounds the derived session title length.
const titleMaxRunes = 50

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a server-assigned conversational context. Its identity never
// changes in place: starting a new conversation always allocates a new id
// and abandons the old one.
type Session struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Title        string    `json:"title,omitempty"`
}

// DeriveTitle sets the title from the first user message if none is set.
func (s *Session) DeriveTitle(messages []*Message) {
	if s.Title != "" {
		return
	}
	for _, msg := range messages {
		if msg.Role == RoleUser && msg.Content != "" {
			s.Title = TitleFromContent(msg.Content)
			return
		}
	}
}

// TitleFromContent derives a session title from message content: first line,
// truncated to a display-friendly length.
func TitleFromContent(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return util.TruncateRunes(strings.TrimSpace(line), titleMaxRunes)
}

// IsLocal reports whether the session id was generated client-side as a
// degraded-mode fallback (never issued by the backend).
func (s *Session) IsLocal() bool {
	return IsLocalSessionID(s.ID)
}

// LocalSessionPrefix marks client-generated fallback session ids.
const LocalSessionPrefix = "local-"

// IsLocalSessionID reports whether id is a client-generated fallback id.
func IsLocalSessionID(id string) bool {
	return strings.HasPrefix(id, LocalSessionPrefix)
}
