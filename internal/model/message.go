// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/aeris-tui/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Aeris"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// FILE ATTACHMENT
// =============================================================================

// FileAttachment describes a file sent with a message. Only metadata is part
// of the message; the underlying bytes are consumed by the transport at send
// time and do not survive a session boundary.
type FileAttachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime_type"`

	// ID is the backend-assigned document id, if the agent processed the file.
	ID string `json:"id,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content. Mutable only while IsStreaming is true.
	Content string `json:"content"`

	// IsStreaming is true while content is still arriving. The transition is
	// one-directional: once finalized a message never streams again.
	IsStreaming bool `json:"-"`

	// IsError marks a terminal failed turn. A message is either a successful
	// reply or an error marker, never both.
	IsError bool `json:"is_error,omitempty"`

	// ToolsUsed lists tool names invoked during generation, in invocation
	// order. Assistant messages only; append-only while streaming.
	ToolsUsed []string `json:"tools_used,omitempty"`

	// File is the optional attachment descriptor for user messages.
	File *FileAttachment `json:"file,omitempty"`

	// Chain-of-thought trace, present only for assistant messages produced
	// by reasoning-capable backends.
	ThinkingSteps    []string      `json:"thinking_steps,omitempty"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
	ThinkingDuration time.Duration `json:"thinking_duration_ns,omitempty"`

	// PERFORMANCE: strings.Builder avoids quadratic allocations during
	// streaming. Merged into Content when the stream finalizes.
	streamContent strings.Builder
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message that is still streaming.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          generateMessageID(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// NewErrorMessage creates an assistant-side error marker for a failed turn.
func NewErrorMessage(content string) *Message {
	msg := NewMessage(RoleAssistant, content)
	msg.IsError = true
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendContent appends a streamed content fragment.
func (m *Message) AppendContent(fragment string) {
	if m.IsStreaming {
		m.streamContent.WriteString(fragment)
	}
}

// AppendTool records a tool invocation during streaming.
func (m *Message) AppendTool(name string) {
	if name == "" {
		return
	}
	m.ToolsUsed = append(m.ToolsUsed, name)
}

// FinalizeStream merges streamed content into Content and ends streaming.
// Calling it on a finalized message is a no-op.
func (m *Message) FinalizeStream() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.IsStreaming = false
}

// FailStream ends streaming and marks the message as a failed turn, keeping
// whatever partial content already arrived.
func (m *Message) FailStream() {
	m.FinalizeStream()
	m.IsError = true
}

// Clone returns a detached copy safe to read without the owner's lock.
// Streamed content observed so far is carried into the copy's own buffer,
// so DisplayContent and HasVisibleContent behave identically on the clone.
func (m *Message) Clone() *Message {
	c := &Message{
		ID:               m.ID,
		Role:             m.Role,
		Timestamp:        m.Timestamp,
		Content:          m.Content,
		IsStreaming:      m.IsStreaming,
		IsError:          m.IsError,
		ToolsUsed:        append([]string(nil), m.ToolsUsed...),
		File:             m.File,
		ThinkingSteps:    append([]string(nil), m.ThinkingSteps...),
		ReasoningContent: m.ReasoningContent,
		ThinkingDuration: m.ThinkingDuration,
	}
	if m.IsStreaming {
		c.streamContent.WriteString(m.streamContent.String())
	}
	return c
}

// DisplayContent returns the content to display (streaming or final).
func (m *Message) DisplayContent() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	return m.Content
}

// HasVisibleContent reports whether the message has produced any user-visible
// output yet. Used to decide between rollback and keep-partial on failure.
func (m *Message) HasVisibleContent() bool {
	return len(m.Content) > 0 || m.streamContent.Len() > 0
}

// Preview returns a truncated single-line preview of the message content.
func (m *Message) Preview(maxRunes int) string {
	content := strings.ReplaceAll(m.DisplayContent(), "\n", " ")
	return util.TruncateRunes(content, maxRunes)
}

// DisplayKey returns a stable-enough key for list rendering, combining the
// creation time with the ordinal position. Not globally unique on its own.
func (m *Message) DisplayKey(ordinal int) string {
	return m.Timestamp.Format(time.RFC3339Nano) + "-" + util.IntToString(ordinal)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	return "msg_" + uuid.NewString()
}
