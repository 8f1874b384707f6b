// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/aeris-tui/internal/conversation"
	"github.com/jeranaias/aeris-tui/internal/export"
	"github.com/jeranaias/aeris-tui/internal/storage"
	"github.com/jeranaias/aeris-tui/internal/stream"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case refreshMsg:
		m.refreshViewport()
		cmds = append(cmds, m.waitForEvent())

	case thinkingMsg:
		m.thinking = stream.ThinkingState(msg)
		m.refreshViewport()
		cmds = append(cmds, m.waitForEvent())

	case turnErrMsg:
		m.lastErr = msg.err
		m.status = ""
		m.refreshViewport()
		cmds = append(cmds, m.waitForEvent())

	case turnDoneMsg:
		if msg.accepted {
			m.status = ""
		}
		m.refreshViewport()

	case sessionResetMsg:
		m.status = "new session " + shortID(msg.id)
		m.refreshViewport()

	case exportDoneMsg:
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.status = "exported to " + msg.path
		}

	case locationMsg:
		if msg.err != nil {
			m.controller.AddSystemNotice("location unavailable: " + msg.err.Error())
		} else {
			m.status = fmt.Sprintf("location %.4f, %.4f", msg.pos.Latitude, msg.pos.Longitude)
		}
		m.refreshViewport()

	case historyMsg:
		if m.controller.Restore(msg.sessionID, msg.messages) {
			m.refreshViewport()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return nil, true
		}
		m.input.Reset()
		m.lastErr = nil
		m.status = ""
		return m.sendCmd(text), true

	case key.Matches(msg, m.keys.Cancel):
		m.controller.Abort()
		m.consumer.Abort()
		return nil, true

	case key.Matches(msg, m.keys.Retry):
		m.lastErr = nil
		return m.retryCmd(), true

	case key.Matches(msg, m.keys.ClearChat):
		m.controller.Clear()
		m.lastErr = nil
		m.refreshViewport()
		return nil, true

	case key.Matches(msg, m.keys.NewSession):
		return m.newSessionCmd(), true

	case key.Matches(msg, m.keys.Export):
		return m.exportCmd(), true

	case key.Matches(msg, m.keys.Locate):
		return m.locateCmd(), true
	}
	return nil, false
}

// =============================================================================
// COMMANDS
// =============================================================================

// sendCmd runs the full turn on the command goroutine; Send blocks until
// the backend replies, so the event loop stays free.
func (m *Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		accepted := m.controller.Send(context.Background(), text, nil)
		return turnDoneMsg{accepted: accepted}
	}
}

func (m *Model) retryCmd() tea.Cmd {
	return func() tea.Msg {
		accepted := m.controller.Retry(context.Background())
		return turnDoneMsg{accepted: accepted}
	}
}

// newSessionCmd saves the finished conversation, tears down the current
// session, and starts a fresh one.
func (m *Model) newSessionCmd() tea.Cmd {
	return func() tea.Msg {
		m.saveTranscript()
		m.controller.Clear()
		id := m.sessions.StartNew(context.Background())
		return sessionResetMsg{id: id}
	}
}

func (m *Model) exportCmd() tea.Cmd {
	return func() tea.Msg {
		msgs := m.controller.Messages()
		if len(msgs) == 0 {
			return exportDoneMsg{err: fmt.Errorf("nothing to export")}
		}
		tr := storage.FromMessages(m.sessions.Current(), msgs)
		opts := export.DefaultOptions()
		path, err := export.ToFile(tr, export.NewMarkdownExporter(opts), opts)
		return exportDoneMsg{path: path, err: err}
	}
}

func (m *Model) locateCmd() tea.Cmd {
	return func() tea.Msg {
		if m.provider == nil {
			return locationMsg{err: fmt.Errorf("location is disabled")}
		}
		pos, err := m.provider.Current(context.Background())
		return locationMsg{pos: pos, err: err}
	}
}

// SaveTranscript persists the current conversation if transcripts are
// enabled and there is anything to save. Called on teardown and before a
// session reset.
func (m *Model) SaveTranscript() {
	m.saveTranscript()
}

func (m *Model) saveTranscript() {
	if m.transcripts == nil {
		return
	}
	msgs := m.controller.Messages()
	if len(msgs) == 0 {
		return
	}
	// Best effort: an unsaved transcript never blocks teardown.
	tr := storage.FromMessages(m.sessions.Current(), msgs)
	_, _ = m.transcripts.Save(tr)
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	// Header, status bar, and the input line each take one row.
	contentHeight := height - 3
	if contentHeight < 1 {
		contentHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(width, contentHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = contentHeight
	}

	m.input.Width = width - 4
	m.rebuildRenderer(width - 2)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if atBottom || m.sending() {
		m.viewport.GotoBottom()
	}
}

func (m *Model) sending() bool {
	return m.controller.State() == conversation.StateSending
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
