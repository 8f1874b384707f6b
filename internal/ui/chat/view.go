// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/aeris-tui/internal/model"
	"github.com/jeranaias/aeris-tui/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderHeader() string {
	title := m.theme.Header.Render("aeris")
	subtitle := m.theme.Hint.Render("air quality assistant")

	session := ""
	if id := m.sessions.Current(); id != "" {
		session = m.theme.Hint.Render("session " + shortID(id))
	}

	left := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", subtitle)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(session)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + session
}

func (m *Model) renderStatusBar() string {
	if m.lastErr != nil {
		hint := m.theme.Hint.Render("  ctrl+r retry")
		return m.theme.ErrorText.Render("error: "+m.lastErr.Error()) + hint
	}
	if m.sending() {
		label := "waiting for reply..."
		if m.thinking.IsStreaming {
			label = "thinking..."
		}
		return m.spin.View() + " " + m.theme.StatusBar.Render(label+"  esc to cancel")
	}
	if m.status != "" {
		return m.theme.StatusBar.Render(util.TruncateWidth(m.status, m.contentWidth()))
	}
	return m.theme.Hint.Render(" enter send · ctrl+n new · ctrl+r retry · ctrl+e export · ctrl+c quit")
}

// =============================================================================
// CONVERSATION RENDERING
// =============================================================================

func (m *Model) renderConversation() string {
	msgs := m.controller.Messages()
	if len(msgs) == 0 && !m.thinking.IsStreaming {
		return m.theme.Hint.Render("\n  Ask aeris about air quality, pollution, or sensor readings.\n")
	}

	parts := make([]string, 0, len(msgs)+1)
	for _, msg := range msgs {
		parts = append(parts, m.renderMessage(msg))
	}

	if m.cfg.UI.ShowThinking && m.thinking.IsStreaming && m.thinking.Thinking != "" {
		parts = append(parts, m.renderThinking())
	}

	return strings.Join(parts, "\n\n")
}

func (m *Model) renderMessage(msg *model.Message) string {
	var label, body string
	bubble := m.theme.AssistantBubble

	switch msg.Role {
	case model.RoleUser:
		label = m.theme.UserLabel.Render("You")
		bubble = m.theme.UserBubble
		body = msg.DisplayContent()
		if msg.File != nil {
			body += m.theme.Hint.Render(fmt.Sprintf("\n[attachment: %s]", msg.File.Name))
		}

	case model.RoleAssistant:
		label = m.theme.AssistantLabel.Render("Aeris")
		if msg.IsError {
			label = m.theme.ErrorText.Render("Aeris (failed)")
			bubble = m.theme.ErrorBubble
		}
		body = m.renderMarkdown(msg.DisplayContent())
		if m.cfg.UI.ShowTools && len(msg.ToolsUsed) > 0 {
			body += "\n" + m.theme.ToolTag.Render("tools: "+strings.Join(msg.ToolsUsed, ", "))
		}

	default:
		label = m.theme.SystemLabel.Render("System")
		bubble = m.theme.SystemBubble
		body = msg.DisplayContent()
	}

	ts := m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))
	header := lipgloss.JoinHorizontal(lipgloss.Center, label, " ", ts)
	return header + "\n" + bubble.Width(m.contentWidth()).Render(body)
}

func (m *Model) renderThinking() string {
	text := m.thinking.Thinking
	// Keep the panel to the freshest tail; the full trace lands on the
	// finished message as reasoning content.
	const tailRunes = 400
	if r := []rune(text); len(r) > tailRunes {
		text = "…" + string(r[len(r)-tailRunes:])
	}
	label := m.theme.ThinkingText.Render("reasoning")
	return label + "\n" + m.theme.ThinkingPanel.Width(m.contentWidth()).Render(text)
}

// renderMarkdown renders assistant markdown, falling back to the raw text
// when the renderer is unavailable or rejects the input.
func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil || content == "" {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

func (m *Model) contentWidth() int {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	return w
}
