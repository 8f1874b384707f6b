// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/config"
	"github.com/jeranaias/aeris-tui/internal/conversation"
	"github.com/jeranaias/aeris-tui/internal/location"
	"github.com/jeranaias/aeris-tui/internal/model"
	"github.com/jeranaias/aeris-tui/internal/session"
	"github.com/jeranaias/aeris-tui/internal/storage"
	"github.com/jeranaias/aeris-tui/internal/stream"
	"github.com/jeranaias/aeris-tui/internal/ui/styles"
)

// =============================================================================
// MODEL
// =============================================================================

// eventBuffer sizes the callback-to-event-loop bridge. Thinking snapshots
// are coalesced by the consumer's flush cadence, so backpressure here only
// drops redundant repaints.
const eventBuffer = 64

// Model is the Bubble Tea model for the chat interface.
type Model struct {
	cfg   *config.Config
	theme *styles.Theme
	keys  KeyMap

	client      *agent.Client
	controller  *conversation.Controller
	consumer    *stream.Consumer
	sessions    *session.Store
	transcripts *storage.TranscriptStore
	provider    *location.Provider

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	// events bridges controller/consumer callbacks into the update loop.
	events chan tea.Msg

	width  int
	height int
	ready  bool

	thinking stream.ThinkingState
	status   string
	lastErr  error
}

// New builds the chat model and wires the conversation stack behind it.
// The consumer and controller callbacks publish into the model's event
// channel; a nil provider disables location features.
func New(cfg *config.Config, client *agent.Client, sessions *session.Store, transcripts *storage.TranscriptStore, provider *location.Provider) *Model {
	m := &Model{
		cfg:         cfg,
		client:      client,
		theme:       styles.NewTheme(cfg.UI.Theme),
		keys:        DefaultKeyMap(),
		sessions:    sessions,
		transcripts: transcripts,
		provider:    provider,
		events:      make(chan tea.Msg, eventBuffer),
	}

	m.consumer = stream.NewConsumer(func(st stream.ThinkingState) {
		m.publish(thinkingMsg(st))
	}, stream.WithFlushInterval(cfg.FlushInterval()))

	opts := []conversation.Option{
		conversation.WithRole(cfg.Backend.Role),
		conversation.WithOnChange(func() { m.publish(refreshMsg{}) }),
		conversation.WithOnError(func(err error) { m.publish(turnErrMsg{err: err}) }),
	}
	if cfg.Streaming.Enabled {
		opts = append(opts, conversation.WithStreamRunner(
			func(ctx context.Context, fn func(context.Context, agent.StreamCallback) error) error {
				return m.consumer.Run(ctx, fn)
			}))
	}
	if provider != nil && cfg.Location.Enabled {
		opts = append(opts, conversation.WithLocation(provider.Coordinates))
	}
	m.controller = conversation.NewController(client, sessions, opts...)

	input := textinput.New()
	input.Placeholder = "Ask about air quality..."
	input.Prompt = "> "
	input.PromptStyle = m.theme.InputPrompt
	input.CharLimit = 4000
	input.Focus()
	m.input = input

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(styles.Teal)
	m.spin = spin

	return m
}

// Controller exposes the conversation controller for teardown in main.
func (m *Model) Controller() *conversation.Controller { return m.controller }

// Consumer exposes the reasoning consumer for teardown in main.
func (m *Model) Consumer() *stream.Consumer { return m.consumer }

// publish delivers a message to the update loop without ever blocking a
// controller or consumer callback. Dropped messages are repaint hints that
// the next event repeats.
func (m *Model) publish(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

// waitForEvent reschedules itself from Update after every delivery.
func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.waitForEvent(), m.hydrateCmd())
}

// hydrateCmd fetches the stored history of a persisted session so a
// restart resumes the conversation. Local fallback ids have no backend
// history to fetch.
func (m *Model) hydrateCmd() tea.Cmd {
	id := m.sessions.Current()
	if id == "" || model.IsLocalSessionID(id) {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		history, err := m.client.GetMessages(ctx, id)
		if err != nil || len(history) == 0 {
			return nil
		}
		return historyMsg{sessionID: id, messages: conversation.HistoryMessages(history)}
	}
}

// rebuildRenderer sizes the markdown renderer to the viewport. A nil
// renderer downgrades assistant messages to raw text.
func (m *Model) rebuildRenderer(width int) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.renderer = nil
		return
	}
	m.renderer = r
}
