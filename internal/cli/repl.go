// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/config"
	"github.com/jeranaias/aeris-tui/internal/conversation"
	"github.com/jeranaias/aeris-tui/internal/export"
	"github.com/jeranaias/aeris-tui/internal/location"
	"github.com/jeranaias/aeris-tui/internal/model"
	"github.com/jeranaias/aeris-tui/internal/session"
	"github.com/jeranaias/aeris-tui/internal/storage"
	"github.com/jeranaias/aeris-tui/internal/stream"
)

// =============================================================================
// REPL
// =============================================================================

// REPL is the plain-terminal chat loop.
type REPL struct {
	cfg         *config.Config
	client      *agent.Client
	controller  *conversation.Controller
	consumer    *stream.Consumer
	sessions    *session.Store
	transcripts *storage.TranscriptStore
	provider    *location.Provider
	input       *LineReader
	out         io.Writer
	renderer    *glamour.TermRenderer

	// pendingFile is attached to the next sent message.
	pendingFile string

	// mu guards the streaming print cursor; the consumer notifies from a
	// different goroutine than the one blocked in Send.
	mu      sync.Mutex
	printed int
	lastErr error
}

// New builds the REPL and wires the conversation stack behind it.
func New(cfg *config.Config, client *agent.Client, sessions *session.Store, transcripts *storage.TranscriptStore, provider *location.Provider, out io.Writer) *REPL {
	r := &REPL{
		cfg:         cfg,
		client:      client,
		sessions:    sessions,
		transcripts: transcripts,
		provider:    provider,
		out:         out,
	}

	opts := []conversation.Option{
		conversation.WithRole(cfg.Backend.Role),
		conversation.WithOnError(func(err error) {
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
		}),
	}
	if cfg.Streaming.Enabled {
		r.consumer = stream.NewConsumer(r.onThinking,
			stream.WithFlushInterval(cfg.FlushInterval()))
		opts = append(opts, conversation.WithStreamRunner(
			func(ctx context.Context, fn func(context.Context, agent.StreamCallback) error) error {
				return r.consumer.Run(ctx, fn)
			}))
	}
	if provider != nil && cfg.Location.Enabled {
		opts = append(opts, conversation.WithLocation(provider.Coordinates))
	}
	r.controller = conversation.NewController(client, sessions, opts...)

	// Markdown rendering for batched replies; streaming prints raw text
	// as it arrives.
	if renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
		r.renderer = renderer
	}

	return r
}

// Controller exposes the conversation controller for teardown in main.
func (r *REPL) Controller() *conversation.Controller { return r.controller }

// onThinking prints newly arrived answer content. Reasoning fragments are
// suppressed in plain mode.
func (r *REPL) onThinking(st stream.ThinkingState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(st.Content) > r.printed {
		fmt.Fprint(r.out, st.Content[r.printed:])
		r.printed = len(st.Content)
	}
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run drives the read-dispatch loop until /quit, EOF, or a read error.
func (r *REPL) Run(ctx context.Context) error {
	stateDir, err := config.StateDir()
	if err != nil {
		stateDir = ""
	}
	r.input = NewLineReader(stateDir)
	defer r.input.Close()

	r.banner()
	r.restoreHistory(ctx)

	for {
		input, err := r.input.ReadInput("aeris> ")
		if err == liner.ErrPromptAborted {
			fmt.Fprintln(r.out, "(interrupted; /quit to exit)")
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := r.dispatch(ctx, input); quit {
				return nil
			}
			continue
		}

		r.sendTurn(ctx, input)
	}
}

// restoreHistory rejoins a persisted session by hydrating the log from the
// backend's stored messages. Best effort: any failure starts fresh.
func (r *REPL) restoreHistory(ctx context.Context) {
	id := r.sessions.Current()
	if id == "" || model.IsLocalSessionID(id) {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	history, err := r.client.GetMessages(fetchCtx, id)
	if err != nil || len(history) == 0 {
		return
	}
	if r.controller.Restore(id, conversation.HistoryMessages(history)) {
		fmt.Fprintf(r.out, "resumed session %s (%d messages)\n\n", id, len(history))
	}
}

func (r *REPL) banner() {
	fmt.Fprintln(r.out, "aeris — air quality assistant (plain mode)")
	fmt.Fprintln(r.out, "type /help for commands")
	fmt.Fprintln(r.out)
}

// =============================================================================
// TURN HANDLING
// =============================================================================

func (r *REPL) sendTurn(ctx context.Context, text string) {
	r.mu.Lock()
	r.printed = 0
	r.lastErr = nil
	r.mu.Unlock()

	upload, closeFn, err := r.takePendingUpload()
	if err != nil {
		fmt.Fprintf(r.out, "attachment error: %v\n", err)
		return
	}
	if closeFn != nil {
		defer closeFn()
	}

	r.controller.Send(ctx, text, upload)

	r.mu.Lock()
	turnErr := r.lastErr
	streamed := r.printed > 0
	r.mu.Unlock()

	if turnErr != nil {
		if streamed {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintf(r.out, "error: %v (/retry to try again)\n", turnErr)
		return
	}

	reply := r.lastAssistant()
	if reply == nil {
		return
	}

	if streamed {
		fmt.Fprintln(r.out)
	} else {
		fmt.Fprintln(r.out, r.renderMarkdown(reply.DisplayContent()))
	}
	if r.cfg.UI.ShowTools && len(reply.ToolsUsed) > 0 {
		fmt.Fprintf(r.out, "[tools: %s]\n", strings.Join(reply.ToolsUsed, ", "))
	}
	fmt.Fprintln(r.out)
}

// takePendingUpload consumes the pending attachment, if any.
func (r *REPL) takePendingUpload() (*agent.Upload, func(), error) {
	path := r.pendingFile
	if path == "" {
		return nil, nil, nil
	}
	r.pendingFile = ""

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	upload := &agent.Upload{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: contentType,
		Reader:      f,
	}
	return upload, func() { f.Close() }, nil
}

func (r *REPL) lastAssistant() *model.Message {
	msgs := r.controller.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i]
		}
	}
	return nil
}

func (r *REPL) renderMarkdown(content string) string {
	if r.renderer == nil || content == "" {
		return content
	}
	rendered, err := r.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// =============================================================================
// COMMANDS
// =============================================================================

// dispatch executes one slash command; returns true when the REPL should
// exit.
func (r *REPL) dispatch(ctx context.Context, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help", "/h", "/?":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return true

	case "/new", "/n":
		r.saveTranscript()
		r.controller.Clear()
		id := r.sessions.StartNew(ctx)
		fmt.Fprintf(r.out, "started session %s\n", id)

	case "/clear", "/c":
		r.controller.Clear()
		fmt.Fprintln(r.out, "conversation cleared")

	case "/retry", "/r":
		r.retryTurn(ctx)

	case "/session", "/s":
		if id := r.sessions.Current(); id != "" {
			fmt.Fprintf(r.out, "session %s\n", id)
		} else {
			fmt.Fprintln(r.out, "no active session")
		}

	case "/attach", "/a":
		r.attach(arg)

	case "/export", "/e":
		r.exportTranscript()

	case "/location", "/loc":
		r.showLocation(ctx)

	default:
		fmt.Fprintf(r.out, "unknown command %s (/help for commands)\n", cmd)
	}
	return false
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, "commands:")
	fmt.Fprintln(r.out, "  /new       start a new session")
	fmt.Fprintln(r.out, "  /clear     clear the conversation")
	fmt.Fprintln(r.out, "  /retry     resend the last message")
	fmt.Fprintln(r.out, "  /attach F  attach file F to the next message")
	fmt.Fprintln(r.out, "  /export    export the conversation to markdown")
	fmt.Fprintln(r.out, "  /session   show the active session id")
	fmt.Fprintln(r.out, "  /location  show the current position")
	fmt.Fprintln(r.out, "  /quit      exit")
}

func (r *REPL) retryTurn(ctx context.Context) {
	r.mu.Lock()
	r.printed = 0
	r.lastErr = nil
	r.mu.Unlock()

	if !r.controller.Retry(ctx) {
		fmt.Fprintln(r.out, "nothing to retry")
		return
	}

	r.mu.Lock()
	turnErr := r.lastErr
	streamed := r.printed > 0
	r.mu.Unlock()

	if turnErr != nil {
		if streamed {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintf(r.out, "error: %v\n", turnErr)
		return
	}
	if streamed {
		fmt.Fprintln(r.out)
	} else if reply := r.lastAssistant(); reply != nil {
		fmt.Fprintln(r.out, r.renderMarkdown(reply.DisplayContent()))
	}
}

func (r *REPL) attach(path string) {
	if path == "" {
		fmt.Fprintln(r.out, "usage: /attach <path>")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(r.out, "cannot attach %s: %v\n", path, err)
		return
	}
	if info.IsDir() {
		fmt.Fprintf(r.out, "cannot attach %s: is a directory\n", path)
		return
	}
	r.pendingFile = path
	fmt.Fprintf(r.out, "will attach %s to the next message\n", filepath.Base(path))
}

func (r *REPL) exportTranscript() {
	msgs := r.controller.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "nothing to export")
		return
	}
	tr := storage.FromMessages(r.sessions.Current(), msgs)
	opts := export.DefaultOptions()
	path, err := export.ToFile(tr, export.NewMarkdownExporter(opts), opts)
	if err != nil {
		fmt.Fprintf(r.out, "export failed: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "exported to %s\n", path)
}

func (r *REPL) showLocation(ctx context.Context) {
	if r.provider == nil {
		fmt.Fprintln(r.out, "location is disabled")
		return
	}
	pos, err := r.provider.Current(ctx)
	if err != nil {
		var perr *location.PositionError
		if errors.As(err, &perr) && perr.Kind == location.KindPermissionDenied {
			fmt.Fprintln(r.out, "location permission denied")
			return
		}
		fmt.Fprintf(r.out, "location unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "position %.4f, %.4f\n", pos.Latitude, pos.Longitude)
}

// SaveTranscript persists the current conversation if transcripts are
// enabled. Called on teardown.
func (r *REPL) SaveTranscript() {
	r.saveTranscript()
}

func (r *REPL) saveTranscript() {
	if r.transcripts == nil {
		return
	}
	msgs := r.controller.Messages()
	if len(msgs) == 0 {
		return
	}
	tr := storage.FromMessages(r.sessions.Current(), msgs)
	_, _ = r.transcripts.Save(tr)
}
