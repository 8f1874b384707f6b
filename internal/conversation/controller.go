// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the turn state of a conversation.
type State int

const (
	StateIdle State = iota
	StateSending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	default:
		return "unknown"
	}
}

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Transport is the subset of the agent client the controller drives.
type Transport interface {
	Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error)
	ChatStream(ctx context.Context, req *agent.ChatRequest, cb agent.StreamCallback) error
}

// Sessions resolves and reconciles the active session id.
type Sessions interface {
	GetOrCreate(ctx context.Context) string
	Adopt(id string)
}

// StreamRunner drives one streaming turn; stream.Consumer.Run satisfies it.
// When nil, turns use the batched Chat endpoint instead.
type StreamRunner func(ctx context.Context, fn func(ctx context.Context, cb agent.StreamCallback) error) error

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns one conversation's message log and turn lifecycle.
// All exported methods are safe for concurrent use; Send blocks for the
// duration of the turn and is expected to run on its own goroutine.
type Controller struct {
	mu        sync.Mutex
	messages  []*model.Message
	sessionID string
	state     State
	lastErr   error

	// turn stamps each Send; a completion whose token no longer matches is
	// discarded without touching state.
	turn uint64

	transport Transport
	sessions  Sessions
	runStream StreamRunner
	cancelMgr *cancelManager

	role     string
	location func() (lat, lon *float64)
	onChange func()
	onError  func(error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithRole sets the role hint attached to every turn.
func WithRole(role string) Option {
	return func(c *Controller) { c.role = role }
}

// WithStreamRunner enables streaming turns, typically via a
// stream.Consumer's Run method.
func WithStreamRunner(run StreamRunner) Option {
	return func(c *Controller) { c.runStream = run }
}

// WithLocation supplies per-turn coordinates. The function is consulted on
// every send; nil returns mean no coordinates are attached.
func WithLocation(fn func() (lat, lon *float64)) Option {
	return func(c *Controller) { c.location = fn }
}

// WithOnChange registers a callback invoked after every log mutation.
// Called from the sending goroutine; must not block.
func WithOnChange(fn func()) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithOnError registers the failed-turn callback, invoked exactly once per
// failed turn.
func WithOnError(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// NewController creates a controller over the given transport and sessions.
func NewController(transport Transport, sessions Sessions, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		sessions:  sessions,
		role:      agent.RoleGeneral,
		cancelMgr: newCancelManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages returns a snapshot of the log. Every message is a detached
// clone, so callers on other goroutines never observe in-flight streaming
// mutations.
func (c *Controller) Messages() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Message, len(c.messages))
	for i, msg := range c.messages {
		out[i] = msg.Clone()
	}
	return out
}

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent failed turn's error, nil after a
// successful turn or Clear.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the conversation's active session id, "" before the
// first turn and after Clear.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// =============================================================================
// SEND
// =============================================================================

// Send submits one turn and blocks until it resolves. Returns false without
// side effects when there is nothing to send or a turn is already in flight.
func (c *Controller) Send(ctx context.Context, text string, file *agent.Upload) bool {
	trimmed := strings.TrimSpace(text)

	c.mu.Lock()
	if (trimmed == "" && file == nil) || c.state == StateSending {
		c.mu.Unlock()
		return false
	}

	// Defensive: the Sending guard normally makes this a no-op, but a forced
	// retry mid-flight must still tear down the previous turn.
	c.cancelMgr.cancel()

	content := userContent(trimmed, file)
	userMsg := model.NewUserMessage(content)
	if file != nil {
		userMsg.File = &model.FileAttachment{
			Name: file.Name,
			Size: file.Size,
			MIME: file.ContentType,
		}
	}
	c.messages = append(c.messages, userMsg)

	c.state = StateSending
	c.lastErr = nil
	c.turn++
	tok := c.turn

	if c.sessionID == "" {
		// Resolved under the lock so concurrent sends agree on the id. The
		// store call is local except on the very first turn.
		c.mu.Unlock()
		id := c.sessions.GetOrCreate(ctx)
		c.mu.Lock()
		if tok != c.turn {
			c.mu.Unlock()
			return false
		}
		c.sessionID = id
	}
	req := &agent.ChatRequest{
		SessionID: c.sessionID,
		Message:   content,
		Role:      c.role,
		File:      file,
	}
	c.mu.Unlock()

	if c.location != nil {
		req.Latitude, req.Longitude = c.location()
	}

	c.notifyChange()

	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelMgr.set(cancel)
	defer cancel()

	if c.runStream != nil {
		c.streamTurn(turnCtx, tok, req, userMsg)
	} else {
		c.batchTurn(turnCtx, tok, req, userMsg)
	}
	return true
}

// batchTurn resolves one turn over the non-streaming endpoint.
func (c *Controller) batchTurn(ctx context.Context, tok uint64, req *agent.ChatRequest, userMsg *model.Message) {
	resp, err := c.transport.Chat(ctx, req)

	c.mu.Lock()
	if tok != c.turn {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.rollbackLocked(userMsg)
		c.failLocked(err)
		return
	}

	reply := model.NewMessage(model.RoleAssistant, resp.Response)
	reply.ToolsUsed = resp.ToolsUsed
	reply.ThinkingSteps = resp.ThinkingSteps
	reply.ReasoningContent = resp.ReasoningContent
	c.messages = append(c.messages, reply)
	c.adoptLocked(resp.SessionID)
	c.state = StateIdle
	c.cancelMgr.set(nil)
	c.mu.Unlock()
	c.notifyChange()
}

// streamTurn resolves one turn over the streaming endpoint. The assistant
// message is appended up front and fed fragments as they arrive.
func (c *Controller) streamTurn(ctx context.Context, tok uint64, req *agent.ChatRequest, userMsg *model.Message) {
	reply := model.NewAssistantMessage()
	var thinking strings.Builder

	c.mu.Lock()
	if tok != c.turn {
		c.mu.Unlock()
		return
	}
	c.messages = append(c.messages, reply)
	c.mu.Unlock()
	c.notifyChange()

	err := c.runStream(ctx, func(ctx context.Context, cb agent.StreamCallback) error {
		return c.transport.ChatStream(ctx, req, func(ev agent.StreamEvent) {
			c.applyStreamEvent(tok, reply, &thinking, ev)
			cb(ev)
		})
	})

	c.mu.Lock()
	if tok != c.turn {
		c.mu.Unlock()
		return
	}
	if err != nil && !reply.HasVisibleContent() {
		// No visible output yet: the turn never happened from the log's
		// perspective.
		c.rollbackLocked(reply)
		c.rollbackLocked(userMsg)
		c.failLocked(err)
		return
	}

	reply.ReasoningContent = thinking.String()
	if err != nil {
		// Partial content already rendered: keep it, marked as failed.
		reply.FailStream()
		c.failLocked(err)
		return
	}
	reply.FinalizeStream()
	c.state = StateIdle
	c.cancelMgr.set(nil)
	c.mu.Unlock()
	c.notifyChange()
}

// applyStreamEvent mirrors stream events into the assistant message.
func (c *Controller) applyStreamEvent(tok uint64, reply *model.Message, thinking *strings.Builder, ev agent.StreamEvent) {
	c.mu.Lock()
	if tok != c.turn {
		c.mu.Unlock()
		return
	}
	switch ev.Type {
	case agent.EventThinking:
		thinking.WriteString(ev.Content)
	case agent.EventContent:
		reply.AppendContent(ev.Content)
	case agent.EventTools:
		reply.AppendTool(ev.ToolName)
	case agent.EventDone:
		c.adoptLocked(ev.SessionID)
		if len(reply.ToolsUsed) == 0 {
			reply.ToolsUsed = ev.ToolsUsed
		}
	}
	c.mu.Unlock()

	if ev.Type == agent.EventContent {
		c.notifyChange()
	}
}

// =============================================================================
// RETRY / EDIT / CLEAR
// =============================================================================

// Retry resubmits the most recent user message's content as a fresh turn.
// No-op when the log holds no user message or a turn is in flight.
func (c *Controller) Retry(ctx context.Context) bool {
	c.mu.Lock()
	var content string
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == model.RoleUser {
			content = c.messages[i].Content
			break
		}
	}
	c.mu.Unlock()

	if content == "" {
		return false
	}
	return c.Send(ctx, content, nil)
}

// Edit replaces the user message at index with newContent and resubmits,
// discarding every message after index. The conversation branches from the
// edited point; only the new branch is retained.
func (c *Controller) Edit(ctx context.Context, index int, newContent string) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.messages) {
		c.mu.Unlock()
		return fmt.Errorf("edit index %d out of range", index)
	}
	if c.messages[index].Role != model.RoleUser {
		c.mu.Unlock()
		return fmt.Errorf("message at index %d is not a user message", index)
	}
	if c.state == StateSending {
		c.mu.Unlock()
		return fmt.Errorf("cannot edit while a turn is in flight")
	}
	c.messages = c.messages[:index]
	c.mu.Unlock()
	c.notifyChange()

	if !c.Send(ctx, newContent, nil) {
		return fmt.Errorf("edited message was empty")
	}
	return nil
}

// Clear empties the log and resets session reference and error state. The
// backend session is untouched; deleting it is the session store's concern.
func (c *Controller) Clear() {
	c.cancelMgr.cancel()
	c.mu.Lock()
	c.turn++
	c.messages = nil
	c.sessionID = ""
	c.lastErr = nil
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyChange()
}

// Abort cancels the in-flight turn, if any. The turn resolves through its
// normal failure path with a context cancellation error.
func (c *Controller) Abort() {
	c.cancelMgr.cancel()
}

// Restore seeds the log from a persisted session's stored history. A no-op
// unless the log is empty and idle, so a restore racing the first send
// never clobbers live state.
func (c *Controller) Restore(sessionID string, history []*model.Message) bool {
	c.mu.Lock()
	if len(c.messages) > 0 || c.state != StateIdle {
		c.mu.Unlock()
		return false
	}
	c.messages = append(c.messages, history...)
	c.sessionID = sessionID
	c.mu.Unlock()
	c.notifyChange()
	return true
}

// AddSystemNotice appends a system message to the log, used for inline
// notices like location failures.
func (c *Controller) AddSystemNotice(text string) {
	c.mu.Lock()
	c.messages = append(c.messages, model.NewSystemMessage(text))
	c.mu.Unlock()
	c.notifyChange()
}

// HistoryMessages converts stored backend messages into log entries.
// Unknown roles map to system messages.
func HistoryMessages(history []agent.SessionMessage) []*model.Message {
	out := make([]*model.Message, 0, len(history))
	for _, h := range history {
		role := model.RoleSystem
		switch h.Role {
		case "user":
			role = model.RoleUser
		case "assistant":
			role = model.RoleAssistant
		}
		msg := model.NewMessage(role, h.Content)
		if !h.Timestamp.IsZero() {
			msg.Timestamp = h.Timestamp
		}
		out = append(out, msg)
	}
	return out
}

// =============================================================================
// INTERNAL
// =============================================================================

// rollbackLocked removes msg from the log if it is still the tail region.
// Caller holds c.mu.
func (c *Controller) rollbackLocked(msg *model.Message) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i] == msg {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// failLocked records a failed turn and fires the error callback. Caller
// holds c.mu; the lock is released before the callback runs.
func (c *Controller) failLocked(err error) {
	c.lastErr = err
	c.state = StateIdle
	c.cancelMgr.set(nil)
	onError := c.onError
	c.mu.Unlock()

	c.notifyChange()
	if onError != nil {
		onError(err)
	}
}

// adoptLocked records a backend-issued session id. Caller holds c.mu.
func (c *Controller) adoptLocked(id string) {
	if id == "" || id == c.sessionID {
		return
	}
	c.sessionID = id
	c.sessions.Adopt(id)
}

func (c *Controller) notifyChange() {
	if c.onChange != nil {
		c.onChange()
	}
}

// userContent derives the user message content for a turn. A file with no
// text gets a default placeholder; any attachment is named in the content.
func userContent(trimmed string, file *agent.Upload) string {
	if file == nil {
		return trimmed
	}
	if trimmed == "" {
		trimmed = "Analyze this document"
	}
	return trimmed + " (" + file.Name + " attached)"
}
