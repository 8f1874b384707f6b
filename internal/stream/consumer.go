// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"time"

	"github.com/jeranaias/aeris-tui/internal/agent"
)

// =============================================================================
// THINKING STATE
// =============================================================================

// ThinkingState is a snapshot of one streaming turn. Slices are copies; the
// snapshot is safe to retain.
type ThinkingState struct {
	// Thinking is the reasoning text flushed so far.
	Thinking string

	// Content is the answer text received so far.
	Content string

	// ToolsUsed lists tools in invocation order, without duplicates.
	ToolsUsed []string

	// IsStreaming is true from start until done, error, or abort.
	IsStreaming bool

	// Err is the terminal error, if the turn failed. Partial Thinking and
	// Content survive alongside it.
	Err error

	// SessionID is the backend session id carried on the done event.
	SessionID string

	StartedAt time.Time
	Duration  time.Duration
}

// Notify receives a state snapshot after every visible change. Called from
// consumer goroutines; implementations must not block.
type Notify func(ThinkingState)

// StreamFunc drives one turn against the transport, delivering events to the
// callback. It returns when the stream ends. Controllers close this over the
// request so the consumer stays transport-agnostic.
type StreamFunc func(ctx context.Context, cb agent.StreamCallback) error

// =============================================================================
// CONSUMER
// =============================================================================

// Consumer consumes chat stream events and maintains coalesced turn state.
// Starting a new turn aborts the previous one; events from a superseded turn
// are discarded. All methods are safe for concurrent use.
type Consumer struct {
	mu     sync.Mutex
	state  ThinkingState
	notify Notify
	buffer *fragmentBuffer

	// Per-turn lifecycle. generation stamps each turn so stale goroutines
	// cannot touch state after a newer turn started.
	generation uint64
	cancel     context.CancelFunc
	closed     bool

	flushInterval time.Duration
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithFlushInterval sets the thinking-fragment flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// NewConsumer creates a consumer delivering snapshots to notify.
// A nil notify is allowed; state is then only available via State.
func NewConsumer(notify Notify, opts ...Option) *Consumer {
	c := &Consumer{
		notify:        notify,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.buffer = newFragmentBuffer(defaultBatchSize, c.flushInterval)
	return c
}

// State returns a snapshot of the current turn.
func (c *Consumer) State() ThinkingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Run executes one streaming turn, blocking until the stream ends. Any
// in-flight turn is aborted first. The returned error is the stream's
// terminal error (nil on a clean done), also recorded in the state.
func (c *Consumer) Run(ctx context.Context, fn StreamFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return context.Canceled
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.buffer.Reset()
	c.state = ThinkingState{
		IsStreaming: true,
		StartedAt:   time.Now(),
	}
	c.mu.Unlock()
	c.emit(gen)

	stopFlusher := c.startFlusher(gen)
	defer stopFlusher()
	defer cancel()

	err := fn(ctx, func(ev agent.StreamEvent) {
		c.handleEvent(gen, ev)
	})

	c.finish(gen, err)
	return err
}

// Abort cancels the in-flight turn, if any. The turn's state is frozen with
// whatever partial content arrived; no error is recorded.
func (c *Consumer) Abort() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	if c.state.IsStreaming {
		c.state.IsStreaming = false
		c.state.Duration = time.Since(c.state.StartedAt)
	}
	c.buffer.Reset()
	gen := c.generation
	c.mu.Unlock()
	c.emit(gen)
}

// Close aborts any in-flight turn and prevents all further state updates.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	if c.state.IsStreaming {
		c.state.IsStreaming = false
		c.state.Duration = time.Since(c.state.StartedAt)
	}
	c.buffer.Reset()
	c.mu.Unlock()
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

func (c *Consumer) handleEvent(gen uint64, ev agent.StreamEvent) {
	switch ev.Type {
	case agent.EventStart:
		// Turn state was already initialized by Run.

	case agent.EventThinking:
		// Buffered; the flusher delivers it in batches. A superseded
		// turn's late fragment must not land in the fresh buffer.
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.buffer.Write(ev.Content)
		c.mu.Unlock()

	case agent.EventContent:
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.drainThinkingLocked()
		c.state.Content += ev.Content
		c.mu.Unlock()
		c.emit(gen)

	case agent.EventTools:
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.appendToolLocked(ev.ToolName)
		c.mu.Unlock()
		c.emit(gen)

	case agent.EventDone:
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.drainThinkingLocked()
		c.state.SessionID = ev.SessionID
		for _, tool := range ev.ToolsUsed {
			c.appendToolLocked(tool)
		}
		c.mu.Unlock()
		c.emit(gen)
	}
}

// finish marks the turn terminal, flushing any buffered thinking.
func (c *Consumer) finish(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.drainThinkingLocked()
	c.state.IsStreaming = false
	c.state.Err = err
	c.state.Duration = time.Since(c.state.StartedAt)
	c.cancel = nil
	c.mu.Unlock()
	c.emit(gen)
}

// startFlusher delivers buffered thinking fragments on a ticker until
// stopped. Returns the stop function.
func (c *Consumer) startFlusher(gen uint64) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if chunk, ok := c.buffer.Flush(); ok {
					c.mu.Lock()
					if gen != c.generation {
						c.mu.Unlock()
						return
					}
					c.state.Thinking += chunk
					c.mu.Unlock()
					c.emit(gen)
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

// drainThinkingLocked force-flushes the buffer into state. Caller holds c.mu.
func (c *Consumer) drainThinkingLocked() {
	if chunk, ok := c.buffer.ForceFlush(); ok {
		c.state.Thinking += chunk
	}
}

// appendToolLocked records a tool invocation, deduplicated. Caller holds c.mu.
func (c *Consumer) appendToolLocked(name string) {
	if name == "" {
		return
	}
	for _, existing := range c.state.ToolsUsed {
		if existing == name {
			return
		}
	}
	c.state.ToolsUsed = append(c.state.ToolsUsed, name)
}

// snapshotLocked copies the state for handoff. Caller holds c.mu.
func (c *Consumer) snapshotLocked() ThinkingState {
	snap := c.state
	snap.ToolsUsed = append([]string(nil), c.state.ToolsUsed...)
	if snap.IsStreaming {
		snap.Duration = time.Since(snap.StartedAt)
	}
	return snap
}

// emit delivers a snapshot to the observer if the generation is still live.
func (c *Consumer) emit(gen uint64) {
	if c.notify == nil {
		return
	}
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}
