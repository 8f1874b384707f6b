// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/aeris-tui/internal/agent"
	"github.com/jeranaias/aeris-tui/internal/model"
)

// fakeTransport scripts Chat and ChatStream responses.
type fakeTransport struct {
	mu      sync.Mutex
	resp    *agent.ChatResponse
	err     error
	events  []agent.StreamEvent
	chatted []string // Messages seen by Chat, in order

	// block, when set, holds Chat until released or the context ends.
	block chan struct{}
}

func (f *fakeTransport) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	f.mu.Lock()
	f.chatted = append(f.chatted, req.Message)
	block := f.block
	resp, err := f.resp, f.err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *fakeTransport) ChatStream(ctx context.Context, req *agent.ChatRequest, cb agent.StreamCallback) error {
	f.mu.Lock()
	events, err := f.events, f.err
	f.mu.Unlock()
	for _, ev := range events {
		cb(ev)
	}
	return err
}

// fakeSessions is a minimal Sessions implementation.
type fakeSessions struct {
	mu      sync.Mutex
	id      string
	adopted []string
}

func (f *fakeSessions) GetOrCreate(ctx context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeSessions) Adopt(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adopted = append(f.adopted, id)
}

// passthroughRunner satisfies StreamRunner without a consumer.
func passthroughRunner(ctx context.Context, fn func(ctx context.Context, cb agent.StreamCallback) error) error {
	return fn(ctx, func(agent.StreamEvent) {})
}

func TestSendSuccessAppendsBothMessages(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{
		Response:   "Hi there",
		SessionID:  "s1",
		ToolsUsed:  []string{},
		TokensUsed: 5,
	}}
	sessions := &fakeSessions{id: "local-seed"}
	c := NewController(transport, sessions)

	if sent := c.Send(context.Background(), "Hello", nil); !sent {
		t.Fatal("Send returned false")
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("log length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("first message = %s %q", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "Hi there" {
		t.Errorf("second message = %s %q", msgs[1].Role, msgs[1].Content)
	}
	if c.SessionID() != "s1" {
		t.Errorf("SessionID = %q, want s1", c.SessionID())
	}
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if len(sessions.adopted) != 1 || sessions.adopted[0] != "s1" {
		t.Errorf("adopted = %v", sessions.adopted)
	}
}

func TestSendFailureRollsBackOptimisticMessage(t *testing.T) {
	transport := &fakeTransport{err: errors.New("backend down")}
	var callbackCount atomic.Int32
	c := NewController(transport, &fakeSessions{id: "s1"},
		WithOnError(func(error) { callbackCount.Add(1) }))

	if sent := c.Send(context.Background(), "Hello", nil); !sent {
		t.Fatal("Send returned false")
	}

	if got := len(c.Messages()); got != 0 {
		t.Errorf("log length after failure = %d, want 0", got)
	}
	if callbackCount.Load() != 1 {
		t.Errorf("error callback invoked %d times, want 1", callbackCount.Load())
	}
	if c.LastError() == nil {
		t.Error("LastError should be set")
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v, want idle", c.State())
	}
}

func TestSendRejectsEmptyAndInFlight(t *testing.T) {
	transport := &fakeTransport{
		resp:  &agent.ChatResponse{Response: "late", SessionID: "s1"},
		block: make(chan struct{}),
	}
	c := NewController(transport, &fakeSessions{id: "s1"})

	if c.Send(context.Background(), "   \n\t ", nil) {
		t.Error("whitespace-only send should be a no-op")
	}
	if len(c.Messages()) != 0 {
		t.Error("rejected send must not touch the log")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Send(context.Background(), "first", nil)
	}()

	// Wait for the first turn to reach the transport.
	for {
		transport.mu.Lock()
		n := len(transport.chatted)
		transport.mu.Unlock()
		if n == 1 {
			break
		}
	}

	if c.Send(context.Background(), "second", nil) {
		t.Error("send while in flight should be rejected")
	}
	close(transport.block)
	wg.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.chatted) != 1 {
		t.Errorf("transport saw %v, want only the first message", transport.chatted)
	}
}

func TestStaleCompletionDiscarded(t *testing.T) {
	transport := &fakeTransport{
		resp:  &agent.ChatResponse{Response: "stale", SessionID: "old"},
		block: make(chan struct{}),
	}
	c := NewController(transport, &fakeSessions{id: "s1"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Send(context.Background(), "first", nil)
	}()
	for {
		transport.mu.Lock()
		n := len(transport.chatted)
		transport.mu.Unlock()
		if n == 1 {
			break
		}
	}

	// Clear supersedes the turn; its eventual resolution must not mutate.
	c.Clear()
	close(transport.block)
	wg.Wait()

	if got := len(c.Messages()); got != 0 {
		t.Errorf("log length = %d after superseded completion, want 0", got)
	}
	if c.LastError() != nil {
		t.Errorf("LastError = %v, want nil", c.LastError())
	}
}

func TestRetryFindsLastUserMessage(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "ok", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})

	c.Send(context.Background(), "question one", nil)
	c.Send(context.Background(), "question two", nil)

	if !c.Retry(context.Background()) {
		t.Fatal("Retry returned false")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	last := transport.chatted[len(transport.chatted)-1]
	if last != "question two" {
		t.Errorf("retried %q, want the last user message", last)
	}
}

func TestRetryNoUserMessage(t *testing.T) {
	c := NewController(&fakeTransport{}, &fakeSessions{})
	if c.Retry(context.Background()) {
		t.Error("Retry on an empty log should be a no-op")
	}
}

func TestEditTruncatesAndResends(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "answer", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})

	c.Send(context.Background(), "original", nil)
	c.Send(context.Background(), "followup", nil)
	if len(c.Messages()) != 4 {
		t.Fatalf("setup log length = %d", len(c.Messages()))
	}

	if err := c.Edit(context.Background(), 0, "rewritten"); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("log length after edit = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "rewritten" {
		t.Errorf("edited content = %q", msgs[0].Content)
	}
}

func TestEditRejectsNonUserIndex(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "a", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})
	c.Send(context.Background(), "hi", nil)

	if err := c.Edit(context.Background(), 1, "nope"); err == nil {
		t.Error("editing an assistant message should fail")
	}
	if err := c.Edit(context.Background(), 5, "nope"); err == nil {
		t.Error("out-of-range edit should fail")
	}
}

func TestClearResetsEverything(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "ok", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})
	c.Send(context.Background(), "hello", nil)

	c.Clear()
	if len(c.Messages()) != 0 || c.SessionID() != "" || c.LastError() != nil {
		t.Error("Clear must empty log, session reference, and error state")
	}
}

func TestFileOnlySendUsesPlaceholder(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "got it", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})

	upload := &agent.Upload{Name: "aqi-report.csv", Size: 128, ContentType: "text/csv"}
	if !c.Send(context.Background(), "", upload) {
		t.Fatal("file-only send should proceed")
	}

	msgs := c.Messages()
	want := "Analyze this document (aqi-report.csv attached)"
	if msgs[0].Content != want {
		t.Errorf("content = %q, want %q", msgs[0].Content, want)
	}
	if msgs[0].File == nil || msgs[0].File.Name != "aqi-report.csv" {
		t.Errorf("attachment metadata missing: %+v", msgs[0].File)
	}
}

func TestStreamingTurnKeepsPartialOnError(t *testing.T) {
	transport := &fakeTransport{
		events: []agent.StreamEvent{
			{Type: agent.EventStart},
			{Type: agent.EventContent, Content: "partial ans"},
		},
		err: &agent.StreamError{Partial: "partial ans", Err: errors.New("connection reset")},
	}
	var callbackCount atomic.Int32
	c := NewController(transport, &fakeSessions{id: "s1"},
		WithStreamRunner(passthroughRunner),
		WithOnError(func(error) { callbackCount.Add(1) }))

	c.Send(context.Background(), "Hello", nil)

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("log length = %d, want user + partial assistant", len(msgs))
	}
	if msgs[1].Content != "partial ans" {
		t.Errorf("partial content = %q", msgs[1].Content)
	}
	if !msgs[1].IsError {
		t.Error("partial assistant message should be marked failed")
	}
	if msgs[1].IsStreaming {
		t.Error("message should be finalized")
	}
	if callbackCount.Load() != 1 {
		t.Errorf("error callback invoked %d times", callbackCount.Load())
	}
}

func TestStreamingTurnRollsBackWithoutVisibleContent(t *testing.T) {
	transport := &fakeTransport{
		events: []agent.StreamEvent{{Type: agent.EventStart}},
		err:    &agent.StreamError{Err: errors.New("refused")},
	}
	c := NewController(transport, &fakeSessions{id: "s1"}, WithStreamRunner(passthroughRunner))

	c.Send(context.Background(), "Hello", nil)
	if got := len(c.Messages()); got != 0 {
		t.Errorf("log length = %d, want 0 when no content rendered", got)
	}
}

func TestStreamingTurnSuccess(t *testing.T) {
	transport := &fakeTransport{
		events: []agent.StreamEvent{
			{Type: agent.EventStart},
			{Type: agent.EventThinking, Content: "reading sensors. "},
			{Type: agent.EventThinking, Content: "comparing history."},
			{Type: agent.EventTools, ToolName: "air_quality"},
			{Type: agent.EventContent, Content: "PM2.5 is low."},
			{Type: agent.EventDone, SessionID: "s2", ToolsUsed: []string{"air_quality"}},
		},
	}
	sessions := &fakeSessions{id: "s1"}
	c := NewController(transport, sessions, WithStreamRunner(passthroughRunner))

	c.Send(context.Background(), "air?", nil)

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("log length = %d", len(msgs))
	}
	reply := msgs[1]
	if reply.Content != "PM2.5 is low." {
		t.Errorf("Content = %q", reply.Content)
	}
	if reply.ReasoningContent != "reading sensors. comparing history." {
		t.Errorf("ReasoningContent = %q", reply.ReasoningContent)
	}
	if len(reply.ToolsUsed) != 1 || reply.ToolsUsed[0] != "air_quality" {
		t.Errorf("ToolsUsed = %v", reply.ToolsUsed)
	}
	if c.SessionID() != "s2" {
		t.Errorf("SessionID = %q, want adopted s2", c.SessionID())
	}
}

func TestRestoreSeedsEmptyLog(t *testing.T) {
	transport := &fakeTransport{}
	c := NewController(transport, &fakeSessions{id: "s1"})

	history := HistoryMessages([]agent.SessionMessage{
		{Role: "user", Content: "how is the air?", Timestamp: time.Now().Add(-time.Hour)},
		{Role: "assistant", Content: "Air is fine."},
		{Role: "tool", Content: "internal note"},
	})

	if !c.Restore("srv-7", history) {
		t.Fatal("Restore should succeed on an empty idle log")
	}

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("log length = %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Errorf("roles = %v, %v", msgs[0].Role, msgs[1].Role)
	}
	if msgs[2].Role != model.RoleSystem {
		t.Errorf("unknown backend role should map to system, got %v", msgs[2].Role)
	}
	if c.SessionID() != "srv-7" {
		t.Errorf("SessionID = %q", c.SessionID())
	}
}

func TestRestoreRefusesNonEmptyLog(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "Hi", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})

	c.Send(context.Background(), "Hello", nil)
	before := len(c.Messages())

	if c.Restore("srv-7", HistoryMessages([]agent.SessionMessage{{Role: "user", Content: "old"}})) {
		t.Error("Restore should refuse a log with live messages")
	}
	if got := len(c.Messages()); got != before {
		t.Errorf("log length = %d, want %d", got, before)
	}
}

func TestAddSystemNotice(t *testing.T) {
	c := NewController(&fakeTransport{}, &fakeSessions{id: "s1"})

	changed := false
	c.onChange = func() { changed = true }
	c.AddSystemNotice("location unavailable: timed out")

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != model.RoleSystem {
		t.Fatalf("expected one system message, got %v", msgs)
	}
	if !changed {
		t.Error("AddSystemNotice should fire the change callback")
	}
}

func TestMessagesReturnsDetachedClones(t *testing.T) {
	transport := &fakeTransport{resp: &agent.ChatResponse{Response: "Hi", SessionID: "s1"}}
	c := NewController(transport, &fakeSessions{id: "s1"})
	c.Send(context.Background(), "Hello", nil)

	snapshot := c.Messages()
	snapshot[1].AppendTool("tampered")
	snapshot[1].Content = "tampered"

	fresh := c.Messages()
	if fresh[1].Content != "Hi" {
		t.Errorf("Content = %q, snapshot mutation leaked into the log", fresh[1].Content)
	}
	if len(fresh[1].ToolsUsed) != 0 {
		t.Errorf("ToolsUsed = %v, snapshot mutation leaked into the log", fresh[1].ToolsUsed)
	}
}

func TestMessagesReadableDuringStreamingTurn(t *testing.T) {
	events := make([]agent.StreamEvent, 0, 102)
	events = append(events, agent.StreamEvent{Type: agent.EventStart})
	for i := 0; i < 100; i++ {
		events = append(events, agent.StreamEvent{Type: agent.EventContent, Content: "x"})
	}
	events = append(events, agent.StreamEvent{Type: agent.EventDone, SessionID: "s1"})
	transport := &fakeTransport{events: events}
	c := NewController(transport, &fakeSessions{id: "s1"}, WithStreamRunner(passthroughRunner))

	// Hammer the snapshot path from another goroutine while the turn
	// streams; the race detector flags any shared mutable state.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, msg := range c.Messages() {
				_ = msg.DisplayContent()
				_ = msg.HasVisibleContent()
				_ = msg.IsStreaming
			}
		}
	}()

	c.Send(context.Background(), "air?", nil)
	close(done)
	wg.Wait()

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("log length = %d", len(msgs))
	}
	if got := len(msgs[1].Content); got != 100 {
		t.Errorf("streamed content length = %d, want 100", got)
	}
}
