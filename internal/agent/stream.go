// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxChunkSize is the maximum allowed size for a single SSE event (64KB).
const MaxChunkSize = 64 * 1024

// =============================================================================
// STREAM EVENT TYPES
// =============================================================================

// EventType names the discrete events of the agent's chat stream.
type EventType string

const (
	EventStart    EventType = "start"
	EventThinking EventType = "thinking"
	EventContent  EventType = "content"
	EventTools    EventType = "tools"
	EventDone     EventType = "done"
)

// StreamEvent is one demultiplexed event from the chat stream.
type StreamEvent struct {
	Type EventType

	// Content carries the text fragment for thinking and content events.
	Content string

	// ToolName carries the invoked tool for tools events.
	ToolName string

	// SessionID and ToolsUsed are populated on the done event.
	SessionID string
	ToolsUsed []string
}

// StreamCallback is invoked for each event received, in arrival order, from
// the goroutine driving the stream.
type StreamCallback func(ev StreamEvent)

// StreamError represents an abnormal stream termination, preserving any
// partial content received before the failure.
type StreamError struct {
	Partial string // Content received before the error
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// fragmentPayload is the JSON payload of thinking and content events.
type fragmentPayload struct {
	Content string `json:"content"`
}

// toolPayload is the JSON payload of tools events.
type toolPayload struct {
	ToolName string `json:"tool_name"`
}

// donePayload is the JSON payload of the done event.
type donePayload struct {
	SessionID string   `json:"session_id"`
	ToolsUsed []string `json:"tools_used"`
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses server-sent events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event and returns its event name and joined
// data payload. Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var size int

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		size += len(line)
		if size > MaxChunkSize {
			return "", nil, fmt.Errorf("event too large: %d bytes", size)
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 || eventType != "" {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Other fields (id:, retry:, comments) are ignored.
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs one chat turn against the streaming endpoint, invoking
// the callback for each named event until done, error, or ctx cancellation.
//
// The stream is never auto-retried: whether to retry a failed turn is the
// caller's decision. On abnormal termination the returned error is a
// *StreamError carrying the partial content received so far.
func (c *Client) ChatStream(ctx context.Context, chatReq *ChatRequest, callback StreamCallback) error {
	if err := c.waitLimiter(ctx); err != nil {
		return err
	}

	body, contentType, err := buildChatForm(chatReq)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/agent/chat/stream"), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.logRequest(http.MethodPost, "/agent/chat/stream")

	resp, err := c.streamer.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return parseAPIError(resp.StatusCode, errBody)
	}

	return processStream(ctx, resp.Body, callback)
}

// processStream reads and demultiplexes the SSE stream.
func processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body)

	// Accumulated content, kept for StreamError reporting.
	var partial strings.Builder

	for {
		select {
		case <-ctx.Done():
			return streamErr(partial.String(), ctx.Err())
		default:
		}

		name, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				// EOF before the done event is an abnormal close.
				return streamErr(partial.String(), io.ErrUnexpectedEOF)
			}
			return streamErr(partial.String(), err)
		}

		switch EventType(name) {
		case EventStart:
			callback(StreamEvent{Type: EventStart})

		case EventThinking:
			var p fragmentPayload
			if err := json.Unmarshal(data, &p); err != nil {
				continue // Skip malformed fragments
			}
			callback(StreamEvent{Type: EventThinking, Content: p.Content})

		case EventContent:
			var p fragmentPayload
			if err := json.Unmarshal(data, &p); err != nil {
				continue
			}
			partial.WriteString(p.Content)
			callback(StreamEvent{Type: EventContent, Content: p.Content})

		case EventTools:
			var p toolPayload
			if err := json.Unmarshal(data, &p); err != nil {
				continue
			}
			callback(StreamEvent{Type: EventTools, ToolName: p.ToolName})

		case EventDone:
			var p donePayload
			if err := json.Unmarshal(data, &p); err != nil {
				return streamErr(partial.String(), fmt.Errorf("malformed done event: %w", err))
			}
			callback(StreamEvent{
				Type:      EventDone,
				SessionID: p.SessionID,
				ToolsUsed: p.ToolsUsed,
			})
			return nil

		default:
			// Unknown events are ignored for forward compatibility.
		}
	}
}

// streamErr wraps err in a *StreamError carrying the partial content.
func streamErr(partial string, err error) error {
	return &StreamError{Partial: partial, Err: err}
}
