// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the agent API.
const (
	// DefaultTimeout is the default timeout for batched API requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	// apiPrefix is the base path of the agent API.
	apiPrefix = "/api/v1"

	// RoleGeneral is the sentinel role hint used when the caller does not
	// specify one.
	RoleGeneral = "general"

	// defaultUserAgent identifies the client to the backend.
	defaultUserAgent = "aeris-tui/0.1.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for batched requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for event-stream requests. No timeout:
	// lifetime is controlled via context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// Upload carries the bytes and metadata of a file attachment for one send.
// The reader is consumed by the transport; only the metadata survives.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// ChatRequest is one chat turn to be sent to the agent.
type ChatRequest struct {
	SessionID string
	Message   string

	// Role is the role hint for the agent. Empty means RoleGeneral.
	Role string

	// Optional coordinates attached to the turn.
	Latitude  *float64
	Longitude *float64

	// Optional file attachment.
	File *Upload
}

// ChatResponse is the agent's reply to a batched chat turn.
type ChatResponse struct {
	Response          string   `json:"response"`
	SessionID         string   `json:"session_id"`
	ToolsUsed         []string `json:"tools_used"`
	TokensUsed        int      `json:"tokens_used"`
	Cached            bool     `json:"cached"`
	DocumentProcessed bool     `json:"document_processed,omitempty"`
	DocumentFilename  string   `json:"document_filename,omitempty"`
	ThinkingSteps     []string `json:"thinking_steps,omitempty"`
	ReasoningContent  string   `json:"reasoning_content,omitempty"`
}

// SessionInfo is returned by session creation.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message,omitempty"`
}

// SessionSummary describes one session in a listing.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Title        string    `json:"title,omitempty"`
}

// SessionMessage is one stored message returned by the history endpoints.
type SessionMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionDetail is a session summary together with its messages.
type SessionDetail struct {
	SessionSummary
	Messages []SessionMessage `json:"messages"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Aeris agent backend. The zero value is not usable;
// construct with NewClient.
//
// The client never caches a session id: callers pass it per request.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	streamer   *http.Client
}

// NewClient creates a client for the agent backend at baseURL
// (e.g. "http://localhost:8000").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userAgent:  defaultUserAgent,
		timeout:    DefaultTimeout,
		httpClient: sharedHTTPClient,
		streamer:   sharedStreamingClient,
	}
}

// WithTimeout sets the per-request timeout for batched calls.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithUserAgent sets the User-Agent header sent with every request.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// WithRateLimit bounds outgoing chat sends to r requests per second with the
// given burst. Zero r disables limiting.
func (c *Client) WithRateLimit(r float64, burst int) *Client {
	if r > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	} else {
		c.limiter = nil
	}
	return c
}

// WithHTTPClient overrides the underlying HTTP clients. Intended for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamer = hc
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + apiPrefix + path
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
}

// logRequest logs an API request without payloads or headers.
func (c *Client) logRequest(method, path string) {
	log.Printf("agent: %s %s", method, path)
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// NewSession asks the backend to allocate a new conversational session.
func (c *Client) NewSession(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/sessions/new", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSessions returns summaries of the backend's known sessions.
func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	if err := c.doJSON(ctx, http.MethodGet, "/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession returns a session summary together with its messages.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var detail SessionDetail
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+sessionID, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetMessages returns the stored message history of a session.
func (c *Client) GetMessages(ctx context.Context, sessionID string) ([]SessionMessage, error) {
	var out []SessionMessage
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+sessionID+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a session. Idempotent: a session that is already gone
// counts as success.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/sessions/"+sessionID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	c.logRequest(http.MethodDelete, "/sessions/"+sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return err
	}

	// Already gone is success.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, body)
	}
	return nil
}

// doJSON performs a request with no body and decodes a JSON response.
func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")
	c.logRequest(method, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// =============================================================================
// CHAT
// =============================================================================

// Chat performs one batched chat turn. The request is always sent as
// multipart/form-data; see ChatStream for the streaming variant.
func (c *Client) Chat(ctx context.Context, chatReq *ChatRequest) (*ChatResponse, error) {
	if err := c.waitLimiter(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := buildChatForm(chatReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/agent/chat"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.logRequest(http.MethodPost, "/agent/chat")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	log.Printf("agent: %d %s (%v)", resp.StatusCode, resp.Status, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &chatResp, nil
}

// waitLimiter blocks until the send limiter permits another request.
func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// buildChatForm encodes a ChatRequest as a multipart form. Text-only turns
// use the same encoding as turns with attachments.
func buildChatForm(chatReq *ChatRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("message", chatReq.Message); err != nil {
		return nil, "", fmt.Errorf("failed to encode form: %w", err)
	}
	if chatReq.SessionID != "" {
		if err := w.WriteField("session_id", chatReq.SessionID); err != nil {
			return nil, "", fmt.Errorf("failed to encode form: %w", err)
		}
	}
	role := chatReq.Role
	if role == "" {
		role = RoleGeneral
	}
	if err := w.WriteField("role", role); err != nil {
		return nil, "", fmt.Errorf("failed to encode form: %w", err)
	}
	if chatReq.Latitude != nil {
		if err := w.WriteField("latitude", strconv.FormatFloat(*chatReq.Latitude, 'f', -1, 64)); err != nil {
			return nil, "", fmt.Errorf("failed to encode form: %w", err)
		}
	}
	if chatReq.Longitude != nil {
		if err := w.WriteField("longitude", strconv.FormatFloat(*chatReq.Longitude, 'f', -1, 64)); err != nil {
			return nil, "", fmt.Errorf("failed to encode form: %w", err)
		}
	}

	if f := chatReq.File; f != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, "", fmt.Errorf("failed to copy file data: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// readResponse reads a response body with a size limit.
//
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
