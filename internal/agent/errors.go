// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error variables for common agent API failures.
var (
	// ErrSessionNotFound indicates the referenced session does not exist on
	// the backend (e.g. a client-generated fallback id, or an expired one).
	ErrSessionNotFound = errors.New("session not found")
)

// APIError represents a non-success response from the agent backend.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("agent error (HTTP %d): %s", e.Status, e.Message)
}

// Is allows a 404 APIError to be matched against ErrSessionNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrSessionNotFound && e.Status == 404
}

// genericErrorMessage is returned when the backend error body is unparseable.
const genericErrorMessage = "the agent service returned an error"

// errorDetail mirrors the backend's error envelope. The detail field is
// dynamically typed: a plain string, a list of field errors, or a nested
// object. It is normalized in one place rather than probed ad hoc.
type errorDetail struct {
	Detail json.RawMessage `json:"detail"`
}

// fieldError is one entry of a validation-error list.
type fieldError struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseAPIError converts an HTTP error response into an *APIError, extracting
// the message from the structured error body where possible.
func parseAPIError(status int, body []byte) error {
	return &APIError{
		Status:  status,
		Message: extractDetail(body),
	}
}

// extractDetail normalizes the backend's detail field into a single string.
func extractDetail(body []byte) string {
	var envelope errorDetail
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return genericErrorMessage
	}

	raw := envelope.Detail

	// String detail: {"detail": "something went wrong"}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return genericErrorMessage
	}

	// Validation list: {"detail": [{"loc": [...], "msg": "..."}, ...]}
	var fields []fieldError
	if err := json.Unmarshal(raw, &fields); err == nil {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			if f.Msg != "" {
				msgs = append(msgs, f.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
		return genericErrorMessage
	}

	// Nested object: {"detail": {"message": "..."}} or {"detail": {"error": "..."}}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"message", "error", "detail"} {
			if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}

	return genericErrorMessage
}
