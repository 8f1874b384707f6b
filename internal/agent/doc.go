// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent implements the HTTP client for the Aeris agent backend.
//
// The backend exposes a session API (create, list, inspect, delete) and two
// chat endpoints under /api/v1: a batched multipart POST returning the full
// reply, and a streaming multipart POST returning named server-sent events
// (start, thinking, content, tools, done).
//
// Every chat turn is transmitted as multipart/form-data, even when no file is
// attached, so that attachments never change the request shape. Non-2xx
// responses are normalized into *APIError with the message extracted from the
// backend's structured error body.
package agent
