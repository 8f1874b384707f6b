// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifetime of the backend conversational session.
//
// The store lazily acquires a session id on first use, persists it across
// runs, and falls back to a locally generated id when the backend is
// unreachable so the client stays usable offline. Local ids are reconciled
// with backend-issued ids via Adopt once a chat turn succeeds.
package session
