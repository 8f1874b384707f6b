// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages and sessions.
//
// A Message is one turn (or a fragment of a turn) in a conversation with the
// Aeris agent. A Session is the server-assigned conversational context that
// bounds which history the backend considers on each turn.
//
// Ownership rules: the conversation controller owns the message log, the
// session store owns the active session id. This package only defines the
// shapes and their constructors; it never performs I/O.
package model
