// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation implements the per-conversation turn state machine.
//
// A Controller owns the message log and enforces the single in-flight turn
// rule: sending cancels any previous turn, appends the user message
// optimistically, and either commits an assistant reply or rolls the log
// back. Completions carry a turn token so a superseded turn can never touch
// state after a newer one started.
package conversation
