// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plain-terminal REPL used when the TUI is
// disabled (--plain or AERIS_PLAIN). It drives the same conversation
// controller as the chat UI, with liner-based input history and slash
// commands for session management.
package cli
