// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the Bubble Tea chat interface for aeris.
//
// The Model owns the conversation controller, the streaming consumer, and
// the session store, and bridges their callbacks into the Bubble Tea event
// loop through a buffered channel drained by a self-rescheduling command.
package chat
