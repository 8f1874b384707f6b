// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/aeris-tui/internal/location"
	"github.com/jeranaias/aeris-tui/internal/model"
	"github.com/jeranaias/aeris-tui/internal/stream"
)

// =============================================================================
// EVENT LOOP MESSAGES
// =============================================================================

// refreshMsg signals that the conversation log changed and the viewport
// needs re-rendering. Emitted by the controller's onChange callback.
type refreshMsg struct{}

// thinkingMsg carries a streaming reasoning snapshot from the consumer.
type thinkingMsg stream.ThinkingState

// turnDoneMsg signals that a Send/Retry/Edit command goroutine returned.
type turnDoneMsg struct {
	accepted bool
}

// turnErrMsg carries a turn failure surfaced by the controller.
type turnErrMsg struct {
	err error
}

// sessionResetMsg signals that a new backend session replaced the old one.
type sessionResetMsg struct {
	id string
}

// exportDoneMsg reports the outcome of a transcript export.
type exportDoneMsg struct {
	path string
	err  error
}

// locationMsg carries the result of a position request.
type locationMsg struct {
	pos *location.Position
	err error
}

// historyMsg carries a rejoined session's stored messages.
type historyMsg struct {
	sessionID string
	messages  []*model.Message
}
