// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream consumes an agent chat stream and exposes coalesced state
// for rendering.
//
// Thinking fragments arrive far faster than a terminal should repaint, so
// they are batched in a buffer and flushed on a short ticker; answer content
// is applied immediately. Observers receive a snapshot after every state
// change and decide for themselves what to repaint.
package stream
