// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package location resolves the user's coordinates for location-aware
// queries.
//
// A Provider wraps a Source (helper command, config-pinned coordinates) and
// classifies failures into permission, availability, and timeout causes so
// the UI can explain them. Location failures never block chat; callers treat
// a missing position as "no coordinates attached".
package location
