// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation transcripts to shareable formats.
//
// Two exporters are provided: Markdown for human-readable sharing and JSON
// for a faithful re-importable copy. Both operate on storage.Transcript so
// anything the store can hold can be exported.
package export
