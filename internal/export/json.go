// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/aeris-tui/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports transcripts to JSON.
// NOTE: JSON exports always include the complete transcript and do not
// respect filtering options, so the output is a faithful copy that can be
// re-imported.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter. The options parameter is
// accepted for consistency with other exporters.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Export converts a transcript to pretty-printed JSON.
func (e *JSONExporter) Export(tr *storage.Transcript) ([]byte, error) {
	if tr == nil {
		return nil, fmt.Errorf("transcript is nil")
	}
	return json.MarshalIndent(tr, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
