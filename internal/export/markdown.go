// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/aeris-tui/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(tr *storage.Transcript) ([]byte, error) {
	if tr == nil {
		return nil, fmt.Errorf("transcript is nil")
	}
	if len(tr.Messages) == 0 {
		return nil, fmt.Errorf("transcript has no messages")
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(tr.Title)))
		if tr.SessionID != "" {
			sb.WriteString(fmt.Sprintf("session: %s\n", tr.SessionID))
		}
		sb.WriteString(fmt.Sprintf("date: %s\n", tr.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", tr.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(tr.Messages)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", time.Now().Format(time.RFC3339)))
		sb.WriteString("generator: aeris-tui\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(tr.Title)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(tr.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", formatTimestamp(tr.UpdatedAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", len(tr.Messages)))
		if tools := collectTools(tr); len(tools) > 0 {
			sb.WriteString(fmt.Sprintf("- **Tools Used**: %s\n", strings.Join(tools, ", ")))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range tr.Messages {
		roleLabel := e.formatRoleLabel(msg.Role, msg.IsError)
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n",
				roleLabel, formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", roleLabel))
		}

		if msg.FileName != "" {
			sb.WriteString(fmt.Sprintf("> Attachment: `%s`\n\n", msg.FileName))
		}

		if e.options.IncludeReasoning && msg.ReasoningContent != "" {
			sb.WriteString("<details><summary>Reasoning</summary>\n\n")
			sb.WriteString(msg.ReasoningContent)
			sb.WriteString("\n\n</details>\n\n")
		}

		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		if len(msg.ToolsUsed) > 0 && e.options.IncludeMetadata {
			sb.WriteString(fmt.Sprintf("*Tools: %s*\n\n", strings.Join(msg.ToolsUsed, ", ")))
		}

		if i < len(tr.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// formatRoleLabel returns the display heading for a message role.
func (e *MarkdownExporter) formatRoleLabel(role string, isError bool) string {
	var label string
	switch role {
	case "user":
		label = "You"
	case "assistant":
		label = "Aeris"
	case "system":
		label = "System"
	default:
		label = role
	}
	if isError {
		label += " (failed)"
	}
	return label
}

// collectTools gathers the distinct tools used across the transcript.
func collectTools(tr *storage.Transcript) []string {
	seen := make(map[string]bool)
	var tools []string
	for _, msg := range tr.Messages {
		for _, tool := range msg.ToolsUsed {
			if !seen[tool] {
				seen[tool] = true
				tools = append(tools, tool)
			}
		}
	}
	return tools
}

// escapeYAML quotes a value when it would break YAML parsing.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":{}[]#&*!|>'\"%@`") || strings.TrimSpace(s) != s {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// escapeMarkdown escapes heading-breaking characters in a title.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "#", `\#`)
}
