// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for aeris TUI.
// All colors use Lip Gloss AdaptiveColor for automatic light/dark detection.
package styles

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Sky - Brand color, headers, user highlights
var Sky = lipgloss.AdaptiveColor{Light: "#0284C7", Dark: "#38BDF8"}

// Teal - Assistant accent, tool indicators
var Teal = lipgloss.AdaptiveColor{Light: "#0D9488", Dark: "#2DD4BF"}

// Emerald - Success states, good air quality
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Amber - Warnings, moderate readings
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// Rose - Errors, failed turns
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// =============================================================================
// SURFACE AND TEXT COLORS
// =============================================================================

// Surface - Main background
var Surface = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#1E1E2E"}

// Overlay - Borders, separators
var Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

// TextPrimary - Main body text
var TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}

// TextSecondary - Labels, less prominent text
var TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}

// TextMuted - Hints, timestamps
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// Message bubble colors
var UserBubbleFg = lipgloss.AdaptiveColor{Light: "#1E40AF", Dark: "#E0F2FE"}
var UserBubbleBorder = lipgloss.AdaptiveColor{Light: "#3B82F6", Dark: "#3B82F6"}
var AssistantBubbleFg = lipgloss.AdaptiveColor{Light: "#134E4A", Dark: "#CCFBF1"}
var AssistantBubbleBorder = lipgloss.AdaptiveColor{Light: "#5EEAD4", Dark: "#2DD4BF"}
var SystemBubbleFg = lipgloss.AdaptiveColor{Light: "#92400E", Dark: "#FEF3C7"}
var SystemBubbleBorder = lipgloss.AdaptiveColor{Light: "#F59E0B", Dark: "#F59E0B"}

// =============================================================================
// THEME
// =============================================================================

// Theme bundles the composed styles used by the chat view.
type Theme struct {
	Header    lipgloss.Style
	StatusBar lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	SystemBubble    lipgloss.Style
	ErrorBubble     lipgloss.Style

	ThinkingPanel lipgloss.Style
	ThinkingText  lipgloss.Style
	ToolTag       lipgloss.Style

	Timestamp lipgloss.Style
	ErrorText lipgloss.Style
	Hint      lipgloss.Style

	InputPrompt lipgloss.Style
}

// NewTheme builds the style set. The adaptive colors handle light/dark, so
// the name only switches lipgloss's background assumption.
func NewTheme(name string) *Theme {
	lipgloss.SetHasDarkBackground(name != "light")

	return &Theme{
		Header: lipgloss.NewStyle().
			Foreground(Sky).
			Bold(true).
			Padding(0, 1),

		StatusBar: lipgloss.NewStyle().
			Foreground(TextSecondary).
			Padding(0, 1),

		UserLabel: lipgloss.NewStyle().
			Foreground(UserBubbleFg).
			Bold(true),

		AssistantLabel: lipgloss.NewStyle().
			Foreground(AssistantBubbleFg).
			Bold(true),

		SystemLabel: lipgloss.NewStyle().
			Foreground(SystemBubbleFg).
			Bold(true),

		UserBubble: lipgloss.NewStyle().
			Foreground(UserBubbleFg).
			Border(lipgloss.RoundedBorder(), false, false, false, true).
			BorderForeground(UserBubbleBorder).
			PaddingLeft(1),

		AssistantBubble: lipgloss.NewStyle().
			Foreground(TextPrimary).
			Border(lipgloss.RoundedBorder(), false, false, false, true).
			BorderForeground(AssistantBubbleBorder).
			PaddingLeft(1),

		SystemBubble: lipgloss.NewStyle().
			Foreground(SystemBubbleFg).
			Border(lipgloss.RoundedBorder(), false, false, false, true).
			BorderForeground(SystemBubbleBorder).
			PaddingLeft(1),

		ErrorBubble: lipgloss.NewStyle().
			Foreground(Rose).
			Border(lipgloss.RoundedBorder(), false, false, false, true).
			BorderForeground(Rose).
			PaddingLeft(1),

		ThinkingPanel: lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(Overlay).
			PaddingLeft(1),

		ThinkingText: lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true),

		ToolTag: lipgloss.NewStyle().
			Foreground(Teal),

		Timestamp: lipgloss.NewStyle().
			Foreground(TextMuted),

		ErrorText: lipgloss.NewStyle().
			Foreground(Rose).
			Bold(true),

		Hint: lipgloss.NewStyle().
			Foreground(TextMuted),

		InputPrompt: lipgloss.NewStyle().
			Foreground(Sky).
			Bold(true),
	}
}
