// Package cli renders nexus runs, summaries and results for the terminal.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette. Adaptive colors keep light terminals legible.
var (
	accent  = lipgloss.AdaptiveColor{Light: "#2F5FD0", Dark: "#5B8DEF"}
	good    = lipgloss.AdaptiveColor{Light: "#1F8A80", Dark: "#4ECDC4"}
	caution = lipgloss.AdaptiveColor{Light: "#A67C00", Dark: "#FFE66D"}
	bad     = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF6B6B"}
	note    = lipgloss.AdaptiveColor{Light: "#3B7A6E", Dark: "#95E1D3"}
	muted   = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#666666"}
	rule    = lipgloss.AdaptiveColor{Light: "#BBBBBB", Dark: "#333333"}
)

// Text styles used by the commands.
var (
	SuccessStyle  = lipgloss.NewStyle().Foreground(good)
	WarningStyle  = lipgloss.NewStyle().Foreground(caution)
	ErrorStyle    = lipgloss.NewStyle().Foreground(bad)
	InfoStyle     = lipgloss.NewStyle().Foreground(note)
	SubtleStyle   = lipgloss.NewStyle().Foreground(muted)
	SubtitleStyle = SubtleStyle.MarginBottom(1)
	BoldStyle     = lipgloss.NewStyle().Bold(true)

	// NexusStyle marks a state where the seller owes.
	NexusStyle = lipgloss.NewStyle().Bold(true).Foreground(caution)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(rule).
			Padding(1, 2)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	MapIcon     = "🗺️"
	ChartIcon   = "📊"
	FolderIcon  = "🗄️"
)

func withIcon(style lipgloss.Style, icon, message string) string {
	return style.Render(icon + " " + message)
}

// FormatSuccess prefixes message with a check mark.
func FormatSuccess(message string) string { return withIcon(SuccessStyle, SuccessIcon, message) }

// FormatError prefixes message with a cross.
func FormatError(message string) string { return withIcon(ErrorStyle, ErrorIcon, message) }

// FormatWarning prefixes message with a warning sign.
func FormatWarning(message string) string { return withIcon(WarningStyle, WarningIcon, message) }

// FormatInfo prefixes message with an info sign.
func FormatInfo(message string) string { return withIcon(InfoStyle, InfoIcon, message) }

// RenderBox draws a rounded border around a bold title and its content.
func RenderBox(title, content string) string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}

// StyleStatus colors a run status by how it ended.
func StyleStatus(status string) string {
	style := SubtleStyle
	switch status {
	case "complete":
		style = SuccessStyle
	case "partial", "cancelled":
		style = WarningStyle
	case "error":
		style = ErrorStyle
	}
	return style.Render(status)
}
