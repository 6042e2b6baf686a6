package tui

import "github.com/charmbracelet/lipgloss"

const (
	primaryColor   = "#7C3AED" // Purple
	secondaryColor = "#10B981" // Green
	warningColor   = "#F59E0B" // Amber
	errorColor     = "#EF4444" // Red
	dimColor       = "#6B7280" // Gray
)

// Style variables for consistent status rendering.
var (
	// BoxStyle provides a rounded border box with primary color.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(primaryColor)).
			Padding(0, 1)

	// TitleStyle renders titles in primary color with bold.
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(primaryColor)).
			Bold(true)

	// DimStyle renders dim/muted text.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(dimColor))

	// SuccessStyle renders success messages in green.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(secondaryColor))

	// ErrorStyle renders error messages in red.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(errorColor))

	// WarningStyle renders warning messages in amber.
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(warningColor))

	// StatusBarStyle provides styling for the footer line.
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#1F2937")).
			Foreground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)
)

// Status icons, unstyled. Icon pairs them with a style.
const (
	iconDone    = "✓"
	iconRunning = "▸"
	iconWaiting = "○"
	iconFailed  = "✗"
	iconSkipped = "⊘"
)

// Icon returns the glyph for an agent or task status, styled when color
// is true.
func Icon(status string, color bool) string {
	glyph, style := iconFor(status)
	if !color {
		return glyph
	}
	return style.Render(glyph)
}

func iconFor(status string) (string, lipgloss.Style) {
	switch status {
	case "completed", "done":
		return iconDone, SuccessStyle
	case "in_progress", "running", "active":
		return iconRunning, WarningStyle
	case "failed":
		return iconFailed, ErrorStyle
	case "cancelled":
		return iconSkipped, DimStyle
	default:
		return iconWaiting, DimStyle
	}
}
