package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	primaryColor   = lipgloss.Color("#A78BFA") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#F87171") // Red
	mutedColor     = lipgloss.Color("#9CA3AF") // Gray
	surfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	textColor      = lipgloss.Color("#F9FAFB") // Light text
	borderColor    = lipgloss.Color("#6B7280") // Gray

	// State colors
	stateIdle       = lipgloss.Color("#9CA3AF")
	stateActive     = lipgloss.Color("#60A5FA") // Blue
	statePredicting = lipgloss.Color("#F59E0B")
	stateWon        = lipgloss.Color("#10B981")

	primaryStyle = lipgloss.NewStyle().Foreground(primaryColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(secondaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(borderColor).
			MarginBottom(1)

	targetStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(surfaceColor).
			Padding(0, 1)

	candidateBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 2).
			MarginTop(1)

	winBox = candidateBox.BorderForeground(secondaryColor)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(textColor).
			Background(surfaceColor).
			Padding(0, 1).
			MarginTop(1)

	logStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)
)

func stateColor(name string) lipgloss.Color {
	switch name {
	case "active":
		return stateActive
	case "predicting":
		return statePredicting
	case "won":
		return stateWon
	default:
		return stateIdle
	}
}
