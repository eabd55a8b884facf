package tui

import "github.com/charmbracelet/lipgloss"

// Styles groups the dashboard's lipgloss styles. The palette follows the
// Tokyo Night scheme.
type Styles struct {
	Title       lipgloss.Style
	Panel       lipgloss.Style
	TableHeader lipgloss.Style
	Dim         lipgloss.Style
	Good        lipgloss.Style
	Warn        lipgloss.Style
	Bad         lipgloss.Style
}

// DefaultStyles is the dashboard's default dark theme.
var DefaultStyles = Styles{
	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7aa2f7")).
		MarginBottom(1),
	Panel: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#414868")).
		Padding(0, 1),
	TableHeader: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#565f89")),
	Dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89")),
	Good: lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a")),
	Warn: lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")),
	Bad:  lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e")),
}
