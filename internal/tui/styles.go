package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#FF5F87")
	colorText   = lipgloss.Color("#E4E4E4")
	colorDim    = lipgloss.Color("#6C6C6C")
	colorOK     = lipgloss.Color("#5FD75F")
	colorError  = lipgloss.Color("#FF5F00")
)

var (
	styleTitle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Padding(0, 1)

	stylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(12)

	styleValue = lipgloss.NewStyle().
			Foreground(colorText)

	styleConnected = lipgloss.NewStyle().
			Foreground(colorOK).
			Bold(true)

	styleDisconnected = lipgloss.NewStyle().
				Foreground(colorDim)

	styleError = lipgloss.NewStyle().
			Foreground(colorError)

	styleCursor = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorDim)
)

// swatch renders a block in the strip color; invalid colors render blank.
func swatch(hex string) string {
	return lipgloss.NewStyle().Background(lipgloss.Color(hex)).Render("    ")
}
