package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// cartouche amber theme
var (
	// Primary colors
	Amber     = lipgloss.Color("#FFB347")
	DeepAmber = lipgloss.Color("#E08E0B")
	Sand      = lipgloss.Color("#F3E5AB")
	Umber     = lipgloss.Color("#8A5A19")
	Teal      = lipgloss.Color("#2EC4B6")

	// Neutral colors
	White     = lipgloss.Color("#FFFFFF")
	LightGray = lipgloss.Color("#B0B0B0")
	DarkGray  = lipgloss.Color("#404040")
	Black     = lipgloss.Color("#1A1A2E")

	// Status colors
	Success = lipgloss.Color("#00FF88")
	Warning = lipgloss.Color("#FFD700")
	Error   = lipgloss.Color("#FF6B6B")
	Info    = lipgloss.Color("#87CEEB")

	// Styles
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Background(Umber).
			Bold(true).
			Padding(0, 2)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(Sand).
			Bold(true)

	LogoStyle = lipgloss.NewStyle().
			Foreground(DeepAmber).
			Bold(true)

	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Amber).
			Padding(1, 2)

	WarningBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Warning).
				Padding(1, 2)

	ErrorBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(Error).
				Padding(1, 2)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Sand).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(Info)

	DimStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	HighlightStyle = lipgloss.NewStyle().
			Foreground(Teal).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(LightGray)
)

// MiniLogo returns the one-line logo.
func MiniLogo() string {
	return LogoStyle.Render("◈ cartouche")
}

// Divider returns a horizontal divider
func Divider(width int) string {
	if width < 0 {
		width = 0
	}
	return DimStyle.Render(strings.Repeat("─", width))
}

// Field renders a label and value on one line.
func Field(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

const (
	BulletPoint = "●"
	ArrowRight  = "→"
	CheckMark   = "✓"
	CrossMark   = "✗"
	WarningSign = "⚠"
	InfoSign    = "ℹ"
)
