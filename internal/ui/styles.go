package ui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#0B7A3E", Dark: "#3FD37F"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#A05A00", Dark: "#F5B041"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#FF6B6B"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6B6B6B", Dark: "#8A8A8A"}
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
)

// RenderPass renders success text.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warning text.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders failure text.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderAccent renders headings.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderStatus colors a migration status.
func RenderStatus(status string) string {
	switch status {
	case "COMPLETED":
		return RenderPass(status)
	case "ERROR":
		return RenderFail(status)
	default:
		return RenderWarn(status)
	}
}
