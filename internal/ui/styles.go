// Package ui renders gt's terminal output: status styling, the tabular
// reports, the schema tree view, and the init summary. Colors follow the
// Dracula palette so command output and the interactive forms share one
// look; light terminals get darker equivalents of the same accents.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#14710a", Dark: "#50fa7b"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#a34d14", Dark: "#ffb86c"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#cb3a2a", Dark: "#ff5555"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#644ac9", Dark: "#bd93f9"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#635d97", Dark: "#6272a4"}
)

var (
	PassStyle  = lipgloss.NewStyle().Foreground(ColorPass)
	FailStyle  = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)
)

// IconPass marks completed operations in command output.
const IconPass = "✓"

func RenderPass(s string) string  { return PassStyle.Render(s) }
func RenderFail(s string) string  { return FailStyle.Render(s) }
func RenderMuted(s string) string { return MutedStyle.Render(s) }
