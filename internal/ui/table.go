package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Styles shared by the tabular reports.
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Align(lipgloss.Center)

	TableWarningStyle = lipgloss.NewStyle().Foreground(ColorWarn)

	// TableHintStyle carries the muted one-liners shown instead of an
	// empty table ("No versions found." and friends).
	TableHintStyle = lipgloss.NewStyle().Foreground(ColorMuted)
)

// NewTable returns the base table every report builds on: rounded border in
// the muted color, constrained to width. Callers attach a StyleFunc for
// per-column alignment.
func NewTable(width int) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(MutedStyle).
		Width(width)
}
