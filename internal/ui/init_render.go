package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// InitResult aggregates all information from the initialization process
type InitResult struct {
	// Store layout
	Root      string
	DataDir   string
	QueuePath string
	AuditPath string

	// Step results
	ConfigPath     string
	QueueBackend   string
	SeededVersions []string

	// Problems worth surfacing before first use
	Warnings []string

	// Next steps
	QuickstartCommands []string
}

// RenderInitReport generates a Lipgloss report for the init command
func RenderInitReport(res InitResult, width int) string {
	var sections []string

	// 1. Success Header (Minimal)
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPass).
		Render("✓ gt Initialized Successfully")
	sections = append(sections, header, "")

	// 2. Hierarchical Progress List (using lipgloss/list)
	// Outer list uses checkmarks
	l := list.New().
		Enumerator(func(_ list.Items, i int) string {
			return RenderPass("✓")
		}).
		EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))

	l.Item("Store root: " + res.Root)
	l.Item("Config: " + res.ConfigPath)
	l.Item("Change queue: " + res.QueueBackend)

	if len(res.SeededVersions) > 0 {
		seedList := list.New().Enumerator(func(_ list.Items, i int) string {
			return RenderPass("✓")
		}).EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))

		for _, v := range res.SeededVersions {
			seedList.Item(v)
		}
		l.Item("Seeded versions:")
		l.Item(seedList)
	}

	sections = append(sections, l.String(), "")

	// 3. Setup Details Table (Summary)
	detailsRows := [][]string{
		{"Data", res.DataDir},
		{"Queue", res.QueuePath},
		{"Audit log", res.AuditPath},
	}

	summaryTable := table.New().
		Headers("Component", "Location").
		Rows(detailsRows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				if col == 0 {
					return TableHeaderStyle.Width(20)
				}
				return TableHeaderStyle.Width(width - 20 - 3)
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})

	sections = append(sections, summaryTable.String(), "")

	// 4. Warnings
	if len(res.Warnings) > 0 {
		warnBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarn).
			Padding(0, 1).
			Width(width - 2)

		var warnContent []string
		warnContent = append(warnContent, lipgloss.NewStyle().Bold(true).Foreground(ColorWarn).Render("⚠ Warnings:"))
		for _, w := range res.Warnings {
			warnContent = append(warnContent, "  • "+w)
		}

		sections = append(sections, warnBox.Render(strings.Join(warnContent, "\n")), "")
	}

	// 5. Next Steps
	if len(res.QuickstartCommands) > 0 {
		sections = append(sections, lipgloss.NewStyle().Bold(true).Render("Next Steps:"))
		for _, cmd := range res.QuickstartCommands {
			sections = append(sections, "  • "+lipgloss.NewStyle().Foreground(ColorAccent).Render(cmd))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
