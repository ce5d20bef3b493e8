package ui

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/untoldecay/graphtwin/internal/graph"
)

// VersionRow is one row of the versions overview table.
type VersionRow struct {
	Version  string
	Schema   graph.Stats
	State    graph.Stats
	Archives int
	Current  string // formatted current snapshot timestamp, "-" when unknown
}

// RenderVersionsTable renders the overview of all stored versions
func RenderVersionsTable(rows []VersionRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No versions found.")
	}

	data := [][]string{}
	for _, r := range rows {
		data = append(data, []string{
			r.Version,
			strconv.Itoa(r.Schema.NodeCount),
			strconv.Itoa(r.Schema.EdgeCount),
			strconv.Itoa(r.State.NodeCount),
			strconv.Itoa(r.Archives),
			r.Current,
		})
	}

	return NewTable(width).
		Headers("Version", "Schema Nodes", "Schema Edges", "State Nodes", "Archives", "Current TS").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1)
			if col == 0 {
				return style.Bold(true).Foreground(ColorAccent).Align(lipgloss.Left)
			}
			return style.Align(lipgloss.Right)
		}).
		String()
}

// typeRows merges two per-type count maps into sorted (type, left, right)
// rows. Types appearing in either map get a row; absent counts show as 0.
func typeRows(left, right map[string]int) [][]string {
	names := map[string]bool{}
	for t := range left {
		names[t] = true
	}
	for t := range right {
		names[t] = true
	}
	sorted := make([]string, 0, len(names))
	for t := range names {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	rows := [][]string{}
	for _, t := range sorted {
		name := t
		if name == "" {
			name = "(untyped)"
		}
		rows = append(rows, []string{name, strconv.Itoa(left[t]), strconv.Itoa(right[t])})
	}
	return rows
}

// renderTypeTable renders a per-type breakdown with schema and state columns
func renderTypeTable(title string, rows [][]string, width int) string {
	return NewTable(width).
		Headers(title, "Schema", "State").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1)
			if col == 0 {
				return style.Align(lipgloss.Left)
			}
			return style.Align(lipgloss.Right)
		}).
		String()
}

// RenderStatsReport renders the full stats view for one version: totals,
// snapshot info, and per-type breakdowns for nodes and edges.
func RenderStatsReport(version string, schema, state graph.Stats, archives int, current string, width int) string {
	var sections []string

	header := fmt.Sprintf("📊 Version: %s", version)
	sections = append(sections, TableHeaderStyle.Render(header))
	sections = append(sections, "") // Spacer

	summary := NewTable(width).
		Headers("Graph", "Nodes", "Edges").
		Rows(
			[]string{"Schema", strconv.Itoa(schema.NodeCount), strconv.Itoa(schema.EdgeCount)},
			[]string{"State", strconv.Itoa(state.NodeCount), strconv.Itoa(state.EdgeCount)},
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1)
			if col == 0 {
				return style.Bold(true).Foreground(ColorAccent).Align(lipgloss.Left)
			}
			return style.Align(lipgloss.Right)
		}).
		String()
	sections = append(sections, summary)

	snapshotLine := fmt.Sprintf("Archives: %d", archives)
	if current != "" {
		snapshotLine += fmt.Sprintf("  Current TS: %s", current)
	}
	sections = append(sections, TableHintStyle.Render("  "+snapshotLine))
	sections = append(sections, "") // Spacer

	if rows := typeRows(schema.NodesByType, state.NodesByType); len(rows) > 0 {
		sections = append(sections, renderTypeTable("Node Type", rows, width))
	}
	if rows := typeRows(schema.EdgesByType, state.EdgesByType); len(rows) > 0 {
		sections = append(sections, renderTypeTable("Edge Type", rows, width))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
