package ui

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/untoldecay/graphtwin/internal/audit"
)

// RenderQueueTable renders pending change counts grouped by version
func RenderQueueTable(byVersion map[string]int, inFlight int, width int) string {
	var sections []string

	if len(byVersion) == 0 {
		sections = append(sections, TableHintStyle.Render("Queue is empty."))
	} else {
		versions := make([]string, 0, len(byVersion))
		for v := range byVersion {
			versions = append(versions, v)
		}
		sort.Strings(versions)

		total := 0
		rows := [][]string{}
		for _, v := range versions {
			rows = append(rows, []string{v, strconv.Itoa(byVersion[v])})
			total += byVersion[v]
		}
		rows = append(rows, []string{"Total", strconv.Itoa(total)})

		t := NewTable(width).
			Headers("Version", "Pending").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableHeaderStyle
				}
				style := lipgloss.NewStyle().Padding(0, 1)
				if row == len(rows)-1 {
					style = style.Bold(true)
				}
				if col == 0 {
					return style.Align(lipgloss.Left)
				}
				return style.Align(lipgloss.Right)
			})
		sections = append(sections, t.String())
	}

	if inFlight > 0 {
		sections = append(sections, TableWarningStyle.Render(fmt.Sprintf("  %d item(s) in flight", inFlight)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// RenderAuditTable renders recent mutation deltas, newest first
func RenderAuditTable(deltas []*audit.Delta, width int) string {
	if len(deltas) == 0 {
		return TableHintStyle.Render("No audit entries.")
	}

	rows := [][]string{}
	for _, d := range deltas {
		outcome := RenderPass(d.Outcome)
		detail := d.Type
		if d.Outcome == audit.OutcomeFailed {
			outcome = RenderFail(d.Outcome)
			detail = d.Error
		}
		// Keep the detail column from blowing out the layout
		maxDetail := width - 60
		if maxDetail < 12 {
			maxDetail = 12
		}
		if len(detail) > maxDetail {
			detail = detail[:maxDetail-3] + "..."
		}
		rows = append(rows, []string{
			d.CreatedAt.Format("2006-01-02 15:04:05"),
			d.Version,
			d.Action,
			strconv.FormatInt(d.Timestamp, 10),
			outcome,
			detail,
		})
	}

	return NewTable(width).
		Headers("Recorded", "Version", "Action", "TS", "Outcome", "Detail").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 3 {
				return style.Align(lipgloss.Right)
			}
			return style
		}).
		String()
}
