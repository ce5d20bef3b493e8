package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/graph"
	"github.com/untoldecay/graphtwin/internal/store"
	"github.com/untoldecay/graphtwin/internal/timeparsing"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var (
	archiveKind       string
	archiveTS         int64
	archiveAt         string
	archiveCompressed bool
)

var archiveCmd = &cobra.Command{
	Use:     "archive",
	GroupID: "graphs",
	Short:   "Browse archived snapshots",
}

var archiveListCmd = &cobra.Command{
	Use:   "list <version>",
	Short: "List archived snapshot timestamps",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		version := args[0]
		st := openStore()
		if !st.Exists(version) {
			versionNotFound(st, version)
		}

		schemaTS, err := st.ArchiveTimestamps(version, store.Schema)
		if err != nil {
			FatalError("listing schema archives: %v", err)
		}
		stateTS, err := st.ArchiveTimestamps(version, store.State)
		if err != nil {
			FatalError("listing state archives: %v", err)
		}

		type row struct {
			TS     int64 `json:"ts"`
			Schema bool  `json:"schema"`
			State  bool  `json:"state"`
		}
		merged := map[int64]*row{}
		for _, ts := range schemaTS {
			merged[ts] = &row{TS: ts, Schema: true}
		}
		for _, ts := range stateTS {
			if r, ok := merged[ts]; ok {
				r.State = true
			} else {
				merged[ts] = &row{TS: ts, State: true}
			}
		}
		rows := make([]*row, 0, len(merged))
		for _, r := range merged {
			rows = append(rows, r)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].TS < rows[j].TS })

		if jsonOutput {
			outputJSON(rows)
			return
		}
		if len(rows) == 0 {
			fmt.Println(ui.TableHintStyle.Render("No archives yet. Snapshots appear when a change advances the timestamp."))
			return
		}

		data := [][]string{}
		for _, r := range rows {
			mark := func(ok bool) string {
				if ok {
					return ui.RenderPass(ui.IconPass)
				}
				return ui.RenderMuted("-")
			}
			data = append(data, []string{
				fmt.Sprintf("%d", r.TS),
				time.UnixMilli(r.TS).Format("2006-01-02 15:04:05"),
				mark(r.Schema),
				mark(r.State),
			})
		}
		out := ui.NewTable(ui.GetWidth()).
			Headers("TS", "Time", "Schema", "State").
			Rows(data...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return ui.TableHeaderStyle
				}
				style := lipgloss.NewStyle().Padding(0, 1)
				if col <= 1 {
					return style.Align(lipgloss.Right)
				}
				return style.Align(lipgloss.Center)
			}).
			String()
		fmt.Println(out)
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Print one archived snapshot",
	Long: `Print an archived snapshot for a version.

Select the snapshot by exact timestamp (--ts) or by time expression (--at).
--at accepts compact offsets ("-1d"), dates ("2025-01-15"), epoch
milliseconds, and natural language ("last friday"); the newest snapshot at or
before that moment is shown. The resolved timestamp goes to stderr so stdout
stays pipe-clean.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		version := args[0]
		kind := store.Kind(archiveKind)
		if kind != store.Schema && kind != store.State {
			FatalError("invalid --kind %q (want schema or state)", archiveKind)
		}

		tsSet := cmd.Flags().Changed("ts")
		if tsSet && archiveAt != "" {
			FatalError("--ts and --at are mutually exclusive")
		}
		if !tsSet && archiveAt == "" {
			FatalErrorWithHint("no snapshot selected", "Pass --ts <millis> or --at <time expression>")
		}

		st := openStore()
		if !st.Exists(version) {
			versionNotFound(st, version)
		}

		ts := archiveTS
		if archiveAt != "" {
			ts = resolveArchiveAt(st, version, kind, archiveAt)
		} else if !st.HasArchive(version, kind, ts) {
			FatalErrorWithHint(fmt.Sprintf("no %s archive at %d for %s", kind, ts, version),
				fmt.Sprintf("Run 'gt archive list %s' to see stored snapshots", version))
		}

		if archiveCompressed {
			data, err := st.ReadArchiveRaw(version, kind, ts)
			if err != nil {
				FatalError("reading archive: %v", err)
			}
			os.Stdout.Write(data)
			fmt.Println()
			return
		}

		g, err := st.ReadArchive(version, kind, ts)
		if err != nil {
			FatalError("reading archive: %v", err)
		}
		data, err := graph.Marshal(g)
		if err != nil {
			FatalError("encoding archive: %v", err)
		}
		os.Stdout.Write(data)
		fmt.Println()
	},
}

func init() {
	archiveShowCmd.Flags().StringVar(&archiveKind, "kind", "schema", "Which graph to show (schema or state)")
	archiveShowCmd.Flags().Int64Var(&archiveTS, "ts", 0, "Exact snapshot timestamp in epoch milliseconds")
	archiveShowCmd.Flags().StringVar(&archiveAt, "at", "", "Time expression; shows the newest snapshot at or before it")
	archiveShowCmd.Flags().BoolVar(&archiveCompressed, "compressed", false, "Print the snapshot as stored instead of node-link form")
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)
	rootCmd.AddCommand(archiveCmd)
}

// resolveArchiveAt turns a time expression into the newest archived timestamp
// at or before it. Snapshot timestamps are epoch milliseconds.
func resolveArchiveAt(st *store.Store, version string, kind store.Kind, expr string) int64 {
	t, err := timeparsing.ParseRelativeTime(expr, time.Now())
	if err != nil {
		FatalError("%v", err)
	}
	target := t.UnixMilli()

	stamps, err := st.ArchiveTimestamps(version, kind)
	if err != nil {
		FatalError("listing archives: %v", err)
	}

	ts := int64(-1)
	for _, s := range stamps {
		if s > target {
			break
		}
		ts = s
	}
	if ts < 0 {
		FatalErrorWithHint(fmt.Sprintf("no %s archive at or before %s for %s", kind, t.Format(time.RFC3339), version),
			fmt.Sprintf("Run 'gt archive list %s' to see stored snapshots", version))
	}

	fmt.Fprintf(os.Stderr, "Resolved %q to snapshot %d (%s)\n", expr, ts, time.UnixMilli(ts).Format("2006-01-02 15:04:05"))
	return ts
}
