package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/store"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var versionsCmd = &cobra.Command{
	Use:     "versions",
	GroupID: "graphs",
	Short:   "List stored graph versions",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		names, err := st.ListVersions()
		if err != nil {
			FatalError("listing versions: %v", err)
		}

		rows := make([]ui.VersionRow, 0, len(names))
		for _, v := range names {
			row, err := collectVersionRow(st, v)
			if err != nil {
				WarnError("skipping %s: %v", v, err)
				continue
			}
			rows = append(rows, row)
		}

		if jsonOutput {
			type versionInfo struct {
				Version     string `json:"version"`
				SchemaNodes int    `json:"schema_nodes"`
				SchemaEdges int    `json:"schema_edges"`
				StateNodes  int    `json:"state_nodes"`
				StateEdges  int    `json:"state_edges"`
				Archives    int    `json:"archives"`
				CurrentTS   string `json:"current_ts,omitempty"`
			}
			out := make([]versionInfo, 0, len(rows))
			for _, r := range rows {
				info := versionInfo{
					Version:     r.Version,
					SchemaNodes: r.Schema.NodeCount,
					SchemaEdges: r.Schema.EdgeCount,
					StateNodes:  r.State.NodeCount,
					StateEdges:  r.State.EdgeCount,
					Archives:    r.Archives,
				}
				if r.Current != "-" {
					info.CurrentTS = r.Current
				}
				out = append(out, info)
			}
			outputJSON(out)
			return
		}

		fmt.Println(ui.RenderVersionsTable(rows, ui.GetWidth()))
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

// collectVersionRow gathers the overview numbers for one version. The current
// timestamp is the newest archived snapshot; a version that has never
// advanced shows "-".
func collectVersionRow(st *store.Store, version string) (ui.VersionRow, error) {
	schema, err := st.LoadLive(version, store.Schema)
	if err != nil {
		return ui.VersionRow{}, err
	}
	state, err := st.LoadLive(version, store.State)
	if err != nil {
		return ui.VersionRow{}, err
	}
	stamps, err := st.ArchiveTimestamps(version, store.Schema)
	if err != nil {
		return ui.VersionRow{}, err
	}

	current := "-"
	if len(stamps) > 0 {
		current = strconv.FormatInt(stamps[len(stamps)-1], 10)
	}
	return ui.VersionRow{
		Version:  version,
		Schema:   schema.Stats(),
		State:    state.Stats(),
		Archives: len(stamps),
		Current:  current,
	}, nil
}
