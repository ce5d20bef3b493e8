package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/store"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var statsCmd = &cobra.Command{
	Use:     "stats [version]",
	GroupID: "graphs",
	Short:   "Show graph statistics",
	Long: `Show node and edge counts broken down by type.

With a version argument the full breakdown for that version is shown; without
one a summary row per stored version.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()

		if len(args) == 0 {
			versionsCmd.Run(cmd, args)
			return
		}

		version := args[0]
		if !st.Exists(version) {
			versionNotFound(st, version)
		}

		schema, err := st.LoadLive(version, store.Schema)
		if err != nil {
			FatalError("loading schema: %v", err)
		}
		state, err := st.LoadLive(version, store.State)
		if err != nil {
			FatalError("loading state: %v", err)
		}
		stamps, err := st.ArchiveTimestamps(version, store.Schema)
		if err != nil {
			FatalError("listing archives: %v", err)
		}

		current := ""
		if len(stamps) > 0 {
			current = strconv.FormatInt(stamps[len(stamps)-1], 10)
		}

		if jsonOutput {
			out := map[string]interface{}{
				"version":  version,
				"schema":   schema.Stats(),
				"state":    state.Stats(),
				"archives": len(stamps),
			}
			if current != "" {
				out["current_ts"] = stamps[len(stamps)-1]
			}
			outputJSON(out)
			return
		}

		fmt.Println(ui.RenderStatsReport(version, schema.Stats(), state.Stats(), len(stamps), current, ui.GetWidth()))
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
