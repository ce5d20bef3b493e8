package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/graph"
	"github.com/untoldecay/graphtwin/internal/store"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var (
	schemaTree       bool
	schemaCompressed bool
)

var schemaCmd = &cobra.Command{
	Use:     "schema",
	GroupID: "graphs",
	Short:   "Inspect the live schema graph",
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Print the live schema graph",
	Long: `Print the live schema graph for a version.

By default the node-link JSON document is printed as stored. --tree renders
the topology as a tree rooted at nodes with no incoming edges; --compressed
prints the compact archive encoding instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		version := args[0]
		if schemaTree {
			st := openStore()
			if !st.Exists(version) {
				versionNotFound(st, version)
			}
			g, err := st.LoadLive(version, store.Schema)
			if err != nil {
				FatalError("loading schema: %v", err)
			}
			fmt.Println(ui.RenderGraphTree(g, version))
			return
		}
		showGraphDocument(version, store.Schema, schemaCompressed)
	},
}

func init() {
	schemaShowCmd.Flags().BoolVar(&schemaTree, "tree", false, "Render the graph as a topology tree")
	schemaShowCmd.Flags().BoolVar(&schemaCompressed, "compressed", false, "Print the compact archive encoding")
	schemaCmd.AddCommand(schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}

// showGraphDocument prints the live document for one graph kind. The stored
// node-link form is written through untouched; the compressed form is
// re-encoded from the loaded graph.
func showGraphDocument(version string, kind store.Kind, compressed bool) {
	st := openStore()
	if !st.Exists(version) {
		versionNotFound(st, version)
	}

	if compressed {
		g, err := st.LoadLive(version, kind)
		if err != nil {
			FatalError("loading %s: %v", kind, err)
		}
		data, err := graph.MarshalCompressed(g)
		if err != nil {
			FatalError("encoding %s: %v", kind, err)
		}
		os.Stdout.Write(data)
		fmt.Println()
		return
	}

	data, err := st.ReadLiveRaw(version, kind)
	if err != nil {
		FatalError("reading %s: %v", kind, err)
	}
	os.Stdout.Write(data)
	fmt.Println()
}
