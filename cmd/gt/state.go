package main

import (
	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/store"
)

var stateCompressed bool

var stateCmd = &cobra.Command{
	Use:     "state",
	GroupID: "graphs",
	Short:   "Inspect the live state graph",
}

var stateShowCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Print the live state graph",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showGraphDocument(args[0], store.State, stateCompressed)
	},
}

func init() {
	stateShowCmd.Flags().BoolVar(&stateCompressed, "compressed", false, "Print the compact archive encoding")
	stateCmd.AddCommand(stateShowCmd)
	rootCmd.AddCommand(stateCmd)
}
