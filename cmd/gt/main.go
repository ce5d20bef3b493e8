package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/debug"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// rootCtx is cancelled on SIGINT/SIGTERM so serve and work unwind
	// cleanly instead of dying mid-item.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "gt",
	Short: "gt - versioned graph mutation engine",
	Long: `Versioned, time-stamped graph store with a durable mutation queue.

Producers push change envelopes against a named version; a single worker
applies them to the version's schema and state graphs, archiving a snapshot
pair whenever the logical timestamp advances.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			versionCmd.Run(cmd, args)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	// Config must load before any command reads paths or backends.
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config not loaded, using defaults: %v\n", err)
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug output on stderr")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Errors only, no warnings or hints")
	rootCmd.Flags().BoolP("version", "V", false, "Print version and build info")

	rootCmd.AddGroup(&cobra.Group{ID: "graphs", Title: "Graphs & Versions:"})
	rootCmd.AddGroup(&cobra.Group{ID: "pipeline", Title: "Queue & Worker:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
