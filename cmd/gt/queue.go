package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/ui"
)

var (
	queueByVersion bool
	queueYes       bool
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "pipeline",
	Short:   "Inspect and manage the change queue",
}

var queueLengthCmd = &cobra.Command{
	Use:   "length",
	Short: "Show how many changes are waiting",
	Run: func(cmd *cobra.Command, args []string) {
		q := openQueue()
		defer q.Close()

		n, err := q.Len(rootCtx)
		if err != nil {
			FatalError("queue length: %v", err)
		}
		inFlight, err := q.InFlight(rootCtx)
		if err != nil {
			FatalError("queue in-flight: %v", err)
		}

		if queueByVersion {
			byVersion, err := q.LenByVersion(rootCtx)
			if err != nil {
				FatalError("queue length by version: %v", err)
			}
			if jsonOutput {
				outputJSON(map[string]interface{}{
					"queued":     n,
					"in_flight":  inFlight,
					"by_version": byVersion,
				})
				return
			}
			fmt.Println(ui.RenderQueueTable(byVersion, inFlight, ui.GetWidth()))
			return
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"queued":    n,
				"in_flight": inFlight,
			})
			return
		}
		fmt.Printf("%d item(s) queued, %d in flight\n", n, inFlight)
	},
}

var queueTruncateCmd = &cobra.Command{
	Use:   "truncate [version]",
	Short: "Drop queued changes",
	Long: `Remove pending changes from the queue without applying them.

With a version argument only that version's changes are dropped; without one
the whole queue is emptied. Items already taken by a worker are not touched.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		version := ""
		if len(args) > 0 {
			version = args[0]
		}

		if !queueYes {
			question := "Drop ALL queued changes?"
			if version != "" {
				question = fmt.Sprintf("Drop queued changes for version %q?", version)
			}
			if !ui.PromptYesNo(question, false) {
				fmt.Println("Truncate canceled.")
				return
			}
		}

		q := openQueue()
		defer q.Close()

		var removed int
		var err error
		if version == "" {
			removed, err = q.Truncate(rootCtx)
		} else {
			removed, err = q.TruncateByVersion(rootCtx, version)
		}
		if err != nil {
			FatalError("truncate: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"removed": removed,
				"version": version,
			})
			return
		}
		fmt.Printf("%s Removed %d queued item(s)\n", ui.RenderPass(ui.IconPass), removed)
	},
}

func init() {
	queueLengthCmd.Flags().BoolVar(&queueByVersion, "by-version", false, "Break the count down per version")
	queueTruncateCmd.Flags().BoolVarP(&queueYes, "yes", "y", false, "Skip the confirmation prompt")
	queueCmd.AddCommand(queueLengthCmd)
	queueCmd.AddCommand(queueTruncateCmd)
	rootCmd.AddCommand(queueCmd)
}
