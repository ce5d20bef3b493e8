package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/monitor"
	"github.com/untoldecay/graphtwin/internal/reconcile"
	"github.com/untoldecay/graphtwin/internal/worker"
)

var workIngestDir string

var workCmd = &cobra.Command{
	Use:     "work",
	GroupID: "pipeline",
	Short:   "Run the queue worker",
	Long: `Drain the change queue and apply each envelope to its version.

Exactly one worker may consume a queue. On startup any items a previous run
left in flight are restored to the head of the queue before consumption.

With --ingest-dir, JSON envelope files dropped into the directory are pushed
onto the queue and removed; files that fail to decode are renamed with a
.rejected suffix and left in place.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := setupLogging()

		q := openQueue()
		defer q.Close()
		aud := openAudit()
		defer aud.Close()
		st := openStore()

		if workIngestDir != "" {
			ing, err := worker.NewDirIngester(workIngestDir, q, log)
			if err != nil {
				FatalError("ingest dir: %v", err)
			}
			ing.Start(rootCtx)
			defer func() { _ = ing.Close() }()
		}

		w := worker.New(q, st, reconcile.New(log), monitor.New(), aud, log)
		if err := w.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			FatalError("%v", err)
		}
	},
}

func init() {
	workCmd.Flags().StringVar(&workIngestDir, "ingest-dir", "", "Watch a directory for envelope files to enqueue")
	rootCmd.AddCommand(workCmd)
}
