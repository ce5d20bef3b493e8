package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/graphtwin/internal/monitor"
	"github.com/untoldecay/graphtwin/internal/reconcile"
	"github.com/untoldecay/graphtwin/internal/server"
	"github.com/untoldecay/graphtwin/internal/worker"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "pipeline",
	Short:   "Run the HTTP server",
	Long: `Serve the observability and enqueue API (see server.host/server.port).

By default only the HTTP surface runs; pair it with 'gt work' in another
process, or pass --with-worker to run both in this one. The combined mode
shares the processing monitor, so /api/processing reflects live worker state.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := setupLogging()

		q := openQueue()
		defer q.Close()
		aud := openAudit()
		defer aud.Close()
		st := openStore()
		mon := monitor.New()

		srv := server.New(q, st, mon, aud, log)

		if !serveWithWorker {
			if err := srv.ListenAndServe(rootCtx); err != nil {
				FatalError("%v", err)
			}
			return
		}

		w := worker.New(q, st, reconcile.New(log), mon, aud, log)

		g, ctx := errgroup.WithContext(rootCtx)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
		g.Go(func() error { return w.Run(ctx) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			FatalError("%v", err)
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "Run the queue worker in this process too")
	rootCmd.AddCommand(serveCmd)
}
