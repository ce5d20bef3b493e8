package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/audit"
	"github.com/untoldecay/graphtwin/internal/config"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:     "audit [version]",
	GroupID: "pipeline",
	Short:   "Show recorded mutation outcomes",
	Long: `Show the audit trail of applied and failed changes, newest first.

With a version argument only that version's deltas are shown; without one the
trail spans all versions.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !config.GetBool("audit.enabled") {
			FatalErrorWithHint("audit log is disabled", "Run 'gt config set audit.enabled true' and restart the worker")
		}

		version := ""
		if len(args) > 0 {
			version = args[0]
		}

		log, err := audit.Open(config.AuditPath())
		if err != nil {
			FatalError("opening audit log: %v", err)
		}
		defer log.Close()

		deltas, err := log.List(rootCtx, version, auditLimit)
		if err != nil {
			FatalError("listing deltas: %v", err)
		}

		if jsonOutput {
			outputJSON(deltas)
			return
		}
		if len(deltas) == 0 {
			fmt.Println(ui.TableHintStyle.Render("No recorded deltas."))
			return
		}
		fmt.Println(ui.RenderAuditTable(deltas, ui.GetWidth()))
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of deltas to show")
	rootCmd.AddCommand(auditCmd)
}
