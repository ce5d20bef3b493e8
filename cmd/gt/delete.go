package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/graphtwin/internal/queue"
	"github.com/untoldecay/graphtwin/internal/ui"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <version>",
	GroupID: "graphs",
	Short:   "Delete a version and all its snapshots",
	Long: `Delete a version: live graphs, every archived snapshot, and the lock.

This cannot be undone. Queued changes for the version are left in place and
will recreate it when a worker applies them.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		version := args[0]
		st := openStore()
		if !st.Exists(version) {
			versionNotFound(st, version)
		}

		// Best effort. A dead queue backend should not block deletion.
		if q, err := queue.Open(); err == nil {
			if by, err := q.LenByVersion(rootCtx); err == nil && by[version] > 0 {
				WarnError("%d queued change(s) target %s and will recreate it when applied", by[version], version)
			}
			q.Close()
		}

		if !deleteForce {
			if !ui.IsTerminal() {
				FatalErrorWithHint("refusing to delete without confirmation on a non-interactive terminal", "Pass --force to skip the prompt")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete version %q and all its snapshots?", version)).
				Description("This cannot be undone.").
				Affirmative("Delete").
				Negative("Keep").
				Value(&confirmed).
				Run()
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Delete canceled.")
					return
				}
				FatalError("confirm: %v", err)
			}
			if !confirmed {
				fmt.Println("Delete canceled.")
				return
			}
		}

		if err := st.DeleteVersion(version); err != nil {
			FatalError("delete: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"deleted": version,
			})
			return
		}
		fmt.Printf("%s Deleted version %s\n", ui.RenderPass(ui.IconPass), version)
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Delete without confirmation")
	rootCmd.AddCommand(deleteCmd)
}
