package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tiercache/internal/engine"
	"tiercache/internal/transfer"
)

func newRestoreAllCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun  bool
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "restore-all",
		Short: "Move every cached item back to the slow tier",
		Long: "Emergency restore: return every tracked item and every unclaimed backup to the\n" +
			"slow tier and empty the exclusion list. Items being played are skipped.\n" +
			"Requires --yes unless --dry-run is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && !confirm {
				return errors.New("restore-all moves every cached item back to the slow tier; rerun with --yes to proceed or --dry-run to preview")
			}
			return ctx.withEngine(func(eng *engine.Engine) error {
				res, err := eng.RestoreAll(cmd.Context(), dryRun)
				if res.Summary.RunID == "" {
					return err
				}
				out := cmd.OutOrStdout()
				printRestoreAll(out, res, shouldColorize(out))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be restored without moving anything")
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the restore")
	return cmd
}

func printRestoreAll(out io.Writer, res engine.RestoreAllResult, colorize bool) {
	title := "Restore all "
	if res.DryRun {
		title = "Restore all (dry run) "
	}
	writeLines(out, renderSectionHeader(title+res.Summary.RunID, colorize)...)
	if len(res.Plan) == 0 {
		writeLines(out, renderStatusLine("Items", statusOK, "nothing cached", colorize))
		return
	}
	if res.DryRun {
		writeLines(out, renderStatusLine("Items", statusInfo, fmt.Sprintf("would restore %d", len(res.Plan)), colorize))
		fmt.Fprintln(out, renderTable("", []string{"Op", "Item", "Reason", "Size"}, planRows(res.Plan), []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
		return
	}
	kind := statusOK
	if res.Summary.Failed > 0 || res.Summary.Skipped > 0 {
		kind = statusWarn
	}
	writeLines(out, renderStatusLine("Summary", kind, res.Summary.Line(), colorize))
	if res.Summary.Failed > 0 || res.Summary.Skipped > 0 {
		fmt.Fprintln(out, renderTable("Not restored", []string{"Op", "Item", "Status", "Reason", "Bytes"}, opRows(unfinished(res)), []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	}
}

func unfinished(res engine.RestoreAllResult) []transfer.Result {
	var out []transfer.Result
	for _, r := range res.Transfers.Results {
		if r.Status != transfer.StatusSucceeded {
			out = append(out, r)
		}
	}
	return out
}
