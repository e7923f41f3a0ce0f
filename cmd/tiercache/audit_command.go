package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tiercache/internal/audit"
	"tiercache/internal/engine"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare tracked records with both tiers",
		Long: "Report orphaned backups, unprotected cache files, stale records, untracked\n" +
			"cache files and unrecorded pairs. With --fix every anomaly except untracked\n" +
			"cache files is repaired.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(eng *engine.Engine) error {
				res, err := eng.Audit(cmd.Context(), fix)
				if res.Summary.RunID == "" {
					return err
				}
				out := cmd.OutOrStdout()
				printAudit(out, res, shouldColorize(out))
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Repair auto-fixable anomalies")
	return cmd
}

func printAudit(out io.Writer, res engine.AuditResult, colorize bool) {
	writeLines(out, renderSectionHeader("Audit "+res.Summary.RunID, colorize)...)
	if len(res.Anomalies) == 0 {
		writeLines(out, renderStatusLine("Anomalies", statusOK, "none", colorize))
		return
	}
	writeLines(out, renderStatusLine("Anomalies", statusWarn, fmt.Sprintf("%d found", len(res.Anomalies)), colorize))
	fmt.Fprintln(out, renderTable("", []string{"Kind", "Item", "Fix"}, anomalyRows(res.Anomalies), nil))

	if res.Applied == nil {
		return
	}
	applied := res.Applied
	kind := statusOK
	if applied.Failed > 0 {
		kind = statusError
	}
	writeLines(out, renderStatusLine("Fixes", kind,
		fmt.Sprintf("%d fixed, %d failed, %d skipped, %d need manual review", applied.Fixed, applied.Failed, applied.Skipped, applied.Manual), colorize))
	for _, o := range applied.Outcomes {
		if o.Err != nil {
			writeLines(out, renderStatusLine(string(o.Anomaly.Kind), statusError, o.Anomaly.Identity+": "+o.Err.Error(), colorize))
		}
	}
	remainingKind := statusOK
	if len(res.Remaining) > 0 {
		remainingKind = statusWarn
	}
	writeLines(out, renderStatusLine("Remaining", remainingKind, fmt.Sprintf("%d", len(res.Remaining)), colorize))
}

func anomalyRows(anomalies []audit.Anomaly) [][]string {
	rows := make([][]string, 0, len(anomalies))
	for _, a := range anomalies {
		rows = append(rows, []string{string(a.Kind), a.Identity, a.Fix})
	}
	return rows
}
