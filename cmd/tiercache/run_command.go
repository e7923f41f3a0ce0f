package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tiercache/internal/engine"
	"tiercache/internal/transfer"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		verbose bool
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one cache cycle",
		Long: "Gather watch signals, move wanted items to the fast tier, return unwanted ones\n" +
			"to the slow tier, evict under capacity pressure and rewrite the exclusion list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return ctx.withEngine(func(eng *engine.Engine) error {
				cycle := eng.RunCycle
				if dryRun {
					cycle = eng.Simulate
				}
				res, err := cycle(signalCtx)
				if res.Summary.RunID == "" {
					return err
				}
				out := cmd.OutOrStdout()
				printCycle(out, res, verbose, shouldColorize(out))
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every operation and deferral")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan the cycle and report what would move without touching files or state")
	return cmd
}

func printCycle(out io.Writer, res engine.CycleResult, verbose, colorize bool) {
	if res.DryRun {
		printDryRun(out, res, verbose, colorize)
		return
	}
	s := res.Summary
	kind := statusOK
	switch {
	case s.Critical != "":
		kind = statusError
	case s.Failed > 0 || s.FeedFailures > 0 || s.Anomalies > 0:
		kind = statusWarn
	}
	writeLines(out, renderSectionHeader("Cache run "+s.RunID, colorize)...)
	writeLines(out,
		renderStatusLine("Summary", kind, s.Line(), colorize),
		renderStatusLine("Duration", statusInfo, s.Duration().Round(time.Millisecond).String(), colorize),
	)
	if s.FeedFailures > 0 {
		for _, f := range res.Feed.Failures {
			label := f.Provider
			if f.User != "" {
				label += "/" + f.User
			}
			writeLines(out, renderStatusLine("Feed", statusWarn, label+": "+f.Err.Error(), colorize))
		}
	}
	if len(res.Plan.Held) > 0 {
		writeLines(out, renderStatusLine("Held", statusWarn, fmt.Sprintf("%d restores held until feeds recover", len(res.Plan.Held)), colorize))
	}
	if res.Eviction.Triggered {
		msg := fmt.Sprintf("%.1f%% -> %.1f%%, %d evicted", res.Eviction.Before*100, res.Eviction.Projected*100, res.Evictions.Succeeded)
		evictKind := statusInfo
		if res.Eviction.Shortfall {
			evictKind = statusWarn
			msg += " (target not reachable)"
		}
		writeLines(out, renderStatusLine("Eviction", evictKind, msg, colorize))
	}
	if len(res.Violations) > 0 {
		writeLines(out, renderStatusLine("Pairs", statusWarn, fmt.Sprintf("%d tracked items incomplete; run tiercache audit --fix", len(res.Violations)), colorize))
	}
	if s.Critical != "" {
		writeLines(out, renderStatusLine("Critical", statusError, s.Critical, colorize))
	}

	results := append(append([]transfer.Result(nil), res.Transfers.Results...), res.Evictions.Results...)
	if verbose && len(results) > 0 {
		fmt.Fprintln(out, renderTable("Operations", []string{"Op", "Item", "Status", "Reason", "Bytes"}, opRows(results), []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	}
	if verbose {
		printDeferred(out, res)
	}
}

func printDeferred(out io.Writer, res engine.CycleResult) {
	if len(res.Plan.Deferred) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Plan.Deferred))
	for _, d := range res.Plan.Deferred {
		rows = append(rows, []string{d.Item.Identity, strconv.Itoa(d.Item.Priority), humanize.IBytes(uint64(max(d.Item.TotalSize(), 0))), d.Reason})
	}
	fmt.Fprintln(out, renderTable("Deferred", []string{"Item", "Priority", "Size", "Reason"}, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
}

func opRows(results []transfer.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		reason := r.Reason
		if reason == "" {
			reason = r.Op.Reason
		}
		if r.Err != nil {
			reason = r.Err.Error()
		}
		rows = append(rows, []string{
			string(r.Op.Kind),
			r.Op.Item.Identity,
			string(r.Status),
			reason,
			humanize.IBytes(uint64(max(r.Bytes, 0))),
		})
	}
	return rows
}

func printDryRun(out io.Writer, res engine.CycleResult, verbose, colorize bool) {
	var cacheN, restoreN int
	var cacheBytes, restoreBytes int64
	for _, op := range res.Plan.Ops {
		switch {
		case op.Kind == transfer.OpCacheIn:
			cacheN++
			cacheBytes += op.ExpectedSize
		case op.Kind.Restores():
			restoreN++
			restoreBytes += op.ExpectedSize
		}
	}
	writeLines(out, renderSectionHeader("Dry run "+res.Summary.RunID, colorize)...)
	writeLines(out, renderStatusLine("Plan", statusInfo, fmt.Sprintf("would cache %d (%s), restore %d (%s); %d deferred",
		cacheN, humanize.IBytes(uint64(max(cacheBytes, 0))),
		restoreN, humanize.IBytes(uint64(max(restoreBytes, 0))),
		len(res.Plan.Deferred)), colorize))
	if res.Summary.FeedFailures > 0 {
		writeLines(out, renderStatusLine("Feeds", statusWarn, fmt.Sprintf("%d failed; restores would be held", res.Summary.FeedFailures), colorize))
	}
	if res.Eviction.Triggered {
		msg := fmt.Sprintf("would evict %d, %.1f%% -> %.1f%%", len(res.Eviction.Ops), res.Eviction.Before*100, res.Eviction.Projected*100)
		kind := statusInfo
		if res.Eviction.Shortfall {
			kind = statusWarn
			msg += " (target not reachable)"
		}
		writeLines(out, renderStatusLine("Eviction", kind, msg, colorize))
	}
	if !verbose {
		return
	}
	ops := append(append(transfer.Plan(nil), res.Plan.Ops...), res.Eviction.Ops...)
	if len(ops) > 0 {
		fmt.Fprintln(out, renderTable("Planned", []string{"Op", "Item", "Reason", "Size"}, planRows(ops), []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	}
	printDeferred(out, res)
}

func planRows(plan transfer.Plan) [][]string {
	rows := make([][]string, 0, len(plan))
	for _, op := range plan {
		rows = append(rows, []string{string(op.Kind), op.Item.Identity, op.Reason, humanize.IBytes(uint64(max(op.ExpectedSize, 0)))})
	}
	return rows
}
