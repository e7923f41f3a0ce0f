package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tiercache/internal/engine"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showMappings bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show fast-tier usage and tracked items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(eng *engine.Engine) error {
				st, err := eng.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printStatus(out, st, showMappings, shouldColorize(out))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showMappings, "mappings", false, "Include resolved path mappings")
	return cmd
}

func printStatus(out io.Writer, st engine.Status, showMappings, colorize bool) {
	writeLines(out, renderSectionHeader("Fast tier", colorize)...)
	fraction := st.Usage.Fraction()
	usage := fmt.Sprintf("%s of %s (%.1f%%)", humanize.IBytes(st.Usage.Used), humanize.IBytes(st.Usage.Capacity), fraction*100)
	if st.Policy.CacheLimit > 0 {
		usage += " under cache limit"
	}
	runKind := statusInfo
	runMsg := "idle"
	if st.Locked {
		runMsg = "run in progress"
		runKind = statusWarn
	}
	var tracked int64
	for _, rec := range st.Records {
		tracked += rec.TotalSize()
	}
	writeLines(out,
		renderStatusLine("Usage", usageKind(fraction, st.Policy.Threshold, st.Policy.Critical), usage, colorize),
		renderStatusLine("Eviction", statusInfo, fmt.Sprintf("%s at %.0f%%, target %.0f%%", st.Policy.Mode, st.Policy.Threshold*100, st.Policy.Target()*100), colorize),
		renderStatusLine("Tracked items", statusInfo, fmt.Sprintf("%d (%s)", len(st.Records), humanize.IBytes(uint64(max(tracked, 0)))), colorize),
		renderStatusLine("Run lock", runKind, runMsg, colorize),
	)

	if len(st.Records) > 0 {
		rows := make([][]string, 0, len(st.Records))
		for _, rec := range st.Records {
			rows = append(rows, []string{
				rec.Identity,
				string(rec.Source),
				strconv.Itoa(rec.Priority),
				humanize.IBytes(uint64(max(rec.TotalSize(), 0))),
				yesNo(rec.HasBackup),
				humanize.Time(rec.CachedAt),
			})
		}
		fmt.Fprintln(out, renderTable("Cached items",
			[]string{"Item", "Source", "Priority", "Size", "Backup", "Cached"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
		))
	}

	if showMappings {
		rows := make([][]string, 0, len(st.Mappings))
		for _, m := range st.Mappings {
			rows = append(rows, []string{m.Name, m.ProviderPrefix, m.FastPrefix, m.EffectiveSlowPrefix, m.Kind, yesNo(m.Cacheable)})
		}
		fmt.Fprintln(out, renderTable("Mappings",
			[]string{"Name", "Provider prefix", "Fast", "Slow", "Kind", "Cacheable"},
			rows, nil,
		))
	}
}
