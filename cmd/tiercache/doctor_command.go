package main

import (
	"errors"

	"github.com/spf13/cobra"

	"tiercache/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tier directories and service connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			results := preflight.RunAll(cmd.Context(), cfg, nil)
			writeLines(out, renderSectionHeader("Preflight", colorize)...)
			for _, r := range results {
				kind := statusError
				switch {
				case r.Skipped:
					kind = statusInfo
				case r.Passed:
					kind = statusOK
				}
				writeLines(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if preflight.Failed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}
