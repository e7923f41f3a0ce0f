package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"tiercache/internal/audit"
	"tiercache/internal/cachestate"
	"tiercache/internal/logging"
	"tiercache/internal/progress"
	"tiercache/internal/run"
	"tiercache/internal/transfer"
)

const reasonRestoreAll = "restore all"

// RestoreAllResult is the outcome of an emergency restore.
type RestoreAllResult struct {
	Summary   progress.Summary
	Plan      transfer.Plan
	Transfers transfer.Report
	// DryRun marks a listing-only run; Transfers is empty.
	DryRun bool
}

// RestoreAll returns every cached item to the slow tier: each tracked record,
// plus every backup and complete pair on disk that no record claims. Items
// being played are skipped like any other restore. With dryRun the plan is
// built without the run lock and nothing is moved.
func (e *Engine) RestoreAll(ctx context.Context, dryRun bool) (RestoreAllResult, error) {
	if !dryRun {
		release, err := e.locker.Acquire(run.KindRestoreAll)
		if err != nil {
			return RestoreAllResult{}, err
		}
		defer release()
	}

	rc := e.newRun(ctx, run.KindRestoreAll)
	logger := logging.NewComponentLogger(rc.Logger, "restore_all")
	res := RestoreAllResult{DryRun: dryRun}

	plan, err := e.restoreAllPlan(rc)
	if err != nil {
		return RestoreAllResult{}, err
	}
	res.Plan = plan
	logger.Info("restore all planned", logging.Int("ops", len(plan)), logging.Bool("dry_run", dryRun))
	if dryRun {
		res.Summary = progress.Summary{RunID: rc.ID, Kind: string(rc.Kind), Started: rc.Now, Finished: e.now()}
		return res, nil
	}

	var errs []error
	res.Transfers = e.executor.Execute(rc, plan)
	errs = append(errs, e.recordTransfers(rc, res.Transfers)...)
	tracked, err := e.store.List(rc.Ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list records: %w", err))
	} else if err := e.publish(rc, tracked); err != nil {
		errs = append(errs, err)
	}
	if len(tracked) > 0 {
		logging.WarnWithContext(logger, "items still cached after restore all", "restore_all_incomplete",
			logging.Int("remaining", len(tracked)),
			logging.String(logging.FieldErrorHint, "stop playback or fix the reported failures and rerun"),
			logging.String(logging.FieldImpact, "remaining items stay on the fast tier"),
		)
	}

	res.Summary = e.summarize(rc, CycleResult{Transfers: res.Transfers})
	e.metrics.ObserveTransfers(res.Transfers)
	e.metrics.TrackedItems.Set(float64(len(tracked)))
	e.finish(rc, res.Summary)
	if err := e.metrics.WriteTextfile(e.cfg.Paths.MetricsTextfile); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

// restoreAllPlan lists a restore for every tracked record in identity order,
// followed by the unclaimed backups and pairs found on disk.
func (e *Engine) restoreAllPlan(rc *run.Context) (transfer.Plan, error) {
	records, err := e.store.List(rc.Ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	snap, err := audit.Scan(e.resolver, e.cfg.Cache.BackupSuffix, e.cfg.Cache.SubtitleExtensions...)
	if err != nil {
		return nil, fmt.Errorf("scan tiers: %w", err)
	}

	var plan transfer.Plan
	slices.SortFunc(records, func(a, b cachestate.Record) int { return strings.Compare(a.Identity, b.Identity) })
	for _, rec := range records {
		plan = append(plan, transfer.Restore(rec.Item(), reasonRestoreAll))
	}
	for _, a := range audit.Audit(records, snap) {
		if a.Record != nil {
			continue
		}
		if a.Kind == audit.KindOrphanedBackup || a.Kind == audit.KindUnrecordedPair {
			plan = append(plan, transfer.Restore(a.Item, reasonRestoreAll))
		}
	}
	return plan, nil
}
