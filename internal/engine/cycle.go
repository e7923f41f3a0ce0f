package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiercache/internal/cachestate"
	"tiercache/internal/eviction"
	"tiercache/internal/feed"
	"tiercache/internal/fileutil"
	"tiercache/internal/logging"
	"tiercache/internal/media"
	"tiercache/internal/planner"
	"tiercache/internal/progress"
	"tiercache/internal/run"
	"tiercache/internal/transfer"
)

// CycleResult is everything a cache cycle decided and did.
type CycleResult struct {
	Summary   progress.Summary
	Feed      feed.Result
	Excluded  []planner.Exclusion
	Plan      planner.Result
	Transfers transfer.Report
	Eviction  eviction.Plan
	Evictions transfer.Report
	// Violations lists tracked identities whose fast copy or backup is
	// missing after the run.
	Violations []string
	// DryRun marks a simulated cycle; nothing was moved or recorded.
	DryRun bool
}

// RunCycle performs one cache cycle. It fails with *run.AlreadyInProgressError
// when another mutating run holds the lock. Per-item failures are reported in
// the result; the returned error covers store and sink failures.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	release, err := e.locker.Acquire(run.KindCache)
	if err != nil {
		return CycleResult{}, err
	}
	defer release()

	rc := e.newRun(ctx, run.KindCache)
	logger := rc.Logger
	res, errs, err := e.planCycle(rc, true)
	if err != nil {
		return CycleResult{}, err
	}

	res.Transfers = e.executor.Execute(rc, res.Plan.Ops)
	errs = append(errs, e.recordTransfers(rc, res.Transfers)...)
	for _, item := range res.Plan.Refresh {
		if err := e.store.Touch(rc.Ctx, item.Identity, item.Priority, cachestate.SourceFor(item.Signal().Kind), rc.Now); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", item.Identity, err))
		}
	}

	if !rc.Cancelled() {
		evictions, evErrs := e.evict(rc)
		res.Eviction, res.Evictions = evictions.plan, evictions.report
		errs = append(errs, evErrs...)
	}

	tracked, err := e.store.List(rc.Ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list records: %w", err))
	}
	res.Violations = e.checkPairs(rc, tracked)
	if err := e.publish(rc, tracked); err != nil {
		errs = append(errs, err)
	}

	res.Summary = e.summarize(rc, res)
	e.metrics.ObserveTransfers(res.Transfers)
	e.metrics.ObserveTransfers(res.Evictions)
	e.metrics.TrackedItems.Set(float64(len(tracked)))
	e.metrics.Deferred.Set(float64(len(res.Plan.Deferred)))
	e.metrics.FeedFailures.Set(float64(len(res.Feed.Failures)))
	if after, err := e.fastUsage(); err == nil {
		e.metrics.FastUsage.Set(eviction.MeasureUsage(after, tracked, e.policy.CacheLimit).Fraction())
	}
	e.finish(rc, res.Summary)
	if err := e.metrics.WriteTextfile(e.cfg.Paths.MetricsTextfile); err != nil {
		errs = append(errs, err)
	}
	if res.Transfers.Critical != nil {
		if err := e.notifier.NotifyError(context.WithoutCancel(rc.Ctx), res.Transfers.Critical, "cache run"); err != nil {
			logger.Warn("critical notification failed", logging.Error(err))
		}
	}
	return res, errors.Join(errs...)
}

// Simulate plans a cache cycle without moving files, writing state or taking
// the run lock. Eviction is planned against the usage the cycle would leave
// behind.
func (e *Engine) Simulate(ctx context.Context) (CycleResult, error) {
	rc := e.newRun(ctx, run.KindDryRun)
	res, errs, err := e.planCycle(rc, false)
	if err != nil {
		return CycleResult{}, err
	}
	res.DryRun = true

	records, err := e.store.List(rc.Ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("list records: %w", err)
	}
	fs, err := e.fastUsage()
	if err != nil {
		return CycleResult{}, fmt.Errorf("fast tier usage: %w", err)
	}
	fs, projected := project(fs, records, res.Plan.Ops, rc.Now)
	res.Eviction = eviction.Evict(projected, eviction.MeasureUsage(fs, projected, e.policy.CacheLimit), e.policy, rc.Now)

	res.Summary = e.summarize(rc, res)
	rc.Progress.Summary(res.Summary)
	rc.Logger.Info("dry run planned",
		logging.Int("ops", len(res.Plan.Ops)),
		logging.Int("deferred", len(res.Plan.Deferred)),
		logging.Int("evictions", len(res.Eviction.Ops)),
		logging.Bool("shortfall", res.Eviction.Shortfall),
	)
	return res, errors.Join(errs...)
}

// planCycle gathers the feeds and derives the placement plan. With record
// set, first watchlist sightings are persisted.
func (e *Engine) planCycle(rc *run.Context, record bool) (CycleResult, []error, error) {
	logger := rc.Logger
	var res CycleResult
	var errs []error

	records, err := e.store.List(rc.Ctx)
	if err != nil {
		return res, nil, fmt.Errorf("list records: %w", err)
	}

	res.Feed = e.gatherer.Gather(rc.Ctx, e.sources)
	if record {
		if err := e.stampWatchlist(rc, &res.Feed); err != nil {
			errs = append(errs, err)
		}
	}
	desired, excluded := planner.Filter(res.Feed.Items, e.rules, rc.Now)
	res.Excluded = excluded
	for _, ex := range excluded {
		logger.Debug("item filtered", logging.String(logging.FieldItem, ex.Item.Identity), logging.String("reason", ex.Reason))
	}

	fs, err := e.fastUsage()
	if err != nil {
		return res, nil, fmt.Errorf("fast tier usage: %w", err)
	}
	in := planner.Input{
		Desired:      desired,
		Tracked:      records,
		Reported:     res.Feed.Reported,
		Consumed:     res.Feed.Consumed,
		FeedFailed:   res.Feed.Failed(),
		FreeBytes:    e.budget(fs, records),
		MinFreeBytes: e.cfg.Cache.MinFreeBytes,
		Retention:    time.Duration(e.cfg.Cache.RetentionHours) * time.Hour,
		Now:          rc.Now,
	}
	if e.policy.Mode != eviction.ModeDisabled {
		in.Floor = e.policy.MinPriority
		headroom := e.headroom(fs, records)
		in.Headroom = &headroom
	}
	res.Plan = planner.Plan(in)
	logger.Info("placement planned",
		logging.Int("desired", len(desired)),
		logging.Int("tracked", len(records)),
		logging.Int("ops", len(res.Plan.Ops)),
		logging.Int("deferred", len(res.Plan.Deferred)),
		logging.Int("held", len(res.Plan.Held)),
		logging.Int("retained", len(res.Plan.Retained)),
		logging.Uint64("free_bytes", fs.Free),
	)
	if len(res.Plan.Held) > 0 {
		logging.WarnWithContext(logger, "restores held because a feed failed", "restores_held",
			logging.Int("held", len(res.Plan.Held)),
			logging.String(logging.FieldImpact, "items stay cached until a run with complete feeds"),
		)
	}
	return res, errs, nil
}

// stampWatchlist fills unknown watchlist add times from the first sighting on
// record and forgets entries no longer listed anywhere.
func (e *Engine) stampWatchlist(rc *run.Context, fr *feed.Result) error {
	if e.rules.WatchlistRetention <= 0 {
		return nil
	}
	listed := map[string]bool{}
	for i := range fr.Items {
		item := &fr.Items[i]
		for j := range item.Reports {
			report := &item.Reports[j]
			if report.Signal.Kind != media.SignalWatchlist {
				continue
			}
			listed[item.Identity] = true
			if !report.Signal.Since.IsZero() {
				continue
			}
			first, err := e.store.WatchlistSeen(rc.Ctx, item.Identity, report.User, rc.Now)
			if err != nil {
				return fmt.Errorf("watchlist sighting %s: %w", item.Identity, err)
			}
			report.Signal.Since = first
		}
	}
	if fr.Failed() {
		return nil
	}
	if _, err := e.store.PruneWatchlist(rc.Ctx, listed); err != nil {
		return err
	}
	return nil
}

// budget is the free space usable for cache-ins before the floor is applied.
// With a cache limit it is also bounded by the room left under the limit.
func (e *Engine) budget(fs fileutil.Usage, records []cachestate.Record) uint64 {
	free := fs.Free
	if e.policy.CacheLimit > 0 {
		usage := eviction.MeasureUsage(fs, records, e.policy.CacheLimit)
		free = min(free, remaining(usage.Capacity, usage.Used))
	}
	return free
}

// headroom is the room left under the eviction threshold. Caching past it
// would only hand the next eviction pass more work.
func (e *Engine) headroom(fs fileutil.Usage, records []cachestate.Record) uint64 {
	usage := eviction.MeasureUsage(fs, records, e.policy.CacheLimit)
	ceiling := uint64(e.policy.Threshold * float64(usage.Capacity))
	return remaining(ceiling, usage.Used)
}

func remaining(total, used uint64) uint64 {
	if total > used {
		return total - used
	}
	return 0
}

// project applies a plan to usage and records as if every op succeeded.
func project(fs fileutil.Usage, records []cachestate.Record, plan transfer.Plan, now time.Time) (fileutil.Usage, []cachestate.Record) {
	gone := map[string]bool{}
	var added []cachestate.Record
	for _, op := range plan {
		size := uint64(max(op.ExpectedSize, 0))
		switch {
		case op.Kind == transfer.OpCacheIn:
			fs.Free -= min(size, fs.Free)
			added = append(added, cachestate.RecordFromItem(op.Item, now))
		case op.Kind.Restores():
			fs.Free = min(fs.Free+size, fs.Total)
			gone[op.Item.Identity] = true
		}
	}
	out := make([]cachestate.Record, 0, len(records)+len(added))
	for _, rec := range records {
		if !gone[rec.Identity] {
			out = append(out, rec)
		}
	}
	return fs, append(out, added...)
}

// recordTransfers applies op outcomes to the store. Only this goroutine
// writes records.
func (e *Engine) recordTransfers(rc *run.Context, report transfer.Report) []error {
	var errs []error
	for _, r := range report.Results {
		if r.Status != transfer.StatusSucceeded {
			continue
		}
		id := r.Op.Item.Identity
		var err error
		switch r.Op.Kind {
		case transfer.OpCacheIn:
			err = e.store.Upsert(rc.Ctx, cachestate.RecordFromItem(r.Op.Item, rc.Now))
		case transfer.OpRestore, transfer.OpEvictOut:
			err = e.store.Delete(rc.Ctx, id)
		case transfer.OpRecreateBackup:
			err = e.store.SetBackup(rc.Ctx, id, true, rc.Now)
		}
		if err != nil {
			logging.ErrorWithContext(rc.Logger, "record update failed", "store_write_failed",
				logging.String(logging.FieldItem, id),
				logging.String(logging.FieldOp, string(r.Op.Kind)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run tiercache audit --fix after resolving the store error"),
			)
			errs = append(errs, fmt.Errorf("%s %s: %w", r.Op.Kind, id, err))
		}
	}
	return errs
}

type evictionOutcome struct {
	plan   eviction.Plan
	report transfer.Report
}

func (e *Engine) evict(rc *run.Context) (evictionOutcome, []error) {
	var out evictionOutcome
	records, err := e.store.List(rc.Ctx)
	if err != nil {
		return out, []error{fmt.Errorf("list records: %w", err)}
	}
	fs, err := e.fastUsage()
	if err != nil {
		return out, []error{fmt.Errorf("fast tier usage: %w", err)}
	}
	usage := eviction.MeasureUsage(fs, records, e.policy.CacheLimit)
	out.plan = eviction.Evict(records, usage, e.policy, rc.Now)
	if !out.plan.Triggered {
		return out, nil
	}
	rc.Logger.Info("eviction triggered",
		logging.Float64("usage", out.plan.Before),
		logging.Float64("projected", out.plan.Projected),
		logging.Int("ops", len(out.plan.Ops)),
		logging.Bool("critical", out.plan.Critical),
	)
	if out.plan.Shortfall {
		logging.WarnWithContext(rc.Logger, "eviction cannot reach target usage", "eviction_shortfall",
			logging.Float64("projected", out.plan.Projected),
			logging.Float64("target", e.policy.Target()),
			logging.String(logging.FieldErrorHint, "lower min_priority or min_retention_hours, or raise the threshold"),
			logging.String(logging.FieldImpact, "fast tier stays above the eviction threshold"),
			logging.Alert("capacity"),
		)
	}
	out.report = e.executor.Execute(rc, out.plan.Ops)
	return out, e.recordTransfers(rc, out.report)
}

// checkPairs verifies that every tracked item has both its fast copy and its
// backup. Violations are logged for the auditor, never repaired here.
func (e *Engine) checkPairs(rc *run.Context, records []cachestate.Record) []string {
	var violations []string
	for _, rec := range records {
		if fileutil.Exists(rec.FastPath) && fileutil.Exists(e.executor.BackupPath(rec.SlowPath)) {
			continue
		}
		violations = append(violations, rec.Identity)
		logging.WarnWithContext(rc.Logger, "tracked item is not a complete pair", "pair_invariant",
			logging.String(logging.FieldItem, rec.Identity),
			logging.String(logging.FieldErrorHint, "run tiercache audit --fix"),
			logging.String(logging.FieldImpact, "item may not be protected on the slow tier"),
			logging.Alert("integrity"),
		)
	}
	return violations
}

// publish rewrites the exclusion list from the tracked records.
func (e *Engine) publish(rc *run.Context, records []cachestate.Record) error {
	paths := make([]string, 0, len(records))
	for _, rec := range records {
		paths = append(paths, rec.FastPath)
		for _, sub := range rec.Subtitles {
			paths = append(paths, sub.FastPath)
		}
	}
	n, err := e.exclusions.Write(paths)
	if err != nil {
		return err
	}
	if e.exclusions.Path() != "" {
		rc.Logger.Debug("exclusion list written", logging.String("path", e.exclusions.Path()), logging.Int("entries", n))
	}
	return nil
}

func (e *Engine) summarize(rc *run.Context, res CycleResult) progress.Summary {
	s := progress.Summary{
		RunID:        rc.ID,
		Kind:         string(rc.Kind),
		Started:      rc.Now,
		Finished:     e.now(),
		Deferred:     len(res.Plan.Deferred),
		Anomalies:    len(res.Violations),
		FeedFailures: len(res.Feed.Failures),
	}
	for _, report := range []transfer.Report{res.Transfers, res.Evictions} {
		s.Succeeded += report.Succeeded
		s.Failed += report.Failed
		s.Skipped += report.Skipped
		s.BytesIn += report.Bytes(transfer.OpCacheIn)
		s.BytesOut += report.Bytes(transfer.OpRestore, transfer.OpEvictOut)
	}
	if res.Transfers.Critical != nil {
		s.Critical = res.Transfers.Critical.Error()
	}
	return s
}

// finish emits the summary to the sink, the log, metrics and notifications.
func (e *Engine) finish(rc *run.Context, s progress.Summary) {
	rc.Progress.Summary(s)
	e.metrics.ObserveRun(s.Kind, s.Started, s.Finished)
	rc.Logger.Info("run complete",
		logging.String("summary", s.Line()),
		logging.Int("anomalies", s.Anomalies),
		logging.Int("feed_failures", s.FeedFailures),
		logging.Duration("duration", s.Duration()),
	)
	if err := e.notifier.NotifyRunSummary(context.WithoutCancel(rc.Ctx), s); err != nil {
		logging.WarnWithContext(rc.Logger, "run summary notification failed", "notify_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "summary only available in logs"),
		)
	}
}
