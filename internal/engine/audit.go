package engine

import (
	"context"
	"errors"
	"fmt"

	"tiercache/internal/audit"
	"tiercache/internal/logging"
	"tiercache/internal/progress"
	"tiercache/internal/run"
	"tiercache/internal/transfer"
)

// AuditResult is the outcome of an audit run.
type AuditResult struct {
	Summary   progress.Summary
	Anomalies []audit.Anomaly
	// Applied is set when the run fixed anomalies.
	Applied *audit.ApplyReport
	// Remaining is the anomaly list after fixes; equal to Anomalies for a
	// read-only audit.
	Remaining []audit.Anomaly
}

// Audit reconciles records with both tiers. A read-only audit runs without the
// run lock and never mutates anything. With fix, it takes the lock, applies
// every auto-fixable anomaly and audits again.
func (e *Engine) Audit(ctx context.Context, fix bool) (AuditResult, error) {
	kind := run.KindAudit
	if fix {
		kind = run.KindAuditFix
	}
	if kind.Mutating() {
		release, err := e.locker.Acquire(kind)
		if err != nil {
			return AuditResult{}, err
		}
		defer release()
	}

	rc := e.newRun(ctx, kind)
	logger := logging.NewComponentLogger(rc.Logger, "audit")
	var res AuditResult

	anomalies, err := e.scan(rc)
	if err != nil {
		return AuditResult{}, err
	}
	res.Anomalies = anomalies
	res.Remaining = anomalies
	for _, a := range anomalies {
		logger.Info("anomaly found",
			logging.String("kind", string(a.Kind)),
			logging.String(logging.FieldItem, a.Identity),
			logging.String("fix", a.Fix),
		)
	}

	var errs []error
	if fix && len(anomalies) > 0 {
		applied, err := audit.Apply(rc, e.executor, e.store, anomalies)
		res.Applied = &applied
		if err != nil {
			errs = append(errs, err)
		}
		e.metrics.ObserveTransfers(applied.Transfers)
		remaining, err := e.scan(rc)
		if err != nil {
			errs = append(errs, err)
		} else {
			res.Remaining = remaining
		}
		tracked, err := e.store.List(rc.Ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list records: %w", err))
		} else if err := e.publish(rc, tracked); err != nil {
			errs = append(errs, err)
		}
	}

	counts := make(map[string]int, len(audit.Kinds))
	kinds := make([]string, 0, len(audit.Kinds))
	for k, n := range audit.Count(res.Remaining) {
		counts[string(k)] = n
	}
	for _, k := range audit.Kinds {
		kinds = append(kinds, string(k))
	}
	e.metrics.SetAnomalies(kinds, counts)

	res.Summary = progress.Summary{
		RunID:     rc.ID,
		Kind:      string(rc.Kind),
		Started:   rc.Now,
		Anomalies: len(res.Remaining),
	}
	if res.Applied != nil {
		res.Summary.Succeeded = res.Applied.Fixed
		res.Summary.Failed = res.Applied.Failed
		res.Summary.Skipped = res.Applied.Skipped + res.Applied.Manual
		res.Summary.BytesOut = res.Applied.Transfers.Bytes(transfer.OpRestore, transfer.OpRecreateBackup)
		if res.Applied.Transfers.Critical != nil {
			res.Summary.Critical = res.Applied.Transfers.Critical.Error()
		}
	}
	res.Summary.Finished = e.now()
	e.finish(rc, res.Summary)
	if err := e.metrics.WriteTextfile(e.cfg.Paths.MetricsTextfile); err != nil {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (e *Engine) scan(rc *run.Context) ([]audit.Anomaly, error) {
	records, err := e.store.List(rc.Ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	snap, err := audit.Scan(e.resolver, e.cfg.Cache.BackupSuffix, e.cfg.Cache.SubtitleExtensions...)
	if err != nil {
		return nil, fmt.Errorf("scan tiers: %w", err)
	}
	return audit.Audit(records, snap), nil
}
