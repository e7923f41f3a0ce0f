package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiercache/internal/cachestate"
	"tiercache/internal/logging"
	"tiercache/internal/run"
	"tiercache/internal/services"
	"tiercache/internal/transfer"
)

// Executor runs corrective transfer ops.
type Executor interface {
	Execute(rc *run.Context, plan transfer.Plan) transfer.Report
}

// Store is the subset of the state store Apply mutates.
type Store interface {
	Upsert(ctx context.Context, rec cachestate.Record) error
	Delete(ctx context.Context, identity string) error
	SetBackup(ctx context.Context, identity string, present bool, now time.Time) error
}

// Outcome is the result of acting on one anomaly.
type Outcome struct {
	Anomaly Anomaly
	Status  transfer.Status
	Reason  string
	Err     error
}

// ApplyReport summarizes a fix run.
type ApplyReport struct {
	Outcomes  []Outcome
	Fixed     int
	Failed    int
	Skipped   int
	Manual    int
	Transfers transfer.Report
}

// Apply fixes every auto-fixable anomaly. File work goes through exec so it
// shares per-identity locking with cache runs; store mutations happen here
// after the executor returns. Store errors are joined into the returned error.
func Apply(rc *run.Context, exec Executor, store Store, anomalies []Anomaly) (ApplyReport, error) {
	logger := logging.NewComponentLogger(rc.Logger, "audit")
	report := ApplyReport{Outcomes: make([]Outcome, len(anomalies))}

	var plan transfer.Plan
	opIndex := map[int]int{}
	for i, a := range anomalies {
		report.Outcomes[i] = Outcome{Anomaly: a}
		switch a.Kind {
		case KindOrphanedBackup:
			opIndex[i] = len(plan)
			plan = append(plan, transfer.Restore(a.Item, string(a.Kind)))
		case KindUnprotected:
			opIndex[i] = len(plan)
			plan = append(plan, transfer.RecreateBackup(a.Item, string(a.Kind)))
		}
	}
	report.Transfers = exec.Execute(rc, plan)

	ctx := context.WithoutCancel(rc.Ctx)
	var errs []error
	for i, a := range anomalies {
		out := &report.Outcomes[i]
		if idx, ok := opIndex[i]; ok {
			res := report.Transfers.Results[idx]
			out.Status, out.Reason, out.Err = res.Status, res.Reason, res.Err
			if res.Status == transfer.StatusSucceeded && a.Record != nil {
				var err error
				if a.Kind == KindOrphanedBackup {
					err = store.Delete(ctx, a.Identity)
				} else {
					err = store.SetBackup(ctx, a.Identity, true, rc.Now)
				}
				if err != nil {
					out.Status, out.Err = transfer.StatusFailed, err
					errs = append(errs, err)
				}
			}
		} else {
			switch a.Kind {
			case KindStaleRecord:
				out.Err = store.Delete(ctx, a.Identity)
			case KindUnrecordedPair:
				rec := cachestate.RecordFromItem(a.Item, rc.Now)
				rec.Source = cachestate.SourceAdopted
				out.Err = store.Upsert(ctx, rec)
			case KindUntracked:
				out.Status, out.Reason = transfer.StatusSkipped, FixManualReview
				report.Manual++
				continue
			}
			out.Status = transfer.StatusSucceeded
			if out.Err != nil {
				out.Status = transfer.StatusFailed
				errs = append(errs, out.Err)
			}
		}

		switch out.Status {
		case transfer.StatusSucceeded:
			report.Fixed++
			logger.Info("anomaly fixed",
				logging.String(logging.FieldItem, a.Identity),
				logging.String("kind", string(a.Kind)),
				logging.String("fix", a.Fix),
			)
		case transfer.StatusSkipped:
			report.Skipped++
			logger.Info("anomaly fix skipped",
				logging.String(logging.FieldItem, a.Identity),
				logging.String("kind", string(a.Kind)),
				logging.String("reason", out.Reason),
			)
		default:
			report.Failed++
			logging.WarnWithContext(logger, "anomaly fix failed", "audit_fix_failed",
				logging.String(logging.FieldItem, a.Identity),
				logging.String("kind", string(a.Kind)),
				logging.Error(out.Err),
				logging.String(logging.FieldImpact, "anomaly remains until the next audit"),
			)
		}
	}
	if len(errs) > 0 {
		return report, services.Wrap(services.ErrTransient, "audit", "apply", fmt.Sprintf("%d store updates failed", len(errs)), errors.Join(errs...))
	}
	return report, nil
}
