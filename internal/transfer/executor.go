package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tiercache/internal/fileutil"
	"tiercache/internal/logging"
	"tiercache/internal/media"
	"tiercache/internal/progress"
	"tiercache/internal/run"
	"tiercache/internal/services"
)

// SessionGuard reports whether a logical path is being played. An error means
// the guard could not decide and the path must be treated as active.
type SessionGuard interface {
	Active(ctx context.Context, logicalPath string) (bool, error)
}

type copyFunc func(ctx context.Context, src, dst string, opts fileutil.CopyOptions) (int64, error)

// Options configures an Executor.
type Options struct {
	// BackupSuffix is appended to a slow original to form its backup name.
	BackupSuffix string
	Guard        SessionGuard
	// ProgressInterval is the byte cadence of progress updates.
	ProgressInterval int64
	// CleanupRoots are fast-tier roots under which empty directories left by
	// restores are removed. The roots themselves are never removed.
	CleanupRoots []string
	// Statfs reports slow-tier capacity for backup recreation. Nil skips the
	// space check.
	Statfs fileutil.StatfsFunc
}

// Executor runs transfer plans. The lock table lives for the executor's
// lifetime, so overlapping Execute calls on one executor never touch the
// same identity at once.
type Executor struct {
	suffix       string
	guard        SessionGuard
	interval     int64
	cleanupRoots []string
	statfs       fileutil.StatfsFunc
	locks        *lockTable
	copy         copyFunc
	now          func() time.Time
}

// NewExecutor builds an executor.
func NewExecutor(opts Options) *Executor {
	suffix := opts.BackupSuffix
	if strings.TrimSpace(suffix) == "" {
		suffix = ".tiercached"
	}
	return &Executor{
		suffix:       suffix,
		guard:        opts.Guard,
		interval:     opts.ProgressInterval,
		cleanupRoots: append([]string(nil), opts.CleanupRoots...),
		statfs:       opts.Statfs,
		locks:        newLockTable(),
		copy:         fileutil.CopyFileVerified,
		now:          time.Now,
	}
}

// BackupPath returns the backup name for a slow-tier original.
func (e *Executor) BackupPath(slowPath string) string {
	return slowPath + e.suffix
}

// Execute runs plan with rc.Workers workers and returns results in plan
// order. Cancellation of rc.Ctx is honoured between ops only.
func (e *Executor) Execute(rc *run.Context, plan Plan) Report {
	report := Report{Results: make([]Result, len(plan))}
	if len(plan) == 0 {
		return report
	}
	logger := logging.NewComponentLogger(rc.Logger, "transfer")

	abortCtx, abort := context.WithCancel(context.Background())
	defer abort()

	var (
		critical     atomic.Bool
		criticalOnce sync.Once
		criticalErr  error
	)

	workers := min(max(rc.Workers, 1), len(plan))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				op := plan[idx]
				if critical.Load() {
					report.Results[idx] = Result{Op: op, Status: StatusSkipped, Reason: ReasonAborted, Failure: FailureNone}
					continue
				}
				res := e.runOp(rc, abortCtx, op, logger)
				if res.Failure == FailureCritical {
					criticalOnce.Do(func() {
						criticalErr = res.Err
						critical.Store(true)
						abort()
					})
				}
				report.Results[idx] = res
			}
		}()
	}

	for idx, op := range plan {
		switch {
		case critical.Load():
			report.Results[idx] = Result{Op: op, Status: StatusSkipped, Reason: ReasonAborted, Failure: FailureNone}
		case rc.Cancelled():
			report.Results[idx] = Result{Op: op, Status: StatusSkipped, Reason: ReasonCancelled, Failure: FailureNone}
		default:
			jobs <- idx
		}
	}
	close(jobs)
	wg.Wait()

	report.Critical = criticalErr
	for _, res := range report.Results {
		report.add(res)
	}
	if report.Critical != nil {
		logging.ErrorWithContext(logger, "critical transfer failure; cache-in work aborted", "transfer_critical",
			logging.Error(report.Critical),
			logging.String(logging.FieldErrorHint, "check free space, permissions, and that both tiers are mounted"),
		)
	}
	return report
}

func (e *Executor) runOp(rc *run.Context, abortCtx context.Context, op Op, base *slog.Logger) Result {
	id := op.Item.Identity
	logger := logging.WithContext(services.WithOp(services.WithItem(abortCtx, id), string(op.Kind)), base)
	if !e.locks.tryAcquire(id) {
		err := &ConcurrentAccessError{Identity: id}
		logging.WarnWithContext(logger, "operation skipped; identity busy", "transfer_concurrent",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item retried next run"),
		)
		return Result{Op: op, Status: StatusSkipped, Reason: ReasonConcurrent, Failure: FailureNone, Err: err}
	}
	defer e.locks.release(id)

	var res Result
	switch op.Kind {
	case OpCacheIn:
		res = e.cacheIn(rc, abortCtx, op)
	case OpRestore, OpEvictOut:
		res = e.restore(rc, op)
	case OpRecreateBackup:
		res = e.recreateBackup(rc, abortCtx, op)
	default:
		res = Result{Op: op, Status: StatusFailed, Failure: FailureItem, Err: fmt.Errorf("unknown op kind %q", op.Kind)}
	}
	logResult(logger, res)
	return res
}

func logResult(logger *slog.Logger, res Result) {
	switch res.Status {
	case StatusSucceeded:
		logger.Info("transfer complete",
			logging.String("reason", res.Op.Reason),
			logging.Int64("moved_bytes", res.Bytes),
		)
	case StatusSkipped:
		switch res.Reason {
		case ReasonActivePlayback:
			logging.WarnWithContext(logger, "transfer skipped; item is playing", "transfer_active_playback",
				logging.String(logging.FieldImpact, "item retried next run"),
				logging.String(logging.FieldErrorHint, "no action needed"),
			)
		case ReasonStaleMetadata:
			logging.WarnWithContext(logger, "transfer skipped; backup missing", "transfer_stale_metadata",
				logging.String(logging.FieldImpact, "item left on fast tier"),
				logging.String(logging.FieldErrorHint, "run tiercache audit to inspect"),
			)
		default:
			logger.Info("transfer skipped", logging.String("reason", res.Reason))
		}
	case StatusFailed:
		logging.ErrorWithContext(logger, "transfer failed", "transfer_failed",
			logging.String("failure", string(res.Failure)),
			logging.Error(res.Err),
		)
	}
}

func (e *Executor) fail(res Result, err error) Result {
	if errors.Is(err, context.Canceled) {
		res.Status = StatusSkipped
		res.Reason = ReasonAborted
		res.Failure = FailureNone
		return res
	}
	res.Status = StatusFailed
	res.Err = err
	res.Failure = FailureItem
	if IsCritical(err) {
		res.Failure = FailureCritical
	}
	return res
}

// opProgress reports byte progress for one op across all of its files.
// Files of an op are copied one after another, so no locking is needed.
type opProgress struct {
	rc       *run.Context
	op       Op
	interval int64
	now      func() time.Time
	start    time.Time
	finished int64
}

func (e *Executor) newProgress(rc *run.Context, op Op) *opProgress {
	return &opProgress{rc: rc, op: op, interval: e.interval, now: e.now, start: e.now()}
}

// options returns copy options for the next file of the op.
func (p *opProgress) options() fileutil.CopyOptions {
	return fileutil.CopyOptions{
		ProgressInterval: p.interval,
		Progress: func(copied, _ int64) {
			p.report(p.finished + copied)
		},
	}
}

// fileDone folds a completed copy into the op's running total.
func (p *opProgress) fileDone(n int64) {
	p.finished += n
}

func (p *opProgress) report(done int64) {
	total := max(p.op.ExpectedSize, 0)
	if total > 0 {
		total = max(total, done)
	}
	p.rc.Progress.Update(progress.Status{
		RunID: p.rc.ID,
		Op:    string(p.op.Kind),
		Item:  p.op.Item.Identity,
		Done:  done,
		Total: total,
	}.Estimate(p.now().Sub(p.start)))
}

type filePair struct {
	slow string
	fast string
}

func pairsOf(item media.Item, mainSlow, mainFast string) []filePair {
	pairs := []filePair{{slow: mainSlow, fast: mainFast}}
	for _, sub := range item.Subtitles {
		pairs = append(pairs, filePair{slow: sub.SlowPath, fast: sub.FastPath})
	}
	return pairs
}

// cacheIn copies every file of the item to the fast tier, then renames every
// slow original to its backup. Any failure rolls back all files of the item.
func (e *Executor) cacheIn(rc *run.Context, ctx context.Context, op Op) Result {
	res := Result{Op: op, Failure: FailureNone}
	backup := e.BackupPath(op.Src)
	if fileutil.Exists(op.Dst) && fileutil.Exists(backup) && !fileutil.Exists(op.Src) {
		res.Status = StatusSucceeded
		res.Reason = ReasonAlreadyCached
		return res
	}
	if !fileutil.Exists(op.Src) {
		res.Status = StatusSkipped
		res.Reason = ReasonSourceMissing
		return res
	}

	item := op.Item
	subs := make([]media.Subtitle, 0, len(item.Subtitles))
	for _, sub := range item.Subtitles {
		if fileutil.Exists(sub.SlowPath) {
			subs = append(subs, sub)
		}
	}
	item.Subtitles = subs
	res.Op.Item = item

	pairs := pairsOf(item, op.Src, op.Dst)
	var copied []string
	rollbackCopies := func() {
		for _, path := range copied {
			_ = os.Remove(path)
		}
	}
	sizes := make([]int64, len(pairs))
	prog := e.newProgress(rc, op)
	for i, p := range pairs {
		n, err := e.copy(ctx, p.slow, p.fast, prog.options())
		if err != nil {
			rollbackCopies()
			return e.fail(res, fmt.Errorf("copy %s: %w", p.slow, err))
		}
		prog.fileDone(n)
		copied = append(copied, p.fast)
		sizes[i] = n
		res.Bytes += n
	}

	var renamed []filePair
	for _, p := range pairs {
		if err := os.Rename(p.slow, e.BackupPath(p.slow)); err != nil {
			for _, r := range renamed {
				_ = os.Rename(e.BackupPath(r.slow), r.slow)
			}
			rollbackCopies()
			res.Bytes = 0
			return e.fail(res, fmt.Errorf("create backup for %s: %w", p.slow, err))
		}
		renamed = append(renamed, p)
	}

	res.Op.Item.Size = sizes[0]
	for i := range res.Op.Item.Subtitles {
		res.Op.Item.Subtitles[i].Size = sizes[i+1]
	}
	res.Status = StatusSucceeded
	return res
}

// restore returns the item to the slow tier and removes the fast copy.
func (e *Executor) restore(rc *run.Context, op Op) Result {
	res := Result{Op: op, Failure: FailureNone}
	ctx := context.WithoutCancel(rc.Ctx)
	item := op.Item

	if e.guard != nil {
		active, err := e.guard.Active(ctx, item.LogicalPath)
		if err != nil || active {
			res.Status = StatusSkipped
			res.Reason = ReasonActivePlayback
			res.Err = err
			return res
		}
	}

	if !fileutil.Exists(e.BackupPath(op.Dst)) {
		res.Status = StatusSkipped
		res.Reason = ReasonStaleMetadata
		return res
	}
	if !fileutil.Exists(op.Src) && fileutil.Exists(op.Dst) {
		res.Status = StatusSkipped
		res.Reason = ReasonOriginalExists
		return res
	}

	prog := e.newProgress(rc, op)
	for i, p := range pairsOf(item, op.Dst, op.Src) {
		n, err := e.restoreFile(ctx, prog, p)
		if err != nil {
			if i > 0 {
				err = fmt.Errorf("subtitle %s: %w", p.slow, err)
			}
			return e.fail(res, err)
		}
		prog.fileDone(n)
		res.Bytes += n
	}
	e.cleanupDirs(op.Src)
	res.Status = StatusSucceeded
	return res
}

// restoreFile puts one slow original back in place and deletes its fast copy.
// The backup is renamed back when the fast copy is absent or identical;
// otherwise the fast copy is written over the original and the backup removed.
func (e *Executor) restoreFile(ctx context.Context, prog *opProgress, p filePair) (int64, error) {
	backup := e.BackupPath(p.slow)
	fastExists := fileutil.Exists(p.fast)
	backupExists := fileutil.Exists(backup)
	origExists := fileutil.Exists(p.slow)

	var written int64
	switch {
	case !backupExists && !fastExists:
		return 0, nil
	case !backupExists:
		if !origExists {
			n, err := e.copy(ctx, p.fast, p.slow, prog.options())
			if err != nil {
				return n, err
			}
			written = n
		}
	case !fastExists:
		if err := os.Rename(backup, p.slow); err != nil {
			return 0, err
		}
		return 0, nil
	default:
		same, err := fileutil.SameContent(p.fast, backup)
		if err != nil {
			return 0, err
		}
		if same {
			if err := os.Rename(backup, p.slow); err != nil {
				return 0, err
			}
		} else {
			n, err := e.copy(ctx, p.fast, p.slow, prog.options())
			if err != nil {
				return n, err
			}
			written = n
			if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
				return written, err
			}
		}
	}
	if err := os.Remove(p.fast); err != nil && !errors.Is(err, os.ErrNotExist) {
		return written, err
	}
	return written, nil
}

// recreateBackup restores the slow backup of an item whose fast copy is the
// only protected copy.
func (e *Executor) recreateBackup(rc *run.Context, ctx context.Context, op Op) Result {
	res := Result{Op: op, Failure: FailureNone}
	if !fileutil.Exists(op.Src) {
		res.Status = StatusSkipped
		res.Reason = ReasonSourceMissing
		return res
	}
	if e.statfs != nil {
		if usage, err := e.statfs(existingParent(op.Dst)); err == nil && usage.Free < uint64(max(op.ExpectedSize, 0)) {
			res.Status = StatusSkipped
			res.Reason = ReasonNoArraySpace
			return res
		}
	}

	prog := e.newProgress(rc, op)
	for _, p := range pairsOf(op.Item, op.Dst, op.Src) {
		backup := e.BackupPath(p.slow)
		if fileutil.Exists(backup) || !fileutil.Exists(p.fast) {
			continue
		}
		if fileutil.Exists(p.slow) {
			if same, err := fileutil.SameContent(p.fast, p.slow); err == nil && same {
				if err := os.Rename(p.slow, backup); err != nil {
					return e.fail(res, err)
				}
				continue
			}
		}
		n, err := e.copy(ctx, p.fast, backup, prog.options())
		if err != nil {
			return e.fail(res, err)
		}
		prog.fileDone(n)
		res.Bytes += n
	}
	res.Status = StatusSucceeded
	return res
}

func (e *Executor) cleanupDirs(fastPath string) {
	for _, root := range e.cleanupRoots {
		rel, err := filepath.Rel(root, fastPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		_ = fileutil.RemoveEmptyDirs(filepath.Dir(fastPath), root)
		return
	}
}

func existingParent(path string) string {
	dir := filepath.Dir(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
