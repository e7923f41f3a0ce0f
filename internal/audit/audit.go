package audit

import (
	"path/filepath"
	"slices"
	"strings"

	"tiercache/internal/cachestate"
	"tiercache/internal/media"
)

// Kind names an anomaly class.
type Kind string

const (
	// KindOrphanedBackup is a backup with no fast copy.
	KindOrphanedBackup Kind = "orphaned_backup"
	// KindUnprotected is a tracked fast copy whose backup is gone.
	KindUnprotected Kind = "unprotected_cache_file"
	// KindStaleRecord is a record with neither copy on disk.
	KindStaleRecord Kind = "stale_record"
	// KindUntracked is a fast-tier file with no record and no backup.
	KindUntracked Kind = "untracked_cache_file"
	// KindUnrecordedPair is a complete fast copy and backup with no record.
	KindUnrecordedPair Kind = "unrecorded_cache_pair"
)

// Kinds lists every anomaly kind in report order.
var Kinds = []Kind{KindOrphanedBackup, KindUnprotected, KindStaleRecord, KindUntracked, KindUnrecordedPair}

// Anomaly is one divergence between records and disk.
type Anomaly struct {
	Kind     Kind
	Identity string
	Item     media.Item
	// Record is set when the anomaly involves a tracked item.
	Record *cachestate.Record
	Fix    string
}

// AutoFixable reports whether Apply acts on the anomaly.
func (a Anomaly) AutoFixable() bool {
	return a.Kind != KindUntracked
}

// Fix descriptions.
const (
	FixRestoreBackup  = "restore backup to the slow tier"
	FixRecreateBackup = "recreate backup from the fast copy"
	FixDropRecord     = "drop record"
	FixManualReview   = "manual review; file is never deleted automatically"
	FixAdoptRecord    = "adopt a record for the existing pair"
)

// Audit compares records with the snapshot. The result is ordered by kind and
// then identity.
func Audit(records []cachestate.Record, snap Snapshot) []Anomaly {
	var out []Anomaly
	claimedFast := map[string]bool{}
	claimedBackup := map[string]bool{}

	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b cachestate.Record) int { return strings.Compare(a.Identity, b.Identity) })
	for i := range sorted {
		rec := sorted[i]
		claimedFast[rec.FastPath] = true
		claimedBackup[rec.SlowPath] = true
		for _, sub := range rec.Subtitles {
			claimedFast[sub.FastPath] = true
			claimedBackup[sub.SlowPath] = true
		}
		fast := snap.HasFast(rec.FastPath)
		backup := snap.HasBackup(rec.SlowPath)
		a := Anomaly{Identity: rec.Identity, Item: rec.Item(), Record: &rec}
		switch {
		case fast && backup:
			continue
		case fast:
			a.Kind, a.Fix = KindUnprotected, FixRecreateBackup
		case backup:
			a.Kind, a.Fix = KindOrphanedBackup, FixRestoreBackup
		default:
			a.Kind, a.Fix = KindStaleRecord, FixDropRecord
		}
		out = append(out, a)
	}

	unclaimed := map[string]File{}
	for path, f := range snap.Fast {
		if !claimedFast[path] {
			unclaimed[path] = f
		}
	}
	for _, path := range sortedKeys(unclaimed) {
		f := unclaimed[path]
		if isSidecar(path, unclaimed, snap.SubtitleExtensions) {
			continue
		}
		item := itemFromFile(f)
		pair := snap.HasBackup(f.SlowPath)
		for _, sidecar := range sidecarsOf(path, unclaimed, snap.SubtitleExtensions) {
			s := unclaimed[sidecar]
			if pair && !snap.HasBackup(s.SlowPath) {
				lone := itemFromFile(s)
				out = append(out, Anomaly{Kind: KindUntracked, Identity: lone.Identity, Item: lone, Fix: FixManualReview})
				continue
			}
			item.Subtitles = append(item.Subtitles, media.Subtitle{FastPath: s.FastPath, SlowPath: s.SlowPath, Size: s.Size})
			claimedBackup[s.SlowPath] = true
		}
		if pair {
			claimedBackup[f.SlowPath] = true
			out = append(out, Anomaly{Kind: KindUnrecordedPair, Identity: item.Identity, Item: item, Fix: FixAdoptRecord})
			continue
		}
		out = append(out, Anomaly{Kind: KindUntracked, Identity: item.Identity, Item: item, Fix: FixManualReview})
	}

	for _, original := range sortedKeys(snap.Backups) {
		if claimedBackup[original] {
			continue
		}
		f := snap.Backups[original]
		if snap.HasFast(f.FastPath) {
			continue
		}
		item := itemFromFile(f)
		out = append(out, Anomaly{Kind: KindOrphanedBackup, Identity: item.Identity, Item: item, Fix: FixRestoreBackup})
	}

	slices.SortStableFunc(out, func(a, b Anomaly) int {
		if c := slices.Index(Kinds, a.Kind) - slices.Index(Kinds, b.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.Identity, b.Identity)
	})
	return out
}

// Count tallies anomalies per kind.
func Count(anomalies []Anomaly) map[Kind]int {
	counts := make(map[Kind]int, len(Kinds))
	for _, a := range anomalies {
		counts[a.Kind]++
	}
	return counts
}

func itemFromFile(f File) media.Item {
	return media.Item{
		Identity:    media.Identity(f.LogicalPath),
		LogicalPath: f.LogicalPath,
		FastPath:    f.FastPath,
		SlowPath:    f.SlowPath,
		Size:        f.Size,
	}
}

// isSidecar reports whether path is a subtitle that belongs to another
// unclaimed media file in the same directory.
func isSidecar(path string, files map[string]File, exts []string) bool {
	if !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
		return false
	}
	dir, name := filepath.Split(path)
	for other := range files {
		if other == path || filepath.Dir(other) != filepath.Clean(dir) {
			continue
		}
		if slices.Contains(exts, strings.ToLower(filepath.Ext(other))) {
			continue
		}
		base := strings.TrimSuffix(filepath.Base(other), filepath.Ext(other))
		if strings.HasPrefix(name, base+".") {
			return true
		}
	}
	return false
}

func sidecarsOf(mediaPath string, files map[string]File, exts []string) []string {
	if slices.Contains(exts, strings.ToLower(filepath.Ext(mediaPath))) {
		return nil
	}
	dir := filepath.Dir(mediaPath)
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	var out []string
	for path := range files {
		if path == mediaPath || filepath.Dir(path) != dir {
			continue
		}
		if !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
			continue
		}
		if strings.HasPrefix(filepath.Base(path), base+".") {
			out = append(out, path)
		}
	}
	slices.Sort(out)
	return out
}
