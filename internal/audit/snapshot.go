package audit

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"tiercache/internal/fileutil"
	"tiercache/internal/pathmap"
)

// File is one file seen on disk.
type File struct {
	LogicalPath string
	FastPath    string
	// SlowPath is the original location on the slow tier; the backup lives
	// at SlowPath plus the backup suffix.
	SlowPath string
	Size     int64
}

// Snapshot is the on-disk view of both tiers.
type Snapshot struct {
	// Fast is keyed by fast path.
	Fast map[string]File
	// Backups is keyed by the slow original path the backup protects.
	Backups map[string]File
	// SubtitleExtensions identify sidecar files that belong to a media file
	// in the same directory.
	SubtitleExtensions []string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Fast: map[string]File{}, Backups: map[string]File{}}
}

// HasFast reports whether a fast copy exists at path.
func (s Snapshot) HasFast(path string) bool {
	_, ok := s.Fast[path]
	return ok
}

// HasBackup reports whether a backup of the slow original exists.
func (s Snapshot) HasBackup(slowPath string) bool {
	_, ok := s.Backups[slowPath]
	return ok
}

// MappingSource lists classified mappings.
type MappingSource interface {
	Mappings() []pathmap.Mapping
}

// Scan builds a snapshot from every cacheable mapping. Missing roots are
// treated as empty; partial copies are ignored.
func Scan(resolver MappingSource, suffix string, subtitleExts ...string) (Snapshot, error) {
	snap := NewSnapshot()
	snap.SubtitleExtensions = subtitleExts
	for _, m := range resolver.Mappings() {
		if !m.Cacheable {
			continue
		}
		err := walkFiles(m.FastPrefix, func(path string, rel string, size int64) {
			if strings.HasSuffix(path, fileutil.PartialSuffix) {
				return
			}
			snap.Fast[path] = File{
				LogicalPath: filepath.Join(m.ProviderPrefix, rel),
				FastPath:    path,
				SlowPath:    filepath.Join(m.EffectiveSlowPrefix, rel),
				Size:        size,
			}
		})
		if err != nil {
			return Snapshot{}, err
		}
		err = walkFiles(m.EffectiveSlowPrefix, func(path string, rel string, size int64) {
			if !strings.HasSuffix(path, suffix) {
				return
			}
			rel = strings.TrimSuffix(rel, suffix)
			original := strings.TrimSuffix(path, suffix)
			snap.Backups[original] = File{
				LogicalPath: filepath.Join(m.ProviderPrefix, rel),
				FastPath:    filepath.Join(m.FastPrefix, rel),
				SlowPath:    original,
				Size:        size,
			}
		})
		if err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func walkFiles(root string, visit func(path, rel string, size int64)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		visit(path, rel, info.Size())
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
