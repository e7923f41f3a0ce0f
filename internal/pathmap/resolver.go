package pathmap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tiercache/internal/config"
	"tiercache/internal/logging"
	"tiercache/internal/services"
)

// UnmappedPathError reports a logical path that no mapping covers.
type UnmappedPathError struct {
	Path string
}

func (e *UnmappedPathError) Error() string {
	return fmt.Sprintf("no path mapping covers %q", e.Path)
}

// Unwrap lets callers match with errors.Is(err, services.ErrNotFound).
func (e *UnmappedPathError) Unwrap() error { return services.ErrNotFound }

// Resolution is the outcome of resolving one path.
type Resolution struct {
	LogicalPath string
	FastPath    string
	SlowPath    string
	// HostPath is for display only.
	HostPath  string
	Cacheable bool
	Mapping   string
}

// Mapping describes a resolved mapping after mount classification.
type Mapping struct {
	Name           string
	ProviderPrefix string
	FastPrefix     string
	SlowPrefix     string
	// EffectiveSlowPrefix is SlowPrefix after the array-direct rewrite.
	EffectiveSlowPrefix string
	HostPrefix          string
	Kind                string
	Cacheable           bool
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithMountTable overrides the mount table source.
func WithMountTable(table MountTable) Option {
	return func(r *Resolver) {
		r.mounts = table
	}
}

// WithLogger sets the logger used for mount table warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// DirLister lists a directory. The default is os.ReadDir.
type DirLister func(dir string) ([]os.DirEntry, error)

// WithDirLister overrides how array-direct directories are inspected when
// telling a pool-only share from a hybrid one.
func WithDirLister(list DirLister) Option {
	return func(r *Resolver) {
		r.readDir = list
	}
}

// Resolver maps logical paths to tier paths. It is immutable after
// construction and safe for concurrent use.
type Resolver struct {
	mappings []Mapping
	byFast   []Mapping
	ordered  []Mapping
	mounts   MountTable
	readDir  DirLister
	logger   *slog.Logger
}

// NewResolver classifies every mapping and returns a ready Resolver. The mount
// table is read at most once. An unreadable mount table degrades auto mappings
// to plain with a warning.
func NewResolver(mappings []config.PathMapping, opts ...Option) (*Resolver, error) {
	if len(mappings) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "pathmap", "new resolver", "no path mappings configured", nil)
	}
	r := &Resolver{mounts: ProcMounts, readDir: os.ReadDir}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "pathmap")

	var (
		table     []MountEntry
		tableRead bool
		tableErr  error
	)
	loadTable := func() ([]MountEntry, error) {
		if !tableRead {
			tableRead = true
			table, tableErr = r.mounts()
		}
		return table, tableErr
	}

	for _, m := range mappings {
		resolved := Mapping{
			Name:           m.Name,
			ProviderPrefix: cleanPath(m.ProviderPrefix),
			FastPrefix:     cleanPath(m.FastPrefix),
			SlowPrefix:     cleanPath(m.SlowPrefix),
			HostPrefix:     cleanPath(m.HostPrefix),
			Cacheable:      m.IsCacheable(),
		}
		if resolved.ProviderPrefix == "" || resolved.FastPrefix == "" || resolved.SlowPrefix == "" {
			return nil, services.Wrap(services.ErrConfiguration, "pathmap", "new resolver",
				fmt.Sprintf("mapping %q requires provider, fast, and slow prefixes", m.Name), nil)
		}
		if resolved.HostPrefix == "" {
			resolved.HostPrefix = resolved.ProviderPrefix
		}

		kind := strings.TrimSpace(m.FSKind)
		var mount MountEntry
		if kind == "" || kind == config.FSKindAuto || kind == config.FSKindPooled {
			entries, err := loadTable()
			switch {
			case err != nil && (kind == "" || kind == config.FSKindAuto):
				logging.WarnWithContext(r.logger, "mount table unavailable; treating slow tier as plain", "mount_table_unavailable",
					logging.String("mapping", m.Name),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "set fs_kind explicitly on the mapping"),
					logging.String(logging.FieldImpact, "array-direct rewrite disabled for this mapping"),
				)
				kind = config.FSKindPlain
			case err == nil:
				mount, _ = mountFor(entries, resolved.SlowPrefix)
				if kind == "" || kind == config.FSKindAuto {
					kind = r.classify(entries, mount, resolved.SlowPrefix)
				}
			}
		}
		resolved.Kind = kind
		resolved.EffectiveSlowPrefix = resolved.SlowPrefix
		if kind == config.FSKindPooled {
			direct, err := arrayDirect(m.ArrayPrefix, mount, resolved.SlowPrefix)
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "pathmap", "new resolver",
					fmt.Sprintf("mapping %q", m.Name), err)
			}
			resolved.EffectiveSlowPrefix = direct
		}
		r.mappings = append(r.mappings, resolved)
	}

	r.ordered = append([]Mapping(nil), r.mappings...)
	r.byFast = append([]Mapping(nil), r.mappings...)
	sort.SliceStable(r.mappings, func(i, j int) bool {
		return len(r.mappings[i].ProviderPrefix) > len(r.mappings[j].ProviderPrefix)
	})
	sort.SliceStable(r.byFast, func(i, j int) bool {
		return len(r.byFast[i].FastPrefix) > len(r.byFast[j].FastPrefix)
	})
	return r, nil
}

// classify decides the filesystem kind of a slow prefix from the mount that
// contains it. A share backed by its own ZFS dataset is pool-only unless it
// also keeps files on the array-direct view.
func (r *Resolver) classify(entries []MountEntry, mount MountEntry, slowPrefix string) string {
	if mount.MountPoint == "" || !isPooledFS(mount.FSType) {
		return config.FSKindPlain
	}
	share := shareName(mount.MountPoint, slowPrefix)
	if share == "" {
		return config.FSKindPooled
	}
	for _, e := range entries {
		if strings.EqualFold(e.FSType, "zfs") && filepath.Base(e.MountPoint) == share {
			if r.hybrid(mount, share) {
				return config.FSKindPooled
			}
			return config.FSKindPoolOnly
		}
	}
	return config.FSKindPooled
}

// hybrid reports whether share has entries under the array-direct root. An
// unreadable root counts as pool-only.
func (r *Resolver) hybrid(mount MountEntry, share string) bool {
	root := mount.MountPoint + "0"
	if _, err := r.readDir(root); err != nil {
		return false
	}
	entries, err := r.readDir(filepath.Join(root, share))
	return err == nil && len(entries) > 0
}

// shareName is the first path component of slowPrefix below the mount point.
func shareName(mountPoint, slowPrefix string) string {
	rel, err := filepath.Rel(mountPoint, slowPrefix)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return strings.SplitN(rel, string(filepath.Separator), 2)[0]
}

// arrayDirect rewrites slowPrefix onto the array-direct view: the configured
// override, or the pooled mount point with a "0" suffix.
func arrayDirect(override string, mount MountEntry, slowPrefix string) (string, error) {
	if override = cleanPath(override); override != "" {
		if mount.MountPoint == "" {
			return override, nil
		}
		rel, err := filepath.Rel(mount.MountPoint, slowPrefix)
		if err != nil || strings.HasPrefix(rel, "..") {
			return override, nil
		}
		return filepath.Join(override, rel), nil
	}
	if mount.MountPoint == "" || mount.MountPoint == "/" {
		return "", errors.New("pooled slow prefix without a detectable mount point; set array_prefix")
	}
	rel, err := filepath.Rel(mount.MountPoint, slowPrefix)
	if err != nil {
		return "", err
	}
	return filepath.Join(mount.MountPoint+"0", rel), nil
}

// Resolve maps a logical path to its tier paths.
func (r *Resolver) Resolve(logicalPath string) (Resolution, error) {
	path := cleanPath(logicalPath)
	if path == "" {
		return Resolution{}, &UnmappedPathError{Path: logicalPath}
	}
	for _, m := range r.mappings {
		rel, ok := relativeTo(path, m.ProviderPrefix)
		if !ok {
			continue
		}
		return Resolution{
			LogicalPath: path,
			FastPath:    filepath.Join(m.FastPrefix, rel),
			SlowPath:    filepath.Join(m.EffectiveSlowPrefix, rel),
			HostPath:    filepath.Join(m.HostPrefix, rel),
			Cacheable:   m.Cacheable,
			Mapping:     m.Name,
		}, nil
	}
	return Resolution{}, &UnmappedPathError{Path: logicalPath}
}

// FastToSlow inverts Resolve for a fast-tier path.
func (r *Resolver) FastToSlow(fastPath string) (Resolution, error) {
	path := cleanPath(fastPath)
	for _, m := range r.byFast {
		rel, ok := relativeTo(path, m.FastPrefix)
		if !ok {
			continue
		}
		return Resolution{
			LogicalPath: filepath.Join(m.ProviderPrefix, rel),
			FastPath:    path,
			SlowPath:    filepath.Join(m.EffectiveSlowPrefix, rel),
			HostPath:    filepath.Join(m.HostPrefix, rel),
			Cacheable:   m.Cacheable,
			Mapping:     m.Name,
		}, nil
	}
	return Resolution{}, &UnmappedPathError{Path: fastPath}
}

// Mappings returns the classified mappings in configuration order.
func (r *Resolver) Mappings() []Mapping {
	return append([]Mapping(nil), r.ordered...)
}

// CacheableFastPrefixes lists fast prefixes of cacheable mappings.
func (r *Resolver) CacheableFastPrefixes() []string {
	var prefixes []string
	for _, m := range r.byFast {
		if m.Cacheable {
			prefixes = append(prefixes, m.FastPrefix)
		}
	}
	sort.Strings(prefixes)
	return prefixes
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return norm.NFC.String(filepath.Clean(p))
}

// relativeTo returns path relative to prefix when prefix matches on a
// component boundary.
func relativeTo(path, prefix string) (string, bool) {
	if path == prefix {
		return "", true
	}
	if !hasPathPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(path, prefix), string(filepath.Separator)), true
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}
