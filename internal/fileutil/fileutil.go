package fileutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"
)

// PartialSuffix marks a copy that has not been verified and renamed into place.
const PartialSuffix = ".partial"

const copyBufferSize = 1 << 20

// ProgressFunc receives cumulative bytes written and the expected total.
type ProgressFunc func(copied, total int64)

// CopyOptions tunes CopyFileVerified.
type CopyOptions struct {
	// ProgressInterval is the byte cadence for Progress callbacks. Zero
	// reports only on completion.
	ProgressInterval int64
	Progress         ProgressFunc
}

// CopyFileVerified streams src into dst+PartialSuffix, verifies the written
// size against the source, then renames the temp file over dst. The copy
// stops with ctx.Err() as soon as ctx is cancelled; the temp file is removed
// on any failure. Source mode and modification time are preserved.
func CopyFileVerified(ctx context.Context, src, dst string, opts CopyOptions) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return 0, fmt.Errorf("copy %s: not a regular file", src)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp := dst + PartialSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return 0, err
	}
	cleanup := func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}

	written, err := copyWithProgress(ctx, out, in, srcSize, opts)
	if err != nil {
		cleanup()
		return written, err
	}
	if err := out.Sync(); err != nil {
		cleanup()
		return written, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return written, err
	}
	if written != srcSize {
		_ = os.Remove(tmp)
		return written, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}
	_ = os.Chtimes(tmp, srcInfo.ModTime(), srcInfo.ModTime())
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return written, err
	}
	return written, nil
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, opts CopyOptions) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	nextReport := opts.ProgressInterval
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			written += int64(w)
			if err != nil {
				return written, err
			}
			if w != n {
				return written, io.ErrShortWrite
			}
			if opts.Progress != nil && opts.ProgressInterval > 0 && written >= nextReport {
				opts.Progress(written, total)
				for nextReport <= written {
					nextReport += opts.ProgressInterval
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}
	if opts.Progress != nil {
		opts.Progress(written, total)
	}
	return written, nil
}

// HashFile returns the xxhash64 digest of the file contents.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// SameContent reports whether both files have the same size and xxhash64
// digest. Sizes are compared first so differing files are rarely read.
func SameContent(a, b string) (bool, error) {
	aInfo, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bInfo, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}
	aSum, err := HashFile(a)
	if err != nil {
		return false, err
	}
	bSum, err := HashFile(b)
	if err != nil {
		return false, err
	}
	return aSum == bSum, nil
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Usage describes filesystem capacity in bytes.
type Usage struct {
	Total uint64
	Free  uint64
}

// Used returns the number of bytes not available to unprivileged writers.
func (u Usage) Used() uint64 {
	if u.Free >= u.Total {
		return 0
	}
	return u.Total - u.Free
}

// Fraction returns used/total in [0,1]; an empty filesystem reports 0.
func (u Usage) Fraction() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Used()) / float64(u.Total)
}

// StatfsFunc reports capacity for the filesystem holding path. Tests
// substitute fixed values.
type StatfsFunc func(path string) (Usage, error)

// DiskUsage reads capacity with statfs(2). Free counts blocks available to
// unprivileged users.
func DiskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, err
	}
	bsize := uint64(stat.Bsize)
	return Usage{
		Total: stat.Blocks * bsize,
		Free:  stat.Bavail * bsize,
	}, nil
}

// RemoveEmptyDirs removes dir and its empty parents, stopping at (and never
// removing) root. Directories outside root are left alone.
func RemoveEmptyDirs(dir, root string) error {
	dir = filepath.Clean(dir)
	root = filepath.Clean(root)
	for {
		if dir == root || !within(dir, root) {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				dir = filepath.Dir(dir)
				continue
			}
			return err
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		dir = filepath.Dir(dir)
	}
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
