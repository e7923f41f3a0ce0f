// Package exclusion maintains the file that tells the array mover which
// fast-tier files to leave alone.
package exclusion

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"tiercache/internal/fileutil"
)

// Writer rewrites the exclusion list.
type Writer struct {
	path   string
	manual string
}

// NewWriter returns a writer for path. Entries from manualPath, when set, are
// carried into every write.
func NewWriter(path, manualPath string) *Writer {
	return &Writer{path: path, manual: manualPath}
}

// Path returns the list location.
func (w *Writer) Path() string { return w.path }

// Write replaces the list with fastPaths plus the manual entries, sorted and
// de-duplicated. A writer without a path does nothing.
func (w *Writer) Write(fastPaths []string) (int, error) {
	if w == nil || strings.TrimSpace(w.path) == "" {
		return 0, nil
	}
	entries := slices.Clone(fastPaths)
	if w.manual != "" {
		manual, err := readList(w.manual)
		if err != nil {
			return 0, fmt.Errorf("read manual exclusions: %w", err)
		}
		entries = append(entries, manual...)
	}
	entries = slices.DeleteFunc(entries, func(s string) bool { return strings.TrimSpace(s) == "" })
	slices.Sort(entries)
	entries = slices.Compact(entries)

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomic(w.path, []byte(b.String()), 0o644); err != nil {
		return 0, fmt.Errorf("write exclusion list: %w", err)
	}
	return len(entries), nil
}

// Read returns the entries currently in the list.
func (w *Writer) Read() ([]string, error) {
	return readList(w.path)
}

// readList reads one path per line, skipping blanks and # comments. A missing
// file is empty.
func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}
