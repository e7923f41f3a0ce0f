package pathmap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MountEntry is one line of the mount table.
type MountEntry struct {
	Source     string
	MountPoint string
	FSType     string
}

// MountTable returns the current mount table. Tests substitute fixed tables.
type MountTable func() ([]MountEntry, error)

// ProcMounts reads /proc/self/mounts.
func ProcMounts() ([]MountEntry, error) {
	return ReadMounts("/proc/self/mounts")
}

// ReadMounts parses a file in fstab/mtab format. Octal escapes such as \040
// in mount points are decoded.
func ReadMounts(path string) ([]MountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	defer f.Close()

	var entries []MountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		entries = append(entries, MountEntry{
			Source:     fields[0],
			MountPoint: filepath.Clean(unescapeMount(fields[1])),
			FSType:     fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return entries, nil
}

func unescapeMount(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+3 < len(value) {
			if code, err := strconv.ParseUint(value[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(code))
				i += 3
				continue
			}
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func isPooledFS(fsType string) bool {
	fsType = strings.ToLower(fsType)
	return strings.Contains(fsType, "shfs") || strings.Contains(fsType, "mergerfs")
}

// mountFor returns the entry with the longest mount point containing path.
func mountFor(entries []MountEntry, path string) (MountEntry, bool) {
	var best MountEntry
	found := false
	for _, e := range entries {
		if !hasPathPrefix(path, e.MountPoint) {
			continue
		}
		if !found || len(e.MountPoint) > len(best.MountPoint) {
			best = e
			found = true
		}
	}
	return best, found
}
