package media

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FindSubtitles lists sidecar files next to mediaPath that share its base name
// ("Movie.mkv" matches "Movie.srt" and "Movie.en.forced.srt") and carry one of
// the given extensions. Results are sorted.
func FindSubtitles(mediaPath string, extensions []string) ([]string, error) {
	if len(extensions) == 0 {
		return nil, nil
	}
	dir := filepath.Dir(mediaPath)
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == filepath.Base(mediaPath) {
			continue
		}
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !slices.Contains(extensions, ext) {
			continue
		}
		found = append(found, filepath.Join(dir, name))
	}
	slices.Sort(found)
	return found, nil
}
