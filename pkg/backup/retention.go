package backup

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IsRunLog reports whether name looks like a run log file name.
func IsRunLog(name string) bool {
	return strings.HasPrefix(name, logFilePrefix) && strings.HasSuffix(name, logFileSuffix)
}

// PruneLogs removes run logs in dir last modified before now minus maxAge. It
// returns the removed paths. A missing dir is not an error.
func PruneLogs(dir string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-maxAge)
	var removed []string
	for _, de := range entries {
		if de.IsDir() || !IsRunLog(de.Name()) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		if !fi.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// ListLogs returns the run log paths in dir, oldest first.
func ListLogs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*"+logFileSuffix))
	if err != nil {
		return nil, err
	}
	// names embed the start time, so lexical order is chronological
	return matches, nil
}
