package ingest

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSweepAge is how old a leftover download must be before the startup
// sweep removes it.
const DefaultSweepAge = 7 * 24 * time.Hour

// SweepDownloads removes stale partial downloads left behind by crashed
// runs. Only .mp4 files older than maxAge go; anything else in the
// directory is left alone.
func SweepDownloads(dir string, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultSweepAge
	}
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("pipeline: downloads sweep failed", "dir", dir, "error", err)
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("pipeline: stale download removal failed", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("pipeline: stale downloads swept", "dir", dir, "removed", removed)
	}
}
