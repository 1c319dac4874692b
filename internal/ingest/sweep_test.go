package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepDownloads(t *testing.T) {
	dir := t.TempDir()

	touch(t, filepath.Join(dir, "old.mp4"), 48*time.Hour)
	touch(t, filepath.Join(dir, "fresh.mp4"), time.Hour)
	touch(t, filepath.Join(dir, "old.txt"), 48*time.Hour)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old.mp4.d"), 0o755))

	SweepDownloads(dir, 24*time.Hour)

	assert.NoFileExists(t, filepath.Join(dir, "old.mp4"))
	assert.FileExists(t, filepath.Join(dir, "fresh.mp4"))
	assert.FileExists(t, filepath.Join(dir, "old.txt"), "only .mp4 leftovers are swept")
	assert.DirExists(t, filepath.Join(dir, "old.mp4.d"))
}

func TestSweepDownloadsMissingDir(t *testing.T) {
	// Must not panic or create anything.
	missing := filepath.Join(t.TempDir(), "nope")
	SweepDownloads(missing, time.Hour)
	assert.NoDirExists(t, missing)
}
