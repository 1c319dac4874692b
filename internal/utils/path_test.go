package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ResolvePath("~/aulacast/downloads")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "aulacast", "downloads"), got)

	got, err = ResolvePath("./downloads/../data")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "data", filepath.Base(got))

	_, err = ResolvePath("")
	assert.Error(t, err)
}

func TestEnsureParent(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "a", "b", "c.mp4")

	require.NoError(t, EnsureParent(dest))
	assert.DirExists(t, filepath.Dir(dest))

	// Already-existing parents are a no-op.
	require.NoError(t, EnsureParent(dest))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "Zoom*****", MaskSecret("ZoomClientSecret123"))
	assert.Equal(t, "*****", MaskSecret("abcd"))
	assert.Equal(t, "*****", MaskSecret(""))
}
