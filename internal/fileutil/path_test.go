package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRelPath(t *testing.T) {
	cases := map[string]string{
		"./foo/bar": "foo/bar",
		"foo/bar/":  "foo/bar",
		".":         "",
		"foo":       "foo",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRelPath(in), in)
	}
}

func TestIsValidRelPath(t *testing.T) {
	assert.True(t, IsValidRelPath("data/raw.csv"))
	assert.False(t, IsValidRelPath(""))
	assert.False(t, IsValidRelPath("/abs/path"))
	assert.False(t, IsValidRelPath("../escape"))
	assert.False(t, IsValidRelPath("a/../b"))
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("12345"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("12"), 0o644))

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, Exists(dir))
	assert.False(t, Exists(filepath.Join(dir, "nope")))
}
