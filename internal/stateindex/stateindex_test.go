package stateindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/model"
)

func TestPutGet_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	defer idx.Close()

	fp := Fingerprint{Path: "/a/b", Inode: 1, Size: 3, ModTime: 1000}
	h := model.NewHash("acbd18db4cc2f85cedef654fccc4a4d8")
	require.NoError(t, idx.Put(fp, h, model.Meta{}))

	entry, ok := idx.Get(fp)
	require.True(t, ok)
	require.Equal(t, h.Value, entry.Hash.Value)
}

func TestGet_MissOnFingerprintChange(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	defer idx.Close()

	fp := Fingerprint{Path: "/a/b", Inode: 1, Size: 3, ModTime: 1000}
	require.NoError(t, idx.Put(fp, model.NewHash("x"), model.Meta{}))

	changed := fp
	changed.ModTime = 2000
	_, ok := idx.Get(changed)
	require.False(t, ok)
}

func TestHashFileCached_SkipsRehashOnHit(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	defer idx.Close()

	path := filepath.Join(dir, "foo")
	require.NoError(t, os.WriteFile(path, []byte("foo"), 0o644))

	h1, _, err := idx.HashFileCached(path)
	require.NoError(t, err)
	require.Equal(t, "acbd18db4cc2f85cedef654fccc4a4d8", h1.Value)

	// Mutate the file's bytes without changing size/mtime is not
	// reproducible portably; instead verify the cached path returns
	// the same hash consistently (determinism of the fast path).
	h2, _, err := idx.HashFileCached(path)
	require.NoError(t, err)
	require.Equal(t, h1.Value, h2.Value)
}

func TestOpen_RebuildsCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(path, []byte("not a sqlite database"), 0o644))

	idx, err := Open(path, nil)
	require.NoError(t, err)
	defer idx.Close()

	fp := Fingerprint{Path: "/x", Inode: 1, Size: 1, ModTime: 1}
	require.NoError(t, idx.Put(fp, model.NewHash("y"), model.Meta{}))
}
