package index

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/lockfile"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
)

func TestDiff_DetectsAddedRemovedModified(t *testing.T) {
	old := &lockfile.File{Stages: map[string]lockfile.StageEntry{
		"a": {Outs: []lockfile.OutEntry{
			{Path: "keep.csv", Hash: "same"},
			{Path: "change.csv", Hash: "old"},
			{Path: "gone.csv", Hash: "x"},
		}},
	}}
	new := &lockfile.File{Stages: map[string]lockfile.StageEntry{
		"a": {Outs: []lockfile.OutEntry{
			{Path: "keep.csv", Hash: "same"},
			{Path: "change.csv", Hash: "new"},
			{Path: "added.csv", Hash: "y"},
		}},
	}}

	entries := Diff(old, new)
	byPath := map[string]DiffEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}

	require.Contains(t, byPath, "change.csv")
	assert.True(t, byPath["change.csv"].Modified)
	require.Contains(t, byPath, "gone.csv")
	assert.True(t, byPath["gone.csv"].Removed)
	require.Contains(t, byPath, "added.csv")
	assert.True(t, byPath["added.csv"].Added)
	assert.NotContains(t, byPath, "keep.csv")
}

func TestRefs_PinPersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	refs, err := LoadRefs(dir)
	require.NoError(t, err)

	h := model.NewHash("abc123")
	require.NoError(t, refs.Pin(h))
	assert.True(t, refs.IsPinned(h))

	reloaded, err := LoadRefs(dir)
	require.NoError(t, err)
	assert.True(t, reloaded.IsPinned(h))
}

func TestRefs_Unpin(t *testing.T) {
	dir := t.TempDir()
	refs, err := LoadRefs(dir)
	require.NoError(t, err)

	h := model.NewHash("abc123")
	require.NoError(t, refs.Pin(h))
	require.NoError(t, refs.Unpin(h))
	assert.False(t, refs.IsPinned(h))
}

func TestGC_RemovesUnreferencedObjects(t *testing.T) {
	dir := t.TempDir()
	store, err := odb.New(filepath.Join(dir, "odb"), nil)
	require.NoError(t, err)

	kept, err := store.Put(context.Background(), strings.NewReader("keep"))
	require.NoError(t, err)
	removed, err := store.Put(context.Background(), strings.NewReader("drop"))
	require.NoError(t, err)

	live := map[string]bool{kept.String(): true}
	n, err := GC(store, live)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, store.Exists(kept))
	assert.False(t, store.Exists(removed))
}
