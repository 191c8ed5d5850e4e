package runcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	store, err := odb.New(filepath.Join(t.TempDir(), "odb"), nil)
	require.NoError(t, err)
	c, err := New(store, filepath.Join(t.TempDir(), "refs"))
	require.NoError(t, err)
	return c
}

func TestKey_OrderIndependent(t *testing.T) {
	h1 := model.NewHash("aaa")
	h2 := model.NewHash("bbb")
	k1 := Key{Cmd: "run", Deps: []model.Dependency{{Path: "a", Hash: &h1}, {Path: "b", Hash: &h2}}}
	k2 := Key{Cmd: "run", Deps: []model.Dependency{{Path: "b", Hash: &h2}, {Path: "a", Hash: &h1}}}
	assert.Equal(t, k1.Hash(), k2.Hash())
}

func TestKey_ChangesWithDepHash(t *testing.T) {
	h1 := model.NewHash("aaa")
	h2 := model.NewHash("bbb")
	k1 := Key{Cmd: "run", Deps: []model.Dependency{{Path: "a", Hash: &h1}}}
	k2 := Key{Cmd: "run", Deps: []model.Dependency{{Path: "a", Hash: &h2}}}
	assert.NotEqual(t, k1.Hash(), k2.Hash())
}

func TestSaveLookup_RoundTrip(t *testing.T) {
	c := newCache(t)
	k := Key{Cmd: "python train.py"}
	m := &Manifest{
		Cmd:  "python train.py",
		Outs: []ManifestEntry{{Path: "model.pkl", Hash: "deadbeef"}},
	}
	require.NoError(t, c.Save(context.Background(), k, m))

	got, ok, err := c.Lookup(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "python train.py", got.Cmd)
	require.Len(t, got.Outs, 1)
	assert.Equal(t, "model.pkl", got.Outs[0].Path)
}

func TestLookup_Miss(t *testing.T) {
	c := newCache(t)
	_, ok, err := c.Lookup(Key{Cmd: "nothing cached"})
	require.NoError(t, err)
	assert.False(t, ok)
}
