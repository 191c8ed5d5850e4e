package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/model"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "flowdag.lock"))
	require.NoError(t, err)
	assert.Empty(t, f.Stages)
	assert.Equal(t, SchemaVersion, f.Schema)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowdag.lock")

	f := &File{
		Schema: SchemaVersion,
		Stages: map[string]StageEntry{
			"prepare": {
				Cmd: "python prepare.py",
				Deps: []DepEntry{
					{Path: "raw/data.csv", Hash: "abc123"},
				},
				Outs: []OutEntry{
					{Path: "prepared/data.csv", Hash: "def456", Size: 1024},
				},
			},
		},
	}
	require.NoError(t, Save(path, f))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, loaded.Stages, "prepare")
	assert.Equal(t, "python prepare.py", loaded.Stages["prepare"].Cmd)
	require.Len(t, loaded.Stages["prepare"].Deps, 1)
	assert.Equal(t, "abc123", loaded.Stages["prepare"].Deps[0].Hash)
}

func TestSave_NoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowdag.lock")
	require.NoError(t, Save(path, &File{Stages: map[string]StageEntry{}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "flowdag.lock", entries[0].Name())
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, "flowdag.lock", PathFor("flowdag.yaml"))
	assert.Equal(t, "sub/flowdag.lock", PathFor("sub/flowdag.yaml"))
}

func TestEntryFromDeps_SortsByPath(t *testing.T) {
	se := EntryFromDeps("cmd", []model.Dependency{
		{Path: "z"}, {Path: "a"},
	}, nil)
	require.Len(t, se.Deps, 2)
	assert.Equal(t, "a", se.Deps[0].Path)
	assert.Equal(t, "z", se.Deps[1].Path)
}
