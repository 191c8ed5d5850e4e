package rerun

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/graph"
	"github.com/flowcache/flowdag/internal/lockfile"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/pipeline"
)

func constHash(v string) HashFunc {
	return func(string) (string, error) { return v, nil }
}

func TestUpToDate_NewStageIsStale(t *testing.T) {
	st := &pipeline.Stage{Name: "a", RawCommand: "echo hi"}
	d, err := UpToDate(st, lockfile.StageEntry{}, constHash("x"))
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, ReasonNew, d.Reason)
}

func TestUpToDate_FrozenNeverStale(t *testing.T) {
	st := &pipeline.Stage{Name: "a", RawCommand: "echo hi", Frozen: true}
	d, err := UpToDate(st, lockfile.StageEntry{}, constHash("x"))
	require.NoError(t, err)
	assert.False(t, d.Stale)
}

func TestUpToDate_CommandChanged(t *testing.T) {
	st := &pipeline.Stage{Name: "a", RawCommand: "echo new"}
	entry := lockfile.StageEntry{Cmd: "echo old"}
	d, err := UpToDate(st, entry, constHash("x"))
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, ReasonCommandChanged, d.Reason)
}

func TestUpToDate_DepHashChanged(t *testing.T) {
	dir := t.TempDir()
	depPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(depPath, []byte("hi"), 0o644))

	st := &pipeline.Stage{
		Name:       "a",
		RawCommand: "echo hi",
		Deps:       []model.Dependency{{Path: depPath}},
	}
	entry := lockfile.StageEntry{
		Cmd:  "echo hi",
		Deps: []lockfile.DepEntry{{Path: depPath, Hash: "old"}},
	}
	d, err := UpToDate(st, entry, constHash("new"))
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, ReasonDepChanged, d.Reason)
}

func TestUpToDate_AllMatchIsUpToDate(t *testing.T) {
	dir := t.TempDir()
	depPath := filepath.Join(dir, "data.csv")
	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(depPath, []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(outPath, []byte("bye"), 0o644))

	st := &pipeline.Stage{
		Name:       "a",
		RawCommand: "echo hi",
		Deps:       []model.Dependency{{Path: depPath}},
		Outs:       []model.Output{model.DefaultOutput(outPath)},
	}
	entry := lockfile.StageEntry{
		Cmd:  "echo hi",
		Deps: []lockfile.DepEntry{{Path: depPath, Hash: "same"}},
		Outs: []lockfile.OutEntry{{Path: outPath, Hash: "same"}},
	}
	d, err := UpToDate(st, entry, constHash("same"))
	require.NoError(t, err)
	assert.False(t, d.Stale)
}

func TestUpToDate_UncachedOutputIgnoresHashOnlyPresence(t *testing.T) {
	dir := t.TempDir()
	depPath := filepath.Join(dir, "data.csv")
	outPath := filepath.Join(dir, "metrics.json")
	require.NoError(t, os.WriteFile(depPath, []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(outPath, []byte("{}"), 0o644))

	st := &pipeline.Stage{
		Name:       "a",
		RawCommand: "echo hi",
		Deps:       []model.Dependency{{Path: depPath}},
		Outs:       []model.Output{{Path: outPath, Cache: false}},
	}
	entry := lockfile.StageEntry{
		Cmd:  "echo hi",
		Deps: []lockfile.DepEntry{{Path: depPath, Hash: "same"}},
		// The OutEntry for outPath has no hash: a cache:false output is
		// never hashed into the lockfile, so its hash stays empty.
		Outs: []lockfile.OutEntry{{Path: outPath, Hash: ""}},
	}
	d, err := UpToDate(st, entry, constHash("same"))
	require.NoError(t, err)
	assert.False(t, d.Stale, "a cache:false output should only be checked for presence")
}

func TestUpToDate_UncachedOutputMissingIsStale(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "metrics.json")

	st := &pipeline.Stage{
		Name:       "a",
		RawCommand: "echo hi",
		Outs:       []model.Output{{Path: outPath, Cache: false}},
	}
	entry := lockfile.StageEntry{Cmd: "echo hi"}
	d, err := UpToDate(st, entry, constHash("x"))
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, ReasonOutMissing, d.Reason)
}

func TestUpToDate_DepMissingIsStale(t *testing.T) {
	st := &pipeline.Stage{
		Name:       "a",
		RawCommand: "echo hi",
		Deps:       []model.Dependency{{Path: "/nonexistent/does/not/exist.csv"}},
	}
	entry := lockfile.StageEntry{Cmd: "echo hi"}
	d, err := UpToDate(st, entry, constHash("x"))
	require.NoError(t, err)
	assert.True(t, d.Stale)
	assert.Equal(t, ReasonDepMissing, d.Reason)
}

func TestPlan_DownstreamOfStaleIsAlsoStale(t *testing.T) {
	p := &pipeline.Pipeline{
		File: "flowdag.yaml",
		Stages: []*pipeline.Stage{
			{File: "flowdag.yaml", Name: "a", RawCommand: "a", Outs: []model.Output{model.DefaultOutput("a.out")}},
			{File: "flowdag.yaml", Name: "b", RawCommand: "b",
				Deps: []model.Dependency{{Path: "a.out"}},
				Outs: []model.Output{model.DefaultOutput("b.out")}},
		},
	}
	g, err := graph.Build([]*pipeline.Pipeline{p})
	require.NoError(t, err)

	decisions, err := Plan(g, nil, constHash("x"))
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Stale)
	assert.True(t, decisions[1].Stale)
	assert.Equal(t, ReasonUpstreamStale, decisions[1].Reason)
}
