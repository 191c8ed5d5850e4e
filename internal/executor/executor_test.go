package executor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/hash"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
	"github.com/flowcache/flowdag/internal/pipeline"
)

func newExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stage commands in this suite assume a POSIX shell")
	}
	dir := t.TempDir()
	store, err := odb.New(filepath.Join(dir, "odb"), nil)
	require.NoError(t, err)
	return New(store, nil, nil), dir
}

func hashDep(path string) (model.Hash, *model.Meta, error) {
	h, meta, err := hash.HashFile(path)
	return h, &meta, err
}

func TestRun_ProducesOutputHash(t *testing.T) {
	ex, dir := newExecutor(t)
	outPath := filepath.Join(dir, "out.txt")

	st := &pipeline.Stage{
		Name:       "write",
		RawCommand: "echo hello > " + outPath,
		WorkingDir: "",
		Outs:       []model.Output{model.DefaultOutput(outPath)},
	}
	st.File = filepath.Join(dir, "flowdag.yaml")

	res, err := ex.Run(context.Background(), st, hashDep)
	require.NoError(t, err)
	require.Len(t, res.Outs, 1)
	assert.NotNil(t, res.Outs[0].Hash)
	assert.False(t, res.Outs[0].Hash.IsEmpty())
}

func TestRun_MissingDeclaredOutputIsError(t *testing.T) {
	ex, dir := newExecutor(t)
	st := &pipeline.Stage{
		File:       filepath.Join(dir, "flowdag.yaml"),
		Name:       "noop",
		RawCommand: "true",
		Outs:       []model.Output{model.DefaultOutput(filepath.Join(dir, "never-written.txt"))},
	}

	_, err := ex.Run(context.Background(), st, hashDep)
	require.Error(t, err)
}

func TestRun_NonZeroExitReportsStageFailed(t *testing.T) {
	ex, dir := newExecutor(t)
	st := &pipeline.Stage{
		File:       filepath.Join(dir, "flowdag.yaml"),
		Name:       "fail",
		RawCommand: "exit 3",
	}

	_, err := ex.Run(context.Background(), st, hashDep)
	require.Error(t, err)
	var sf *StageFailed
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, 3, sf.ExitCode)
}

func TestRun_ClearsNonPersistOutputBeforeRunning(t *testing.T) {
	ex, dir := newExecutor(t)
	outPath := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(outPath, []byte("stale"), 0o644))

	st := &pipeline.Stage{
		File:       filepath.Join(dir, "flowdag.yaml"),
		Name:       "rewrite",
		RawCommand: "echo fresh > " + outPath,
		Outs:       []model.Output{model.DefaultOutput(outPath)},
	}

	_, err := ex.Run(context.Background(), st, hashDep)
	require.NoError(t, err)
	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(body))
}
