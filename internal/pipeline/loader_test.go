package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_SimpleStage(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  prepare:
    cmd: python prepare.py
    deps:
      - raw/data.csv
    outs:
      - prepared/data.csv
`)

	p, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, p.Stages, 1)

	st := p.Stages[0]
	assert.Equal(t, "prepare", st.Name)
	cmd, err := st.ResolvedCommand()
	require.NoError(t, err)
	assert.Equal(t, "python prepare.py", cmd)
	require.Len(t, st.Deps, 1)
	assert.Equal(t, "raw/data.csv", st.Deps[0].Path)
	require.Len(t, st.Outs, 1)
	assert.Equal(t, "prepared/data.csv", st.Outs[0].Path)
	assert.True(t, st.Outs[0].Cache)
}

func TestLoad_MissingCmd(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  broken:
    deps:
      - foo
`)
	_, err := Load(path, nil)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Msg, "cmd")
}

func TestLoad_ListCommandForm(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  train:
    cmd:
      - python
      - train.py
      - --epochs
      - "10"
`)
	p, err := Load(path, nil)
	require.NoError(t, err)
	cmd, err := p.Stages[0].ResolvedCommand()
	require.NoError(t, err)
	assert.Equal(t, "python train.py --epochs 10", cmd)
}

func TestLoad_OutputFlags(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  train:
    cmd: python train.py
    outs:
      - model.pkl:
          cache: false
          persist: true
`)
	p, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, p.Stages[0].Outs, 1)
	out := p.Stages[0].Outs[0]
	assert.Equal(t, "model.pkl", out.Path)
	assert.False(t, out.Cache)
	assert.True(t, out.Persist)
}

func TestLoad_ParamsDependency(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  train:
    cmd: python train.py
    params:
      - train.epochs
      - train.lr
`)
	p, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, p.Stages[0].Deps, 1)
	dep := p.Stages[0].Deps[0]
	assert.Equal(t, "params.yaml", dep.Path)
	assert.ElementsMatch(t, []string{"train.epochs", "train.lr"}, dep.ParamKeys)
}

func TestLoad_ForeachExpandsStages(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  featurize:
    foreach:
      - train
      - test
    do:
      cmd: python featurize.py --split ${item}
      outs:
        - features/${item}.csv
`)
	p, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, p.Stages, 2)

	names := map[string]*Stage{}
	for _, st := range p.Stages {
		names[st.Name] = st
	}

	train, ok := names["featurize@train"]
	require.True(t, ok)
	cmd, err := train.ResolvedCommand()
	require.NoError(t, err)
	assert.Equal(t, "python featurize.py --split train", cmd)
	require.Len(t, train.Outs, 1)
	assert.Equal(t, "features/train.csv", train.Outs[0].Path)

	_, ok = names["featurize@test"]
	require.True(t, ok)
}

func TestLoad_TemplateFromParams(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `
stages:
  train:
    cmd: python train.py --lr ${train.lr}
`)
	params := map[string]any{
		"train": map[string]any{"lr": 0.01},
	}
	p, err := Load(path, params)
	require.NoError(t, err)
	cmd, err := p.Stages[0].ResolvedCommand()
	require.NoError(t, err)
	assert.Equal(t, "python train.py --lr 0.01", cmd)
}

func TestLoad_NoStagesKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowdag.yaml", `foo: bar`)
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestStage_ContentHashStableUnderRename(t *testing.T) {
	a := &Stage{Name: "a", RawCommand: "echo hi", Deps: nil, Outs: nil}
	b := &Stage{Name: "b", RawCommand: "echo hi", Deps: nil, Outs: nil}

	ha, err := a.ContentHash()
	require.NoError(t, err)
	hb, err := b.ContentHash()
	require.NoError(t, err)
	assert.True(t, ha.Equal(hb))
}

func TestStage_ContentHashChangesWithCommand(t *testing.T) {
	a := &Stage{Name: "a", RawCommand: "echo hi"}
	b := &Stage{Name: "a", RawCommand: "echo bye"}

	ha, err := a.ContentHash()
	require.NoError(t, err)
	hb, err := b.ContentHash()
	require.NoError(t, err)
	assert.False(t, ha.Equal(hb))
}
