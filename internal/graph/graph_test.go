package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/pipeline"
)

func stage(file, name, cmd string, deps, outs []string) *pipeline.Stage {
	st := &pipeline.Stage{File: file, Name: name, RawCommand: cmd}
	for _, d := range deps {
		st.Deps = append(st.Deps, model.Dependency{Path: d})
	}
	for _, o := range outs {
		st.Outs = append(st.Outs, model.DefaultOutput(o))
	}
	return st
}

func TestBuild_LinearChain(t *testing.T) {
	p := &pipeline.Pipeline{
		File: "flowdag.yaml",
		Stages: []*pipeline.Stage{
			stage("flowdag.yaml", "prepare", "prep", nil, []string{"prepared.csv"}),
			stage("flowdag.yaml", "train", "train", []string{"prepared.csv"}, []string{"model.pkl"}),
			stage("flowdag.yaml", "evaluate", "eval", []string{"model.pkl"}, []string{"metrics.json"}),
		},
	}

	g, err := Build([]*pipeline.Pipeline{p})
	require.NoError(t, err)

	order, err := g.TopoOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"flowdag.yaml:prepare", "flowdag.yaml:train", "flowdag.yaml:evaluate"}, order)
}

func TestBuild_DetectsCycle(t *testing.T) {
	p := &pipeline.Pipeline{
		File: "flowdag.yaml",
		Stages: []*pipeline.Stage{
			stage("flowdag.yaml", "a", "a", []string{"b.out"}, []string{"a.out"}),
			stage("flowdag.yaml", "b", "b", []string{"a.out"}, []string{"b.out"}),
		},
	}

	_, err := Build([]*pipeline.Pipeline{p})
	require.Error(t, err)
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
}

func TestBuild_DetectsOverlappingOutputs(t *testing.T) {
	p := &pipeline.Pipeline{
		File: "flowdag.yaml",
		Stages: []*pipeline.Stage{
			stage("flowdag.yaml", "a", "a", nil, []string{"out/result.csv"}),
			stage("flowdag.yaml", "b", "b", nil, []string{"out/result.csv"}),
		},
	}

	_, err := Build([]*pipeline.Pipeline{p})
	require.Error(t, err)
	var oe *OverlappingOutputsError
	require.ErrorAs(t, err, &oe)
}

func TestBuild_DetectsNestedOutputOverlap(t *testing.T) {
	p := &pipeline.Pipeline{
		File: "flowdag.yaml",
		Stages: []*pipeline.Stage{
			stage("flowdag.yaml", "a", "a", nil, []string{"out"}),
			stage("flowdag.yaml", "b", "b", nil, []string{"out/inner.csv"}),
		},
	}

	_, err := Build([]*pipeline.Pipeline{p})
	require.Error(t, err)
}

func TestBuild_IndependentStagesNoEdges(t *testing.T) {
	p := &pipeline.Pipeline{
		File: "flowdag.yaml",
		Stages: []*pipeline.Stage{
			stage("flowdag.yaml", "a", "a", nil, []string{"a.out"}),
			stage("flowdag.yaml", "b", "b", nil, []string{"b.out"}),
		},
	}

	g, err := Build([]*pipeline.Pipeline{p})
	require.NoError(t, err)
	na, _ := g.Node("flowdag.yaml:a")
	nb, _ := g.Node("flowdag.yaml:b")
	assert.Empty(t, na.DependsOn)
	assert.Empty(t, nb.DependsOn)
}
