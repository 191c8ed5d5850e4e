package scm

import (
	"os"
	"path/filepath"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
)

func TestNoSCM_Defaults(t *testing.T) {
	var s SCM = NoSCM{}
	ignored, err := s.IsIgnored("anything")
	require.NoError(t, err)
	require.False(t, ignored)

	tracked, err := s.IsTracked("anything")
	require.NoError(t, err)
	require.False(t, tracked)
}

func TestOpenGit_DetectsRoot(t *testing.T) {
	dir := t.TempDir()
	_, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	g, err := OpenGit(sub)
	require.NoError(t, err)

	root, err := g.Root(sub)
	require.NoError(t, err)
	require.NotEmpty(t, root)
}

func TestOpenGit_BranchOnUnbornHEAD(t *testing.T) {
	dir := t.TempDir()
	_, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	g, err := OpenGit(dir)
	require.NoError(t, err)

	branch, err := g.Branch()
	require.NoError(t, err)
	require.Empty(t, branch)
}
