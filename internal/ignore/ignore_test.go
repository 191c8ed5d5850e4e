package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeIgnore(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0o644))
}

func TestMatch_SimplePattern(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "*.log\n")

	tr, err := Build(dir)
	require.NoError(t, err)
	m := tr.Matcher()

	require.False(t, m.Match("debug.log", false))
	require.True(t, m.Match("main.go", false))
}

func TestMatch_DirectoryOnly(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "build/\n")

	tr, err := Build(dir)
	require.NoError(t, err)
	m := tr.Matcher()

	require.False(t, m.Match("build", true))
	require.False(t, m.Match("build/out.o", false))
	require.True(t, m.Match("build", false), "a plain file named build should not match a dir-only rule")
}

func TestMatch_NegateReinclude(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "*.log\n!keep.log\n")

	tr, err := Build(dir)
	require.NoError(t, err)
	m := tr.Matcher()

	require.False(t, m.Match("debug.log", false))
	require.True(t, m.Match("keep.log", false))
}

func TestMatch_DeeperDirectoryWins(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "*.log\n")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeIgnore(t, sub, "!keep.log\n")

	tr, err := Build(dir)
	require.NoError(t, err)
	m := tr.Matcher()

	require.False(t, m.Match("sub/other.log", false))
	require.True(t, m.Match("sub/keep.log", false), "deeper ignore file's re-include should win")
}

func TestMatch_DoubleStarMultiLevel(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "**/*.tmp\n")

	tr, err := Build(dir)
	require.NoError(t, err)
	m := tr.Matcher()

	require.False(t, m.Match("a/b/c.tmp", false))
}

func TestMatch_CommentsAndEscapes(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "# comment\n\\#notcomment\n")

	tr, err := Build(dir)
	require.NoError(t, err)
	m := tr.Matcher()

	require.False(t, m.Match("#notcomment", false))
	require.True(t, m.Match("# comment", false))
}

func TestMergePatterns_RebasesToCommonParent(t *testing.T) {
	common, merged := MergePatterns("a/b", []string{"*.log"}, "a/c", []string{"*.tmp"})
	require.Equal(t, "a", common)
	require.Contains(t, merged, "/b/**/*.log")
	require.Contains(t, merged, "/c/**/*.tmp")
}

func TestBuild_FoldsSubRepoIgnoreRulesIntoParent(t *testing.T) {
	dir := t.TempDir()
	writeIgnore(t, dir, "*.log\n")

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeIgnore(t, sub, "*.tmp\n")
	require.NoError(t, os.WriteFile(filepath.Join(sub, subRepoMarker), []byte("stages: {}\n"), 0o644))

	tr, err := Build(dir)
	require.NoError(t, err)

	// Both pattern sets fold into a single entry keyed at their common
	// ancestor ("") rather than staying independently rooted at "" and
	// "nested".
	require.Contains(t, tr.byDir, "")
	require.NotContains(t, tr.byDir, "nested")

	m := tr.Matcher()
	require.False(t, m.Match("debug.log", false), "parent rule still applies outside the sub-repo")
	require.False(t, m.Match("nested/cache.tmp", false), "sub-repo's own rule is folded into the merged set")
	require.True(t, m.Match("nested/keep.txt", false))
}
