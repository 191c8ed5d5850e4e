// Package ignore resolves hierarchical ignore rules while walking a
// workspace, matching the industry-standard gitignore dialect: "!" for
// re-include, a trailing "/" for directory-only patterns, "**" for
// multi-level globs, "#" comments, and backslash escapes for a leading
// "#", "!", or trailing spaces.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultFileName is the ignore file this package looks for in every
// directory it walks, analogous to ".gitignore".
const DefaultFileName = ".flowdagignore"

// pattern is one compiled rule attached to the directory it was declared
// in.
type pattern struct {
	raw        string
	negate     bool
	dirOnly    bool
	anchored   bool // pattern contained a "/" before the final segment
	glob       string
	sourceLine int
}

func compilePattern(raw string, line int) (*pattern, bool) {
	s := raw
	s = strings.TrimRight(s, "\n")
	// Trailing, unescaped whitespace is insignificant.
	if !strings.HasSuffix(raw, `\ `) {
		s = strings.TrimRight(s, " \t")
	}
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "#") {
		return nil, false
	}
	if strings.HasPrefix(s, `\#`) || strings.HasPrefix(s, `\!`) {
		s = s[1:]
	}

	p := &pattern{raw: raw, sourceLine: line}
	if strings.HasPrefix(s, "!") {
		p.negate = true
		s = s[1:]
	}
	if strings.HasSuffix(s, "/") && !strings.HasSuffix(s, `\/`) {
		p.dirOnly = true
		s = strings.TrimSuffix(s, "/")
	}
	if strings.Contains(s, "/") {
		p.anchored = true
		s = strings.TrimPrefix(s, "/")
	} else {
		s = "**/" + s
	}
	if !strings.Contains(s, "**") {
		// a plain anchored pattern matches only relative to the
		// directory that declared it; nothing is added here.
	}
	p.glob = s
	return p, true
}

func (p *pattern) match(relPath string, isDir bool) bool {
	// A descendant of a matched directory is excluded regardless of
	// whether the descendant itself is a file or a directory.
	if ok, _ := doublestar.Match(p.glob+"/**", relPath); ok {
		return true
	}
	if p.dirOnly && !isDir {
		return false
	}
	ok, _ := doublestar.Match(p.glob, relPath)
	return ok
}

// patternSet is every pattern declared directly in one directory's ignore
// file.
type patternSet struct {
	dir      string // workspace-relative, "" for root
	patterns []*pattern
}

// Trie is a pre-built mapping of directory -> pattern set, avoiding
// recomputation of ignore rules during a single walk, per spec.md §4.5.
type Trie struct {
	root  string // filesystem root of the workspace
	byDir map[string]*patternSet
}

// Build walks root looking for DefaultFileName in every directory
// (including root) and compiles a Trie from whatever it finds. It does
// not itself skip ignored directories while walking for ignore files,
// since ignore files living inside an ignored directory still apply to
// that directory's own children per the standard semantics.
func Build(root string) (*Trie, error) {
	t := &Trie{root: root, byDir: map[string]*patternSet{}}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		ignoreFile := filepath.Join(path, DefaultFileName)
		patterns, rerr := readPatterns(ignoreFile)
		if rerr != nil {
			return rerr
		}
		if len(patterns) == 0 {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			rel = ""
		}
		t.byDir[filepath.ToSlash(rel)] = &patternSet{dir: filepath.ToSlash(rel), patterns: patterns}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.mergeSubRepoBoundaries(root)
	return t, nil
}

// subRepoMarker is the pipeline file name that marks a directory as a
// nested sub-repository boundary. The name is duplicated from
// internal/repo's PipelineFileName rather than imported: this package
// sits below internal/repo in the dependency graph.
const subRepoMarker = "flowdag.yaml"

// mergeSubRepoBoundaries folds a nested sub-repository's own ignore rules
// into its parent directory's pattern set, the way DVC treats a
// subdirectory that is itself a DVC repo: Match resolves a single pattern
// set anchored at their common ancestor instead of two independently
// rooted ones, so a deeper repo's rules are never silently skipped when
// walking from its parent.
func (t *Trie) mergeSubRepoBoundaries(root string) {
	var dirs []string
	for d := range t.byDir {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		childSet, ok := t.byDir[dir]
		if !ok {
			continue // already folded into an earlier merge
		}
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(dir), subRepoMarker)); err != nil {
			continue
		}
		parent := path.Dir(dir)
		if parent == "." {
			parent = ""
		}
		parentSet, ok := t.byDir[parent]
		if !ok {
			continue
		}

		common, merged := MergePatterns(
			parentSet.dir, patternRaws(parentSet.patterns),
			childSet.dir, patternRaws(childSet.patterns),
		)
		delete(t.byDir, dir)
		t.byDir[common] = &patternSet{dir: common, patterns: compileRaws(merged)}
	}
}

func patternRaws(patterns []*pattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.raw
	}
	return out
}

func compileRaws(raws []string) []*pattern {
	out := make([]*pattern, 0, len(raws))
	for i, raw := range raws {
		if p, ok := compilePattern(raw, i+1); ok {
			out = append(out, p)
		}
	}
	return out
}

func readPatterns(path string) ([]*pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []*pattern
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if p, ok := compilePattern(scanner.Text(), line); ok {
			out = append(out, p)
		}
	}
	return out, scanner.Err()
}

// Matcher is a Trie bound for use during one walk; it implements
// hash.DirFilter.
type Matcher struct {
	t *Trie
}

// Matcher returns a Matcher view of the Trie.
func (t *Trie) Matcher() *Matcher { return &Matcher{t: t} }

// ancestorDirs returns "", then each ancestor directory of relPath in
// root-to-leaf order, ending at relPath's own parent directory.
func ancestorDirs(relPath string) []string {
	relPath = strings.TrimSuffix(relPath, "/")
	parts := strings.Split(relPath, "/")
	dirs := []string{""}
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}
	return dirs
}

// Match reports whether relPath (workspace-relative, "/"-separated)
// should be *included* in a walk — i.e. it is false when the path is
// ignored. Deeper directories' patterns take precedence when a deeper
// "!" re-include disagrees with a shallower exclude, per spec.md's
// resolved Open Question (b).
func (m *Matcher) Match(relPath string, isDir bool) bool {
	if m == nil || m.t == nil {
		return true
	}
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "/")

	ignored := false
	for _, dir := range ancestorDirsFor(relPath) {
		ps, ok := m.t.byDir[dir]
		if !ok {
			continue
		}
		subPath := relPath
		if dir != "" {
			subPath = strings.TrimPrefix(relPath, dir+"/")
		}
		for _, p := range ps.patterns {
			if p.match(subPath, isDir) {
				ignored = !p.negate
			}
		}
	}
	return !ignored
}

// ancestorDirsFor returns the directories (root-first) whose ignore
// files could apply to relPath, i.e. every ancestor directory of
// relPath including the root, but not relPath itself when it names a
// directory with its own ignore file (that file applies to its
// children, not to itself).
func ancestorDirsFor(relPath string) []string {
	dir := filepath.Dir(relPath)
	if dir == "." {
		return []string{""}
	}
	dir = filepath.ToSlash(dir)
	parts := strings.Split(dir, "/")
	out := make([]string, 0, len(parts)+1)
	out = append(out, "")
	for i := 1; i <= len(parts); i++ {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	return out
}
