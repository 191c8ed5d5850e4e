package scm

import (
	"fmt"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Git is the default SCM implementation, backed by go-git so the engine
// never shells out to a `git` binary that may not be on PATH.
type Git struct {
	repo *gogit.Repository
	root string
}

// OpenGit opens the git repository containing dir, walking up to find
// its root the way go-git's PlainOpenWithOptions does with DetectDotGit.
func OpenGit(dir string) (*Git, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("scm: open git repository at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("scm: worktree: %w", err)
	}
	return &Git{repo: repo, root: wt.Filesystem.Root()}, nil
}

func (g *Git) Root(path string) (string, error) {
	rel, err := filepath.Rel(g.root, path)
	if err != nil || len(rel) >= 2 && rel[:2] == ".." {
		return "", nil
	}
	return g.root, nil
}

func (g *Git) Branch() (string, error) {
	head, err := g.repo.Head()
	if err != nil {
		return "", nil // detached or unborn HEAD: no error, just unknown
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

func (g *Git) IsIgnored(path string) (bool, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("scm: worktree: %w", err)
	}
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return false, nil
	}
	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return false, nil
	}
	patterns = append(patterns, wt.Excludes...)
	matcher := gitignore.NewMatcher(patterns)
	parts := strings.Split(filepath.ToSlash(rel), "/")
	return matcher.Match(parts, false), nil
}

func (g *Git) IsTracked(path string) (bool, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("scm: worktree: %w", err)
	}
	rel, err := filepath.Rel(g.root, path)
	if err != nil {
		return false, nil
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("scm: status: %w", err)
	}
	fileStatus, tracked := status[filepath.ToSlash(rel)]
	if !tracked {
		// go-git's Status only lists modified/untracked entries;
		// absence means either tracked-and-unmodified or truly unknown.
		// HEAD tree lookup distinguishes the two.
		return g.inHeadTree(rel)
	}
	return fileStatus.Staging != gogit.Untracked && fileStatus.Worktree != gogit.Untracked, nil
}

func (g *Git) inHeadTree(rel string) (bool, error) {
	head, err := g.repo.Head()
	if err != nil {
		return false, nil
	}
	commit, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return false, nil
	}
	tree, err := commit.Tree()
	if err != nil {
		return false, nil
	}
	_, err = tree.File(filepath.ToSlash(rel))
	return err == nil, nil
}
