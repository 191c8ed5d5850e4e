// Package index aggregates a workspace's pipelines, lockfiles, and
// object database into the views `status`, `diff`, and `gc` need, per
// spec.md §4.11. It also tracks "pinned" refs — hashes that gc must never
// collect even if no current lockfile entry references them, e.g. a
// model a user wants to keep around for comparison.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flowcache/flowdag/internal/graph"
	"github.com/flowcache/flowdag/internal/lockfile"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
	"github.com/flowcache/flowdag/internal/rerun"
)

// RefsFileName is where pinned hashes are recorded, relative to the
// cache root.
const RefsFileName = "refs"

// StageStatus is one stage's row in a `status` report.
type StageStatus struct {
	Addr   string
	Stale  bool
	Reason rerun.Reason
	Detail string
}

// Status runs rerun.Plan across the whole graph and returns every
// stage's verdict, in topological order, for human-facing reporting.
func Status(g *graph.Graph, locks map[string]*lockfile.File, hashOf rerun.HashFunc) ([]StageStatus, error) {
	decisions, err := rerun.Plan(g, locks, hashOf)
	if err != nil {
		return nil, err
	}
	out := make([]StageStatus, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, StageStatus{Addr: d.Addr, Stale: d.Stale, Reason: d.Reason, Detail: d.Detail})
	}
	return out, nil
}

// DiffEntry describes one output's change between two lockfile states.
type DiffEntry struct {
	Path     string
	OldHash  string
	NewHash  string
	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares two lockfiles' output entries (e.g. HEAD vs. working
// tree, or two revisions pulled via internal/scm) and reports every
// output that was added, removed, or changed.
func Diff(old, new *lockfile.File) []DiffEntry {
	oldOuts := map[string]string{}
	for _, se := range old.Stages {
		for _, o := range se.Outs {
			oldOuts[o.Path] = o.Hash
		}
	}
	newOuts := map[string]string{}
	for _, se := range new.Stages {
		for _, o := range se.Outs {
			newOuts[o.Path] = o.Hash
		}
	}

	paths := map[string]bool{}
	for p := range oldOuts {
		paths[p] = true
	}
	for p := range newOuts {
		paths[p] = true
	}

	var out []DiffEntry
	for p := range paths {
		oh, oOk := oldOuts[p]
		nh, nOk := newOuts[p]
		switch {
		case !oOk:
			out = append(out, DiffEntry{Path: p, NewHash: nh, Added: true})
		case !nOk:
			out = append(out, DiffEntry{Path: p, OldHash: oh, Removed: true})
		case oh != nh:
			out = append(out, DiffEntry{Path: p, OldHash: oh, NewHash: nh, Modified: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Refs tracks hashes pinned against garbage collection, persisted as a
// flat JSON list in the cache directory.
type Refs struct {
	path   string
	hashes map[string]bool
}

// LoadRefs reads the pinned-refs file under cacheDir, or starts empty if
// it does not exist yet.
func LoadRefs(cacheDir string) (*Refs, error) {
	path := filepath.Join(cacheDir, RefsFileName)
	r := &Refs{path: path, hashes: map[string]bool{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("index: read refs %s: %w", path, err)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("index: parse refs %s: %w", path, err)
	}
	for _, h := range list {
		r.hashes[h] = true
	}
	return r, nil
}

// Pin adds h to the pinned set and persists it.
func (r *Refs) Pin(h model.Hash) error {
	r.hashes[h.String()] = true
	return r.save()
}

// Unpin removes h from the pinned set and persists it.
func (r *Refs) Unpin(h model.Hash) error {
	delete(r.hashes, h.String())
	return r.save()
}

// IsPinned reports whether h is protected from gc.
func (r *Refs) IsPinned(h model.Hash) bool {
	return r.hashes[h.String()]
}

func (r *Refs) save() error {
	list := make([]string, 0, len(r.hashes))
	for h := range r.hashes {
		list = append(list, h)
	}
	sort.Strings(list)
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode refs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("index: create refs dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("index: write refs: %w", err)
	}
	return os.Rename(tmp, r.path)
}

// LiveHashes computes the full set of object hashes a garbage collection
// pass must keep: every hash referenced by any given lockfile, plus every
// pinned ref.
func LiveHashes(locks []*lockfile.File, refs *Refs) map[string]bool {
	live := map[string]bool{}
	for _, lf := range locks {
		for _, se := range lf.Stages {
			for _, d := range se.Deps {
				if d.Hash != "" {
					live[d.Hash] = true
				}
			}
			for _, o := range se.Outs {
				if o.Hash != "" {
					live[o.Hash] = true
				}
			}
		}
	}
	for h := range refs.hashes {
		live[h] = true
	}
	return live
}

// GC removes every object in store not present in live, returning the
// number of objects removed.
func GC(store *odb.ODB, live map[string]bool) (int, error) {
	all, err := store.List()
	if err != nil {
		return 0, fmt.Errorf("index: list objects: %w", err)
	}

	removed := 0
	for _, h := range all {
		if live[h.String()] || live[h.Value] {
			continue
		}
		if err := store.Remove(h); err != nil {
			return removed, fmt.Errorf("index: remove %s: %w", h, err)
		}
		removed++
	}
	return removed, nil
}
