// Package runcache implements the content-addressed run cache described
// in spec.md §4.7: keyed by command + sorted dependency hashes, so that
// reproducing the exact same stage against the exact same inputs never
// re-executes it, even on a different checkout or machine sharing the
// same object database.
//
// Manifests themselves live as ordinary blobs in the shared ODB, but a
// run cache needs to be looked up by Key, not by the manifest's own
// content hash — so, following the split git itself uses between its
// content-addressed object store and its name-addressed refs directory,
// lookups go through a small on-disk index that maps a Key's hash to a
// manifest hash.
package runcache

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // cache key, not a security boundary
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
)

// Key identifies one run cache entry: the exact command plus every
// dependency's content hash, sorted by path so key computation does not
// depend on declaration order.
type Key struct {
	Cmd  string
	Deps []model.Dependency
}

// Hash computes the run cache key's content hash.
func (k Key) Hash() model.Hash {
	deps := append([]model.Dependency(nil), k.Deps...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })

	var b bytes.Buffer
	b.WriteString(k.Cmd)
	b.WriteByte(0)
	for _, d := range deps {
		b.WriteString(d.Path)
		b.WriteByte(0)
		if d.Hash != nil {
			b.WriteString(d.Hash.String())
		}
		b.WriteByte(0)
	}

	sum := md5.Sum(b.Bytes()) //nolint:gosec
	return model.NewHash(fmt.Sprintf("%x", sum))
}

// Manifest is what a run cache entry stores: enough to reproduce the
// stage's outputs without re-running it, restoring each by content hash
// from the shared object database.
type Manifest struct {
	Cmd  string          `json:"cmd"`
	Deps []ManifestEntry `json:"deps"`
	Outs []ManifestEntry `json:"outs"`
}

// ManifestEntry is one path/hash pair recorded in a Manifest.
type ManifestEntry struct {
	Path string `json:"path"`
	Hash string `json:"md5"`
}

// Cache wraps an ODB plus a small refs-style index directory.
type Cache struct {
	store   *odb.ODB
	refsDir string
}

// New builds a Cache backed by store, indexing keys under refsDir
// (created if necessary).
func New(store *odb.ODB, refsDir string) (*Cache, error) {
	if err := os.MkdirAll(refsDir, 0o755); err != nil {
		return nil, fmt.Errorf("runcache: create refs dir %s: %w", refsDir, err)
	}
	return &Cache{store: store, refsDir: refsDir}, nil
}

func (c *Cache) refPath(k Key) string {
	h := k.Hash()
	ab, rest := h.FanOut()
	return filepath.Join(c.refsDir, ab, rest)
}

// Lookup returns the cached manifest for k, or (nil, false) on a miss.
func (c *Cache) Lookup(k Key) (*Manifest, bool, error) {
	raw, err := os.ReadFile(c.refPath(k))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("runcache: read ref for %s: %w", k.Hash(), err)
	}

	manifestObj, err := c.store.Get(model.NewHash(string(raw)))
	if err != nil {
		// The ref points at a manifest the ODB no longer has (e.g. gc'd
		// without updating the run cache) — treat it as a miss rather
		// than an error so the stage simply reruns.
		return nil, false, nil
	}
	f, err := manifestObj.Open()
	if err != nil {
		return nil, false, fmt.Errorf("runcache: open manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, false, fmt.Errorf("runcache: decode manifest: %w", err)
	}
	return &m, true, nil
}

// Save records the given run's manifest, keyed by k, so a future run
// with an identical Key can skip execution entirely.
func (c *Cache) Save(ctx context.Context, k Key, m *Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("runcache: encode manifest: %w", err)
	}
	manifestHash, err := c.store.Put(ctx, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("runcache: save manifest: %w", err)
	}

	refPath := c.refPath(k)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("runcache: create ref dir: %w", err)
	}
	tmp := refPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(manifestHash.Value), 0o644); err != nil {
		return fmt.Errorf("runcache: write ref: %w", err)
	}
	if err := os.Rename(tmp, refPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("runcache: publish ref: %w", err)
	}
	return nil
}

// ManifestFromLockEntry builds a Manifest out of the deps/outs the
// executor just resolved, matching the shape the lockfile itself uses so
// the two stay trivially convertible.
func ManifestFromLockEntry(cmd string, deps []model.Dependency, outs []model.Output) *Manifest {
	m := &Manifest{Cmd: cmd}
	for _, d := range deps {
		var hv string
		if d.Hash != nil {
			hv = d.Hash.String()
		}
		m.Deps = append(m.Deps, ManifestEntry{Path: d.Path, Hash: hv})
	}
	for _, o := range outs {
		var hv string
		if o.Hash != nil {
			hv = o.Hash.String()
		}
		m.Outs = append(m.Outs, ManifestEntry{Path: o.Path, Hash: hv})
	}
	return m
}
