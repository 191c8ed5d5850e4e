// Package lockfile reads and writes flowdag.lock, the per-pipeline
// record of what each stage actually ran with and produced, used by
// internal/rerun to decide whether a stage is up to date.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"

	"github.com/flowcache/flowdag/internal/model"
)

// Suffix is the filename flowdag.yaml's lock lives next to.
const Suffix = ".lock"

// DepEntry and OutEntry are the lockfile's own wire shapes: unlike
// model.Dependency/model.Output, a hash is a plain string (empty, and
// omitted on save, for params dependencies and cache:false outputs) and
// nothing transient (in-memory Meta pointers, flags irrelevant to rerun) is
// carried across a save/load round trip.
type DepEntry struct {
	Path string `yaml:"path"`
	Hash string `yaml:"md5,omitempty"`
}

type OutEntry struct {
	Path    string `yaml:"path"`
	Hash    string `yaml:"md5,omitempty"`
	Size    int64  `yaml:"size,omitempty"`
	NFiles  int    `yaml:"nfiles,omitempty"`
	IsDir   bool   `yaml:"-"`
}

// StageEntry is one stage's recorded run: the exact command executed and
// the hash of every dependency and output at the time it last succeeded.
type StageEntry struct {
	Cmd  string     `yaml:"cmd"`
	Deps []DepEntry `yaml:"deps,omitempty"`
	Outs []OutEntry `yaml:"outs,omitempty"`
}

// File is the full contents of one flowdag.lock, keyed by stage name
// (bare name for single-stage files, "<name>" for multi-stage ones — the
// lockfile itself is always scoped to one pipeline file, so Addr's file
// component is implicit).
type File struct {
	Schema string                `yaml:"schema"`
	Stages map[string]StageEntry `yaml:"stages"`
}

// SchemaVersion is written into every lockfile this module produces.
const SchemaVersion = "2.0"

// PathFor returns the lockfile path for a given flowdag.yaml path.
func PathFor(pipelinePath string) string {
	ext := filepath.Ext(pipelinePath)
	return pipelinePath[:len(pipelinePath)-len(ext)] + Suffix
}

// Load reads and parses a lockfile. A missing file is not an error: it
// reads as an empty File, since a pipeline with no lockfile yet is simply
// one where every stage is stale.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Schema: SchemaVersion, Stages: map[string]StageEntry{}}, nil
		}
		return nil, fmt.Errorf("lockfile: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("lockfile: parse %s: %w", path, err)
	}
	if f.Stages == nil {
		f.Stages = map[string]StageEntry{}
	}
	return &f, nil
}

// Save writes f to path atomically: render to a temp file in the same
// directory, then rename over the destination, so a crash mid-write
// never leaves a half-written lockfile for the next run to trust.
func Save(path string, f *File) error {
	if f.Schema == "" {
		f.Schema = SchemaVersion
	}

	out, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("lockfile: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, ".flowdag-lock-"+uuid.NewString())
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("lockfile: write temp for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("lockfile: rename into %s: %w", path, err)
	}
	return nil
}

// EntryFromDeps converts the engine's model.Dependency/model.Output
// slices into the lockfile's wire shapes, sorted by path for a stable,
// diff-friendly serialization.
func EntryFromDeps(cmd string, deps []model.Dependency, outs []model.Output) StageEntry {
	se := StageEntry{Cmd: cmd}
	for _, d := range deps {
		var hv string
		if d.Hash != nil {
			hv = d.Hash.String()
		}
		se.Deps = append(se.Deps, DepEntry{Path: d.Path, Hash: hv})
	}
	for _, o := range outs {
		var hv string
		var size int64
		var nfiles int
		if o.Hash != nil {
			hv = o.Hash.String()
		}
		if o.Meta != nil {
			size = o.Meta.SizeOrZero()
			if o.Meta.NFiles != nil {
				nfiles = int(*o.Meta.NFiles)
			}
		}
		se.Outs = append(se.Outs, OutEntry{Path: o.Path, Hash: hv, Size: size, NFiles: nfiles})
	}
	sort.Slice(se.Deps, func(i, j int) bool { return se.Deps[i].Path < se.Deps[j].Path })
	sort.Slice(se.Outs, func(i, j int) bool { return se.Outs[i].Path < se.Outs[j].Path })
	return se
}
