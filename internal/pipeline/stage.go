// Package pipeline loads flowdag.yaml pipeline files into Stage values:
// parsing, schema validation, foreach fan-out, and template substitution,
// per spec.md §4.6.
package pipeline

import (
	"crypto/md5" //nolint:gosec // content identity, not a security boundary
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowcache/flowdag/internal/cmdutil"
	"github.com/flowcache/flowdag/internal/model"
)

// Stage is one node of the pipeline DAG, as described in spec.md §3.
type Stage struct {
	// File is the pipeline file this stage was declared in, used to
	// build Addr and to resolve WorkingDir/paths relative to it.
	File string
	Name string

	WorkingDir string
	RawCommand any // string or []string, as declared in YAML

	Deps []model.Dependency
	Outs []model.Output

	Frozen        bool
	AlwaysChanged bool

	// ForeachKey is set on stages produced by foreach expansion; it is
	// the iteration key, exposed to the stage body as ${key}.
	ForeachKey string

	// Checkpoint names a signal file the executor polls for
	// checkpointable long-running stages (§4.9, detailed in SPEC_FULL §4).
	Checkpoint string
}

// Addr is the stage's user-facing identity: "<file>:<name>", or the bare
// file path for legacy single-stage files (§3's "two identities").
func (s *Stage) Addr() string {
	if s.Name == "" {
		return s.File
	}
	return s.File + ":" + s.Name
}

// ResolvedCommand normalizes RawCommand into the single string every
// other part of the engine treats as "the command" — see SPEC_FULL.md §6
// Open Question (a).
func (s *Stage) ResolvedCommand() (string, error) {
	return cmdutil.NormalizeCommand(s.RawCommand)
}

// ContentHash is the stage's content identity used by the run cache: a
// hash of its canonical definition, independent of its Addr (§3: "two
// identities"). Renaming a stage, or moving it between files, does not
// change ContentHash; changing its command, deps, or outs does.
func (s *Stage) ContentHash() (model.Hash, error) {
	cmd, err := s.ResolvedCommand()
	if err != nil {
		return model.Hash{}, err
	}

	var b strings.Builder
	b.WriteString(cmd)
	b.WriteByte(0)
	b.WriteString(s.WorkingDir)
	b.WriteByte(0)

	depPaths := make([]string, len(s.Deps))
	for i, d := range s.Deps {
		depPaths[i] = d.Path
	}
	sort.Strings(depPaths)
	for _, p := range depPaths {
		b.WriteString(p)
		b.WriteByte(0)
	}

	outPaths := make([]string, len(s.Outs))
	for i, o := range s.Outs {
		outPaths[i] = o.Path
	}
	sort.Strings(outPaths)
	for _, p := range outPaths {
		b.WriteString(p)
		b.WriteByte(0)
	}

	sum := md5.Sum([]byte(b.String())) //nolint:gosec
	return model.NewHash(fmt.Sprintf("%x", sum)), nil
}

// AbsWorkingDir resolves WorkingDir relative to File's directory.
func (s *Stage) AbsWorkingDir() string {
	base := filepath.Dir(s.File)
	if s.WorkingDir == "" {
		return base
	}
	return filepath.Join(base, s.WorkingDir)
}

// Pipeline is one loaded flowdag.yaml file: its stages, sorted by declared
// stage name (a foreach stage's expanded children appear at its position,
// in list order for a list and sorted by key for a map).
type Pipeline struct {
	File   string
	Stages []*Stage
	Params map[string]any
}

// StageByName looks up a stage by its full Name; an expanded foreach child
// is found under "<name>@<key>", not under the foreach stage's own name.
func (p *Pipeline) StageByName(name string) (*Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}
