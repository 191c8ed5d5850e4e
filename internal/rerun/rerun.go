// Package rerun implements the up-to-date predicate and run ordering
// described in spec.md §4.8: deciding which stages must run again, and
// in what order, before internal/executor touches anything.
package rerun

import (
	"fmt"
	"os"

	"github.com/flowcache/flowdag/internal/graph"
	"github.com/flowcache/flowdag/internal/lockfile"
	"github.com/flowcache/flowdag/internal/pipeline"
)

// Reason names why a stage was judged stale, for --dry/--verbose
// reporting.
type Reason string

const (
	ReasonNew            Reason = "new"
	ReasonCommandChanged Reason = "command changed"
	ReasonDepChanged     Reason = "dependency changed"
	ReasonDepMissing     Reason = "dependency missing"
	ReasonOutMissing     Reason = "output missing"
	ReasonOutChanged     Reason = "output changed outside flowdag"
	ReasonAlwaysChanged  Reason = "always_changed"
	ReasonUpstreamStale  Reason = "upstream stage will rerun"
)

// Decision is the verdict for a single stage.
type Decision struct {
	Addr    string
	Stale   bool
	Reason  Reason
	Detail  string
}

// HashFunc resolves a path's current content hash; internal/repo supplies
// one backed by stateindex.HashFileCached / hash.HashDir.
type HashFunc func(path string) (hashHex string, err error)

// UpToDate decides whether a single stage can be skipped, given its
// lockfile entry (may be the zero value if none exists) and a way to
// hash its current dependency/output content. Frozen stages are always
// considered up to date regardless of any other signal, per spec.md's
// frozen-stage override.
func UpToDate(st *pipeline.Stage, entry lockfile.StageEntry, hashOf HashFunc) (Decision, error) {
	addr := st.Addr()

	if st.Frozen {
		return Decision{Addr: addr, Stale: false}, nil
	}
	if st.AlwaysChanged {
		return Decision{Addr: addr, Stale: true, Reason: ReasonAlwaysChanged}, nil
	}

	if entry.Cmd == "" && len(entry.Deps) == 0 && len(entry.Outs) == 0 {
		return Decision{Addr: addr, Stale: true, Reason: ReasonNew}, nil
	}

	cmd, err := st.ResolvedCommand()
	if err != nil {
		return Decision{}, err
	}
	if cmd != entry.Cmd {
		return Decision{Addr: addr, Stale: true, Reason: ReasonCommandChanged,
			Detail: fmt.Sprintf("%q -> %q", entry.Cmd, cmd)}, nil
	}

	lockedDeps := map[string]string{}
	for _, d := range entry.Deps {
		lockedDeps[d.Path] = d.Hash
	}
	for _, d := range st.Deps {
		if d.AlwaysChanged {
			return Decision{Addr: addr, Stale: true, Reason: ReasonAlwaysChanged, Detail: d.Path}, nil
		}
		if _, err := os.Stat(d.Path); err != nil {
			if os.IsNotExist(err) {
				return Decision{Addr: addr, Stale: true, Reason: ReasonDepMissing, Detail: d.Path}, nil
			}
			return Decision{}, fmt.Errorf("rerun: stat dep %s: %w", d.Path, err)
		}
		want, ok := lockedDeps[d.Path]
		if !ok {
			return Decision{Addr: addr, Stale: true, Reason: ReasonDepChanged, Detail: d.Path}, nil
		}
		got, err := hashOf(d.Path)
		if err != nil {
			return Decision{}, err
		}
		if got != want {
			return Decision{Addr: addr, Stale: true, Reason: ReasonDepChanged, Detail: d.Path}, nil
		}
	}

	lockedOuts := map[string]string{}
	for _, o := range entry.Outs {
		lockedOuts[o.Path] = o.Hash
	}
	for _, o := range st.Outs {
		if _, err := os.Stat(o.Path); err != nil {
			if os.IsNotExist(err) {
				return Decision{Addr: addr, Stale: true, Reason: ReasonOutMissing, Detail: o.Path}, nil
			}
			return Decision{}, fmt.Errorf("rerun: stat out %s: %w", o.Path, err)
		}
		// An output declared cache:false is never hashed into the
		// lockfile (internal/executor leaves its Hash nil), so it is up
		// to date as long as it merely exists.
		if !o.Cache {
			continue
		}
		want, ok := lockedOuts[o.Path]
		if !ok {
			return Decision{Addr: addr, Stale: true, Reason: ReasonOutChanged, Detail: o.Path}, nil
		}
		got, err := hashOf(o.Path)
		if err != nil {
			return Decision{}, err
		}
		if got != want {
			return Decision{Addr: addr, Stale: true, Reason: ReasonOutChanged, Detail: o.Path}, nil
		}
	}

	return Decision{Addr: addr, Stale: false}, nil
}

// Plan evaluates every stage in g in topological order and returns one
// Decision per stage, in that order (the order the executor should run
// them); Stale keeps only the ones that must run. A stage downstream of a stale stage is always included too, even if
// its own predicate would say "up to date", since its inputs are about
// to change.
func Plan(g *graph.Graph, locks map[string]*lockfile.File, hashOf HashFunc) ([]Decision, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}

	stale := map[string]bool{}
	var decisions []Decision

	for _, addr := range order {
		n, _ := g.Node(addr)
		st := n.Stage

		upstreamStale := false
		for _, dep := range n.DependsOn {
			if stale[dep] {
				upstreamStale = true
				break
			}
		}

		if upstreamStale && !st.Frozen {
			d := Decision{Addr: addr, Stale: true, Reason: ReasonUpstreamStale}
			decisions = append(decisions, d)
			stale[addr] = true
			continue
		}

		lf := locks[st.File]
		var entry lockfile.StageEntry
		if lf != nil {
			entry = lf.Stages[st.Name]
		}

		d, err := UpToDate(st, entry, hashOf)
		if err != nil {
			return nil, fmt.Errorf("rerun: %s: %w", addr, err)
		}
		decisions = append(decisions, d)
		stale[addr] = d.Stale
	}

	return decisions, nil
}

// Stale filters a Plan's output down to just the stages that must run,
// in run order.
func Stale(decisions []Decision) []string {
	var out []string
	for _, d := range decisions {
		if d.Stale {
			out = append(out, d.Addr)
		}
	}
	return out
}
