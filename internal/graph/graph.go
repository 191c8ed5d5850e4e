// Package graph assembles every stage across a workspace's pipeline
// files into a single DAG, detecting cycles and overlapping outputs
// before anything is allowed to run, per spec.md §4.1/§4.2.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowcache/flowdag/internal/pipeline"
)

// Node wraps a Stage with the edges the graph discovered for it.
type Node struct {
	Stage *pipeline.Stage
	// DependsOn holds the Addr of every stage that produces one of this
	// stage's declared dependencies.
	DependsOn []string
}

// Graph is every stage loaded from a workspace, keyed by Addr, plus the
// producer index used to resolve dependency edges.
type Graph struct {
	nodes    map[string]*Node
	order    []string // insertion order, for deterministic iteration
	producer map[string]string // output path -> producing stage Addr
}

// CycleError reports a dependency cycle as the ordered list of stage
// addresses involved, first repeated at the end to show the loop closes.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// OverlappingOutputsError reports two or more stages declaring the same
// output path, or one declaring an output that is an ancestor/descendant
// directory of another's.
type OverlappingOutputsError struct {
	Path     string
	Stages   []string
}

func (e *OverlappingOutputsError) Error() string {
	return fmt.Sprintf("graph: output %q is declared by multiple stages: %s", e.Path, strings.Join(e.Stages, ", "))
}

// Build assembles a Graph from a set of already-loaded pipelines,
// wiring dependency edges by matching each dependency's path against
// every other stage's declared outputs, then validating for overlapping
// outputs and cycles.
func Build(pipelines []*pipeline.Pipeline) (*Graph, error) {
	g := &Graph{
		nodes:    map[string]*Node{},
		producer: map[string]string{},
	}

	for _, p := range pipelines {
		for _, st := range p.Stages {
			addr := st.Addr()
			if _, exists := g.nodes[addr]; exists {
				return nil, fmt.Errorf("graph: duplicate stage address %q", addr)
			}
			g.nodes[addr] = &Node{Stage: st}
			g.order = append(g.order, addr)
		}
	}

	if err := g.indexOutputs(); err != nil {
		return nil, err
	}
	g.wireEdges()

	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}

	return g, nil
}

// indexOutputs records which stage produces each output path, returning
// an OverlappingOutputsError the moment two stages claim the same path
// or one claims a path that is a directory ancestor of another's.
func (g *Graph) indexOutputs() error {
	type claim struct {
		path string
		addr string
	}
	var claims []claim
	for _, addr := range g.order {
		for _, o := range g.nodes[addr].Stage.Outs {
			claims = append(claims, claim{path: cleanPath(o.Path), addr: addr})
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].path < claims[j].path })

	for i, c := range claims {
		if existing, ok := g.producer[c.path]; ok && existing != c.addr {
			return &OverlappingOutputsError{Path: c.path, Stages: []string{existing, c.addr}}
		}
		g.producer[c.path] = c.addr

		for j := i + 1; j < len(claims); j++ {
			other := claims[j]
			if other.addr == c.addr {
				continue
			}
			if isAncestorPath(c.path, other.path) || isAncestorPath(other.path, c.path) {
				return &OverlappingOutputsError{Path: c.path, Stages: []string{c.addr, other.addr}}
			}
		}
	}
	return nil
}

func cleanPath(p string) string {
	return strings.TrimSuffix(strings.TrimPrefix(p, "./"), "/")
}

// isAncestorPath reports whether a names a directory that contains b.
func isAncestorPath(a, b string) bool {
	return a != b && strings.HasPrefix(b, a+"/")
}

func (g *Graph) wireEdges() {
	for _, addr := range g.order {
		n := g.nodes[addr]
		seen := map[string]bool{}
		for _, d := range n.Stage.Deps {
			producer, ok := g.producer[cleanPath(d.Path)]
			if !ok || producer == addr || seen[producer] {
				continue
			}
			seen[producer] = true
			n.DependsOn = append(n.DependsOn, producer)
		}
		sort.Strings(n.DependsOn)
	}
}

// Node looks up a node by stage address.
func (g *Graph) Node(addr string) (*Node, bool) {
	n, ok := g.nodes[addr]
	return n, ok
}

// Addrs returns every stage address in the graph, in a stable (sorted)
// order.
func (g *Graph) Addrs() []string {
	out := append([]string(nil), g.order...)
	sort.Strings(out)
	return out
}

// TopoOrder returns a valid topological ordering of every stage, or a
// CycleError if the graph is not a DAG. Visited via the classic
// grey/black DFS: grey means "on the current recursion stack", black
// means "fully processed"; revisiting a grey node is the cycle.
func (g *Graph) TopoOrder() ([]string, error) {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var order []string
	var stack []string

	var visit func(addr string) error
	visit = func(addr string) error {
		color[addr] = grey
		stack = append(stack, addr)

		deps := append([]string(nil), g.nodes[addr].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case grey:
				cycle := append([]string(nil), stack...)
				cycle = append(cycle, dep)
				return &CycleError{Cycle: cycleFrom(cycle, dep)}
			}
		}

		stack = stack[:len(stack)-1]
		color[addr] = black
		order = append(order, addr)
		return nil
	}

	addrs := g.Addrs()
	for _, addr := range addrs {
		if color[addr] == white {
			if err := visit(addr); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// cycleFrom trims cycle down to start at its first occurrence of target,
// so the reported path is just the loop, not the approach to it.
func cycleFrom(cycle []string, target string) []string {
	for i, a := range cycle {
		if a == target {
			return cycle[i:]
		}
	}
	return cycle
}
