// Package depgraph offers a structural pre-flight check over the goal
// dependency graph a set of goal factories would produce, before any
// goal is ever stepped. Dependency cycles are forbidden by
// construction; a correct caller never produces one, but this package
// makes that checkable ahead of time with gonum's topological sort
// instead of only discoverable by assertion at runtime.
package depgraph

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// node wraps a goal key as a gonum graph node.
type node struct {
	id  int64
	key string
}

func (n *node) ID() int64 { return n.id }

// Graph is a directed graph of goal keys, edges pointing from a goal
// to the prerequisites it depends on.
type Graph struct {
	g        *simple.DirectedGraph
	byKey    map[string]*node
	nextID   int64
}

// New returns an empty dependency graph.
func New() *Graph {
	return &Graph{
		g:     simple.NewDirectedGraph(),
		byKey: make(map[string]*node),
	}
}

func (g *Graph) nodeFor(key string) *node {
	if n, ok := g.byKey[key]; ok {
		return n
	}
	n := &node{id: g.nextID, key: key}
	g.nextID++
	g.byKey[key] = n
	g.g.AddNode(n)
	return n
}

// AddEdge records that goal depends on dep (goal -> dep).
func (g *Graph) AddEdge(goal, dep string) {
	from := g.nodeFor(goal)
	to := g.nodeFor(dep)
	if from.ID() == to.ID() {
		return
	}
	g.g.SetEdge(g.g.NewEdge(from, to))
}

// CheckAcyclic returns an error naming every key that participates in
// a cycle. Unlike a build system that silently breaks cycles, this
// checker refuses to: dependency cycles must never occur.
func (g *Graph) CheckAcyclic() error {
	if _, err := topo.Sort(g.g); err != nil {
		unorderable, ok := err.(topo.Unorderable)
		if !ok {
			return xerrors.Errorf("checking goal graph: %w", err)
		}
		var keys []string
		for _, component := range unorderable {
			for _, n := range component {
				keys = append(keys, n.(*node).key)
			}
		}
		return xerrors.Errorf("goal dependency graph has a cycle among: %v", keys)
	}
	return nil
}

// Order returns a topological build order (leaves first), suitable
// for a -dry-run style preview of the planned build order.
func (g *Graph) Order() ([]string, error) {
	sorted, err := topo.Sort(g.g)
	if err != nil {
		return nil, err
	}
	// topo.Sort orders so that edges point from earlier to later;
	// our edges point goal -> dependency, so reverse to get
	// leaves-first (dependency before dependent) order.
	order := make([]string, len(sorted))
	for i, n := range sorted {
		order[len(sorted)-1-i] = n.(*node).key
	}
	return order, nil
}

var _ graph.Directed = (*simple.DirectedGraph)(nil)
