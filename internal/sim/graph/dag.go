// Package graph holds the small directed-graph helpers shared by the
// tradeoff graph and the cascade relations.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Digraph is an adjacency list keyed by node name. Edge order per node is the
// order of insertion.
type Digraph struct {
	adj   map[string][]string
	nodes map[string]struct{}
}

func New() *Digraph {
	return &Digraph{adj: map[string][]string{}, nodes: map[string]struct{}{}}
}

func (g *Digraph) AddNode(n string) {
	g.nodes[n] = struct{}{}
}

func (g *Digraph) AddEdge(from, to string) {
	g.nodes[from] = struct{}{}
	g.nodes[to] = struct{}{}
	g.adj[from] = append(g.adj[from], to)
}

func (g *Digraph) Successors(n string) []string { return g.adj[n] }

// Clone returns an independent copy.
func (g *Digraph) Clone() *Digraph {
	c := New()
	for n := range g.nodes {
		c.nodes[n] = struct{}{}
	}
	for k, v := range g.adj {
		c.adj[k] = append([]string(nil), v...)
	}
	return c
}

func (g *Digraph) sortedNodes() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CycleError names one cycle found in a graph.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle: %s", strings.Join(e.Path, " -> "))
}

// FindCycle returns a cycle (first node repeated at the end) or nil.
// Traversal order is deterministic.
func (g *Digraph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var stack []string
	var found []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, m := range g.adj[n] {
			switch color[m] {
			case grey:
				for i, s := range stack {
					if s == m {
						found = append(append([]string(nil), stack[i:]...), m)
						break
					}
				}
				return true
			case white:
				if visit(m) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}
	for _, n := range g.sortedNodes() {
		if color[n] == white && visit(n) {
			return found
		}
	}
	return nil
}

// TopoSort returns nodes in dependency order (sources first). Ties are broken
// by name so the order is stable.
func (g *Digraph) TopoSort() ([]string, error) {
	if c := g.FindCycle(); c != nil {
		return nil, &CycleError{Path: c}
	}
	indeg := map[string]int{}
	for _, n := range g.sortedNodes() {
		indeg[n] += 0
		for _, m := range g.adj[n] {
			indeg[m]++
		}
	}
	var ready []string
	for n, d := range indeg {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)
	out := make([]string, 0, len(indeg))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		var next []string
		for _, m := range g.adj[n] {
			indeg[m]--
			if indeg[m] == 0 {
				next = append(next, m)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}
	return out, nil
}

// WouldCycle reports whether adding from->to closes a cycle, i.e. whether
// from is already reachable from to.
func (g *Digraph) WouldCycle(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{}
	queue := []string{to}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == from {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		queue = append(queue, g.adj[n]...)
	}
	return false
}
