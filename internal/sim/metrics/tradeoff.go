package metrics

import (
	"fmt"

	"shopkeep.ai/internal/sim/graph"
)

// Edge is a directed tradeoff: a positive delta on Source pushes Target down
// by Impact × delta.
type Edge struct {
	Source      Metric  `json:"source"`
	Target      Metric  `json:"target"`
	Impact      float64 `json:"impact"`
	Description string  `json:"description,omitempty"`
}

// Tradeoffs is the validated, acyclic tradeoff graph.
type Tradeoffs struct {
	edges []Edge
	order []Metric
	out   map[Metric][]Edge
}

// NewTradeoffs validates edges. A cycle yields a *graph.CycleError.
func NewTradeoffs(edges []Edge) (*Tradeoffs, error) {
	g := graph.New()
	for _, m := range All() {
		g.AddNode(m.String())
	}
	out := map[Metric][]Edge{}
	for _, e := range edges {
		if !e.Source.Valid() || !e.Target.Valid() {
			return nil, fmt.Errorf("tradeoff %s -> %s: %w", e.Source, e.Target, ErrUnknownMetric)
		}
		g.AddEdge(e.Source.String(), e.Target.String())
		out[e.Source] = append(out[e.Source], e)
	}
	names, err := g.TopoSort()
	if err != nil {
		return nil, err
	}
	order := make([]Metric, 0, len(names))
	for _, n := range names {
		m, err := ParseMetric(n)
		if err != nil {
			return nil, err
		}
		order = append(order, m)
	}
	return &Tradeoffs{edges: append([]Edge(nil), edges...), order: order, out: out}, nil
}

func (t *Tradeoffs) Edges() []Edge {
	if t == nil {
		return nil
	}
	return append([]Edge(nil), t.edges...)
}

// Graph exposes the edges as a digraph keyed by prefixed node names, for the
// combined static validation with cascade relations.
func (t *Tradeoffs) Graph(prefix string) *graph.Digraph {
	g := graph.New()
	if t == nil {
		return g
	}
	for _, e := range t.edges {
		g.AddEdge(prefix+e.Source.String(), prefix+e.Target.String())
	}
	return g
}

// Propagate returns d plus the downward pressure implied by the graph,
// walking sources in topological order so pressure flows transitively.
// Seesaw entries are folded onto Happiness first so the pressure is not lost
// when Apply lets Happiness win.
func (t *Tradeoffs) Propagate(d Deltas) Deltas {
	work := foldSeesaw(d)
	if t == nil || len(t.edges) == 0 {
		return work
	}
	for _, src := range t.order {
		v := work[src]
		if src == Suffering {
			v = -work[Happiness]
		}
		if v <= 0 {
			continue
		}
		for _, e := range t.out[src] {
			if e.Target == Suffering {
				work[Happiness] += e.Impact * v
				continue
			}
			work[e.Target] -= e.Impact * v
		}
	}
	return work
}

// foldSeesaw rewrites a Suffering delta as the equivalent Happiness delta.
// When both are present Happiness wins, matching Apply.
func foldSeesaw(d Deltas) Deltas {
	out := d.Clone()
	s, hasS := out[Suffering]
	if !hasS {
		return out
	}
	delete(out, Suffering)
	if _, hasH := out[Happiness]; !hasH {
		out[Happiness] = -s
	}
	return out
}
