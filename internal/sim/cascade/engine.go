// Package cascade expands a root event into the chain of follow-on events it
// sets off, breadth first and under a depth bound.
package cascade

import (
	"fmt"

	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/graph"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

// Engine holds the registered relations and strategies. It is read-only
// during expansion; the running snapshot lives in the Result.
type Engine struct {
	reg        *events.Registry
	model      *metrics.Model
	tradeoffs  *metrics.Tradeoffs
	maxDepth   int
	strategies map[events.LinkType]Strategy
	relations  map[string][]Node
	g          *graph.Digraph
}

// NewEngine registers every cascade link found in reg.
func NewEngine(reg *events.Registry, model *metrics.Model, tradeoffs *metrics.Tradeoffs, maxDepth int) (*Engine, error) {
	e := &Engine{
		reg:        reg,
		model:      model,
		tradeoffs:  tradeoffs,
		maxDepth:   maxDepth,
		strategies: DefaultStrategies(),
		relations:  map[string][]Node{},
		g:          graph.New(),
	}
	for _, ev := range reg.All() {
		for _, l := range ev.Cascades {
			if err := e.Register(ev.ID, l); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

func (e *Engine) MaxDepth() int { return e.maxDepth }

// SetStrategy replaces the handler for one cascade type.
func (e *Engine) SetStrategy(t events.LinkType, s Strategy) { e.strategies[t] = s }

// Register adds parent -> n.Event. Children keep registration order. An edge
// that would close a cycle is refused with a *CascadeError.
func (e *Engine) Register(parent string, n Node) error {
	if _, ok := e.reg.Get(parent); !ok {
		return fmt.Errorf("cascade parent %w %q", events.ErrUnknownEvent, parent)
	}
	if _, ok := e.reg.Get(n.Event); !ok {
		return fmt.Errorf("cascade child %w %q", events.ErrUnknownEvent, n.Event)
	}
	if _, ok := e.strategies[n.Type]; !ok {
		return fmt.Errorf("cascade %s -> %s: no strategy for %q", parent, n.Event, n.Type)
	}
	if e.g.WouldCycle(parent, n.Event) {
		return &CascadeError{Reason: ReasonCycle, Root: parent, Event: n.Event, Path: []string{parent, n.Event, "..."}}
	}
	e.g.AddEdge(parent, n.Event)
	e.relations[parent] = append(e.relations[parent], n)
	return nil
}

// Children returns the registered relations of parent in order.
func (e *Engine) Children(parent string) []Node {
	return append([]Node(nil), e.relations[parent]...)
}

// Request starts one expansion.
type Request struct {
	Root string
	Day  int
	// Factor scales the root's own effects; zero means 1.
	Factor float64
	// Choices picks an alternative per event id; missing ids use the
	// event's default choice.
	Choices map[string]string
	Rand    rng.Source
}

// Triggered is one processed event in BFS order.
type Triggered struct {
	Event  string         `json:"event"`
	Parent string         `json:"parent,omitempty"`
	Depth  int            `json:"depth"`
	Choice string         `json:"choice,omitempty"`
	Deltas metrics.Deltas `json:"deltas,omitempty"`
}

type Result struct {
	Root          string
	Triggered     []Triggered
	Scheduled     []PendingEvent
	Impact        metrics.Deltas
	MaxDepth      int
	CycleDetected bool
	Truncated     bool
	// Terminal is set when a processed event ends the campaign; expansion
	// stops right after that event.
	Terminal string
	Snapshot metrics.Snapshot
}

// IDs returns the triggered event ids in order.
func (r Result) IDs() []string {
	out := make([]string, len(r.Triggered))
	for i, t := range r.Triggered {
		out[i] = t.Event
	}
	return out
}

type item struct {
	id     string
	parent string
	depth  int
	factor float64
	path   []string
}

// Expand runs the BFS from req.Root against s. A *CascadeError comes back
// with a usable partial Result; any other error means nothing should be
// applied.
func (e *Engine) Expand(req Request, s metrics.Snapshot) (Result, error) {
	res := Result{Root: req.Root, Impact: metrics.Deltas{}, Snapshot: s}
	if _, ok := e.reg.Get(req.Root); !ok {
		return res, fmt.Errorf("cascade root %w %q", events.ErrUnknownEvent, req.Root)
	}
	factor := req.Factor
	if factor == 0 {
		factor = 1
	}
	var warn *CascadeError

	queue := []item{{id: req.Root, factor: factor}}
	visited := map[string]bool{req.Root: true}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		ev, _ := e.reg.Get(it.id)

		effects, choice := ev.EffectsFor(req.Choices[ev.ID])
		raw, err := e.model.Evaluate(effects, res.Snapshot, it.factor)
		if err != nil {
			return res, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		next, err := e.model.Apply(res.Snapshot, e.tradeoffs.Propagate(raw))
		if err != nil {
			return res, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		applied := res.Snapshot.Diff(next)
		res.Snapshot = next
		res.Impact = res.Impact.Add(applied)
		res.Triggered = append(res.Triggered, Triggered{
			Event: ev.ID, Parent: it.parent, Depth: it.depth, Choice: choice, Deltas: applied,
		})
		if it.depth > res.MaxDepth {
			res.MaxDepth = it.depth
		}
		if ev.Terminal != "" {
			res.Terminal = ev.Terminal
			break
		}

		path := extend(it.path, it.id)
		st := State{Snapshot: res.Snapshot, Day: req.Day, Rand: req.Rand}
		for _, n := range e.relations[it.id] {
			verdict, err := e.strategies[n.Type].Decide(n, st)
			if err != nil {
				return res, fmt.Errorf("cascade %s -> %s: %w", it.id, n.Event, err)
			}
			switch verdict {
			case Schedule:
				res.Scheduled = append(res.Scheduled, pendingFrom(it.id, n, req.Day))
			case Enqueue:
				if contains(path, n.Event) {
					res.CycleDetected = true
					if warn == nil {
						warn = &CascadeError{Reason: ReasonCycle, Root: req.Root, Event: n.Event, Path: extend(path, n.Event)}
					}
					continue
				}
				if visited[n.Event] {
					continue
				}
				if it.depth+1 > e.maxDepth {
					res.Truncated = true
					if warn == nil {
						warn = &CascadeError{Reason: ReasonDepth, Root: req.Root, Event: n.Event, Depth: e.maxDepth, Path: extend(path, n.Event)}
					}
					continue
				}
				visited[n.Event] = true
				queue = append(queue, item{id: n.Event, parent: it.id, depth: it.depth + 1, factor: n.Factor(), path: path})
			}
		}
	}
	if warn != nil {
		return res, warn
	}
	return res, nil
}

func extend(path []string, id string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, id)
}

func contains(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// CheckCascadeCycle reports a *CascadeError if ids repeats an id.
func CheckCascadeCycle(ids []string) error {
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if j, ok := seen[id]; ok {
			return &CascadeError{Reason: ReasonCycle, Root: ids[0], Event: id, Path: append([]string(nil), ids[j:i+1]...)}
		}
		seen[id] = i
	}
	return nil
}

// Validate checks that the cascade relations of reg together with the
// tradeoff edges form a DAG.
func Validate(reg *events.Registry, tradeoffs *metrics.Tradeoffs) error {
	g := tradeoffs.Graph("metric:")
	for _, ev := range reg.All() {
		g.AddNode("event:" + ev.ID)
		for _, l := range ev.Cascades {
			g.AddEdge("event:"+ev.ID, "event:"+l.Event)
		}
	}
	if c := g.FindCycle(); c != nil {
		return &CascadeError{Reason: ReasonCycle, Root: c[0], Event: c[len(c)-1], Path: c}
	}
	return nil
}
