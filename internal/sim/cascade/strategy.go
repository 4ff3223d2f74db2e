package cascade

import (
	"fmt"

	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

// Node is one registered parent -> child relation.
type Node = events.Link

// Verdict is what a strategy decides for one child.
type Verdict int

const (
	Skip Verdict = iota
	Enqueue
	Schedule
)

func (v Verdict) String() string {
	switch v {
	case Skip:
		return "skip"
	case Enqueue:
		return "enqueue"
	case Schedule:
		return "schedule"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// State is what a strategy may look at: the running snapshot, the day and
// the expansion's random source.
type State struct {
	Snapshot metrics.Snapshot
	Day      int
	Rand     rng.Source
}

// Strategy handles one cascade type.
type Strategy interface {
	Decide(n Node, st State) (Verdict, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(n Node, st State) (Verdict, error)

func (f StrategyFunc) Decide(n Node, st State) (Verdict, error) { return f(n, st) }

func immediate(Node, State) (Verdict, error) { return Enqueue, nil }

func delayed(Node, State) (Verdict, error) { return Schedule, nil }

func conditional(n Node, st State) (Verdict, error) {
	ok, err := events.Holds(n.Condition, st.Snapshot, st.Day)
	if err != nil || !ok {
		return Skip, err
	}
	return Enqueue, nil
}

// probabilistic draws once per child, whether or not it ends up enqueued.
func probabilistic(n Node, st State) (Verdict, error) {
	if st.Rand.Float64() < n.Probability {
		return Enqueue, nil
	}
	return Skip, nil
}

// DefaultStrategies is the strategy table for the four cascade types.
func DefaultStrategies() map[events.LinkType]Strategy {
	return map[events.LinkType]Strategy{
		events.Immediate:     StrategyFunc(immediate),
		events.Delayed:       StrategyFunc(delayed),
		events.Conditional:   StrategyFunc(conditional),
		events.Probabilistic: StrategyFunc(probabilistic),
	}
}
