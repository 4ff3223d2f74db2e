package cascade

import (
	"fmt"
	"sort"

	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/expr"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

// PendingEvent is a delayed child waiting for its activation day. It is part
// of the saved game state, so the condition is kept as source text.
type PendingEvent struct {
	EventID        string  `json:"event_id"`
	ActivationTurn int     `json:"activation_turn"`
	Condition      string  `json:"condition,omitempty"`
	Probability    float64 `json:"probability"`
	Impact         float64 `json:"impact,omitempty"`
	Source         string  `json:"source,omitempty"`
}

func pendingFrom(parent string, n Node, day int) PendingEvent {
	p := PendingEvent{
		EventID:        n.Event,
		ActivationTurn: day + n.Delay,
		Probability:    1,
		Impact:         n.Impact,
		Source:         parent,
	}
	if !n.Condition.Empty() {
		p.Condition = n.Condition.String()
	}
	if n.Probability > 0 {
		p.Probability = n.Probability
	}
	return p
}

// Ready checks the extra predicate and draws the activation probability. A
// draw is taken only when the predicate holds.
func (p PendingEvent) Ready(s metrics.Snapshot, day int, src rng.Source) (bool, error) {
	if p.Condition != "" {
		c, err := expr.CompileCondition(p.Condition, events.ConditionSymbols)
		if err != nil {
			return false, fmt.Errorf("pending %s: %w", p.EventID, err)
		}
		ok, err := events.Holds(c, s, day)
		if err != nil || !ok {
			return false, err
		}
	}
	if p.Probability >= 1 {
		return true, nil
	}
	return src.Float64() < p.Probability, nil
}

// Due splits queue into entries active on or before day and the rest. Both
// keep queue order.
func Due(queue []PendingEvent, day int) (due, rest []PendingEvent) {
	for _, p := range queue {
		if p.ActivationTurn <= day {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	return due, rest
}

// EnqueuePending appends more to queue up to limit entries, keeping the queue
// sorted by activation day (stable). It returns the new queue and the
// entries that did not fit.
func EnqueuePending(queue, more []PendingEvent, limit int) (out, dropped []PendingEvent) {
	out = append([]PendingEvent(nil), queue...)
	for _, p := range more {
		if len(out) >= limit {
			dropped = append(dropped, p)
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ActivationTurn < out[j].ActivationTurn })
	return out, dropped
}
