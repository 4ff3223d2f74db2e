package events

import (
	"fmt"
	"sort"

	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

// Category orders candidates; lower sorts first.
type Category int

const (
	CategoryThresholdCritical Category = iota
	CategoryThreshold
	CategoryScheduled
	CategoryRandom
)

func (c Category) String() string {
	switch c {
	case CategoryThresholdCritical:
		return "threshold_critical"
	case CategoryThreshold:
		return "threshold"
	case CategoryScheduled:
		return "scheduled"
	case CategoryRandom:
		return "random"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

type Candidate struct {
	Event    *Event
	Category Category
}

type Evaluator struct {
	reg *Registry
}

func NewEvaluator(reg *Registry) *Evaluator { return &Evaluator{reg: reg} }

// Evaluate returns the events eligible on day, ordered by category, then
// priority (high first), then id. Random events consume one draw each from
// src in id order whenever their cooldown has elapsed, so the draw sequence
// does not depend on outcomes.
func (e *Evaluator) Evaluate(s metrics.Snapshot, day int, cd Cooldowns, src rng.Source) ([]Candidate, error) {
	var out []Candidate

	for _, ev := range e.reg.ByKind(KindThreshold) {
		if !cd.Available(ev, day) {
			continue
		}
		ok, err := Holds(ev.Condition, s, day)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		if !ok {
			continue
		}
		cat := CategoryThreshold
		if ev.Critical {
			cat = CategoryThresholdCritical
		}
		out = append(out, Candidate{Event: ev, Category: cat})
	}

	for _, ev := range e.reg.ByKind(KindScheduled) {
		if !ScheduledOn(ev, day) || !cd.Available(ev, day) {
			continue
		}
		ok, err := Holds(ev.Condition, s, day)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		if ok {
			out = append(out, Candidate{Event: ev, Category: CategoryScheduled})
		}
	}

	for _, ev := range e.reg.ByKind(KindRandom) {
		if !cd.Available(ev, day) {
			continue
		}
		r := src.Float64()
		if r >= ev.Probability {
			continue
		}
		ok, err := Holds(ev.Condition, s, day)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		if ok {
			out = append(out, Candidate{Event: ev, Category: CategoryRandom})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Event.Priority != b.Event.Priority {
			return a.Event.Priority > b.Event.Priority
		}
		return a.Event.ID < b.Event.ID
	})
	return out, nil
}

// ScheduledOn reports whether day is a positive multiple of ev's period.
func ScheduledOn(ev *Event, day int) bool {
	return ev.Period > 0 && day > 0 && day%ev.Period == 0
}
