// Package events holds event definitions, the registry that indexes them and
// the per-day evaluator that picks which ones fire.
package events

import (
	"fmt"

	"shopkeep.ai/internal/sim/expr"
	"shopkeep.ai/internal/sim/metrics"
)

type Kind string

const (
	KindRandom    Kind = "random"
	KindThreshold Kind = "threshold"
	KindScheduled Kind = "scheduled"
	// KindCascade events are only reached through a parent's cascade links.
	KindCascade Kind = "cascade"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindRandom, KindThreshold, KindScheduled, KindCascade:
		return k, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

type LinkType string

const (
	Immediate     LinkType = "immediate"
	Delayed       LinkType = "delayed"
	Conditional   LinkType = "conditional"
	Probabilistic LinkType = "probabilistic"
)

func ParseLinkType(s string) (LinkType, error) {
	switch t := LinkType(s); t {
	case Immediate, Delayed, Conditional, Probabilistic:
		return t, nil
	}
	return "", fmt.Errorf("unknown cascade type %q", s)
}

// Link is one cascade child of an event. Impact multiplies the child's
// effect magnitudes; zero means 1.
type Link struct {
	Event       string
	Type        LinkType
	Delay       int
	Condition   *expr.Condition
	Probability float64
	Impact      float64
}

// Factor is Impact with the zero value read as 1.
func (l Link) Factor() float64 {
	if l.Impact == 0 {
		return 1
	}
	return l.Impact
}

type Choice struct {
	ID      string
	Label   string
	Effects []metrics.Effect
}

// Event is an immutable definition. Links name other events by id only.
type Event struct {
	ID          string
	Kind        Kind
	Title       string
	Description string

	Condition     *expr.Condition
	Effects       []metrics.Effect
	Choices       []Choice
	DefaultChoice string

	Probability float64
	Period      int
	// Cooldown in days; negative means "use the configured default".
	Cooldown int
	Priority int
	Critical bool
	Tags     []string

	Cascades []Link
	// Terminal names the campaign-ending reason this event raises, if any.
	Terminal string
}

// Choice returns the choice with id, falling back to the default choice and
// then the first choice. ok is false for events without choices.
func (e *Event) Choice(id string) (Choice, bool) {
	if len(e.Choices) == 0 {
		return Choice{}, false
	}
	for _, want := range []string{id, e.DefaultChoice} {
		if want == "" {
			continue
		}
		for _, c := range e.Choices {
			if c.ID == want {
				return c, true
			}
		}
	}
	return e.Choices[0], true
}

// EffectsFor is the event's own effects followed by the chosen alternative's.
func (e *Event) EffectsFor(choiceID string) ([]metrics.Effect, string) {
	out := append([]metrics.Effect(nil), e.Effects...)
	c, ok := e.Choice(choiceID)
	if !ok {
		return out, ""
	}
	return append(out, c.Effects...), c.ID
}

// DayIdent is the one non-metric name a condition may use.
const DayIdent = "day"

// ConditionSymbols is the symbol table for trigger and cascade conditions.
func ConditionSymbols(name string) bool {
	return name == DayIdent || metrics.IsMetricName(name)
}

// Vars binds a snapshot and day index for condition evaluation.
func Vars(s metrics.Snapshot, day int) expr.Vars {
	v := expr.Vars(s.Values())
	v[DayIdent] = float64(day)
	return v
}

// Holds evaluates c, treating a nil or blank condition as true.
func Holds(c *expr.Condition, s metrics.Snapshot, day int) (bool, error) {
	if c.Empty() {
		return true, nil
	}
	return c.Holds(Vars(s, day))
}
