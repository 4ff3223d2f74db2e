// Package budget allots the player's action slots for one day.
package budget

import "fmt"

// Rules size a day's plan: Base slots at the start, one more every Interval
// days, never above Max. Interval 0 disables growth.
type Rules struct {
	Base     int
	Max      int
	Interval int
}

// SlotsForDay is the slot count for a 1-based day index.
func (r Rules) SlotsForDay(day int) int {
	n := r.Base
	if r.Interval > 0 && day > 1 {
		n += (day - 1) / r.Interval
	}
	if r.Max > 0 && n > r.Max {
		n = r.Max
	}
	if n < 0 {
		n = 0
	}
	return n
}

type Slot struct {
	ID       int    `json:"id"`
	Consumed bool   `json:"consumed"`
	Kind     string `json:"kind,omitempty"`
	Turn     int    `json:"turn,omitempty"`
}

// Plan is one day's slots. It is a value: Consume returns a new Plan and
// leaves the receiver untouched.
type Plan struct {
	Day   int    `json:"day"`
	Slots []Slot `json:"slots"`
	Count int    `json:"count"`
}

// BudgetError is returned when every slot of the day is already used. No
// state changes when it is returned.
type BudgetError struct {
	Day   int
	Slots int
	Kind  string
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("day %d: all %d action slots used, %s not taken", e.Day, e.Slots, e.Kind)
}

// New returns a fresh plan for day.
func New(r Rules, day int) Plan {
	n := r.SlotsForDay(day)
	p := Plan{Day: day, Count: n, Slots: make([]Slot, n)}
	for i := range p.Slots {
		p.Slots[i] = Slot{ID: i + 1}
	}
	return p
}

func (p Plan) Remaining() int {
	n := 0
	for _, s := range p.Slots {
		if !s.Consumed {
			n++
		}
	}
	return n
}

func (p Plan) Used() int { return len(p.Slots) - p.Remaining() }

func (p Plan) CanConsume() bool { return p.Remaining() > 0 }

// Consume marks the first free slot as used by kind.
func (p Plan) Consume(kind string) (Plan, error) {
	for i, s := range p.Slots {
		if s.Consumed {
			continue
		}
		out := p
		out.Slots = append([]Slot(nil), p.Slots...)
		out.Slots[i] = Slot{ID: s.ID, Consumed: true, Kind: kind, Turn: p.Day}
		return out, nil
	}
	return p, &BudgetError{Day: p.Day, Slots: p.Count, Kind: kind}
}

// Rollover returns the plan for the day after p, sized by r.
func (p Plan) Rollover(r Rules) Plan { return New(r, p.Day+1) }

// Valid reports whether p is internally consistent; restored plans are
// checked with it.
func (p Plan) Valid() error {
	if p.Day < 1 {
		return fmt.Errorf("plan day %d < 1", p.Day)
	}
	if p.Count != len(p.Slots) {
		return fmt.Errorf("plan count %d != %d slots", p.Count, len(p.Slots))
	}
	for i, s := range p.Slots {
		if s.ID != i+1 {
			return fmt.Errorf("plan slot %d has id %d", i+1, s.ID)
		}
	}
	return nil
}
