package budget

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRules_SlotsForDay(t *testing.T) {
	r := Rules{Base: 3, Max: 5, Interval: 120}
	cases := map[int]int{1: 3, 120: 3, 121: 4, 241: 5, 600: 5, 730: 5}
	for day, want := range cases {
		if got := r.SlotsForDay(day); got != want {
			t.Fatalf("day %d: got %d want %d", day, got, want)
		}
	}
	if got := (Rules{Base: 2, Max: 9}).SlotsForDay(500); got != 2 {
		t.Fatalf("zero interval should not grow, got %d", got)
	}
}

func TestPlan_Exhaustion(t *testing.T) {
	p := New(Rules{Base: 3, Max: 5, Interval: 120}, 1)
	for i, kind := range []string{"restock", "marketing", "repair"} {
		next, err := p.Consume(kind)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if p.Remaining() != 3-i {
			t.Fatalf("Consume mutated the receiver")
		}
		p = next
	}
	if p.CanConsume() || p.Remaining() != 0 || p.Used() != 3 {
		t.Fatalf("plan after three actions: %+v", p)
	}

	before := p
	after, err := p.Consume("rest_staff")
	var be *BudgetError
	if !errors.As(err, &be) || be.Slots != 3 || be.Kind != "rest_staff" {
		t.Fatalf("want BudgetError, got %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("failed consume changed the plan (-before +after):\n%s", diff)
	}

	want := []Slot{
		{ID: 1, Consumed: true, Kind: "restock", Turn: 1},
		{ID: 2, Consumed: true, Kind: "marketing", Turn: 1},
		{ID: 3, Consumed: true, Kind: "repair", Turn: 1},
	}
	if diff := cmp.Diff(want, p.Slots); diff != "" {
		t.Fatalf("slots (-want +got):\n%s", diff)
	}
}

func TestPlan_Rollover(t *testing.T) {
	r := Rules{Base: 3, Max: 5, Interval: 120}
	p := New(r, 120)
	p, _ = p.Consume("restock")
	next := p.Rollover(r)
	if next.Day != 121 || next.Count != 4 || next.Remaining() != 4 {
		t.Fatalf("rollover: %+v", next)
	}
	if err := next.Valid(); err != nil {
		t.Fatalf("Valid: %v", err)
	}
	used, err := next.Consume("marketing")
	if err != nil {
		t.Fatalf("consume after rollover: %v", err)
	}
	if s := used.Slots[0]; s.Turn != 121 || s.Kind != "marketing" {
		t.Fatalf("slot stamped %+v, want day 121", s)
	}
	if err := (Plan{Day: 1, Count: 2, Slots: []Slot{{ID: 1}}}).Valid(); err == nil {
		t.Fatalf("mismatched count should be invalid")
	}
}
