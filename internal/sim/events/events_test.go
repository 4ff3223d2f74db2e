package events

import (
	"errors"
	"math"
	"testing"

	"shopkeep.ai/internal/sim/expr"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

func cond(t *testing.T, src string) *expr.Condition {
	t.Helper()
	c, err := expr.CompileCondition(src, ConditionSymbols)
	if err != nil {
		t.Fatalf("CompileCondition(%q): %v", src, err)
	}
	return c
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry([]Event{
		{ID: "b", Kind: KindRandom, Cooldown: -1},
		{ID: "a", Kind: KindRandom, Cooldown: 2, Cascades: []Link{{Event: "b", Type: Immediate}}},
	}, 7)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if ids := r.IDs(); ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids not sorted: %v", ids)
	}
	b, _ := r.Get("b")
	if b.Cooldown != 7 {
		t.Fatalf("default cooldown not applied: %d", b.Cooldown)
	}
	if len(r.ByKind(KindRandom)) != 2 || len(r.ByKind(KindThreshold)) != 0 {
		t.Fatalf("ByKind wrong")
	}

	if _, err := NewRegistry([]Event{{ID: "a"}, {ID: "a"}}, 0); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	_, err = NewRegistry([]Event{{ID: "a", Cascades: []Link{{Event: "ghost"}}}}, 0)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected unknown event, got %v", err)
	}
}

func TestCooldowns_Available(t *testing.T) {
	ev := &Event{ID: "x", Cooldown: 3}
	cd := Cooldowns{}
	if !cd.Available(ev, 1) {
		t.Fatalf("never-fired event should be available")
	}
	cd.Mark("x", 5)
	for day, want := range map[int]bool{5: false, 6: false, 7: false, 8: true, 20: true} {
		if got := cd.Available(ev, day); got != want {
			t.Fatalf("day %d: got %v want %v", day, got, want)
		}
	}
	c2 := cd.Clone()
	c2.Mark("x", 9)
	if cd["x"] != 5 {
		t.Fatalf("Clone shares storage")
	}
}

func TestEvent_Choice(t *testing.T) {
	ev := &Event{
		ID:            "critic",
		Effects:       []metrics.Effect{{Metric: metrics.Reputation, Formula: metrics.Scalar(1)}},
		Choices:       []Choice{{ID: "comp_meal"}, {ID: "ignore", Effects: []metrics.Effect{{Metric: metrics.Reputation, Formula: metrics.Scalar(-3)}}}},
		DefaultChoice: "ignore",
	}
	effects, chosen := ev.EffectsFor("")
	if chosen != "ignore" || len(effects) != 2 {
		t.Fatalf("default choice: %q %v", chosen, effects)
	}
	if _, chosen = ev.EffectsFor("comp_meal"); chosen != "comp_meal" {
		t.Fatalf("override: %q", chosen)
	}
	if _, chosen = ev.EffectsFor("nonsense"); chosen != "ignore" {
		t.Fatalf("unknown override should fall back: %q", chosen)
	}
	plain := &Event{ID: "plain"}
	if _, ok := plain.Choice(""); ok {
		t.Fatalf("no choices expected")
	}
}

func TestEvaluate_Ordering(t *testing.T) {
	reg, err := NewRegistry([]Event{
		{ID: "rand_b", Kind: KindRandom, Probability: 1},
		{ID: "rand_a", Kind: KindRandom, Probability: 1},
		{ID: "sched", Kind: KindScheduled, Period: 5},
		{ID: "burnout", Kind: KindThreshold, Critical: true, Condition: cond(t, "StaffFatigue >= 85")},
		{ID: "low_rep", Kind: KindThreshold, Priority: 1, Condition: cond(t, "Reputation < 30")},
		{ID: "low_rep_hi", Kind: KindThreshold, Priority: 9, Condition: cond(t, "Reputation < 30 and day > 1")},
		{ID: "never", Kind: KindThreshold, Condition: cond(t, "Money < 0")},
		{ID: "child", Kind: KindCascade},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.MustModel()
	s, _ := m.FromValues(10, map[string]float64{"StaffFatigue": 90, "Reputation": 20})

	got, err := NewEvaluator(reg).Evaluate(s, 10, Cooldowns{}, &rng.Fixed{Values: []float64{0.5}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"burnout", "low_rep_hi", "low_rep", "sched", "rand_a", "rand_b"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates: %+v", len(got), got)
	}
	for i, id := range want {
		if got[i].Event.ID != id {
			t.Fatalf("position %d: got %s want %s", i, got[i].Event.ID, id)
		}
	}
	if got[0].Category != CategoryThresholdCritical || got[3].Category != CategoryScheduled {
		t.Fatalf("categories %v %v", got[0].Category, got[3].Category)
	}
}

func TestEvaluate_CooldownBlocks(t *testing.T) {
	reg, _ := NewRegistry([]Event{
		{ID: "low_rep", Kind: KindThreshold, Cooldown: 10, Condition: cond(t, "Reputation < 30")},
	}, 0)
	s, _ := metrics.MustModel().FromValues(1, map[string]float64{"Reputation": 10})
	got, _ := NewEvaluator(reg).Evaluate(s, 12, Cooldowns{"low_rep": 5}, &rng.Fixed{})
	if len(got) != 0 {
		t.Fatalf("cooldown should block: %+v", got)
	}
	got, _ = NewEvaluator(reg).Evaluate(s, 15, Cooldowns{"low_rep": 5}, &rng.Fixed{})
	if len(got) != 1 {
		t.Fatalf("cooldown elapsed: %+v", got)
	}
}

func TestScheduled_FiresOnMultiplesOnly(t *testing.T) {
	ev := &Event{ID: "rent", Kind: KindScheduled, Period: 7}
	for day := 1; day <= 70; day++ {
		if got, want := ScheduledOn(ev, day), day%7 == 0; got != want {
			t.Fatalf("day %d: got %v want %v", day, got, want)
		}
	}
	if ScheduledOn(&Event{Period: 0}, 10) {
		t.Fatalf("period 0 never fires")
	}
}

func TestRandom_RateConverges(t *testing.T) {
	const p = 0.2
	reg, _ := NewRegistry([]Event{{ID: "buzz", Kind: KindRandom, Probability: p}}, 0)
	ev := NewEvaluator(reg)
	s := metrics.MustModel().Defaults(1)

	const n = 4000
	fired := 0
	for day := 1; day <= n; day++ {
		got, err := ev.Evaluate(s, day, Cooldowns{}, rng.For(42, day, "events"))
		if err != nil {
			t.Fatal(err)
		}
		fired += len(got)
	}
	rate := float64(fired) / n
	tol := 4 * math.Sqrt(p*(1-p)/n)
	if math.Abs(rate-p) > tol {
		t.Fatalf("empirical rate %v, want %v ± %v", rate, p, tol)
	}
}
