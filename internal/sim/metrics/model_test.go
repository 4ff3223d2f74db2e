package metrics

import (
	"errors"
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func start(t *testing.T, m *Model, vals map[string]float64) Snapshot {
	t.Helper()
	s, err := m.FromValues(1, vals)
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}
	return s
}

func TestApply_HappinessSeesaw(t *testing.T) {
	m := MustModel()
	s := start(t, m, map[string]float64{"Happiness": 60, "Suffering": 40})

	got, err := m.Apply(s, Deltas{Happiness: 30})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Get(Happiness) != 90 || got.Get(Suffering) != 10 {
		t.Fatalf("seesaw: got H=%v S=%v, want 90/10", got.Get(Happiness), got.Get(Suffering))
	}
	if s.Get(Happiness) != 60 {
		t.Fatalf("input snapshot mutated")
	}
}

func TestApply_SufferingLeadsWhenAlone(t *testing.T) {
	m := MustModel()
	s := start(t, m, map[string]float64{"Happiness": 60})
	got, err := m.Apply(s, Deltas{Suffering: 25})
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(Suffering) != 65 || got.Get(Happiness) != 35 {
		t.Fatalf("got H=%v S=%v", got.Get(Happiness), got.Get(Suffering))
	}
}

func TestApply_HappinessWinsWhenBoth(t *testing.T) {
	m := MustModel()
	s := start(t, m, map[string]float64{"Happiness": 50})
	got, err := m.Apply(s, Deltas{Happiness: 10, Suffering: 30})
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(Happiness) != 60 || got.Get(Suffering) != 40 {
		t.Fatalf("got H=%v S=%v", got.Get(Happiness), got.Get(Suffering))
	}
}

func TestApply_SeesawBoundaries(t *testing.T) {
	m := MustModel()
	s := m.Defaults(1)
	got, _ := m.Set(s, Happiness, 0)
	if got.Get(Suffering) != 100 {
		t.Fatalf("Happiness=0 should force Suffering=100, got %v", got.Get(Suffering))
	}
	got, _ = m.Set(s, Suffering, 0)
	if got.Get(Happiness) != 100 {
		t.Fatalf("Suffering=0 should force Happiness=100, got %v", got.Get(Happiness))
	}
	got, _ = m.Apply(s, Deltas{Happiness: 500})
	if got.Get(Happiness) != 100 || got.Get(Suffering) != 0 {
		t.Fatalf("overflow: H=%v S=%v", got.Get(Happiness), got.Get(Suffering))
	}
}

func TestApply_MoneyFloor(t *testing.T) {
	m := MustModel()
	s := start(t, m, map[string]float64{"Money": 1000})
	got, err := m.Apply(s, Deltas{Money: -5000})
	if err != nil {
		t.Fatal(err)
	}
	if got.Get(Money) != 0 {
		t.Fatalf("Money = %v, want 0", got.Get(Money))
	}
	got, _ = m.Apply(s, Deltas{Money: -math.MaxFloat64})
	if got.Get(Money) != 0 {
		t.Fatalf("extreme negative: Money = %v", got.Get(Money))
	}
	got, _ = m.Apply(s, Deltas{Money: 1e12})
	if got.Get(Money) != 1000+1e12 {
		t.Fatalf("Money is unbounded above, got %v", got.Get(Money))
	}
}

func TestApply_ReputationBounded(t *testing.T) {
	m := MustModel()
	s := m.Defaults(1)
	for _, d := range []float64{-1000, -51, 49, 51, 1e9} {
		got, err := m.Apply(s, Deltas{Reputation: d})
		if err != nil {
			t.Fatal(err)
		}
		if r := got.Get(Reputation); r < 0 || r > 100 {
			t.Fatalf("Reputation %v out of range after delta %v", r, d)
		}
		if err := m.Check(got); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}
}

func TestApply_EmptyIsNoOp(t *testing.T) {
	m := MustModel()
	s := m.Defaults(3)
	got, err := m.Apply(s, nil)
	if err != nil || !got.Equal(s) {
		t.Fatalf("nil deltas changed snapshot: %v %v", got, err)
	}
	got, err = m.Apply(s, Deltas{})
	if err != nil || !got.Equal(s) {
		t.Fatalf("empty deltas changed snapshot: %v %v", got, err)
	}
}

func TestApply_RejectsBadInput(t *testing.T) {
	m := MustModel()
	s := m.Defaults(1)
	var me *MetricError
	if _, err := m.Apply(s, Deltas{Metric(99): 1}); !errors.As(err, &me) {
		t.Fatalf("expected MetricError for unknown metric, got %v", err)
	}
	if _, err := m.Apply(s, Deltas{Money: math.NaN()}); !errors.As(err, &me) {
		t.Fatalf("expected MetricError for NaN, got %v", err)
	}
}

func TestClamp_Idempotent(t *testing.T) {
	m := MustModel()
	for _, metric := range All() {
		for _, v := range []float64{-1e9, -1, 0, 42.5, 100, 101, 1e9} {
			once := m.Clamp(metric, v)
			if twice := m.Clamp(metric, once); twice != once {
				t.Fatalf("%s: clamp(clamp(%v))=%v != %v", metric, v, twice, once)
			}
		}
	}
}

func TestApplyPercentage_Composes(t *testing.T) {
	for _, p := range []float64{-5, 10, 33.3} {
		twice := ApplyPercentage(ApplyPercentage(200, p), p)
		combined := (math.Pow(1+p/100, 2) - 1) * 100
		once := ApplyPercentage(200, combined)
		if !near(twice, once) {
			t.Fatalf("p=%v: twice=%v once=%v", p, twice, once)
		}
	}
}

func TestNewModel_Validation(t *testing.T) {
	bad := []map[Metric]Range{
		{Reputation: {Min: 10, Max: 5, Default: 7}},
		{Reputation: {Min: 0, Max: 100, Default: 150}},
		{Money: {Min: -10, Max: math.Inf(1), Default: 0}},
		{Happiness: {Min: 0, Max: 90, Default: 50}},
	}
	for i, r := range bad {
		if _, err := NewModel(r); err == nil {
			t.Fatalf("case %d should fail", i)
		}
	}
	m, err := NewModel(map[Metric]Range{Inventory: {Min: 0, Max: 999, Default: 300}})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if m.Range(Inventory).Max != 999 {
		t.Fatalf("configured max not used")
	}
}

func TestFromValues_UnknownMetric(t *testing.T) {
	m := MustModel()
	if _, err := m.FromValues(1, map[string]float64{"money": 1}); !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("names are case-sensitive; got %v", err)
	}
}
