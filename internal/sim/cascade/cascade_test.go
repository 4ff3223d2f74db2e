package cascade

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/expr"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

func money(v float64) []metrics.Effect {
	return []metrics.Effect{{Metric: metrics.Money, Formula: metrics.Scalar(v)}}
}

func cond(t *testing.T, src string) *expr.Condition {
	t.Helper()
	c, err := expr.CompileCondition(src, events.ConditionSymbols)
	if err != nil {
		t.Fatalf("CompileCondition(%q): %v", src, err)
	}
	return c
}

func newEngine(t *testing.T, evs []events.Event, maxDepth int) *Engine {
	t.Helper()
	reg, err := events.NewRegistry(evs, 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	e, err := NewEngine(reg, metrics.MustModel(), nil, maxDepth)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func chain(ids ...string) []events.Event {
	out := make([]events.Event, len(ids))
	for i, id := range ids {
		out[i] = events.Event{ID: id, Kind: events.KindCascade, Effects: money(-10)}
		if i+1 < len(ids) {
			out[i].Cascades = []events.Link{{Event: ids[i+1], Type: events.Immediate}}
		}
	}
	out[0].Kind = events.KindRandom
	return out
}

func TestExpand_DepthGuard(t *testing.T) {
	e := newEngine(t, chain("A", "B", "C", "D", "E", "F"), 4)
	s := metrics.MustModel().Defaults(1)

	res, err := e.Expand(Request{Root: "A", Day: 1, Rand: &rng.Fixed{}}, s)
	var ce *CascadeError
	if !errors.As(err, &ce) || ce.Reason != ReasonDepth {
		t.Fatalf("expected depth CascadeError, got %v", err)
	}
	if ce.Event != "F" {
		t.Fatalf("refused child = %q, want F", ce.Event)
	}
	if diff := cmp.Diff([]string{"A", "B", "C", "D", "E"}, res.IDs()); diff != "" {
		t.Fatalf("triggered (-want +got):\n%s", diff)
	}
	if res.MaxDepth != 4 || !res.Truncated || res.CycleDetected {
		t.Fatalf("result flags: depth=%d truncated=%v cycle=%v", res.MaxDepth, res.Truncated, res.CycleDetected)
	}
	if got := res.Snapshot.Get(metrics.Money); got != 10000-50 {
		t.Fatalf("money after five events = %v", got)
	}
	if got := res.Impact[metrics.Money]; got != -50 {
		t.Fatalf("aggregate impact = %v", got)
	}
	if err := CheckCascadeCycle(res.IDs()); err != nil {
		t.Fatalf("triggered ids repeat: %v", err)
	}
}

func TestExpand_DelayedSchedules(t *testing.T) {
	evs := []events.Event{
		{ID: "A", Kind: events.KindRandom, Cascades: []events.Link{{Event: "X", Type: events.Delayed, Delay: 3}}},
		{ID: "X", Kind: events.KindCascade, Effects: money(-1)},
	}
	e := newEngine(t, evs, 4)
	res, err := e.Expand(Request{Root: "A", Day: 5, Rand: &rng.Fixed{}}, metrics.MustModel().Defaults(5))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if diff := cmp.Diff([]string{"A"}, res.IDs()); diff != "" {
		t.Fatalf("triggered (-want +got):\n%s", diff)
	}
	want := []PendingEvent{{EventID: "X", ActivationTurn: 8, Probability: 1, Source: "A"}}
	if diff := cmp.Diff(want, res.Scheduled); diff != "" {
		t.Fatalf("scheduled (-want +got):\n%s", diff)
	}

	for day, wantDue := range map[int]int{6: 0, 7: 0, 8: 1, 9: 1} {
		due, rest := Due(res.Scheduled, day)
		if len(due) != wantDue || len(due)+len(rest) != 1 {
			t.Fatalf("day %d: due=%v rest=%v", day, due, rest)
		}
	}
	ok, err := res.Scheduled[0].Ready(res.Snapshot, 8, &rng.Fixed{Values: []float64{0.99}})
	if err != nil || !ok {
		t.Fatalf("unconditional pending event should be ready: %v %v", ok, err)
	}
}

func TestExpand_DiamondVisitsOnce(t *testing.T) {
	evs := []events.Event{
		{ID: "A", Kind: events.KindRandom, Cascades: []events.Link{{Event: "B", Type: events.Immediate}, {Event: "C", Type: events.Immediate}}},
		{ID: "B", Kind: events.KindCascade, Cascades: []events.Link{{Event: "D", Type: events.Immediate}}},
		{ID: "C", Kind: events.KindCascade, Cascades: []events.Link{{Event: "D", Type: events.Immediate}}},
		{ID: "D", Kind: events.KindCascade, Effects: money(-5)},
	}
	e := newEngine(t, evs, 4)
	res, err := e.Expand(Request{Root: "A", Rand: &rng.Fixed{}}, metrics.MustModel().Defaults(1))
	if err != nil {
		t.Fatalf("diamond is not an error: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "C", "D"}, res.IDs()); diff != "" {
		t.Fatalf("triggered (-want +got):\n%s", diff)
	}
	if res.Triggered[3].Parent != "B" || res.Triggered[3].Depth != 2 {
		t.Fatalf("D reached via %q at depth %d", res.Triggered[3].Parent, res.Triggered[3].Depth)
	}
}

func TestExpand_RuntimeCycle(t *testing.T) {
	e := newEngine(t, chain("A", "B"), 4)
	// Bypass Register to plant a cycle that static validation would refuse.
	e.relations["B"] = append(e.relations["B"], Node{Event: "A", Type: events.Immediate})

	res, err := e.Expand(Request{Root: "A", Rand: &rng.Fixed{}}, metrics.MustModel().Defaults(1))
	var ce *CascadeError
	if !errors.As(err, &ce) || ce.Reason != ReasonCycle {
		t.Fatalf("expected cycle CascadeError, got %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "A"}, ce.Path); diff != "" {
		t.Fatalf("cycle path (-want +got):\n%s", diff)
	}
	if !res.CycleDetected || len(res.Triggered) != 2 {
		t.Fatalf("partial result: %+v", res)
	}
}

func TestRegister_RefusesCycle(t *testing.T) {
	e := newEngine(t, chain("A", "B", "C"), 4)
	err := e.Register("C", Node{Event: "A", Type: events.Immediate})
	var ce *CascadeError
	if !errors.As(err, &ce) || ce.Reason != ReasonCycle {
		t.Fatalf("expected cycle refusal, got %v", err)
	}
	if len(e.Children("C")) != 0 {
		t.Fatalf("refused edge was registered")
	}
	if err := e.Register("A", Node{Event: "ghost", Type: events.Immediate}); !errors.Is(err, events.ErrUnknownEvent) {
		t.Fatalf("expected unknown event, got %v", err)
	}
}

func TestExpand_ConditionalSeesRunningSnapshot(t *testing.T) {
	evs := []events.Event{
		{
			ID: "A", Kind: events.KindRandom,
			Effects: []metrics.Effect{{Metric: metrics.Reputation, Formula: metrics.Scalar(30)}},
			Cascades: []events.Link{
				{Event: "B", Type: events.Conditional, Condition: cond(t, "Reputation >= 75")},
				{Event: "C", Type: events.Conditional, Condition: cond(t, "Reputation < 75")},
			},
		},
		{ID: "B", Kind: events.KindCascade},
		{ID: "C", Kind: events.KindCascade},
	}
	e := newEngine(t, evs, 4)
	res, err := e.Expand(Request{Root: "A", Rand: &rng.Fixed{}}, metrics.MustModel().Defaults(1))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, res.IDs()); diff != "" {
		t.Fatalf("triggered (-want +got):\n%s", diff)
	}
}

func TestExpand_Probabilistic(t *testing.T) {
	evs := []events.Event{
		{ID: "A", Kind: events.KindRandom, Cascades: []events.Link{
			{Event: "B", Type: events.Probabilistic, Probability: 0.5},
			{Event: "C", Type: events.Probabilistic, Probability: 0.5},
		}},
		{ID: "B", Kind: events.KindCascade},
		{ID: "C", Kind: events.KindCascade},
	}
	e := newEngine(t, evs, 4)
	src := &rng.Fixed{Values: []float64{0.7, 0.2}}
	res, err := e.Expand(Request{Root: "A", Rand: src}, metrics.MustModel().Defaults(1))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "C"}, res.IDs()); diff != "" {
		t.Fatalf("triggered (-want +got):\n%s", diff)
	}
}

func TestExpand_ImpactFactor(t *testing.T) {
	evs := []events.Event{
		{ID: "A", Kind: events.KindRandom, Effects: money(-100), Cascades: []events.Link{{Event: "B", Type: events.Immediate, Impact: 2}}},
		{ID: "B", Kind: events.KindCascade, Effects: money(-100), Cascades: []events.Link{{Event: "C", Type: events.Immediate}}},
		{ID: "C", Kind: events.KindCascade, Effects: money(-100)},
	}
	e := newEngine(t, evs, 4)
	res, err := e.Expand(Request{Root: "A", Factor: 0.5, Rand: &rng.Fixed{}}, metrics.MustModel().Defaults(1))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []float64{-50, -200, -100}
	for i, tr := range res.Triggered {
		if got := tr.Deltas[metrics.Money]; got != want[i] {
			t.Fatalf("%s money delta = %v, want %v", tr.Event, got, want[i])
		}
	}
}

func TestExpand_TerminalStops(t *testing.T) {
	evs := []events.Event{
		{ID: "A", Kind: events.KindRandom, Cascades: []events.Link{{Event: "B", Type: events.Immediate}}},
		{ID: "B", Kind: events.KindCascade, Terminal: "InspectionFailure", Cascades: []events.Link{{Event: "C", Type: events.Immediate}}},
		{ID: "C", Kind: events.KindCascade},
	}
	e := newEngine(t, evs, 4)
	res, err := e.Expand(Request{Root: "A", Rand: &rng.Fixed{}}, metrics.MustModel().Defaults(1))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if res.Terminal != "InspectionFailure" {
		t.Fatalf("terminal = %q", res.Terminal)
	}
	if diff := cmp.Diff([]string{"A", "B"}, res.IDs()); diff != "" {
		t.Fatalf("triggered (-want +got):\n%s", diff)
	}
}

func TestExpand_ChoiceOverride(t *testing.T) {
	evs := []events.Event{{
		ID: "A", Kind: events.KindRandom, DefaultChoice: "ignore",
		Choices: []events.Choice{
			{ID: "ignore", Effects: money(-10)},
			{ID: "pay", Effects: money(-500)},
		},
	}}
	e := newEngine(t, evs, 4)
	s := metrics.MustModel().Defaults(1)

	res, _ := e.Expand(Request{Root: "A", Rand: &rng.Fixed{}}, s)
	if res.Triggered[0].Choice != "ignore" || res.Impact[metrics.Money] != -10 {
		t.Fatalf("default choice: %+v", res.Triggered[0])
	}
	res, _ = e.Expand(Request{Root: "A", Choices: map[string]string{"A": "pay"}, Rand: &rng.Fixed{}}, s)
	if res.Triggered[0].Choice != "pay" || res.Impact[metrics.Money] != -500 {
		t.Fatalf("override choice: %+v", res.Triggered[0])
	}
}

func TestValidate_TradeoffsAndCascades(t *testing.T) {
	reg, err := events.NewRegistry(chain("A", "B"), 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tr, err := metrics.NewTradeoffs([]metrics.Edge{{Source: metrics.Facility, Target: metrics.StaffFatigue, Impact: 0.2}})
	if err != nil {
		t.Fatalf("NewTradeoffs: %v", err)
	}
	if err := Validate(reg, tr); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	reg, _ = events.NewRegistry([]events.Event{
		{ID: "A", Cascades: []events.Link{{Event: "B", Type: events.Immediate}}},
		{ID: "B", Cascades: []events.Link{{Event: "A", Type: events.Delayed, Delay: 1}}},
	}, 0)
	var ce *CascadeError
	if err := Validate(reg, tr); !errors.As(err, &ce) || ce.Reason != ReasonCycle {
		t.Fatalf("expected cycle, got %v", err)
	}
}

func TestCheckCascadeCycle(t *testing.T) {
	if err := CheckCascadeCycle([]string{"a", "b", "c"}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	err := CheckCascadeCycle([]string{"a", "b", "c", "b"})
	var ce *CascadeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CascadeError, got %v", err)
	}
	if diff := cmp.Diff([]string{"b", "c", "b"}, ce.Path); diff != "" {
		t.Fatalf("path (-want +got):\n%s", diff)
	}
}

func TestPending_ReadyAndEnqueuePending(t *testing.T) {
	s := metrics.MustModel().Defaults(1)
	p := PendingEvent{EventID: "X", ActivationTurn: 3, Condition: "Facility < 20", Probability: 0.5}
	ok, err := p.Ready(s, 3, &rng.Fixed{Values: []float64{0}})
	if err != nil || ok {
		t.Fatalf("predicate should block: %v %v", ok, err)
	}
	p.Condition = "day >= 3"
	if ok, _ := p.Ready(s, 3, &rng.Fixed{Values: []float64{0.4}}); !ok {
		t.Fatalf("draw 0.4 < 0.5 should activate")
	}
	if ok, _ := p.Ready(s, 3, &rng.Fixed{Values: []float64{0.6}}); ok {
		t.Fatalf("draw 0.6 should not activate")
	}

	q, dropped := EnqueuePending(nil, []PendingEvent{{EventID: "b", ActivationTurn: 9}, {EventID: "a", ActivationTurn: 4}, {EventID: "c", ActivationTurn: 1}}, 2)
	if len(q) != 2 || q[0].EventID != "a" || q[1].EventID != "b" {
		t.Fatalf("queue = %+v", q)
	}
	if len(dropped) != 1 || dropped[0].EventID != "c" {
		t.Fatalf("dropped = %+v", dropped)
	}
}
