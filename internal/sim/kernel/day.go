package kernel

import (
	"errors"
	"fmt"
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
)

// DayOptions steer the event phase. Choices picks an alternative per event
// id; events left out use their default choice.
type DayOptions struct {
	Choices map[string]string
}

type BusinessReport struct {
	Seasonal  float64        `json:"seasonal"`
	Customers int            `json:"customers"`
	Served    int            `json:"served"`
	Unmet     int            `json:"unmet"`
	Revenue   float64        `json:"revenue"`
	Deltas    metrics.Deltas `json:"deltas"`
}

// EventReport is one root event and everything it set off.
type EventReport struct {
	Event         string                 `json:"event"`
	Category      string                 `json:"category"`
	Triggered     []cascade.Triggered    `json:"triggered"`
	Scheduled     []cascade.PendingEvent `json:"scheduled,omitempty"`
	Impact        metrics.Deltas         `json:"impact"`
	MaxDepth      int                    `json:"max_depth"`
	Truncated     bool                   `json:"truncated,omitempty"`
	CycleDetected bool                   `json:"cycle_detected,omitempty"`
	Terminal      string                 `json:"terminal,omitempty"`
}

type DayReport struct {
	Day      int                    `json:"day"`
	Business BusinessReport         `json:"business"`
	Jitter   metrics.Deltas         `json:"jitter,omitempty"`
	Events   []EventReport          `json:"events,omitempty"`
	Absorbed []EventReport          `json:"absorbed,omitempty"`
	Expired  []cascade.PendingEvent `json:"expired,omitempty"`
	Alerts   []Alert                `json:"alerts,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	// Deltas is the net change over the whole day, actions included.
	Deltas   metrics.Deltas   `json:"deltas"`
	Snapshot metrics.Snapshot `json:"snapshot"`
	Terminal TerminalReason   `json:"terminal,omitempty"`
}

// EndDay closes the day in progress: trading, jitter, events with their
// cascades, due pending events, alerts and terminal checks. Unless the
// campaign ends, the returned state is the next day with a fresh plan. On
// error st is returned untouched.
func (k *Kernel) EndDay(st GameState, opts DayOptions) (GameState, DayReport, error) {
	if st.Terminal != "" {
		return st, DayReport{}, fmt.Errorf("%w: %s", ErrTerminal, st.Terminal)
	}
	out := st.clone()
	rep := DayReport{Day: st.Day}

	if err := k.businessPhase(&out, &rep); err != nil {
		return st, DayReport{}, err
	}
	if err := k.jitterPhase(&out, &rep); err != nil {
		return st, DayReport{}, err
	}
	terminal, err := k.eventPhase(&out, &rep, opts)
	if err != nil {
		return st, DayReport{}, err
	}
	if terminal == "" {
		if terminal, err = k.pendingPhase(&out, &rep, opts); err != nil {
			return st, DayReport{}, err
		}
	}
	if err := k.cfg.Model().Check(out.Snapshot); err != nil {
		return st, DayReport{}, fmt.Errorf("day %d: %w", st.Day, err)
	}

	// Crossings caused by the day's actions were already reported per turn.
	rep.Alerts = k.alerts(st.Snapshot, out.Snapshot)
	for _, a := range rep.Alerts {
		out.record(HistoryEntry{Kind: EntryWarning, Note: a.Key})
	}
	for _, w := range rep.Warnings {
		out.record(HistoryEntry{Kind: EntryWarning, Note: w})
	}

	if terminal == "" {
		terminal = k.metricTerminal(out.Snapshot)
	}
	if terminal == "" && out.Day >= k.cfg.Settings().CampaignDays {
		terminal = CampaignComplete
	}
	rep.Deltas = out.DayStart.Diff(out.Snapshot)
	rep.Snapshot = out.Snapshot
	if terminal != "" {
		out.Terminal = terminal
		rep.Terminal = terminal
		out.record(HistoryEntry{Kind: EntryTerminal, Note: string(terminal)})
		return out, rep, nil
	}

	out.Day++
	out.Plan = out.Plan.Rollover(k.cfg.Settings().Budget())
	out.Snapshot = out.Snapshot.WithTurn(out.Day)
	out.DayStart = out.Snapshot
	return out, rep, nil
}

// businessPhase serves the day's customers. Demand follows a seasonal curve
// from simplex noise seeded by the campaign, times a uniform daily factor.
func (k *Kernel) businessPhase(st *GameState, rep *DayReport) error {
	b := k.cfg.Settings().Business
	s := st.Snapshot

	seasonal := 1.0
	if b.DemandNoisePeriod > 0 {
		n := opensimplex.NewNormalized(st.Seed).Eval2(float64(st.Day)/b.DemandNoisePeriod, 0)
		seasonal = 1 + b.DemandNoiseAmplitude*(2*n-1)
	}
	u := rng.For(st.Seed, st.Day, "business").Uniform(0.8, 1.2)
	customers := int(math.Max(0, math.Floor(s.Get(metrics.Demand)*b.CustomersPerDemand*seasonal*u)))
	served := customers
	if b.InventoryPerCustomer > 0 {
		if capacity := int(math.Floor(s.Get(metrics.Inventory) / b.InventoryPerCustomer)); capacity < served {
			served = capacity
		}
	}
	unmet := customers - served
	revenue := float64(served) * b.PricePerCustomer

	raw := metrics.Deltas{
		metrics.Money:        revenue - b.DailyFixedCost,
		metrics.Inventory:    -float64(served) * b.InventoryPerCustomer,
		metrics.StaffFatigue: float64(served)*b.FatiguePerCustomer - b.FatigueRecovery,
	}
	if unmet > 0 {
		raw[metrics.Reputation] = -float64(unmet) * b.UnmetDemandReputation
	}
	next, err := k.apply(s, raw)
	if err != nil {
		return fmt.Errorf("business day %d: %w", st.Day, err)
	}
	applied := s.Diff(next)
	st.Snapshot = next
	st.record(HistoryEntry{Kind: EntryBusiness, Deltas: applied, Note: fmt.Sprintf("served %d of %d", served, customers)})
	rep.Business = BusinessReport{
		Seasonal:  seasonal,
		Customers: customers,
		Served:    served,
		Unmet:     unmet,
		Revenue:   revenue,
		Deltas:    applied,
	}
	return nil
}

// jitterPhase nudges every non-seesaw metric by its uncertainty weight. One
// draw is taken per metric whether or not its weight is zero, and the
// result does not flow through the tradeoff graph.
func (k *Kernel) jitterPhase(st *GameState, rep *DayReport) error {
	set := k.cfg.Settings()
	if !set.JitterEnabled || set.JitterScale == 0 {
		return nil
	}
	src := rng.For(st.Seed, st.Day, "jitter")
	raw := metrics.Deltas{}
	for _, m := range metrics.All() {
		if m == metrics.Happiness || m == metrics.Suffering {
			continue
		}
		u := src.Uniform(-1, 1)
		if w := k.cfg.Uncertainty(m); w > 0 {
			raw[m] = u * w * k.cfg.Model().Range(m).Span() * set.JitterScale
		}
	}
	next, err := k.cfg.Model().Apply(st.Snapshot, raw)
	if err != nil {
		return fmt.Errorf("jitter day %d: %w", st.Day, err)
	}
	applied := st.Snapshot.Diff(next)
	st.Snapshot = next
	if len(applied) > 0 {
		st.record(HistoryEntry{Kind: EntryJitter, Deltas: applied})
		rep.Jitter = applied
	}
	return nil
}

// eventPhase fires up to MaxEventsPerDay eligible events in evaluator order.
// An event that already fired today, as a root or inside a cascade, is not
// fired again.
func (k *Kernel) eventPhase(st *GameState, rep *DayReport, opts DayOptions) (TerminalReason, error) {
	cands, err := k.eval.Evaluate(st.Snapshot, st.Day, st.Cooldowns, rng.For(st.Seed, st.Day, "events"))
	if err != nil {
		return "", fmt.Errorf("events day %d: %w", st.Day, err)
	}
	fired := map[string]bool{}
	limit := k.cfg.Settings().MaxEventsPerDay
	for i, c := range cands {
		if len(rep.Events) >= limit {
			break
		}
		if fired[c.Event.ID] {
			continue
		}
		res, err := k.engine.Expand(cascade.Request{
			Root:    c.Event.ID,
			Day:     st.Day,
			Choices: opts.Choices,
			Rand:    rng.For(st.Seed, st.Day, fmt.Sprintf("cascade:%s:%d", c.Event.ID, i)),
		}, st.Snapshot)
		er, err := k.absorb(st, rep, res, err, "")
		if err != nil {
			return "", err
		}
		er.Category = c.Category.String()
		rep.Events = append(rep.Events, er)
		for _, t := range res.Triggered {
			fired[t.Event] = true
		}
		if res.Terminal != "" {
			return terminalFor(res.Terminal), nil
		}
	}
	return "", nil
}

// pendingPhase activates delayed children whose day has come. Each entry
// gets one chance: if its predicate or draw fails it expires.
func (k *Kernel) pendingPhase(st *GameState, rep *DayReport, opts DayOptions) (TerminalReason, error) {
	due, rest := cascade.Due(st.Pending, st.Day)
	st.Pending = rest
	for j, p := range due {
		ok, err := p.Ready(st.Snapshot, st.Day, rng.For(st.Seed, st.Day, fmt.Sprintf("pending:%d", j)))
		if err != nil {
			return "", fmt.Errorf("day %d: %w", st.Day, err)
		}
		if !ok {
			rep.Expired = append(rep.Expired, p)
			st.record(HistoryEntry{Kind: EntryExpired, Event: p.EventID, Parent: p.Source})
			continue
		}
		res, err := k.engine.Expand(cascade.Request{
			Root:    p.EventID,
			Day:     st.Day,
			Factor:  p.Impact,
			Choices: opts.Choices,
			Rand:    rng.For(st.Seed, st.Day, fmt.Sprintf("pending-cascade:%d", j)),
		}, st.Snapshot)
		er, err := k.absorb(st, rep, res, err, p.Source)
		if err != nil {
			return "", err
		}
		er.Category = "pending"
		rep.Absorbed = append(rep.Absorbed, er)
		if res.Terminal != "" {
			return terminalFor(res.Terminal), nil
		}
	}
	return "", nil
}

// absorb commits one expansion into st. A *CascadeError still commits the
// partial result and becomes a warning; any other error commits nothing.
func (k *Kernel) absorb(st *GameState, rep *DayReport, res cascade.Result, err error, source string) (EventReport, error) {
	var ce *cascade.CascadeError
	if err != nil {
		if !errors.As(err, &ce) {
			return EventReport{}, fmt.Errorf("day %d: %w", st.Day, err)
		}
		rep.Warnings = append(rep.Warnings, ce.Error())
	}
	if err := k.cfg.Model().Check(res.Snapshot); err != nil {
		return EventReport{}, fmt.Errorf("event %s day %d: %w", res.Root, st.Day, err)
	}
	st.Snapshot = res.Snapshot
	for _, t := range res.Triggered {
		parent := t.Parent
		if parent == "" {
			parent = source
		}
		st.Cooldowns.Mark(t.Event, st.Day)
		st.record(HistoryEntry{Kind: EntryEvent, Event: t.Event, Parent: parent, Depth: t.Depth, Choice: t.Choice, Deltas: t.Deltas})
	}
	queue, dropped := cascade.EnqueuePending(st.Pending, res.Scheduled, k.cfg.Settings().MaxPendingEvents)
	st.Pending = queue
	for _, p := range res.Scheduled[:len(res.Scheduled)-len(dropped)] {
		st.record(HistoryEntry{Kind: EntryScheduled, Event: p.EventID, Parent: p.Source, Note: fmt.Sprintf("day %d", p.ActivationTurn)})
	}
	for _, p := range dropped {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("pending queue full, dropped %s from %s", p.EventID, p.Source))
	}
	return EventReport{
		Event:         res.Root,
		Triggered:     res.Triggered,
		Scheduled:     res.Scheduled,
		Impact:        res.Impact,
		MaxDepth:      res.MaxDepth,
		Truncated:     res.Truncated,
		CycleDetected: res.CycleDetected,
		Terminal:      res.Terminal,
	}, nil
}

func terminalFor(s string) TerminalReason {
	if r, ok := ParseTerminalReason(s); ok {
		return r
	}
	return TerminalReason(s)
}
