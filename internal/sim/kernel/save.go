package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"shopkeep.ai/internal/persistence/snapshot"
	"shopkeep.ai/internal/sim/budget"
	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/expr"
	"shopkeep.ai/internal/sim/metrics"
)

// Record converts st to the current save record.
func Record(st GameState) snapshot.SaveV1 {
	rec := snapshot.SaveV1{
		Version:      snapshot.Version,
		CampaignID:   st.CampaignID,
		Seed:         st.Seed,
		Day:          st.Day,
		ConfigDigest: st.ConfigDigest,
		Metrics:      st.Snapshot.Values(),
		DayStart:     st.DayStart.Values(),
		History:      make([]snapshot.HistoryV1, 0, len(st.History)),
		Cooldowns:    map[string]int{},
		Pending:      make([]snapshot.PendingV1, 0, len(st.Pending)),
		Terminal:     string(st.Terminal),
	}
	plan := &snapshot.PlanV1{Day: st.Plan.Day, Count: st.Plan.Count, Slots: make([]snapshot.SlotV1, len(st.Plan.Slots))}
	for i, s := range st.Plan.Slots {
		plan.Slots[i] = snapshot.SlotV1{ID: s.ID, Consumed: s.Consumed, Kind: s.Kind, Turn: s.Turn}
	}
	rec.Plan = plan
	for _, h := range st.History {
		rec.History = append(rec.History, snapshot.HistoryV1{
			Day: h.Day, Seq: h.Seq, Kind: string(h.Kind), Action: h.Action, Outcome: h.Outcome,
			Event: h.Event, Parent: h.Parent, Depth: h.Depth, Choice: h.Choice,
			Deltas: h.Deltas.Named(), Note: h.Note,
		})
	}
	for id, day := range st.Cooldowns {
		rec.Cooldowns[id] = day
	}
	for _, p := range st.Pending {
		rec.Pending = append(rec.Pending, snapshot.PendingV1(p))
	}
	return rec
}

// Restore rebuilds a GameState from rec against the kernel's configuration.
// Fields an older record lacks fall back to their defaults. Pending events
// must name events the configuration knows.
func (k *Kernel) Restore(rec snapshot.SaveV1) (GameState, error) {
	fail := func(format string, args ...any) (GameState, error) {
		return GameState{}, &snapshot.LoadError{Err: fmt.Errorf(format, args...)}
	}
	if !snapshot.ValidCampaignID(rec.CampaignID) {
		return fail("%w %q", snapshot.ErrCampaignID, rec.CampaignID)
	}
	s, err := k.restoreSnapshot(rec.Day, rec.Metrics)
	if err != nil {
		return fail("metrics: %w", err)
	}
	st := GameState{
		CampaignID:   rec.CampaignID,
		Seed:         rec.Seed,
		Day:          rec.Day,
		Snapshot:     s,
		DayStart:     s,
		Cooldowns:    events.Cooldowns{},
		ConfigDigest: rec.ConfigDigest,
	}
	if len(rec.DayStart) > 0 {
		if st.DayStart, err = k.restoreSnapshot(rec.Day, rec.DayStart); err != nil {
			return fail("day_start: %w", err)
		}
	}
	if rec.Plan == nil {
		st.Plan = budget.New(k.cfg.Settings().Budget(), rec.Day)
	} else {
		st.Plan = budget.Plan{Day: rec.Plan.Day, Count: rec.Plan.Count, Slots: make([]budget.Slot, len(rec.Plan.Slots))}
		for i, sl := range rec.Plan.Slots {
			st.Plan.Slots[i] = budget.Slot{ID: sl.ID, Consumed: sl.Consumed, Kind: sl.Kind, Turn: sl.Turn}
		}
		if err := st.Plan.Valid(); err != nil {
			return fail("%w", err)
		}
	}
	for _, h := range rec.History {
		var d metrics.Deltas
		if len(h.Deltas) > 0 {
			if d, err = metrics.DeltasFromNamed(h.Deltas); err != nil {
				return fail("history %d: %w", h.Seq, err)
			}
		}
		st.History = append(st.History, HistoryEntry{
			Day: h.Day, Seq: h.Seq, Kind: EntryKind(h.Kind), Action: h.Action, Outcome: h.Outcome,
			Event: h.Event, Parent: h.Parent, Depth: h.Depth, Choice: h.Choice, Deltas: d, Note: h.Note,
		})
	}
	for id, day := range rec.Cooldowns {
		st.Cooldowns[id] = day
	}
	for _, p := range rec.Pending {
		if _, ok := k.cfg.Events().Get(p.EventID); !ok {
			return fail("pending %w %q", events.ErrUnknownEvent, p.EventID)
		}
		if p.Condition != "" {
			if _, err := expr.CompileCondition(p.Condition, events.ConditionSymbols); err != nil {
				return fail("pending %s: %w", p.EventID, err)
			}
		}
		st.Pending = append(st.Pending, cascade.PendingEvent(p))
	}
	sort.SliceStable(st.Pending, func(i, j int) bool { return st.Pending[i].ActivationTurn < st.Pending[j].ActivationTurn })
	if rec.Terminal != "" {
		r, ok := ParseTerminalReason(rec.Terminal)
		if !ok {
			return fail("unknown terminal reason %q", rec.Terminal)
		}
		st.Terminal = r
	}
	return st, nil
}

// restoreSnapshot overlays values on the defaults. When both sides of the
// seesaw are stored they are kept bit for bit rather than re-derived.
func (k *Kernel) restoreSnapshot(day int, values map[string]float64) (metrics.Snapshot, error) {
	s, err := k.cfg.Model().FromValues(day, values)
	if err != nil {
		return s, err
	}
	h, hok := values[metrics.Happiness.String()]
	su, sok := values[metrics.Suffering.String()]
	if !hok || !sok {
		return s, nil
	}
	vals := make(map[metrics.Metric]float64, len(metrics.All()))
	for _, m := range metrics.All() {
		vals[m] = s.Get(m)
	}
	vals[metrics.Happiness], vals[metrics.Suffering] = h, su
	exact := metrics.NewSnapshot(day, vals)
	if err := k.cfg.Model().Check(exact); err != nil {
		return s, err
	}
	return exact, nil
}

// Save encodes st in its canonical JSON form.
func (k *Kernel) Save(st GameState) ([]byte, error) {
	return snapshot.Encode(Record(st))
}

// Load decodes b and restores it. On error the caller keeps its own state.
func (k *Kernel) Load(b []byte) (GameState, error) {
	rec, err := snapshot.Decode(b)
	if err != nil {
		return GameState{}, err
	}
	return k.Restore(rec)
}

// Digest is the hex sha256 of the canonical save bytes. Two states with the
// same digest evolve identically under the same configuration.
func (k *Kernel) Digest(st GameState) (string, error) {
	b, err := k.Save(st)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
