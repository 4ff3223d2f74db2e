// Package kernel drives a campaign one day at a time: player actions, the
// daily trading step, jitter, events and their cascades, alerts and the
// terminal checks.
package kernel

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"shopkeep.ai/internal/persistence/snapshot"
	"shopkeep.ai/internal/sim/budget"
	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/config"
	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/resolver"
	"shopkeep.ai/internal/sim/rng"
	"shopkeep.ai/internal/sim/tuning"
)

var (
	ErrTerminal      = errors.New("campaign has ended")
	ErrUnknownAction = errors.New("unknown action")
	ErrActionLocked  = errors.New("action not unlocked yet")
)

// Kernel is stateless apart from the configuration it was built with. All
// campaign state lives in GameState values.
type Kernel struct {
	cfg    *config.Registry
	eval   *events.Evaluator
	engine *cascade.Engine
	res    *resolver.Resolver
}

func New(cfg *config.Registry) (*Kernel, error) {
	s := cfg.Settings()
	engine, err := cascade.NewEngine(cfg.Events(), cfg.Model(), cfg.Tradeoffs(), s.MaxCascadeDepth)
	if err != nil {
		return nil, &config.ConfigError{Source: "events", Err: err}
	}
	return &Kernel{
		cfg:    cfg,
		eval:   events.NewEvaluator(cfg.Events()),
		engine: engine,
		res:    resolver.New(cfg.Model(), s.Modifiers()),
	}, nil
}

// Reload returns a kernel over cfg. States created under the old
// configuration keep working; call it between turns only.
func (k *Kernel) Reload(cfg *config.Registry) (*Kernel, error) { return New(cfg) }

func (k *Kernel) Config() *config.Registry { return k.cfg }

// CampaignOptions start a campaign. An empty ID gets a random UUID; Start
// overrides individual starting metrics by name.
type CampaignOptions struct {
	ID    string
	Seed  int64
	Start map[string]float64
}

func (k *Kernel) BeginCampaign(opts CampaignOptions) (GameState, error) {
	s, err := k.cfg.Model().FromValues(1, opts.Start)
	if err != nil {
		return GameState{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	} else if !snapshot.ValidCampaignID(id) {
		return GameState{}, fmt.Errorf("begin: %w %q", snapshot.ErrCampaignID, id)
	}
	return GameState{
		CampaignID:   id,
		Seed:         opts.Seed,
		Day:          1,
		Snapshot:     s,
		DayStart:     s,
		Plan:         budget.New(k.cfg.Settings().Budget(), 1),
		Cooldowns:    events.Cooldowns{},
		ConfigDigest: k.cfg.Digest(),
	}, nil
}

// IsTerminal reports why the campaign ended, if it has.
func (k *Kernel) IsTerminal(st GameState) (TerminalReason, bool) {
	return st.Terminal, st.Terminal != ""
}

type ActionOption struct {
	Kind        string  `json:"kind"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Probability float64 `json:"probability"`
}

type ActionList struct {
	Day       int            `json:"day"`
	Remaining int            `json:"remaining"`
	Actions   []ActionOption `json:"actions"`
}

// ListActions returns the actions unlocked today with their current success
// probability. Actions is empty once the budget is spent or the campaign is
// over.
func (k *Kernel) ListActions(st GameState) ActionList {
	out := ActionList{Day: st.Day, Remaining: st.Plan.Remaining()}
	if st.Terminal != "" || out.Remaining == 0 {
		return out
	}
	mods := k.res.Modifiers()
	for _, a := range k.cfg.Actions() {
		if !a.Unlocked(st.Day) {
			continue
		}
		out.Actions = append(out.Actions, ActionOption{
			Kind:        a.Kind,
			Label:       a.Label,
			Description: a.Description,
			Probability: mods.Probability(a.BaseProbability, st.Snapshot).Final,
		})
	}
	return out
}

// Params tune one action. Quantity scales the resource cost; zero means 1.
type Params struct {
	Quantity float64 `json:"quantity,omitempty"`
}

type Alert struct {
	Metric string  `json:"metric"`
	Key    string  `json:"key"`
	Level  float64 `json:"level"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

type TurnReport struct {
	Day         int                `json:"day"`
	Action      string             `json:"action"`
	Quantity    float64            `json:"quantity"`
	Outcome     resolver.Outcome   `json:"outcome"`
	Roll        float64            `json:"roll"`
	Probability resolver.Breakdown `json:"probability"`
	Deltas      metrics.Deltas     `json:"deltas"`
	Snapshot    metrics.Snapshot   `json:"snapshot"`
	Remaining   int                `json:"remaining"`
	Alerts      []Alert            `json:"alerts,omitempty"`
	Terminal    TerminalReason     `json:"terminal,omitempty"`
}

// ApplyAction spends one slot on kind. On any error st is returned as it was
// and nothing is recorded.
func (k *Kernel) ApplyAction(st GameState, kind string, p Params) (GameState, TurnReport, error) {
	if st.Terminal != "" {
		return st, TurnReport{}, fmt.Errorf("%w: %s", ErrTerminal, st.Terminal)
	}
	a, ok := k.cfg.Action(kind)
	if !ok {
		return st, TurnReport{}, fmt.Errorf("%w %q", ErrUnknownAction, kind)
	}
	if !a.Unlocked(st.Day) {
		return st, TurnReport{}, fmt.Errorf("%s: %w (day %d)", kind, ErrActionLocked, a.UnlockDay)
	}
	plan, err := st.Plan.Consume(kind)
	if err != nil {
		return st, TurnReport{}, err
	}
	qty := p.Quantity
	if qty == 0 {
		qty = 1
	}

	src := rng.For(st.Seed, st.Day, fmt.Sprintf("action:%d", st.Plan.Used()+1))
	r, err := k.res.Resolve(a, qty, st.Snapshot, src)
	if err != nil {
		return st, TurnReport{}, err
	}
	next, err := k.apply(st.Snapshot, r.Deltas)
	if err != nil {
		return st, TurnReport{}, fmt.Errorf("%s: %w", kind, err)
	}

	out := st.clone()
	out.Plan = plan
	out.Snapshot = next
	applied := st.Snapshot.Diff(next)
	out.record(HistoryEntry{Kind: EntryAction, Action: kind, Outcome: string(r.Outcome), Deltas: applied})
	alerts := k.alerts(st.Snapshot, next)
	for _, a := range alerts {
		out.record(HistoryEntry{Kind: EntryWarning, Note: a.Key})
	}

	rep := TurnReport{
		Day:         st.Day,
		Action:      kind,
		Quantity:    qty,
		Outcome:     r.Outcome,
		Roll:        r.Roll,
		Probability: r.Probability,
		Deltas:      applied,
		Snapshot:    next,
		Remaining:   plan.Remaining(),
		Alerts:      alerts,
	}
	if reason := k.metricTerminal(next); reason != "" {
		out.Terminal = reason
		out.record(HistoryEntry{Kind: EntryTerminal, Note: string(reason)})
		rep.Terminal = reason
	}
	return out, rep, nil
}

// apply runs raw deltas through the tradeoff graph and the model, and checks
// the result before anyone sees it.
func (k *Kernel) apply(s metrics.Snapshot, raw metrics.Deltas) (metrics.Snapshot, error) {
	next, err := k.cfg.Model().Apply(s, k.cfg.Tradeoffs().Propagate(raw))
	if err != nil {
		return s, err
	}
	if err := k.cfg.Model().Check(next); err != nil {
		return s, err
	}
	return next, nil
}

func (k *Kernel) alerts(before, after metrics.Snapshot) []Alert {
	var out []Alert
	for _, th := range k.cfg.Thresholds() {
		b, a := before.Get(th.Metric), after.Get(th.Metric)
		if th.Crossed(b, a) {
			out = append(out, Alert{Metric: th.Metric.String(), Key: th.Key(), Level: th.Value, Before: b, After: a})
		}
	}
	return out
}

// metricTerminal checks the predicates that depend only on metrics.
func (k *Kernel) metricTerminal(s metrics.Snapshot) TerminalReason {
	set := k.cfg.Settings()
	switch {
	case s.Get(metrics.Money) <= set.BankruptcyMoney:
		return Bankruptcy
	case s.Get(metrics.Reputation) <= set.ReputationCollapse:
		return ReputationCollapse
	}
	return ""
}

// Action looks up an action row by kind.
func (k *Kernel) Action(kind string) (tuning.Action, bool) { return k.cfg.Action(kind) }
