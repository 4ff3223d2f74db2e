// Package resolver turns a player action into an outcome and a delta set.
package resolver

import (
	"errors"
	"fmt"
	"math"

	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/rng"
	"shopkeep.ai/internal/sim/tuning"
)

type Outcome string

const (
	CriticalSuccess Outcome = "critical_success"
	Success         Outcome = "success"
	Failure         Outcome = "failure"
	CriticalFailure Outcome = "critical_failure"
)

func (o Outcome) Succeeded() bool { return o == Success || o == CriticalSuccess }

func (o Outcome) Critical() bool { return o == CriticalSuccess || o == CriticalFailure }

// Modifiers are the situational adjustments to an action's base probability
// and the shape of the critical tails.
type Modifiers struct {
	HappinessBonus   float64
	SufferingPenalty float64
	SufferingFloor   float64
	ReputationBonus  float64
	LowCashThreshold float64
	LowCashPenalty   float64

	ProbMin float64
	ProbMax float64

	// CritSuccessBand is the share of the success band, from r = 0, that is
	// critical. CritFailureBand is the share of the failure band, from
	// r = 1 down, that is critical.
	CritSuccessBand float64
	CritFailureBand float64
}

// Breakdown itemises how a final probability was reached.
type Breakdown struct {
	Base       float64 `json:"base"`
	Happiness  float64 `json:"happiness"`
	Suffering  float64 `json:"suffering"`
	Reputation float64 `json:"reputation"`
	Liquidity  float64 `json:"liquidity"`
	Final      float64 `json:"final"`
}

// Probability applies the modifiers to base against s and clamps to
// [ProbMin, ProbMax].
func (m Modifiers) Probability(base float64, s metrics.Snapshot) Breakdown {
	b := Breakdown{
		Base:       base,
		Happiness:  m.HappinessBonus * (s.Get(metrics.Happiness) - 50),
		Suffering:  -m.SufferingPenalty * math.Max(0, s.Get(metrics.Suffering)-m.SufferingFloor),
		Reputation: m.ReputationBonus * (s.Get(metrics.Reputation) - 50),
	}
	if s.Get(metrics.Money) < m.LowCashThreshold {
		b.Liquidity = -m.LowCashPenalty
	}
	p := b.Base + b.Happiness + b.Suffering + b.Reputation + b.Liquidity
	b.Final = math.Min(m.ProbMax, math.Max(m.ProbMin, p))
	return b
}

// Classify maps a draw r in [0,1) to an outcome for success probability p.
func (m Modifiers) Classify(r, p float64) Outcome {
	if r < p {
		if r < m.CritSuccessBand*p {
			return CriticalSuccess
		}
		return Success
	}
	if r >= p+(1-m.CritFailureBand)*(1-p) {
		return CriticalFailure
	}
	return Failure
}

var ErrQuantity = errors.New("quantity must be positive")

// Resolution is the result of one action. Deltas is Cost plus Effects, raw:
// tradeoff propagation and clamping happen when it is applied.
type Resolution struct {
	Kind        string         `json:"kind"`
	Quantity    float64        `json:"quantity"`
	Outcome     Outcome        `json:"outcome"`
	Roll        float64        `json:"roll"`
	Probability Breakdown      `json:"probability"`
	Cost        metrics.Deltas `json:"cost,omitempty"`
	Effects     metrics.Deltas `json:"effects,omitempty"`
	Deltas      metrics.Deltas `json:"deltas,omitempty"`
}

type Resolver struct {
	model *metrics.Model
	mods  Modifiers
}

func New(model *metrics.Model, mods Modifiers) *Resolver {
	return &Resolver{model: model, mods: mods}
}

func (r *Resolver) Modifiers() Modifiers { return r.mods }

// Resolve draws once from src. The cost applies whatever the outcome and is
// scaled by qty; the outcome table is evaluated against s as it was before
// the action.
func (r *Resolver) Resolve(a tuning.Action, qty float64, s metrics.Snapshot, src rng.Source) (Resolution, error) {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return Resolution{}, fmt.Errorf("%s: %w, got %v", a.Kind, ErrQuantity, qty)
	}
	res := Resolution{Kind: a.Kind, Quantity: qty}
	res.Probability = r.mods.Probability(a.BaseProbability, s)
	res.Roll = src.Float64()
	res.Outcome = r.mods.Classify(res.Roll, res.Probability.Final)

	var err error
	if res.Cost, err = r.model.Evaluate(a.Cost, s, qty); err != nil {
		return Resolution{}, fmt.Errorf("%s cost: %w", a.Kind, err)
	}
	if res.Effects, err = r.model.Evaluate(Table(a, res.Outcome), s, 1); err != nil {
		return Resolution{}, fmt.Errorf("%s %s: %w", a.Kind, res.Outcome, err)
	}
	res.Deltas = res.Cost.Add(res.Effects)
	return res, nil
}

// Table returns the effect list for an outcome. An empty critical table
// falls back to the plain one.
func Table(a tuning.Action, o Outcome) []metrics.Effect {
	switch o {
	case CriticalSuccess:
		if len(a.CriticalSuccess) > 0 {
			return a.CriticalSuccess
		}
		return a.Success
	case Success:
		return a.Success
	case CriticalFailure:
		if len(a.CriticalFailure) > 0 {
			return a.CriticalFailure
		}
		return a.Failure
	}
	return a.Failure
}
