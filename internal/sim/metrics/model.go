package metrics

import (
	"errors"
	"fmt"
	"math"
)

// seesawEpsilon bounds float error on Happiness + Suffering.
const seesawEpsilon = 1e-9

// Range is the allowed interval and starting value of a metric. Max may be
// +Inf for metrics that are unbounded above.
type Range struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

func (r Range) Unbounded() bool { return math.IsInf(r.Max, 1) }

// Span is the width used to scale stochastic jitter. Unbounded metrics use
// their default as the reference magnitude.
func (r Range) Span() float64 {
	if r.Unbounded() {
		return math.Max(math.Abs(r.Default), 1)
	}
	return r.Max - r.Min
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// DefaultRanges is the shipped range table, used for any metric the
// configuration does not mention.
func DefaultRanges() map[Metric]Range {
	return map[Metric]Range{
		Money:        {Min: 0, Max: math.Inf(1), Default: 10000},
		Reputation:   {Min: 0, Max: 100, Default: 50},
		Happiness:    {Min: 0, Max: 100, Default: 60},
		Suffering:    {Min: 0, Max: 100, Default: 40},
		Inventory:    {Min: 0, Max: 100, Default: 60},
		StaffFatigue: {Min: 0, Max: 100, Default: 20},
		Facility:     {Min: 0, Max: 100, Default: 70},
		Demand:       {Min: 0, Max: 100, Default: 50},
	}
}

// Model applies deltas under the range and seesaw invariants. It holds no
// mutable state.
type Model struct {
	ranges [numMetrics]Range
}

// NewModel validates a range table. Metrics missing from ranges take the
// shipped default.
func NewModel(ranges map[Metric]Range) (*Model, error) {
	m := &Model{}
	defaults := DefaultRanges()
	for _, metric := range All() {
		r, ok := ranges[metric]
		if !ok {
			r = defaults[metric]
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsNaN(r.Default) || math.IsInf(r.Min, 0) {
			return nil, fmt.Errorf("range %s: non-finite bound", metric)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("range %s: min %v > max %v", metric, r.Min, r.Max)
		}
		if !r.Contains(r.Default) {
			return nil, fmt.Errorf("range %s: default %v outside [%v, %v]", metric, r.Default, r.Min, r.Max)
		}
		m.ranges[metric] = r
	}
	if m.ranges[Money].Min < 0 {
		return nil, fmt.Errorf("range Money: min must be >= 0, got %v", m.ranges[Money].Min)
	}
	h, s := m.ranges[Happiness], m.ranges[Suffering]
	if h.Min+s.Max != SeesawTotal || h.Max+s.Min != SeesawTotal {
		return nil, fmt.Errorf("ranges Happiness/Suffering must be complementary around %v", SeesawTotal)
	}
	return m, nil
}

// MustModel is NewModel for the shipped defaults.
func MustModel() *Model {
	m, err := NewModel(DefaultRanges())
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Model) Range(metric Metric) Range { return m.ranges[metric] }

// Clamp projects v into the metric's range. Money's lower bound is a hard
// floor regardless of magnitude; NaN collapses to the floor.
func (m *Model) Clamp(metric Metric, v float64) float64 {
	r := m.ranges[metric]
	if math.IsNaN(v) || v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Defaults returns the starting snapshot.
func (m *Model) Defaults(turn int) Snapshot {
	s := Snapshot{turn: turn}
	for _, metric := range All() {
		s.values[metric] = m.ranges[metric].Default
	}
	return m.normalize(s, Happiness)
}

// FromValues overlays named values on the defaults. Unknown names fail;
// missing names keep their default.
func (m *Model) FromValues(turn int, values map[string]float64) (Snapshot, error) {
	s := m.Defaults(turn)
	leader := Happiness
	_, hasH := values[Happiness.String()]
	_, hasS := values[Suffering.String()]
	if hasS && !hasH {
		leader = Suffering
	}
	for name, v := range values {
		metric, err := ParseMetric(name)
		if err != nil {
			return Snapshot{}, err
		}
		if math.IsNaN(v) || math.IsInf(v, -1) {
			return Snapshot{}, &MetricError{Metric: name, Err: errors.New("non-finite value")}
		}
		s.values[metric] = v
	}
	return m.normalize(s, leader), nil
}

// Apply adds deltas coordinate-wise, clamps, then rebalances the seesaw.
// A Happiness entry wins over a Suffering entry in the same set.
func (m *Model) Apply(s Snapshot, d Deltas) (Snapshot, error) {
	if len(d) == 0 {
		return s, nil
	}
	out := s
	for metric, v := range d {
		if !metric.Valid() {
			return s, &MetricError{Metric: metric.String(), Err: ErrUnknownMetric}
		}
		if math.IsNaN(v) {
			return s, &MetricError{Metric: metric.String(), Err: errors.New("delta is NaN")}
		}
		out.values[metric] = m.Clamp(metric, out.values[metric]+v)
	}
	leader := Happiness
	_, hasH := d[Happiness]
	_, hasS := d[Suffering]
	if hasS && !hasH {
		leader = Suffering
	}
	return m.normalize(out, leader), nil
}

// Set assigns an absolute value through the same rules as Apply.
func (m *Model) Set(s Snapshot, metric Metric, v float64) (Snapshot, error) {
	if !metric.Valid() {
		return s, &MetricError{Metric: metric.String(), Err: ErrUnknownMetric}
	}
	return m.Apply(s, Deltas{metric: v - s.values[metric]})
}

// normalize clamps every metric and derives the follower side of the seesaw
// from the leader.
func (m *Model) normalize(s Snapshot, leader Metric) Snapshot {
	for _, metric := range All() {
		s.values[metric] = m.Clamp(metric, s.values[metric])
	}
	follower := Suffering
	if leader == Suffering {
		follower = Happiness
	}
	s.values[follower] = m.Clamp(follower, SeesawTotal-s.values[leader])
	return s
}

// Check verifies every invariant on s.
func (m *Model) Check(s Snapshot) error {
	for _, metric := range All() {
		v := s.values[metric]
		if !m.ranges[metric].Contains(v) {
			return fmt.Errorf("%s=%v outside [%v, %v]", metric, v, m.ranges[metric].Min, m.ranges[metric].Max)
		}
	}
	if sum := s.values[Happiness] + s.values[Suffering]; math.Abs(sum-SeesawTotal) > seesawEpsilon {
		return fmt.Errorf("Happiness+Suffering=%v, want %v", sum, SeesawTotal)
	}
	return nil
}

// ApplyPercentage returns value × (1 + pct/100).
func ApplyPercentage(value, pct float64) float64 {
	return value * (1 + pct/100)
}

// EvaluateFormula returns the delta f produces for the current value.
func (m *Model) EvaluateFormula(f Formula, value float64) (float64, error) {
	return f.Delta(value)
}

// Evaluate turns an effect list into deltas against s, scaling every delta
// by factor. Effects on the same metric accumulate, each seeing the value
// before the whole list.
func (m *Model) Evaluate(effects []Effect, s Snapshot, factor float64) (Deltas, error) {
	out := Deltas{}
	for _, e := range effects {
		if !e.Metric.Valid() {
			return nil, &MetricError{Metric: e.Metric.String(), Err: ErrUnknownMetric}
		}
		d, err := e.Formula.Delta(s.Get(e.Metric))
		if err != nil {
			return nil, &MetricError{Metric: e.Metric.String(), Formula: e.Formula.String(), Err: err}
		}
		out[e.Metric] += d * factor
	}
	return out, nil
}
