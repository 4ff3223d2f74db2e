// Package metrics is the single write point for shop state: typed metrics,
// immutable snapshots, range clamping, the happiness/suffering seesaw and the
// effect formula grammar.
package metrics

import (
	"encoding/json"
	"fmt"
)

type Metric uint8

const (
	Money Metric = iota
	Reputation
	Happiness
	Suffering
	Inventory
	StaffFatigue
	Facility
	Demand

	numMetrics
)

// SeesawTotal is the fixed sum of Happiness and Suffering.
const SeesawTotal = 100.0

var metricNames = [numMetrics]string{
	Money:        "Money",
	Reputation:   "Reputation",
	Happiness:    "Happiness",
	Suffering:    "Suffering",
	Inventory:    "Inventory",
	StaffFatigue: "StaffFatigue",
	Facility:     "Facility",
	Demand:       "Demand",
}

// All returns every metric in declaration order.
func All() []Metric {
	out := make([]Metric, numMetrics)
	for i := range out {
		out[i] = Metric(i)
	}
	return out
}

// Names returns every metric name in declaration order.
func Names() []string {
	return append([]string(nil), metricNames[:]...)
}

func (m Metric) String() string {
	if m < numMetrics {
		return metricNames[m]
	}
	return fmt.Sprintf("Metric(%d)", uint8(m))
}

func (m Metric) Valid() bool { return m < numMetrics }

// ParseMetric resolves a case-sensitive metric name.
func ParseMetric(name string) (Metric, error) {
	for i, n := range metricNames {
		if n == name {
			return Metric(i), nil
		}
	}
	return 0, &MetricError{Metric: name, Err: ErrUnknownMetric}
}

// IsMetricName is an expr.Symbols table for conditions over metric names.
func IsMetricName(name string) bool {
	_, err := ParseMetric(name)
	return err == nil
}

func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, &MetricError{Metric: m.String(), Err: ErrUnknownMetric}
	}
	return []byte(m.String()), nil
}

func (m *Metric) UnmarshalText(b []byte) error {
	v, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Deltas is a sparse set of per-metric changes.
type Deltas map[Metric]float64

// Clone returns an independent copy; a nil receiver clones to an empty set.
func (d Deltas) Clone() Deltas {
	out := make(Deltas, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Add accumulates o into a copy of d.
func (d Deltas) Add(o Deltas) Deltas {
	out := d.Clone()
	for k, v := range o {
		out[k] += v
	}
	return out
}

// Scale multiplies every entry by f.
func (d Deltas) Scale(f float64) Deltas {
	out := make(Deltas, len(d))
	for k, v := range d {
		out[k] = v * f
	}
	return out
}

// Named converts to a name-keyed map for reports and persistence.
func (d Deltas) Named() map[string]float64 {
	if len(d) == 0 {
		return nil
	}
	out := make(map[string]float64, len(d))
	for k, v := range d {
		out[k.String()] = v
	}
	return out
}

// DeltasFromNamed is the inverse of Named.
func DeltasFromNamed(in map[string]float64) (Deltas, error) {
	out := make(Deltas, len(in))
	for name, v := range in {
		m, err := ParseMetric(name)
		if err != nil {
			return nil, err
		}
		out[m] = v
	}
	return out, nil
}

func (d Deltas) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Named())
}

func (d *Deltas) UnmarshalJSON(b []byte) error {
	var named map[string]float64
	if err := json.Unmarshal(b, &named); err != nil {
		return err
	}
	out, err := DeltasFromNamed(named)
	if err != nil {
		return err
	}
	*d = out
	return nil
}
