package metrics

import (
	"encoding/json"
	"fmt"
)

// Snapshot is an immutable record of every metric at a turn. It is a plain
// value: copying it copies the data, and every operation returns a new one.
type Snapshot struct {
	turn   int
	values [numMetrics]float64
}

// NewSnapshot builds a snapshot from explicit values. Metrics not listed are
// zero; callers normally start from Model.Defaults.
func NewSnapshot(turn int, values map[Metric]float64) Snapshot {
	s := Snapshot{turn: turn}
	for m, v := range values {
		if m.Valid() {
			s.values[m] = v
		}
	}
	return s
}

func (s Snapshot) Turn() int { return s.turn }

func (s Snapshot) Get(m Metric) float64 {
	if !m.Valid() {
		return 0
	}
	return s.values[m]
}

// WithTurn returns a copy stamped with turn.
func (s Snapshot) WithTurn(turn int) Snapshot {
	s.turn = turn
	return s
}

// Values returns a name-keyed copy of all metrics.
func (s Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, numMetrics)
	for i, v := range s.values {
		out[metricNames[i]] = v
	}
	return out
}

// Vars binds every metric name for condition evaluation.
func (s Snapshot) Vars() map[string]float64 { return s.Values() }

// Diff returns the per-metric change from s to next, omitting zeros.
func (s Snapshot) Diff(next Snapshot) Deltas {
	out := Deltas{}
	for i := range s.values {
		if d := next.values[i] - s.values[i]; d != 0 {
			out[Metric(i)] = d
		}
	}
	return out
}

// Equal compares values and turn exactly.
func (s Snapshot) Equal(o Snapshot) bool { return s == o }

func (s Snapshot) String() string {
	return fmt.Sprintf("turn=%d %v", s.turn, s.Values())
}

type snapshotJSON struct {
	Turn   int                `json:"turn"`
	Values map[string]float64 `json:"values"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Turn: s.turn, Values: s.Values()})
}

// UnmarshalJSON rejects unknown metric names. Metrics absent from the record
// are left at zero; persisted state goes through Model.FromValues instead.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Snapshot{turn: raw.Turn}
	for name, v := range raw.Values {
		m, err := ParseMetric(name)
		if err != nil {
			return err
		}
		out.values[m] = v
	}
	*s = out
	return nil
}
