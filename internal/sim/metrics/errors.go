package metrics

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMetric    = errors.New("unknown metric")
	ErrMalformedFormula = errors.New("malformed formula")
)

// MetricError is raised at apply time for unknown metrics or bad formulas.
// A turn that hits one aborts without mutating state.
type MetricError struct {
	Metric  string
	Formula string
	Err     error
}

func (e *MetricError) Error() string {
	switch {
	case e.Formula != "" && e.Metric != "":
		return fmt.Sprintf("metric %s: formula %q: %v", e.Metric, e.Formula, e.Err)
	case e.Formula != "":
		return fmt.Sprintf("formula %q: %v", e.Formula, e.Err)
	default:
		return fmt.Sprintf("metric %q: %v", e.Metric, e.Err)
	}
}

func (e *MetricError) Unwrap() error { return e.Err }
