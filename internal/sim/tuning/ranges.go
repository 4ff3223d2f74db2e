package tuning

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"shopkeep.ai/internal/sim/metrics"
)

type rangeYAML struct {
	Min     string `yaml:"min"`
	Max     string `yaml:"max"`
	Default string `yaml:"default"`
}

type edgeYAML struct {
	Source      string  `yaml:"source"`
	Target      string  `yaml:"target"`
	Impact      float64 `yaml:"impact"`
	Description string  `yaml:"description"`
}

// parseBound reads a range bound. "inf" is only meaningful for max.
func parseBound(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "inf", "+inf", "infinity":
		return math.Inf(1), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}

func parseRange(minS, maxS, defS string) (metrics.Range, error) {
	var r metrics.Range
	var err error
	if r.Min, err = parseBound(minS); err != nil {
		return r, err
	}
	if math.IsInf(r.Min, 0) {
		return r, fmt.Errorf("%w: min must be finite", ErrOutOfRange)
	}
	if r.Max, err = parseBound(maxS); err != nil {
		return r, err
	}
	if r.Default, err = parseBound(defS); err != nil {
		return r, err
	}
	if r.Min > r.Max || !r.Contains(r.Default) {
		return r, fmt.Errorf("%w: [%v, %v] default %v", ErrOutOfRange, r.Min, r.Max, r.Default)
	}
	return r, nil
}

func readRanges(dir string) (map[metrics.Metric]metrics.Range, string, []byte, error) {
	path, name, ok, err := pick(dir, "metric_ranges.csv", "metric_ranges.yaml", "metric_ranges.yml")
	if err != nil || !ok {
		return map[metrics.Metric]metrics.Range{}, name, nil, err
	}
	raw, err := readOptional(path)
	if err != nil {
		return nil, name, nil, err
	}
	out := map[metrics.Metric]metrics.Range{}
	add := func(metricName string, r metrics.Range) error {
		m, err := metrics.ParseMetric(metricName)
		if err != nil {
			return &SourceError{Source: name, Key: metricName, Err: err}
		}
		if _, dup := out[m]; dup {
			return &SourceError{Source: name, Key: metricName, Err: ErrDuplicate}
		}
		out[m] = r
		return nil
	}

	if strings.HasSuffix(name, ".csv") {
		recs, err := readCSV(name, raw, "metric_name", "min", "max", "default")
		if err != nil {
			return nil, name, raw, err
		}
		for _, rec := range recs {
			key := rec.get("metric_name")
			r, err := parseRange(rec.get("min"), rec.get("max"), rec.get("default"))
			if err != nil {
				return nil, name, raw, &SourceError{Source: name, Key: key, Err: fmt.Errorf("line %d: %w", rec.line, err)}
			}
			if err := add(key, r); err != nil {
				return nil, name, raw, err
			}
		}
		return out, name, raw, nil
	}

	var doc map[string]rangeYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, name, raw, fmt.Errorf("%s: %w", name, err)
	}
	for key, y := range doc {
		r, err := parseRange(y.Min, y.Max, y.Default)
		if err != nil {
			return nil, name, raw, &SourceError{Source: name, Key: key, Err: err}
		}
		if err := add(key, r); err != nil {
			return nil, name, raw, err
		}
	}
	return out, name, raw, nil
}

func parseEdge(source, target string, impact float64, desc string) (metrics.Edge, error) {
	s, err := metrics.ParseMetric(source)
	if err != nil {
		return metrics.Edge{}, err
	}
	t, err := metrics.ParseMetric(target)
	if err != nil {
		return metrics.Edge{}, err
	}
	if math.IsNaN(impact) || math.IsInf(impact, 0) || impact < 0 {
		return metrics.Edge{}, fmt.Errorf("%w: impact %v", ErrOutOfRange, impact)
	}
	if s == t {
		return metrics.Edge{}, fmt.Errorf("%w: %s -> %s", ErrReferenceCycle, s, t)
	}
	return metrics.Edge{Source: s, Target: t, Impact: impact, Description: desc}, nil
}

func readTradeoffs(dir string) ([]metrics.Edge, string, []byte, error) {
	path, name, ok, err := pick(dir, "tradeoffs.csv", "tradeoffs.yaml", "tradeoffs.yml")
	if err != nil || !ok {
		return nil, name, nil, err
	}
	raw, err := readOptional(path)
	if err != nil {
		return nil, name, nil, err
	}
	var out []metrics.Edge
	if strings.HasSuffix(name, ".csv") {
		recs, err := readCSV(name, raw, "source_metric", "target_metric", "impact_factor")
		if err != nil {
			return nil, name, raw, err
		}
		for _, rec := range recs {
			key := rec.get("source_metric") + "->" + rec.get("target_metric")
			impact, err := strconv.ParseFloat(rec.get("impact_factor"), 64)
			if err != nil {
				return nil, name, raw, &SourceError{Source: name, Key: key, Err: fmt.Errorf("line %d: bad impact_factor", rec.line)}
			}
			e, err := parseEdge(rec.get("source_metric"), rec.get("target_metric"), impact, rec.get("description"))
			if err != nil {
				return nil, name, raw, &SourceError{Source: name, Key: key, Err: err}
			}
			out = append(out, e)
		}
		return out, name, raw, nil
	}

	var doc struct {
		Tradeoffs []edgeYAML `yaml:"tradeoffs"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, name, raw, fmt.Errorf("%s: %w", name, err)
	}
	for _, y := range doc.Tradeoffs {
		e, err := parseEdge(y.Source, y.Target, y.Impact, y.Description)
		if err != nil {
			return nil, name, raw, &SourceError{Source: name, Key: y.Source + "->" + y.Target, Err: err}
		}
		out = append(out, e)
	}
	return out, name, raw, nil
}

func readUncertainty(path string) (map[metrics.Metric]float64, []byte, error) {
	const name = "uncertainty.yaml"
	raw, err := readOptional(path)
	if err != nil {
		return nil, nil, err
	}
	out := map[metrics.Metric]float64{}
	if raw == nil {
		return out, nil, nil
	}
	var doc struct {
		Weights map[string]float64 `yaml:"weights"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, raw, fmt.Errorf("%s: %w", name, err)
	}
	for key, w := range doc.Weights {
		m, err := metrics.ParseMetric(key)
		if err != nil {
			return nil, raw, &SourceError{Source: name, Key: key, Err: err}
		}
		if math.IsNaN(w) || w < 0 || w > 1 {
			return nil, raw, &SourceError{Source: name, Key: key, Err: fmt.Errorf("%w: weight %v not in [0,1]", ErrOutOfRange, w)}
		}
		out[m] = w
	}
	return out, raw, nil
}
