package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"shopkeep.ai/internal/sim/expr"
)

// ValueIdent is the only identifier an effect formula may reference.
const ValueIdent = "value"

type FormulaKind uint8

const (
	// FormulaScalar adds a constant.
	FormulaScalar FormulaKind = iota
	// FormulaPercent scales the current value: delta = value·p/100.
	FormulaPercent
	// FormulaExpr evaluates an expression over `value`; the result is the delta.
	FormulaExpr
)

// Formula is a parsed effect. The zero value is a scalar delta of 0.
type Formula struct {
	kind   FormulaKind
	scalar float64
	expr   *expr.Expr
	src    string
}

// Scalar builds a constant-delta formula.
func Scalar(v float64) Formula {
	return Formula{kind: FormulaScalar, scalar: v, src: strconv.FormatFloat(v, 'g', -1, 64)}
}

// Percent builds a percentage formula.
func Percent(p float64) Formula {
	return Formula{kind: FormulaPercent, scalar: p, src: strconv.FormatFloat(p, 'g', -1, 64) + "%"}
}

// ParseFormula accepts "12", "-500", "+8", "-5%", or an expression such as
// "value * 0.1" or "-min(value, 300)".
func ParseFormula(src string) (Formula, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return Formula{}, &MetricError{Formula: src, Err: ErrMalformedFormula}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Formula{}, &MetricError{Formula: src, Err: ErrMalformedFormula}
		}
		return Formula{kind: FormulaScalar, scalar: v, src: s}, nil
	}
	if strings.HasSuffix(s, "%") {
		num := strings.TrimSpace(strings.TrimSuffix(s, "%"))
		v, err := strconv.ParseFloat(num, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Formula{}, &MetricError{Formula: src, Err: fmt.Errorf("%w: bad percentage", ErrMalformedFormula)}
		}
		return Formula{kind: FormulaPercent, scalar: v, src: s}, nil
	}
	e, err := expr.Compile(s, expr.Names(ValueIdent))
	if err != nil {
		return Formula{}, &MetricError{Formula: src, Err: fmt.Errorf("%w: %v", ErrMalformedFormula, err)}
	}
	return Formula{kind: FormulaExpr, expr: e, src: s}, nil
}

// MustFormula panics on a bad source; for tables built in code.
func MustFormula(src string) Formula {
	f, err := ParseFormula(src)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Formula) Kind() FormulaKind { return f.kind }

func (f Formula) String() string {
	if f.src == "" {
		return "0"
	}
	return f.src
}

// Delta returns the change this formula produces for the current value.
func (f Formula) Delta(value float64) (float64, error) {
	switch f.kind {
	case FormulaScalar:
		return f.scalar, nil
	case FormulaPercent:
		return ApplyPercentage(value, f.scalar) - value, nil
	case FormulaExpr:
		return f.expr.Eval(expr.Vars{ValueIdent: value})
	}
	return 0, fmt.Errorf("%w: kind %d", ErrMalformedFormula, f.kind)
}

func (f Formula) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Formula) UnmarshalText(b []byte) error {
	v, err := ParseFormula(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UnmarshalJSON accepts both numbers and strings.
func (f *Formula) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		return f.UnmarshalText([]byte(n.String()))
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &MetricError{Formula: string(b), Err: ErrMalformedFormula}
	}
	return f.UnmarshalText([]byte(s))
}

// Effect targets one metric with one formula.
type Effect struct {
	Metric  Metric  `json:"metric"`
	Formula Formula `json:"formula"`
}

func (e Effect) String() string { return e.Metric.String() + ":" + e.Formula.String() }

// ParseEffect resolves a metric name and formula source.
func ParseEffect(metric, formula string) (Effect, error) {
	m, err := ParseMetric(metric)
	if err != nil {
		return Effect{}, err
	}
	f, err := ParseFormula(formula)
	if err != nil {
		var me *MetricError
		if errors.As(err, &me) {
			me.Metric = metric
		}
		return Effect{}, err
	}
	return Effect{Metric: m, Formula: f}, nil
}
