package expr

import (
	"errors"
	"fmt"
	"math"
)

var ErrDivByZero = errors.New("division by zero")

type node interface {
	eval(v Vars) (float64, error)
	boolean() bool
}

type numNode float64

func (n numNode) eval(Vars) (float64, error) { return float64(n), nil }
func (numNode) boolean() bool                { return false }

type identNode string

func (n identNode) eval(v Vars) (float64, error) {
	x, ok := v[string(n)]
	if !ok {
		return 0, fmt.Errorf("unbound identifier %q", string(n))
	}
	return x, nil
}
func (identNode) boolean() bool { return false }

type negNode struct{ x node }

func (n negNode) eval(v Vars) (float64, error) {
	x, err := n.x.eval(v)
	return -x, err
}
func (negNode) boolean() bool { return false }

type binNode struct {
	op   string
	l, r node
}

func (n binNode) eval(v Vars) (float64, error) {
	a, err := n.l.eval(v)
	if err != nil {
		return 0, err
	}
	b, err := n.r.eval(v)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivByZero
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, ErrDivByZero
		}
		return math.Mod(a, b), nil
	case "^":
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.op)
}
func (binNode) boolean() bool { return false }

// Comparisons treat values within cmpEpsilon as equal so that seesaw sums
// and percentage chains compare the way they read.
const cmpEpsilon = 1e-9

type cmpNode struct {
	op   string
	l, r node
}

func (n cmpNode) eval(v Vars) (float64, error) {
	a, err := n.l.eval(v)
	if err != nil {
		return 0, err
	}
	b, err := n.r.eval(v)
	if err != nil {
		return 0, err
	}
	eq := math.Abs(a-b) <= cmpEpsilon
	var ok bool
	switch n.op {
	case ">":
		ok = a > b && !eq
	case "<":
		ok = a < b && !eq
	case ">=":
		ok = a > b || eq
	case "<=":
		ok = a < b || eq
	case "==":
		ok = eq
	case "!=":
		ok = !eq
	default:
		return 0, fmt.Errorf("unknown comparison %q", n.op)
	}
	return truth(ok), nil
}
func (cmpNode) boolean() bool { return true }

type logicNode struct {
	op   string
	l, r node
}

func (n logicNode) eval(v Vars) (float64, error) {
	a, err := n.l.eval(v)
	if err != nil {
		return 0, err
	}
	if n.op == "&&" && a == 0 {
		return 0, nil
	}
	if n.op == "||" && a != 0 {
		return 1, nil
	}
	b, err := n.r.eval(v)
	if err != nil {
		return 0, err
	}
	return truth(b != 0), nil
}
func (logicNode) boolean() bool { return true }

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type callNode struct {
	name string
	fn   func([]float64) (float64, error)
	args []node
}

func (n callNode) eval(v Vars) (float64, error) {
	xs := make([]float64, len(n.args))
	for i, a := range n.args {
		x, err := a.eval(v)
		if err != nil {
			return 0, err
		}
		xs[i] = x
	}
	return n.fn(xs)
}
func (callNode) boolean() bool { return false }

type builtin struct {
	arity int // -1: variadic, at least one
	call  func([]float64) (float64, error)
}

func unary(f func(float64) float64) builtin {
	return builtin{arity: 1, call: func(x []float64) (float64, error) { return f(x[0]), nil }}
}

// funcs is the whitelist of pure math functions available to formulas.
var funcs = map[string]builtin{
	"abs":   unary(math.Abs),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"round": unary(math.Round),
	"exp":   unary(math.Exp),
	"sqrt": {arity: 1, call: func(x []float64) (float64, error) {
		if x[0] < 0 {
			return 0, errors.New("sqrt of a negative number")
		}
		return math.Sqrt(x[0]), nil
	}},
	"log": {arity: 1, call: func(x []float64) (float64, error) {
		if x[0] <= 0 {
			return 0, errors.New("log of a non-positive number")
		}
		return math.Log(x[0]), nil
	}},
	"pow": {arity: 2, call: func(x []float64) (float64, error) { return math.Pow(x[0], x[1]), nil }},
	"min": {arity: -1, call: func(x []float64) (float64, error) {
		m := x[0]
		for _, v := range x[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	}},
	"max": {arity: -1, call: func(x []float64) (float64, error) {
		m := x[0]
		for _, v := range x[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	}},
	"clamp": {arity: 3, call: func(x []float64) (float64, error) {
		if x[1] > x[2] {
			return 0, errors.New("clamp bounds out of order")
		}
		return math.Min(math.Max(x[0], x[1]), x[2]), nil
	}},
}

// IsFunc reports whether name is a whitelisted function.
func IsFunc(name string) bool {
	_, ok := funcs[name]
	return ok
}
