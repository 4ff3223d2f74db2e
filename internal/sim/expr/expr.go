package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Symbols reports whether an identifier may appear in a source.
type Symbols func(name string) bool

// Names builds a Symbols table from a fixed list.
func Names(names ...string) Symbols {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}

// Vars binds identifiers at evaluation time.
type Vars map[string]float64

var ErrNotFinite = errors.New("result is not a finite number")

// Expr is a compiled numeric expression.
type Expr struct {
	src    string
	root   node
	idents []string
}

// Compile parses src as a numeric expression. Every identifier must be
// accepted by syms; syms may be nil when no identifiers are allowed.
func Compile(src string, syms Symbols) (*Expr, error) {
	root, idents, err := compile(src, syms)
	if err != nil {
		return nil, err
	}
	if root.boolean() {
		return nil, &SyntaxError{Src: src, Pos: 0, Msg: "expected a numeric expression, got a comparison"}
	}
	return &Expr{src: src, root: root, idents: idents}, nil
}

// MustCompile is Compile for sources known at build time.
func MustCompile(src string, syms Symbols) *Expr {
	e, err := Compile(src, syms)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expr) String() string { return e.src }

// Idents returns the distinct identifiers referenced, sorted.
func (e *Expr) Idents() []string { return append([]string(nil), e.idents...) }

// Eval evaluates the expression. Missing bindings evaluate to an error.
func (e *Expr) Eval(vars Vars) (float64, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return 0, fmt.Errorf("expr %q: %w", e.src, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expr %q: %w", e.src, ErrNotFinite)
	}
	return v, nil
}

// Condition is a compiled boolean expression: comparisons joined by && / ||.
type Condition struct {
	src    string
	root   node
	idents []string
}

// CompileCondition parses src as a boolean condition. An empty source yields
// a condition that always holds.
func CompileCondition(src string, syms Symbols) (*Condition, error) {
	if isBlank(src) {
		return &Condition{}, nil
	}
	root, idents, err := compile(src, syms)
	if err != nil {
		return nil, err
	}
	if !root.boolean() {
		return nil, &SyntaxError{Src: src, Pos: 0, Msg: "expected a comparison"}
	}
	return &Condition{src: src, root: root, idents: idents}, nil
}

func (c *Condition) String() string { return c.src }

func (c *Condition) Empty() bool { return c == nil || c.root == nil }

func (c *Condition) Idents() []string { return append([]string(nil), c.idents...) }

// Holds evaluates the condition against vars.
func (c *Condition) Holds(vars Vars) (bool, error) {
	if c.Empty() {
		return true, nil
	}
	v, err := c.root.eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", c.src, err)
	}
	return v != 0, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func compile(src string, syms Symbols) (node, []string, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{src: src, toks: toks, syms: syms, seen: map[string]struct{}{}}
	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, nil, p.errAt(t, fmt.Sprintf("unexpected %q", t.text))
	}
	idents := make([]string, 0, len(p.seen))
	for id := range p.seen {
		idents = append(idents, id)
	}
	sort.Strings(idents)
	return root, idents, nil
}

type parser struct {
	src  string
	toks []token
	i    int
	syms Symbols
	seen map[string]struct{}
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errAt(t token, msg string) error {
	return &SyntaxError{Src: p.src, Pos: t.pos, Msg: msg}
}

func (p *parser) isOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("||"); !ok {
			return left, nil
		}
		t := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if !left.boolean() || !right.boolean() {
			return nil, p.errAt(t, "|| needs comparisons on both sides")
		}
		left = logicNode{op: "||", l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("&&"); !ok {
			return left, nil
		}
		t := p.next()
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		if !left.boolean() || !right.boolean() {
			return nil, p.errAt(t, "&& needs comparisons on both sides")
		}
		left = logicNode{op: "&&", l: left, r: right}
	}
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	op, ok := p.isOp(">", "<", ">=", "<=", "==", "!=")
	if !ok {
		return left, nil
	}
	t := p.next()
	right, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	if left.boolean() || right.boolean() {
		return nil, p.errAt(t, "comparison operands must be numeric")
	}
	return cmpNode{op: op, l: left, r: right}, nil
}

func (p *parser) parseAdd() (node, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+", "-")
		if !ok {
			return left, nil
		}
		t := p.next()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		if left.boolean() || right.boolean() {
			return nil, p.errAt(t, "arithmetic on a comparison")
		}
		left = binNode{op: op, l: left, r: right}
	}
}

func (p *parser) parseMul() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		t := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if left.boolean() || right.boolean() {
			return nil, p.errAt(t, "arithmetic on a comparison")
		}
		left = binNode{op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.isOp("-", "+"); ok {
		t := p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if x.boolean() {
			return nil, p.errAt(t, "sign applied to a comparison")
		}
		if op == "+" {
			return x, nil
		}
		return negNode{x: x}, nil
	}
	return p.parsePow()
}

func (p *parser) parsePow() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("^"); !ok {
		return base, nil
	}
	t := p.next()
	// Right associative: 2^3^2 == 2^(3^2).
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if base.boolean() || exp.boolean() {
		return nil, p.errAt(t, "arithmetic on a comparison")
	}
	return binNode{op: "^", l: base, r: exp}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errAt(t, fmt.Sprintf("bad number %q", t.text))
		}
		return numNode(v), nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if p.syms == nil || !p.syms(t.text) {
			return nil, p.errAt(t, fmt.Sprintf("unknown identifier %q", t.text))
		}
		p.seen[t.text] = struct{}{}
		return identNode(t.text), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errAt(t, "unbalanced parenthesis")
		}
		return inner, nil
	case tokEOF:
		return nil, p.errAt(t, "unexpected end of input")
	default:
		return nil, p.errAt(t, fmt.Sprintf("unexpected %q", t.text))
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := funcs[name.text]
	if !ok {
		return nil, p.errAt(name, fmt.Sprintf("unknown function %q", name.text))
	}
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			a, err := p.parseAdd()
			if err != nil {
				return nil, err
			}
			if a.boolean() {
				return nil, p.errAt(name, "function argument is a comparison")
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, p.errAt(name, "missing ) after arguments")
	}
	if fn.arity >= 0 && len(args) != fn.arity {
		return nil, p.errAt(name, fmt.Sprintf("%s takes %d argument(s), got %d", name.text, fn.arity, len(args)))
	}
	if fn.arity < 0 && len(args) < 1 {
		return nil, p.errAt(name, fmt.Sprintf("%s needs at least one argument", name.text))
	}
	return callNode{name: name.text, fn: fn.call, args: args}, nil
}
