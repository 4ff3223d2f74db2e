package tuning

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"shopkeep.ai/internal/sim/expr"
)

// ConstantRow is one raw row of the constants table. Value may reference
// other keys as {KEY}.
type ConstantRow struct {
	Key         string `yaml:"key"`
	Value       string `yaml:"value"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

type constantsFile struct {
	Constants []ConstantRow `yaml:"constants"`
}

// Constant is a resolved row. Num holds int and float values; Bool and Str
// hold the other types.
type Constant struct {
	Key         string
	Type        string
	Raw         string
	Description string

	Num  float64
	Bool bool
	Str  string
}

// Text renders the resolved value for placeholder substitution.
func (c Constant) Text() string {
	switch c.Type {
	case "bool":
		return strconv.FormatBool(c.Bool)
	case "string":
		return c.Str
	}
	return strconv.FormatFloat(c.Num, 'g', -1, 64)
}

// Constants is the resolved table keyed by name. Lookups are case-sensitive.
type Constants map[string]Constant

func (c Constants) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c Constants) Float(key string) (float64, bool) {
	v, ok := c[key]
	if !ok || (v.Type != "int" && v.Type != "float") {
		return 0, false
	}
	return v.Num, true
}

func (c Constants) Int(key string) (int, bool) {
	v, ok := c.Float(key)
	return int(v), ok
}

func (c Constants) Bool(key string) (bool, bool) {
	v, ok := c[key]
	if !ok || v.Type != "bool" {
		return false, false
	}
	return v.Bool, true
}

func (c Constants) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok {
		return "", false
	}
	return v.Text(), true
}

// Keys returns every key, sorted.
func (c Constants) Keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func placeholders(v string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(v, -1) {
		out = append(out, m[1])
	}
	return out
}

// ResolveConstants expands placeholders transitively and evaluates every
// numeric value with the restricted expression grammar.
func ResolveConstants(rows []ConstantRow) (Constants, error) {
	const source = "constants"
	byKey := make(map[string]ConstantRow, len(rows))
	for _, r := range rows {
		r.Key = strings.TrimSpace(r.Key)
		if r.Key == "" {
			return nil, &SourceError{Source: source, Err: fmt.Errorf("empty key")}
		}
		if _, dup := byKey[r.Key]; dup {
			return nil, &SourceError{Source: source, Key: r.Key, Err: ErrDuplicate}
		}
		byKey[r.Key] = r
	}

	out := make(Constants, len(rows))
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}

	var visit func(key string, path []string) error
	visit = func(key string, path []string) error {
		switch state[key] {
		case done:
			return nil
		case visiting:
			return &SourceError{Source: source, Key: key,
				Err: fmt.Errorf("%w: %s", ErrReferenceCycle, strings.Join(append(path, key), " -> "))}
		}
		row, ok := byKey[key]
		if !ok {
			from := ""
			if len(path) > 0 {
				from = path[len(path)-1]
			}
			return &SourceError{Source: source, Key: from, Err: fmt.Errorf("%w {%s}", ErrUnknownReference, key)}
		}
		state[key] = visiting
		for _, dep := range placeholders(row.Value) {
			if err := visit(dep, append(path, key)); err != nil {
				return err
			}
		}
		c, err := evalConstant(row, out)
		if err != nil {
			return &SourceError{Source: source, Key: key, Err: err}
		}
		out[key] = c
		state[key] = done
		return nil
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := visit(k, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func evalConstant(row ConstantRow, resolved Constants) (Constant, error) {
	text := placeholderRe.ReplaceAllStringFunc(row.Value, func(m string) string {
		return resolved[m[1:len(m)-1]].Text()
	})
	text = strings.TrimSpace(text)
	c := Constant{
		Key:         row.Key,
		Type:        strings.ToLower(strings.TrimSpace(row.Type)),
		Raw:         row.Value,
		Description: row.Description,
	}
	if c.Type == "" {
		c.Type = "float"
	}
	switch c.Type {
	case "string":
		c.Str = text
	case "bool":
		if b, err := strconv.ParseBool(text); err == nil {
			c.Bool = b
			return c, nil
		}
		cond, err := expr.CompileCondition(text, expr.Names())
		if err != nil {
			return c, err
		}
		if c.Bool, err = cond.Holds(nil); err != nil {
			return c, err
		}
	case "int", "float":
		e, err := expr.Compile(text, expr.Names())
		if err != nil {
			return c, err
		}
		v, err := e.Eval(nil)
		if err != nil {
			return c, err
		}
		if c.Type == "int" && v != math.Trunc(v) {
			return c, fmt.Errorf("%w: %v is not an integer", ErrBadType, v)
		}
		c.Num = v
	default:
		return c, fmt.Errorf("%w %q", ErrBadType, row.Type)
	}
	return c, nil
}

func readConstants(dir string) ([]ConstantRow, string, []byte, error) {
	path, name, ok, err := pick(dir, "constants.yaml", "constants.yml", "constants.csv")
	if err != nil || !ok {
		return nil, name, nil, err
	}
	raw, err := readOptional(path)
	if err != nil {
		return nil, name, nil, err
	}
	if strings.HasSuffix(name, ".csv") {
		recs, err := readCSV(name, raw, "key", "value")
		if err != nil {
			return nil, name, raw, err
		}
		rows := make([]ConstantRow, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, ConstantRow{
				Key:         r.get("key"),
				Value:       r.get("value"),
				Type:        r.get("type"),
				Description: r.get("description"),
			})
		}
		return rows, name, raw, nil
	}
	var f constantsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, name, raw, fmt.Errorf("%s: %w", name, err)
	}
	return f.Constants, name, raw, nil
}
