package catalogs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	flatEffect  = "effect."
	flatCascade = "cascade."
	flatChoice  = "choice."
)

// normalizeRecord rewrites flat keys onto the nested form. Nested entries
// keep their order and flat entries follow, sorted by key.
//
//	effect.Money: -500                  -> effects: [{metric: Money, formula: -500}]
//	cascade.staff_quits: delayed:3      -> cascades: [{event: staff_quits, type: delayed, delay: 3}]
//	choice.comp.label: Comp the meal    -> choices: [{id: comp, label: ...}]
//	choice.comp.effect.Money: -200      -> choices: [{id: comp, effects: [...]}]
func normalizeRecord(rec map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var effects, cascades []any
	choices := map[string]map[string]any{}
	var choiceOrder []string
	choice := func(id string) map[string]any {
		c, ok := choices[id]
		if !ok {
			c = map[string]any{"id": id}
			choices[id] = c
			choiceOrder = append(choiceOrder, id)
		}
		return c
	}

	for _, k := range keys {
		v := rec[k]
		switch {
		case strings.HasPrefix(k, flatEffect):
			effects = append(effects, map[string]any{"metric": strings.TrimPrefix(k, flatEffect), "formula": v})
		case strings.HasPrefix(k, flatCascade):
			c, err := parseFlatCascade(strings.TrimPrefix(k, flatCascade), v)
			if err != nil {
				return nil, err
			}
			cascades = append(cascades, c)
		case strings.HasPrefix(k, flatChoice):
			rest := strings.TrimPrefix(k, flatChoice)
			id, field, ok := strings.Cut(rest, ".")
			if !ok || id == "" {
				return nil, fmt.Errorf("%s: want choice.<id>.<field>", k)
			}
			c := choice(id)
			switch {
			case field == "label":
				c["label"] = v
			case strings.HasPrefix(field, flatEffect):
				list, _ := c["effects"].([]any)
				c["effects"] = append(list, map[string]any{"metric": strings.TrimPrefix(field, flatEffect), "formula": v})
			default:
				return nil, fmt.Errorf("%s: unknown choice field %q", k, field)
			}
		default:
			out[k] = v
		}
	}

	if len(effects) > 0 {
		out["effects"] = appendList(out["effects"], effects)
	}
	if len(cascades) > 0 {
		out["cascades"] = appendList(out["cascades"], cascades)
	}
	if len(choiceOrder) > 0 {
		flat := make([]any, 0, len(choiceOrder))
		for _, id := range choiceOrder {
			flat = append(flat, choices[id])
		}
		out["choices"] = appendList(out["choices"], flat)
	}
	return out, nil
}

func appendList(existing any, more []any) any {
	list, ok := existing.([]any)
	if !ok && existing != nil {
		// Leave a malformed nested value for the schema to reject.
		return existing
	}
	return append(list, more...)
}

// parseFlatCascade reads "immediate", "delayed:3", "conditional:Facility < 20"
// or "probabilistic:0.3". An optional "@<impact>" suffix sets the impact
// factor. A mapping value is taken as the nested cascade body.
func parseFlatCascade(id string, v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		c := make(map[string]any, len(m)+1)
		for k, val := range m {
			c[k] = val
		}
		c["event"] = id
		return c, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("cascade.%s: expected a string like delayed:3", id)
	}
	c := map[string]any{"event": id}
	if body, impact, ok := strings.Cut(s, "@"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(impact), 64)
		if err != nil {
			return nil, fmt.Errorf("cascade.%s: bad impact %q", id, impact)
		}
		c["impact"] = f
		s = body
	}
	typ, param, _ := strings.Cut(s, ":")
	typ = strings.ToLower(strings.TrimSpace(typ))
	param = strings.TrimSpace(param)
	c["type"] = typ
	switch typ {
	case "delayed":
		n, err := strconv.Atoi(param)
		if err != nil {
			return nil, fmt.Errorf("cascade.%s: bad delay %q", id, param)
		}
		c["delay"] = n
	case "conditional":
		c["condition"] = param
	case "probabilistic":
		p, err := strconv.ParseFloat(param, 64)
		if err != nil {
			return nil, fmt.Errorf("cascade.%s: bad probability %q", id, param)
		}
		c["probability"] = p
	}
	return c, nil
}
