package tuning

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"shopkeep.ai/internal/sim/metrics"
)

// EffectList is an ordered effect set. In yaml it is written as a mapping of
// metric name to formula, and mapping order is preserved.
type EffectList []metrics.Effect

func (l *EffectList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: effects must be a mapping of metric to formula", n.Line)
	}
	out := make(EffectList, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		e, err := metrics.ParseEffect(k.Value, v.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", k.Line, err)
		}
		out = append(out, e)
	}
	*l = out
	return nil
}

// Action is one row of the action table.
type Action struct {
	Kind            string     `yaml:"kind"`
	Label           string     `yaml:"label"`
	Description     string     `yaml:"description"`
	BaseProbability float64    `yaml:"base_probability"`
	UnlockDay       int        `yaml:"unlock_day"`
	Cost            EffectList `yaml:"cost"`
	Success         EffectList `yaml:"success"`
	CriticalSuccess EffectList `yaml:"critical_success"`
	Failure         EffectList `yaml:"failure"`
	CriticalFailure EffectList `yaml:"critical_failure"`
}

// Unlocked reports whether the action is offered on day.
func (a Action) Unlocked(day int) bool { return day >= a.UnlockDay }

func (a Action) validate() error {
	if strings.TrimSpace(a.Kind) == "" {
		return fmt.Errorf("empty kind")
	}
	if math.IsNaN(a.BaseProbability) || a.BaseProbability < 0 || a.BaseProbability > 1 {
		return fmt.Errorf("%w: base_probability %v", ErrOutOfRange, a.BaseProbability)
	}
	if a.UnlockDay < 0 {
		return fmt.Errorf("%w: unlock_day %d", ErrOutOfRange, a.UnlockDay)
	}
	return nil
}

func readActions(path string) ([]Action, []byte, error) {
	const name = "actions.yaml"
	raw, err := readOptional(path)
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return DefaultActions(), nil, nil
	}
	var doc struct {
		Actions []Action `yaml:"actions"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, raw, fmt.Errorf("%s: %w", name, err)
	}
	if err := ValidateActions(doc.Actions); err != nil {
		return nil, raw, err
	}
	return doc.Actions, raw, nil
}

// ValidateActions checks every row and rejects duplicate kinds.
func ValidateActions(actions []Action) error {
	const name = "actions.yaml"
	seen := map[string]bool{}
	for _, a := range actions {
		if err := a.validate(); err != nil {
			return &SourceError{Source: name, Key: a.Kind, Err: err}
		}
		if seen[a.Kind] {
			return &SourceError{Source: name, Key: a.Kind, Err: ErrDuplicate}
		}
		seen[a.Kind] = true
	}
	return nil
}

func effects(pairs ...string) EffectList {
	out := make(EffectList, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		e, err := metrics.ParseEffect(pairs[i], pairs[i+1])
		if err != nil {
			panic(err)
		}
		out = append(out, e)
	}
	return out
}

// DefaultActions is the built-in table used when actions.yaml is absent.
func DefaultActions() []Action {
	return []Action{
		{
			Kind: "restock", Label: "Restock ingredients", BaseProbability: 0.85, UnlockDay: 1,
			Cost:            effects("Money", "-400", "Inventory", "25"),
			Success:         effects("Inventory", "5"),
			CriticalSuccess: effects("Inventory", "12", "Money", "100"),
			Failure:         effects("Inventory", "-5"),
			CriticalFailure: effects("Inventory", "-12", "Reputation", "-2"),
		},
		{
			Kind: "marketing", Label: "Run a local promotion", BaseProbability: 0.6, UnlockDay: 1,
			Cost:            effects("Money", "-600"),
			Success:         effects("Demand", "8", "Reputation", "2"),
			CriticalSuccess: effects("Demand", "15", "Reputation", "5"),
			Failure:         effects("Demand", "1"),
			CriticalFailure: effects("Reputation", "-4"),
		},
		{
			Kind: "rest_staff", Label: "Give the staff a break", BaseProbability: 0.9, UnlockDay: 1,
			Cost:            effects("Money", "-150", "Demand", "-2"),
			Success:         effects("StaffFatigue", "-15", "Happiness", "4"),
			CriticalSuccess: effects("StaffFatigue", "-25", "Happiness", "8"),
			Failure:         effects("StaffFatigue", "-5"),
			CriticalFailure: effects("Happiness", "-3"),
		},
		{
			Kind: "repair", Label: "Repair equipment", BaseProbability: 0.75, UnlockDay: 1,
			Cost:            effects("Money", "-800"),
			Success:         effects("Facility", "15"),
			CriticalSuccess: effects("Facility", "25"),
			Failure:         effects("Facility", "4"),
			CriticalFailure: effects("Facility", "-5", "Money", "-300"),
		},
		{
			Kind: "menu_special", Label: "Launch a daily special", BaseProbability: 0.55, UnlockDay: 1,
			Cost:            effects("Inventory", "-8", "StaffFatigue", "4"),
			Success:         effects("Money", "500", "Reputation", "3"),
			CriticalSuccess: effects("Money", "1200", "Reputation", "6", "Happiness", "3"),
			Failure:         effects("Reputation", "-1"),
			CriticalFailure: effects("Reputation", "-5", "Happiness", "-4"),
		},
		{
			Kind: "deep_clean", Label: "Deep clean the kitchen", BaseProbability: 0.8, UnlockDay: 14,
			Cost:            effects("Money", "-250", "StaffFatigue", "6"),
			Success:         effects("Facility", "6", "Reputation", "1"),
			CriticalSuccess: effects("Facility", "10", "Reputation", "3"),
			Failure:         effects("Facility", "2"),
			CriticalFailure: effects("StaffFatigue", "8"),
		},
		{
			Kind: "train_staff", Label: "Train the staff", BaseProbability: 0.65, UnlockDay: 30,
			Cost:            effects("Money", "-1000", "StaffFatigue", "5"),
			Success:         effects("Reputation", "4", "Happiness", "5"),
			CriticalSuccess: effects("Reputation", "8", "Happiness", "8", "StaffFatigue", "-10"),
			Failure:         effects("Happiness", "-2"),
			CriticalFailure: effects("Happiness", "-6", "StaffFatigue", "6"),
		},
		{
			Kind: "community_event", Label: "Host a community evening", BaseProbability: 0.5, UnlockDay: 60,
			Cost:            effects("Money", "-1500", "Inventory", "-10", "StaffFatigue", "10"),
			Success:         effects("Demand", "12", "Reputation", "6", "Happiness", "6"),
			CriticalSuccess: effects("Demand", "20", "Reputation", "12", "Happiness", "10"),
			Failure:         effects("Reputation", "1"),
			CriticalFailure: effects("Reputation", "-6", "Happiness", "-6"),
		},
	}
}
