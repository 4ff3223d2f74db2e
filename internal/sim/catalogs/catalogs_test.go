package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/metrics"
)

func TestParse_NestedSingle(t *testing.T) {
	evs, err := Parse("critic.yaml", []byte(`
id: food_critic_visit
kind: random
title: A food critic walks in
probability: 0.05
cooldown: 20
tags: [press]
effects:
  - {metric: Reputation, formula: "+2"}
choices:
  - id: comp_meal
    label: Comp the meal
    effects: [{metric: Money, formula: -200}]
  - id: business_as_usual
default_choice: comp_meal
cascades:
  - {event: viral_review, type: probabilistic, probability: 0.3, impact: 1.5}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events", len(evs))
	}
	ev := evs[0]
	if ev.Kind != events.KindRandom || ev.Probability != 0.05 || ev.Cooldown != 20 {
		t.Fatalf("event %+v", ev)
	}
	if len(ev.Choices) != 2 || ev.Choices[0].Effects[0].Metric != metrics.Money {
		t.Fatalf("choices %+v", ev.Choices)
	}
	l := ev.Cascades[0]
	if l.Event != "viral_review" || l.Type != events.Probabilistic || l.Probability != 0.3 || l.Factor() != 1.5 {
		t.Fatalf("cascade %+v", l)
	}
}

func TestParse_FlatRecord(t *testing.T) {
	evs, err := Parse("flat.yaml", []byte(`
- id: staff_burnout
  kind: threshold
  critical: true
  condition: "StaffFatigue >= 85"
  effect.Happiness: -10
  effect.Reputation: "-3%"
  cascade.staff_quits: "conditional:StaffFatigue >= 95"
  cascade.sick_day: "delayed:2@0.5"
  choice.overtime.label: Push through
  choice.overtime.effect.Money: 300
- id: staff_quits
  kind: cascade
  effect.StaffFatigue: -20
- id: sick_day
  kind: cascade
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events", len(evs))
	}
	ev := evs[0]
	if ev.Cooldown != -1 {
		t.Fatalf("absent cooldown should be -1, got %d", ev.Cooldown)
	}
	if len(ev.Effects) != 2 || ev.Effects[0].Metric != metrics.Happiness || ev.Effects[1].Formula.Kind() != metrics.FormulaPercent {
		t.Fatalf("effects %+v", ev.Effects)
	}
	if len(ev.Cascades) != 2 {
		t.Fatalf("cascades %+v", ev.Cascades)
	}
	// Flat cascades are ordered by key.
	if c := ev.Cascades[0]; c.Event != "sick_day" || c.Type != events.Delayed || c.Delay != 2 || c.Impact != 0.5 {
		t.Fatalf("first cascade %+v", c)
	}
	if c := ev.Cascades[1]; c.Type != events.Conditional || c.Condition.Empty() {
		t.Fatalf("second cascade %+v", c)
	}
	if ev.Choices[0].ID != "overtime" || ev.Choices[0].Label != "Push through" || len(ev.Choices[0].Effects) != 1 {
		t.Fatalf("choices %+v", ev.Choices)
	}
}

func TestParse_MapFormAndJSON(t *testing.T) {
	evs, err := Parse("map.yaml", []byte(`
rent_review:
  kind: scheduled
  period: 90
  effect.Money: "-5%"
festival_week:
  kind: scheduled
  period: 60
  effect.Demand: 15
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(evs) != 2 || evs[0].ID != "festival_week" || evs[1].ID != "rent_review" {
		t.Fatalf("map form ids: %+v", evs)
	}

	evs, err = Parse("buzz.json", []byte(`{"events":[{"id":"buzz","kind":"random","probability":0.08,"effects":[{"metric":"Demand","formula":5}]}]}`))
	if err != nil {
		t.Fatalf("Parse json: %v", err)
	}
	if evs[0].ID != "buzz" || evs[0].Effects[0].Metric != metrics.Demand {
		t.Fatalf("json form %+v", evs)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"random without probability": "id: a\nkind: random\n",
		"scheduled period 0":         "id: a\nkind: scheduled\nperiod: 0\n",
		"threshold without cond":     "id: a\nkind: threshold\n",
		"unknown kind":               "id: a\nkind: weekly\n",
		"unknown field":              "id: a\nkind: cascade\nweight: 3\n",
		"bad cascade type":           "id: a\nkind: cascade\ncascade.b: sometimes\n",
		"delayed without delay":      "id: a\nkind: cascade\ncascades: [{event: b, type: delayed}]\n",
		"unknown terminal":           "id: a\nkind: cascade\nterminal: Boredom\n",
		"bad default choice":         "id: a\nkind: cascade\nchoices: [{id: x}]\ndefault_choice: y\n",
		"self cascade":               "id: a\nkind: cascade\ncascade.a: immediate\n",
	}
	for name, src := range cases {
		if _, err := Parse("bad.yaml", []byte(src)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	_, err := Parse("bad.yaml", []byte("id: a\nkind: cascade\neffect.Cash: 10\n"))
	if !errors.Is(err, metrics.ErrUnknownMetric) {
		t.Fatalf("expected unknown metric, got %v", err)
	}
	_, err = Parse("bad.yaml", []byte("id: a\nkind: threshold\ncondition: \"Cash < 10\"\n"))
	if err == nil {
		t.Fatalf("condition over an unknown name should fail")
	}
	_, err = Parse("bad.yaml", []byte("id: a\nkind: random\n"))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestLoad_DirectoryDigest(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "staff"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"a.yaml":       "id: a\nkind: random\nprobability: 0.1\n",
		"staff/b.yml":  "id: b\nkind: cascade\n",
		"c.json":       `{"id":"c","kind":"cascade"}`,
		"notes.txt":    "ignored",
		"staff/d.yaml": "",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	c1, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c1.Events) != 3 {
		t.Fatalf("got %d events", len(c1.Events))
	}
	c2, _ := Load(dir)
	if c1.Digest != c2.Digest || c1.Digest == "" {
		t.Fatalf("digest not stable")
	}

	if err := os.WriteFile(filepath.Join(dir, "dup.yaml"), []byte("id: a\nkind: cascade\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, events.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestLoad_MissingDir(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Events) != 0 || c.Digest == "" {
		t.Fatalf("catalogue %+v", c)
	}
}

func TestLoad_ShippedCatalogue(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs", "events"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := events.NewRegistry(c.Events, 0); err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
}
