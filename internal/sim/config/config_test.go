package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/tuning"
)

const shipped = "../../../configs"

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	r, err := Load(shipped)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := r.Settings()
	if s.CampaignDays != 730 || s.BaseActionSlots != 3 || s.MaxCascadeDepth != 4 {
		t.Fatalf("settings %+v", s)
	}
	if math.Abs(s.ProbMax-0.95) > 1e-12 || math.Abs(s.ReputationBonus-0.001) > 1e-12 {
		t.Fatalf("derived constants: ProbMax=%v ReputationBonus=%v", s.ProbMax, s.ReputationBonus)
	}
	if r.Events().Len() == 0 {
		t.Fatalf("no events loaded")
	}
	if _, ok := r.Events().Get("inspection_failed"); !ok {
		t.Fatalf("calendar events missing")
	}
	if _, ok := r.Action("price_increase"); !ok {
		t.Fatalf("configured actions not used")
	}
	if r.Uncertainty(metrics.Demand) != 0.5 || r.Uncertainty(metrics.Happiness) != 0 {
		t.Fatalf("uncertainty weights wrong")
	}
	if len(r.Tradeoffs().Edges()) != 3 {
		t.Fatalf("tradeoffs %+v", r.Tradeoffs().Edges())
	}

	var money *Threshold
	for _, th := range r.Thresholds() {
		if th.Key() == "WARN_Money_BELOW" {
			th := th
			money = &th
		}
	}
	if money == nil || money.Value != 1000 || money.Above {
		t.Fatalf("money threshold %+v", money)
	}

	found := false
	for _, w := range r.Warnings() {
		if strings.Contains(w, "DAYS_PER_YEAR") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unused-constant warning, got %v", r.Warnings())
	}

	for _, name := range []string{"constants.yaml", "metric_ranges.csv", "tradeoffs.csv", "events"} {
		if r.Digests()[name] == "" {
			t.Fatalf("no digest for %s: %v", name, r.Digests())
		}
	}
	again, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if again.Digest() != r.Digest() {
		t.Fatalf("reload of unchanged directory changed the digest")
	}
}

func TestDefault(t *testing.T) {
	r := Default()
	if r.Settings() != DefaultSettings() {
		t.Fatalf("default settings differ")
	}
	if r.Events().Len() != 0 || len(r.Actions()) == 0 {
		t.Fatalf("default registry: %d events, %d actions", r.Events().Len(), len(r.Actions()))
	}
	if _, err := r.Reload(); err == nil {
		t.Fatalf("Reload of an in-memory registry should fail")
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  error
	}{
		{
			name:  "unknown reference",
			files: map[string]string{"constants.yaml": "constants:\n  - {key: CAMPAIGN_DAYS, value: \"{YEARS} * 365\", type: int}\n"},
			want:  tuning.ErrUnknownReference,
		},
		{
			name:  "wrong type",
			files: map[string]string{"constants.yaml": "constants:\n  - {key: CAMPAIGN_DAYS, value: \"365.5\", type: float}\n"},
			want:  tuning.ErrBadType,
		},
		{
			name:  "out of range",
			files: map[string]string{"constants.yaml": "constants:\n  - {key: PROB_MIN, value: \"1.5\", type: float}\n"},
			want:  tuning.ErrOutOfRange,
		},
		{
			name:  "unknown metric",
			files: map[string]string{"metric_ranges.csv": "metric_name,min,max,default\nhappiness,0,100,50\n"},
			want:  metrics.ErrUnknownMetric,
		},
		{
			name:  "bad warning key",
			files: map[string]string{"constants.yaml": "constants:\n  - {key: WARN_Cash_BELOW, value: \"10\"}\n"},
			want:  metrics.ErrUnknownMetric,
		},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		for name, body := range tc.files {
			write(t, dir, name, body)
		}
		_, err := Load(dir)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: want *ConfigError, got %T %v", tc.name, err, err)
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestLoad_CyclicTradeoffs(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "tradeoffs.csv", "source_metric,target_metric,impact_factor,description\nDemand,Inventory,0.2,\nInventory,Demand,0.1,\n")
	_, err := Load(dir)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Source != "tradeoffs" {
		t.Fatalf("want tradeoffs ConfigError, got %v", err)
	}
}

func TestLoad_CyclicCascadesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "events/a.yaml", "- {id: a, kind: random, probability: 0.1, cascades: [{event: b, type: immediate}]}\n")
	write(t, dir, "events/b.yaml", "- {id: b, kind: cascade, cascades: [{event: a, type: delayed, delay: 2}]}\n")
	_, err := Load(dir)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigError, got %v", err)
	}
	var cycle *cascade.CascadeError
	if !errors.As(err, &cycle) || cycle.Reason != cascade.ReasonCycle {
		t.Fatalf("want cascade cycle, got %v", err)
	}
}

func TestLoad_OrphanCascadeWarns(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "events/orphan.yaml", "- {id: lonely, kind: cascade}\n")
	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w := r.Warnings(); len(w) != 1 || !strings.Contains(w[0], "lonely") {
		t.Fatalf("warnings %v", w)
	}
}

func TestWithSettings(t *testing.T) {
	r := Default()
	s := r.Settings()
	s.MaxCascadeDepth = 2
	out, err := r.WithSettings(s)
	if err != nil {
		t.Fatalf("WithSettings: %v", err)
	}
	if out.Settings().MaxCascadeDepth != 2 || r.Settings().MaxCascadeDepth != 4 {
		t.Fatalf("WithSettings must not touch the original")
	}

	s.MaxActionSlots = 1
	if _, err := r.WithSettings(s); !errors.Is(err, tuning.ErrOutOfRange) {
		t.Fatalf("want out of range, got %v", err)
	}
}

func TestThreshold_Crossed(t *testing.T) {
	below := Threshold{Metric: metrics.Money, Value: 1000}
	above := Threshold{Metric: metrics.StaffFatigue, Above: true, Value: 80}
	cases := []struct {
		th            Threshold
		before, after float64
		want          bool
	}{
		{below, 1500, 900, true},
		{below, 1000, 999, true},
		{below, 900, 800, false},
		{below, 900, 1200, false},
		{above, 70, 85, true},
		{above, 85, 90, false},
		{above, 80, 80, false},
	}
	for _, tc := range cases {
		if got := tc.th.Crossed(tc.before, tc.after); got != tc.want {
			t.Fatalf("%s %v -> %v: got %v", tc.th.Key(), tc.before, tc.after, got)
		}
	}
}
