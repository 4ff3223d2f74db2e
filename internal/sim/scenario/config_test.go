package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shopkeep.ai/internal/sim/metrics"
)

func TestLoad_ShippedScenarios(t *testing.T) {
	cfg, err := Load("../../../configs/scenarios.yaml")
	if err != nil {
		t.Fatalf("load scenarios.yaml: %v", err)
	}
	def, ok := cfg.Get("")
	if !ok || def.ID != "standard" {
		t.Fatalf("default scenario %+v", def)
	}
	s, ok := cfg.Get("shoestring")
	if !ok || s.Start["Money"] != 1500 {
		t.Fatalf("shoestring %+v", s)
	}
	for _, sc := range cfg.Scenarios {
		if sc.Policy == "" {
			t.Fatalf("scenario %s has no policy after normalize", sc.ID)
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ids := cfg.IDs(); len(ids) != 1 || ids[0] != "standard" {
		t.Fatalf("ids %v", ids)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"duplicate", "scenarios:\n  - {id: a}\n  - {id: a}\n", "duplicate"},
		{"bad metric", "scenarios:\n  - {id: a, start: {Cash: 1}}\n", "unknown metric"},
		{"bad default", "default_scenario: z\nscenarios:\n  - {id: a}\n", "not found"},
		{"negative days", "scenarios:\n  - {id: a, days: -1}\n", "days"},
		{"empty", "scenarios: []\n", "empty"},
	}
	for _, tc := range cases {
		p := filepath.Join(t.TempDir(), "scenarios.yaml")
		if err := os.WriteFile(p, []byte(tc.body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, err := Load(p)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want %q", tc.name, err, tc.want)
		}
		if tc.name == "bad metric" && !errors.Is(err, metrics.ErrUnknownMetric) {
			t.Fatalf("bad metric should wrap ErrUnknownMetric: %v", err)
		}
	}
}
