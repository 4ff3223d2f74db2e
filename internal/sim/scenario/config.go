// Package scenario reads named campaign presets: a starting position, a seed
// offset and an optional shorter campaign.
package scenario

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"shopkeep.ai/internal/sim/metrics"
)

type Config struct {
	DefaultScenario string `yaml:"default_scenario"`
	Scenarios       []Spec `yaml:"scenarios"`
}

type Spec struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	SeedOffset  int64  `yaml:"seed_offset"`
	// Days caps the campaign; 0 keeps the configured length.
	Days  int                `yaml:"days"`
	Start map[string]float64 `yaml:"start,omitempty"`
	// Policy names the autoplay policy; empty means "balanced".
	Policy string `yaml:"policy,omitempty"`
}

// Load reads path. A missing file or an empty path gives the built-in
// scenarios.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.Normalize()
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("scenarios.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("scenarios.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		DefaultScenario: "standard",
		Scenarios: []Spec{
			{ID: "standard", Description: "Configured defaults"},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	for i := range c.Scenarios {
		c.Scenarios[i].ID = strings.TrimSpace(c.Scenarios[i].ID)
		if strings.TrimSpace(c.Scenarios[i].Policy) == "" {
			c.Scenarios[i].Policy = "balanced"
		}
	}
	if strings.TrimSpace(c.DefaultScenario) == "" && len(c.Scenarios) > 0 {
		c.DefaultScenario = c.Scenarios[0].ID
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("scenarios must not be empty")
	}
	seen := map[string]bool{}
	for _, s := range c.Scenarios {
		if s.ID == "" {
			return fmt.Errorf("scenario id must not be empty")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate scenario id: %s", s.ID)
		}
		seen[s.ID] = true
		if s.Days < 0 {
			return fmt.Errorf("scenario %s days must be >= 0", s.ID)
		}
		for name := range s.Start {
			if _, err := metrics.ParseMetric(name); err != nil {
				return fmt.Errorf("scenario %s start: %w", s.ID, err)
			}
		}
	}
	if !seen[c.DefaultScenario] {
		return fmt.Errorf("default_scenario %q not found in scenarios", c.DefaultScenario)
	}
	return nil
}

// Get returns the scenario id, or the default one when id is empty.
func (c Config) Get(id string) (Spec, bool) {
	if id == "" {
		id = c.DefaultScenario
	}
	for _, s := range c.Scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

func (c Config) IDs() []string {
	out := make([]string, 0, len(c.Scenarios))
	for _, s := range c.Scenarios {
		out = append(out, s.ID)
	}
	sort.Strings(out)
	return out
}
