// Package config assembles the tuning tables and the event catalogue into the
// read-only Registry a kernel runs against. A Registry never changes after
// construction; reloading builds a new one.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/catalogs"
	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/tuning"
)

// ConfigError is a malformed or inconsistent configuration. It is fatal at
// startup.
type ConfigError struct {
	Source string
	Key    string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("config %s: %s: %v", e.Source, e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func wrap(source string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	var se *tuning.SourceError
	if errors.As(err, &se) {
		return &ConfigError{Source: se.Source, Key: se.Key, Err: se.Err}
	}
	return &ConfigError{Source: source, Err: err}
}

type Registry struct {
	dir string

	settings    Settings
	constants   tuning.Constants
	model       *metrics.Model
	tradeoffs   *metrics.Tradeoffs
	uncertainty map[metrics.Metric]float64
	thresholds  []Threshold
	actions     []tuning.Action
	actionIdx   map[string]int
	events      *events.Registry

	digests  map[string]string
	warnings []string

	// kept for WithSettings
	tables  tuning.Tables
	catalog *catalogs.Catalog
}

// Load reads a config directory: tabular sources at the top level and the
// event catalogue under events/.
func Load(dir string) (*Registry, error) {
	tables, err := tuning.Load(dir)
	if err != nil {
		return nil, wrap("tuning", err)
	}
	cat, err := catalogs.Load(filepath.Join(dir, "events"))
	if err != nil {
		return nil, wrap("events", err)
	}
	r, err := New(tables, cat)
	if err != nil {
		return nil, err
	}
	r.dir = dir
	return r, nil
}

// Default is the built-in configuration: shipped ranges and actions, default
// constants, and an empty event catalogue.
func Default() *Registry {
	r, err := New(tuning.Tables{Actions: tuning.DefaultActions()}, &catalogs.Catalog{})
	if err != nil {
		panic(err)
	}
	return r
}

// New validates and indexes already-parsed sources.
func New(tables tuning.Tables, cat *catalogs.Catalog) (*Registry, error) {
	return build(tables, cat, nil)
}

// WithSettings returns a copy of r running under s.
func (r *Registry) WithSettings(s Settings) (*Registry, error) {
	out, err := build(r.tables, r.catalog, &s)
	if err != nil {
		return nil, err
	}
	out.dir = r.dir
	return out, nil
}

// Reload re-reads the directory r was loaded from.
func (r *Registry) Reload() (*Registry, error) {
	if r.dir == "" {
		return nil, &ConfigError{Source: "reload", Err: errors.New("registry was not loaded from a directory")}
	}
	return Load(r.dir)
}

func build(tables tuning.Tables, cat *catalogs.Catalog, override *Settings) (*Registry, error) {
	if cat == nil {
		cat = &catalogs.Catalog{}
	}
	r := &Registry{
		constants:   tables.Constants,
		uncertainty: map[metrics.Metric]float64{},
		actionIdx:   map[string]int{},
		digests:     map[string]string{},
		tables:      tables,
		catalog:     cat,
	}
	if r.constants == nil {
		r.constants = tuning.Constants{}
	}

	r.settings = DefaultSettings()
	if err := r.settings.overlay(r.constants); err != nil {
		return nil, err
	}
	if override != nil {
		r.settings = *override
		if err := r.settings.Validate(); err != nil {
			return nil, err
		}
	}
	for _, key := range r.constants.Keys() {
		if !IsSettingKey(key) && !strings.HasPrefix(key, "WARN_") {
			r.warnings = append(r.warnings, fmt.Sprintf("constant %s is not used by the kernel", key))
		}
	}

	var err error
	if r.thresholds, err = thresholds(r.constants); err != nil {
		return nil, err
	}

	ranges := metrics.DefaultRanges()
	for m, rg := range tables.Ranges {
		ranges[m] = rg
	}
	if r.model, err = metrics.NewModel(ranges); err != nil {
		return nil, &ConfigError{Source: "metric_ranges", Err: fmt.Errorf("%w: %v", tuning.ErrOutOfRange, err)}
	}
	if r.tradeoffs, err = metrics.NewTradeoffs(tables.Tradeoffs); err != nil {
		return nil, &ConfigError{Source: "tradeoffs", Err: err}
	}
	for m, w := range tables.Uncertainty {
		r.uncertainty[m] = w
	}

	r.actions = tables.Actions
	if len(r.actions) == 0 {
		r.actions = tuning.DefaultActions()
	}
	if err := tuning.ValidateActions(r.actions); err != nil {
		return nil, wrap("actions", err)
	}
	for i, a := range r.actions {
		r.actionIdx[a.Kind] = i
	}

	if r.events, err = events.NewRegistry(cat.Events, r.settings.DefaultEventCooldown); err != nil {
		return nil, &ConfigError{Source: "events", Err: err}
	}
	if err := cascade.Validate(r.events, r.tradeoffs); err != nil {
		return nil, &ConfigError{Source: "events", Err: err}
	}
	for _, ev := range r.events.All() {
		if ev.Kind == events.KindCascade && !reachable(r.events, ev.ID) {
			r.warnings = append(r.warnings, fmt.Sprintf("cascade event %s has no parent", ev.ID))
		}
	}

	for k, v := range tables.Digests {
		r.digests[k] = v
	}
	if cat.Digest != "" {
		r.digests["events"] = cat.Digest
	}
	return r, nil
}

func reachable(reg *events.Registry, id string) bool {
	for _, ev := range reg.All() {
		for _, l := range ev.Cascades {
			if l.Event == id {
				return true
			}
		}
	}
	return false
}

func (r *Registry) Dir() string { return r.dir }
func (r *Registry) Settings() Settings { return r.settings }
func (r *Registry) Model() *metrics.Model { return r.model }
func (r *Registry) Tradeoffs() *metrics.Tradeoffs { return r.tradeoffs }
func (r *Registry) Events() *events.Registry { return r.events }
func (r *Registry) Thresholds() []Threshold { return append([]Threshold(nil), r.thresholds...) }
func (r *Registry) Warnings() []string { return append([]string(nil), r.warnings...) }

// Constant looks a raw constant up by its case-sensitive name.
func (r *Registry) Constant(key string) (tuning.Constant, bool) {
	c, ok := r.constants[key]
	return c, ok
}

func (r *Registry) ConstantKeys() []string { return r.constants.Keys() }

// Uncertainty returns the jitter weight for m; zero when unconfigured.
func (r *Registry) Uncertainty(m metrics.Metric) float64 { return r.uncertainty[m] }

// Actions returns the action table in configured order.
func (r *Registry) Actions() []tuning.Action { return append([]tuning.Action(nil), r.actions...) }

func (r *Registry) Action(kind string) (tuning.Action, bool) {
	i, ok := r.actionIdx[kind]
	if !ok {
		return tuning.Action{}, false
	}
	return r.actions[i], true
}

// Digests maps each source to its sha256.
func (r *Registry) Digests() map[string]string {
	out := make(map[string]string, len(r.digests))
	for k, v := range r.digests {
		out[k] = v
	}
	return out
}

// Digest is one hash over every source digest, in name order.
func (r *Registry) Digest() string {
	keys := make([]string, 0, len(r.digests))
	for k := range r.digests {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, r.digests[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
