package config

import (
	"fmt"
	"math"
	"strings"

	"shopkeep.ai/internal/sim/budget"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/resolver"
	"shopkeep.ai/internal/sim/tuning"
)

// Business holds the daily trading step constants.
type Business struct {
	DailyFixedCost        float64
	PricePerCustomer      float64
	CustomersPerDemand    float64
	InventoryPerCustomer  float64
	FatiguePerCustomer    float64
	FatigueRecovery       float64
	UnmetDemandReputation float64
	DemandNoiseAmplitude  float64
	DemandNoisePeriod     float64
}

// Settings are the well-known constants in typed form.
type Settings struct {
	CampaignDays      int
	BaseActionSlots   int
	MaxActionSlots    int
	SlotIncrementDays int

	MaxCascadeDepth      int
	MaxEventsPerDay      int
	MaxPendingEvents     int
	DefaultEventCooldown int

	ProbMin         float64
	ProbMax         float64
	CritSuccessBand float64
	CritFailureBand float64

	HappinessBonus        float64
	SufferingPenalty      float64
	SufferingPenaltyFloor float64
	ReputationBonus       float64
	LowCashThreshold      float64
	LowCashPenalty        float64

	JitterEnabled bool
	JitterScale   float64

	BankruptcyMoney    float64
	ReputationCollapse float64

	Business Business

	SaveRetention int
	SaveCompress  bool
}

func DefaultSettings() Settings {
	return Settings{
		CampaignDays:      730,
		BaseActionSlots:   3,
		MaxActionSlots:    5,
		SlotIncrementDays: 120,

		MaxCascadeDepth:      4,
		MaxEventsPerDay:      3,
		MaxPendingEvents:     64,
		DefaultEventCooldown: 0,

		ProbMin:         0.05,
		ProbMax:         0.95,
		CritSuccessBand: 0.2,
		CritFailureBand: 0.3,

		HappinessBonus:        0.002,
		SufferingPenalty:      0.002,
		SufferingPenaltyFloor: 50,
		ReputationBonus:       0.001,
		LowCashThreshold:      1000,
		LowCashPenalty:        0.1,

		JitterEnabled: true,
		JitterScale:   0.01,

		BankruptcyMoney:    0,
		ReputationCollapse: 5,

		Business: Business{
			DailyFixedCost:        350,
			PricePerCustomer:      12,
			CustomersPerDemand:    1.2,
			InventoryPerCustomer:  0.25,
			FatiguePerCustomer:    0.15,
			FatigueRecovery:       8,
			UnmetDemandReputation: 0.05,
			DemandNoiseAmplitude:  0.25,
			DemandNoisePeriod:     28,
		},

		SaveRetention: 5,
		SaveCompress:  false,
	}
}

// Budget is the slot allotment rule set.
func (s Settings) Budget() budget.Rules {
	return budget.Rules{Base: s.BaseActionSlots, Max: s.MaxActionSlots, Interval: s.SlotIncrementDays}
}

// Modifiers is the probability model for player actions.
func (s Settings) Modifiers() resolver.Modifiers {
	return resolver.Modifiers{
		HappinessBonus:   s.HappinessBonus,
		SufferingPenalty: s.SufferingPenalty,
		SufferingFloor:   s.SufferingPenaltyFloor,
		ReputationBonus:  s.ReputationBonus,
		LowCashThreshold: s.LowCashThreshold,
		LowCashPenalty:   s.LowCashPenalty,
		ProbMin:          s.ProbMin,
		ProbMax:          s.ProbMax,
		CritSuccessBand:  s.CritSuccessBand,
		CritFailureBand:  s.CritFailureBand,
	}
}

type binding struct {
	key   string
	i     *int
	f     *float64
	b     *bool
	check func() error
}

func atLeast(v *int, lo int) func() error {
	return func() error {
		if *v < lo {
			return fmt.Errorf("%w: %d < %d", tuning.ErrOutOfRange, *v, lo)
		}
		return nil
	}
}

func unit(v *float64) func() error {
	return func() error {
		if *v < 0 || *v > 1 {
			return fmt.Errorf("%w: %v not in [0,1]", tuning.ErrOutOfRange, *v)
		}
		return nil
	}
}

func nonNegative(v *float64) func() error {
	return func() error {
		if *v < 0 {
			return fmt.Errorf("%w: %v < 0", tuning.ErrOutOfRange, *v)
		}
		return nil
	}
}

func (s *Settings) bindings() []binding {
	b := &s.Business
	return []binding{
		{key: "CAMPAIGN_DAYS", i: &s.CampaignDays, check: atLeast(&s.CampaignDays, 1)},
		{key: "BASE_ACTION_SLOTS", i: &s.BaseActionSlots, check: atLeast(&s.BaseActionSlots, 1)},
		{key: "MAX_ACTION_SLOTS", i: &s.MaxActionSlots, check: atLeast(&s.MaxActionSlots, 1)},
		{key: "SLOT_INCREMENT_DAYS", i: &s.SlotIncrementDays, check: atLeast(&s.SlotIncrementDays, 0)},
		{key: "MAX_CASCADE_DEPTH", i: &s.MaxCascadeDepth, check: atLeast(&s.MaxCascadeDepth, 0)},
		{key: "MAX_EVENTS_PER_DAY", i: &s.MaxEventsPerDay, check: atLeast(&s.MaxEventsPerDay, 0)},
		{key: "MAX_PENDING_EVENTS", i: &s.MaxPendingEvents, check: atLeast(&s.MaxPendingEvents, 0)},
		{key: "DEFAULT_EVENT_COOLDOWN", i: &s.DefaultEventCooldown, check: atLeast(&s.DefaultEventCooldown, 0)},
		{key: "PROB_MIN", f: &s.ProbMin, check: unit(&s.ProbMin)},
		{key: "PROB_MAX", f: &s.ProbMax, check: unit(&s.ProbMax)},
		{key: "CRIT_SUCCESS_BAND", f: &s.CritSuccessBand, check: unit(&s.CritSuccessBand)},
		{key: "CRIT_FAILURE_BAND", f: &s.CritFailureBand, check: unit(&s.CritFailureBand)},
		{key: "HAPPINESS_BONUS", f: &s.HappinessBonus},
		{key: "SUFFERING_PENALTY", f: &s.SufferingPenalty},
		{key: "SUFFERING_PENALTY_FLOOR", f: &s.SufferingPenaltyFloor},
		{key: "REPUTATION_BONUS", f: &s.ReputationBonus},
		{key: "LOW_CASH_THRESHOLD", f: &s.LowCashThreshold, check: nonNegative(&s.LowCashThreshold)},
		{key: "LOW_CASH_PENALTY", f: &s.LowCashPenalty, check: unit(&s.LowCashPenalty)},
		{key: "JITTER_ENABLED", b: &s.JitterEnabled},
		{key: "JITTER_SCALE", f: &s.JitterScale, check: nonNegative(&s.JitterScale)},
		{key: "BANKRUPTCY_MONEY", f: &s.BankruptcyMoney, check: nonNegative(&s.BankruptcyMoney)},
		{key: "REPUTATION_COLLAPSE", f: &s.ReputationCollapse},
		{key: "DAILY_FIXED_COST", f: &b.DailyFixedCost, check: nonNegative(&b.DailyFixedCost)},
		{key: "PRICE_PER_CUSTOMER", f: &b.PricePerCustomer, check: nonNegative(&b.PricePerCustomer)},
		{key: "CUSTOMERS_PER_DEMAND", f: &b.CustomersPerDemand, check: nonNegative(&b.CustomersPerDemand)},
		{key: "INVENTORY_PER_CUSTOMER", f: &b.InventoryPerCustomer, check: nonNegative(&b.InventoryPerCustomer)},
		{key: "FATIGUE_PER_CUSTOMER", f: &b.FatiguePerCustomer, check: nonNegative(&b.FatiguePerCustomer)},
		{key: "FATIGUE_RECOVERY", f: &b.FatigueRecovery, check: nonNegative(&b.FatigueRecovery)},
		{key: "UNMET_DEMAND_REPUTATION", f: &b.UnmetDemandReputation, check: nonNegative(&b.UnmetDemandReputation)},
		{key: "DEMAND_NOISE_AMPLITUDE", f: &b.DemandNoiseAmplitude, check: unit(&b.DemandNoiseAmplitude)},
		{key: "DEMAND_NOISE_PERIOD", f: &b.DemandNoisePeriod, check: nonNegative(&b.DemandNoisePeriod)},
		{key: "SAVE_RETENTION", i: &s.SaveRetention, check: atLeast(&s.SaveRetention, 1)},
		{key: "SAVE_COMPRESS", b: &s.SaveCompress},
	}
}

// IsSettingKey reports whether key is one of the well-known constants.
func IsSettingKey(key string) bool {
	var s Settings
	for _, b := range s.bindings() {
		if b.key == key {
			return true
		}
	}
	return false
}

// overlay copies the constants that name settings onto s.
func (s *Settings) overlay(c tuning.Constants) error {
	for _, b := range s.bindings() {
		v, ok := c[b.key]
		if !ok {
			continue
		}
		switch {
		case b.i != nil:
			if v.Type != "int" {
				return &ConfigError{Source: "constants", Key: b.key, Err: fmt.Errorf("%w: want int, got %s", tuning.ErrBadType, v.Type)}
			}
			*b.i = int(v.Num)
		case b.f != nil:
			if v.Type != "int" && v.Type != "float" {
				return &ConfigError{Source: "constants", Key: b.key, Err: fmt.Errorf("%w: want float, got %s", tuning.ErrBadType, v.Type)}
			}
			*b.f = v.Num
		case b.b != nil:
			if v.Type != "bool" {
				return &ConfigError{Source: "constants", Key: b.key, Err: fmt.Errorf("%w: want bool, got %s", tuning.ErrBadType, v.Type)}
			}
			*b.b = v.Bool
		}
	}
	return s.Validate()
}

// Validate checks every bound and the cross-field constraints.
func (s *Settings) Validate() error {
	for _, b := range s.bindings() {
		if b.f != nil && (math.IsNaN(*b.f) || math.IsInf(*b.f, 0)) {
			return &ConfigError{Source: "constants", Key: b.key, Err: fmt.Errorf("%w: not finite", tuning.ErrOutOfRange)}
		}
		if b.check == nil {
			continue
		}
		if err := b.check(); err != nil {
			return &ConfigError{Source: "constants", Key: b.key, Err: err}
		}
	}
	if s.MaxActionSlots < s.BaseActionSlots {
		return &ConfigError{Source: "constants", Key: "MAX_ACTION_SLOTS",
			Err: fmt.Errorf("%w: below BASE_ACTION_SLOTS", tuning.ErrOutOfRange)}
	}
	if s.ProbMin > s.ProbMax {
		return &ConfigError{Source: "constants", Key: "PROB_MIN",
			Err: fmt.Errorf("%w: above PROB_MAX", tuning.ErrOutOfRange)}
	}
	return nil
}

// Threshold is a warning level read from a WARN_<Metric>_BELOW or
// WARN_<Metric>_ABOVE constant.
type Threshold struct {
	Metric metrics.Metric
	Above  bool
	Value  float64
}

func (t Threshold) Key() string {
	dir := "BELOW"
	if t.Above {
		dir = "ABOVE"
	}
	return "WARN_" + t.Metric.String() + "_" + dir
}

// Crossed reports whether moving from before to after crosses the level in
// the warned direction.
func (t Threshold) Crossed(before, after float64) bool {
	if t.Above {
		return before <= t.Value && after > t.Value
	}
	return before >= t.Value && after < t.Value
}

func thresholds(c tuning.Constants) ([]Threshold, error) {
	var out []Threshold
	for _, key := range c.Keys() {
		if !strings.HasPrefix(key, "WARN_") {
			continue
		}
		rest := strings.TrimPrefix(key, "WARN_")
		var t Threshold
		switch {
		case strings.HasSuffix(rest, "_BELOW"):
			rest = strings.TrimSuffix(rest, "_BELOW")
		case strings.HasSuffix(rest, "_ABOVE"):
			rest = strings.TrimSuffix(rest, "_ABOVE")
			t.Above = true
		default:
			return nil, &ConfigError{Source: "constants", Key: key, Err: fmt.Errorf("want WARN_<Metric>_BELOW or _ABOVE")}
		}
		m, err := metrics.ParseMetric(rest)
		if err != nil {
			return nil, &ConfigError{Source: "constants", Key: key, Err: err}
		}
		v, ok := c.Float(key)
		if !ok {
			return nil, &ConfigError{Source: "constants", Key: key, Err: fmt.Errorf("%w: want a number", tuning.ErrBadType)}
		}
		t.Metric, t.Value = m, v
		out = append(out, t)
	}
	return out, nil
}
