package kernel

import (
	"shopkeep.ai/internal/sim/budget"
	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/events"
	"shopkeep.ai/internal/sim/metrics"
)

// TerminalReason ends a campaign. It is a returned signal, not an error.
type TerminalReason string

const (
	Bankruptcy         TerminalReason = "Bankruptcy"
	ReputationCollapse TerminalReason = "ReputationCollapse"
	InspectionFailure  TerminalReason = "InspectionFailure"
	CampaignComplete   TerminalReason = "CampaignComplete"
)

func ParseTerminalReason(s string) (TerminalReason, bool) {
	switch r := TerminalReason(s); r {
	case Bankruptcy, ReputationCollapse, InspectionFailure, CampaignComplete:
		return r, true
	}
	return "", false
}

type EntryKind string

const (
	EntryAction    EntryKind = "action"
	EntryBusiness  EntryKind = "business"
	EntryJitter    EntryKind = "jitter"
	EntryEvent     EntryKind = "event"
	EntryScheduled EntryKind = "scheduled"
	EntryExpired   EntryKind = "expired"
	EntryWarning   EntryKind = "warning"
	EntryTerminal  EntryKind = "terminal"
)

// HistoryEntry is one line of the campaign trace. Deltas are what actually
// changed after clamping.
type HistoryEntry struct {
	Day     int            `json:"day"`
	Seq     int            `json:"seq"`
	Kind    EntryKind      `json:"kind"`
	Action  string         `json:"action,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Event   string         `json:"event,omitempty"`
	Parent  string         `json:"parent,omitempty"`
	Depth   int            `json:"depth,omitempty"`
	Choice  string         `json:"choice,omitempty"`
	Deltas  metrics.Deltas `json:"deltas,omitempty"`
	Note    string         `json:"note,omitempty"`
}

// GameState is one campaign at a point in time. Kernel operations take it by
// value and return a new one; the argument is never modified.
type GameState struct {
	CampaignID string
	Seed       int64
	// Day is the 1-based index of the day in progress.
	Day      int
	Snapshot metrics.Snapshot
	// DayStart is the snapshot the day opened with; alerts are crossings
	// measured against it.
	DayStart  metrics.Snapshot
	Plan      budget.Plan
	History   []HistoryEntry
	Pending   []cascade.PendingEvent
	Cooldowns events.Cooldowns
	Terminal  TerminalReason
	// ConfigDigest identifies the configuration the campaign started under.
	ConfigDigest string
}

func (s GameState) clone() GameState {
	out := s
	out.Plan.Slots = append([]budget.Slot(nil), s.Plan.Slots...)
	out.History = append([]HistoryEntry(nil), s.History...)
	out.Pending = append([]cascade.PendingEvent(nil), s.Pending...)
	out.Cooldowns = s.Cooldowns.Clone()
	return out
}

func (s *GameState) record(e HistoryEntry) {
	e.Day = s.Day
	e.Seq = len(s.History) + 1
	s.History = append(s.History, e)
}

// HistoryFor returns the entries recorded on day.
func (s GameState) HistoryFor(day int) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range s.History {
		if e.Day == day {
			out = append(out, e)
		}
	}
	return out
}
