package events

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrDuplicateEvent = errors.New("duplicate event")
)

// Registry is a read-only arena of events indexed by id. It is shared by the
// evaluator and the cascade engine.
type Registry struct {
	byID   map[string]*Event
	ids    []string
	byKind map[Kind][]*Event
}

// NewRegistry indexes evs. Events with a negative cooldown take
// defaultCooldown. Every cascade link must name a registered event.
func NewRegistry(evs []Event, defaultCooldown int) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]*Event, len(evs)),
		byKind: map[Kind][]*Event{},
	}
	for i := range evs {
		ev := evs[i]
		if ev.ID == "" {
			return nil, fmt.Errorf("event at index %d: empty id", i)
		}
		if _, dup := r.byID[ev.ID]; dup {
			return nil, fmt.Errorf("%w %q", ErrDuplicateEvent, ev.ID)
		}
		if ev.Cooldown < 0 {
			ev.Cooldown = defaultCooldown
		}
		r.byID[ev.ID] = &ev
		r.ids = append(r.ids, ev.ID)
	}
	sort.Strings(r.ids)
	for _, id := range r.ids {
		ev := r.byID[id]
		r.byKind[ev.Kind] = append(r.byKind[ev.Kind], ev)
		for _, l := range ev.Cascades {
			if _, ok := r.byID[l.Event]; !ok {
				return nil, fmt.Errorf("event %q cascades to %w %q", id, ErrUnknownEvent, l.Event)
			}
		}
	}
	return r, nil
}

func (r *Registry) Get(id string) (*Event, bool) {
	ev, ok := r.byID[id]
	return ev, ok
}

// ByKind returns the events of one kind in id order.
func (r *Registry) ByKind(k Kind) []*Event { return r.byKind[k] }

// All returns every event in id order.
func (r *Registry) All() []*Event {
	out := make([]*Event, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) IDs() []string { return append([]string(nil), r.ids...) }

func (r *Registry) Len() int { return len(r.ids) }

// Cooldowns maps event id to the last day it fired. It belongs to the game
// state, not the registry.
type Cooldowns map[string]int

func (c Cooldowns) Clone() Cooldowns {
	out := make(Cooldowns, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Available reports whether ev may fire on day: never fired, or at least
// ev.Cooldown days since it last did.
func (c Cooldowns) Available(ev *Event, day int) bool {
	last, ok := c[ev.ID]
	return !ok || day-last >= ev.Cooldown
}

// Mark records a firing in place.
func (c Cooldowns) Mark(id string, day int) { c[id] = day }
