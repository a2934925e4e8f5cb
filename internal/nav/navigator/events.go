package navigator

import (
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/settings"
)

type EventKind string

const (
	EventTransition EventKind = "transition"
	EventComplete   EventKind = "complete"
	EventReserve    EventKind = "reserve"
	EventRelease    EventKind = "release"
	EventTimeout    EventKind = "timeout"
)

// Event records something a navigator did that is worth keeping after the tick.
type Event struct {
	Tick      uint64        `json:"tick"`
	Ship      grid.EntityID `json:"ship"`
	Navigator string        `json:"navigator"`
	Kind      EventKind     `json:"kind"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Target    grid.EntityID `json:"target,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

type EventSink interface {
	Record(ev Event)
}

// EventFunc adapts a function to EventSink.
type EventFunc func(Event)

func (f EventFunc) Record(ev Event) { f(ev) }

// Tee records every event on each sink in order.
type Tee []EventSink

func (t Tee) Record(ev Event) {
	for _, s := range t {
		if s != nil {
			s.Record(ev)
		}
	}
}

// Emit stamps ev with the tick and ship and forwards it to the pilot's sink, if any.
func (p *Pilot) Emit(ev Event) {
	if p.Events == nil {
		return
	}
	ev.Tick = p.Now()
	if p.Ship != nil {
		ev.Ship = p.Ship.ID()
	}
	p.Events.Record(ev)
}

// Transition logs and records a state change of a navigator.
func (p *Pilot) Transition(nav, from, to string) {
	if p.Log != nil {
		p.Log.Debug("transition", "nav", nav, "from", from, "to", to)
	}
	p.Emit(Event{Navigator: nav, Kind: EventTransition, From: from, To: to})
}

// Complete finishes the task held on level and records it.
func (p *Pilot) Complete(nav string, level settings.LevelName, detail string) {
	p.Settings.OnTaskComplete(level)
	if p.Log != nil {
		p.Log.Debug("task complete", "nav", nav, "level", level, "detail", detail)
	}
	p.Emit(Event{Navigator: nav, Kind: EventComplete, To: level.String(), Detail: detail})
}
