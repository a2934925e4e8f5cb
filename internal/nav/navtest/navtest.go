// Package navtest drives navigators against a simworld in tests.
package navtest

import (
	"testing"

	"gridpilot.ai/internal/nav/deferred"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/reserve"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/nav/tracker"
	"gridpilot.ai/internal/sim/simworld"
	"gridpilot.ai/internal/sim/tuning"
)

// Fleet is the state shared by every ship in one test world.
type Fleet struct {
	World        *simworld.World
	Reservations *reserve.Registry
	Targeters    *tracker.Tracker
	Tuning       tuning.Tuning

	ships []*Ship
}

func NewFleet(w *simworld.World) *Fleet {
	return &Fleet{
		World:        w,
		Reservations: reserve.NewRegistry(),
		Targeters:    tracker.New(),
		Tuning:       tuning.Defaults(),
	}
}

// Ship is one controlled grid with its pilot and the events it produced.
type Ship struct {
	Grid   *simworld.Grid
	Pilot  *navigator.Pilot
	Events []navigator.Event
}

// Add binds g to the fleet.
func (f *Fleet) Add(t testing.TB, g *simworld.Grid) *Ship {
	t.Helper()
	t2 := f.Tuning
	stack := settings.New(settings.Defaults{DestinationRadius: t2.DefaultDestinationRadius, SpeedTarget: t2.DefaultSpeed})
	p, err := f.World.Bind(g.ID(), stack)
	if err != nil {
		t.Fatalf("bind %s: %v", g.Name, err)
	}
	s := &Ship{Grid: g, Pilot: &p}
	p.Queue = deferred.New(nil)
	p.Reservations = f.Reservations
	p.Targeters = f.Targeters
	p.Tuning = t2
	p.Events = navigator.EventFunc(func(ev navigator.Event) { s.Events = append(s.Events, ev) })
	f.ships = append(f.ships, s)
	return s
}

// Step runs every ship's effective mover and rotator (the mover doubles as rotator when
// no level holds one), closes superseded navigators,
// drains deferred commands and advances the world.
func (f *Fleet) Step() {
	for _, s := range f.ships {
		s.tick()
	}
	f.World.Step()
}

// Run steps n times or until done returns true, and reports whether done was reached.
func (f *Fleet) Run(n int, done func() bool) bool {
	for i := 0; i < n; i++ {
		if done != nil && done() {
			return true
		}
		f.Step()
	}
	return done != nil && done()
}

func (s *Ship) tick() {
	st := s.Pilot.Settings
	if m := st.Effective().Mover; m != nil {
		m.Move()
	}
	e := st.Effective()
	if e.Rotator != nil {
		e.Rotator.Rotate()
	} else if r, ok := e.Mover.(settings.Rotator); ok {
		r.Rotate()
	}
	for _, nav := range st.Retired() {
		if c, ok := nav.(navigator.Closer); ok {
			c.Close()
		}
	}
	s.Pilot.Queue.Drain()
}

// Idle reports whether no mover is installed any more.
func (s *Ship) Idle() bool {
	return s.Pilot.Settings.Effective().Mover == nil
}

// Transitions returns the To state of every transition event of nav, in order.
func (s *Ship) Transitions(nav string) []string {
	var out []string
	for _, ev := range s.Events {
		if ev.Kind == navigator.EventTransition && ev.Navigator == nav {
			out = append(out, ev.To)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (s *Ship) Count(kind navigator.EventKind) int {
	n := 0
	for _, ev := range s.Events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the last event of kind.
func (s *Ship) Last(kind navigator.EventKind) (navigator.Event, bool) {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].Kind == kind {
			return s.Events[i], true
		}
	}
	return navigator.Event{}, false
}
