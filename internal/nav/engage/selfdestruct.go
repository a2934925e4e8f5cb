package engage

import (
	"fmt"
	"strings"

	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// SelfDestruct starts the countdown on every warhead of the ship once an enemy is in range.
// Arming happens once; after that the ship just holds still.
type SelfDestruct struct {
	p     *navigator.Pilot
	armed bool
	enemy grid.LastSeen
}

func NewSelfDestruct(p *navigator.Pilot) *SelfDestruct {
	return &SelfDestruct{p: p}
}

func (s *SelfDestruct) Name() string { return "SelfDestruct" }

func (s *SelfDestruct) Armed() bool { return s.armed }

func (s *SelfDestruct) warheads() []grid.Warhead {
	var out []grid.Warhead
	for _, b := range s.p.Index.BlocksOfType(s.p.Ship.ID(), grid.BlockWarhead) {
		if w, ok := b.(grid.Warhead); ok && !w.Closed() {
			out = append(out, w)
		}
	}
	return out
}

// CanRespond is true while there is a warhead left, or the countdown already runs.
func (s *SelfDestruct) CanRespond() bool {
	return s.armed || len(s.warheads()) > 0
}

func (s *SelfDestruct) CanTarget(grid.LastSeen) bool { return true }

func (s *SelfDestruct) UpdateTarget(enemy grid.LastSeen) {
	s.enemy = enemy
	if !enemy.Valid() || s.armed {
		return
	}
	s.armed = true
	warheads := s.warheads()
	s.p.Transition(s.Name(), "Ready", "Armed")
	if s.p.Log != nil {
		s.p.Log.Warn("self-destruct armed", "ship", s.p.Ship.Name(), "enemy", enemy.Name, "warheads", len(warheads))
	}
	s.p.Queue.Enqueue("arm warheads", func() error {
		n := 0
		for _, w := range warheads {
			if !w.Closed() {
				w.StartCountdown()
				n++
			}
		}
		if n == 0 {
			return fmt.Errorf("self-destruct: all %d warheads gone before arming", len(warheads))
		}
		return nil
	})
}

func (s *SelfDestruct) Move() {
	if s.enemy.Valid() {
		if _, ok := s.p.Sightings.Lookup(s.enemy.Entity); !ok {
			s.enemy = grid.LastSeen{}
			s.p.Complete(s.Name(), settings.Engage, "target lost")
			return
		}
	}
	s.p.Actuator.StopMove()
}

func (s *SelfDestruct) Rotate() { s.p.Actuator.StopRotate() }

func (s *SelfDestruct) AppendStatusText(sb *strings.Builder) {
	if s.armed {
		sb.WriteString("Self-destruct armed\n")
		return
	}
	sb.WriteString("Self-destruct ready\n")
}
