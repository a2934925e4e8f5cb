// Package motion holds the simple movement navigators: stopping, flying to a point or an
// entity, facing a direction and orbiting.
package motion

import (
	"errors"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

var (
	ErrUnknownTarget  = errors.New("motion: target not seen")
	ErrNothingToOrbit = errors.New("motion: nothing to orbit")
	ErrNoFacingBlock  = errors.New("motion: no block to face with")
)

const directionTolerance = 0.1

// ExitDetail is the completion detail of a Stopper that should release control afterwards.
const ExitDetail = "exit"

// Stopper waits for the ship to stop moving and turning.
type Stopper struct {
	p         *navigator.Pilot
	exitAfter bool
	closed    bool
}

// NewStopper installs a Stopper as the Move level mover. Any rotator already installed keeps
// running; the Stopper waits for it to match direction.
func NewStopper(p *navigator.Pilot, exitAfter bool) *Stopper {
	s := &Stopper{p: p, exitAfter: exitAfter}
	p.Actuator.StopMove()
	p.Actuator.StopRotate()
	p.Settings.Level(settings.Move).SetMover(s)
	return s
}

func (s *Stopper) Name() string { return "Stopper" }

func (s *Stopper) Move() {
	if s.closed {
		return
	}
	if r3.Norm2(s.p.Ship.Velocity()) != 0 || s.p.Actuator.AngularSpeed() != 0 {
		s.p.Actuator.StopMove()
		return
	}
	if s.p.Settings.Effective().Rotator != nil && !s.p.Settings.DirectionMatched(directionTolerance) {
		return
	}
	s.p.Actuator.StopRotate()
	detail := "stopped"
	if s.exitAfter {
		detail = ExitDetail
	}
	s.closed = true
	s.p.Complete(s.Name(), settings.Move, detail)
}

func (s *Stopper) Rotate() { s.p.Actuator.StopRotate() }

func (s *Stopper) AppendStatusText(sb *strings.Builder) {
	if s.exitAfter {
		sb.WriteString("Exit after stopping\n")
		return
	}
	sb.WriteString("Stopping\n")
}
