package motion

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// FlyTo flies the navigation block to a fixed point.
type FlyTo struct {
	p        *navigator.Pilot
	nav      grid.Block
	location r3.Vec
	level    settings.LevelName
	closed   bool
}

// NewFlyTo installs a FlyTo as the mover of level. It also rotates when no rotator is set.
func NewFlyTo(p *navigator.Pilot, location r3.Vec, level settings.LevelName) *FlyTo {
	f := &FlyTo{p: p, nav: p.NavBlock(), location: location, level: level}
	p.Settings.Level(level).SetMover(f)
	return f
}

func (f *FlyTo) Name() string { return "FlyTo" }

func (f *FlyTo) Location() r3.Vec { return f.location }

func (f *FlyTo) Move() {
	if f.closed {
		return
	}
	if f.p.Settings.DistanceLessThanDestRadius() {
		f.closed = true
		f.p.Complete(f.Name(), f.level, "arrived")
		f.p.Actuator.StopMove()
		f.p.Actuator.StopRotate()
		return
	}
	f.p.Planner.MoveTo(navigator.Destination{Nav: f.nav, Position: f.location})
}

func (f *FlyTo) Rotate() {
	faceTravel(f.p, f.nav, f.location)
}

func (f *FlyTo) AppendStatusText(sb *strings.Builder) {
	sb.WriteString("Moving to ")
	if f.level == settings.Engage {
		sb.WriteString("waypoint: ")
	}
	sb.WriteString(navigator.PrettyVec(f.location))
	sb.WriteString("\n")
}

// faceTravel points nav at dest while the ship is more than twice its size away, and
// stops turning once it is closer.
func faceTravel(p *navigator.Pilot, nav grid.Block, dest r3.Vec) {
	if p.Settings.Effective().Distance > 4*p.Ship.Radius() {
		p.Actuator.CalcRotate(nav, r3.Sub(dest, nav.Position()), r3.Vec{})
		return
	}
	p.Actuator.StopRotate()
}
