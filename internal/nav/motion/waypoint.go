package motion

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// Waypoint follows a moving entity at a fixed world offset.
type Waypoint struct {
	p      *navigator.Pilot
	nav    grid.Block
	level  settings.LevelName
	target grid.EntityID
	offset r3.Vec
	last   r3.Vec
	closed bool
}

// NewWaypoint installs a navigator that flies to target+offset on level. Targets that cannot
// move on their own, or that are physically attached to the ship, get a FlyTo to where they
// are now instead.
func NewWaypoint(p *navigator.Pilot, level settings.LevelName, target grid.EntityID, offset r3.Vec) (settings.Mover, error) {
	seen, ok := p.Sightings.Lookup(target)
	if !ok {
		return nil, ErrUnknownTarget
	}
	at := r3.Add(seen.PredictedPosition(p.Now()), offset)
	if seen.Kind != grid.KindGrid || p.Attached.IsAttached(target, p.Ship.ID(), grid.AttachPhysics) {
		if p.Log != nil {
			p.Log.Warn("waypoint target cannot be followed, flying to its position", "target", seen.Name)
		}
		return NewFlyTo(p, at, level), nil
	}

	w := &Waypoint{p: p, nav: p.NavBlock(), level: level, target: target, offset: offset, last: at}
	p.Settings.Level(level).SetMover(w)
	return w, nil
}

func (w *Waypoint) Name() string { return "Waypoint" }

func (w *Waypoint) Move() {
	if w.closed {
		return
	}
	seen, ok := w.p.Sightings.Lookup(w.target)
	if !ok || w.p.Settings.DistanceLessThanDestRadius() {
		detail := "arrived"
		if !ok {
			detail = "target closed"
		}
		w.closed = true
		w.p.Complete(w.Name(), w.level, detail)
		w.p.Actuator.StopMove()
		w.p.Actuator.StopRotate()
		return
	}
	w.last = r3.Add(seen.PredictedPosition(w.p.Now()), w.offset)
	w.p.Planner.MoveTo(navigator.Destination{Nav: w.nav, Position: w.last, Velocity: seen.Velocity})
}

func (w *Waypoint) Rotate() {
	faceTravel(w.p, w.nav, w.last)
}

func (w *Waypoint) AppendStatusText(sb *strings.Builder) {
	sb.WriteString("Flying to waypoint: ")
	sb.WriteString(navigator.PrettyVec(w.last))
	sb.WriteString("\n")
}
