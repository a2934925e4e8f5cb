package simworld

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// rollWindow is how close forward must be before the actuator starts matching up.
const rollWindow = 0.2

// Actuator sets velocity and orientation directly. Every call records geometry on the
// innermost settings level the way a thruster controller would.
type Actuator struct {
	g     *Grid
	stack *settings.Stack
}

func (a *Actuator) StopMove() {
	if a.g.dockedTo == nil {
		a.g.Vel = r3.Vec{}
	}
}

func (a *Actuator) StopRotate() { a.g.angular = 0 }

func (a *Actuator) CalcMove(nav grid.Block, target, targetVelocity r3.Vec, landing bool) {
	offset := r3.Sub(target, nav.Position())
	dist := r3.Norm(offset)
	a.stack.Current().SetDistance(dist)
	if a.g.dockedTo != nil || a.g.Static {
		return
	}

	e := a.stack.Effective()
	limit := math.Min(e.SpeedTarget, e.SpeedMaxRelative)
	if landing {
		limit = math.Min(limit, math.Max(0.5, dist))
	}
	rel := geom.ClampLength(r3.Scale(a.g.Gain, offset), limit)
	a.g.Vel = r3.Add(targetVelocity, rel)
}

func (a *Actuator) CalcRotate(nav grid.Block, direction, up r3.Vec) {
	if geom.IsZero(direction) {
		a.StopRotate()
		return
	}
	step := a.g.TurnRate * dt
	if a.g.dockedTo != nil {
		step = 0
	}

	f := nav.Direction(geom.Forward)
	angle := geom.Angle(f, direction)
	turned := 0.0
	if angle > 1e-9 && step > 0 {
		axis := r3.Cross(f, direction)
		if r3.Norm2(axis) < 1e-12 {
			axis = nav.Direction(geom.Up)
		}
		turned = math.Min(angle, step)
		a.g.rotate(r3.Unit(axis), turned)
	}
	residual := angle - turned

	if !geom.IsZero(up) && residual < rollWindow {
		fNow := nav.Direction(geom.Forward)
		want := r3.Sub(up, r3.Scale(r3.Dot(up, fNow), fNow))
		if r3.Norm2(want) > 1e-12 {
			u := nav.Direction(geom.Up)
			roll := geom.Angle(u, want)
			rolled := 0.0
			if roll > 1e-9 && step > 0 {
				axis := r3.Cross(u, want)
				if r3.Norm2(axis) < 1e-12 {
					axis = fNow
				}
				rolled = math.Min(roll, step)
				a.g.rotate(r3.Unit(axis), rolled)
			}
			residual = math.Max(residual, roll-rolled)
			turned += rolled
		}
	}
	a.g.angular = turned / dt
	a.stack.Current().SetDistanceAngle(residual)
}

func (a *Actuator) Velocity() r3.Vec       { return a.g.Vel }
func (a *Actuator) AngularSpeed() float64 { return a.g.angular }

// Acceleration drops as cargo fills up.
func (a *Actuator) Acceleration(r3.Vec) float64 {
	return a.g.MaxAccel * (1 - 0.5*a.cargoFullness())
}

func (a *Actuator) Overworked() bool { return a.g.Overloaded }

func (a *Actuator) cargoFullness() float64 {
	var n, c int
	for _, b := range a.g.Blocks() {
		if b.capacity > 0 {
			n += b.count()
			c += b.capacity
		}
	}
	if c == 0 {
		return 0
	}
	return float64(n) / float64(c)
}

// Planner steers around other grids that sit between the ship and its destination.
type Planner struct {
	w           *World
	act         *Actuator
	obstructing grid.EntityID
}

func (p *Planner) MoveTo(d navigator.Destination) {
	p.obstructing = 0
	e := p.act.stack.Effective()
	if e.PathfinderCanChangeCourse {
		if ob, detour, ok := p.obstacle(d, e); ok {
			p.obstructing = ob
			p.act.CalcMove(d.Nav, detour, d.Velocity, false)
			p.act.stack.Current().SetDistance(geom.Dist(d.Nav.Position(), d.Position))
			return
		}
	}
	p.act.CalcMove(d.Nav, d.Position, d.Velocity, d.Landing)
}

func (p *Planner) obstacle(d navigator.Destination, e settings.Effective) (grid.EntityID, r3.Vec, bool) {
	self := p.act.g
	from := d.Nav.Position()
	path := geom.Line{From: from, To: d.Position}
	dest := p.w.gridOf(e.DestinationEntity)
	ignore := p.w.gridOf(e.IgnoreEntity)

	for _, g := range p.w.grids {
		if g == self || g.closed || g.id == dest || g.id == ignore {
			continue
		}
		if p.w.IsAttached(g.id, self.id, grid.AttachAny) {
			continue
		}
		clear := g.radius + self.radius
		if geom.Dist(d.Position, g.Pos) <= clear || geom.Dist(from, g.Pos) <= clear {
			continue
		}
		closest := path.ClosestPoint(g.Pos)
		if geom.Dist(closest, g.Pos) > clear {
			continue
		}
		side := r3.Sub(closest, g.Pos)
		if r3.Norm2(side) < 1e-9 {
			side = geom.Perpendicular(r3.Sub(d.Position, from))
		}
		detour := r3.Add(g.Pos, r3.Scale(clear+5, r3.Unit(side)))
		return g.id, detour, true
	}
	return 0, r3.Vec{}, false
}

func (p *Planner) HoldPosition(anchor grid.EntityID) {
	vel := r3.Vec{}
	if g, ok := p.w.Grid(p.w.gridOf(anchor)); ok {
		vel = g.Vel
	}
	nav := ship{p.act.g}.Controller()
	if nav == nil {
		p.act.StopMove()
		return
	}
	p.act.CalcMove(nav, nav.Position(), vel, false)
}

func (p *Planner) CanRotate() bool { return !p.act.g.RotationBlocked }

func (p *Planner) ObstructingEntity() (grid.EntityID, bool) {
	return p.obstructing, p.obstructing != 0
}
