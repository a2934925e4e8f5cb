package motion

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/finder"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

const (
	// availableAccel is the share of thrust an orbit may use to stay on its circle.
	availableAccel = 0.5
	// planetHeightRatio is sin(60°): a grid may sit at most 60° below the orbit's horizon.
	planetHeightRatio = 0.866
)

// Orbiter circles an asteroid, a planet or a named grid at the distance it started from.
// Without gravity every orbit is a fake one: the ship is pushed around the circle at the
// fastest speed its thrust can hold.
type Orbiter struct {
	p      *navigator.Pilot
	nav    grid.Block
	finder *finder.Finder

	entity   grid.LastSeen
	altitude float64
	speed    float64
	axis     r3.Vec
	offset   r3.Vec
	face     r3.Vec
	dest     r3.Vec
	flyTo    bool
}

// NewOrbiter installs an Orbiter on the Rotate level. entity is "asteroid", "planet" or the
// name of a grid.
func NewOrbiter(p *navigator.Pilot, entity string) (*Orbiter, error) {
	o := &Orbiter{p: p, nav: p.NavBlock(), flyTo: true}
	switch strings.ToLower(grid.NormalizeName(entity)) {
	case "asteroid":
		if !o.orbitClosest(grid.KindAsteroid) {
			return nil, ErrNothingToOrbit
		}
	case "planet":
		if !o.orbitClosest(grid.KindPlanet) {
			return nil, ErrNothingToOrbit
		}
	default:
		o.finder = finder.New(p, finder.Options{GridName: entity, MustBeRecent: true})
	}
	p.Settings.Level(settings.Rotate).SetMover(o)
	return o, nil
}

func (o *Orbiter) Name() string { return "Orbiter" }

// Altitude is the orbit radius, zero while there is nothing to orbit.
func (o *Orbiter) Altitude() float64 { return o.altitude }

func (o *Orbiter) Speed() float64 { return o.speed }

func (o *Orbiter) orbitClosest(kind grid.EntityKind) bool {
	pos := o.nav.Position()
	var best grid.LastSeen
	bestD := math.Inf(1)
	o.p.Sightings.Each(func(s grid.LastSeen) bool {
		if s.Kind == kind {
			if d := geom.Dist2(pos, s.Position); d < bestD {
				best, bestD = s, d
			}
		}
		return true
	})
	if !best.Valid() {
		return false
	}
	o.setEntity(best)
	o.calcSpeed()
	return true
}

// setEntity picks the orbit's centre and axis. Passing an invalid sighting clears the orbit.
func (o *Orbiter) setEntity(e grid.LastSeen) {
	o.entity = e
	if !e.Valid() {
		o.altitude = 0
		o.offset = r3.Vec{}
		return
	}
	o.p.Settings.Level(settings.Rotate).SetDestinationEntity(e.Entity)

	navAt := o.nav.Position()
	if e.Kind == grid.KindGrid {
		if planet, ok := o.insidePlanet(navAt); ok {
			o.axis = r3.Unit(r3.Sub(e.Position, planet.Position))
			maxHeight := o.altitude * planetHeightRatio
			if o.altitude < 1 {
				maxHeight = geom.Dist(navAt, e.Position) * planetHeightRatio
			}
			axis := geom.Line{To: r3.Scale(maxHeight, o.axis)}
			closest := r3.Add(axis.ClosestPoint(r3.Sub(navAt, e.Position)), e.Position)
			o.offset = r3.Sub(closest, e.Position)
			if o.altitude < 1 {
				o.altitude = geom.Dist(navAt, closest)
			} else {
				o.altitude = math.Sqrt(o.altitude*o.altitude - geom.Dist2(closest, e.Position))
			}
			o.debug("orbiting grid near a planet", "planet", planet.Name, "altitude", o.altitude)
			return
		}
	}
	if o.altitude < 1 {
		o.altitude = geom.Dist(navAt, e.Position)
	}
	o.axis = geom.Perpendicular(r3.Sub(e.Position, navAt))
	o.debug("orbit set", "entity", e.Name, "altitude", o.altitude)
}

func (o *Orbiter) insidePlanet(at r3.Vec) (grid.LastSeen, bool) {
	var found grid.LastSeen
	o.p.Sightings.Each(func(s grid.LastSeen) bool {
		if s.Kind == grid.KindPlanet && geom.Dist2(at, s.Position) < s.Radius*s.Radius {
			found = s
			return false
		}
		return true
	})
	return found, found.Valid()
}

// calcSpeed is the fastest circular speed, capped by the speed target, that the ship's
// thrust can hold at the current altitude.
func (o *Orbiter) calcSpeed() {
	top := o.p.Settings.Level(settings.Rotate).SpeedTarget()
	accel := o.p.Actuator.Acceleration(o.nav.Direction(geom.Forward)) * availableAccel
	if o.altitude <= 0 || top*top/o.altitude < accel {
		o.speed = top
	} else {
		o.speed = math.Sqrt(accel * o.altitude)
	}
	o.debug("orbit speed", "speed", o.speed, "accel", accel)
}

func (o *Orbiter) debug(msg string, kv ...any) {
	if o.p.Log != nil {
		o.p.Log.Debug(msg, kv...)
	}
}

func (o *Orbiter) Move() {
	if o.finder != nil {
		o.finder.Update()
		found, ok := o.finder.Grid()
		if !ok {
			o.setEntity(grid.LastSeen{})
			o.p.Actuator.StopMove()
			return
		}
		if o.entity.Valid() && o.entity.Entity != found.Entity {
			o.setEntity(grid.LastSeen{})
		}
		if !o.entity.Valid() {
			o.setEntity(found)
			o.calcSpeed()
		}
		o.entity = found
	} else if seen, ok := o.p.Sightings.Lookup(o.entity.Entity); ok {
		o.entity = seen
	}

	centre := r3.Add(o.entity.Position, o.offset)
	o.face = r3.Sub(centre, o.nav.Position())
	o.face = r3.Sub(o.face, r3.Scale(r3.Dot(o.face, o.axis), o.axis))
	alt := r3.Norm(o.face)
	if alt == 0 {
		o.face = geom.Perpendicular(o.axis)
	} else {
		o.face = r3.Scale(1/alt, o.face)
	}
	around := r3.Cross(o.face, o.axis)
	o.dest = r3.Sub(centre, r3.Scale(o.altitude, o.face))

	speed := o.speed
	if alt > o.altitude {
		speed = math.Max(1, o.speed-alt+o.altitude)
	}
	add := r3.Scale(speed, around)
	if !o.flyTo && o.entity.Kind != grid.KindPlanet {
		add = r3.Add(add, r3.Scale(o.speed*o.speed/o.altitude, o.face))
	}
	o.p.Planner.MoveTo(navigator.Destination{Nav: o.nav, Position: o.dest, Velocity: r3.Add(o.entity.Velocity, add)})
}

func (o *Orbiter) Rotate() {
	switch {
	case !o.entity.Valid():
		o.flyTo = true
		o.p.Actuator.StopRotate()
	case o.entity.Kind == grid.KindPlanet:
		o.flyTo = false
		o.p.Actuator.CalcRotate(o.nav, o.face, r3.Vec{})
	case o.p.Settings.DistanceLessThan(o.speed):
		if o.flyTo {
			o.calcSpeed()
			o.flyTo = false
		}
		o.p.Actuator.CalcRotate(o.nav, o.face, r3.Vec{})
	default:
		o.flyTo = true
		o.p.Actuator.CalcRotate(o.nav, r3.Sub(o.dest, o.nav.Position()), r3.Vec{})
	}
}

func (o *Orbiter) AppendStatusText(sb *strings.Builder) {
	if !o.entity.Valid() {
		sb.WriteString("Searching for: ")
		sb.WriteString(o.finder.GridName())
		sb.WriteString("\n")
		return
	}
	if o.flyTo {
		sb.WriteString("Orbiter moving to: ")
	} else {
		sb.WriteString("Orbiting: ")
	}
	switch {
	case o.entity.Kind == grid.KindAsteroid:
		sb.WriteString("Asteroid")
	case o.entity.Kind == grid.KindPlanet:
		sb.WriteString("Planet")
	case o.p.Relations.Hostile(o.entity.Entity):
		sb.WriteString("Enemy")
	default:
		sb.WriteString(o.entity.Name)
	}
	sb.WriteString("\nOrbital speed: ")
	sb.WriteString(navigator.PrettySpeed(o.speed))
	sb.WriteString("\n")
}
