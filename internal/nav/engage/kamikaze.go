package engage

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// ramDistance is how far past the enemy the ship aims so that it never slows down.
const ramDistance = 1e6

// Kamikaze rams the enemy at full speed, leading a moving target.
type Kamikaze struct {
	p     *navigator.Pilot
	nav   grid.Block
	enemy grid.LastSeen
	dir   r3.Vec
}

func NewKamikaze(p *navigator.Pilot) *Kamikaze {
	return &Kamikaze{p: p, nav: p.NavBlock()}
}

func (k *Kamikaze) Name() string { return "Kamikaze" }

// CanRespond is true while the ship can accelerate forward.
func (k *Kamikaze) CanRespond() bool {
	return k.nav != nil && k.p.Actuator.Acceleration(k.nav.Direction(geom.Forward)) > 0
}

func (k *Kamikaze) CanTarget(grid.LastSeen) bool { return true }

func (k *Kamikaze) UpdateTarget(enemy grid.LastSeen) {
	k.enemy = enemy
}

// Enemy is the grid being rammed.
func (k *Kamikaze) Enemy() grid.LastSeen { return k.enemy }

func (k *Kamikaze) Move() {
	if !k.enemy.Valid() {
		k.p.Actuator.StopMove()
		return
	}
	seen, ok := k.p.Sightings.Lookup(k.enemy.Entity)
	if !ok {
		k.enemy = grid.LastSeen{}
		k.p.Complete(k.Name(), settings.Engage, "target lost")
		return
	}
	k.enemy = seen

	pos := k.nav.Position()
	speed := k.p.Settings.Effective().SpeedTarget
	aim := geom.Intercept(pos, speed, seen.PredictedPosition(k.p.Now()), seen.Velocity)
	k.dir = r3.Sub(aim, pos)
	if geom.IsZero(k.dir) {
		k.dir = k.nav.Direction(geom.Forward)
	}
	k.dir = r3.Unit(k.dir)
	k.p.Actuator.CalcMove(k.nav, r3.Add(pos, r3.Scale(ramDistance, k.dir)), r3.Vec{}, false)
}

func (k *Kamikaze) Rotate() {
	if !k.enemy.Valid() {
		k.p.Actuator.StopRotate()
		return
	}
	k.p.Actuator.CalcRotate(k.nav, k.dir, r3.Vec{})
}

func (k *Kamikaze) AppendStatusText(sb *strings.Builder) {
	if !k.enemy.Valid() {
		return
	}
	sb.WriteString("Ramming an enemy at\n")
	sb.WriteString(navigator.PrettyVec(k.enemy.Position))
	sb.WriteString("\n")
}
