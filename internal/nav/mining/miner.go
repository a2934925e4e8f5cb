// Package mining flies to the nearest known ore deposit, drills through it and backs out,
// repeating until the drills are full or the ship can no longer carry the load.
package mining

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

var (
	ErrNoDrills   = errors.New("mining: no working drills")
	ErrNoDetector = errors.New("mining: no ore detector")
)

type State uint8

const (
	GetTarget State = iota
	Approaching
	Rotating
	MoveTo
	Mining
	Escape
	Tunnel
	MoveAway
)

var stateNames = [...]string{"GetTarget", "Approaching", "Rotating", "MoveTo", "Mining", "Escape", "Tunnel", "MoveAway"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

const (
	minAccelAbort  = 0.75
	minAccelReturn = 1.0
	stuckSpeed     = 0.01
	settleSpeed    = 10.0
	directionTol   = 0.1
	escapeDistance = 100.0
	mineSpeed      = 1.0
	moveAwaySpeed  = 10.0
	scanReach      = 1000.0
)

// Miner is installed on the Move level as both mover and rotator.
type Miner struct {
	p        *navigator.Pilot
	ores     []string
	navDrill grid.Block
	detector grid.OreDetector
	longest  float64

	state       State
	approach    geom.Line
	deposit     grid.Deposit
	voxelCentre r3.Vec
	hasCentre   bool
	target      r3.Vec

	nextFullCheck uint64
	fullness      float64
	speedLinear   float64
	speedAngular  float64
	closed        bool
}

// New builds a Miner for ores (any ore when empty) and starts searching.
func New(p *navigator.Pilot, ores []string) (*Miner, error) {
	m := &Miner{p: p, ores: ores}

	if nav := p.Settings.Effective().NavigationBlock; nav != nil && nav.Kind() == grid.BlockDrill && nav.Functional() {
		m.navDrill = nav
	} else {
		for _, d := range m.drills() {
			if d.Functional() {
				m.navDrill = d
				break
			}
		}
	}
	if m.navDrill == nil {
		return nil, ErrNoDrills
	}
	for _, b := range p.Index.BlocksOfType(p.Ship.ID(), grid.BlockOreDetector) {
		if od, ok := b.(grid.OreDetector); ok && b.Functional() {
			m.detector = od
			break
		}
	}
	if m.detector == nil {
		return nil, ErrNoDetector
	}

	m.longest = 2 * p.Ship.Radius()
	move := p.Settings.Level(settings.Move)
	if p.Settings.Effective().DestinationRadius > m.longest {
		move.SetDestinationRadius(m.longest)
	}
	move.SetMover(m)
	move.SetRotator(m)
	m.enter(GetTarget)
	return m, nil
}

func (m *Miner) Name() string { return "Miner" }

func (m *Miner) State() State { return m.state }

func (m *Miner) drills() []grid.Block {
	return m.p.Index.BlocksOfType(m.p.Ship.ID(), grid.BlockDrill)
}

func (m *Miner) functionalDrills() int {
	n := 0
	for _, d := range m.drills() {
		if d.Functional() {
			n++
		}
	}
	return n
}

func (m *Miner) transition(next State) State {
	prev := m.state
	m.p.Transition(m.Name(), prev.String(), next.String())
	m.enter(next)
	return prev
}

// enter runs the entry action of next. Entering the current state again re-aims it.
func (m *Miner) enter(next State) {
	m.state = next
	m.speedAngular, m.speedLinear = settleSpeed, settleSpeed
	task := m.p.Settings.Level(settings.Rotate)
	pos := m.navDrill.Position()

	switch next {
	case GetTarget:
		m.enableDrills(false)
		if m.returnHome() {
			return
		}
		m.p.Settings.OnTaskComplete(settings.Rotate)
		m.p.Queue.Do("ore scan", m.scan)
	case Approaching:
		m.target = m.approach.From
	case Rotating:
		m.target = m.deposit.Position
	case MoveTo:
		m.enableDrills(true)
		task.SetIgnoreAsteroid(true)
	case Mining:
		m.target = r3.Add(pos, r3.Scale(2, r3.Sub(m.deposit.Position, pos)))
		task.SetSpeedTarget(mineSpeed)
	case Escape:
		m.enableDrills(false)
		m.target = r3.Add(pos, r3.Scale(escapeDistance, m.navDrill.Direction(geom.Backward)))
	case Tunnel:
		m.enableDrills(true)
		m.target = r3.Add(pos, r3.Scale(escapeDistance, m.navDrill.Direction(geom.Forward)))
	case MoveAway:
		m.enableDrills(false)
		task.SetSpeedTarget(moveAwaySpeed)
	default:
		panic(fmt.Sprintf("mining: unhandled state %v", next))
	}

	m.p.Actuator.StopMove()
	m.p.Actuator.StopRotate()
	m.p.Settings.OnTaskComplete(settings.Waypoint)
}

// returnHome ends the task when the ship should unload instead of mining on.
func (m *Miner) returnHome() bool {
	var c settings.Complaint
	switch {
	case m.drillFullness() >= m.p.Tuning.MinerReturnFullness:
		c = settings.ReturnFull
	case !m.sufficientAcceleration(minAccelReturn):
		c = settings.ReturnHeavy
	case m.p.Actuator.Overworked():
		c = settings.ReturnOverworked
	default:
		return false
	}
	m.p.Settings.Level(settings.Commands).AddComplaint(c)
	m.finish(c.String())
	return true
}

func (m *Miner) finish(detail string) {
	if m.closed {
		return
	}
	m.closed = true
	m.p.Actuator.StopMove()
	m.p.Actuator.StopRotate()
	m.p.Complete(m.Name(), settings.Move, detail)
}

// Close turns the drills off when the miner is superseded.
func (m *Miner) Close() {
	if !m.closed {
		m.enableDrills(false)
	}
	m.closed = true
}

func (m *Miner) enableDrills(on bool) {
	drills := m.drills()
	name := "drills off"
	if on {
		name = "drills on"
	}
	m.p.Queue.Do(name, func() {
		for _, d := range drills {
			if !d.Closed() {
				d.SetEnabled(on)
			}
		}
	})
}

// scan runs from the deferred queue, like an ore detector reporting back a tick later.
func (m *Miner) scan() {
	if m.closed || m.state != GetTarget {
		return
	}
	dep, ok := m.detector.ClosestOre(m.navDrill.Position(), m.ores)
	if !ok {
		if m.p.Log != nil {
			m.p.Log.Info("no ore found", "ores", strings.Join(m.ores, ","))
		}
		m.p.Settings.Level(settings.Commands).AddComplaint(settings.NoOreFound)
		m.finish("no ore")
		return
	}
	m.deposit = dep
	m.voxelCentre, m.hasCentre = m.p.Voxels.Centre(dep.Voxel)

	out := r3.Sub(dep.Position, m.voxelCentre)
	if !m.hasCentre || r3.Norm2(out) < 1e-9 {
		out = r3.Sub(m.navDrill.Position(), dep.Position)
	}
	out = r3.Unit(out)
	surface := m.exteriorPoint(dep, out)
	m.approach = geom.Line{From: r3.Add(surface, r3.Scale(2*m.longest, out)), To: surface}
	m.transition(Approaching)
}

// exteriorPoint walks from far outside the body toward the deposit and returns the last
// point where the ship still fits without touching voxels.
func (m *Miner) exteriorPoint(dep grid.Deposit, out r3.Vec) r3.Vec {
	ray := geom.Capsule{
		Line:   geom.Line{From: r3.Add(dep.Position, r3.Scale(scanReach, out)), To: dep.Position},
		Radius: m.longest * 0.5,
	}
	hit := func(c geom.Capsule) bool { return m.p.Voxels.Intersects(dep.Voxel, c) }
	if p, ok := geom.FirstContact(ray, hit, 1); ok {
		return p
	}
	return dep.Position
}

func (m *Miner) drillFullness() float64 {
	now := m.p.Now()
	if now < m.nextFullCheck {
		return m.fullness
	}
	m.nextFullCheck = now + m.p.Tuning.FullnessCheckInterval

	var sum float64
	n := 0
	for _, d := range m.drills() {
		if inv, ok := d.(grid.Inventory); ok {
			sum += inv.Fullness()
			n++
		}
	}
	if n == 0 {
		m.fullness = math.MaxFloat64
	} else {
		m.fullness = sum / float64(n)
	}
	return m.fullness
}

func (m *Miner) sufficientAcceleration(min float64) bool {
	a := m.p.Actuator
	return a.Acceleration(m.navDrill.Direction(geom.Forward)) >= min &&
		a.Acceleration(m.navDrill.Direction(geom.Backward)) >= min
}

func (m *Miner) isStuck() bool {
	return m.speedAngular < stuckSpeed && m.speedLinear < stuckSpeed
}

// nearVoxel reports whether a sphere around the ship scaled by mult touches any asteroid.
func (m *Miner) nearVoxel(mult float64) bool {
	pos := m.p.Ship.Position()
	sweep := geom.Capsule{Line: geom.Line{From: pos, To: pos}, Radius: m.longest * mult}
	near := false
	m.p.Sightings.Each(func(s grid.LastSeen) bool {
		if s.Kind == grid.KindAsteroid && m.p.Voxels.Intersects(s.Entity, sweep) {
			near = true
			return false
		}
		return true
	})
	return near
}

func (m *Miner) Move() {
	if m.closed {
		return
	}
	if m.functionalDrills() == 0 {
		if !m.nearVoxel(0.5) {
			m.finish("no working drills")
			return
		}
		if m.state != Escape {
			m.transition(Escape)
		}
	}

	v := m.p.Actuator.Velocity()
	w := m.p.Actuator.AngularSpeed()
	m.speedAngular = 0.95*m.speedAngular + 0.1*w*w
	m.speedLinear = 0.95*m.speedLinear + 0.1*r3.Norm2(v)
	dist := m.p.Settings.Effective().Distance

	switch m.state {
	case GetTarget:
		m.p.Actuator.StopMove()
		return

	case Approaching:
		if m.approach.DistanceTo(m.navDrill.Position()) < m.longest {
			m.transition(Rotating)
			return
		}
		if m.isStuck() {
			m.transition(Escape)
			return
		}
		m.p.Planner.MoveTo(navigator.Destination{Nav: m.navDrill, Position: m.target})
		return

	case Rotating:
		m.p.Actuator.StopMove()
		if m.isStuck() {
			m.transition(Escape)
		}
		return

	case MoveTo:
		if dist < m.longest {
			m.transition(Mining)
			return
		}
		if m.isStuck() {
			m.transition(Escape)
			return
		}
		if m.nearVoxel(0.5) {
			m.p.Settings.Level(settings.Rotate).SetSpeedTarget(mineSpeed)
		}

	case Mining:
		if m.drillFullness() > m.p.Tuning.MinerReturnFullness || !m.sufficientAcceleration(minAccelAbort) {
			m.transition(Escape)
			return
		}
		if dist < 1 || m.isStuck() {
			m.transition(Escape)
			return
		}

	case Escape:
		if !m.nearVoxel(0.5) {
			m.transition(MoveAway)
			return
		}
		if dist < 1 {
			m.transition(Escape)
			return
		}
		if m.isStuck() {
			m.transition(Tunnel)
			return
		}

	case Tunnel:
		if !m.nearVoxel(0.5) {
			m.transition(MoveAway)
			return
		}
		if dist < 1 {
			m.transition(Tunnel)
			return
		}
		if m.isStuck() {
			m.transition(Escape)
			return
		}

	case MoveAway:
		if !m.hasCentre || !m.nearVoxel(1) {
			m.transition(GetTarget)
			return
		}
		if m.isStuck() {
			m.transition(Tunnel)
			return
		}
		m.target = r3.Sub(r3.Scale(2, m.navDrill.Position()), m.voxelCentre)

	default:
		panic(fmt.Sprintf("mining: unhandled state %v", m.state))
	}
	m.p.Actuator.CalcMove(m.navDrill, m.target, r3.Vec{}, false)
}

func (m *Miner) Rotate() {
	if m.closed || m.functionalDrills() == 0 {
		return
	}
	dist := m.p.Settings.Effective().Distance

	switch m.state {
	case Approaching:
		if dist < m.longest {
			m.p.Actuator.StopRotate()
			return
		}
	case GetTarget, Escape, MoveAway:
		m.p.Actuator.StopRotate()
		return
	case Rotating:
		if m.p.Settings.DirectionMatched(directionTol) {
			m.transition(MoveTo)
			m.p.Actuator.StopRotate()
			return
		}
	}

	if m.state != Rotating && dist < 3 {
		m.p.Actuator.StopRotate()
		return
	}
	dir := r3.Sub(m.target, m.navDrill.Position())
	if m.state == Approaching {
		m.p.Actuator.CalcRotate(m.p.Ship.Controller(), dir, r3.Vec{})
		return
	}
	m.p.Actuator.CalcRotate(m.navDrill, dir, r3.Vec{})
}

func (m *Miner) AppendStatusText(sb *strings.Builder) {
	if m.state == GetTarget {
		sb.WriteString("Searching for ore\n")
		return
	}
	fmt.Fprintf(sb, "Mining %s\n", m.deposit.Ore)
	switch m.state {
	case Approaching:
		sb.WriteString("Approaching asteroid\n")
	case Rotating:
		sb.WriteString("Rotating to face deposit\n")
		if a := m.p.Settings.Effective().DistanceAngle; !math.IsNaN(a) {
			fmt.Fprintf(sb, "Angle: %.1f°\n", a*180/math.Pi)
		}
	case MoveTo:
		fmt.Fprintf(sb, "Moving to %s\n", navigator.PrettyVec(m.target))
	case Mining:
		fmt.Fprintf(sb, "Mining deposit at %s\n", navigator.PrettyVec(m.deposit.Position))
	case Escape:
		sb.WriteString("Leaving asteroid\n")
	case Tunnel:
		sb.WriteString("Tunneling\n")
	case MoveAway:
		sb.WriteString("Moving away from asteroid\n")
	}
}
