// Package dock flies to a grid and, when given a landing block, lines up with and attaches
// to a block on that grid.
package dock

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/finder"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/reserve"
	"gridpilot.ai/internal/nav/settings"
)

// State is the landing progress. States are ordered; a higher state is further along.
type State uint8

const (
	None State = iota
	Approach
	Holding
	LineUp
	Landing
	Catch
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Approach:
		return "Approach"
	case Holding:
		return "Holding"
	case LineUp:
		return "LineUp"
	case Landing:
		return "Landing"
	case Catch:
		return "Catch"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

const (
	directionTolerance = 0.1
	lineTolerance      = 1.0
	lineUpGap          = 1.0
	contactGap         = 0.1
	lineLength         = 1000.0
)

// Options configure a FlyToGrid.
type Options struct {
	GridName   string
	Attachment grid.AttachmentKind
	// Finder replaces the default name search, e.g. to fly to an enemy.
	Finder *finder.Finder
	// LandingBlock overrides the landing block from the settings stack.
	LandingBlock grid.Block
	// Hostile marks the destination as not friendly; landing then does not limit speed.
	Hostile bool
}

// FlyToGrid is the docking state machine.
type FlyToGrid struct {
	p     *navigator.Pilot
	f     *finder.Finder
	claim *reserve.Claim

	level       settings.LevelName
	targetBlock settings.BlockTarget
	navBlock    grid.Block
	landing     Target

	landingDirection geom.Direction
	landingHalfSize  float64
	catchMode        bool
	friendly         bool

	state          State
	searchTimeout  uint64
	targetPosition r3.Vec
	speedFudge     float64
	nextLockTry    uint64
	closed         bool
}

// New builds a FlyToGrid and installs it on the settings stack.
func New(p *navigator.Pilot, opts Options) *FlyToGrid {
	cur := p.Settings.Current()
	n := &FlyToGrid{
		p:             p,
		claim:         p.Reservations.NewClaim(),
		targetBlock:   cur.DestinationBlock(),
		friendly:      !opts.Hostile,
		searchTimeout: p.Now() + p.Tuning.SearchTimeoutTicks,
	}

	landingBlock := opts.LandingBlock
	if landingBlock == nil {
		landingBlock = cur.LandingBlock()
	}
	n.navBlock = landingBlock
	if n.navBlock == nil {
		n.navBlock = p.NavBlock()
	}
	n.landing = Resolve(landingBlock)

	if landingBlock != nil {
		n.state = n.initialLandingState(landingBlock)
	}

	n.f = opts.Finder
	if n.f == nil {
		fo := finder.Options{
			GridName:   opts.GridName,
			BlockName:  n.targetBlock.Name,
			Attachment: opts.Attachment,
			MaxRange:   p.Tuning.MaxTargetRange,
		}
		if n.state != None && n.landing.Reserves() {
			fo.BlockCondition = func(b grid.Block) bool {
				return n.landing.Accepts(b) && n.reserve(b.ID())
			}
		}
		n.f = finder.New(p, fo)
	}

	n.level = settings.Move
	if n.state != None {
		n.level = settings.Rotate
		n.landingHalfSize = landingBlock.Extent(geom.Forward) * 0.5
	}
	lvl := p.Settings.Level(n.level)
	lvl.SetMover(n)
	lvl.SetRotator(n)
	return n
}

func (n *FlyToGrid) initialLandingState(b grid.Block) State {
	state := Approach
	if !b.Functional() {
		n.logf("landing block is not functional", "block", b.Name())
		state = None
	}
	switch {
	case n.targetBlock.Name == "":
		if n.landing.Kind != KindGear {
			n.logf("cannot land without a target block", "block", b.Name())
			return None
		}
		n.catchMode = true
	case n.landing.Kind == KindConnector || n.landing.Kind == KindMerge:
		n.landingDirection = geom.Forward.Flip()
		if n.targetBlock.HasForward {
			n.landingDirection = n.targetBlock.Forward
		}
	case n.targetBlock.HasForward:
		n.landingDirection = n.targetBlock.Forward
	default:
		n.logf("no landing direction", "block", b.Name())
		return None
	}
	return state
}

func (n *FlyToGrid) logf(msg string, kv ...any) {
	if n.p.Log != nil {
		n.p.Log.Debug(msg, kv...)
	}
}

func (n *FlyToGrid) Name() string { return "FlyToGrid" }

// State returns the current landing state.
func (n *FlyToGrid) State() State { return n.state }

// Finder exposes the target search, mostly for status and tests.
func (n *FlyToGrid) Finder() *finder.Finder { return n.f }

// Reserved returns the reserved target id, if any.
func (n *FlyToGrid) Reserved() (grid.EntityID, bool) { return n.claim.Target() }

// transition runs the entry actions of next and returns the previous state.
func (n *FlyToGrid) transition(next State) State {
	prev := n.state
	if prev == next {
		return prev
	}
	n.state = next
	n.p.Transition(n.Name(), prev.String(), next.String())

	switch next {
	case Landing, Catch:
		n.landing.Prepare(n.p.Queue)
	}

	// Transient geometry must not leak across a state change.
	n.p.Settings.OnTaskComplete(settings.Waypoint)
	if next > Approach {
		way := n.p.Settings.Level(settings.Waypoint)
		way.SetPathfinderCanChangeCourse(false)
	}
	return prev
}

func (n *FlyToGrid) reserve(id grid.EntityID) bool {
	if held, ok := n.claim.Target(); ok && held == id {
		return true
	}
	if !n.claim.Reserve(id) {
		return false
	}
	n.p.Emit(navigator.Event{Navigator: n.Name(), Kind: navigator.EventReserve, Target: id})
	return true
}

func (n *FlyToGrid) unreserve() {
	id, ok := n.claim.Target()
	if !ok {
		return
	}
	n.claim.Unreserve()
	n.p.Emit(navigator.Event{Navigator: n.Name(), Kind: navigator.EventRelease, Target: id})
}

// Close releases the reservation. The scheduler calls it when the navigator is superseded.
func (n *FlyToGrid) Close() {
	n.unreserve()
	n.closed = true
}

func (n *FlyToGrid) finish(detail string) {
	n.p.Complete(n.Name(), n.level, detail)
	n.unreserve()
	n.closed = true
}

func (n *FlyToGrid) found() bool {
	if _, ok := n.f.Grid(); !ok {
		return false
	}
	if n.f.BlockName() == "" || n.catchMode || n.state == None {
		return true
	}
	return n.f.Block() != nil || n.f.BlockCandidates() > 0
}

func (n *FlyToGrid) Move() {
	if n.closed {
		return
	}
	n.f.Update()
	now := n.p.Now()

	if n.found() {
		n.searchTimeout = now + n.p.Tuning.SearchTimeoutTicks
	} else if now > n.searchTimeout {
		n.logf("search timed out", "grid", n.f.GridName())
		n.p.Settings.Level(settings.Commands).AddComplaint(settings.SearchTimeout)
		n.p.Emit(navigator.Event{Navigator: n.Name(), Kind: navigator.EventTimeout, Detail: n.f.GridName()})
		n.finish("search timeout")
		n.p.Actuator.StopMove()
		n.p.Actuator.StopRotate()
		return
	}

	g, ok := n.f.Grid()
	if !ok {
		n.p.Actuator.StopMove()
		if n.state > Approach {
			n.transition(Approach)
		}
		return
	}

	n.targetPosition = n.f.GetPosition(n.navBlock.Position(), n.p.Settings.Effective().DestinationOffset)

	lvl := n.p.Settings.Level(n.level)
	if b := n.f.Block(); b != nil && n.state < Landing {
		lvl.SetDestinationEntity(b.ID())
	} else {
		lvl.SetDestinationEntity(g.Entity)
	}

	shipGap := math.Max(0, geom.Dist(n.p.Ship.Position(), n.targetPosition)-n.p.Ship.Radius())
	if n.state > Approach || shipGap < n.p.Settings.Effective().DestinationRadius {
		n.moveLand(g)
		return
	}

	// Stop short of the grid so the planner does not treat the target as an obstacle.
	away := r3.Sub(n.navBlock.Position(), n.targetPosition)
	if r3.Norm2(away) > 0 {
		away = r3.Unit(away)
	}
	adjustment := n.p.Settings.Effective().DestinationRadius * 0.5
	dest := r3.Add(n.targetPosition, r3.Scale(adjustment, away))
	n.p.Planner.MoveTo(navigator.Destination{Nav: n.navBlock, Position: dest, Velocity: g.Velocity})
	cur := n.p.Settings.Current()
	if d := cur.Distance(); !math.IsNaN(d) {
		cur.SetDistance(d + adjustment)
	}
}

func (n *FlyToGrid) moveLand(g grid.LastSeen) {
	if n.state != None && n.landing.Locked() {
		n.logf("attached", "block", n.navBlock.Name())
		n.p.Settings.LastLandingBlock = n.navBlock
		n.finish("attached")
		n.p.Actuator.StopMove()
		n.p.Actuator.StopRotate()
		if shopper := n.p.Settings.Shopper; shopper != nil {
			shopper.Start()
		}
		return
	}

	switch n.state {
	case None:
		if n.p.Settings.Effective().StayInFormation {
			n.hold(g)
			return
		}
		arrived := n.p.Actuator.AngularSpeed() == 0
		if n.targetBlock.HasForward {
			arrived = n.p.Settings.DirectionMatched(directionTolerance)
		}
		if arrived {
			n.finish("arrived")
			n.p.Actuator.StopRotate()
		}
		n.p.Actuator.StopMove()

	case Approach:
		lvl := n.p.Settings.Level(n.level)
		lvl.SetRotator(n)
		lvl.SetNavigationBlock(n.navBlock)
		if n.catchMode {
			n.transition(Catch)
			n.moveCatch(g)
			return
		}
		n.transition(Holding)
		n.moveHolding(g)

	case Holding:
		n.moveHolding(g)

	case LineUp:
		n.moveLineUp(g)

	case Landing:
		n.moveLanding(g)

	case Catch:
		n.moveCatch(g)

	default:
		panic(fmt.Sprintf("dock: unhandled state %v", n.state))
	}
}

func (n *FlyToGrid) hold(g grid.LastSeen) {
	n.p.Planner.MoveTo(navigator.Destination{Nav: n.navBlock, Position: n.navBlock.Position(), Velocity: g.Velocity})
}

func (n *FlyToGrid) moveHolding(g grid.LastSeen) {
	if b := n.f.Block(); b != nil && n.reserve(b.ID()) {
		n.transition(LineUp)
		return
	}
	n.p.Planner.HoldPosition(g.Entity)
}

func (n *FlyToGrid) faceVector(b grid.Block) r3.Vec {
	return b.Direction(n.landingDirection.Flip())
}

func (n *FlyToGrid) moveLineUp(g grid.LastSeen) {
	b := n.f.Block()
	if b == nil {
		n.logf("lost block")
		n.transition(Holding)
		return
	}

	switch {
	case n.p.Settings.DirectionMatched(directionTolerance):
		if n.p.Settings.DistanceLessThan(lineTolerance) {
			n.transition(Landing)
			return
		}
	case !n.p.Planner.CanRotate():
		dest := n.targetPosition
		away := r3.Sub(n.navBlock.Position(), dest)
		if r3.Norm2(away) < 1 {
			dest = g.Position
			away = r3.Sub(n.navBlock.Position(), dest)
		}
		if r3.Norm2(away) > 0 {
			away = r3.Unit(away)
		}
		pos := r3.Add(dest, r3.Scale(n.p.Settings.Effective().DestinationRadius, away))
		n.p.Planner.MoveTo(navigator.Destination{Nav: n.navBlock, Position: pos, Velocity: g.Velocity})
		return
	case n.p.Settings.DistanceLessThan(lineTolerance):
		// Take over rotation from whatever is holding the waypoint level.
		n.p.Settings.Level(settings.Waypoint).SetRotator(n)
	}

	face := n.faceVector(b)
	gap := b.Extent(n.landingDirection)*0.5 + n.landingHalfSize + lineUpGap
	line := geom.Line{
		From: r3.Add(n.targetPosition, r3.Scale(gap, face)),
		To:   r3.Add(n.targetPosition, r3.Scale(lineLength, face)),
	}
	closest := line.ClosestPoint(n.navBlock.Position())
	n.p.Planner.MoveTo(navigator.Destination{Nav: n.navBlock, Position: closest, Velocity: g.Velocity})
}

func (n *FlyToGrid) moveLanding(g grid.LastSeen) {
	b := n.f.Block()
	if b == nil {
		n.logf("lost block")
		n.transition(Holding)
		return
	}
	if !n.p.Settings.DirectionMatched(directionTolerance) {
		n.hold(g)
		return
	}

	now := n.p.Now()
	if now >= n.nextLockTry {
		n.nextLockTry = now + n.p.Tuning.LockAttemptInterval
		n.landing.TryLock(n.p.Queue)
	}

	gap := b.Extent(n.landingDirection)*0.5 + n.landingHalfSize + contactGap
	n.fudge()
	target := r3.Add(n.targetPosition, r3.Scale(n.speedFudge, g.Velocity))
	contact := r3.Add(target, r3.Scale(gap, n.faceVector(b)))
	n.p.Planner.MoveTo(navigator.Destination{Nav: n.navBlock, Position: contact, Velocity: g.Velocity, Landing: n.friendly})
}

func (n *FlyToGrid) moveCatch(g grid.LastSeen) {
	if !n.p.Settings.DirectionMatched(directionTolerance) {
		n.hold(g)
		return
	}
	n.fudge()
	target := r3.Add(n.targetPosition, r3.Scale(n.speedFudge, g.Velocity))
	n.p.Planner.MoveTo(navigator.Destination{Nav: n.navBlock, Position: target, Velocity: g.Velocity, Landing: n.friendly})
}

// fudge nudges the aim point along the target's velocity while in contact range, so a
// ship matching a moving target's speed exactly still closes the last gap.
func (n *FlyToGrid) fudge() {
	if !n.p.Settings.DistanceLessThan(1) {
		return
	}
	n.speedFudge += 0.0001
	if n.speedFudge > 0.1 {
		n.speedFudge = -0.1
	}
}

func (n *FlyToGrid) Rotate() {
	if n.closed {
		return
	}
	g, ok := n.f.Grid()
	if !ok {
		n.p.Actuator.StopRotate()
		return
	}
	nav := n.navBlock

	switch n.state {
	case None:
		if n.targetBlock.HasForward && n.f.Block() != nil {
			b := n.f.Block()
			n.p.Actuator.CalcRotate(nav, b.Direction(n.targetBlock.Forward), n.upVector(b))
			return
		}
		if geom.Dist(n.p.Ship.Position(), n.targetPosition) > 2*n.p.Ship.Radius()+n.p.Settings.Effective().DestinationRadius {
			n.p.Actuator.CalcRotate(nav, r3.Sub(n.targetPosition, nav.Position()), r3.Vec{})
			return
		}
		n.p.Actuator.StopRotate()
		return
	case Approach:
		n.p.Actuator.CalcRotate(nav, r3.Sub(n.targetPosition, nav.Position()), r3.Vec{})
		return
	}

	b := n.f.Block()
	if b == nil {
		if n.catchMode {
			dir := r3.Sub(n.targetPosition, nav.Position())
			if geom.IsZero(dir) {
				dir = r3.Sub(g.Position, nav.Position())
			}
			n.p.Actuator.CalcRotate(nav, dir, r3.Vec{})
			return
		}
		n.p.Actuator.StopRotate()
		return
	}
	if n.landing.Locked() {
		return
	}
	n.p.Actuator.CalcRotate(nav, b.Direction(n.landingDirection), n.upVector(b))
}

func (n *FlyToGrid) upVector(b grid.Block) r3.Vec {
	if !n.targetBlock.HasUp {
		return r3.Vec{}
	}
	return b.Direction(n.targetBlock.Up)
}

func (n *FlyToGrid) AppendStatusText(sb *strings.Builder) {
	g, ok := n.f.Grid()
	switch {
	case !ok:
		sb.WriteString("Searching for ")
		sb.WriteString(n.f.GridName())
		sb.WriteString("\n")
	case n.f.Block() == nil:
		if name := n.f.BlockName(); name != "" {
			sb.WriteString("Searching for ")
			sb.WriteString(name)
			sb.WriteString("\n")
		}
		sb.WriteString("Flying to ")
		sb.WriteString(g.Name)
		sb.WriteString("\n")
	default:
		sb.WriteString("Flying to ")
		sb.WriteString(n.f.Block().Name())
		sb.WriteString(" on ")
		sb.WriteString(g.Name)
		sb.WriteString("\n")
	}
	if d := n.p.Settings.Effective().Distance; ok && !math.IsNaN(d) {
		sb.WriteString("Distance: ")
		sb.WriteString(navigator.PrettyDistance(d))
		sb.WriteString("\n")
	}
	if n.state != None {
		sb.WriteString("Landing: ")
		sb.WriteString(n.state.String())
		sb.WriteString("\n")
	}
}
