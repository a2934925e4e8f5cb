// Package settings implements the layered navigation settings a ship's navigators share.
//
// Levels are chained Commands -> Move -> Rotate -> Waypoint -> Engage. A level reads through
// to its parent for anything it does not override, so Engage (the innermost level) always
// yields the effective value. Completing a level resets it and every level nested inside it.
package settings

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
)

// Mover produces translation requests once per tick.
type Mover interface {
	Move()
	AppendStatusText(b *strings.Builder)
}

// Rotator produces rotation requests once per tick.
type Rotator interface {
	Rotate()
	AppendStatusText(b *strings.Builder)
}

// Shopper is a mover that waits for the ship to dock before it starts pulling components.
type Shopper interface {
	Mover
	Start()
}

type LevelName int

const (
	Commands LevelName = iota
	Move
	Rotate
	Waypoint
	Engage

	levelCount
)

func (n LevelName) String() string {
	switch n {
	case Commands:
		return "Commands"
	case Move:
		return "Move"
	case Rotate:
		return "Rotate"
	case Waypoint:
		return "Waypoint"
	case Engage:
		return "Engage"
	}
	return "Level(?)"
}

// BlockTarget names a block on the destination grid and optionally the face to line up with.
type BlockTarget struct {
	Name       string
	Forward    geom.Direction
	Up         geom.Direction
	HasForward bool
	HasUp      bool
}

func (t BlockTarget) IsZero() bool { return t == BlockTarget{} }

// Defaults are the values the Commands level falls back to.
type Defaults struct {
	DestinationRadius float64
	SpeedTarget       float64
}

type opt[T any] struct {
	v  T
	ok bool
}

func (o *opt[T]) set(v T) { o.v, o.ok = v, true }

// Level is one layer of settings. Unset fields read through to the parent level.
type Level struct {
	stack  *Stack
	name   LevelName
	parent *Level

	navigationBlock grid.Block
	landingBlock    grid.Block
	mover           Mover
	rotator         Rotator
	complaint       Complaint

	waitUntil         opt[uint64]
	destinationOffset opt[r3.Vec]
	destinationBlock  opt[BlockTarget]
	destinationEntity opt[grid.EntityID]
	ignoreEntity      opt[grid.EntityID]
	destinationRadius opt[float64]
	distance          opt[float64]
	distanceAngle     opt[float64]
	speedTarget       opt[float64]
	speedMaxRelative  opt[float64]
	ignoreAsteroid    opt[bool]
	canChangeCourse   opt[bool]
	stayInFormation   opt[bool]
}

func lookup[T any](l *Level, field func(*Level) *opt[T], def T) T {
	for c := l; c != nil; c = c.parent {
		if o := field(c); o.ok {
			return o.v
		}
	}
	return def
}

// lowest returns the minimum value set anywhere along the chain.
func lowest(l *Level, field func(*Level) *opt[float64], def float64) float64 {
	out := def
	for c := l; c != nil; c = c.parent {
		if o := field(c); o.ok && o.v < out {
			out = o.v
		}
	}
	return out
}

func (l *Level) Name() LevelName { return l.name }

func (l *Level) changed() { l.stack.version++ }

func (l *Level) NavigationBlock() grid.Block {
	for c := l; c != nil; c = c.parent {
		if c.navigationBlock != nil {
			return c.navigationBlock
		}
	}
	return nil
}

func (l *Level) SetNavigationBlock(b grid.Block) { l.navigationBlock = b; l.changed() }

func (l *Level) LandingBlock() grid.Block {
	for c := l; c != nil; c = c.parent {
		if c.landingBlock != nil {
			return c.landingBlock
		}
	}
	return nil
}

func (l *Level) SetLandingBlock(b grid.Block) { l.landingBlock = b; l.changed() }

func (l *Level) Mover() Mover {
	for c := l; c != nil; c = c.parent {
		if c.mover != nil {
			return c.mover
		}
	}
	return nil
}

// SetMover installs m as this level's mover. A different previous holder stops
// receiving ticks and is handed to the stack's retirement list.
func (l *Level) SetMover(m Mover) {
	if l.mover != nil && l.mover != m {
		l.stack.retire(l.mover)
	}
	l.mover = m
	l.changed()
}

func (l *Level) Rotator() Rotator {
	for c := l; c != nil; c = c.parent {
		if c.rotator != nil {
			return c.rotator
		}
	}
	return nil
}

func (l *Level) SetRotator(r Rotator) {
	if l.rotator != nil && l.rotator != r {
		l.stack.retire(l.rotator)
	}
	l.rotator = r
	l.changed()
}

func (l *Level) Complaint() Complaint {
	for c := l; c != nil; c = c.parent {
		if c.complaint != ComplaintNone {
			return c.complaint
		}
	}
	return ComplaintNone
}

func (l *Level) SetComplaint(c Complaint) { l.complaint = c; l.changed() }
func (l *Level) AddComplaint(c Complaint) { l.complaint |= c; l.changed() }

func (l *Level) WaitUntil() uint64 {
	return lookup(l, func(c *Level) *opt[uint64] { return &c.waitUntil }, 0)
}
func (l *Level) SetWaitUntil(tick uint64) { l.waitUntil.set(tick); l.changed() }

// DestinationOffset is a block-local offset applied to the destination entity's position.
func (l *Level) DestinationOffset() r3.Vec {
	return lookup(l, func(c *Level) *opt[r3.Vec] { return &c.destinationOffset }, r3.Vec{})
}
func (l *Level) SetDestinationOffset(v r3.Vec) { l.destinationOffset.set(v); l.changed() }

func (l *Level) DestinationBlock() BlockTarget {
	return lookup(l, func(c *Level) *opt[BlockTarget] { return &c.destinationBlock }, BlockTarget{})
}
func (l *Level) SetDestinationBlock(t BlockTarget) { l.destinationBlock.set(t); l.changed() }

func (l *Level) DestinationEntity() grid.EntityID {
	return lookup(l, func(c *Level) *opt[grid.EntityID] { return &c.destinationEntity }, 0)
}
func (l *Level) SetDestinationEntity(id grid.EntityID) { l.destinationEntity.set(id); l.changed() }

func (l *Level) IgnoreEntity() grid.EntityID {
	return lookup(l, func(c *Level) *opt[grid.EntityID] { return &c.ignoreEntity }, 0)
}
func (l *Level) SetIgnoreEntity(id grid.EntityID) { l.ignoreEntity.set(id); l.changed() }

func (l *Level) DestinationRadius() float64 {
	return lookup(l, func(c *Level) *opt[float64] { return &c.destinationRadius }, l.stack.defaults.DestinationRadius)
}
func (l *Level) SetDestinationRadius(r float64) { l.destinationRadius.set(r); l.changed() }

// Distance is the distance to the current destination as last computed by the actuator.
func (l *Level) Distance() float64 {
	return lookup(l, func(c *Level) *opt[float64] { return &c.distance }, math.NaN())
}
func (l *Level) SetDistance(d float64) { l.distance.set(d); l.changed() }

// DistanceAngle is the remaining rotation, in radians, as last computed by the actuator.
func (l *Level) DistanceAngle() float64 {
	return lookup(l, func(c *Level) *opt[float64] { return &c.distanceAngle }, math.NaN())
}
func (l *Level) SetDistanceAngle(a float64) { l.distanceAngle.set(a); l.changed() }

// SpeedTarget is the lowest speed target set anywhere along the chain.
func (l *Level) SpeedTarget() float64 {
	return lowest(l, func(c *Level) *opt[float64] { return &c.speedTarget }, l.stack.defaults.SpeedTarget)
}
func (l *Level) SetSpeedTarget(v float64) { l.speedTarget.set(v); l.changed() }

// SpeedMaxRelative is the lowest relative speed cap set anywhere along the chain.
func (l *Level) SpeedMaxRelative() float64 {
	return lowest(l, func(c *Level) *opt[float64] { return &c.speedMaxRelative }, math.MaxFloat64)
}
func (l *Level) SetSpeedMaxRelative(v float64) { l.speedMaxRelative.set(v); l.changed() }

func (l *Level) IgnoreAsteroid() bool {
	return lookup(l, func(c *Level) *opt[bool] { return &c.ignoreAsteroid }, false)
}
func (l *Level) SetIgnoreAsteroid(v bool) { l.ignoreAsteroid.set(v); l.changed() }

// PathfinderCanChangeCourse is false while fine manoeuvres must not be rerouted.
func (l *Level) PathfinderCanChangeCourse() bool {
	return lookup(l, func(c *Level) *opt[bool] { return &c.canChangeCourse }, true)
}
func (l *Level) SetPathfinderCanChangeCourse(v bool) { l.canChangeCourse.set(v); l.changed() }

func (l *Level) StayInFormation() bool {
	return lookup(l, func(c *Level) *opt[bool] { return &c.stayInFormation }, false)
}
func (l *Level) SetStayInFormation(v bool) { l.stayInFormation.set(v); l.changed() }

// Stack holds every settings level for one ship.
type Stack struct {
	defaults Defaults
	levels   [levelCount]*Level

	version    uint64
	effVersion uint64
	eff        Effective
	effValid   bool

	retired []any
	after   []func(LevelName)

	// Shopper waits here until docking completes and starts it.
	Shopper Shopper
	// WelderUnfinishedBlocks is the number of blocks the last weld task left unfinished.
	WelderUnfinishedBlocks int
	// LastLandingBlock remembers which block the ship last docked with.
	LastLandingBlock grid.Block
}

func New(d Defaults) *Stack {
	s := &Stack{defaults: d}
	for n := Commands; n < levelCount; n++ {
		s.newLevel(n)
	}
	return s
}

func (s *Stack) newLevel(n LevelName) {
	l := &Level{stack: s, name: n}
	if n > Commands {
		l.parent = s.levels[n-1]
	}
	s.levels[n] = l
	// Re-parent levels nested inside n.
	if n+1 < levelCount && s.levels[n+1] != nil {
		s.levels[n+1].parent = l
	}
	s.version++
}

// Level returns the named level for direct configuration.
func (s *Stack) Level(n LevelName) *Level { return s.levels[n] }

// Current is the innermost level; reading through it yields effective values.
func (s *Stack) Current() *Level { return s.levels[levelCount-1] }

// OnTaskComplete resets level n and every level nested inside it. Navigators held by the
// reset levels are handed to the retirement list. Calling it twice is harmless.
func (s *Stack) OnTaskComplete(n LevelName) {
	for i := levelCount - 1; i >= n; i-- {
		old := s.levels[i]
		if old.mover != nil {
			s.retire(old.mover)
		}
		if old.rotator != nil {
			s.retire(old.rotator)
		}
		s.newLevel(i)
	}
	for _, fn := range s.after {
		fn(n)
	}
}

// AfterTaskComplete registers fn to run after every OnTaskComplete.
func (s *Stack) AfterTaskComplete(fn func(LevelName)) {
	s.after = append(s.after, fn)
}

func (s *Stack) retire(nav any) {
	s.retired = append(s.retired, nav)
}

// Retired drains navigators that lost their slot since the last call, excluding any that
// are still installed on some level.
func (s *Stack) Retired() []any {
	if len(s.retired) == 0 {
		return nil
	}
	out := make([]any, 0, len(s.retired))
	seen := map[any]bool{}
	for _, nav := range s.retired {
		if seen[nav] || s.holds(nav) {
			continue
		}
		seen[nav] = true
		out = append(out, nav)
	}
	s.retired = s.retired[:0]
	return out
}

func (s *Stack) holds(nav any) bool {
	for _, l := range s.levels {
		if l.mover != nil && any(l.mover) == nav {
			return true
		}
		if l.rotator != nil && any(l.rotator) == nav {
			return true
		}
	}
	return s.Shopper != nil && any(s.Shopper) == nav
}

// Navigators returns every distinct navigator installed on any level.
func (s *Stack) Navigators() []any {
	var out []any
	seen := map[any]bool{}
	add := func(nav any) {
		if nav != nil && !seen[nav] {
			seen[nav] = true
			out = append(out, nav)
		}
	}
	for _, l := range s.levels {
		if l.mover != nil {
			add(l.mover)
		}
		if l.rotator != nil {
			add(l.rotator)
		}
	}
	if s.Shopper != nil {
		add(s.Shopper)
	}
	return out
}

// DistanceLessThanDestRadius is false while the distance is unknown.
func (s *Stack) DistanceLessThanDestRadius() bool {
	c := s.Effective()
	return c.Distance < c.DestinationRadius
}

// DistanceLessThan is false while the distance is unknown.
func (s *Stack) DistanceLessThan(v float64) bool {
	return s.Effective().Distance < v
}

// DirectionMatched is false while the angle is unknown.
func (s *Stack) DirectionMatched(tolerance float64) bool {
	return s.Effective().DistanceAngle < tolerance
}

// SetGeometry records the distance and angle to the current destination on the innermost level.
func (s *Stack) SetGeometry(distance, angle float64) {
	cur := s.Current()
	cur.distance.set(distance)
	cur.distanceAngle.set(angle)
	s.version++
}
