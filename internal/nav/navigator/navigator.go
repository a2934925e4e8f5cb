// Package navigator defines the plugin model every behavior implements and the
// collaborators a behavior is allowed to talk to.
package navigator

import (
	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/nav/deferred"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/reserve"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/nav/tracker"
	"gridpilot.ai/internal/sim/tuning"
)

type (
	Mover   = settings.Mover
	Rotator = settings.Rotator
)

// EnemyResponse is a behavior a threat dispatcher can hand an enemy to.
type EnemyResponse interface {
	Mover
	Rotator
	// CanRespond is false when the ship lacks what the response needs.
	CanRespond() bool
	CanTarget(target grid.LastSeen) bool
	// UpdateTarget hands over the current enemy; an invalid LastSeen means none.
	UpdateTarget(target grid.LastSeen)
}

// Closer is implemented by navigators holding something that must be released when they
// are superseded or the ship goes away.
type Closer interface {
	Close()
}

// Actuator turns desired motion into thruster and gyro commands for one tick. It refreshes
// the settings stack's distance and angle whenever it computes a move or rotation.
type Actuator interface {
	StopMove()
	StopRotate()
	CalcMove(nav grid.Block, target, targetVelocity r3.Vec, landing bool)
	// CalcRotate turns nav so its forward faces direction and, when up is non-zero, its up faces up.
	CalcRotate(nav grid.Block, direction, up r3.Vec)
	Velocity() r3.Vec
	AngularSpeed() float64
	// Acceleration is the best acceleration available along a world direction.
	Acceleration(direction r3.Vec) float64
	Overworked() bool
}

// Destination is one move request handed to the planner.
type Destination struct {
	Nav      grid.Block
	Position r3.Vec
	Velocity r3.Vec
	Landing  bool
}

// Planner wraps the actuator with obstacle avoidance.
type Planner interface {
	MoveTo(d Destination)
	HoldPosition(anchor grid.EntityID)
	// CanRotate is false while the planner considers rotating unsafe.
	CanRotate() bool
	ObstructingEntity() (grid.EntityID, bool)
}

type SpatialIndex interface {
	Blocks(g grid.EntityID) []grid.Block
	BlocksOfType(g grid.EntityID, kind grid.BlockKind) []grid.Block
	// ClosestOccupiedCell returns the occupied cell nearest to from and its world position.
	ClosestOccupiedCell(g grid.EntityID, from r3.Vec, hint grid.Cell) (grid.Cell, r3.Vec, bool)
}

type AttachmentGraph interface {
	IsAttached(a, b grid.EntityID, kind grid.AttachmentKind) bool
	// RunOnAttached visits g and every grid attached to it by kind until visit returns false.
	RunOnAttached(g grid.EntityID, kind grid.AttachmentKind, visit func(grid.EntityID) bool)
}

// Ship is the controlled grid.
type Ship interface {
	ID() grid.EntityID
	Name() string
	Position() r3.Vec
	Velocity() r3.Vec
	Radius() float64
	Controller() grid.Block
}

type Clock interface {
	Tick() uint64
}

// Pilot bundles everything a navigator needs. One Pilot exists per controlled ship; the
// reservation registry and targeter tracker are shared by every Pilot in a fleet.
type Pilot struct {
	Ship      Ship
	Settings  *settings.Stack
	Actuator  Actuator
	Planner   Planner
	Index     SpatialIndex
	Attached  AttachmentGraph
	Sightings grid.Sightings
	Relations grid.Relations
	Voxels    grid.Voxels
	Clock     Clock

	Queue        *deferred.Queue
	Reservations *reserve.Registry
	Targeters    *tracker.Tracker

	Tuning tuning.Tuning
	Log    *log.Logger
	Events EventSink
}

func (p *Pilot) Now() uint64 { return p.Clock.Tick() }

// NavBlock is the block navigation is computed relative to.
func (p *Pilot) NavBlock() grid.Block {
	if b := p.Settings.Effective().NavigationBlock; b != nil {
		return b
	}
	return p.Ship.Controller()
}

// Seconds converts a duration in seconds to ticks.
func Seconds(s float64) uint64 {
	return uint64(s * grid.TicksPerSecond)
}
