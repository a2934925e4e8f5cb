// Package grid describes the game entities the navigation core reasons about.
// Implementations live with the host (see simworld); the core only sees these contracts.
package grid

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
)

// TicksPerSecond is the fixed simulation rate all tick-counted timeouts are expressed in.
const TicksPerSecond = 60

type EntityID int64

type EntityKind int

const (
	KindGrid EntityKind = iota
	KindAsteroid
	KindPlanet
	KindCharacter
)

func (k EntityKind) String() string {
	switch k {
	case KindGrid:
		return "grid"
	case KindAsteroid:
		return "asteroid"
	case KindPlanet:
		return "planet"
	case KindCharacter:
		return "character"
	}
	return "unknown"
}

type BlockKind string

const (
	BlockConnector     BlockKind = "connector"
	BlockLandingGear   BlockKind = "landing_gear"
	BlockMerge         BlockKind = "merge_block"
	BlockDrill         BlockKind = "drill"
	BlockGrinder       BlockKind = "grinder"
	BlockWelder        BlockKind = "welder"
	BlockRemoteControl BlockKind = "remote_control"
	BlockCockpit       BlockKind = "cockpit"
	BlockWarhead       BlockKind = "warhead"
	BlockCargo         BlockKind = "cargo"
	BlockOreDetector   BlockKind = "ore_detector"
	BlockThruster      BlockKind = "thruster"
	BlockArmor         BlockKind = "armor"
)

// AttachmentKind is a bit set of the ways two grids can be rigidly joined.
type AttachmentKind uint8

const (
	AttachPiston AttachmentKind = 1 << iota
	AttachMotor
	AttachConnector
	AttachLandingGear
	AttachMerge

	AttachNone     AttachmentKind = 0
	AttachPhysics                 = AttachPiston | AttachMotor | AttachLandingGear | AttachMerge
	AttachTerminal                = AttachPiston | AttachMotor | AttachConnector | AttachMerge
	AttachAny                     = AttachPhysics | AttachConnector
)

// Cell is an integer position in a grid's block lattice.
type Cell struct{ X, Y, Z int }

// Block is a single functional or structural block on a grid.
type Block interface {
	ID() EntityID
	Name() string
	Kind() BlockKind
	Grid() EntityID
	Position() r3.Vec
	// Direction is the world-space unit vector of one of the block's local faces.
	Direction(d geom.Direction) r3.Vec
	// Extent is the block's full length along the axis of d.
	Extent(d geom.Direction) float64
	Functional() bool
	Enabled() bool
	SetEnabled(on bool)
	Closed() bool
}

type Gear interface {
	Block
	Locked() bool
	AutoLock() bool
	SetAutoLock(on bool)
}

type Connector interface {
	Block
	Connected() bool
	// Connectable is true when another connector is close enough to lock.
	Connectable() bool
	Partner() EntityID
	Lock()
}

type MergeBlock interface {
	Block
	MergeImminent() bool
}

// Inventory is any block holding items.
type Inventory interface {
	Block
	Fullness() float64
	Items() map[string]int
	// Take moves up to count of item from src into this inventory and returns the moved count.
	Take(src Inventory, item string, count int) int
}

// Repairable reports build and damage state of a block.
type Repairable interface {
	Block
	Damage() float64
	BuildRatio() float64
	MissingComponents() map[string]int
}

type Warhead interface {
	Block
	CountingDown() bool
	StartCountdown()
}

type OreDetector interface {
	Block
	// ClosestOre returns the nearest known deposit of one of ores, or of any ore when ores is empty.
	ClosestOre(from r3.Vec, ores []string) (Deposit, bool)
}

// Deposit is a located ore body inside a voxel map.
type Deposit struct {
	Voxel    EntityID
	Ore      string
	Position r3.Vec
}

// LastSeen is a timestamped record of where an entity was and how it was moving.
type LastSeen struct {
	Entity   EntityID
	Kind     EntityKind
	Name     string
	Position r3.Vec
	Velocity r3.Vec
	Radius   float64
	SeenAt   uint64
}

func (l LastSeen) Valid() bool { return l.Entity != 0 }

func (l LastSeen) Recent(now, window uint64) bool {
	return l.Valid() && now-l.SeenAt <= window
}

// PredictedPosition extrapolates the last position with the last velocity up to now.
func (l LastSeen) PredictedPosition(now uint64) r3.Vec {
	if now <= l.SeenAt {
		return l.Position
	}
	dt := float64(now-l.SeenAt) / TicksPerSecond
	return r3.Add(l.Position, r3.Scale(dt, l.Velocity))
}

// Sightings is the store of everything the ship currently knows about.
type Sightings interface {
	Lookup(id EntityID) (LastSeen, bool)
	// Each visits every known entity until visit returns false.
	Each(visit func(LastSeen) bool)
}

// Relations answers ownership questions from the point of view of one ship.
type Relations interface {
	Hostile(grid EntityID) bool
	CanControl(b Block) bool
}

// Voxels answers occupancy questions about asteroids and planets.
type Voxels interface {
	// Intersects reports whether the capsule touches solid voxels of the given body.
	Intersects(body EntityID, c geom.Capsule) bool
	Centre(body EntityID) (r3.Vec, bool)
}

// NormalizeName lowers s and strips whitespace, the form names are matched in.
func NormalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// LongestExtent is the length of b along its longest axis.
func LongestExtent(b Block) float64 {
	return math.Max(b.Extent(geom.Forward), math.Max(b.Extent(geom.Right), b.Extent(geom.Up)))
}
