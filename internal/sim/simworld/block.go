package simworld

import (
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
)

// Block is a block of any kind. Kind-specific state is only meaningful for that kind.
type Block struct {
	id   grid.EntityID
	name string
	kind grid.BlockKind
	g    *Grid

	// Local is the block centre in the grid frame; Orient is the block frame in the grid frame.
	Local  r3.Vec
	Orient geom.Basis
	// Size is the block's length along its own Right, Up and Backward axes.
	Size r3.Vec

	functional bool
	enabled    bool
	closed     bool

	// connector, landing gear and merge block state
	connectable bool
	connected   bool
	partner     *Block
	locked      bool
	autoLock    bool
	merging     bool

	// inventory
	items    map[string]int
	capacity int

	// repair state
	damage  float64
	build   float64
	missing map[string]int

	countdown int
	counting  bool
	detonated bool
}

func (b *Block) ID() grid.EntityID     { return b.id }
func (b *Block) Name() string          { return b.name }
func (b *Block) Kind() grid.BlockKind  { return b.kind }
func (b *Block) Grid() grid.EntityID   { return b.g.id }
func (b *Block) Functional() bool      { return b.functional && !b.closed }
func (b *Block) Enabled() bool         { return b.enabled }
func (b *Block) SetEnabled(on bool)    { b.enabled = on }
func (b *Block) Closed() bool          { return b.closed || b.g.closed }
func (b *Block) Position() r3.Vec      { return r3.Add(b.g.Pos, b.g.Basis.ToWorld(b.Local)) }
func (b *Block) Owner() *Grid          { return b.g }
func (b *Block) SetName(name string)   { b.name = name }
func (b *Block) SetFunctional(on bool) { b.functional = on }

// Remove destroys the block.
func (b *Block) Remove() { b.closed = true }

func (b *Block) Direction(d geom.Direction) r3.Vec {
	return b.g.Basis.ToWorld(b.Orient.Dir(d))
}

func (b *Block) Extent(d geom.Direction) float64 {
	switch d {
	case geom.Left, geom.Right:
		return b.Size.X
	case geom.Up, geom.Down:
		return b.Size.Y
	}
	return b.Size.Z
}

// Gear

func (b *Block) Locked() bool        { return b.locked }
func (b *Block) AutoLock() bool      { return b.autoLock }
func (b *Block) SetAutoLock(on bool) { b.autoLock = on }

// Connector

func (b *Block) Connected() bool   { return b.connected }
func (b *Block) Connectable() bool { return b.connectable }

func (b *Block) Partner() grid.EntityID {
	if b.partner == nil {
		return 0
	}
	return b.partner.id
}

func (b *Block) Lock() {
	if b.connected {
		return
	}
	other := b.g.w.matingBlock(b, grid.BlockConnector)
	if other == nil {
		return
	}
	b.connected, other.connected = true, true
	b.partner, other.partner = other, b
	b.g.w.dock(b.g, other.g, grid.AttachConnector)
}

// Unlock separates a connected connector.
func (b *Block) Unlock() {
	if !b.connected {
		return
	}
	other := b.partner
	b.connected, b.partner = false, nil
	if other != nil {
		other.connected, other.partner = false, nil
		b.g.w.undock(b.g, other.g, grid.AttachConnector)
	}
}

// Merge block

func (b *Block) MergeImminent() bool { return b.merging }

// Inventory

func (b *Block) Items() map[string]int { return b.items }

func (b *Block) count() int {
	n := 0
	for _, c := range b.items {
		n += c
	}
	return n
}

func (b *Block) Fullness() float64 {
	if b.capacity <= 0 {
		return 0
	}
	return float64(b.count()) / float64(b.capacity)
}

func (b *Block) add(item string, n int) int {
	if room := b.capacity - b.count(); n > room {
		n = room
	}
	if n <= 0 {
		return 0
	}
	if b.items == nil {
		b.items = map[string]int{}
	}
	b.items[item] += n
	return n
}

func (b *Block) remove(item string, n int) int {
	if have := b.items[item]; n > have {
		n = have
	}
	if n <= 0 {
		return 0
	}
	b.items[item] -= n
	if b.items[item] == 0 {
		delete(b.items, item)
	}
	return n
}

func (b *Block) Take(src grid.Inventory, item string, count int) int {
	from, ok := src.(*Block)
	if !ok {
		return 0
	}
	n := count
	if have := from.items[item]; n > have {
		n = have
	}
	n = b.add(item, n)
	from.remove(item, n)
	return n
}

func (b *Block) SetCapacity(n int) { b.capacity = n }

// SetItems replaces the inventory contents.
func (b *Block) SetItems(items map[string]int) {
	b.items = map[string]int{}
	for k, v := range items {
		b.items[k] = v
	}
}

// Repairable

func (b *Block) Damage() float64     { return b.damage }
func (b *Block) BuildRatio() float64 { return b.build }

func (b *Block) MissingComponents() map[string]int {
	out := make(map[string]int, len(b.missing))
	for k, v := range b.missing {
		out[k] = v
	}
	return out
}

// SetDamage sets the damage and build state.
func (b *Block) SetDamage(damage, build float64, missing map[string]int) {
	b.damage, b.build = damage, build
	b.missing = map[string]int{}
	for k, v := range missing {
		b.missing[k] = v
	}
}

// Warhead

func (b *Block) CountingDown() bool { return b.counting }
func (b *Block) Detonated() bool    { return b.detonated }

func (b *Block) StartCountdown() {
	if b.counting || b.detonated {
		return
	}
	b.counting = true
	b.countdown = b.g.w.warheadTicks
}

// Ore detector

func (b *Block) ClosestOre(from r3.Vec, ores []string) (grid.Deposit, bool) {
	return b.g.w.closestOre(from, ores)
}
