// Package simworld is a small kinematic world that implements every collaborator the
// navigation core needs. Ships move at the velocity their actuator asks for; blocks attach,
// drill, grind, weld and detonate with simple distance rules.
package simworld

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

var ErrUnknownEntity = errors.New("unknown entity")

const (
	dt             = 1.0 / grid.TicksPerSecond
	defaultBlock   = 2.5
	defaultAccel   = 10
	defaultTurn    = 3
	defaultGain    = 2
	drillRate      = 6
	grindPerTick   = 0.01
	weldPerTick    = 0.01
	weldReach      = 4
	grindReach     = 3
	gearReach      = 0.3
	mateSlack      = 0.4
	mateAngle      = 0.25
	defaultWarhead = 5 * grid.TicksPerSecond
)

// Grid is a ship or station.
type Grid struct {
	w  *World
	id grid.EntityID

	Name    string
	Faction string
	Pos     r3.Vec
	Vel     r3.Vec
	Basis   geom.Basis
	Static  bool

	// MaxAccel and TurnRate bound what the actuator reports and does.
	MaxAccel float64
	TurnRate float64
	// Gain is how quickly the actuator closes distance, in 1/s.
	Gain float64
	// RotationBlocked makes the planner refuse to rotate.
	RotationBlocked bool
	// Overloaded makes the actuator report it is overworked.
	Overloaded bool

	radius   float64
	blocks   []*Block
	closed   bool
	dockedTo *Grid
	angular  float64
}

func (g *Grid) ID() grid.EntityID { return g.id }
func (g *Grid) Radius() float64   { return g.radius }
func (g *Grid) Closed() bool      { return g.closed }
func (g *Grid) DockedTo() *Grid   { return g.dockedTo }

// Close removes the grid from the world.
func (g *Grid) Close() {
	g.closed = true
	g.w.log.Debug("grid closed", "grid", g.Name)
}

// Blocks returns the blocks still present on the grid.
func (g *Grid) Blocks() []*Block {
	out := make([]*Block, 0, len(g.blocks))
	for _, b := range g.blocks {
		if !b.closed {
			out = append(out, b)
		}
	}
	return out
}

// AddBlock places a block at local with the given orientation in the grid frame.
func (g *Grid) AddBlock(kind grid.BlockKind, name string, local r3.Vec, orient geom.Basis) *Block {
	w := g.w
	w.nextID++
	b := &Block{
		id:         w.nextID,
		name:       name,
		kind:       kind,
		g:          g,
		Local:      local,
		Orient:     orient.Orthonormalize(),
		Size:       r3.Vec{X: defaultBlock, Y: defaultBlock, Z: defaultBlock},
		functional: true,
		enabled:    true,
		build:      1,
	}
	switch kind {
	case grid.BlockCargo:
		b.capacity = 1000
	case grid.BlockDrill, grid.BlockGrinder, grid.BlockWelder, grid.BlockConnector:
		b.capacity = 100
	}
	g.blocks = append(g.blocks, b)
	w.blocks[b.id] = b
	g.resize()
	return b
}

func (g *Grid) resize() {
	r := defaultBlock
	for _, b := range g.blocks {
		if d := r3.Norm(b.Local) + grid.LongestExtent(b)*0.5; d > r {
			r = d
		}
	}
	g.radius = r
}

func (g *Grid) rotate(axis r3.Vec, angle float64) {
	g.Basis = geom.Basis{
		Forward: rodrigues(g.Basis.Forward, axis, angle),
		Up:      rodrigues(g.Basis.Up, axis, angle),
	}.Orthonormalize()
}

// rodrigues rotates v about the unit axis k by angle.
func rodrigues(v, k r3.Vec, angle float64) r3.Vec {
	c, s := math.Cos(angle), math.Sin(angle)
	out := r3.Scale(c, v)
	out = r3.Add(out, r3.Scale(s, r3.Cross(k, v)))
	return r3.Add(out, r3.Scale(r3.Dot(k, v)*(1-c), k))
}

func (g *Grid) root() *Grid {
	r := g
	for i := 0; r.dockedTo != nil && i < 16; i++ {
		r = r.dockedTo
	}
	return r
}

// Asteroid is a spherical voxel body.
type Asteroid struct {
	id       grid.EntityID
	Name     string
	Centre   r3.Vec
	Radius   float64
	Ore      string
	Deposits []grid.Deposit
}

func (a *Asteroid) ID() grid.EntityID { return a.id }

// World owns every entity. It is not safe for concurrent use.
type World struct {
	log    *log.Logger
	tick   uint64
	nextID grid.EntityID

	grids     []*Grid
	asteroids []*Asteroid
	blocks    map[grid.EntityID]*Block
	links     map[grid.EntityID]map[grid.EntityID]grid.AttachmentKind

	warheadTicks int
}

func New(logger *log.Logger) *World {
	if logger == nil {
		logger = log.Default()
	}
	return &World{
		log:          logger.WithPrefix("simworld"),
		blocks:       map[grid.EntityID]*Block{},
		links:        map[grid.EntityID]map[grid.EntityID]grid.AttachmentKind{},
		warheadTicks: defaultWarhead,
	}
}

func (w *World) Tick() uint64 { return w.tick }

// AddGrid creates a grid at pos with the identity orientation.
func (w *World) AddGrid(name, faction string, pos r3.Vec) *Grid {
	w.nextID++
	g := &Grid{
		w:        w,
		id:       w.nextID,
		Name:     name,
		Faction:  faction,
		Pos:      pos,
		Basis:    geom.Identity(),
		MaxAccel: defaultAccel,
		TurnRate: defaultTurn,
		Gain:     defaultGain,
		radius:   defaultBlock,
	}
	w.grids = append(w.grids, g)
	return g
}

func (w *World) AddAsteroid(name string, centre r3.Vec, radius float64, ore string) *Asteroid {
	w.nextID++
	a := &Asteroid{id: w.nextID, Name: name, Centre: centre, Radius: radius, Ore: ore}
	w.asteroids = append(w.asteroids, a)
	return a
}

// AddDeposit records an ore body inside a.
func (w *World) AddDeposit(a *Asteroid, ore string, pos r3.Vec) {
	a.Deposits = append(a.Deposits, grid.Deposit{Voxel: a.id, Ore: ore, Position: pos})
}

func (w *World) Grid(id grid.EntityID) (*Grid, bool) {
	for _, g := range w.grids {
		if g.id == id {
			return g, true
		}
	}
	return nil, false
}

// GridByName returns the first grid whose name matches exactly.
func (w *World) GridByName(name string) (*Grid, bool) {
	for _, g := range w.grids {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

func (w *World) Grids() []*Grid { return w.grids }

func (w *World) Block(id grid.EntityID) (*Block, bool) {
	b, ok := w.blocks[id]
	return b, ok
}

func (w *World) asteroid(id grid.EntityID) (*Asteroid, bool) {
	for _, a := range w.asteroids {
		if a.id == id {
			return a, true
		}
	}
	return nil, false
}

// gridOf maps a grid or block id to its grid id.
func (w *World) gridOf(id grid.EntityID) grid.EntityID {
	if b, ok := w.blocks[id]; ok {
		return b.g.id
	}
	return id
}

// SetWarheadTicks changes the countdown of warheads armed from now on.
func (w *World) SetWarheadTicks(n int) { w.warheadTicks = n }

// Step advances the world by one tick.
func (w *World) Step() {
	w.tick++
	for _, g := range w.grids {
		if g.closed || g.Static || g.dockedTo != nil {
			continue
		}
		g.Pos = r3.Add(g.Pos, r3.Scale(dt, g.Vel))
	}
	for _, g := range w.grids {
		if g.closed || g.dockedTo == nil {
			continue
		}
		r := g.root()
		g.Vel = r.Vel
		if !r.Static {
			g.Pos = r3.Add(g.Pos, r3.Scale(dt, g.Vel))
		}
	}
	for _, g := range w.grids {
		if g.closed {
			continue
		}
		for _, b := range g.blocks {
			if !b.closed {
				w.updateBlock(b)
			}
		}
	}
}

func (w *World) updateBlock(b *Block) {
	switch b.kind {
	case grid.BlockConnector:
		b.connectable = !b.connected && b.enabled && w.matingBlock(b, grid.BlockConnector) != nil
	case grid.BlockLandingGear:
		if b.enabled && b.autoLock && !b.locked {
			if o := w.touching(b); o != nil {
				b.locked = true
				w.dock(b.g, o.g, grid.AttachLandingGear)
			}
		}
	case grid.BlockMerge:
		if b.enabled && !b.merging {
			if o := w.matingBlock(b, grid.BlockMerge); o != nil && o.enabled {
				b.merging, o.merging = true, true
				w.dock(b.g, o.g, grid.AttachMerge)
			}
		}
	case grid.BlockDrill:
		if b.enabled && w.tick%drillRate == 0 {
			pos := b.Position()
			for _, a := range w.asteroids {
				if geom.Dist(pos, a.Centre) <= a.Radius+grid.LongestExtent(b) {
					b.add(a.Ore, 1)
					break
				}
			}
		}
	case grid.BlockGrinder:
		if b.enabled {
			w.grind(b)
		}
	case grid.BlockWelder:
		if b.enabled {
			w.weld(b)
		}
	case grid.BlockWarhead:
		if b.counting {
			b.countdown--
			if b.countdown <= 0 {
				b.counting, b.detonated, b.closed = false, true, true
				w.log.Info("warhead detonated", "grid", b.g.Name, "block", b.name)
			}
		}
	}
}

// matingBlock finds a block of kind on another grid that faces b and is close enough to join.
func (w *World) matingBlock(b *Block, kind grid.BlockKind) *Block {
	pos := b.Position()
	face := b.Direction(geom.Forward)
	for _, g := range w.grids {
		if g == b.g || g.closed {
			continue
		}
		for _, o := range g.blocks {
			if o.closed || o.kind != kind {
				continue
			}
			if kind == grid.BlockConnector && o.connected && o.partner != b {
				continue
			}
			reach := b.Extent(geom.Forward)*0.5 + o.Extent(geom.Forward)*0.5 + mateSlack
			if geom.Dist(pos, o.Position()) > reach {
				continue
			}
			if geom.Angle(face, r3.Scale(-1, o.Direction(geom.Forward))) > mateAngle {
				continue
			}
			return o
		}
	}
	return nil
}

// touching finds any block of another grid within reach of b.
func (w *World) touching(b *Block) *Block {
	pos := b.Position()
	for _, g := range w.grids {
		if g == b.g || g.closed {
			continue
		}
		for _, o := range g.blocks {
			if o.closed {
				continue
			}
			reach := b.Extent(geom.Forward)*0.5 + grid.LongestExtent(o)*0.5 + gearReach
			if geom.Dist(pos, o.Position()) <= reach {
				return o
			}
		}
	}
	return nil
}

func (w *World) grind(b *Block) {
	pos := b.Position()
	var target *Block
	best := math.Inf(1)
	for _, g := range w.grids {
		if g.closed || w.IsAttached(g.id, b.g.id, grid.AttachAny) {
			continue
		}
		for _, o := range g.blocks {
			if o.closed {
				continue
			}
			if d := geom.Dist(pos, o.Position()); d <= grindReach+grid.LongestExtent(o)*0.5 && d < best {
				target, best = o, d
			}
		}
	}
	if target == nil {
		return
	}
	target.damage += grindPerTick
	if target.damage < 1 {
		return
	}
	target.closed = true
	b.add("steel", 5)
	for k, v := range target.items {
		b.add(k, v)
	}
	w.log.Debug("block ground down", "grid", target.g.Name, "block", target.name)
	if len(target.g.Blocks()) == 0 {
		target.g.closed = true
		w.log.Info("grid destroyed", "grid", target.g.Name)
	}
}

func (w *World) weld(b *Block) {
	pos := b.Position()
	for _, g := range w.grids {
		if g.closed {
			continue
		}
		for _, o := range g.blocks {
			if o.closed || o == b || (o.damage <= 0 && o.build >= 1) {
				continue
			}
			if geom.Dist(pos, o.Position()) > weldReach+grid.LongestExtent(o)*0.5 {
				continue
			}
			if len(o.missing) > 0 {
				w.supply(b, o)
				if len(o.missing) > 0 {
					continue
				}
			}
			o.build = math.Min(1, o.build+weldPerTick)
			o.damage = math.Max(0, o.damage-weldPerTick)
			return
		}
	}
}

// supply moves one of each missing component from the welder's ship into o.
func (w *World) supply(welder, o *Block) {
	for item := range o.missing {
		got := false
		w.RunOnAttached(welder.g.id, grid.AttachTerminal, func(id grid.EntityID) bool {
			g, _ := w.Grid(id)
			for _, inv := range g.blocks {
				if !inv.closed && inv.remove(item, 1) == 1 {
					got = true
					return false
				}
			}
			return true
		})
		if got {
			o.missing[item]--
			if o.missing[item] <= 0 {
				delete(o.missing, item)
			}
		}
	}
}

func (w *World) closestOre(from r3.Vec, ores []string) (grid.Deposit, bool) {
	var best grid.Deposit
	bestD := math.Inf(1)
	for _, a := range w.asteroids {
		for _, d := range a.Deposits {
			if len(ores) > 0 && !containsFold(ores, d.Ore) {
				continue
			}
			if dd := geom.Dist2(from, d.Position); dd < bestD {
				best, bestD = d, dd
			}
		}
	}
	return best, !math.IsInf(bestD, 1)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func (w *World) link(a, b grid.EntityID, kind grid.AttachmentKind) {
	if w.links[a] == nil {
		w.links[a] = map[grid.EntityID]grid.AttachmentKind{}
	}
	w.links[a][b] |= kind
}

func (w *World) unlink(a, b grid.EntityID, kind grid.AttachmentKind) {
	if m := w.links[a]; m != nil {
		m[b] &^= kind
		if m[b] == 0 {
			delete(m, b)
		}
	}
}

// Attach joins two grids without making either follow the other, e.g. a rotor or piston.
func (w *World) Attach(a, b *Grid, kind grid.AttachmentKind) {
	w.link(a.id, b.id, kind)
	w.link(b.id, a.id, kind)
}

func (w *World) dock(a, b *Grid, kind grid.AttachmentKind) {
	w.Attach(a, b, kind)
	switch {
	case !a.Static && a.dockedTo == nil:
		a.dockedTo = b
	case !b.Static && b.dockedTo == nil:
		b.dockedTo = a
	}
	w.log.Debug("grids attached", "a", a.Name, "b", b.Name, "kind", kind)
}

func (w *World) undock(a, b *Grid, kind grid.AttachmentKind) {
	w.unlink(a.id, b.id, kind)
	w.unlink(b.id, a.id, kind)
	if a.dockedTo == b {
		a.dockedTo = nil
	}
	if b.dockedTo == a {
		b.dockedTo = nil
	}
}

// IsAttached reports whether a path of kind links joins a and b.
func (w *World) IsAttached(a, b grid.EntityID, kind grid.AttachmentKind) bool {
	if a == b {
		return true
	}
	found := false
	w.RunOnAttached(a, kind, func(id grid.EntityID) bool {
		found = id == b
		return !found
	})
	return found
}

func (w *World) RunOnAttached(g grid.EntityID, kind grid.AttachmentKind, visit func(grid.EntityID) bool) {
	seen := map[grid.EntityID]bool{g: true}
	queue := []grid.EntityID{g}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !visit(id) {
			return
		}
		for next, k := range w.links[id] {
			if k&kind == 0 || seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
}

// Lookup and Each make the world an omniscient grid.Sightings.
func (w *World) Lookup(id grid.EntityID) (grid.LastSeen, bool) {
	if g, ok := w.Grid(id); ok && !g.closed {
		return w.seenGrid(g), true
	}
	if a, ok := w.asteroid(id); ok {
		return w.seenAsteroid(a), true
	}
	return grid.LastSeen{}, false
}

func (w *World) Each(visit func(grid.LastSeen) bool) {
	for _, g := range w.grids {
		if !g.closed && !visit(w.seenGrid(g)) {
			return
		}
	}
	for _, a := range w.asteroids {
		if !visit(w.seenAsteroid(a)) {
			return
		}
	}
}

func (w *World) seenGrid(g *Grid) grid.LastSeen {
	return grid.LastSeen{Entity: g.id, Kind: grid.KindGrid, Name: g.Name, Position: g.Pos, Velocity: g.Vel, Radius: g.radius, SeenAt: w.tick}
}

func (w *World) seenAsteroid(a *Asteroid) grid.LastSeen {
	return grid.LastSeen{Entity: a.id, Kind: grid.KindAsteroid, Name: a.Name, Position: a.Centre, Radius: a.Radius, SeenAt: w.tick}
}

// Blocks, BlocksOfType and ClosestOccupiedCell make the world a navigator.SpatialIndex.
func (w *World) Blocks(id grid.EntityID) []grid.Block {
	g, ok := w.Grid(id)
	if !ok || g.closed {
		return nil
	}
	var out []grid.Block
	for _, b := range g.Blocks() {
		out = append(out, b)
	}
	return out
}

func (w *World) BlocksOfType(id grid.EntityID, kind grid.BlockKind) []grid.Block {
	var out []grid.Block
	for _, b := range w.Blocks(id) {
		if b.Kind() == kind {
			out = append(out, b)
		}
	}
	return out
}

func (w *World) ClosestOccupiedCell(id grid.EntityID, from r3.Vec, _ grid.Cell) (grid.Cell, r3.Vec, bool) {
	g, ok := w.Grid(id)
	if !ok || g.closed {
		return grid.Cell{}, r3.Vec{}, false
	}
	var best *Block
	bestD := math.Inf(1)
	for _, b := range g.Blocks() {
		if d := geom.Dist2(from, b.Position()); d < bestD {
			best, bestD = b, d
		}
	}
	if best == nil {
		return grid.Cell{}, r3.Vec{}, false
	}
	cell := grid.Cell{
		X: int(math.Round(best.Local.X / defaultBlock)),
		Y: int(math.Round(best.Local.Y / defaultBlock)),
		Z: int(math.Round(best.Local.Z / defaultBlock)),
	}
	return cell, best.Position(), true
}

// Intersects and Centre make the world a grid.Voxels.
func (w *World) Intersects(body grid.EntityID, c geom.Capsule) bool {
	a, ok := w.asteroid(body)
	if !ok {
		return false
	}
	return c.DistanceTo(a.Centre) <= a.Radius+c.Radius
}

func (w *World) Centre(body grid.EntityID) (r3.Vec, bool) {
	a, ok := w.asteroid(body)
	if !ok {
		return r3.Vec{}, false
	}
	return a.Centre, true
}

type relations struct {
	w    *World
	self *Grid
}

func (r relations) Hostile(id grid.EntityID) bool {
	g, ok := r.w.Grid(r.w.gridOf(id))
	if !ok {
		return false
	}
	return g.Faction != "" && r.self.Faction != "" && g.Faction != r.self.Faction
}

func (r relations) CanControl(b grid.Block) bool {
	return !r.Hostile(b.Grid())
}

type ship struct{ g *Grid }

func (s ship) ID() grid.EntityID { return s.g.id }
func (s ship) Name() string      { return s.g.Name }
func (s ship) Position() r3.Vec  { return s.g.Pos }
func (s ship) Velocity() r3.Vec  { return s.g.Vel }
func (s ship) Radius() float64   { return s.g.radius }

func (s ship) Controller() grid.Block {
	var first *Block
	for _, b := range s.g.Blocks() {
		switch b.kind {
		case grid.BlockRemoteControl, grid.BlockCockpit:
			return b
		}
		if first == nil {
			first = b
		}
	}
	if first == nil {
		return nil
	}
	return first
}

// Bind returns a pilot wired to the world for the grid id. The caller adds the settings
// stack's companions: queue, reservations, targeters, tuning, log and events.
func (w *World) Bind(id grid.EntityID, stack *settings.Stack) (navigator.Pilot, error) {
	g, ok := w.Grid(id)
	if !ok {
		return navigator.Pilot{}, fmt.Errorf("bind %d: %w", id, ErrUnknownEntity)
	}
	act := &Actuator{g: g, stack: stack}
	return navigator.Pilot{
		Ship:      ship{g},
		Settings:  stack,
		Actuator:  act,
		Planner:   &Planner{w: w, act: act},
		Index:     w,
		Attached:  w,
		Sightings: w,
		Relations: relations{w: w, self: g},
		Voxels:    w,
		Clock:     w,
	}, nil
}
