// Package finder locates the grid, and optionally the block, a navigator should act on.
package finder

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// Reason explains why the best candidate was rejected. Higher values win when several
// candidates are rejected for different reasons.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonTooFar
	ReasonGridCondition
	ReasonTooFast
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonTooFar:
		return "TooFar"
	case ReasonGridCondition:
		return "GridCondition"
	case ReasonTooFast:
		return "TooFast"
	}
	return "Reason(?)"
}

type Options struct {
	// GridName selects friendly grids whose normalized name contains it. Empty means
	// search hostile grids instead.
	GridName string
	// BlockName, when set, also selects a block on the found grid or anything attached to it.
	BlockName string
	// Target pins a hostile search to one entity.
	Target grid.EntityID
	// Attachment limits which attached grids the block search walks.
	Attachment   grid.AttachmentKind
	MustBeRecent bool
	// MaxRange is ignored when not above 1.
	MaxRange float64

	GridCondition  func(grid.LastSeen) bool
	BlockCondition func(grid.Block) bool
	// OrderValue scores candidates; lower is better. Defaults to name length for named
	// searches and squared distance for hostile searches.
	OrderValue func(grid.LastSeen) float64
}

// Finder is throttled: Update is cheap on ticks where no search is due.
type Finder struct {
	p    *navigator.Pilot
	opts Options

	gridName  string
	blockName string

	grid  grid.LastSeen
	block grid.Block

	reason Reason
	best   grid.LastSeen

	nextGridSearch  uint64
	nextBlockSearch uint64
	cellHint        grid.Cell
	candidates      int
}

func New(p *navigator.Pilot, opts Options) *Finder {
	f := &Finder{
		p:         p,
		opts:      opts,
		gridName:  grid.NormalizeName(opts.GridName),
		blockName: grid.NormalizeName(opts.BlockName),
	}
	if f.opts.Attachment == grid.AttachNone {
		f.opts.Attachment = grid.AttachPhysics
	}
	if f.opts.OrderValue == nil {
		if f.gridName != "" {
			f.opts.OrderValue = func(s grid.LastSeen) float64 { return float64(len(grid.NormalizeName(s.Name))) }
		} else {
			f.opts.OrderValue = func(s grid.LastSeen) float64 { return r3.Norm2(r3.Sub(s.Position, p.Ship.Position())) }
		}
	}
	return f
}

// Grid returns the current target grid, if any.
func (f *Finder) Grid() (grid.LastSeen, bool) { return f.grid, f.grid.Valid() }

// Block returns the current target block, nil when none.
func (f *Finder) Block() grid.Block { return f.block }

// Reason is the most serious reason a candidate was rejected during the last search.
func (f *Finder) Reason() Reason { return f.reason }

// BestRejected is the candidate that produced Reason.
func (f *Finder) BestRejected() grid.LastSeen { return f.best }

// BlockCandidates is how many blocks matched the block name during the last block search,
// whether or not they passed the block condition.
func (f *Finder) BlockCandidates() int { return f.candidates }

func (f *Finder) BlockName() string { return f.opts.BlockName }
func (f *Finder) GridName() string  { return f.opts.GridName }

// Update runs once per tick.
func (f *Finder) Update() {
	now := f.p.Now()
	if !f.grid.Valid() {
		if now >= f.nextGridSearch {
			f.gridSearch(now)
		}
	} else {
		f.gridUpdate(now)
	}

	if f.grid.Valid() && f.blockName != "" {
		if f.block == nil {
			if now >= f.nextBlockSearch {
				f.blockSearch(now)
			}
		} else {
			f.blockCheck()
		}
	}
	if !f.grid.Valid() {
		f.block = nil
	}
}

// GetPosition is where to fly: the predicted position of a stale grid, the target block
// plus its block-local offset, or the grid cell nearest to navPos.
func (f *Finder) GetPosition(navPos, offset r3.Vec) r3.Vec {
	now := f.p.Now()
	if !f.grid.Recent(now, f.p.Tuning.RecentTicks) {
		return f.grid.PredictedPosition(now)
	}
	if f.block != nil {
		return BlockToWorld(f.block, offset)
	}
	if f.p.Index != nil {
		if cell, pos, ok := f.p.Index.ClosestOccupiedCell(f.grid.Entity, navPos, f.cellHint); ok {
			f.cellHint = cell
			return pos
		}
	}
	return f.grid.Position
}

// BlockToWorld converts a block-local offset (Right, Up, Backward) to a world position.
func BlockToWorld(b grid.Block, offset r3.Vec) r3.Vec {
	v := b.Position()
	v = r3.Add(v, r3.Scale(offset.X, b.Direction(geom.Right)))
	v = r3.Add(v, r3.Scale(offset.Y, b.Direction(geom.Up)))
	return r3.Add(v, r3.Scale(offset.Z, b.Direction(geom.Backward)))
}

func (f *Finder) gridSearch(now uint64) {
	f.nextGridSearch = now + f.p.Tuning.GridSearchInterval
	f.reason = ReasonNone
	f.best = grid.LastSeen{}
	if f.gridName != "" {
		f.searchFriend(now)
	} else {
		f.searchEnemy(now)
	}
	if f.grid.Valid() && f.p.Log != nil {
		f.p.Log.Debug("found grid", "name", f.grid.Name, "entity", f.grid.Entity)
	}
}

func (f *Finder) searchFriend(now uint64) {
	bestScore := math.Inf(1)
	var found grid.LastSeen
	f.p.Sightings.Each(func(s grid.LastSeen) bool {
		if s.Kind != grid.KindGrid || s.Entity == f.p.Ship.ID() {
			return true
		}
		if !strings.Contains(grid.NormalizeName(s.Name), f.gridName) {
			return true
		}
		if f.opts.MustBeRecent && !s.Recent(now, f.p.Tuning.RecentTicks) {
			return true
		}
		score := f.opts.OrderValue(s)
		if score >= bestScore || !f.CanTarget(s) {
			return true
		}
		found, bestScore = s, score
		return true
	})
	f.grid = found
}

func (f *Finder) searchEnemy(now uint64) {
	if f.opts.Target != 0 {
		s, ok := f.p.Sightings.Lookup(f.opts.Target)
		if ok && f.CanTarget(s) {
			f.grid = s
		} else {
			f.grid = grid.LastSeen{}
		}
		return
	}

	var enemies []grid.LastSeen
	f.p.Sightings.Each(func(s grid.LastSeen) bool {
		if s.Kind != grid.KindGrid || !s.Recent(now, f.p.Tuning.RecentTicks) {
			return true
		}
		if f.p.Relations == nil || !f.p.Relations.Hostile(s.Entity) {
			return true
		}
		enemies = append(enemies, s)
		return true
	})
	sort.SliceStable(enemies, func(i, j int) bool {
		return f.opts.OrderValue(enemies[i]) < f.opts.OrderValue(enemies[j])
	})
	f.grid = grid.LastSeen{}
	for _, e := range enemies {
		if f.CanTarget(e) {
			f.grid = e
			return
		}
	}
}

// gridUpdate refreshes the target from sightings before the filters run, so they see where
// the grid is now.
func (f *Finder) gridUpdate(now uint64) {
	updated, ok := f.p.Sightings.Lookup(f.grid.Entity)
	if !ok {
		f.grid = grid.LastSeen{}
		return
	}
	if f.opts.MustBeRecent && !updated.Recent(now, f.p.Tuning.RecentTicks) {
		f.grid = grid.LastSeen{}
		return
	}
	if !f.CanTarget(updated) {
		f.grid = grid.LastSeen{}
		return
	}
	f.grid = updated
}

func (f *Finder) blockSearch(now uint64) {
	f.nextBlockSearch = now + f.p.Tuning.BlockSearchInterval
	f.block = nil
	f.candidates = 0

	bestLen := math.MaxInt
	f.p.Attached.RunOnAttached(f.grid.Entity, f.opts.Attachment, func(g grid.EntityID) bool {
		for _, b := range f.p.Index.Blocks(g) {
			if f.p.Relations != nil && !f.p.Relations.CanControl(b) {
				continue
			}
			name := grid.NormalizeName(b.Name())
			if !strings.Contains(name, f.blockName) {
				continue
			}
			f.candidates++
			if len(name) >= bestLen {
				continue
			}
			if f.opts.BlockCondition != nil && !f.opts.BlockCondition(b) {
				continue
			}
			f.block, bestLen = b, len(name)
			if bestLen == len(f.blockName) {
				return false
			}
		}
		return true
	})
}

func (f *Finder) blockCheck() {
	b := f.block
	if b.Closed() {
		f.block = nil
		return
	}
	if f.p.Relations != nil && !f.p.Relations.CanControl(b) {
		f.block = nil
		return
	}
	if f.opts.BlockCondition != nil && !f.opts.BlockCondition(b) {
		f.block = nil
	}
}

// CanTarget applies the hard filters in order: range, speed, grid condition.
func (f *Finder) CanTarget(s grid.LastSeen) bool {
	if f.opts.MaxRange > 1 && r3.Norm2(r3.Sub(f.p.Ship.Position(), s.Position)) > f.opts.MaxRange*f.opts.MaxRange {
		f.reject(ReasonTooFar, s)
		return false
	}

	speed := f.p.Settings.Level(settings.Engage).SpeedTarget() - 1
	if speed > 0 && r3.Norm2(s.Velocity) >= speed*speed {
		f.reject(ReasonTooFast, s)
		return false
	}

	if f.opts.GridCondition != nil && !f.opts.GridCondition(s) {
		f.reject(ReasonGridCondition, s)
		return false
	}
	return true
}

func (f *Finder) reject(r Reason, s grid.LastSeen) {
	if f.reason < r {
		f.reason = r
		f.best = s
	}
}
