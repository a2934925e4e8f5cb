// Package weld repairs friendly grids block by block and fetches missing components.
package weld

import (
	"errors"
	"strings"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/finder"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

var ErrNoWelders = errors.New("weld: no welders")

// Grid finds a named grid and hands its damaged blocks, closest first, to Block navigators.
type Grid struct {
	p         *navigator.Pilot
	finder    *finder.Finder
	welder    grid.Block
	shopAfter bool

	current   grid.EntityID
	damaged   map[grid.EntityID]grid.Repairable
	gaveUp    map[grid.EntityID]bool
	timeoutAt uint64
	active    *Block
	repaired  int
	failed    int
	closed    bool
}

// NewGrid installs a weld dispatcher for gridName on the Rotate level. With shopAfter set, the
// components still missing when it gives up become a Shopper waiting for the next dock.
func NewGrid(p *navigator.Pilot, gridName string, shopAfter bool) (*Grid, error) {
	g := &Grid{
		p:         p,
		shopAfter: shopAfter,
		damaged:   map[grid.EntityID]grid.Repairable{},
		gaveUp:    map[grid.EntityID]bool{},
	}
	if nav := p.Settings.Effective().NavigationBlock; nav != nil && nav.Kind() == grid.BlockWelder {
		g.welder = nav
	} else if welders := p.Index.BlocksOfType(p.Ship.ID(), grid.BlockWelder); len(welders) > 0 {
		g.welder = welders[0]
	}
	if g.welder == nil {
		return nil, ErrNoWelders
	}
	g.finder = finder.New(p, finder.Options{GridName: gridName, Attachment: grid.AttachPhysics})
	g.timeoutAt = p.Now() + p.Tuning.SearchTimeoutTicks

	lvl := p.Settings.Level(settings.Rotate)
	lvl.SetMover(g)
	lvl.SetRotator(g)
	return g, nil
}

func (g *Grid) Name() string { return "WeldGrid" }

// Repaired and Failed count finished Block navigators.
func (g *Grid) Repaired() int { return g.repaired }
func (g *Grid) Failed() int   { return g.failed }

func (g *Grid) Move() {
	if g.closed {
		return
	}
	g.collect()
	g.finder.Update()
	g.p.Actuator.StopMove()

	found, ok := g.finder.Grid()
	if !ok {
		g.current = 0
		if g.p.Now() >= g.timeoutAt {
			g.p.Settings.Level(settings.Commands).AddComplaint(settings.SearchTimeout)
			g.p.Emit(navigator.Event{Navigator: g.Name(), Kind: navigator.EventTimeout})
			g.closed = true
			g.p.Complete(g.Name(), settings.Rotate, "search timeout")
		}
		return
	}
	g.timeoutAt = g.p.Now() + g.p.Tuning.SearchTimeoutTicks

	if found.Entity != g.current {
		if g.p.Log != nil {
			g.p.Log.Info("weld target changed", "grid", found.Name)
		}
		g.current = found.Entity
		g.scanDamaged()
	}

	target := g.closestRepairable()
	if target == nil {
		g.scanDamaged()
		g.finish()
		return
	}
	delete(g.damaged, target.ID())
	g.active = NewBlock(g.p, g.welder, target)
}

// collect records how the last Block ended.
func (g *Grid) collect() {
	if g.active == nil {
		return
	}
	switch g.active.Outcome() {
	case Repaired:
		g.repaired++
	case Failed:
		g.failed++
		g.gaveUp[g.active.target.ID()] = true
	case Lost:
		g.failed++
	}
	g.active = nil
}

func (g *Grid) finish() {
	st := g.p.Settings
	if g.shopAfter {
		if list := g.missing(); len(list) > 0 {
			st.Shopper = NewShopper(g.p, list)
		}
	}
	unfinished := len(g.damaged)
	g.closed = true
	g.p.Complete(g.Name(), settings.Rotate, "no repairable blocks")
	st.WelderUnfinishedBlocks = unfinished
	if unfinished > 0 {
		st.Level(settings.Commands).AddComplaint(settings.WelderNotFinished)
	}
}

// scanDamaged lists every damaged or incomplete block on the target and anything
// permanently attached to it.
func (g *Grid) scanDamaged() {
	g.damaged = map[grid.EntityID]grid.Repairable{}
	if g.current == 0 {
		return
	}
	g.p.Attached.RunOnAttached(g.current, grid.AttachPhysics, func(id grid.EntityID) bool {
		for _, b := range g.p.Index.Blocks(id) {
			if r, ok := b.(grid.Repairable); ok && needsWork(r) {
				g.damaged[r.ID()] = r
			}
		}
		return true
	})
}

func needsWork(r grid.Repairable) bool {
	return r.Damage() > 0 || r.BuildRatio() < 1
}

// inventory sums the items carried by the ship.
func (g *Grid) inventory() map[string]int {
	have := map[string]int{}
	for _, b := range g.p.Index.Blocks(g.p.Ship.ID()) {
		if inv, ok := b.(grid.Inventory); ok {
			for k, v := range inv.Items() {
				have[k] += v
			}
		}
	}
	return have
}

// closestRepairable is the damaged block nearest the ship that needs nothing or needs
// something the ship carries.
func (g *Grid) closestRepairable() grid.Repairable {
	if len(g.damaged) == 0 {
		g.scanDamaged()
		if len(g.damaged) == 0 {
			return nil
		}
	}
	have := g.inventory()
	pos := g.p.Ship.Position()

	var best grid.Repairable
	bestD := 0.0
	for id, r := range g.damaged {
		if r.Closed() || !needsWork(r) {
			delete(g.damaged, id)
			continue
		}
		if g.gaveUp[id] {
			continue
		}
		d := geom.Dist2(pos, r.Position())
		if best != nil && d >= bestD {
			continue
		}
		missing := r.MissingComponents()
		usable := len(missing) == 0
		for item := range missing {
			if have[item] > 0 {
				usable = true
				break
			}
		}
		if usable {
			best, bestD = r, d
		}
	}
	return best
}

func (g *Grid) missing() map[string]int {
	out := map[string]int{}
	for _, r := range g.damaged {
		if r.Closed() {
			continue
		}
		for k, v := range r.MissingComponents() {
			out[k] += v
		}
	}
	return out
}

func (g *Grid) Rotate() {
	if g.closed {
		return
	}
	g.p.Actuator.StopRotate()
}

func (g *Grid) AppendStatusText(sb *strings.Builder) {
	sb.WriteString("Searching for: ")
	sb.WriteString(g.finder.GridName())
	sb.WriteString("\n")
}
