// Package grind takes hostile grids apart with the ship's grinders.
package grind

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/finder"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

var ErrNoGrinders = errors.New("grind: no working grinders")

type Stage uint8

const (
	None Stage = iota
	Intercept
	Grind
)

func (s Stage) String() string {
	switch s {
	case None:
		return "None"
	case Intercept:
		return "Intercept"
	case Grind:
		return "Grind"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

const (
	maxAngleRotate   = 1.0
	interceptSpeed2  = 10.0
	grinderRecheck   = 1000
	cellSize         = 2.5
	approachEpsilon  = 5.0
	extricateBackoff = 100.0
)

// Grinder is installed on the Move level as both mover and rotator.
type Grinder struct {
	p       *navigator.Pilot
	finder  *finder.Finder
	nav     grid.Block
	offset  float64
	longest float64

	stage     Stage
	enemy     grid.LastSeen
	target    r3.Vec
	timeoutAt uint64

	enable          bool
	nextRecheck     uint64
	nextFullCheck   uint64
	full            bool
	closed          bool
	maxRangeSquared float64
}

// New starts grinding the closest hostile grid within maxRange. A maxRange of zero uses the
// tuned maximum target range.
func New(p *navigator.Pilot, maxRange float64) (*Grinder, error) {
	g := &Grinder{p: p, longest: 2 * p.Ship.Radius()}

	if nav := p.Settings.Effective().NavigationBlock; nav != nil && nav.Kind() == grid.BlockGrinder && nav.Functional() {
		g.nav = nav
	} else {
		for _, b := range g.grinders() {
			if b.Functional() {
				g.nav = b
				break
			}
		}
	}
	if g.nav == nil {
		return nil, ErrNoGrinders
	}
	g.offset = g.nav.Extent(geom.Forward)*0.5 + 2.5

	if maxRange <= 0 {
		maxRange = p.Tuning.MaxTargetRange
	}
	g.maxRangeSquared = maxRange * maxRange

	move := p.Settings.Level(settings.Move)
	if p.Settings.Effective().DestinationRadius > g.longest {
		move.SetDestinationRadius(g.longest)
	}
	g.finder = finder.New(p, finder.Options{MaxRange: maxRange, OrderValue: g.orderValue})
	g.timeoutAt = p.Now() + p.Tuning.SearchTimeoutTicks

	move.SetMover(g)
	move.SetRotator(g)
	return g, nil
}

func (g *Grinder) Name() string { return "Grinder" }

func (g *Grinder) Stage() Stage { return g.stage }

// Enemy is the grid being worked, invalid while searching.
func (g *Grinder) Enemy() grid.LastSeen { return g.enemy }

// orderValue ranks grids already worked by other ships after every unworked grid in range.
func (g *Grinder) orderValue(s grid.LastSeen) float64 {
	d := r3.Norm2(r3.Sub(s.Position, g.p.Ship.Position()))
	others := g.p.Targeters.Count(s.Entity)
	if cur, ok := g.p.Targeters.Target(g.p.Ship.ID()); ok && cur == s.Entity {
		others--
	}
	return float64(others)*g.maxRangeSquared + d
}

func (g *Grinder) grinders() []grid.Block {
	return g.p.Index.BlocksOfType(g.p.Ship.ID(), grid.BlockGrinder)
}

func (g *Grinder) setStage(s Stage) {
	if s == g.stage {
		return
	}
	g.p.Transition(g.Name(), g.stage.String(), s.String())
	g.stage = s
	if s == None {
		g.enableGrinders(false)
	}
}

// setEnemy switches targets and keeps the tracker in step.
func (g *Grinder) setEnemy(s grid.LastSeen) {
	if s.Entity == g.enemy.Entity {
		g.enemy = s
		return
	}
	g.setStage(None)
	g.enemy = s
	if s.Valid() {
		g.p.Targeters.Set(g.p.Ship.ID(), s.Entity)
	} else {
		g.p.Targeters.Remove(g.p.Ship.ID())
	}
}

func (g *Grinder) finish(detail string) {
	g.Close()
	g.p.Complete(g.Name(), settings.Move, detail)
}

// Close releases the target and stops the grinders.
func (g *Grinder) Close() {
	if g.closed {
		return
	}
	g.closed = true
	g.p.Targeters.Remove(g.p.Ship.ID())
	g.enableGrinders(false)
}

func (g *Grinder) enableGrinders(on bool) {
	grinders := g.grinders()
	name := "grinders off"
	if on {
		name = "grinders on"
	}
	g.p.Queue.Do(name, func() {
		for _, b := range grinders {
			if !b.Closed() {
				b.SetEnabled(on)
			}
		}
	})
	g.nextRecheck = g.p.Now() + grinderRecheck
	g.enable = on
}

func (g *Grinder) grindersFull() bool {
	now := g.p.Now()
	if now < g.nextFullCheck {
		return g.full
	}
	g.nextFullCheck = now + g.p.Tuning.FullnessCheckInterval

	var content, capacity float64
	for _, b := range g.grinders() {
		if inv, ok := b.(grid.Inventory); ok {
			content += inv.Fullness()
			capacity++
		}
	}
	g.full = capacity == 0 || content/capacity >= g.p.Tuning.GrinderFullFraction
	return g.full
}

func (g *Grinder) functional() bool {
	for _, b := range g.grinders() {
		if b.Functional() {
			return true
		}
	}
	return false
}

func (g *Grinder) Move() {
	if g.closed {
		return
	}
	if !g.functional() {
		g.finish("no grinders")
		return
	}
	now := g.p.Now()
	if now >= g.nextRecheck {
		g.enableGrinders(g.enable)
	}
	if g.grindersFull() {
		g.finish("grinders full")
		return
	}

	g.finder.Update()
	found, _ := g.finder.Grid()
	g.setEnemy(found)
	if !g.enemy.Valid() {
		g.p.Actuator.StopMove()
		if now >= g.timeoutAt {
			g.p.Emit(navigator.Event{Navigator: g.Name(), Kind: navigator.EventTimeout})
			g.finish("search timeout")
		}
		return
	}
	g.timeoutAt = now + g.p.Tuning.SearchTimeoutTicks

	if r3.Norm2(g.enemy.Velocity) > interceptSpeed2 {
		mult := 1.0
		if g.stage == Intercept {
			mult = 0.5
		}
		path := geom.Line{From: g.enemy.Position, To: r3.Add(g.enemy.Position, r3.Scale(1e6, g.enemy.Velocity))}
		if path.DistanceTo(g.nav.Position()) > g.enemy.Radius*2*mult {
			g.target = g.enemy.Position
			ahead := r3.Scale(2*g.enemy.Radius+g.longest, r3.Unit(g.enemy.Velocity))
			g.intercept(r3.Add(g.enemy.Position, ahead))
			return
		}
	}
	g.grind()
}

func (g *Grinder) intercept(pos r3.Vec) {
	if g.stage != Intercept {
		g.p.Settings.OnTaskComplete(settings.Rotate)
		g.enableGrinders(false)
		g.p.Settings.Level(settings.Rotate).SetSpeedMaxRelative(math.MaxFloat64)
		g.setStage(Intercept)
	}
	g.p.Actuator.CalcMove(g.nav, pos, g.enemy.Velocity, false)
}

func (g *Grinder) grind() {
	task := g.p.Settings.Level(settings.Rotate)
	if g.stage != Grind {
		g.p.Settings.OnTaskComplete(settings.Rotate)
		g.enableGrinders(true)
		g.setStage(Grind)
		task = g.p.Settings.Level(settings.Rotate)
		task.SetDestinationEntity(g.enemy.Entity)
	}

	_, pos, ok := g.p.Index.ClosestOccupiedCell(g.enemy.Entity, g.p.Ship.Position(), grid.Cell{})
	if !ok {
		return
	}
	g.target = pos
	grinderPos := g.nav.Position()

	if g.p.Settings.Effective().DistanceAngle > maxAngleRotate {
		if !g.p.Planner.CanRotate() {
			task.SetSpeedMaxRelative(math.MaxFloat64)
			away := r3.Add(g.target, r3.Scale(extricateBackoff, g.nav.Direction(geom.Backward)))
			g.p.Actuator.CalcMove(g.nav, away, g.enemy.Velocity, false)
		} else {
			g.p.Actuator.CalcMove(g.nav, grinderPos, g.enemy.Velocity, false)
		}
		return
	}

	offset := g.offset + cellSize
	far := offset + approachEpsilon
	if geom.Dist2(g.target, grinderPos) > far*far {
		out := r3.Unit(r3.Sub(grinderPos, g.target))
		task.SetSpeedMaxRelative(math.MaxFloat64)
		g.p.Actuator.CalcMove(g.nav, r3.Add(g.target, r3.Scale(offset, out)), g.enemy.Velocity, true)
		return
	}
	task.SetSpeedMaxRelative(1)
	g.p.Actuator.CalcMove(g.nav, g.target, g.enemy.Velocity, true)
}

func (g *Grinder) Rotate() {
	if g.closed {
		return
	}
	e := g.p.Settings.Effective()
	if !g.enemy.Valid() || (g.p.Settings.DistanceLessThan(1) && e.DistanceAngle <= maxAngleRotate) {
		g.p.Actuator.StopRotate()
		return
	}
	g.p.Actuator.CalcRotate(g.nav, r3.Sub(g.target, g.nav.Position()), r3.Vec{})
}

func (g *Grinder) AppendStatusText(sb *strings.Builder) {
	sb.WriteString("Grinder:\n")
	if !g.enemy.Valid() {
		left := uint64(0)
		if now := g.p.Now(); g.timeoutAt > now {
			left = (g.timeoutAt - now) / grid.TicksPerSecond
		}
		fmt.Fprintf(sb, "Searching for a ship, timeout in %d seconds.\n", left)
		best := g.finder.BestRejected()
		switch g.finder.Reason() {
		case finder.ReasonTooFar:
			fmt.Fprintf(sb, "%s is too far\n", best.Name)
		case finder.ReasonTooFast:
			fmt.Fprintf(sb, "%s is too fast\n", best.Name)
		}
		return
	}
	switch g.stage {
	case Intercept:
		fmt.Fprintf(sb, "Moving towards %s\n", g.enemy.Name)
	case Grind:
		fmt.Fprintf(sb, "Reducing %s to its constituent parts\n", g.enemy.Name)
		if n := g.p.Targeters.Count(g.enemy.Entity); n > 1 {
			fmt.Fprintf(sb, "%d ships working this grid\n", n)
		}
	}
}
