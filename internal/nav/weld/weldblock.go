package weld

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

type Stage uint8

const (
	Lineup Stage = iota
	Approach
	Repair
	Retreat
)

func (s Stage) String() string {
	switch s {
	case Lineup:
		return "Lineup"
	case Approach:
		return "Approach"
	case Repair:
		return "Repair"
	case Retreat:
		return "Retreat"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

const (
	cellSize      = 2.5
	lineupReach   = 100.0
	retreatMargin = 10.0
	retreatStep   = 10.0
)

// Outcome is how a WeldBlock ended.
type Outcome uint8

const (
	Pending Outcome = iota
	Repaired
	Failed
	Lost
)

// Block repairs one damaged block: line up with a free face, approach, weld and back off.
// It lives on the Waypoint level so the dispatcher on the Rotate level resumes when it ends.
type Block struct {
	p      *navigator.Pilot
	welder grid.Block
	target grid.Repairable

	neighbours []grid.Repairable
	empty      []r3.Vec
	lineUp     geom.Line

	stage    Stage
	outcome  Outcome
	enabled  bool
	offset   float64
	startBy  uint64
	lastWeld uint64
	build    float64
	damage   float64
	targetAt r3.Vec
	closed   bool
}

// NewBlock installs a WeldBlock for target using welder as the navigation block.
func NewBlock(p *navigator.Pilot, welder grid.Block, target grid.Repairable) *Block {
	b := &Block{
		p:       p,
		welder:  welder,
		target:  target,
		offset:  grid.LongestExtent(welder) * 0.5,
		startBy: p.Now() + p.Tuning.Weld.StartTimeout,
	}
	b.targetAt = target.Position()
	b.lineUp = geom.Line{From: b.targetAt, To: b.targetAt}
	b.scanNeighbours()
	// Start from a known state whatever the ship left its welders at.
	b.enabled = true
	b.enableWelders(false)

	way := p.Settings.Level(settings.Waypoint)
	way.SetMover(b)
	way.SetRotator(b)
	return b
}

func (b *Block) Name() string { return "WeldBlock" }

func (b *Block) Stage() Stage { return b.stage }

func (b *Block) Outcome() Outcome { return b.outcome }

// scanNeighbours records the blocks touching each face of the target and the faces that are free.
func (b *Block) scanNeighbours() {
	blocks := b.p.Index.Blocks(b.target.Grid())
	for _, d := range geom.Directions {
		cell := r3.Add(b.targetAt, r3.Scale(cellSize, b.target.Direction(d)))
		occupied := false
		for _, o := range blocks {
			if o.ID() == b.target.ID() || geom.Dist(o.Position(), cell) > cellSize*0.5 {
				continue
			}
			occupied = true
			if r, ok := o.(grid.Repairable); ok {
				b.neighbours = append(b.neighbours, r)
			}
		}
		if !occupied {
			b.empty = append(b.empty, cell)
		}
	}
}

func (b *Block) setStage(s Stage) {
	if s == b.stage {
		return
	}
	b.p.Transition(b.Name(), b.stage.String(), s.String())
	b.stage = s
	b.p.Settings.OnTaskComplete(settings.Engage)

	now := b.p.Now()
	switch s {
	case Approach:
		b.lastWeld = now
	case Repair:
		b.lastWeld = now
		eng := b.p.Settings.Level(settings.Engage)
		eng.SetDestinationEntity(b.target.Grid())
		eng.SetSpeedMaxRelative(1)
	}
}

func (b *Block) enableWelders(on bool) {
	if on == b.enabled {
		return
	}
	b.enabled = on
	welders := b.p.Index.BlocksOfType(b.p.Ship.ID(), grid.BlockWelder)
	name := "welders off"
	if on {
		name = "welders on"
	}
	b.p.Queue.Do(name, func() {
		for _, w := range welders {
			if !w.Closed() {
				w.SetEnabled(on)
			}
		}
	})
}

func (b *Block) done(detail string) {
	b.closed = true
	b.enableWelders(false)
	b.p.Actuator.StopMove()
	b.p.Actuator.StopRotate()
	b.p.Complete(b.Name(), settings.Waypoint, detail)
}

// Close turns the welders off when the block task is superseded.
func (b *Block) Close() {
	b.closed = true
	b.enableWelders(false)
}

func (b *Block) targetVelocity() r3.Vec {
	if s, ok := b.p.Sightings.Lookup(b.target.Grid()); ok {
		return s.Velocity
	}
	return r3.Vec{}
}

func (b *Block) retreat(o Outcome) {
	b.enableWelders(false)
	b.outcome = o
	b.setStage(Retreat)
}

func (b *Block) Move() {
	if b.closed {
		return
	}
	if b.target.Closed() {
		b.outcome = Lost
		b.done("target closed")
		return
	}
	b.targetAt = b.target.Position()
	welderAt := b.welder.Position()
	vel := b.targetVelocity()
	now := b.p.Now()
	add := b.p.Tuning.Weld.OffsetAdd

	if b.stage == Retreat {
		gap := b.offset + retreatMargin
		if geom.Dist2(welderAt, b.targetAt) > gap*gap {
			b.done(b.outcome.String())
			return
		}
		away := r3.Unit(r3.Sub(welderAt, b.targetAt))
		b.p.Settings.Level(settings.Engage).SetDestinationEntity(b.target.Grid())
		b.p.Actuator.CalcMove(b.welder, r3.Add(welderAt, r3.Scale(retreatStep, away)), vel, true)
		return
	}

	reach := b.offset + 2*add
	if geom.Dist2(welderAt, b.targetAt) > reach*reach {
		b.enableWelders(false)
		if now > b.startBy {
			b.retreat(Failed)
			return
		}
		b.lineUp.To = b.targetAt
		if geom.Dist2(welderAt, b.lineUp.ClosestPoint(welderAt)) > 1 {
			b.setStage(Lineup)
			b.chooseFace(welderAt)
			b.p.Actuator.CalcMove(b.welder, b.lineUp.ClosestPoint(welderAt), vel, false)
			return
		}
		b.setStage(Approach)
	} else {
		b.setStage(Repair)
		b.enableWelders(true)
	}

	if now-b.lastWeld > b.p.Tuning.Weld.NoProgressTicks {
		b.retreat(Failed)
		return
	}
	b.checkForWeld(now)

	if b.target.Damage() == 0 && b.target.BuildRatio() == 1 && now-b.lastWeld > b.p.Tuning.Weld.FinishDelay {
		b.retreat(Repaired)
		return
	}
	offset := b.offset
	if b.stage != Repair {
		offset += add
	}
	out := r3.Unit(r3.Sub(b.p.Ship.Position(), b.targetAt))
	b.p.Actuator.CalcMove(b.welder, r3.Add(b.targetAt, r3.Scale(offset, out)), vel, true)
}

// chooseFace points the line-up line out of the free face nearest the welder.
func (b *Block) chooseFace(welderAt r3.Vec) {
	if len(b.empty) == 0 {
		b.lineUp.From = r3.Add(b.targetAt, r3.Scale(lineupReach, r3.Unit(r3.Sub(welderAt, b.targetAt))))
		return
	}
	best := b.empty[0]
	for _, c := range b.empty[1:] {
		if geom.Dist2(welderAt, c) < geom.Dist2(welderAt, best) {
			best = c
		}
	}
	dir := r3.Unit(r3.Sub(best, b.targetAt))
	b.lineUp.From = r3.Add(b.targetAt, r3.Scale(lineupReach, dir))
}

// checkForWeld updates lastWeld when the target or a neighbour got closer to finished.
func (b *Block) checkForWeld(now uint64) {
	build, damage := b.target.BuildRatio(), b.target.Damage()
	for _, n := range b.neighbours {
		if n.Closed() {
			continue
		}
		build += n.BuildRatio()
		damage += n.Damage()
	}
	if build > b.build || damage < b.damage {
		b.lastWeld = now
	}
	b.build, b.damage = build, damage
}

func (b *Block) Rotate() {
	if b.closed {
		return
	}
	b.p.Actuator.CalcRotate(b.welder, r3.Sub(b.targetAt, b.welder.Position()), r3.Vec{})
}

func (b *Block) AppendStatusText(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s: %s\n", b.stage, b.target.Name())
}

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Repaired:
		return "repaired"
	case Failed:
		return "failed"
	case Lost:
		return "lost"
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}
