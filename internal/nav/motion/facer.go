package motion

import (
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// Aim is what a Facer points at: a fixed world direction, such as the sun's, or a point.
// Direction wins when both are set.
type Aim struct {
	Name      string
	Direction r3.Vec
	Point     r3.Vec
}

func (a Aim) String() string {
	if a.Name != "" {
		return a.Name
	}
	if !geom.IsZero(a.Direction) {
		return navigator.PrettyVec(a.Direction)
	}
	return navigator.PrettyVec(a.Point)
}

// Facer turns one block toward its aim. It only rotates, so it is finished once the
// direction is matched and nothing else is moving the ship.
type Facer struct {
	p     *navigator.Pilot
	block grid.Block
	aim   Aim
}

func NewFacer(p *navigator.Pilot, block grid.Block, aim Aim) (*Facer, error) {
	if block == nil || block.Closed() {
		return nil, ErrNoFacingBlock
	}
	f := &Facer{p: p, block: block, aim: aim}
	p.Settings.Level(settings.Move).SetRotator(f)
	return f, nil
}

func (f *Facer) Name() string { return "Facer" }

func (f *Facer) direction() r3.Vec {
	if !geom.IsZero(f.aim.Direction) {
		return f.aim.Direction
	}
	return r3.Sub(f.aim.Point, f.block.Position())
}

func (f *Facer) Rotate() {
	f.p.Actuator.CalcRotate(f.block, f.direction(), r3.Vec{})
}

// Matched reports whether the block faces its aim.
func (f *Facer) Matched() bool {
	return f.p.Settings.DirectionMatched(directionTolerance)
}

func (f *Facer) AppendStatusText(sb *strings.Builder) {
	sb.WriteString("Facing ")
	sb.WriteString(f.block.Name())
	sb.WriteString(" towards ")
	sb.WriteString(f.aim.String())
	sb.WriteString("\n")
}
