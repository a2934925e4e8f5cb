// Package command turns task descriptions into configured navigators on a ship's
// settings stack.
package command

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/dock"
	"gridpilot.ai/internal/nav/engage"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/grind"
	"gridpilot.ai/internal/nav/mining"
	"gridpilot.ai/internal/nav/motion"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/nav/weld"
	"gridpilot.ai/internal/sim/tasks"
)

var (
	ErrUnknownKind = errors.New("command: unknown task kind")
	ErrNoShip      = errors.New("command: no such ship")
	ErrInvalid     = errors.New("command: invalid task")
	ErrNoBlock     = errors.New("command: no such block on ship")
)

// Assign gives t a fresh id unless it already has one.
func Assign(t *tasks.Task) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
}

// Validate checks the fields t's kind needs without looking at any ship.
func Validate(t tasks.Task) error {
	if t.Ship == "" {
		return fmt.Errorf("%w: ship is required", ErrInvalid)
	}
	if _, ok := tasks.ParseKind(string(t.Kind)); !ok {
		return fmt.Errorf("%w %q", ErrUnknownKind, t.Kind)
	}
	if t.Speed < 0 || t.Radius < 0 || t.Range < 0 || t.Seconds < 0 {
		return fmt.Errorf("%w: negative speed, radius, range or seconds", ErrInvalid)
	}
	switch t.Kind {
	case tasks.KindFly:
		if t.Position == nil {
			return fmt.Errorf("%w: FLY needs a position", ErrInvalid)
		}
	case tasks.KindDock:
		if t.Target == "" {
			return fmt.Errorf("%w: DOCK needs a target grid", ErrInvalid)
		}
	case tasks.KindMine:
		if len(t.Ores) == 0 {
			return fmt.Errorf("%w: MINE needs at least one ore", ErrInvalid)
		}
	case tasks.KindWeld:
		if t.Target == "" {
			return fmt.Errorf("%w: WELD needs a target grid", ErrInvalid)
		}
	case tasks.KindFace:
		if t.Block == "" || (t.Position == nil && t.Direction == nil) {
			return fmt.Errorf("%w: FACE needs a block and a position or direction", ErrInvalid)
		}
	case tasks.KindOrbit:
		if t.Target == "" {
			return fmt.Errorf("%w: ORBIT needs a target", ErrInvalid)
		}
	case tasks.KindWaypoint:
		if t.Entity == 0 {
			return fmt.Errorf("%w: WAYPOINT needs an entity", ErrInvalid)
		}
	case tasks.KindWait:
		if t.Seconds == 0 {
			return fmt.Errorf("%w: WAIT needs seconds", ErrInvalid)
		}
	}
	for _, face := range []string{t.Forward, t.Up} {
		if face == "" {
			continue
		}
		if _, ok := geom.ParseDirection(face); !ok {
			return fmt.Errorf("%w: unknown face %q", ErrInvalid, face)
		}
	}
	return nil
}

// Apply writes t's shared settings to the Commands level and installs the navigators
// that carry it out. The caller resets the Commands level first.
func Apply(p *navigator.Pilot, t tasks.Task) error {
	if err := Validate(t); err != nil {
		return err
	}
	cmd := p.Settings.Level(settings.Commands)
	if t.NavigationBlock != "" {
		b, err := findBlock(p, t.NavigationBlock)
		if err != nil {
			return err
		}
		cmd.SetNavigationBlock(b)
	}
	if t.Speed > 0 {
		cmd.SetSpeedTarget(t.Speed)
	}
	if t.Radius > 0 {
		cmd.SetDestinationRadius(t.Radius)
	}

	if err := install(p, t, cmd); err != nil {
		return fmt.Errorf("%s: %w", t.Kind, err)
	}
	if p.Log != nil {
		p.Log.Debug("task applied", "task", t.ID, "kind", t.Kind, "ship", p.Ship.Name())
	}
	return nil
}

func install(p *navigator.Pilot, t tasks.Task, cmd *settings.Level) error {
	var err error
	switch t.Kind {
	case tasks.KindFly:
		motion.NewFlyTo(p, t.Position.R3(), settings.Move)
	case tasks.KindDock:
		if t.LandingBlock != "" {
			b, ferr := findBlock(p, t.LandingBlock)
			if ferr != nil {
				return ferr
			}
			cmd.SetLandingBlock(b)
		}
		if t.Block != "" {
			cmd.SetDestinationBlock(blockTarget(t))
		}
		dock.New(p, dock.Options{GridName: t.Target})
	case tasks.KindMine:
		_, err = mining.New(p, t.Ores)
	case tasks.KindGrind:
		_, err = grind.New(p, t.Range)
	case tasks.KindWeld:
		_, err = weld.NewGrid(p, t.Target, t.ShopAfter)
	case tasks.KindStop:
		motion.NewStopper(p, t.Exit)
	case tasks.KindFace:
		b, ferr := findBlock(p, t.Block)
		if ferr != nil {
			return ferr
		}
		aim := motion.Aim{}
		if t.Direction != nil {
			aim.Direction = t.Direction.R3()
		} else {
			aim.Point = t.Position.R3()
		}
		_, err = motion.NewFacer(p, b, aim)
	case tasks.KindOrbit:
		_, err = motion.NewOrbiter(p, t.Target)
	case tasks.KindWaypoint:
		_, err = motion.NewWaypoint(p, settings.Move, grid.EntityID(t.Entity), t.Offset.R3())
	case tasks.KindWait:
		cmd.SetWaitUntil(p.Now() + navigator.Seconds(t.Seconds))
	case tasks.KindKamikaze:
		_, err = engage.NewResponder(p, engage.NewKamikaze(p), t.Range)
	case tasks.KindSelfDestruct:
		_, err = engage.NewResponder(p, engage.NewSelfDestruct(p), t.Range)
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, t.Kind)
	}
	return err
}

func blockTarget(t tasks.Task) settings.BlockTarget {
	bt := settings.BlockTarget{Name: t.Block}
	if d, ok := geom.ParseDirection(t.Forward); ok {
		bt.Forward, bt.HasForward = d, true
	}
	if d, ok := geom.ParseDirection(t.Up); ok {
		bt.Up, bt.HasUp = d, true
	}
	return bt
}

// findBlock picks the working ship block whose name contains name, preferring the
// shortest such name.
func findBlock(p *navigator.Pilot, name string) (grid.Block, error) {
	want := grid.NormalizeName(name)
	var best grid.Block
	bestLen := math.MaxInt
	for _, b := range p.Index.Blocks(p.Ship.ID()) {
		if b.Closed() {
			continue
		}
		have := grid.NormalizeName(b.Name())
		if !strings.Contains(have, want) || len(have) >= bestLen {
			continue
		}
		best, bestLen = b, len(have)
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoBlock, name)
	}
	return best, nil
}
