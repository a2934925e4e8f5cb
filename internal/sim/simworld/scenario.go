package simworld

import (
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
)

var ErrBadScenario = errors.New("bad scenario")

// Vec is a vector written as a three element list.
type Vec [3]float64

func (v Vec) R3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Scenario is the YAML description of a world.
type Scenario struct {
	WarheadTicks int            `yaml:"warhead_ticks"`
	Asteroids    []AsteroidSpec `yaml:"asteroids"`
	Grids        []GridSpec     `yaml:"grids"`
	Attachments  []AttachSpec   `yaml:"attachments"`
}

type AsteroidSpec struct {
	Name     string        `yaml:"name"`
	Position Vec           `yaml:"position"`
	Radius   float64       `yaml:"radius"`
	Ore      string        `yaml:"ore"`
	Deposits []DepositSpec `yaml:"deposits"`
}

type DepositSpec struct {
	Ore      string `yaml:"ore"`
	Position Vec    `yaml:"position"`
}

type GridSpec struct {
	Name     string      `yaml:"name"`
	Faction  string      `yaml:"faction"`
	Static   bool        `yaml:"static"`
	Position Vec         `yaml:"position"`
	Velocity Vec         `yaml:"velocity"`
	Forward  *Vec        `yaml:"forward"`
	Up       *Vec        `yaml:"up"`
	MaxAccel float64     `yaml:"max_accel"`
	TurnRate float64     `yaml:"turn_rate"`
	Blocks   []BlockSpec `yaml:"blocks"`

	// Autopilot puts the grid under the host's control.
	Autopilot bool `yaml:"autopilot"`
}

type BlockSpec struct {
	Kind     string         `yaml:"kind"`
	Name     string         `yaml:"name"`
	Local    Vec            `yaml:"local"`
	Forward  *Vec           `yaml:"forward"`
	Up       *Vec           `yaml:"up"`
	Size     *Vec           `yaml:"size"`
	Capacity int            `yaml:"capacity"`
	Items    map[string]int `yaml:"items"`
	Damage   float64        `yaml:"damage"`
	Build    *float64       `yaml:"build"`
	Missing  map[string]int `yaml:"missing"`
	Disabled bool           `yaml:"disabled"`
}

// AttachSpec joins two grids by name, e.g. a rotor head to its base.
type AttachSpec struct {
	A    string `yaml:"a"`
	B    string `yaml:"b"`
	Kind string `yaml:"kind"`
}

var blockKinds = map[string]grid.BlockKind{
	string(grid.BlockConnector):     grid.BlockConnector,
	string(grid.BlockLandingGear):   grid.BlockLandingGear,
	string(grid.BlockMerge):         grid.BlockMerge,
	string(grid.BlockDrill):         grid.BlockDrill,
	string(grid.BlockGrinder):       grid.BlockGrinder,
	string(grid.BlockWelder):        grid.BlockWelder,
	string(grid.BlockRemoteControl): grid.BlockRemoteControl,
	string(grid.BlockCockpit):       grid.BlockCockpit,
	string(grid.BlockWarhead):       grid.BlockWarhead,
	string(grid.BlockCargo):         grid.BlockCargo,
	string(grid.BlockOreDetector):   grid.BlockOreDetector,
	string(grid.BlockThruster):      grid.BlockThruster,
	string(grid.BlockArmor):         grid.BlockArmor,
}

var attachKinds = map[string]grid.AttachmentKind{
	"piston":       grid.AttachPiston,
	"motor":        grid.AttachMotor,
	"connector":    grid.AttachConnector,
	"landing_gear": grid.AttachLandingGear,
	"merge":        grid.AttachMerge,
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func (s Scenario) Validate() error {
	names := map[string]bool{}
	for i, g := range s.Grids {
		if g.Name == "" {
			return fmt.Errorf("%w: grid %d has no name", ErrBadScenario, i)
		}
		if names[g.Name] {
			return fmt.Errorf("%w: grid name %q used twice", ErrBadScenario, g.Name)
		}
		names[g.Name] = true
		for j, b := range g.Blocks {
			if _, ok := blockKinds[b.Kind]; !ok {
				return fmt.Errorf("%w: grid %q block %d: unknown kind %q", ErrBadScenario, g.Name, j, b.Kind)
			}
		}
	}
	for i, a := range s.Asteroids {
		if a.Radius <= 0 {
			return fmt.Errorf("%w: asteroid %d: radius must be positive", ErrBadScenario, i)
		}
	}
	for _, at := range s.Attachments {
		if _, ok := attachKinds[at.Kind]; !ok {
			return fmt.Errorf("%w: unknown attachment kind %q", ErrBadScenario, at.Kind)
		}
		if !names[at.A] || !names[at.B] {
			return fmt.Errorf("%w: attachment %q-%q names a missing grid", ErrBadScenario, at.A, at.B)
		}
	}
	return nil
}

// Controlled names the grids that run an autopilot, in file order.
func (s Scenario) Controlled() []string {
	var out []string
	for _, g := range s.Grids {
		if g.Autopilot {
			out = append(out, g.Name)
		}
	}
	return out
}

func basis(forward, up *Vec) geom.Basis {
	b := geom.Identity()
	if forward != nil {
		b.Forward = forward.R3()
	}
	if up != nil {
		b.Up = up.R3()
	}
	return b.Orthonormalize()
}

// Build creates a world populated from s.
func (s Scenario) Build(w *World) {
	if s.WarheadTicks > 0 {
		w.SetWarheadTicks(s.WarheadTicks)
	}
	for _, as := range s.Asteroids {
		a := w.AddAsteroid(as.Name, as.Position.R3(), as.Radius, as.Ore)
		for _, d := range as.Deposits {
			w.AddDeposit(a, d.Ore, d.Position.R3())
		}
	}
	for _, gs := range s.Grids {
		g := w.AddGrid(gs.Name, gs.Faction, gs.Position.R3())
		g.Static = gs.Static
		g.Vel = gs.Velocity.R3()
		g.Basis = basis(gs.Forward, gs.Up)
		if gs.MaxAccel > 0 {
			g.MaxAccel = gs.MaxAccel
		}
		if gs.TurnRate > 0 {
			g.TurnRate = gs.TurnRate
		}
		for _, bs := range gs.Blocks {
			b := g.AddBlock(blockKinds[bs.Kind], bs.Name, bs.Local.R3(), basis(bs.Forward, bs.Up))
			if bs.Size != nil {
				b.Size = bs.Size.R3()
			}
			if bs.Capacity > 0 {
				b.capacity = bs.Capacity
			}
			if len(bs.Items) > 0 {
				b.SetItems(bs.Items)
			}
			build := 1.0
			if bs.Build != nil {
				build = *bs.Build
			}
			if bs.Damage > 0 || build < 1 || len(bs.Missing) > 0 {
				b.SetDamage(bs.Damage, build, bs.Missing)
			}
			b.enabled = !bs.Disabled
		}
		g.resize()
	}
	for _, at := range s.Attachments {
		a, _ := w.GridByName(at.A)
		b, _ := w.GridByName(at.B)
		w.Attach(a, b, attachKinds[at.Kind])
	}
}
