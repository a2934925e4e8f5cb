package simworld

import (
	"errors"
	"testing"

	"gridpilot.ai/internal/nav/grid"
)

const sample = `
warhead_ticks: 90
asteroids:
  - name: Rock
    position: [0, 0, -2000]
    radius: 200
    ore: Iron
    deposits:
      - {ore: Iron, position: [0, 150, -2000]}
grids:
  - name: Base
    faction: home
    static: true
    position: [0, 0, -400]
    blocks:
      - {kind: connector, name: Dock}
      - {kind: cargo, name: Store, capacity: 1000, items: {SteelPlate: 40}}
  - name: Miner 1
    faction: home
    autopilot: true
    blocks:
      - {kind: remote_control, name: Remote}
      - {kind: drill, name: Drill, local: [0, 0, -3]}
  - name: Buoy
    faction: home
    position: [100, 0, 0]
attachments: []
`

func TestParseScenarioBuildsWorld(t *testing.T) {
	s, err := ParseScenario([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := s.Controlled(); len(got) != 1 || got[0] != "Miner 1" {
		t.Fatalf("controlled=%v", got)
	}

	w := New(nil)
	s.Build(w)
	if len(w.Grids()) != 3 {
		t.Fatalf("grids=%d", len(w.Grids()))
	}
	base, ok := w.GridByName("Base")
	if !ok || !base.Static {
		t.Fatalf("base=%+v ok=%v", base, ok)
	}
	miner, _ := w.GridByName("Miner 1")
	drills := w.BlocksOfType(miner.ID(), grid.BlockDrill)
	if len(drills) != 1 || drills[0].Name() != "Drill" {
		t.Fatalf("drills=%v", drills)
	}
	store := w.BlocksOfType(base.ID(), grid.BlockCargo)
	if len(store) != 1 {
		t.Fatalf("cargo=%v", store)
	}
	if n := store[0].(*Block).Items()["SteelPlate"]; n != 40 {
		t.Fatalf("plates=%d", n)
	}
	if _, err := w.Bind(miner.ID(), nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
}

func TestScenarioValidate(t *testing.T) {
	bad := []string{
		"grids:\n  - faction: home\n",
		"grids:\n  - name: A\n    blocks:\n      - {kind: teleporter}\n",
		"grids:\n  - name: A\n  - name: A\n",
		"asteroids:\n  - name: Pebble\n    radius: 0\n",
		"grids:\n  - name: A\nattachments:\n  - {a: A, b: B, kind: piston}\n",
		"grids:\n  - name: A\n  - name: B\nattachments:\n  - {a: A, b: B, kind: glue}\n",
	}
	for _, raw := range bad {
		if _, err := ParseScenario([]byte(raw)); !errors.Is(err, ErrBadScenario) {
			t.Fatalf("%q: err=%v", raw, err)
		}
	}
	if _, err := ParseScenario([]byte("grids: [")); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
}
