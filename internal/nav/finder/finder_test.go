package finder

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navtest"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/sim/simworld"
)

func setup(t *testing.T) (*simworld.World, *navtest.Fleet, *navtest.Ship) {
	t.Helper()
	w := simworld.New(nil)
	fleet := navtest.NewFleet(w)
	g := w.AddGrid("Scout", "home", r3.Vec{})
	g.AddBlock(grid.BlockRemoteControl, "Remote", r3.Vec{}, geom.Identity())
	return w, fleet, fleet.Add(t, g)
}

func station(w *simworld.World, name, faction string, pos r3.Vec) *simworld.Grid {
	g := w.AddGrid(name, faction, pos)
	g.AddBlock(grid.BlockArmor, "Hull", r3.Vec{}, geom.Identity())
	return g
}

func TestFriendSearchPrefersShortestName(t *testing.T) {
	w, _, s := setup(t)
	station(w, "Base Station Alpha", "home", r3.Vec{X: 100})
	want := station(w, "base", "home", r3.Vec{X: 900})

	f := New(s.Pilot, Options{GridName: "BASE"})
	f.Update()
	got, ok := f.Grid()
	if !ok || got.Entity != want.ID() {
		t.Fatalf("grid=%+v ok=%v want %d", got, ok, want.ID())
	}
}

func TestRejectionReasonPrefersTooFast(t *testing.T) {
	w, _, s := setup(t)
	station(w, "Depot Far", "home", r3.Vec{X: 50000})
	fast := station(w, "Depot Fast", "home", r3.Vec{X: 100})
	fast.Vel = r3.Vec{Y: 40}
	s.Pilot.Settings.Level(settings.Engage).SetSpeedTarget(20)

	f := New(s.Pilot, Options{GridName: "Depot", MaxRange: 10000})
	f.Update()
	if _, ok := f.Grid(); ok {
		t.Fatalf("expected no grid")
	}
	if f.Reason() != ReasonTooFast || f.BestRejected().Entity != fast.ID() {
		t.Fatalf("reason=%v best=%v", f.Reason(), f.BestRejected().Name)
	}
}

func TestGridConditionReason(t *testing.T) {
	w, _, s := setup(t)
	station(w, "Depot", "home", r3.Vec{X: 100})
	f := New(s.Pilot, Options{GridName: "Depot", GridCondition: func(grid.LastSeen) bool { return false }})
	f.Update()
	if f.Reason() != ReasonGridCondition {
		t.Fatalf("reason=%v", f.Reason())
	}
}

func TestEnemySearchClosestHostile(t *testing.T) {
	w, _, s := setup(t)
	station(w, "Pirate Far", "pirates", r3.Vec{X: 800})
	near := station(w, "Pirate Near", "pirates", r3.Vec{X: 300})
	station(w, "Friend", "home", r3.Vec{X: 10})

	f := New(s.Pilot, Options{})
	f.Update()
	got, ok := f.Grid()
	if !ok || got.Entity != near.ID() {
		t.Fatalf("enemy=%+v", got)
	}
}

func TestEnemySearchPinnedTarget(t *testing.T) {
	w, _, s := setup(t)
	station(w, "Pirate Near", "pirates", r3.Vec{X: 300})
	far := station(w, "Pirate Far", "pirates", r3.Vec{X: 800})

	f := New(s.Pilot, Options{Target: far.ID()})
	f.Update()
	if got, _ := f.Grid(); got.Entity != far.ID() {
		t.Fatalf("pinned target ignored: %+v", got)
	}
}

func TestTargetDroppedOnceOutOfRange(t *testing.T) {
	w, _, s := setup(t)
	depot := station(w, "Depot", "home", r3.Vec{X: 100})

	f := New(s.Pilot, Options{GridName: "Depot", MaxRange: 1000})
	f.Update()
	if got, ok := f.Grid(); !ok || got.Entity != depot.ID() {
		t.Fatalf("grid=%+v ok=%v", got, ok)
	}

	depot.Pos = r3.Vec{X: 5000}
	f.Update()
	if got, ok := f.Grid(); ok {
		t.Fatalf("kept out of range target at %v", got.Position)
	}
	if f.Reason() != ReasonTooFar {
		t.Fatalf("reason=%v want ReasonTooFar", f.Reason())
	}
}

func TestGridSearchIsThrottled(t *testing.T) {
	w, fleet, s := setup(t)
	f := New(s.Pilot, Options{GridName: "Late"})
	f.Update()
	station(w, "Late Arrival", "home", r3.Vec{X: 100})

	fleet.Step()
	f.Update()
	if _, ok := f.Grid(); ok {
		t.Fatalf("found before the search interval elapsed")
	}
	for i := uint64(0); i < fleet.Tuning.GridSearchInterval; i++ {
		fleet.Step()
	}
	f.Update()
	if _, ok := f.Grid(); !ok {
		t.Fatalf("not found after the search interval")
	}
}

func TestBlockSearchFollowsAttachment(t *testing.T) {
	w, _, s := setup(t)
	base := station(w, "Yard", "home", r3.Vec{X: 100})
	arm := w.AddGrid("Yard Arm", "home", r3.Vec{X: 110})
	tip := arm.AddBlock(grid.BlockConnector, "Tip Connector", r3.Vec{}, geom.Identity())
	w.Attach(base, arm, grid.AttachPiston)

	f := New(s.Pilot, Options{GridName: "Yard", BlockName: "tip"})
	f.Update()
	if f.Block() == nil || f.Block().ID() != tip.ID() || f.BlockCandidates() != 1 {
		t.Fatalf("block=%v candidates=%d", f.Block(), f.BlockCandidates())
	}

	f2 := New(s.Pilot, Options{GridName: "Yard", BlockName: "tip", Attachment: grid.AttachMotor})
	f2.Update()
	if f2.Block() != nil {
		t.Fatalf("block found across a piston with motor-only attachment")
	}
}

func TestBlockConditionCountsCandidates(t *testing.T) {
	w, _, s := setup(t)
	base := station(w, "Yard", "home", r3.Vec{X: 100})
	base.AddBlock(grid.BlockConnector, "Dock 1", r3.Vec{Z: 5}, geom.Identity())
	base.AddBlock(grid.BlockConnector, "Dock 2", r3.Vec{Z: -5}, geom.Identity())

	f := New(s.Pilot, Options{GridName: "Yard", BlockName: "dock", BlockCondition: func(grid.Block) bool { return false }})
	f.Update()
	if f.Block() != nil || f.BlockCandidates() != 2 {
		t.Fatalf("block=%v candidates=%d", f.Block(), f.BlockCandidates())
	}
}

func TestGetPositionAppliesBlockOffset(t *testing.T) {
	w, _, s := setup(t)
	base := station(w, "Yard", "home", r3.Vec{X: 100})
	pad := base.AddBlock(grid.BlockConnector, "Pad", r3.Vec{}, geom.Identity())

	f := New(s.Pilot, Options{GridName: "Yard", BlockName: "Pad"})
	f.Update()
	got := f.GetPosition(r3.Vec{}, r3.Vec{X: 1, Y: 2, Z: 3})
	want := r3.Add(pad.Position(), r3.Vec{X: 1, Y: 2, Z: 3})
	if geom.Dist(got, want) > 1e-9 {
		t.Fatalf("position=%v want %v", got, want)
	}
}

func TestRemovedBlockIsDropped(t *testing.T) {
	w, fleet, s := setup(t)
	base := station(w, "Yard", "home", r3.Vec{X: 100})
	pad := base.AddBlock(grid.BlockConnector, "Pad", r3.Vec{}, geom.Identity())

	f := New(s.Pilot, Options{GridName: "Yard", BlockName: "Pad"})
	f.Update()
	if f.Block() == nil {
		t.Fatalf("pad not found")
	}
	for _, b := range base.Blocks() {
		b.Remove()
	}
	fleet.Step()
	f.Update()
	if f.Block() != nil {
		t.Fatalf("block %v survived removal", pad.Name())
	}
}
