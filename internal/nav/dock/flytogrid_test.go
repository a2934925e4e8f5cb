package dock

import (
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/navtest"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/sim/simworld"
)

var unit = r3.Vec{X: 1, Y: 1, Z: 1}

type world struct {
	w     *simworld.World
	fleet *navtest.Fleet
	base  *simworld.Grid
	dock  *simworld.Block
}

func newWorld(dockName string) *world {
	w := simworld.New(nil)
	base := w.AddGrid("Base Station", "home", r3.Vec{})
	base.Static = true
	base.AddBlock(grid.BlockArmor, "Hull", r3.Vec{}, geom.Identity())
	dock := base.AddBlock(grid.BlockConnector, dockName, r3.Vec{Z: -5}, geom.Identity())
	dock.Size = unit
	return &world{w: w, fleet: navtest.NewFleet(w), base: base, dock: dock}
}

func (tw *world) addShip(t *testing.T, name string, pos r3.Vec) (*navtest.Ship, *simworld.Block) {
	t.Helper()
	g := tw.w.AddGrid(name, "home", pos)
	g.AddBlock(grid.BlockRemoteControl, "Remote", r3.Vec{}, geom.Identity())
	c := g.AddBlock(grid.BlockConnector, name+" Connector", r3.Vec{Z: -2}, geom.Identity())
	c.Size = unit
	return tw.fleet.Add(t, g), c
}

func dockTo(s *navtest.Ship, landing grid.Block, blockName string) *FlyToGrid {
	move := s.Pilot.Settings.Level(settings.Move)
	if landing != nil {
		move.SetLandingBlock(landing)
	}
	if blockName != "" {
		move.SetDestinationBlock(settings.BlockTarget{Name: blockName})
	}
	return New(s.Pilot, Options{GridName: "Base"})
}

func TestConnectorDockingIsMonotonic(t *testing.T) {
	tw := newWorld("Dock A")
	s, conn := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	n := dockTo(s, conn, "Dock")

	if n.State() != Approach {
		t.Fatalf("initial state=%v want Approach", n.State())
	}
	if !tw.fleet.Run(3000, s.Idle) {
		t.Fatalf("not docked after 3000 ticks: state=%v dist=%v events=%s", n.State(), geom.Dist(conn.Position(), tw.dock.Position()), spew.Sdump(s.Events))
	}
	if !conn.Connected() || conn.Partner() != tw.dock.ID() {
		t.Fatalf("connector not locked to dock: connected=%v partner=%v", conn.Connected(), conn.Partner())
	}

	got := s.Transitions("FlyToGrid")
	want := []string{"Holding", "LineUp", "Landing"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("transitions=%v want %v", got, want)
	}
	ev, ok := s.Last(navigator.EventComplete)
	if !ok || ev.Detail != "attached" {
		t.Fatalf("complete event=%+v", ev)
	}
	if s.Pilot.Settings.LastLandingBlock != grid.Block(conn) {
		t.Fatalf("last landing block not recorded")
	}
	if tw.fleet.Reservations.Len() != 0 {
		t.Fatalf("reservation leaked after docking")
	}
	if reserved, released := tw.fleet.Reservations.Stats(); reserved != 1 || released != 1 {
		t.Fatalf("reserved=%d released=%d want 1/1", reserved, released)
	}
}

func TestLostBlockFallsBackToHoldingWithReservation(t *testing.T) {
	tw := newWorld("Dock A")
	s, conn := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	n := dockTo(s, conn, "Dock")

	if !tw.fleet.Run(1000, func() bool { return n.State() == LineUp }) {
		t.Fatalf("never reached LineUp: state=%v", n.State())
	}
	tw.dock.Remove()
	tw.fleet.Step()

	if n.State() != Holding {
		t.Fatalf("state after block loss=%v want Holding", n.State())
	}
	if id, ok := n.Reserved(); !ok || id != tw.dock.ID() {
		t.Fatalf("reservation dropped on regression: id=%v ok=%v", id, ok)
	}
}

func TestSearchTimeoutReleasesOnce(t *testing.T) {
	tw := newWorld("Dock A")
	s, conn := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	n := dockTo(s, conn, "Dock")

	if !tw.fleet.Run(1000, func() bool { return n.State() == LineUp }) {
		t.Fatalf("never reached LineUp: state=%v", n.State())
	}
	tw.dock.Remove()

	limit := int(tw.fleet.Tuning.BlockSearchInterval + tw.fleet.Tuning.SearchTimeoutTicks + 100)
	if !tw.fleet.Run(limit, s.Idle) {
		t.Fatalf("search did not time out: state=%v", n.State())
	}

	if _, released := tw.fleet.Reservations.Stats(); released != 1 {
		t.Fatalf("released=%d want exactly 1", released)
	}
	if got := s.Count(navigator.EventRelease); got != 1 {
		t.Fatalf("release events=%d want 1", got)
	}
	if !tw.fleet.Reservations.NewClaim().CanReserve(tw.dock.ID()) {
		t.Fatalf("dock still reserved after timeout")
	}
	c := s.Pilot.Settings.Effective().Complaint
	if !c.Has(settings.SearchTimeout) || !strings.Contains(c.String(), "Search timed out") {
		t.Fatalf("complaint=%q", c.String())
	}
	if s.Count(navigator.EventTimeout) != 1 {
		t.Fatalf("timeout event missing: %s", spew.Sdump(s.Events))
	}
}

func TestMissingGridTimesOut(t *testing.T) {
	tw := newWorld("Dock A")
	s, _ := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	New(s.Pilot, Options{GridName: "Nowhere"})

	var sb strings.Builder
	tw.fleet.Step()
	s.Pilot.Settings.Effective().Mover.AppendStatusText(&sb)
	if !strings.Contains(sb.String(), "Searching for Nowhere") {
		t.Fatalf("status=%q", sb.String())
	}
	if !tw.fleet.Run(int(tw.fleet.Tuning.SearchTimeoutTicks)+10, s.Idle) {
		t.Fatalf("no timeout")
	}
	if tw.fleet.Reservations.Len() != 0 {
		t.Fatalf("registry not empty")
	}
}

func TestSecondShipWaitsForReservedDock(t *testing.T) {
	tw := newWorld("Dock A")
	a, connA := tw.addShip(t, "Alpha", r3.Vec{Z: -200})
	b, connB := tw.addShip(t, "Bravo", r3.Vec{X: 40, Z: -200})
	na := dockTo(a, connA, "Dock")
	nb := dockTo(b, connB, "Dock")

	tw.fleet.Run(200, nil)

	if id, ok := na.Reserved(); !ok || id != tw.dock.ID() {
		t.Fatalf("first ship does not hold the dock: %v %v", id, ok)
	}
	if _, ok := nb.Reserved(); ok {
		t.Fatalf("second ship holds a reservation too")
	}
	if nb.State() > Holding {
		t.Fatalf("second ship state=%v, want at most Holding", nb.State())
	}
	if nb.Finder().BlockCandidates() != 1 {
		t.Fatalf("second ship should see the busy dock as a candidate")
	}
}

func TestFlyToGridWithoutLandingArrives(t *testing.T) {
	tw := newWorld("Dock A")
	s, _ := tw.addShip(t, "Miner", r3.Vec{Z: -500})
	n := New(s.Pilot, Options{GridName: "Base"})
	if n.State() != None {
		t.Fatalf("state=%v want None", n.State())
	}
	if !tw.fleet.Run(1200, s.Idle) {
		t.Fatalf("did not arrive: pos=%v", s.Grid.Pos)
	}
	if ev, _ := s.Last(navigator.EventComplete); ev.Detail != "arrived" {
		t.Fatalf("complete=%+v", ev)
	}
	if d := geom.Dist(s.Grid.Pos, tw.dock.Position()); d > 110 {
		t.Fatalf("stopped %v m away", d)
	}
}

func TestGearCatchModeLocks(t *testing.T) {
	tw := newWorld("Dock A")
	g := tw.w.AddGrid("Lander", "home", r3.Vec{Z: -150})
	g.AddBlock(grid.BlockRemoteControl, "Remote", r3.Vec{}, geom.Identity())
	gear := g.AddBlock(grid.BlockLandingGear, "Gear", r3.Vec{Z: -2}, geom.Identity())
	s := tw.fleet.Add(t, g)

	n := dockTo(s, gear, "")
	if !n.catchMode {
		t.Fatalf("gear without target block should catch")
	}
	if !tw.fleet.Run(3000, s.Idle) {
		t.Fatalf("gear never locked: state=%v", n.State())
	}
	if !gear.Locked() || !gear.AutoLock() {
		t.Fatalf("gear locked=%v autolock=%v", gear.Locked(), gear.AutoLock())
	}
	if got := s.Transitions("FlyToGrid"); len(got) != 1 || got[0] != "Catch" {
		t.Fatalf("transitions=%v", got)
	}
}

func TestNonFunctionalLandingBlockFliesOnly(t *testing.T) {
	tw := newWorld("Dock A")
	s, conn := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	conn.SetFunctional(false)
	n := dockTo(s, conn, "Dock")
	if n.State() != None {
		t.Fatalf("state=%v want None", n.State())
	}
}

func TestTargetAccepts(t *testing.T) {
	tw := newWorld("Dock A")
	_, conn := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	hull := tw.base.Blocks()[0]

	target := Resolve(conn)
	if target.Kind != KindConnector || !target.Reserves() {
		t.Fatalf("resolve=%v", target.Kind)
	}
	if !target.Accepts(tw.dock) {
		t.Fatalf("free connector rejected")
	}
	if target.Accepts(hull) {
		t.Fatalf("armor accepted as connector target")
	}
	if Resolve(nil).Kind != KindOther {
		t.Fatalf("nil should resolve to other")
	}
}

func TestNoBlockMatchTimesOutWithinSixtyOneSeconds(t *testing.T) {
	tw := newWorld("Hangar")
	s, conn := tw.addShip(t, "Miner", r3.Vec{Z: -200})
	n := dockTo(s, conn, "Dock")

	if !tw.fleet.Run(61*grid.TicksPerSecond, s.Idle) {
		t.Fatalf("still running after 61 s: state=%v", n.State())
	}
	if !s.Pilot.Settings.Effective().Complaint.Has(settings.SearchTimeout) {
		t.Fatalf("no search timeout complaint")
	}
	claim := tw.fleet.Reservations.NewClaim()
	for _, b := range tw.w.Blocks(tw.base.ID()) {
		if !claim.CanReserve(b.ID()) {
			t.Fatalf("block %s left reserved", b.Name())
		}
	}
	if tw.fleet.Reservations.Len() != 0 {
		t.Fatalf("registry holds %d ids", tw.fleet.Reservations.Len())
	}
}
