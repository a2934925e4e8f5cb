package autopilot

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/protocol"
	"gridpilot.ai/internal/sim/simworld"
	"gridpilot.ai/internal/sim/tasks"
	"gridpilot.ai/internal/sim/tuning"
)

type rig struct {
	w      *simworld.World
	fleet  *Fleet
	ship   *Autopilot
	grid   *simworld.Grid
	remote *simworld.Block
	events []navigator.Event
}

func newRig(t *testing.T, tune tuning.Tuning) *rig {
	t.Helper()
	r := &rig{w: simworld.New(nil)}
	base := r.w.AddGrid("Base", "home", r3.Vec{Z: -400})
	base.Static = true
	base.AddBlock(grid.BlockConnector, "Dock", r3.Vec{}, geom.Identity())

	r.grid = r.w.AddGrid("Hauler", "home", r3.Vec{})
	r.remote = r.grid.AddBlock(grid.BlockRemoteControl, "Remote", r3.Vec{}, geom.Identity())
	r.fleet = NewFleet(r.w, Config{
		Tuning: tune,
		Sink:   navigator.EventFunc(func(ev navigator.Event) { r.events = append(r.events, ev) }),
	})
	a, err := r.fleet.Add(r.grid)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	r.ship = a
	return r
}

func (r *rig) submit(t *testing.T, task tasks.Task, interrupt bool) string {
	t.Helper()
	task.Ship = "Hauler"
	id, err := r.ship.Submit(task, interrupt)
	if err != nil {
		t.Fatalf("submit %v: %v", task, err)
	}
	return id
}

func (r *rig) run(n int, done func() bool) bool {
	for i := 0; i < n; i++ {
		if done() {
			return true
		}
		r.fleet.Step()
	}
	return done()
}

// finished returns the details of the task completions, in order.
func (r *rig) finished() []string {
	var out []string
	for _, ev := range r.events {
		if ev.Navigator == navName && ev.Kind == navigator.EventComplete && ev.To != "Move" {
			out = append(out, ev.To+":"+ev.Detail)
		}
	}
	return out
}

func (r *rig) started() []string {
	var out []string
	for _, ev := range r.events {
		if ev.Navigator == navName && ev.Kind == navigator.EventTransition {
			out = append(out, ev.To)
		}
	}
	return out
}

func statusText(a *Autopilot) string {
	var sb strings.Builder
	a.AppendStatusText(&sb)
	return sb.String()
}

func TestTasksRunInOrder(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	if got := statusText(r.ship); got != "Idle\n" {
		t.Fatalf("status=%q", got)
	}
	first := r.submit(t, tasks.Task{Kind: tasks.KindFly, Position: &tasks.Vec{300, 0, 0}}, false)
	r.submit(t, tasks.Task{Kind: tasks.KindFly, Position: &tasks.Vec{300, 300, 0}}, false)
	if r.ship.Queued() != 2 {
		t.Fatalf("queued=%d", r.ship.Queued())
	}

	r.fleet.Step()
	cur, ok := r.ship.Current()
	if !ok || cur.ID != first || r.ship.State() != StateRunning {
		t.Fatalf("current=%+v ok=%v state=%s", cur, ok, r.ship.State())
	}
	if got := statusText(r.ship); !strings.HasPrefix(got, "Moving to {300, 0, 0}") {
		t.Fatalf("status=%q", got)
	}

	if !r.run(4000, func() bool { return len(r.finished()) == 2 }) {
		t.Fatalf("tasks did not finish: %s", spew.Sdump(r.events))
	}
	if got := strings.Join(r.started(), ","); got != "FLY,FLY" {
		t.Fatalf("started=%s", got)
	}
	if got := strings.Join(r.finished(), ","); got != "FLY:done,FLY:done" {
		t.Fatalf("finished=%s", got)
	}
	r.fleet.Step()
	if r.ship.State() != StateIdle {
		t.Fatalf("state=%s", r.ship.State())
	}
	if d := geom.Dist(r.remote.Position(), r3.Vec{X: 300, Y: 300}); d > 101 {
		t.Fatalf("ended %v away from the second waypoint", d)
	}
}

func TestFaceFinishesOnceDirectionMatched(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	r.submit(t, tasks.Task{Kind: tasks.KindFace, Block: "remote", Direction: &tasks.Vec{1, 0, 0}}, false)
	if !r.run(600, func() bool { return len(r.finished()) == 1 }) {
		t.Fatalf("facer never matched: %s", spew.Sdump(r.events))
	}
	if fwd := r.remote.Direction(geom.Forward); fwd.X < 0.9 {
		t.Fatalf("forward=%v", fwd)
	}
	var matched bool
	for _, ev := range r.events {
		if ev.Navigator == navName && ev.Detail == "direction matched" {
			matched = true
		}
	}
	if !matched {
		t.Fatalf("no direction matched event: %s", spew.Sdump(r.events))
	}
	if e := r.ship.Pilot().Settings.Effective(); e.Rotator != nil {
		t.Fatalf("facer still installed: %T", e.Rotator)
	}
	if n := r.fleet.Metrics().LevelsCompleted; n != 1 {
		t.Fatalf("levels completed=%d want 1", n)
	}
}

func TestStopWithExitReleasesControl(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	r.grid.Vel = r3.Vec{X: 5}
	r.submit(t, tasks.Task{Kind: tasks.KindStop, Exit: true}, false)
	if !r.run(300, func() bool { return r.ship.State() == StateReleased }) {
		t.Fatalf("state=%s events=%s", r.ship.State(), spew.Sdump(r.events))
	}
	if r3.Norm(r.grid.Vel) != 0 {
		t.Fatalf("vel=%v", r.grid.Vel)
	}
	if got := statusText(r.ship); got != "Disabled\n" {
		t.Fatalf("status=%q", got)
	}
	if got := r.finished(); len(got) != 1 || got[0] != "STOP:exit" {
		t.Fatalf("finished=%v", got)
	}

	r.fleet.Step()
	if r.ship.State() != StateReleased {
		t.Fatalf("released autopilot woke up by itself: %s", r.ship.State())
	}
	r.submit(t, tasks.Task{Kind: tasks.KindStop}, false)
	r.fleet.Step()
	if r.ship.State() == StateReleased {
		t.Fatalf("new task did not take control back")
	}
}

func TestInterruptDropsQueue(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	r.submit(t, tasks.Task{Kind: tasks.KindFly, Position: &tasks.Vec{5000, 0, 0}}, false)
	r.submit(t, tasks.Task{Kind: tasks.KindFly, Position: &tasks.Vec{0, 5000, 0}}, false)
	r.run(5, func() bool { return false })

	stop := r.submit(t, tasks.Task{Kind: tasks.KindStop}, true)
	if r.ship.Queued() != 1 {
		t.Fatalf("queued=%d want only the interrupting task", r.ship.Queued())
	}
	if got := r.finished(); len(got) != 1 || got[0] != "FLY:interrupted" {
		t.Fatalf("finished=%v", got)
	}
	r.fleet.Step()
	if cur, _ := r.ship.Current(); cur.ID != stop {
		t.Fatalf("current=%+v", cur)
	}
	if !r.run(600, func() bool { return len(r.finished()) == 2 }) {
		t.Fatalf("stop never finished: vel=%v", r.grid.Vel)
	}
}

func TestWaitTask(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	r.submit(t, tasks.Task{Kind: tasks.KindWait, Seconds: 2}, false)
	r.fleet.Step()
	if r.ship.State() != StateWaiting {
		t.Fatalf("state=%s", r.ship.State())
	}
	if got := statusText(r.ship); got != "Waiting for 1s\n" {
		t.Fatalf("status=%q", got)
	}
	if !r.run(200, func() bool { return len(r.finished()) == 1 }) {
		t.Fatalf("wait never ended")
	}
	if tick := r.w.Tick(); tick < 120 {
		t.Fatalf("finished waiting at tick %d", tick)
	}
}

func TestRejectedTaskIsSkipped(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	r.submit(t, tasks.Task{Kind: tasks.KindFace, Block: "gyro", Direction: &tasks.Vec{1, 0, 0}}, false)
	r.submit(t, tasks.Task{Kind: tasks.KindStop}, false)
	r.fleet.Step()

	var failed string
	for _, ev := range r.events {
		if ev.Kind == navigator.EventComplete && strings.HasPrefix(ev.Detail, "failed: ") {
			failed = ev.Detail
		}
	}
	if !strings.Contains(failed, "no such block") {
		t.Fatalf("failure=%q", failed)
	}
	if cur, ok := r.ship.Current(); !ok || cur.Kind != tasks.KindStop {
		t.Fatalf("current=%+v ok=%v", cur, ok)
	}
}

func TestClosedShipStopsAutopilot(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	r.submit(t, tasks.Task{Kind: tasks.KindFly, Position: &tasks.Vec{5000, 0, 0}}, false)
	r.fleet.Step()
	r.grid.Close()
	r.fleet.Step()
	if r.ship.State() != StateClosed {
		t.Fatalf("state=%s", r.ship.State())
	}
	if got := statusText(r.ship); got != "Not working\n" {
		t.Fatalf("status=%q", got)
	}
	if _, err := r.ship.Submit(tasks.Task{Ship: "Hauler", Kind: tasks.KindStop}, false); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
	if got := r.finished(); len(got) != 1 || got[0] != "FLY:ship closed" {
		t.Fatalf("finished=%v", got)
	}
}

func TestSubmitValidates(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	if _, err := r.ship.Submit(tasks.Task{Ship: "Hauler", Kind: tasks.KindFly}, false); err == nil {
		t.Fatalf("FLY without a position was accepted")
	}
	if r.ship.Queued() != 0 {
		t.Fatalf("queued=%d", r.ship.Queued())
	}
}

func join(t *testing.T, f *Fleet, ships ...string) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 16)
	resp := make(chan JoinResponse, 1)
	f.step([]JoinRequest{{Name: "panel", Ships: ships, Status: true, Out: out, Resp: resp}}, nil, nil)
	w := <-resp
	if w.Welcome.SessionID == "" || w.Welcome.Type != protocol.TypeWelcome {
		t.Fatalf("welcome=%+v", w.Welcome)
	}
	return w.Welcome.SessionID, out
}

func drain(out chan []byte) [][]byte {
	var msgs [][]byte
	for {
		select {
		case b := <-out:
			msgs = append(msgs, b)
		default:
			return msgs
		}
	}
}

func TestFleetAcksCommands(t *testing.T) {
	tune := tuning.Defaults()
	tune.StatusEveryTicks = 0
	r := newRig(t, tune)
	session, out := join(t, r.fleet)

	cmd := func(id string, task tasks.Task) CommandEnvelope {
		return CommandEnvelope{ClientID: session, Cmd: protocol.CommandMsg{
			Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, CommandID: id, Task: task,
		}}
	}
	oldVersion := cmd("c4", tasks.Task{Ship: "Hauler", Kind: tasks.KindStop})
	oldVersion.Cmd.ProtocolVersion = "0.9"
	r.fleet.step(nil, nil, []CommandEnvelope{
		cmd("c1", tasks.Task{Ship: "Hauler", Kind: tasks.KindFly, Position: &tasks.Vec{100, 0, 0}}),
		cmd("c2", tasks.Task{Ship: "Ghost", Kind: tasks.KindStop}),
		cmd("c3", tasks.Task{Ship: "Hauler", Kind: "JUMP"}),
		oldVersion,
		cmd("c5", tasks.Task{Ship: "Hauler", Kind: tasks.KindMine}),
	})

	want := map[string]string{"c1": "", "c2": protocol.ErrUnknownShip, "c3": protocol.ErrUnknownKind, "c4": protocol.ErrProtoVersion, "c5": protocol.ErrBadRequest}
	msgs := drain(out)
	if len(msgs) != len(want) {
		t.Fatalf("got %d replies want %d", len(msgs), len(want))
	}
	for _, b := range msgs {
		var ack protocol.AckMsg
		if err := json.Unmarshal(b, &ack); err != nil {
			t.Fatalf("decode %s: %v", b, err)
		}
		code, ok := want[ack.AckFor]
		if !ok || ack.Code != code || ack.Accepted != (code == "") {
			t.Fatalf("ack=%s", spew.Sdump(ack))
		}
		if ack.Accepted && ack.TaskID == "" {
			t.Fatalf("accepted without a task id")
		}
	}
	if cur, ok := r.ship.Current(); !ok || cur.Kind != tasks.KindFly {
		t.Fatalf("current=%+v ok=%v", cur, ok)
	}

	r.fleet.step(nil, []string{session}, nil)
	if m := r.fleet.Metrics(); m.Clients != 0 {
		t.Fatalf("clients=%d after leave", m.Clients)
	}
}

func TestFleetBroadcastsStatus(t *testing.T) {
	tune := tuning.Defaults()
	tune.StatusEveryTicks = 1
	r := newRig(t, tune)
	tug := r.w.AddGrid("Tug", "home", r3.Vec{X: 50})
	tug.AddBlock(grid.BlockRemoteControl, "Tug Remote", r3.Vec{}, geom.Identity())
	if _, err := r.fleet.Add(tug); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.fleet.Add(tug); err == nil {
		t.Fatalf("added the same ship twice")
	}
	_, out := join(t, r.fleet, "Hauler")

	msgs := drain(out)
	if len(msgs) == 0 {
		t.Fatalf("no status sent")
	}
	var st protocol.StatusMsg
	if err := json.Unmarshal(msgs[len(msgs)-1], &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Type != protocol.TypeStatus || len(st.Ships) != 1 || st.Ships[0].Ship != "Hauler" {
		t.Fatalf("status=%s", spew.Sdump(st))
	}
	if err := protocol.Validate(protocol.TypeStatus, msgs[len(msgs)-1]); err != nil {
		t.Fatalf("status does not match its schema: %v", err)
	}
	if st.Ships[0].Text != "Idle\n" || st.Ships[0].State != string(StateIdle) {
		t.Fatalf("ship=%s", spew.Sdump(st.Ships[0]))
	}

	all := r.fleet.Statuses()
	if len(all) != 2 {
		t.Fatalf("statuses=%d", len(all))
	}
	all[0].Ship = "changed"
	if r.fleet.Statuses()[0].Ship == "changed" {
		t.Fatalf("Statuses shares memory with the fleet")
	}
	m := r.fleet.Metrics()
	if m.Tick != 1 || m.Ships != 2 || m.Clients != 1 {
		t.Fatalf("metrics=%s", spew.Sdump(m))
	}
	if id, ok := r.fleet.ShipID("Tug"); !ok || id != tug.ID() {
		t.Fatalf("ship id=%v ok=%v", id, ok)
	}
}

func TestStatusesCopiesSettingsSnapshots(t *testing.T) {
	r := newRig(t, tuning.Defaults())
	dist := 12.5
	r.fleet.status.Store([]protocol.ShipStatus{{
		Ship: "Hauler",
		Settings: settings.Snapshot{
			Levels:     []string{"Commands: mover=FlyTo"},
			Complaints: []string{"No path"},
			Distance:   &dist,
		},
	}})

	got := r.fleet.Statuses()
	got[0].Settings.Levels[0] = "changed"
	got[0].Settings.Complaints[0] = "changed"
	*got[0].Settings.Distance = 99

	again := r.fleet.Statuses()[0].Settings
	if again.Levels[0] != "Commands: mover=FlyTo" || again.Complaints[0] != "No path" || *again.Distance != 12.5 {
		t.Fatalf("snapshot shares memory with the fleet: %s", spew.Sdump(again))
	}
}
