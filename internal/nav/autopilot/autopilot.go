// Package autopilot runs the navigators of every controlled ship once per tick and hands
// each ship its next task when the previous one is done.
package autopilot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/nav/command"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/motion"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/protocol"
	"gridpilot.ai/internal/sim/tasks"
)

var ErrClosed = errors.New("autopilot: ship is gone")

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateWaiting  State = "waiting"
	StateReleased State = "released"
	StateClosed   State = "closed"
)

const (
	navName            = "Autopilot"
	directionTolerance = 0.1
)

// Autopilot owns one ship's settings stack. Only the fleet goroutine may call it.
type Autopilot struct {
	p    *navigator.Pilot
	log  *log.Logger
	sink navigator.EventSink

	queue      []tasks.Task
	current    tasks.Task
	hasCurrent bool
	state      State
	release    bool
	deferred   int

	// completions counts levels below Commands finished by navigators.
	completions uint64
}

// New takes over p. Events p emits still reach p's sink.
func New(p *navigator.Pilot) *Autopilot {
	a := &Autopilot{p: p, log: p.Log, sink: p.Events, state: StateIdle}
	p.Events = navigator.EventFunc(a.observe)
	p.Settings.AfterTaskComplete(func(n settings.LevelName) {
		if n != settings.Commands {
			a.completions++
		}
	})
	return a
}

func (a *Autopilot) observe(ev navigator.Event) {
	if ev.Kind == navigator.EventComplete && ev.Detail == motion.ExitDetail {
		a.release = true
	}
	if a.sink != nil {
		a.sink.Record(ev)
	}
}

func (a *Autopilot) Pilot() *navigator.Pilot { return a.p }
func (a *Autopilot) State() State            { return a.state }
func (a *Autopilot) Queued() int             { return len(a.queue) }

// Current is the task being carried out, if any.
func (a *Autopilot) Current() (tasks.Task, bool) { return a.current, a.hasCurrent }

// Submit validates t, gives it an id and queues it. With interrupt the running task and
// the queue are dropped first. A released autopilot takes control again.
func (a *Autopilot) Submit(t tasks.Task, interrupt bool) (string, error) {
	if a.state == StateClosed {
		return "", ErrClosed
	}
	if err := command.Validate(t); err != nil {
		return "", err
	}
	command.Assign(&t)
	if interrupt {
		a.reset("interrupted")
	}
	a.queue = append(a.queue, t)
	if a.state == StateReleased {
		a.state = StateIdle
	}
	return t.ID, nil
}

// Tick runs one simulation step for the ship. The caller advances the world afterwards.
func (a *Autopilot) Tick() {
	if a.state == StateClosed {
		return
	}
	if ctrl := a.p.Ship.Controller(); ctrl == nil || ctrl.Closed() {
		a.Close()
		return
	}
	defer a.endOfTick()
	if a.state == StateReleased {
		return
	}

	st := a.p.Settings
	if st.Effective().WaitUntil > a.p.Now() {
		a.state = StateWaiting
		return
	}
	if a.moveAndRotate() {
		a.state = StateRunning
		a.checkPath()
		if a.release {
			a.releaseControl()
		}
		return
	}
	if a.release {
		a.releaseControl()
		return
	}
	if a.rotateOnly() {
		a.state = StateRunning
		return
	}
	if a.hasCurrent {
		a.finish("done")
	}
	for len(a.queue) > 0 {
		t := a.queue[0]
		a.queue = a.queue[1:]
		if !a.start(t) {
			continue
		}
		e := st.Effective()
		switch {
		case e.WaitUntil > a.p.Now():
			a.state = StateWaiting
			return
		case e.Mover != nil || e.Rotator != nil:
			a.state = StateRunning
			return
		}
		a.finish("done")
	}
	a.state = StateIdle
}

// moveAndRotate runs the effective mover and then the rotator, falling back to the mover
// when it also rotates.
func (a *Autopilot) moveAndRotate() bool {
	st := a.p.Settings
	m := st.Effective().Mover
	if m == nil {
		return false
	}
	m.Move()
	e := st.Effective()
	if e.Rotator != nil {
		e.Rotator.Rotate()
	} else if r, ok := e.Mover.(settings.Rotator); ok {
		r.Rotate()
	}
	return true
}

// checkPath raises NoPath while the planner is blocked. The complaint lasts until the task ends.
func (a *Autopilot) checkPath() {
	if _, blocked := a.p.Planner.ObstructingEntity(); !blocked {
		return
	}
	if l := a.p.Settings.Level(settings.Commands); !l.Complaint().Has(settings.NoPath) {
		l.AddComplaint(settings.NoPath)
	}
}

// rotateOnly runs a lone rotator until the direction is matched.
func (a *Autopilot) rotateOnly() bool {
	st := a.p.Settings
	r := st.Effective().Rotator
	if r == nil {
		return false
	}
	r.Rotate()
	if !st.DirectionMatched(directionTolerance) {
		return true
	}
	a.p.Actuator.StopRotate()
	a.p.Complete(navName, settings.Move, "direction matched")
	return false
}

func (a *Autopilot) start(t tasks.Task) bool {
	st := a.p.Settings
	st.OnTaskComplete(settings.Commands)
	if err := command.Apply(a.p, t); err != nil {
		if a.log != nil {
			a.log.Warn("task rejected", "ship", a.p.Ship.Name(), "task", t.ID, "kind", t.Kind, "err", err)
		}
		st.OnTaskComplete(settings.Commands)
		a.p.Emit(navigator.Event{Navigator: navName, Kind: navigator.EventComplete, To: string(t.Kind), Detail: "failed: " + err.Error()})
		return false
	}
	from := "Idle"
	if a.hasCurrent {
		from = string(a.current.Kind)
	}
	a.current, a.hasCurrent = t, true
	a.p.Emit(navigator.Event{Navigator: navName, Kind: navigator.EventTransition, From: from, To: string(t.Kind), Detail: t.ID})
	return true
}

func (a *Autopilot) finish(detail string) {
	if !a.hasCurrent {
		return
	}
	a.p.Emit(navigator.Event{Navigator: navName, Kind: navigator.EventComplete, To: string(a.current.Kind), Detail: detail})
	if a.log != nil {
		a.log.Debug("task finished", "ship", a.p.Ship.Name(), "task", a.current.ID, "detail", detail)
	}
	a.hasCurrent = false
	a.current = tasks.Task{}
}

// reset drops the running task and the queue and stops the ship.
func (a *Autopilot) reset(detail string) {
	a.queue = nil
	a.finish(detail)
	st := a.p.Settings
	if s := st.Shopper; s != nil {
		st.Shopper = nil
		if c, ok := s.(navigator.Closer); ok {
			c.Close()
		}
	}
	st.OnTaskComplete(settings.Commands)
	a.p.Actuator.StopMove()
	a.p.Actuator.StopRotate()
	a.release = false
}

func (a *Autopilot) releaseControl() {
	if a.log != nil {
		a.log.Info("releasing control", "ship", a.p.Ship.Name())
	}
	a.reset(motion.ExitDetail)
	a.state = StateReleased
}

// Close retires every navigator; the autopilot does nothing afterwards.
func (a *Autopilot) Close() {
	if a.state == StateClosed {
		return
	}
	a.queue = nil
	a.finish("ship closed")
	a.p.Settings.OnTaskComplete(settings.Commands)
	a.p.Settings.Shopper = nil
	a.endOfTick()
	a.state = StateClosed
}

func (a *Autopilot) endOfTick() {
	for _, nav := range a.p.Settings.Retired() {
		if c, ok := nav.(navigator.Closer); ok {
			c.Close()
		}
	}
	a.deferred = a.p.Queue.Len()
	a.p.Queue.Drain()
}

// AppendStatusText writes the ship's status panel.
func (a *Autopilot) AppendStatusText(sb *strings.Builder) {
	switch a.state {
	case StateClosed:
		sb.WriteString("Not working\n")
		return
	case StateReleased:
		sb.WriteString("Disabled\n")
		return
	}
	st := a.p.Settings
	e := st.Effective()
	now := a.p.Now()
	if e.WaitUntil > now {
		fmt.Fprintf(sb, "Waiting for %ds\n", int(float64(e.WaitUntil-now)/grid.TicksPerSecond))
		return
	}

	if !a.p.Planner.CanRotate() {
		sb.WriteString("Pathfinder: Cannot rotate safely\n\n")
	} else if id, ok := a.p.Planner.ObstructingEntity(); ok {
		name := "unknown"
		if seen, ok := a.p.Sightings.Lookup(id); ok {
			name = seen.Name
		}
		sb.WriteString("Pathfinder: Blocked by " + name + "\n\n")
	}

	if e.Mover != nil {
		e.Mover.AppendStatusText(sb)
	}
	if e.Rotator != nil && any(e.Rotator) != any(e.Mover) {
		e.Rotator.AppendStatusText(sb)
	}
	for _, line := range e.Complaint.Lines() {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if n := st.WelderUnfinishedBlocks; n > 0 {
		fmt.Fprintf(sb, "Welder left %d unfinished blocks\n", n)
	}
	if e.Mover == nil && e.Rotator == nil && len(a.queue) == 0 && e.Complaint == settings.ComplaintNone {
		sb.WriteString("Idle\n")
	}
}

// Status is the ship's status panel in wire form.
func (a *Autopilot) Status() protocol.ShipStatus {
	var sb strings.Builder
	a.AppendStatusText(&sb)
	ship := a.p.Ship
	pos := ship.Position()
	s := protocol.ShipStatus{
		Ship:     ship.Name(),
		Entity:   int64(ship.ID()),
		State:    string(a.state),
		Queued:   len(a.queue),
		Text:     sb.String(),
		Pos:      [3]float64{pos.X, pos.Y, pos.Z},
		Speed:    r3.Norm(ship.Velocity()),
		Settings: a.p.Settings.Snapshot(),
	}
	if a.hasCurrent {
		s.TaskID = a.current.ID
		s.Task = a.current.String()
	}
	return s
}
