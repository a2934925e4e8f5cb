// Package engage holds the responses a ship can take toward a hostile grid and the
// responder that feeds them targets.
package engage

import (
	"errors"
	"strings"

	"gridpilot.ai/internal/nav/finder"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

var ErrCannotRespond = errors.New("engage: response not possible with this ship")

// Response is a combat or defensive behaviour. It is installed on the Engage level as both
// mover and rotator while it has a target.
type Response interface {
	navigator.EnemyResponse
	Name() string
}

// Responder searches for hostile grids within range and hands the closest one its response
// can target to that response. It holds the Move level and waits there while the response
// runs on the Engage level.
type Responder struct {
	p        *navigator.Pilot
	finder   *finder.Finder
	resp     Response
	maxRange float64
	engaged  grid.EntityID
}

// NewResponder installs a Responder for resp. A maxRange of zero or less uses the tuning's
// target range.
func NewResponder(p *navigator.Pilot, resp Response, maxRange float64) (*Responder, error) {
	if !resp.CanRespond() {
		return nil, ErrCannotRespond
	}
	if maxRange <= 0 {
		maxRange = p.Tuning.MaxTargetRange
	}
	r := &Responder{p: p, resp: resp, maxRange: maxRange}
	r.finder = finder.New(p, finder.Options{MaxRange: maxRange, GridCondition: resp.CanTarget})

	lvl := p.Settings.Level(settings.Move)
	lvl.SetMover(r)
	lvl.SetRotator(r)
	return r, nil
}

func (r *Responder) Name() string { return "Responder" }

func (r *Responder) Response() Response { return r.resp }

func (r *Responder) Move() {
	if !r.resp.CanRespond() {
		r.resp.UpdateTarget(grid.LastSeen{})
		r.p.Complete(r.Name(), settings.Move, "cannot respond")
		return
	}
	r.finder.Update()
	enemy, ok := r.finder.Grid()
	if !ok {
		if r.engaged != 0 {
			r.p.Transition(r.Name(), "Engage", "Search")
			r.engaged = 0
		}
		r.p.Actuator.StopMove()
		return
	}

	r.resp.UpdateTarget(enemy)
	if r.engaged != enemy.Entity {
		from := "Search"
		if r.engaged != 0 {
			from = "Engage"
		}
		r.p.Transition(r.Name(), from, "Engage")
		r.engaged = enemy.Entity
	}
	r.p.Settings.OnTaskComplete(settings.Engage)
	eng := r.p.Settings.Level(settings.Engage)
	eng.SetMover(r.resp)
	eng.SetRotator(r.resp)
	eng.SetIgnoreAsteroid(false)
	eng.SetPathfinderCanChangeCourse(true)
	eng.SetDestinationEntity(enemy.Entity)
}

func (r *Responder) Rotate() { r.p.Actuator.StopRotate() }

func (r *Responder) AppendStatusText(sb *strings.Builder) {
	sb.WriteString("Searching for an enemy within ")
	sb.WriteString(navigator.PrettyDistance(r.maxRange))
	sb.WriteString("\n")
}
