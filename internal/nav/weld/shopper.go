package weld

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brunoga/deep"

	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/settings"
)

// maxTransfer caps how many items one visit moves.
const maxTransfer = 50

// Shopper pulls components from whatever the ship is docked to. It waits on the settings stack
// until docking finishes and then runs on the Engage level.
type Shopper struct {
	p      *navigator.Pilot
	list   map[string]int
	dest   []grid.Inventory
	source []grid.Inventory
	next   uint64
	closed bool
}

// NewShopper copies list so the caller can keep using its own.
func NewShopper(p *navigator.Pilot, list map[string]int) *Shopper {
	return &Shopper{p: p, list: deep.MustCopy(list)}
}

func (s *Shopper) Name() string { return "Shopper" }

// Remaining returns a copy of what is still to be fetched.
func (s *Shopper) Remaining() map[string]int { return deep.MustCopy(s.list) }

// Start begins shopping. The connection must be up within the start delay.
func (s *Shopper) Start() {
	st := s.p.Settings
	if st.Shopper == settings.Shopper(s) {
		st.Shopper = nil
	}

	s.dest = s.dest[:0]
	for _, b := range s.p.Index.Blocks(s.p.Ship.ID()) {
		if b.Kind() == grid.BlockCargo {
			if inv, ok := b.(grid.Inventory); ok {
				s.dest = append(s.dest, inv)
			}
		}
	}
	if len(s.dest) == 0 {
		if s.p.Log != nil {
			s.p.Log.Warn("shopper has nowhere to put components", "ship", s.p.Ship.Name())
		}
		return
	}

	st.Level(settings.Engage).SetMover(s)
	s.closed = false
	s.next = s.p.Now() + s.p.Tuning.Shopper.StartDelay
}

func (s *Shopper) Move() {
	now := s.p.Now()
	if s.closed || now < s.next {
		return
	}
	s.next = now + s.p.Tuning.Shopper.Interval

	if len(s.source) == 0 {
		s.findSources()
		if len(s.source) == 0 {
			s.closed = true
			s.p.Complete(s.Name(), settings.Engage, "no source inventories")
			return
		}
	}
	if len(s.list) == 0 {
		s.closed = true
		s.p.Complete(s.Name(), settings.Engage, "finished")
		return
	}
	s.shop()
}

// findSources collects inventories on grids attached to the ship, skipping welders.
func (s *Shopper) findSources() {
	ship := s.p.Ship.ID()
	s.p.Attached.RunOnAttached(ship, grid.AttachTerminal, func(g grid.EntityID) bool {
		if g == ship {
			return true
		}
		for _, b := range s.p.Index.Blocks(g) {
			if b.Kind() == grid.BlockWelder {
				continue
			}
			if inv, ok := b.(grid.Inventory); ok && len(inv.Items()) > 0 {
				s.source = append(s.source, inv)
			}
		}
		return true
	})
}

func (s *Shopper) first() (string, int) {
	keys := make([]string, 0, len(s.list))
	for k := range s.list {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], s.list[keys[0]]
}

// shop moves up to maxTransfer of the first listed item. An item nobody has is dropped.
func (s *Shopper) shop() {
	item, want := s.first()
	allowed := maxTransfer
	moved := 0
	for _, src := range s.source {
		if src.Closed() {
			continue
		}
		for _, dst := range s.dest {
			n := want - moved
			if n > allowed-moved {
				n = allowed - moved
			}
			if n < 1 {
				break
			}
			moved += dst.Take(src, item, n)
		}
	}
	if moved == 0 {
		if s.p.Log != nil {
			s.p.Log.Debug("nothing to shop for", "item", item)
		}
		delete(s.list, item)
		return
	}
	s.list[item] -= moved
	if s.list[item] < 1 {
		delete(s.list, item)
	}
}

func (s *Shopper) AppendStatusText(sb *strings.Builder) {
	if len(s.list) == 0 {
		sb.WriteString("Finished getting components\n")
		return
	}
	item, n := s.first()
	fmt.Fprintf(sb, "Searching for %d %s\n", n, item)
}
