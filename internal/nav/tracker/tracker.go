// Package tracker counts how many ships are working each target so that new arrivals can
// spread out instead of piling onto the same grid.
package tracker

import "gridpilot.ai/internal/nav/grid"

// Tracker maps a target to the ships currently working it. Owned by the simulation goroutine.
type Tracker struct {
	targets map[grid.EntityID][]grid.EntityID
	byShip  map[grid.EntityID]grid.EntityID
}

func New() *Tracker {
	return &Tracker{
		targets: make(map[grid.EntityID][]grid.EntityID),
		byShip:  make(map[grid.EntityID]grid.EntityID),
	}
}

// Count is the number of ships working target.
func (t *Tracker) Count(target grid.EntityID) int {
	return len(t.targets[target])
}

// Target returns what ship is working on, if anything.
func (t *Tracker) Target(ship grid.EntityID) (grid.EntityID, bool) {
	id, ok := t.byShip[ship]
	return id, ok
}

// Set records that ship now works target. A zero target removes the ship.
func (t *Tracker) Set(ship, target grid.EntityID) {
	if old, ok := t.byShip[ship]; ok {
		if old == target {
			return
		}
		t.remove(ship, old)
	}
	if target == 0 {
		return
	}
	t.targets[target] = append(t.targets[target], ship)
	t.byShip[ship] = target
}

// Remove drops ship from whatever it was working.
func (t *Tracker) Remove(ship grid.EntityID) {
	if old, ok := t.byShip[ship]; ok {
		t.remove(ship, old)
	}
}

func (t *Tracker) remove(ship, target grid.EntityID) {
	delete(t.byShip, ship)
	ships := t.targets[target]
	for i, s := range ships {
		if s == ship {
			ships = append(ships[:i], ships[i+1:]...)
			break
		}
	}
	if len(ships) == 0 {
		delete(t.targets, target)
		return
	}
	t.targets[target] = ships
}
