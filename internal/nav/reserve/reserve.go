// Package reserve keeps exclusive claims on dock targets so that independent autopilots
// never try to occupy the same connector or landing pad.
package reserve

import "gridpilot.ai/internal/nav/grid"

// Registry is the shared table of claimed target ids. It is owned by the simulation
// goroutine and has no locking of its own.
type Registry struct {
	held map[grid.EntityID]*Claim

	reserved uint64
	released uint64
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[grid.EntityID]*Claim)}
}

// Claim is one navigator's handle on the registry. A claim holds at most one target.
type Claim struct {
	reg    *Registry
	target grid.EntityID
	holds  bool
}

func (r *Registry) NewClaim() *Claim {
	return &Claim{reg: r}
}

// Held reports whether some claim holds id.
func (r *Registry) Held(id grid.EntityID) bool {
	_, ok := r.held[id]
	return ok
}

func (r *Registry) Len() int { return len(r.held) }

// Stats returns the number of successful reservations and releases so far.
func (r *Registry) Stats() (reserved, released uint64) { return r.reserved, r.released }

// Target returns the held target id, if any.
func (c *Claim) Target() (grid.EntityID, bool) {
	return c.target, c.holds
}

// CanReserve is true when id is free or already held by this claim.
func (c *Claim) CanReserve(id grid.EntityID) bool {
	holder, ok := c.reg.held[id]
	return !ok || holder == c
}

// Reserve claims id, releasing whatever this claim held before. It fails when another
// claim holds id.
func (c *Claim) Reserve(id grid.EntityID) bool {
	if c.holds && c.target == id {
		return true
	}
	c.Unreserve()
	if _, taken := c.reg.held[id]; taken {
		return false
	}
	c.reg.held[id] = c
	c.reg.reserved++
	c.target, c.holds = id, true
	return true
}

// Unreserve releases the held target. Safe to call any number of times.
func (c *Claim) Unreserve() {
	if !c.holds {
		return
	}
	if c.reg.held[c.target] == c {
		delete(c.reg.held, c.target)
		c.reg.released++
	}
	c.target, c.holds = 0, false
}
