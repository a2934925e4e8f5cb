package dock

import (
	"gridpilot.ai/internal/nav/deferred"
	"gridpilot.ai/internal/nav/grid"
)

// Kind is the way a landing block attaches.
type Kind uint8

const (
	KindOther Kind = iota
	KindGear
	KindConnector
	KindMerge
)

func (k Kind) String() string {
	switch k {
	case KindGear:
		return "landing gear"
	case KindConnector:
		return "connector"
	case KindMerge:
		return "merge block"
	}
	return "block"
}

// Target is the landing block resolved once into the way it attaches.
type Target struct {
	Kind      Kind
	block     grid.Block
	gear      grid.Gear
	connector grid.Connector
	merge     grid.MergeBlock
}

// Resolve classifies b. Blocks that cannot attach resolve to KindOther.
func Resolve(b grid.Block) Target {
	t := Target{Kind: KindOther, block: b}
	if b == nil {
		return t
	}
	switch b.Kind() {
	case grid.BlockLandingGear:
		if g, ok := b.(grid.Gear); ok {
			t.Kind, t.gear = KindGear, g
		}
	case grid.BlockConnector:
		if c, ok := b.(grid.Connector); ok {
			t.Kind, t.connector = KindConnector, c
		}
	case grid.BlockMerge:
		if m, ok := b.(grid.MergeBlock); ok {
			t.Kind, t.merge = KindMerge, m
		}
	}
	return t
}

func (t Target) Block() grid.Block { return t.block }

// Locked reports whether the landing block has attached to something.
func (t Target) Locked() bool {
	switch t.Kind {
	case KindGear:
		return t.gear.Locked()
	case KindConnector:
		return t.connector.Connected()
	case KindMerge:
		return t.merge.MergeImminent()
	}
	return false
}

// Accepts reports whether candidate is something this landing block can attach to.
func (t Target) Accepts(candidate grid.Block) bool {
	switch t.Kind {
	case KindConnector:
		c, ok := candidate.(grid.Connector)
		if !ok || candidate.Kind() != grid.BlockConnector {
			return false
		}
		return !c.Connected() || c.Partner() == t.block.ID()
	case KindMerge:
		return candidate.Kind() == grid.BlockMerge
	}
	return true
}

// Reserves is true for kinds whose target blocks are claimed while searching.
func (t Target) Reserves() bool {
	return t.Kind == KindConnector || t.Kind == KindMerge
}

// Prepare enables the landing block and turns on gear autolock.
func (t Target) Prepare(q *deferred.Queue) {
	b := t.block
	if b != nil && !b.Enabled() {
		q.Do("enable landing block", func() { b.SetEnabled(true) })
	}
	if t.Kind == KindGear {
		g := t.gear
		q.Do("gear autolock", func() {
			if !g.AutoLock() {
				g.SetAutoLock(true)
			}
		})
	}
}

// TryLock asks a connector that reports connectable to lock.
func (t Target) TryLock(q *deferred.Queue) bool {
	if t.Kind != KindConnector {
		return false
	}
	c := t.connector
	if c.Connected() || !c.Connectable() {
		return false
	}
	q.Do("connector lock", func() {
		if !c.Connected() {
			c.Lock()
		}
	})
	return true
}
