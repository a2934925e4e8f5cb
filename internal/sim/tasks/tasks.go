// Package tasks describes the work a ship can be told to do. A Task is plain data; the
// command package turns it into navigators.
package tasks

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

type Kind string

const (
	KindFly          Kind = "FLY"
	KindDock         Kind = "DOCK"
	KindMine         Kind = "MINE"
	KindGrind        Kind = "GRIND"
	KindWeld         Kind = "WELD"
	KindStop         Kind = "STOP"
	KindFace         Kind = "FACE"
	KindOrbit        Kind = "ORBIT"
	KindWaypoint     Kind = "WAYPOINT"
	KindWait         Kind = "WAIT"
	KindKamikaze     Kind = "KAMIKAZE"
	KindSelfDestruct Kind = "SELF_DESTRUCT"
)

var kinds = []Kind{
	KindFly, KindDock, KindMine, KindGrind, KindWeld, KindStop, KindFace,
	KindOrbit, KindWaypoint, KindWait, KindKamikaze, KindSelfDestruct,
}

// Kinds lists every kind in a stable order.
func Kinds() []Kind { return append([]Kind(nil), kinds...) }

// ParseKind accepts a kind in any case.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Vec is a world position or direction in wire form.
type Vec [3]float64

func (v Vec) R3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func FromR3(v r3.Vec) Vec { return Vec{v.X, v.Y, v.Z} }

// Task is one instruction for one ship. Which fields matter depends on Kind:
//
//	FLY           Position
//	DOCK          Target (grid name), Block, Forward/Up, LandingBlock
//	MINE          Ores
//	GRIND         Range
//	WELD          Target, ShopAfter
//	STOP          Exit
//	FACE          Block (ship block), Position or Direction
//	ORBIT         Target ("asteroid", "planet" or a grid name)
//	WAYPOINT      Entity, Offset
//	WAIT          Seconds
//	KAMIKAZE      Range
//	SELF_DESTRUCT Range
//
// Speed, Radius and NavigationBlock apply to every kind.
type Task struct {
	ID   string `json:"id,omitempty"`
	Ship string `json:"ship"`
	Kind Kind   `json:"kind"`

	Target       string   `json:"target,omitempty"`
	Entity       int64    `json:"entity,omitempty"`
	Block        string   `json:"block,omitempty"`
	Forward      string   `json:"forward,omitempty"`
	Up           string   `json:"up,omitempty"`
	LandingBlock string   `json:"landing_block,omitempty"`
	Position     *Vec     `json:"position,omitempty"`
	Direction    *Vec     `json:"direction,omitempty"`
	Offset       Vec      `json:"offset,omitempty"`
	Ores         []string `json:"ores,omitempty"`
	Range        float64  `json:"range,omitempty"`
	ShopAfter    bool     `json:"shop_after,omitempty"`
	Exit         bool     `json:"exit,omitempty"`
	Seconds      float64  `json:"seconds,omitempty"`

	NavigationBlock string  `json:"navigation_block,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Radius          float64 `json:"radius,omitempty"`
}

func (t Task) String() string {
	var sb strings.Builder
	sb.WriteString(string(t.Kind))
	switch {
	case t.Target != "":
		sb.WriteString(" " + t.Target)
	case t.Position != nil:
		fmt.Fprintf(&sb, " (%.0f, %.0f, %.0f)", t.Position[0], t.Position[1], t.Position[2])
	case t.Entity != 0:
		fmt.Fprintf(&sb, " #%d", t.Entity)
	}
	if t.Block != "" {
		sb.WriteString(" block " + t.Block)
	}
	return sb.String()
}
