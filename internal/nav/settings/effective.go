package settings

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/nav/grid"
)

// Effective is the merged, read-only view of every level. It is rebuilt lazily after any
// level changes; callers must not hold on to it across ticks.
type Effective struct {
	Mover   Mover
	Rotator Rotator

	NavigationBlock grid.Block
	LandingBlock    grid.Block

	Complaint         Complaint
	WaitUntil         uint64
	DestinationOffset r3.Vec
	DestinationBlock  BlockTarget
	DestinationEntity grid.EntityID
	IgnoreEntity      grid.EntityID
	DestinationRadius float64
	Distance          float64
	DistanceAngle     float64
	SpeedTarget       float64
	SpeedMaxRelative  float64

	IgnoreAsteroid            bool
	PathfinderCanChangeCourse bool
	StayInFormation           bool
}

func (s *Stack) Effective() Effective {
	if s.effValid && s.effVersion == s.version {
		return s.eff
	}
	l := s.Current()
	s.eff = Effective{
		Mover:                     l.Mover(),
		Rotator:                   l.Rotator(),
		NavigationBlock:           l.NavigationBlock(),
		LandingBlock:              l.LandingBlock(),
		Complaint:                 l.Complaint(),
		WaitUntil:                 l.WaitUntil(),
		DestinationOffset:         l.DestinationOffset(),
		DestinationBlock:          l.DestinationBlock(),
		DestinationEntity:         l.DestinationEntity(),
		IgnoreEntity:              l.IgnoreEntity(),
		DestinationRadius:         l.DestinationRadius(),
		Distance:                  l.Distance(),
		DistanceAngle:             l.DistanceAngle(),
		SpeedTarget:               l.SpeedTarget(),
		SpeedMaxRelative:          l.SpeedMaxRelative(),
		IgnoreAsteroid:            l.IgnoreAsteroid(),
		PathfinderCanChangeCourse: l.PathfinderCanChangeCourse(),
		StayInFormation:           l.StayInFormation(),
	}
	s.effVersion = s.version
	s.effValid = true
	return s.eff
}

// Snapshot is a plain-data description of the stack for status reporting.
type Snapshot struct {
	Mover             string   `json:"mover,omitempty"`
	Rotator           string   `json:"rotator,omitempty"`
	Levels            []string `json:"levels,omitempty"`
	Complaints        []string `json:"complaints,omitempty"`
	DestinationEntity int64    `json:"destination_entity,omitempty"`
	DestinationRadius float64  `json:"destination_radius"`
	Distance          *float64 `json:"distance,omitempty"`
	DistanceAngle     *float64 `json:"distance_angle,omitempty"`
	SpeedTarget       float64  `json:"speed_target"`
	CanChangeCourse   bool     `json:"can_change_course"`
}

func (s *Stack) Snapshot() Snapshot {
	e := s.Effective()
	snap := Snapshot{
		Mover:             navName(e.Mover),
		Rotator:           navName(e.Rotator),
		Complaints:        e.Complaint.Lines(),
		DestinationEntity: int64(e.DestinationEntity),
		DestinationRadius: e.DestinationRadius,
		SpeedTarget:       e.SpeedTarget,
		CanChangeCourse:   e.PathfinderCanChangeCourse,
	}
	if !math.IsNaN(e.Distance) {
		d := e.Distance
		snap.Distance = &d
	}
	if !math.IsNaN(e.DistanceAngle) {
		a := e.DistanceAngle
		snap.DistanceAngle = &a
	}
	for _, l := range s.levels {
		var parts []string
		if l.mover != nil {
			parts = append(parts, "mover="+navName(l.mover))
		}
		if l.rotator != nil {
			parts = append(parts, "rotator="+navName(l.rotator))
		}
		if len(parts) > 0 {
			snap.Levels = append(snap.Levels, l.name.String()+": "+strings.Join(parts, " "))
		}
	}
	return snap
}

func navName(nav any) string {
	if nav == nil {
		return ""
	}
	if n, ok := nav.(interface{ Name() string }); ok {
		return n.Name()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", nav), "*")
}
