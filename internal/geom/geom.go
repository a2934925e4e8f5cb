// Package geom holds the small amount of vector math the navigators share.
package geom

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Direction is one of the six faces of a block, expressed in its grid's local frame.
type Direction int

const (
	Forward Direction = iota
	Backward
	Left
	Right
	Up
	Down
)

// Directions lists all six faces.
var Directions = [...]Direction{Forward, Backward, Left, Right, Up, Down}

var directionNames = [...]string{"Forward", "Backward", "Left", "Right", "Up", "Down"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "Direction(?)"
	}
	return directionNames[d]
}

// ParseDirection accepts a face name in any case.
func ParseDirection(s string) (Direction, bool) {
	for i, name := range directionNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Direction(i), true
		}
	}
	return 0, false
}

func (d Direction) Flip() Direction {
	return d ^ 1
}

// Local returns the unit vector for d in a frame where Right=+X, Up=+Y, Forward=-Z.
func (d Direction) Local() r3.Vec {
	switch d {
	case Forward:
		return r3.Vec{Z: -1}
	case Backward:
		return r3.Vec{Z: 1}
	case Left:
		return r3.Vec{X: -1}
	case Right:
		return r3.Vec{X: 1}
	case Up:
		return r3.Vec{Y: 1}
	case Down:
		return r3.Vec{Y: -1}
	}
	panic("geom: bad direction")
}

// Basis is an orthonormal orientation given by its forward and up vectors.
type Basis struct {
	Forward r3.Vec
	Up      r3.Vec
}

func Identity() Basis {
	return Basis{Forward: r3.Vec{Z: -1}, Up: r3.Vec{Y: 1}}
}

func (b Basis) Right() r3.Vec {
	return r3.Cross(b.Forward, b.Up)
}

// ToWorld maps a local vector into world space.
func (b Basis) ToWorld(local r3.Vec) r3.Vec {
	v := r3.Scale(local.X, b.Right())
	v = r3.Add(v, r3.Scale(local.Y, b.Up))
	return r3.Add(v, r3.Scale(-local.Z, b.Forward))
}

func (b Basis) Dir(d Direction) r3.Vec {
	return b.ToWorld(d.Local())
}

// Orthonormalize rebuilds up so that it is perpendicular to forward.
func (b Basis) Orthonormalize() Basis {
	f := r3.Unit(b.Forward)
	u := r3.Sub(b.Up, r3.Scale(r3.Dot(b.Up, f), f))
	if r3.Norm2(u) < 1e-12 {
		u = Perpendicular(f)
	}
	return Basis{Forward: f, Up: r3.Unit(u)}
}

func Dist(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

func Dist2(a, b r3.Vec) float64 {
	return r3.Norm2(r3.Sub(a, b))
}

// Angle is the angle between a and b in radians. Zero vectors yield pi.
func Angle(a, b r3.Vec) float64 {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na == 0 || nb == 0 {
		return math.Pi
	}
	c := r3.Dot(a, b) / (na * nb)
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

func IsZero(v r3.Vec) bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

// Perpendicular returns some unit vector perpendicular to v.
func Perpendicular(v r3.Vec) r3.Vec {
	axis := r3.Vec{X: 1}
	if math.Abs(v.X) > math.Abs(v.Y) {
		axis = r3.Vec{Y: 1}
	}
	p := r3.Cross(v, axis)
	if r3.Norm2(p) == 0 {
		return r3.Vec{Z: 1}
	}
	return r3.Unit(p)
}

// ClampLength scales v down so its length does not exceed max.
func ClampLength(v r3.Vec, max float64) r3.Vec {
	n := r3.Norm(v)
	if n <= max || n == 0 {
		return v
	}
	return r3.Scale(max/n, v)
}
