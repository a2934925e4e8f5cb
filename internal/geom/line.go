package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Line is a segment from From to To.
type Line struct {
	From, To r3.Vec
}

func (l Line) Length() float64 {
	return Dist(l.From, l.To)
}

func (l Line) Mid() r3.Vec {
	return r3.Scale(0.5, r3.Add(l.From, l.To))
}

// ClosestPoint returns the point on the segment nearest to p.
func (l Line) ClosestPoint(p r3.Vec) r3.Vec {
	d := r3.Sub(l.To, l.From)
	n2 := r3.Norm2(d)
	if n2 == 0 {
		return l.From
	}
	t := r3.Dot(r3.Sub(p, l.From), d) / n2
	t = math.Max(0, math.Min(1, t))
	return r3.Add(l.From, r3.Scale(t, d))
}

// DistanceTo is the distance from p to the nearest point on the segment.
func (l Line) DistanceTo(p r3.Vec) float64 {
	return Dist(p, l.ClosestPoint(p))
}

// Capsule is a line segment swept by a sphere.
type Capsule struct {
	Line
	Radius float64
}

// Contains reports whether p lies inside the capsule.
func (c Capsule) Contains(p r3.Vec) bool {
	return c.DistanceTo(p) <= c.Radius
}

func (c Capsule) halves() (Capsule, Capsule) {
	m := c.Mid()
	return Capsule{Line: Line{From: c.From, To: m}, Radius: c.Radius},
		Capsule{Line: Line{From: m, To: c.To}, Radius: c.Radius}
}

// FirstContact walks c from From toward To and returns the point just before the first
// place where hit reports an intersection, narrowing by binary subdivision until the
// remaining piece is shorter than precision. ok is false when c does not intersect at all.
func FirstContact(c Capsule, hit func(Capsule) bool, precision float64) (r3.Vec, bool) {
	if !hit(c) {
		return r3.Vec{}, false
	}
	for c.Length() > precision {
		near, far := c.halves()
		if hit(near) {
			c = near
		} else {
			c = far
		}
	}
	return c.From, true
}

// Intercept returns the point at which something leaving from at speed can meet a target
// currently at pos moving with vel. Without a solution it returns pos.
func Intercept(from r3.Vec, speed float64, pos, vel r3.Vec) r3.Vec {
	rel := r3.Sub(pos, from)
	a := r3.Norm2(vel) - speed*speed
	b := 2 * r3.Dot(rel, vel)
	c := r3.Norm2(rel)

	var t float64
	switch {
	case math.Abs(a) < 1e-9:
		if b >= 0 {
			return pos
		}
		t = -c / b
	default:
		disc := b*b - 4*a*c
		if disc < 0 {
			return pos
		}
		sq := math.Sqrt(disc)
		t1, t2 := (-b-sq)/(2*a), (-b+sq)/(2*a)
		t = math.Min(t1, t2)
		if t < 0 {
			t = math.Max(t1, t2)
		}
	}
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return pos
	}
	return r3.Add(pos, r3.Scale(t, vel))
}
