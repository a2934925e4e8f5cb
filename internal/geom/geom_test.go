package geom

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestDirectionFlip(t *testing.T) {
	for d := Forward; d <= Down; d++ {
		if r3.Dot(d.Local(), d.Flip().Local()) != -1 {
			t.Fatalf("%v flip=%v not opposite", d, d.Flip())
		}
		if d.Flip().Flip() != d {
			t.Fatalf("%v double flip=%v", d, d.Flip().Flip())
		}
	}
}

func TestBasisToWorld(t *testing.T) {
	b := Basis{Forward: r3.Vec{X: 1}, Up: r3.Vec{Z: 1}}.Orthonormalize()
	// Local axes are Right, Up, Backward; Right is Forward x Up.
	got := b.ToWorld(r3.Vec{X: 1, Y: -2, Z: 3})
	if want := (r3.Vec{X: -3, Y: -1, Z: -2}); Dist(got, want) > 1e-9 {
		t.Fatalf("to world: got %v want %v", got, want)
	}
	if Dist(b.Dir(Forward), r3.Vec{X: 1}) > 1e-9 {
		t.Fatalf("forward=%v", b.Dir(Forward))
	}
}

func TestLineClosestPointClamps(t *testing.T) {
	l := Line{From: r3.Vec{}, To: r3.Vec{X: 10}}
	if p := l.ClosestPoint(r3.Vec{X: 5, Y: 3}); Dist(p, r3.Vec{X: 5}) > 1e-9 {
		t.Fatalf("mid: %v", p)
	}
	if p := l.ClosestPoint(r3.Vec{X: -5, Y: 3}); Dist(p, r3.Vec{}) > 1e-9 {
		t.Fatalf("before start: %v", p)
	}
	if p := l.ClosestPoint(r3.Vec{X: 50}); Dist(p, r3.Vec{X: 10}) > 1e-9 {
		t.Fatalf("after end: %v", p)
	}
}

func TestFirstContactFindsSphereSurface(t *testing.T) {
	// Sphere of radius 10 at the origin, approached from outside along -X.
	hit := func(c Capsule) bool {
		return c.DistanceTo(r3.Vec{}) <= 10+c.Radius
	}
	c := Capsule{Line: Line{From: r3.Vec{X: 100}, To: r3.Vec{}}, Radius: 0}
	p, ok := FirstContact(c, hit, 0.01)
	if !ok {
		t.Fatalf("expected contact")
	}
	if math.Abs(p.X-10) > 0.05 {
		t.Fatalf("contact at %v want x~10", p)
	}

	miss := Capsule{Line: Line{From: r3.Vec{X: 100, Y: 50}, To: r3.Vec{X: -100, Y: 50}}}
	if _, ok := FirstContact(miss, hit, 0.01); ok {
		t.Fatalf("expected no contact")
	}
}

func TestInterceptLeadsMovingTarget(t *testing.T) {
	pos := r3.Vec{X: 100}
	vel := r3.Vec{Y: 10}
	aim := Intercept(r3.Vec{}, 50, pos, vel)
	if aim.Y <= 0 {
		t.Fatalf("aim should lead target: %v", aim)
	}
	// Time for target to reach aim equals time for us to get there.
	tTarget := (aim.Y - pos.Y) / vel.Y
	tUs := r3.Norm(aim) / 50
	if math.Abs(tTarget-tUs) > 1e-6 {
		t.Fatalf("times differ: target=%v us=%v", tTarget, tUs)
	}

	// Too slow to ever catch a target running away.
	if got := Intercept(r3.Vec{}, 1, pos, r3.Vec{X: 10}); got != pos {
		t.Fatalf("expected fallback to pos, got %v", got)
	}
}

func TestAngle(t *testing.T) {
	if a := Angle(r3.Vec{X: 1}, r3.Vec{Y: 2}); math.Abs(a-math.Pi/2) > 1e-9 {
		t.Fatalf("angle=%v", a)
	}
	if a := Angle(r3.Vec{}, r3.Vec{Y: 2}); a != math.Pi {
		t.Fatalf("zero vector angle=%v", a)
	}
}

func TestParseDirection(t *testing.T) {
	if d, ok := ParseDirection(" backward"); !ok || d != Backward {
		t.Fatalf("got %v %v", d, ok)
	}
	if _, ok := ParseDirection("sideways"); ok {
		t.Fatalf("parsed an unknown face")
	}
}
