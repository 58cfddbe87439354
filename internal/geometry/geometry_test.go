package geometry

import (
	"math"
	"testing"
)

func square(x1, y1, x2, y2 float64) Polygon {
	return Polygon{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

func TestPolygonContains(t *testing.T) {
	zone := square(0, 0, 100, 100)

	if !zone.Contains(Point{X: 50, Y: 50}) {
		t.Error("center point should be inside")
	}
	if zone.Contains(Point{X: 150, Y: 50}) {
		t.Error("point right of the polygon should be outside")
	}
	if zone.Contains(Point{X: -1, Y: -1}) {
		t.Error("negative point should be outside")
	}
}

func TestPolygonContainsConcave(t *testing.T) {
	// L shape: notch cut out of the top right
	zone := Polygon{
		{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 50},
		{X: 50, Y: 50}, {X: 50, Y: 100}, {X: 0, Y: 100},
	}

	if !zone.Contains(Point{X: 25, Y: 75}) {
		t.Error("point in the leg should be inside")
	}
	if zone.Contains(Point{X: 75, Y: 75}) {
		t.Error("point in the notch should be outside")
	}
}

func TestBBoxFeetPoint(t *testing.T) {
	b := BBox{X1: 10, Y1: 20, X2: 30, Y2: 80}
	feet := b.FeetPoint()
	if feet.X != 20 || feet.Y != 80 {
		t.Errorf("feet point = %+v, want (20, 80)", feet)
	}
}

func TestIoU(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	if got := IoU(a, a); math.Abs(got-1) > 1e-9 {
		t.Errorf("IoU of identical boxes = %f, want 1", got)
	}

	b := BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := IoU(a, b); got != 0 {
		t.Errorf("IoU of disjoint boxes = %f, want 0", got)
	}

	// Half overlap: intersection 50, union 150
	c := BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	want := 50.0 / 150.0
	if got := IoU(a, c); math.Abs(got-want) > 1e-9 {
		t.Errorf("IoU = %f, want %f", got, want)
	}
}

func TestBBoxPadClamps(t *testing.T) {
	b := BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
	padded := b.Pad(0.1, 100, 100)

	if padded.X1 < 0 || padded.Y1 < 0 || padded.X2 > 100 || padded.Y2 > 100 {
		t.Errorf("padded box %+v escapes the image", padded)
	}
}

func TestBBoxPadExpands(t *testing.T) {
	b := BBox{X1: 40, Y1: 40, X2: 60, Y2: 60}
	padded := b.Pad(0.1, 1000, 1000)

	if padded.X1 >= b.X1 || padded.Y1 >= b.Y1 || padded.X2 <= b.X2 || padded.Y2 <= b.Y2 {
		t.Errorf("padded box %+v does not expand %+v", padded, b)
	}
}
