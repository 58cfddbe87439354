package geometry

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered list of vertices. Fewer than 3 vertices is degenerate
// and contains nothing.
type Polygon []Point

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width, zero if inverted.
func (b BBox) Width() float64 {
	if b.X2 <= b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height, zero if inverted.
func (b BBox) Height() float64 {
	if b.Y2 <= b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns the box area.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the geometric center of the box.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// FeetPoint returns the bottom-center of the box, the reference point used for
// zone membership checks.
func (b BBox) FeetPoint() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// Contains reports whether p lies inside the polygon, using the ray casting
// algorithm. Points exactly on an edge may fall on either side.
func (poly Polygon) Contains(p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > p.Y) != (pj.Y > p.Y) {
			xCross := (pj.X-pi.X)*(p.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// IoU computes intersection-over-union of two boxes, in [0,1].
func IoU(a, b BBox) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}

	inter := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Pad grows the box by ratio of its own dimensions on each side and clamps the
// result to the image bounds.
func (b BBox) Pad(ratio float64, imgW, imgH int) BBox {
	padX := b.Width() * ratio
	padY := b.Height() * ratio

	out := BBox{
		X1: max(0, b.X1-padX),
		Y1: max(0, b.Y1-padY),
		X2: min(float64(imgW), b.X2+padX),
		Y2: min(float64(imgH), b.Y2+padY),
	}

	// Keep at least a 1px box so crops never come out empty.
	if out.X2 <= out.X1 {
		out.X2 = min(float64(imgW), out.X1+1)
	}
	if out.Y2 <= out.Y1 {
		out.Y2 = min(float64(imgH), out.Y1+1)
	}
	return out
}
