// Package geom provides planar geometry primitives for feature records.
// All operations work in a single projected CRS; coordinates are plain
// x/y values on r2.Point, never lat/lon.
package geom

import (
	"math"

	"github.com/golang/geo/r2"
)

// Kind discriminates the geometry union carried by a Shape.
type Kind int

const (
	KindPoint Kind = iota
	KindLine
	KindPolygon
)

// Shape is the geometry attached to a record: a point, a polyline, or a
// polygon ring. Point is valid for KindPoint; Ring holds the vertices for
// KindLine and KindPolygon.
type Shape struct {
	Kind  Kind
	Point r2.Point
	Ring  []r2.Point
}

// PointShape returns a point shape at (x, y).
func PointShape(x, y float64) *Shape {
	return &Shape{Kind: KindPoint, Point: r2.Point{X: x, Y: y}}
}

// LineShape returns a polyline shape over the given vertices.
func LineShape(pts []r2.Point) *Shape {
	return &Shape{Kind: KindLine, Ring: pts}
}

// PolygonShape returns a polygon shape over the given ring. The ring does
// not need to be explicitly closed; the closing edge is implied.
func PolygonShape(ring []r2.Point) *Shape {
	return &Shape{Kind: KindPolygon, Ring: ring}
}

// DistanceTo returns the planar distance from the shape to pt. For polygons
// the distance is zero when pt lies inside.
func (s *Shape) DistanceTo(pt r2.Point) float64 {
	switch s.Kind {
	case KindPoint:
		return Distance(s.Point, pt)
	case KindLine:
		return Polyline(s.Ring).Distance(pt)
	case KindPolygon:
		p := Polygon{Ring: s.Ring}
		if p.Contains(pt) {
			return 0
		}
		return p.boundaryDistance(pt)
	}
	return math.Inf(1)
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b r2.Point) float64 {
	return a.Sub(b).Norm()
}

// Polygon is a simple planar polygon defined by one outer ring.
type Polygon struct {
	Ring []r2.Point
}

// Contains reports whether pt lies inside the polygon or on its boundary,
// using the even-odd ray casting rule.
func (p Polygon) Contains(pt r2.Point) bool {
	n := len(p.Ring)
	if n < 3 {
		return false
	}
	if p.boundaryDistance(pt) < boundaryEpsilon {
		return true
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := p.Ring[i], p.Ring[j]
		if (vi.Y > pt.Y) != (vj.Y > pt.Y) &&
			pt.X < (vj.X-vi.X)*(pt.Y-vi.Y)/(vj.Y-vi.Y)+vi.X {
			inside = !inside
		}
	}
	return inside
}

// Bounds returns the axis-aligned bounding rectangle of the ring.
func (p Polygon) Bounds() r2.Rect {
	if len(p.Ring) == 0 {
		return r2.Rect{}
	}
	r := r2.RectFromPoints(p.Ring[0])
	for _, v := range p.Ring[1:] {
		r = r.AddPoint(v)
	}
	return r
}

const boundaryEpsilon = 1e-9

func (p Polygon) boundaryDistance(pt r2.Point) float64 {
	n := len(p.Ring)
	min := math.Inf(1)
	for i := 0; i < n; i++ {
		d := segmentDistance(pt, p.Ring[i], p.Ring[(i+1)%n])
		if d < min {
			min = d
		}
	}
	return min
}

// Polyline is an open chain of vertices.
type Polyline []r2.Point

// Distance returns the minimum planar distance from pt to any segment of
// the polyline. A single-vertex polyline degenerates to point distance;
// an empty polyline is infinitely far away.
func (l Polyline) Distance(pt r2.Point) float64 {
	switch len(l) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(l[0], pt)
	}
	min := math.Inf(1)
	for i := 0; i < len(l)-1; i++ {
		d := segmentDistance(pt, l[i], l[i+1])
		if d < min {
			min = d
		}
	}
	return min
}

// segmentDistance returns the distance from p to the segment ab, clamping
// the projection to the segment endpoints.
func segmentDistance(p, a, b r2.Point) float64 {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq == 0 {
		return Distance(p, a)
	}
	t := p.Sub(a).Dot(ab) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := a.Add(ab.Mul(t))
	return Distance(p, closest)
}
