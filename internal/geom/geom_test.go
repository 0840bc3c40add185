package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitSquare() Polygon {
	return Polygon{Ring: []r2.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}}
}

func TestPolygonContains(t *testing.T) {
	tests := []struct {
		name string
		pt   r2.Point
		want bool
	}{
		{"center", r2.Point{X: 5, Y: 5}, true},
		{"outside right", r2.Point{X: 15, Y: 5}, false},
		{"outside above", r2.Point{X: 5, Y: 11}, false},
		{"on edge", r2.Point{X: 10, Y: 5}, true},
		{"on vertex", r2.Point{X: 0, Y: 0}, true},
		{"just inside", r2.Point{X: 9.999, Y: 9.999}, true},
		{"just outside", r2.Point{X: 10.001, Y: 10.001}, false},
	}

	poly := unitSquare()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, poly.Contains(tt.pt))
		})
	}
}

func TestPolygonContainsConcave(t *testing.T) {
	// L-shaped polygon with the notch in the upper right quadrant.
	poly := Polygon{Ring: []r2.Point{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 10}, {X: 0, Y: 10},
	}}

	assert.True(t, poly.Contains(r2.Point{X: 2, Y: 8}))
	assert.True(t, poly.Contains(r2.Point{X: 8, Y: 2}))
	assert.False(t, poly.Contains(r2.Point{X: 8, Y: 8}))
}

func TestPolygonContainsDegenerate(t *testing.T) {
	assert.False(t, Polygon{}.Contains(r2.Point{X: 1, Y: 1}))
	assert.False(t, Polygon{Ring: []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}.Contains(r2.Point{X: 0.5, Y: 0.5}))
}

func TestPolylineDistance(t *testing.T) {
	line := Polyline{{X: 0, Y: 0}, {X: 10, Y: 0}}

	tests := []struct {
		name string
		pt   r2.Point
		want float64
	}{
		{"perpendicular above midpoint", r2.Point{X: 5, Y: 3}, 3},
		{"beyond end clamps to endpoint", r2.Point{X: 13, Y: 4}, 5},
		{"before start clamps to start", r2.Point{X: -3, Y: 4}, 5},
		{"on the line", r2.Point{X: 7, Y: 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, line.Distance(tt.pt), 1e-12)
		})
	}
}

func TestPolylineDistanceMultiSegment(t *testing.T) {
	line := Polyline{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}

	// Closest to the vertical segment.
	assert.InDelta(t, 2, line.Distance(r2.Point{X: 8, Y: 6}), 1e-12)
	// Closest to the shared vertex.
	assert.InDelta(t, math.Sqrt2, line.Distance(r2.Point{X: 11, Y: -1}), 1e-12)
}

func TestPolylineDistanceDegenerate(t *testing.T) {
	assert.True(t, math.IsInf(Polyline{}.Distance(r2.Point{}), 1))
	assert.InDelta(t, 5, Polyline{{X: 3, Y: 4}}.Distance(r2.Point{}), 1e-12)
}

func TestShapeDistanceTo(t *testing.T) {
	pt := r2.Point{X: 5, Y: 5}

	require.InDelta(t, 0, PointShape(5, 5).DistanceTo(pt), 1e-12)
	require.InDelta(t, 5, PointShape(5, 10).DistanceTo(pt), 1e-12)
	require.InDelta(t, 5, LineShape([]r2.Point{{X: 0, Y: 10}, {X: 10, Y: 10}}).DistanceTo(pt), 1e-12)

	inside := PolygonShape(unitSquare().Ring)
	require.InDelta(t, 0, inside.DistanceTo(pt), 1e-12)
	require.InDelta(t, 2, inside.DistanceTo(r2.Point{X: 12, Y: 5}), 1e-12)
}

func TestPolygonBounds(t *testing.T) {
	b := unitSquare().Bounds()
	assert.Equal(t, 0.0, b.X.Lo)
	assert.Equal(t, 10.0, b.X.Hi)
	assert.Equal(t, 0.0, b.Y.Lo)
	assert.Equal(t, 10.0, b.Y.Hi)
}
