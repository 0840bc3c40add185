package geofilter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func squareRegion() *domain.RegionPolygon {
	return &domain.RegionPolygon{
		Key: "test",
		CRS: 5514,
		Poly: geom.Polygon{Ring: []r2.Point{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
		}},
	}
}

func pointSpec() *config.DataFileSpec {
	return &config.DataFileSpec{
		IDColumn:    "p1",
		Coordinates: map[string]string{"d": "x", "e": "y"},
		CRS:         5514,
	}
}

func inputSet(coords ...[2]any) domain.RecordSet {
	rs := domain.NewRecordSet("p1", "d", "e")
	for i, c := range coords {
		rs.Append(domain.Record{Fields: map[string]domain.Value{
			"p1": int64(i + 1), "d": c[0], "e": c[1],
		}})
	}
	return rs
}

func TestPointFilter_KeepsInsideDropsOutside(t *testing.T) {
	f := NewPoint(pointSpec(), nil, discardLogger())

	rs := inputSet(
		[2]any{5.0, 5.0},   // inside
		[2]any{15.0, 5.0},  // outside
		[2]any{int64(2), int64(3)}, // inside, integer-typed coords
	)

	out, err := f.Filter(context.Background(), rs, squareRegion())
	require.NoError(t, err)

	require.Len(t, out.Records, 2)
	assert.Equal(t, int64(1), out.Records[0].Fields["p1"])
	assert.Equal(t, int64(3), out.Records[1].Fields["p1"])
}

func TestPointFilter_RenamesCoordinateColumns(t *testing.T) {
	f := NewPoint(pointSpec(), nil, discardLogger())

	out, err := f.Filter(context.Background(), inputSet([2]any{5.0, 5.0}), squareRegion())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "x", "y"}, out.Columns)
	assert.Equal(t, 5.0, out.Records[0].Fields["x"])
	assert.Equal(t, 5.0, out.Records[0].Fields["y"])
	require.NotNil(t, out.Records[0].Shape)
	assert.Equal(t, geom.KindPoint, out.Records[0].Shape.Kind)
}

func TestPointFilter_DropsInvalidCoordinates(t *testing.T) {
	f := NewPoint(pointSpec(), nil, discardLogger())

	rs := inputSet(
		[2]any{nil, 5.0},
		[2]any{"junk", 5.0},
		[2]any{5.0, nil},
		[2]any{5.0, 5.0},
	)

	out, err := f.Filter(context.Background(), rs, squareRegion())
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, int64(4), out.Records[0].Fields["p1"])
}

func TestPointFilter_AxisSwapRecovery(t *testing.T) {
	pf := &config.PolygonFilterConfig{ValidateAxisOrder: true}
	f := NewPoint(pointSpec(), pf, discardLogger())

	region := &domain.RegionPolygon{
		CRS: 5514,
		Poly: geom.Polygon{Ring: []r2.Point{
			{X: 5, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 4}, {X: 5, Y: 4},
		}},
	}

	// (2, 8) fails x > y; swapped to (8, 2) it lands inside the region.
	out, err := f.Filter(context.Background(), inputSet([2]any{2.0, 8.0}), region)
	require.NoError(t, err)

	require.Len(t, out.Records, 1)
	assert.Equal(t, 8.0, out.Records[0].Fields["x"])
	assert.Equal(t, 2.0, out.Records[0].Fields["y"])
}

func TestPointFilter_AxisSwapStillOutsideDrops(t *testing.T) {
	pf := &config.PolygonFilterConfig{ValidateAxisOrder: true}
	f := NewPoint(pointSpec(), pf, discardLogger())

	region := &domain.RegionPolygon{
		CRS:  5514,
		Poly: geom.Polygon{Ring: []r2.Point{{X: 100, Y: 50}, {X: 110, Y: 50}, {X: 110, Y: 60}, {X: 100, Y: 60}}},
	}

	out, err := f.Filter(context.Background(), inputSet([2]any{2.0, 8.0}), region)
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestPointFilter_NilRegion(t *testing.T) {
	f := NewPoint(pointSpec(), nil, discardLogger())
	_, err := f.Filter(context.Background(), inputSet(), nil)
	require.ErrorIs(t, err, domain.ErrMissingPolygon)
}

func TestPointFilter_CRSMismatch(t *testing.T) {
	spec := pointSpec()
	spec.CRS = 32633
	f := NewPoint(spec, nil, discardLogger())

	_, err := f.Filter(context.Background(), inputSet(), squareRegion())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRS")
}

func TestPointFilter_Pure(t *testing.T) {
	f := NewPoint(pointSpec(), nil, discardLogger())
	rs := inputSet([2]any{5.0, 5.0}, [2]any{15.0, 5.0})

	first, err := f.Filter(context.Background(), rs, squareRegion())
	require.NoError(t, err)
	second, err := f.Filter(context.Background(), rs, squareRegion())
	require.NoError(t, err)

	assert.Equal(t, first.Columns, second.Columns)
	require.Len(t, second.Records, len(first.Records))
	// Input set is untouched.
	assert.Equal(t, []string{"p1", "d", "e"}, rs.Columns)
	assert.Len(t, rs.Records, 2)
}

const regionGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"properties": {"name": "Praha"}, "geometry": {"type": "Polygon",
      "coordinates": [[[100, 100], [200, 100], [200, 200], [100, 200]]]}},
    {"properties": {"name": "Brno"}, "geometry": {"type": "Polygon",
      "coordinates": [[[0, 0], [10, 0], [10, 10], [0, 10]]]}}
  ]
}`

func TestLoadRegion_GeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.geojson")
	require.NoError(t, os.WriteFile(path, []byte(regionGeoJSON), 0o600))

	cfg := &config.Config{PolygonFilter: &config.PolygonFilterConfig{
		Source:   "geojson",
		Path:     path,
		IDColumn: "name",
		TargetID: "Brno",
		CRS:      5514,
	}}

	region, err := LoadRegion(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, region)

	assert.Equal(t, "Brno", region.Key)
	assert.Equal(t, 5514, region.CRS)
	assert.True(t, region.Poly.Contains(r2.Point{X: 5, Y: 5}))
	assert.False(t, region.Poly.Contains(r2.Point{X: 150, Y: 150}))
}

func TestLoadRegion_TargetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.geojson")
	require.NoError(t, os.WriteFile(path, []byte(regionGeoJSON), 0o600))

	cfg := &config.Config{PolygonFilter: &config.PolygonFilterConfig{
		Source:   "geojson",
		Path:     path,
		IDColumn: "name",
		TargetID: "Ostrava",
	}}

	_, err := LoadRegion(context.Background(), cfg)
	require.ErrorIs(t, err, domain.ErrMissingPolygon)
}

func TestLoadRegion_FileMissing(t *testing.T) {
	cfg := &config.Config{PolygonFilter: &config.PolygonFilterConfig{
		Source:   "geojson",
		Path:     filepath.Join(t.TempDir(), "nope.geojson"),
		IDColumn: "name",
		TargetID: "Brno",
	}}

	_, err := LoadRegion(context.Background(), cfg)
	require.ErrorIs(t, err, domain.ErrMissingPolygon)
}

func TestLoadRegion_NotConfigured(t *testing.T) {
	region, err := LoadRegion(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, region)
}
