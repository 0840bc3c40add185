// Package geofilter attaches geometry to records and intersects them with
// the region polygon.
package geofilter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang/geo/r2"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// PointFilter builds point geometry from a file spec's coordinate columns
// and keeps only records inside the region polygon. Records with missing or
// non-numeric coordinates are dropped. When axis validation is on, records
// whose easting does not exceed the northing get their axes swapped before
// the intersection test; the projected CRS in use guarantees x > y for any
// coordinate inside the country.
type PointFilter struct {
	spec      *config.DataFileSpec
	axisCheck bool
	logger    *slog.Logger
}

// NewPoint builds the point filter for one file spec.
func NewPoint(spec *config.DataFileSpec, pf *config.PolygonFilterConfig, logger *slog.Logger) *PointFilter {
	axisCheck := pf != nil && pf.ValidateAxisOrder
	return &PointFilter{spec: spec, axisCheck: axisCheck, logger: logger}
}

// Filter implements domain.GeoFilter. The returned set renames the source
// coordinate columns to "x" and "y" and stores the final (possibly swapped)
// coordinates there, so every loader sees one coordinate convention.
func (f *PointFilter) Filter(_ context.Context, rs domain.RecordSet, region *domain.RegionPolygon) (domain.RecordSet, error) {
	if region == nil {
		return domain.RecordSet{}, domain.ErrMissingPolygon
	}
	if f.spec.CRS != 0 && region.CRS != 0 && f.spec.CRS != region.CRS {
		return domain.RecordSet{}, fmt.Errorf("coordinate CRS %d does not match region CRS %d", f.spec.CRS, region.CRS)
	}

	xCol, yCol := "", ""
	for col, axis := range f.spec.Coordinates {
		switch axis {
		case "x":
			xCol = col
		case "y":
			yCol = col
		}
	}
	if xCol == "" || yCol == "" {
		return domain.RecordSet{}, fmt.Errorf("file spec does not map both coordinate axes")
	}

	out := rs.Clone()
	out.Rename(xCol, "x")
	out.Rename(yCol, "y")

	kept := out.Records[:0]
	for _, r := range out.Records {
		x, okX := domain.ToFloat(r.Fields["x"])
		y, okY := domain.ToFloat(r.Fields["y"])
		if !okX || !okY {
			continue
		}
		if f.axisCheck && x <= y {
			x, y = y, x
		}
		if !region.Poly.Contains(r2.Point{X: x, Y: y}) {
			continue
		}
		r.Fields["x"] = x
		r.Fields["y"] = y
		r.Shape = geom.PointShape(x, y)
		kept = append(kept, r)
	}
	dropped := len(rs.Records) - len(kept)
	if dropped > 0 {
		f.logger.Debug("dropped records outside region", "count", dropped, "region", region.Key)
	}
	out.Records = kept
	return out, nil
}
