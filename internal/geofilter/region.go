package geofilter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/geo/r2"

	"github.com/trafficgeo/accident-etl/internal/adapter/gdb"
	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// LoadRegion resolves the region polygon from its configured source. Returns
// nil with no error when no polygon filter is configured; any configured
// polygon that cannot be resolved is a domain.ErrMissingPolygon, which is
// fatal for the run.
func LoadRegion(ctx context.Context, cfg *config.Config) (*domain.RegionPolygon, error) {
	pf := cfg.PolygonFilter
	if pf == nil {
		return nil, nil
	}

	var (
		ring []r2.Point
		err  error
	)
	switch pf.Source {
	case "geojson":
		ring, err = geojsonRing(pf)
	case "gdb":
		ring, err = gdbRing(ctx, pf)
	default:
		err = fmt.Errorf("unknown polygon source %q", pf.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingPolygon, err)
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("%w: polygon %q has fewer than three vertices", domain.ErrMissingPolygon, pf.TargetID)
	}

	return &domain.RegionPolygon{
		Key:  pf.TargetID,
		CRS:  pf.CRS,
		Poly: geom.Polygon{Ring: ring},
	}, nil
}

type geojsonFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

type geojsonCollection struct {
	Features []geojsonFeature `json:"features"`
}

func geojsonRing(pf *config.PolygonFilterConfig) ([]r2.Point, error) {
	raw, err := os.ReadFile(pf.Path)
	if err != nil {
		return nil, err
	}
	var coll geojsonCollection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pf.Path, err)
	}

	for _, feat := range coll.Features {
		if domain.FormatValue(feat.Properties[pf.IDColumn]) != pf.TargetID {
			continue
		}
		return outerRing(feat.Geometry.Type, feat.Geometry.Coordinates)
	}
	return nil, fmt.Errorf("no feature with %s=%q in %s", pf.IDColumn, pf.TargetID, pf.Path)
}

// outerRing extracts the first ring of a Polygon or MultiPolygon geometry.
func outerRing(typ string, coords json.RawMessage) ([]r2.Point, error) {
	switch typ {
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(coords, &rings); err != nil {
			return nil, err
		}
		if len(rings) == 0 {
			return nil, fmt.Errorf("polygon has no rings")
		}
		return toPoints(rings[0]), nil
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(coords, &polys); err != nil {
			return nil, err
		}
		if len(polys) == 0 || len(polys[0]) == 0 {
			return nil, fmt.Errorf("multipolygon has no rings")
		}
		return toPoints(polys[0][0]), nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", typ)
	}
}

func toPoints(ring [][2]float64) []r2.Point {
	pts := make([]r2.Point, 0, len(ring))
	for _, c := range ring {
		pts = append(pts, r2.Point{X: c[0], Y: c[1]})
	}
	return pts
}

func gdbRing(ctx context.Context, pf *config.PolygonFilterConfig) ([]r2.Point, error) {
	store, err := gdb.OpenReadOnly(pf.Path, nil)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	poly, err := store.PolygonByID(ctx, pf.Table, pf.IDColumn, pf.TargetID)
	if err != nil {
		return nil, err
	}
	return poly.Ring, nil
}
