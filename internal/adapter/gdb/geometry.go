package gdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/golang/geo/r2"

	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// geomColumn stores non-point geometry as JSON. Point features keep their
// coordinates in the x/y columns instead, which keeps the common case
// queryable with plain SQL.
const geomColumn = "geom"

type shapeJSON struct {
	Kind   string       `json:"kind"`
	Coords [][2]float64 `json:"coords"`
}

// geomColumnNeeded reports whether any record carries line or polygon
// geometry that needs the JSON column.
func geomColumnNeeded(rs domain.RecordSet) bool {
	for _, r := range rs.Records {
		if r.Shape != nil && r.Shape.Kind != geom.KindPoint {
			return true
		}
	}
	return false
}

func encodeShape(s *geom.Shape) (any, error) {
	if s == nil || s.Kind == geom.KindPoint {
		return nil, nil
	}
	sj := shapeJSON{Coords: make([][2]float64, 0, len(s.Ring))}
	switch s.Kind {
	case geom.KindLine:
		sj.Kind = "line"
	case geom.KindPolygon:
		sj.Kind = "polygon"
	default:
		return nil, fmt.Errorf("unencodable shape kind %d", s.Kind)
	}
	for _, p := range s.Ring {
		sj.Coords = append(sj.Coords, [2]float64{p.X, p.Y})
	}
	raw, err := json.Marshal(sj)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func decodeShape(raw string) (*geom.Shape, error) {
	var sj shapeJSON
	if err := json.Unmarshal([]byte(raw), &sj); err != nil {
		return nil, fmt.Errorf("decoding geometry: %w", err)
	}
	pts := make([]r2.Point, 0, len(sj.Coords))
	for _, c := range sj.Coords {
		pts = append(pts, r2.Point{X: c[0], Y: c[1]})
	}
	switch sj.Kind {
	case "line":
		return geom.LineShape(pts), nil
	case "polygon":
		return geom.PolygonShape(pts), nil
	default:
		return nil, fmt.Errorf("unknown geometry kind %q", sj.Kind)
	}
}

func decodePolygon(raw string) (geom.Polygon, error) {
	s, err := decodeShape(raw)
	if err != nil {
		return geom.Polygon{}, err
	}
	if s.Kind != geom.KindPolygon {
		return geom.Polygon{}, fmt.Errorf("geometry is not a polygon")
	}
	return geom.Polygon{Ring: s.Ring}, nil
}

// scanRows turns a SELECT * result into a record set, rebuilding geometry
// from the geom column or the x/y pair.
func scanRows(rows *sql.Rows) (domain.RecordSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return domain.RecordSet{}, err
	}

	var outCols []string
	for _, c := range cols {
		if c != geomColumn {
			outCols = append(outCols, c)
		}
	}
	rs := domain.NewRecordSet(outCols...)

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return domain.RecordSet{}, err
		}
		rec := domain.Record{Fields: make(map[string]domain.Value, len(cols))}
		var rawGeom string
		for i, c := range cols {
			v := normalizeValue(values[i])
			if c == geomColumn {
				if s, ok := v.(string); ok {
					rawGeom = s
				}
				continue
			}
			rec.Fields[c] = v
		}

		if rawGeom != "" {
			shape, err := decodeShape(rawGeom)
			if err != nil {
				return domain.RecordSet{}, err
			}
			rec.Shape = shape
		} else {
			x, okX := domain.ToFloat(rec.Fields["x"])
			y, okY := domain.ToFloat(rec.Fields["y"])
			if okX && okY {
				rec.Shape = geom.PointShape(x, y)
			}
		}
		rs.Append(rec)
	}
	return rs, rows.Err()
}

// normalizeValue maps driver scan types onto domain values.
func normalizeValue(v any) domain.Value {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}
