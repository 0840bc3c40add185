// Package geofile is the file-backed loader: one GeoJSON document per
// destination. Each load rewrites the whole file through a temp-and-rename
// so readers never see a partial document, and rewriting the same record
// set produces byte-identical output.
package geofile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// Store writes destinations as GeoJSON files under one directory.
type Store struct {
	dir    string
	crs    int
	logger *slog.Logger
}

// New builds a file store rooted at dir.
func New(dir string, crs int, logger *slog.Logger) *Store {
	return &Store{dir: dir, crs: crs, logger: logger}
}

// Load implements domain.Loader.
func (s *Store) Load(_ context.Context, dest domain.TableSpec, rs domain.RecordSet) (domain.LoadResult, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.LoadResult{}, fmt.Errorf("creating output dir: %w", err)
	}

	doc, err := encodeCollection(rs, s.crs)
	if err != nil {
		return domain.LoadResult{}, fmt.Errorf("encoding %s: %w", dest.Name, err)
	}

	path := s.path(dest)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return domain.LoadResult{}, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.LoadResult{}, fmt.Errorf("replacing %s: %w", path, err)
	}

	s.logger.Debug("wrote geofile", "path", path, "records", len(rs.Records))
	// A full replace has no notion of pre-existing rows.
	return domain.LoadResult{Inserted: len(rs.Records)}, nil
}

// Read parses a previously written destination back into a record set,
// mostly for verification tooling.
func (s *Store) Read(dest domain.TableSpec) (domain.RecordSet, error) {
	raw, err := os.ReadFile(s.path(dest))
	if err != nil {
		return domain.RecordSet{}, err
	}

	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
			Geometry   *struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.RecordSet{}, err
	}

	var rs domain.RecordSet
	for _, f := range doc.Features {
		rec := domain.Record{Fields: make(map[string]domain.Value, len(f.Properties))}
		for k, v := range f.Properties {
			rs.AddColumn(k)
			rec.Fields[k] = normalizeJSON(v)
		}
		if f.Geometry != nil && f.Geometry.Type == "Point" {
			var c [2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &c); err == nil {
				rec.Shape = geom.PointShape(c[0], c[1])
			}
		}
		rs.Append(rec)
	}
	return rs, nil
}

func (s *Store) path(dest domain.TableSpec) string {
	name := dest.Filename
	if name == "" {
		name = dest.Table() + ".geojson"
	}
	return filepath.Join(s.dir, name)
}

// encodeCollection renders a FeatureCollection by hand so properties follow
// the record set's column order; marshaling a map would order keys by sort
// and still not guarantee the order config declared.
func encodeCollection(rs domain.RecordSet, crs int) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`{"type":"FeatureCollection"`)
	if crs != 0 {
		fmt.Fprintf(&b, `,"crs":{"type":"name","properties":{"name":"EPSG:%d"}}`, crs)
	}
	b.WriteString(`,"features":[`)

	for i, r := range rs.Records {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`{"type":"Feature","properties":{`)
		first := true
		for _, col := range rs.Columns {
			v, ok := r.Fields[col]
			if !ok {
				v = nil
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			key, _ := json.Marshal(col)
			b.Write(key)
			b.WriteByte(':')
			b.Write(raw)
		}
		b.WriteString(`},"geometry":`)
		if err := writeGeometry(&b, r.Shape); err != nil {
			return nil, err
		}
		b.WriteByte('}')
	}

	b.WriteString("]}\n")
	return b.Bytes(), nil
}

func writeGeometry(b *bytes.Buffer, s *geom.Shape) error {
	if s == nil {
		b.WriteString("null")
		return nil
	}
	switch s.Kind {
	case geom.KindPoint:
		fmt.Fprintf(b, `{"type":"Point","coordinates":%s}`, coordJSON(s.Point.X, s.Point.Y))
	case geom.KindLine:
		b.WriteString(`{"type":"LineString","coordinates":[`)
		writeRing(b, s)
		b.WriteString("]}")
	case geom.KindPolygon:
		b.WriteString(`{"type":"Polygon","coordinates":[[`)
		writeRing(b, s)
		b.WriteString("]]}")
	default:
		return fmt.Errorf("unencodable shape kind %d", s.Kind)
	}
	return nil
}

func writeRing(b *bytes.Buffer, s *geom.Shape) {
	for i, p := range s.Ring {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(coordJSON(p.X, p.Y))
	}
}

func coordJSON(x, y float64) string {
	xj, _ := json.Marshal(x)
	yj, _ := json.Marshal(y)
	return "[" + string(xj) + "," + string(yj) + "]"
}

// normalizeJSON retypes decoded JSON numbers: integral floats come back as
// int64 to match extractor typing.
func normalizeJSON(v any) domain.Value {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}
