// Package featureapi ingests record sets from remote feature services that
// page results and signal truncation with an exceededTransferLimit flag.
package featureapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/geo/r2"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// Extractor implements domain.APIExtractor against one configured service.
type Extractor struct {
	api        config.APIConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExtractor creates a feature-service client for one apis[] entry.
func NewExtractor(api config.APIConfig, logger *slog.Logger) *Extractor {
	return &Extractor{
		api: api,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// ExtractAPI fetches every page of the service. Paging advances by result
// offset until the service stops reporting exceededTransferLimit. Columns
// are sorted by name because feature properties arrive as unordered JSON
// objects and loader output must not depend on map iteration.
func (e *Extractor) ExtractAPI(ctx context.Context) (domain.RecordSet, error) {
	var features []feature
	offset := 0
	for {
		page, err := e.fetchPage(ctx, offset)
		if err != nil {
			return domain.RecordSet{}, err
		}
		features = append(features, page.Features...)
		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			break
		}
		offset += len(page.Features)
	}
	e.logger.Debug("fetched feature service", "url", e.api.URL, "features", len(features))

	rs := buildRecordSet(features)
	rs.Drop(e.api.DropColumns...)
	return rs, nil
}

func (e *Extractor) fetchPage(ctx context.Context, offset int) (*response, error) {
	sep := "?"
	if strings.Contains(e.api.URL, "?") {
		sep = "&"
	}
	fullURL := fmt.Sprintf("%s%sresultOffset=%d&resultRecordCount=%d&f=geojson",
		e.api.URL, sep, offset, e.api.ResultRecordCount)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feature service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("feature service error: status %d: %s", resp.StatusCode, body)
	}

	var page response
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}

func buildRecordSet(features []feature) domain.RecordSet {
	colSet := map[string]struct{}{}
	for _, f := range features {
		for k := range f.Properties {
			colSet[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(colSet))
	for k := range colSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	rs := domain.NewRecordSet(columns...)
	for _, f := range features {
		rec := domain.Record{Fields: make(map[string]domain.Value, len(columns))}
		for _, col := range columns {
			rec.Fields[col] = normalizeJSON(f.Properties[col])
		}
		if shape := f.Geometry.toShape(); shape != nil {
			rec.Shape = shape
			if shape.Kind == geom.KindPoint {
				rs.AddColumn("x")
				rs.AddColumn("y")
				rec.Fields["x"] = shape.Point.X
				rec.Fields["y"] = shape.Point.Y
			}
		}
		rs.Append(rec)
	}
	return rs
}

// normalizeJSON retypes decoded JSON numbers the way file extraction does,
// so API-sourced and file-sourced values compare equal.
func normalizeJSON(v any) domain.Value {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

// Feature service response types.

type response struct {
	Features              []feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
}

type feature struct {
	Properties map[string]any `json:"properties"`
	Geometry   geometry       `json:"geometry"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// toShape maps a GeoJSON geometry to the internal shape. Points stay
// points, line strings stay lines, polygons collapse to their centroid;
// the services feeding this pipeline publish area features whose centroid
// is the meaningful location.
func (g geometry) toShape() *geom.Shape {
	switch g.Type {
	case "Point":
		var c [2]float64
		if err := json.Unmarshal(g.Coordinates, &c); err != nil {
			return nil
		}
		return geom.PointShape(c[0], c[1])
	case "LineString":
		var coords [][2]float64
		if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
			return nil
		}
		pts := make([]r2.Point, 0, len(coords))
		for _, c := range coords {
			pts = append(pts, r2.Point{X: c[0], Y: c[1]})
		}
		return geom.LineShape(pts)
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil || len(rings) == 0 || len(rings[0]) == 0 {
			return nil
		}
		var cx, cy float64
		for _, c := range rings[0] {
			cx += c[0]
			cy += c[1]
		}
		n := float64(len(rings[0]))
		return geom.PointShape(cx/n, cy/n)
	default:
		return nil
	}
}
