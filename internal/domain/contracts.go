package domain

import (
	"context"

	"github.com/trafficgeo/accident-etl/internal/geom"
)

// RegionPolygon is the area-of-interest boundary every geofiltered record
// must intersect. CRS is the planar EPSG code the ring's coordinates are in;
// coordinate columns must be in the same CRS.
type RegionPolygon struct {
	Key  string
	CRS  int
	Poly geom.Polygon
}

// Extractor parses one source file into a typed record set.
type Extractor interface {
	Extract(ctx context.Context, path string) (RecordSet, error)
}

// GeoFilter attaches point geometry from coordinate columns and drops
// records that fall outside the region or carry unusable coordinates.
// Implementations are pure: same input set and region, same output set.
type GeoFilter interface {
	Filter(ctx context.Context, rs RecordSet, region *RegionPolygon) (RecordSet, error)
}

// Loader persists a record set into a destination table idempotently:
// loading the same set twice leaves the destination unchanged.
type Loader interface {
	Load(ctx context.Context, dest TableSpec, rs RecordSet) (LoadResult, error)
}

// Scraper collects source files from an upstream site into the data folder.
// Collection runs as an external collaborator; the contract exists so
// configured scraper names resolve through the registry.
type Scraper interface {
	ScrapeFiles(ctx context.Context) error
}

// APIExtractor pulls a record set from a remote feature service.
type APIExtractor interface {
	ExtractAPI(ctx context.Context) (RecordSet, error)
}

// APILoader persists an API-sourced record set to its configured destination.
type APILoader interface {
	StoreAPI(ctx context.Context, rs RecordSet) error
}

// ChangeNotifier publishes table-change events after loads complete.
type ChangeNotifier interface {
	NotifyTableChanged(ctx context.Context, change TableChange) error
}
