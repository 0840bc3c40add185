package strategy

import (
	"log/slog"

	"github.com/trafficgeo/accident-etl/internal/adapter/featureapi"
	"github.com/trafficgeo/accident-etl/internal/adapter/gdb"
	"github.com/trafficgeo/accident-etl/internal/adapter/geofile"
	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/extract"
	"github.com/trafficgeo/accident-etl/internal/geofilter"
)

// NewDefaultRegistry registers the built-in strategies under the names the
// pipeline definition file uses.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()

	r.RegisterExtractor("csv", func(_ *config.Config, spec *config.DataFileSpec) (domain.Extractor, error) {
		return extract.NewCSV(spec, logger), nil
	})
	r.RegisterExtractor("xls", func(_ *config.Config, spec *config.DataFileSpec) (domain.Extractor, error) {
		return extract.NewXLS(spec, logger), nil
	})

	r.RegisterGeoFilter("point", func(cfg *config.Config, spec *config.DataFileSpec) (domain.GeoFilter, error) {
		return geofilter.NewPoint(spec, cfg.PolygonFilter, logger), nil
	})

	r.RegisterLoader("gdb", func(_ *config.Config, _ string, lc config.LoaderConfig) (domain.Loader, error) {
		return gdb.Open(lc.Path, logger)
	})
	r.RegisterLoader("geofile", func(_ *config.Config, _ string, lc config.LoaderConfig) (domain.Loader, error) {
		return geofile.New(lc.Path, lc.CRS, logger), nil
	})

	r.RegisterAPIExtractor("feature_service", func(_ *config.Config, api config.APIConfig) (domain.APIExtractor, error) {
		return featureapi.NewExtractor(api, logger), nil
	})
	r.RegisterAPILoader("feature_table", func(_ *config.Config, api config.APIConfig, inner domain.Loader) (domain.APILoader, error) {
		return featureapi.NewLoader(api, inner)
	})

	return r
}
