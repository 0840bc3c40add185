// Package strategy resolves configured component names to constructors.
// The registry is closed: every name referenced by the pipeline definition
// must resolve at startup, so a typo or a missing registration fails the
// run before any file is touched.
package strategy

import (
	"fmt"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

// Kind names one of the six pluggable component kinds.
type Kind string

const (
	KindExtractor    Kind = "extractor"
	KindGeoFilter    Kind = "geofilter"
	KindLoader       Kind = "loader"
	KindScraper      Kind = "scraper"
	KindAPIExtractor Kind = "api-extractor"
	KindAPILoader    Kind = "api-loader"
)

// UnknownStrategyError reports a configured name with no registration.
type UnknownStrategyError struct {
	Kind Kind
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown %s strategy %q", e.Kind, e.Name)
}

// Factory signatures per kind. Extractor and geofilter factories are scoped
// to one data-file spec; loader factories build one backend instance per
// named loader config; API factories are scoped to one apis[] entry.
type (
	ExtractorFactory    func(cfg *config.Config, spec *config.DataFileSpec) (domain.Extractor, error)
	GeoFilterFactory    func(cfg *config.Config, spec *config.DataFileSpec) (domain.GeoFilter, error)
	LoaderFactory       func(cfg *config.Config, name string, lc config.LoaderConfig) (domain.Loader, error)
	ScraperFactory      func(cfg *config.Config, sc config.ScraperConfig) (domain.Scraper, error)
	APIExtractorFactory func(cfg *config.Config, api config.APIConfig) (domain.APIExtractor, error)
	APILoaderFactory    func(cfg *config.Config, api config.APIConfig, inner domain.Loader) (domain.APILoader, error)
)

// Registry maps strategy names to factories for all six kinds.
type Registry struct {
	extractors    map[string]ExtractorFactory
	geofilters    map[string]GeoFilterFactory
	loaders       map[string]LoaderFactory
	scrapers      map[string]ScraperFactory
	apiExtractors map[string]APIExtractorFactory
	apiLoaders    map[string]APILoaderFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors:    map[string]ExtractorFactory{},
		geofilters:    map[string]GeoFilterFactory{},
		loaders:       map[string]LoaderFactory{},
		scrapers:      map[string]ScraperFactory{},
		apiExtractors: map[string]APIExtractorFactory{},
		apiLoaders:    map[string]APILoaderFactory{},
	}
}

func (r *Registry) RegisterExtractor(name string, f ExtractorFactory) { r.extractors[name] = f }
func (r *Registry) RegisterGeoFilter(name string, f GeoFilterFactory) { r.geofilters[name] = f }
func (r *Registry) RegisterLoader(name string, f LoaderFactory)       { r.loaders[name] = f }
func (r *Registry) RegisterScraper(name string, f ScraperFactory)     { r.scrapers[name] = f }
func (r *Registry) RegisterAPIExtractor(name string, f APIExtractorFactory) {
	r.apiExtractors[name] = f
}
func (r *Registry) RegisterAPILoader(name string, f APILoaderFactory) { r.apiLoaders[name] = f }

func (r *Registry) Extractor(name string) (ExtractorFactory, error) {
	f, ok := r.extractors[name]
	if !ok {
		return nil, &UnknownStrategyError{Kind: KindExtractor, Name: name}
	}
	return f, nil
}

func (r *Registry) GeoFilter(name string) (GeoFilterFactory, error) {
	f, ok := r.geofilters[name]
	if !ok {
		return nil, &UnknownStrategyError{Kind: KindGeoFilter, Name: name}
	}
	return f, nil
}

func (r *Registry) Loader(name string) (LoaderFactory, error) {
	f, ok := r.loaders[name]
	if !ok {
		return nil, &UnknownStrategyError{Kind: KindLoader, Name: name}
	}
	return f, nil
}

func (r *Registry) Scraper(name string) (ScraperFactory, error) {
	f, ok := r.scrapers[name]
	if !ok {
		return nil, &UnknownStrategyError{Kind: KindScraper, Name: name}
	}
	return f, nil
}

func (r *Registry) APIExtractor(name string) (APIExtractorFactory, error) {
	f, ok := r.apiExtractors[name]
	if !ok {
		return nil, &UnknownStrategyError{Kind: KindAPIExtractor, Name: name}
	}
	return f, nil
}

func (r *Registry) APILoader(name string) (APILoaderFactory, error) {
	f, ok := r.apiLoaders[name]
	if !ok {
		return nil, &UnknownStrategyError{Kind: KindAPILoader, Name: name}
	}
	return f, nil
}

// Validate resolves every strategy name the configuration references and
// returns the first UnknownStrategyError found. API entries with an empty
// extractor or loader name are skipped, matching runtime behavior.
func (r *Registry) Validate(cfg *config.Config) error {
	for _, spec := range cfg.DataFiles {
		if _, err := r.Extractor(spec.Extractor); err != nil {
			return err
		}
		if spec.GeoFilter != "" {
			if _, err := r.GeoFilter(spec.GeoFilter); err != nil {
				return err
			}
		}
	}
	for _, lc := range cfg.Loaders {
		if _, err := r.Loader(lc.Backend); err != nil {
			return err
		}
	}
	for _, sc := range cfg.Scrapers {
		if _, err := r.Scraper(sc.Scraper); err != nil {
			return err
		}
	}
	for _, api := range cfg.APIs {
		if api.APIExtractor == "" || api.APILoader == "" {
			continue
		}
		if _, err := r.APIExtractor(api.APIExtractor); err != nil {
			return err
		}
		if _, err := r.APILoader(api.APILoader); err != nil {
			return err
		}
	}
	return nil
}
