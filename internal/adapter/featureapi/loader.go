package featureapi

import (
	"context"
	"fmt"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

// Loader implements domain.APILoader by delegating to a configured loader
// backend with the api entry's export spec as the destination.
type Loader struct {
	inner domain.Loader
	dest  domain.TableSpec
}

// NewLoader wraps a loader backend for one apis[] entry.
func NewLoader(api config.APIConfig, inner domain.Loader) (*Loader, error) {
	if api.Export.Name == "" {
		return nil, fmt.Errorf("api %s: export name is required", api.URL)
	}
	if api.IDColumn == "" {
		return nil, fmt.Errorf("api %s: id_column is required", api.URL)
	}

	kind := domain.TableKind(api.Export.Type)
	if kind == "" {
		kind = domain.TableFeature
	}
	dest := domain.TableSpec{
		Name:     api.Export.Name,
		Dataset:  api.Export.Dataset,
		Kind:     kind,
		Filename: api.Export.Filename,
		IDColumn: api.IDColumn,
	}
	if r := api.Export.Relation; r != nil {
		dest.Relation = &domain.Relation{
			Name: r.Name, Origin: r.Origin, Dest: r.Dest,
			OriginKey: r.OriginKey, DestKey: r.DestKey,
		}
	}
	return &Loader{inner: inner, dest: dest}, nil
}

// StoreAPI implements domain.APILoader.
func (l *Loader) StoreAPI(ctx context.Context, rs domain.RecordSet) error {
	_, err := l.inner.Load(ctx, l.dest, rs)
	return err
}
