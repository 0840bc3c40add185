package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trafficgeo/accident-etl/internal/adapter/gdb"
	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// StoreSource reads cameras, streets, accidents and measurements from the
// geodatabase the pipeline loads into.
type StoreSource struct {
	store  *gdb.Store
	cfg    config.CorrelateConfig
	logger *slog.Logger

	originKey string
}

func NewStoreSource(store *gdb.Store, cfg config.CorrelateConfig, logger *slog.Logger) *StoreSource {
	return &StoreSource{store: store, cfg: cfg, logger: logger}
}

func (s *StoreSource) Cameras(ctx context.Context) ([]Camera, error) {
	if s.originKey == "" {
		key, err := s.store.RelationOriginKey(ctx, s.cfg.MeasurementRelation)
		if err != nil {
			return nil, fmt.Errorf("resolving measurement relation: %w", err)
		}
		s.originKey = key
	}

	rs, err := s.store.ReadTable(ctx, s.cfg.CameraTable)
	if err != nil {
		return nil, err
	}
	var cameras []Camera
	for _, r := range rs.Records {
		oid, ok := objectID(r)
		if !ok {
			continue
		}
		if r.Shape == nil || r.Shape.Kind != geom.KindPoint {
			s.logger.Warn("camera row has no point geometry, skipping", "objectid", oid)
			continue
		}
		cameras = append(cameras, Camera{
			ObjectID: oid,
			ID:       r.Fields[s.originKey],
			Loc:      r.Shape.Point,
		})
	}
	return cameras, nil
}

func (s *StoreSource) Streets(ctx context.Context) ([]Street, error) {
	rs, err := s.store.ReadTable(ctx, s.cfg.StreetTable)
	if err != nil {
		return nil, err
	}
	var streets []Street
	for _, r := range rs.Records {
		oid, ok := objectID(r)
		if !ok {
			continue
		}
		if r.Shape == nil || r.Shape.Kind != geom.KindLine || len(r.Shape.Ring) == 0 {
			s.logger.Warn("street row has no line geometry, skipping", "objectid", oid)
			continue
		}
		streets = append(streets, Street{ObjectID: oid, Line: geom.Polyline(r.Shape.Ring)})
	}
	return streets, nil
}

func (s *StoreSource) Accidents(ctx context.Context) ([]Accident, error) {
	rs, err := s.store.ReadTable(ctx, s.cfg.AccidentTable)
	if err != nil {
		return nil, err
	}
	var accidents []Accident
	for _, r := range rs.Records {
		if r.Shape == nil || r.Shape.Kind != geom.KindPoint {
			continue
		}
		accidents = append(accidents, Accident{
			Loc:  r.Shape.Point,
			Date: s.parseDate(r.Fields[s.cfg.AccidentDateColumn]),
		})
	}
	return accidents, nil
}

func (s *StoreSource) Measurements(ctx context.Context, cam Camera) ([]Measurement, error) {
	rs, err := s.store.Related(ctx, s.cfg.MeasurementRelation, cam.ID)
	if err != nil {
		return nil, err
	}
	var measurements []Measurement
	for _, r := range rs.Records {
		day := s.parseDate(r.Fields[s.cfg.MeasurementDayColumn])
		if day == nil {
			s.logger.Warn("measurement row has no parseable day, skipping",
				"camera", domain.FormatValue(cam.ID))
			continue
		}
		vehicles, _ := domain.ToFloat(r.Fields[s.cfg.VehicleColumn])
		speeding, _ := domain.ToFloat(r.Fields[s.cfg.SpeedingColumn])
		measurements = append(measurements, Measurement{
			Day:      *day,
			Vehicles: vehicles,
			Speeding: speeding,
		})
	}
	return measurements, nil
}

func (s *StoreSource) parseDate(v domain.Value) *time.Time {
	raw := domain.FormatValue(v)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(s.cfg.DateFormat, raw)
	if err != nil {
		return nil
	}
	return &t
}

func objectID(r domain.Record) (int64, bool) {
	return domain.ToInt(r.Fields["objectid"])
}
