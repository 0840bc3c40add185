// Package correlate recomputes per-camera accident and traffic statistics
// whenever the terminal batch of a run lands in the geodatabase. For every
// speed camera it finds the nearest street, counts the accidents along that
// street partitioned by the camera's measurement window, and derives weekday
// traffic and speeding densities from the camera's measurements.
package correlate

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang/geo/r2"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// Camera is one speed camera row: its storage object id, the key its
// measurements are related under, and its location.
type Camera struct {
	ObjectID int64
	ID       domain.Value
	Loc      r2.Point
}

// Street is one street row with its polyline geometry.
type Street struct {
	ObjectID int64
	Line     geom.Polyline
}

// Accident is one accident row. Date is nil when the source row carried no
// parseable date; such accidents count in the total but in no window
// partition.
type Accident struct {
	Loc  r2.Point
	Date *time.Time
}

// Measurement is one traffic measurement of a camera on a given day.
type Measurement struct {
	Day      time.Time
	Vehicles float64
	Speeding float64
}

// Source supplies the rows the engine correlates. Measurements are fetched
// per camera so a camera with no streets in range never pays for them.
type Source interface {
	Cameras(ctx context.Context) ([]Camera, error)
	Streets(ctx context.Context) ([]Street, error)
	Accidents(ctx context.Context) ([]Accident, error)
	Measurements(ctx context.Context, cam Camera) ([]Measurement, error)
}

// Engine computes camera statistics from a Source.
type Engine struct {
	src    Source
	cfg    config.CorrelateConfig
	logger *slog.Logger
}

func New(src Source, cfg config.CorrelateConfig, logger *slog.Logger) *Engine {
	return &Engine{src: src, cfg: cfg, logger: logger}
}

// HandleEdit reacts to a feature edit event. Only the terminal edit of a
// batch run triggers recomputation; intermediate table stores are ignored so
// statistics are derived exactly once per run, from the complete data.
func (e *Engine) HandleEdit(ctx context.Context, terminal bool) (domain.EditInstruction, bool, error) {
	if !terminal {
		return domain.EditInstruction{}, false, nil
	}
	return e.Recompute(ctx)
}

// Recompute derives statistics for every camera and returns them as one edit
// instruction against the camera table. The second return is false when
// there is nothing to write.
func (e *Engine) Recompute(ctx context.Context) (domain.EditInstruction, bool, error) {
	cameras, err := e.src.Cameras(ctx)
	if err != nil {
		return domain.EditInstruction{}, false, err
	}
	if len(cameras) == 0 {
		e.logger.Debug("no cameras to correlate")
		return domain.EditInstruction{}, false, nil
	}
	streets, err := e.src.Streets(ctx)
	if err != nil {
		return domain.EditInstruction{}, false, err
	}
	accidents, err := e.src.Accidents(ctx)
	if err != nil {
		return domain.EditInstruction{}, false, err
	}

	instr := domain.EditInstruction{Table: e.cfg.CameraTable}
	for _, cam := range cameras {
		street, ok := e.nearestStreet(cam, streets)
		if !ok {
			// No street in range means the camera watches nothing we can
			// attribute accidents to. Write zeroes so stale numbers from an
			// earlier run cannot survive.
			instr.Updates = append(instr.Updates, domain.AttributeUpdate{
				ObjectID: cam.ObjectID,
				Attrs:    e.zeroStats(),
			})
			continue
		}

		measurements, err := e.src.Measurements(ctx, cam)
		if err != nil {
			return domain.EditInstruction{}, false, err
		}
		if len(measurements) == 0 {
			e.logger.Debug("camera has no measurements, skipping", "objectid", cam.ObjectID)
			continue
		}

		instr.Updates = append(instr.Updates, domain.AttributeUpdate{
			ObjectID: cam.ObjectID,
			Attrs:    e.cameraStats(street, accidents, measurements),
		})
	}

	e.logger.Info("camera statistics recomputed",
		"cameras", len(cameras), "updates", len(instr.Updates))
	return instr, len(instr.Updates) > 0, nil
}

// nearestStreet returns the street whose polyline is closest to the camera,
// considering only streets within the camera radius. Ties keep the earlier
// street, so the result is stable across runs.
func (e *Engine) nearestStreet(cam Camera, streets []Street) (Street, bool) {
	var best Street
	bestDist := e.cfg.CameraRadius
	found := false
	for _, s := range streets {
		d := s.Line.Distance(cam.Loc)
		if d < bestDist || (!found && d == bestDist) {
			best, bestDist, found = s, d, true
		}
	}
	return best, found
}

var weekdayPrefix = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// weekdaySlot maps a date to its 0-based slot with Monday first.
func weekdaySlot(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

// cameraStats builds the ordered attribute list for one camera: accident
// counts along its street partitioned by the measurement window, the window
// bounds, and per-weekday vehicle and speeding densities.
func (e *Engine) cameraStats(street Street, accidents []Accident, measurements []Measurement) []domain.Attribute {
	start, end := measurements[0].Day, measurements[0].Day
	var vehicles, speeding [7]float64
	for _, m := range measurements {
		if m.Day.Before(start) {
			start = m.Day
		}
		if m.Day.After(end) {
			end = m.Day
		}
		slot := weekdaySlot(m.Day)
		vehicles[slot] += m.Vehicles
		speeding[slot] += m.Speeding
	}

	// Dateless accidents count toward the total but belong to no partition,
	// so before+active+after can fall short of the total.
	var total, before, active, after int64
	for _, a := range accidents {
		if street.Line.Distance(a.Loc) > e.cfg.StreetRadius {
			continue
		}
		total++
		if a.Date == nil {
			continue
		}
		switch {
		case a.Date.Before(start):
			before++
		case a.Date.After(end):
			after++
		default:
			active++
		}
	}

	attrs := []domain.Attribute{
		{Name: "accident_count", Value: total},
		{Name: "accident_count_before", Value: before},
		{Name: "accident_count_active", Value: active},
		{Name: "accident_count_after", Value: after},
		{Name: "start_date", Value: start.Format(e.cfg.DateFormat)},
		{Name: "end_date", Value: end.Format(e.cfg.DateFormat)},
	}
	// Densities divide by the total measurement count rather than the count
	// of that weekday's measurements, matching the published statistics this
	// service replaces.
	n := float64(len(measurements))
	for i, p := range weekdayPrefix {
		attrs = append(attrs, domain.Attribute{Name: p + "_density", Value: vehicles[i] / n})
	}
	for i, p := range weekdayPrefix {
		attrs = append(attrs, domain.Attribute{Name: p + "_speeding", Value: speeding[i] / n})
	}
	return attrs
}

// zeroStats is the all-zero attribute list written for cameras with no
// street in range. The window bounds carry the zero date.
func (e *Engine) zeroStats() []domain.Attribute {
	zeroDate := time.Time{}.Format(e.cfg.DateFormat)
	attrs := []domain.Attribute{
		{Name: "accident_count", Value: int64(0)},
		{Name: "accident_count_before", Value: int64(0)},
		{Name: "accident_count_active", Value: int64(0)},
		{Name: "accident_count_after", Value: int64(0)},
		{Name: "start_date", Value: zeroDate},
		{Name: "end_date", Value: zeroDate},
	}
	for _, p := range weekdayPrefix {
		attrs = append(attrs, domain.Attribute{Name: p + "_density", Value: 0.0})
	}
	for _, p := range weekdayPrefix {
		attrs = append(attrs, domain.Attribute{Name: p + "_speeding", Value: 0.0})
	}
	return attrs
}
