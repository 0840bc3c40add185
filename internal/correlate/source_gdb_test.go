package correlate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficgeo/accident-etl/internal/adapter/gdb"
	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

func seedStore(t *testing.T) *gdb.Store {
	t.Helper()
	store, err := gdb.Open(filepath.Join(t.TempDir(), "out.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	cameras := domain.NewRecordSet("camera_id", "x", "y")
	cameras.Append(domain.Record{Fields: map[string]domain.Value{
		"camera_id": int64(1), "x": 1.0, "y": 1.0,
	}})
	_, err = store.Load(ctx, domain.TableSpec{
		Name: "cameras", Dataset: "traffic", IDColumn: "camera_id",
		Relation: &domain.Relation{
			Name: "camera_measurements", Origin: "traffic_cameras", Dest: "measurements",
			OriginKey: "camera_id", DestKey: "camera_id",
		},
	}, cameras)
	require.NoError(t, err)

	streets := domain.NewRecordSet("street_id")
	streets.Append(domain.Record{
		Fields: map[string]domain.Value{"street_id": int64(10)},
		Shape:  geom.LineShape([]r2.Point{{X: 0, Y: 5}, {X: 10, Y: 5}}),
	})
	_, err = store.Load(ctx, domain.TableSpec{Name: "streets", IDColumn: "street_id"}, streets)
	require.NoError(t, err)

	accidents := domain.NewRecordSet("p1", "p2a", "x", "y")
	accidents.Append(domain.Record{Fields: map[string]domain.Value{
		"p1": int64(100), "p2a": "2023-01-10", "x": 5.0, "y": 5.0,
	}})
	accidents.Append(domain.Record{Fields: map[string]domain.Value{
		"p1": int64(101), "p2a": nil, "x": 6.0, "y": 5.0,
	}})
	_, err = store.Load(ctx, domain.TableSpec{Name: "accidents", IDColumn: "p1"}, accidents)
	require.NoError(t, err)

	measurements := domain.NewRecordSet("m_id", "camera_id", "day", "vehicles", "speeding")
	measurements.Append(domain.Record{Fields: map[string]domain.Value{
		"m_id": int64(1), "camera_id": int64(1), "day": "2023-01-05",
		"vehicles": int64(120), "speeding": int64(4),
	}})
	measurements.Append(domain.Record{Fields: map[string]domain.Value{
		"m_id": int64(2), "camera_id": int64(2), "day": "2023-01-06",
		"vehicles": int64(80), "speeding": int64(1),
	}})
	_, err = store.Load(ctx, domain.TableSpec{
		Name: "measurements", Kind: domain.TablePlain, IDColumn: "m_id",
	}, measurements)
	require.NoError(t, err)

	return store
}

func sourceCfg() config.CorrelateConfig {
	return config.CorrelateConfig{
		Enabled:              true,
		CameraTable:          "traffic_cameras",
		StreetTable:          "streets",
		AccidentTable:        "accidents",
		MeasurementRelation:  "camera_measurements",
		AccidentDateColumn:   "p2a",
		DateFormat:           "2006-01-02",
		MeasurementDayColumn: "day",
		VehicleColumn:        "vehicles",
		SpeedingColumn:       "speeding",
		CameraRadius:         10,
		StreetRadius:         3,
	}
}

func TestStoreSourceReadsTables(t *testing.T) {
	src := NewStoreSource(seedStore(t), sourceCfg(), discardLogger())
	ctx := context.Background()

	cameras, err := src.Cameras(ctx)
	require.NoError(t, err)
	require.Len(t, cameras, 1)
	assert.Equal(t, int64(1), cameras[0].ID)
	assert.Equal(t, r2.Point{X: 1, Y: 1}, cameras[0].Loc)

	streets, err := src.Streets(ctx)
	require.NoError(t, err)
	require.Len(t, streets, 1)
	assert.Equal(t, geom.Polyline{{X: 0, Y: 5}, {X: 10, Y: 5}}, streets[0].Line)

	accidents, err := src.Accidents(ctx)
	require.NoError(t, err)
	require.Len(t, accidents, 2)
	require.NotNil(t, accidents[0].Date)
	assert.Equal(t, "2023-01-10", accidents[0].Date.Format("2006-01-02"))
	assert.Nil(t, accidents[1].Date, "rows without a date stay dateless")

	ms, err := src.Measurements(ctx, cameras[0])
	require.NoError(t, err)
	require.Len(t, ms, 1, "only this camera's measurements")
	assert.Equal(t, 120.0, ms[0].Vehicles)
	assert.Equal(t, 4.0, ms[0].Speeding)
	assert.Equal(t, "2023-01-05", ms[0].Day.Format("2006-01-02"))
}

// The full loop: recompute from a seeded store, write the edits back, and
// read the statistics off the camera row.
func TestRecomputeAgainstStoreAndApply(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()
	cfg := sourceCfg()

	e := New(NewStoreSource(store, cfg, discardLogger()), cfg, discardLogger())
	instr, ok, err := e.Recompute(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.ApplyEdits(ctx, instr))

	rs, err := store.ReadTable(ctx, "traffic_cameras")
	require.NoError(t, err)
	require.Len(t, rs.Records, 1)

	row := rs.Records[0].Fields
	assert.Equal(t, int64(2), row["accident_count"], "the dateless accident still counts")
	assert.Equal(t, int64(1), row["accident_count_after"])
	assert.Equal(t, int64(0), row["accident_count_before"])
	assert.Equal(t, "2023-01-05", row["start_date"])
	assert.Equal(t, "2023-01-05", row["end_date"])
	assert.Equal(t, 120.0, row["thu_density"], "2023-01-05 is a Thursday")
	assert.Equal(t, 4.0, row["thu_speeding"])
	assert.Equal(t, 0.0, row["mon_density"])
}
