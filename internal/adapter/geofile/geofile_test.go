package geofile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	return New(dir, 5514, slog.New(slog.DiscardHandler)), dir
}

func sampleSet() domain.RecordSet {
	rs := domain.NewRecordSet("p1", "x", "y", "note")
	rs.Append(domain.Record{
		Fields: map[string]domain.Value{"p1": int64(1), "x": 5.0, "y": 2.5, "note": "mokro"},
		Shape:  geom.PointShape(5, 2.5),
	})
	rs.Append(domain.Record{
		Fields: map[string]domain.Value{"p1": int64(2), "x": 6.0, "y": 3.0, "note": nil},
		Shape:  geom.PointShape(6, 3),
	})
	return rs
}

func TestLoadWritesFeatureCollection(t *testing.T) {
	s, dir := newStore(t)
	dest := domain.TableSpec{Name: "accidents", Kind: domain.TableFeature, IDColumn: "p1"}

	res, err := s.Load(context.Background(), dest, sampleSet())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	raw, err := os.ReadFile(filepath.Join(dir, "accidents.geojson"))
	require.NoError(t, err)

	doc := string(raw)
	assert.Contains(t, doc, `"type":"FeatureCollection"`)
	assert.Contains(t, doc, `"EPSG:5514"`)
	assert.Contains(t, doc, `{"type":"Point","coordinates":[5,2.5]}`)
	// Properties keep the record set's column order.
	assert.Less(t, strings.Index(doc, `"p1":1`), strings.Index(doc, `"note":"mokro"`))
}

func TestLoadByteStable(t *testing.T) {
	s, dir := newStore(t)
	dest := domain.TableSpec{Name: "accidents", IDColumn: "p1"}

	_, err := s.Load(context.Background(), dest, sampleSet())
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, "accidents.geojson"))
	require.NoError(t, err)

	_, err = s.Load(context.Background(), dest, sampleSet())
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, "accidents.geojson"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoadReplacesWholeFile(t *testing.T) {
	s, _ := newStore(t)
	dest := domain.TableSpec{Name: "accidents", IDColumn: "p1"}
	ctx := context.Background()

	_, err := s.Load(ctx, dest, sampleSet())
	require.NoError(t, err)

	smaller := domain.NewRecordSet("p1")
	smaller.Append(domain.Record{Fields: map[string]domain.Value{"p1": int64(9)}})
	_, err = s.Load(ctx, dest, smaller)
	require.NoError(t, err)

	got, err := s.Read(dest)
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	assert.Equal(t, int64(9), got.Records[0].Fields["p1"])
}

func TestLoadCustomFilename(t *testing.T) {
	s, dir := newStore(t)
	dest := domain.TableSpec{Name: "accidents", Filename: "nehody.geojson", IDColumn: "p1"}

	_, err := s.Load(context.Background(), dest, sampleSet())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "nehody.geojson"))
	require.NoError(t, err)
}

func TestReadRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	dest := domain.TableSpec{Name: "accidents", IDColumn: "p1"}

	_, err := s.Load(context.Background(), dest, sampleSet())
	require.NoError(t, err)

	got, err := s.Read(dest)
	require.NoError(t, err)
	require.Len(t, got.Records, 2)
	assert.Equal(t, int64(1), got.Records[0].Fields["p1"])
	assert.Equal(t, "mokro", got.Records[0].Fields["note"])
	require.NotNil(t, got.Records[1].Shape)
	assert.Equal(t, 6.0, got.Records[1].Shape.Point.X)
}

func TestLoadLineGeometry(t *testing.T) {
	s, dir := newStore(t)
	dest := domain.TableSpec{Name: "streets", IDColumn: "street_id"}

	rs := domain.NewRecordSet("street_id")
	rs.Append(domain.Record{
		Fields: map[string]domain.Value{"street_id": int64(1)},
		Shape:  geom.LineShape([]r2.Point{{X: 0, Y: 0}, {X: 10, Y: 0}}),
	})

	_, err := s.Load(context.Background(), dest, rs)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "streets.geojson"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `{"type":"LineString","coordinates":[[0,0],[10,0]]}`)
}
