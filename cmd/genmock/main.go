// Command genmock generates a self-contained mock workspace for local runs
// and demos: yearly source file groups, a region polygon, and a pipeline
// definition wired to them. Generation is deterministic, so regenerating
// produces byte-identical fixtures.
//
// Usage:
//
//	go run ./cmd/genmock -out ./mockdata -years 3 -records 200
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/trafficgeo/accident-etl/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for the mock workspace")
	years := flag.Int("years", 3, "number of yearly source file groups")
	records := flag.Int("records", 200, "accident records per year")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	// Fix the clock so generated dates never drift between runs.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewSource(42))
	baseYear := domain.Now().Year() - *years

	for y := 0; y < *years; y++ {
		year := baseYear + y
		dir := filepath.Join(*out, "data", fmt.Sprintf("%d", year))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := writeAccidents(dir, year, *records, rng); err != nil {
			return err
		}
		if err := writeVehicles(dir, year, *records, rng); err != nil {
			return err
		}
		log.Printf("%d: %d records", year, *records)
	}

	if err := writeRegion(*out); err != nil {
		return err
	}
	if err := writeDefinition(*out); err != nil {
		return err
	}

	log.Printf("mock workspace ready: %s", *out)
	log.Printf("run: go run ./cmd/etl -config %s", filepath.Join(*out, "config.json"))
	return nil
}

// The region is a 1000x1000 square; roughly a fifth of the generated points
// fall outside it so the geofilter always has something to drop.
const regionSize = 1000.0

func writeAccidents(dir string, year, records int, rng *rand.Rand) error {
	var b strings.Builder
	b.WriteString("p1;d;e;p2a;p13a;p13b\n")
	for i := 0; i < records; i++ {
		id := int64(year)*1000000 + int64(i)
		x := rng.Float64() * regionSize * 1.25
		y := rng.Float64() * regionSize * 1.25
		date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, rng.Intn(365))
		fmt.Fprintf(&b, "%d;%.1f;%.1f;%s;%d;%d\n",
			id, x, y, date.Format("2006-01-02"), rng.Intn(2), rng.Intn(3))
	}
	return os.WriteFile(filepath.Join(dir, "accidents.csv"), []byte(b.String()), 0o600)
}

func writeVehicles(dir string, year, records int, rng *rand.Rand) error {
	var b strings.Builder
	b.WriteString("p1;p44;p45a\n")
	for i := 0; i < records; i++ {
		id := int64(year)*1000000 + int64(i)
		fmt.Fprintf(&b, "%d;%d;%d\n", id, rng.Intn(18), 1+rng.Intn(60))
	}
	return os.WriteFile(filepath.Join(dir, "vehicles.csv"), []byte(b.String()), 0o600)
}

func writeRegion(out string) error {
	region := map[string]any{
		"type": "FeatureCollection",
		"features": []any{map[string]any{
			"type":       "Feature",
			"properties": map[string]any{"name": "mock-district"},
			"geometry": map[string]any{
				"type": "Polygon",
				"coordinates": [][][2]float64{{
					{0, 0}, {regionSize, 0}, {regionSize, regionSize}, {0, regionSize}, {0, 0},
				}},
			},
		}},
	}
	return writeJSON(filepath.Join(out, "region.geojson"), region)
}

func writeDefinition(out string) error {
	cfg := map[string]any{
		"data_folder": filepath.Join(out, "data"),
		"cache_dir":   filepath.Join(out, ".cache"),
		"polygon_filter": map[string]any{
			"source":    "geojson",
			"path":      filepath.Join(out, "region.geojson"),
			"id_column": "name",
			"target_id": "mock-district",
			"crs":       5514,
		},
		"loaders": map[string]any{
			"gdb": map[string]any{
				"backend": "gdb",
				"path":    filepath.Join(out, "out", "accidents.db"),
				"exports": map[string]any{
					"accidents": map[string]any{
						"dataset": "traffic", "name": "accidents", "type": "feature",
					},
				},
			},
		},
		"data_files": map[string]any{
			"accidents": map[string]any{
				"extractor": "csv",
				"geofilter": "point",
				"loader":    "gdb",
				"delimiter": ";",
				"id_column": "p1",
				"coordinates": map[string]any{
					"d": "x", "e": "y",
				},
			},
			"vehicles": map[string]any{
				"extractor":  "csv",
				"loader":     "gdb",
				"delimiter":  ";",
				"id_column":  "p1",
				"file_order": 1,
				"rename_columns": map[string]any{
					"p44": "vehicle_type", "p45a": "vehicle_brand",
				},
			},
		},
	}
	return writeJSON(filepath.Join(out, "config.json"), cfg)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
