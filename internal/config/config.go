// Package config loads the pipeline definition from a JSON file and merges
// operational settings from environment variables. Validation is fail-fast:
// a bad definition never reaches the orchestrator.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Config is the full pipeline definition plus operational settings.
type Config struct {
	DataFolder string `json:"data_folder"`
	CacheDir   string `json:"cache_dir"`

	Logs          LogsConfig           `json:"logs"`
	PolygonFilter *PolygonFilterConfig `json:"polygon_filter"`

	Loaders   map[string]LoaderConfig  `json:"loaders"`
	DataFiles map[string]*DataFileSpec `json:"data_files"`
	Scrapers  []ScraperConfig          `json:"scrapers"`
	APIs      []APIConfig              `json:"apis"`
	Correlate CorrelateConfig          `json:"correlate"`

	// Environment-sourced operational settings.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaEnabled    bool
}

// LogsConfig selects log destination and verbosity. Level and Format may be
// overridden by LOG_LEVEL / LOG_FORMAT.
type LogsConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// PolygonFilterConfig locates the region polygon used by geofilters. Source
// is "geojson" (Path + feature lookup) or "gdb" (Table in the geodatabase
// at Path).
type PolygonFilterConfig struct {
	Source   string `json:"source"`
	Path     string `json:"path"`
	Table    string `json:"table"`
	IDColumn string `json:"id_column"`
	TargetID string `json:"target_id"`
	CRS      int    `json:"crs"`

	// ValidateAxisOrder enables the x>y sanity check with swap recovery,
	// applicable to CRS whose easting always exceeds the northing.
	ValidateAxisOrder bool `json:"validate_axis_order"`
}

// DataFileSpec describes how to parse and route one source file, keyed in
// Config.DataFiles by the file's base name without extension.
type DataFileSpec struct {
	Extractor string `json:"extractor"`
	GeoFilter string `json:"geofilter"`
	Loader    string `json:"loader"`

	// FileOrder ranks non-coordinate members within a group. Coordinate-
	// bearing members always sort first regardless of this value.
	FileOrder int `json:"file_order"`

	Encoding  string   `json:"encoding"`
	Delimiter string   `json:"delimiter"`
	Decimal   string   `json:"decimal"`
	Columns   []string `json:"columns"`

	// Coordinates maps column name to axis ("x" or "y"). Present only on
	// the group's coordinate-bearing member.
	Coordinates map[string]string `json:"coordinates"`
	CRS         int               `json:"crs"`

	IDColumn      string            `json:"id_column"`
	DateConfig    *DateConfig       `json:"date_config"`
	RenameColumns map[string]string `json:"rename_columns"`
	DropColumns   []string          `json:"drop_columns"`
}

// DateConfig rewrites date columns from the source layout to the output
// layout during extraction.
type DateConfig struct {
	Columns   []string `json:"columns"`
	InFormat  string   `json:"in_format"`
	OutFormat string   `json:"out_format"`
}

// LoaderConfig configures one named loader backend instance.
type LoaderConfig struct {
	Backend string                `json:"backend"` // registry strategy name
	Path    string                `json:"path"`
	CRS     int                   `json:"crs"`
	Exports map[string]ExportSpec `json:"exports"`
}

// ExportSpec names the destination for one data-file key within a loader.
type ExportSpec struct {
	Dataset  string        `json:"dataset"`
	Name     string        `json:"name"`
	Type     string        `json:"type"` // "feature" or "table"
	Filename string        `json:"filename"`
	Relation *RelationSpec `json:"relation"`
}

// RelationSpec declares a relationship the loader registers when the export
// is stored.
type RelationSpec struct {
	Name      string `json:"name"`
	Origin    string `json:"origin"`
	Dest      string `json:"dest"`
	OriginKey string `json:"origin_key"`
	DestKey   string `json:"dest_key"`
}

// ScraperConfig configures one upstream file collector.
type ScraperConfig struct {
	Scraper       string `json:"scraper"`
	TargetURL     string `json:"target_url"`
	ExtractFolder string `json:"extract_folder"`
}

// APIConfig configures one remote feature-service ingestion. Empty extractor
// or loader names mean the entry is skipped with a warning.
type APIConfig struct {
	URL               string     `json:"url"`
	APIExtractor      string     `json:"api_extractor"`
	APILoader         string     `json:"api_loader"`
	Loader            string     `json:"loader"`
	Export            ExportSpec `json:"export"`
	IDColumn          string     `json:"id_column"`
	CRS               int        `json:"crs"`
	ResultRecordCount int        `json:"result_record_count"`
	DropColumns       []string   `json:"drop_columns"`
}

// CorrelateConfig configures the per-camera correlation engine.
type CorrelateConfig struct {
	Enabled bool   `json:"enabled"`
	Loader  string `json:"loader"` // geodatabase loader holding the tables

	CameraTable   string `json:"camera_table"`
	StreetTable   string `json:"street_table"`
	AccidentTable string `json:"accident_table"`

	MeasurementRelation string `json:"measurement_relation"`

	AccidentDateColumn string `json:"accident_date_column"`
	DateFormat         string `json:"date_format"`

	MeasurementDayColumn string `json:"measurement_day_column"`
	VehicleColumn        string `json:"vehicle_column"`
	SpeedingColumn       string `json:"speeding_column"`

	CameraRadius float64 `json:"camera_radius"`
	StreetRadius float64 `json:"street_radius"`
}

// Load reads the pipeline definition at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = ".cache"
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.Format == "" {
		c.Logs.Format = "json"
	}
	if c.Correlate.DateFormat == "" {
		c.Correlate.DateFormat = "2006-01-02"
	}
	if c.Correlate.CameraRadius == 0 {
		c.Correlate.CameraRadius = 10
	}
	if c.Correlate.StreetRadius == 0 {
		c.Correlate.StreetRadius = 3
	}
	for i := range c.APIs {
		if c.APIs[i].ResultRecordCount == 0 {
			c.APIs[i].ResultRecordCount = 1000
		}
	}
}

func (c *Config) applyEnv() error {
	shutdownTimeout, err := parseShutdownTimeout()
	if err != nil {
		return err
	}

	c.HTTPAddr = envOrDefault("HTTP_ADDR", ":8080")
	c.LogLevel = envOrDefault("LOG_LEVEL", c.Logs.Level)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.Logs.Format)
	c.ShutdownTimeout = shutdownTimeout

	c.KafkaBrokers = parseBrokers(envOrDefault("KAFKA_BROKERS", ""))
	c.KafkaTopic = envOrDefault("KAFKA_TOPIC", "table-changes")
	c.KafkaEnabled = len(c.KafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		c.KafkaEnabled = v == "true"
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	return nil
}

// Validate checks the pipeline definition for structural errors.
func (c *Config) Validate() error {
	if c.DataFolder == "" {
		return errors.New("data_folder is required")
	}
	if len(c.DataFiles) == 0 {
		return errors.New("at least one data_files entry is required")
	}

	needsPolygon := false
	for key, spec := range c.DataFiles {
		if spec == nil {
			return fmt.Errorf("data_files[%s]: empty spec", key)
		}
		if spec.Extractor == "" {
			return fmt.Errorf("data_files[%s]: extractor is required", key)
		}
		if spec.IDColumn == "" {
			return fmt.Errorf("data_files[%s]: id_column is required", key)
		}
		if spec.Loader == "" {
			return fmt.Errorf("data_files[%s]: loader is required", key)
		}
		if _, ok := c.Loaders[spec.Loader]; !ok {
			return fmt.Errorf("data_files[%s]: loader %q is not configured", key, spec.Loader)
		}
		for col, axis := range spec.Coordinates {
			if axis != "x" && axis != "y" {
				return fmt.Errorf("data_files[%s]: coordinate column %q maps to %q, want x or y", key, col, axis)
			}
		}
		if spec.GeoFilter != "" {
			needsPolygon = true
		}
	}

	if needsPolygon && c.PolygonFilter == nil {
		return fmt.Errorf("%w: data_files declare geofilters but polygon_filter is not set", errMissingPolygonConfig)
	}
	if c.PolygonFilter != nil {
		pf := c.PolygonFilter
		switch pf.Source {
		case "geojson":
			if pf.Path == "" {
				return errors.New("polygon_filter: path is required for geojson source")
			}
		case "gdb":
			if pf.Path == "" || pf.Table == "" {
				return errors.New("polygon_filter: path and table are required for gdb source")
			}
		default:
			return fmt.Errorf("polygon_filter: unknown source %q", pf.Source)
		}
		if pf.IDColumn == "" || pf.TargetID == "" {
			return errors.New("polygon_filter: id_column and target_id are required")
		}
	}

	for name, lc := range c.Loaders {
		if lc.Backend == "" {
			return fmt.Errorf("loaders[%s]: backend is required", name)
		}
		if lc.Path == "" {
			return fmt.Errorf("loaders[%s]: path is required", name)
		}
	}

	for i, api := range c.APIs {
		if api.URL == "" {
			return fmt.Errorf("apis[%d]: url is required", i)
		}
		if api.APILoader != "" {
			if _, ok := c.Loaders[api.Loader]; !ok {
				return fmt.Errorf("apis[%d]: loader %q is not configured", i, api.Loader)
			}
		}
	}

	if c.Correlate.Enabled {
		cr := c.Correlate
		if _, ok := c.Loaders[cr.Loader]; !ok {
			return fmt.Errorf("correlate: loader %q is not configured", cr.Loader)
		}
		if cr.CameraTable == "" || cr.StreetTable == "" || cr.AccidentTable == "" {
			return errors.New("correlate: camera_table, street_table and accident_table are required")
		}
		if cr.MeasurementRelation == "" {
			return errors.New("correlate: measurement_relation is required")
		}
		if cr.AccidentDateColumn == "" {
			return errors.New("correlate: accident_date_column is required")
		}
		if cr.MeasurementDayColumn == "" || cr.VehicleColumn == "" || cr.SpeedingColumn == "" {
			return errors.New("correlate: measurement_day_column, vehicle_column and speeding_column are required")
		}
	}

	return nil
}

var errMissingPolygonConfig = errors.New("polygon_filter is required")
