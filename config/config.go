// Package config holds pipeline configuration and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexwolson/toronto-streetview-count/geo"
	"github.com/alexwolson/toronto-streetview-count/models"
)

// Bounds for user-tunable values. Values outside these ranges are rejected by
// Validate, matching the limits the metadata endpoint tolerates.
const (
	MinSpacingMeters = 5.0
	MaxSpacingMeters = 50.0

	MinSearchRadiusMeters = 1
	MaxSearchRadiusMeters = 50000

	MinQPS = 1
	MaxQPS = 100

	MinBatchSize = 10
	MaxBatchSize = 1000
)

// Config collects every tunable of the sampling and crawl pipeline.
type Config struct {
	// Directories and file handoff.
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`

	// Dataset download.
	BoundaryURL   string `yaml:"boundary_url"`
	CentrelineURL string `yaml:"centreline_url"`

	// Sampling.
	BBox                 models.BBox `yaml:"bbox"`
	SpacingMeters        float64     `yaml:"spacing_meters"`
	BoundaryBufferMeters float64     `yaml:"boundary_buffer_meters"`

	// Projection overrides the default EPSG:3161 Lambert parameters, for
	// runs outside Ontario. Nil keeps the default.
	Projection *geo.LambertParams `yaml:"projection"`

	// Road deduplication.
	SimilarityMeters        float64 `yaml:"similarity_meters"`
	ContainmentBufferMeters float64 `yaml:"containment_buffer_meters"`

	// Crawl.
	MetadataURL         string        `yaml:"metadata_url"`
	APIKey              string        `yaml:"-"`
	SearchRadiusMeters  int           `yaml:"search_radius_meters"`
	QPS                 int           `yaml:"qps"`
	Concurrency         int           `yaml:"concurrency"`
	BatchSize           int           `yaml:"batch_size"`
	BatchPause          time.Duration `yaml:"batch_pause"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries"`
	DefaultRetryAfter   time.Duration `yaml:"default_retry_after"`

	// Observability.
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns the defaults used for a full Toronto run.
func DefaultConfig() *Config {
	return &Config{
		DataDir:                 "data",
		OutputDir:               "data/outputs",
		BoundaryURL:             "https://opendata.arcgis.com/datasets/7beabe78f1174c12a46e291dd3a1f307_0.geojson",
		CentrelineURL:           "https://opendata.arcgis.com/datasets/4f6e6215d4e34d6b97b1d8f6e8e4b6f2_0.geojson",
		BBox:                    models.TorontoBBox,
		SpacingMeters:           10,
		BoundaryBufferMeters:    50,
		SimilarityMeters:        5,
		ContainmentBufferMeters: 2,
		MetadataURL:             "https://maps.googleapis.com/maps/api/streetview/metadata",
		SearchRadiusMeters:      30,
		QPS:                     10,
		Concurrency:             10,
		BatchSize:               100,
		BatchPause:              100 * time.Millisecond,
		RequestTimeout:          30 * time.Second,
		MaxRateLimitRetries:     3,
		DefaultRetryAfter:       60 * time.Second,
	}
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "streetview.db")
}

// RawDir returns the directory holding downloaded datasets.
func (c *Config) RawDir() string {
	return filepath.Join(c.DataDir, "raw")
}

// BoundaryFile returns the on-disk boundary GeoJSON path.
func (c *Config) BoundaryFile() string {
	return filepath.Join(c.RawDir(), "toronto_boundary.geojson")
}

// CentrelineFile returns the on-disk road centreline GeoJSON path.
func (c *Config) CentrelineFile() string {
	return filepath.Join(c.RawDir(), "toronto_centreline.geojson")
}

// ProjectionParams returns the configured Lambert parameters, falling back
// to EPSG:3161.
func (c *Config) ProjectionParams() geo.LambertParams {
	if c.Projection != nil {
		return *c.Projection
	}
	return geo.OntarioMNRLambert()
}

// Validate ensures all configuration values are coherent and within bounds.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}
	if err := c.BBox.Validate(); err != nil {
		return err
	}
	if c.SpacingMeters < MinSpacingMeters || c.SpacingMeters > MaxSpacingMeters {
		return fmt.Errorf("spacing must be between %v and %v meters, got %v",
			MinSpacingMeters, MaxSpacingMeters, c.SpacingMeters)
	}
	if c.BoundaryBufferMeters < 0 {
		return fmt.Errorf("boundary buffer cannot be negative")
	}
	if c.Projection != nil {
		if _, err := geo.NewProjection(*c.Projection); err != nil {
			return err
		}
	}
	if c.SimilarityMeters <= 0 {
		return fmt.Errorf("similarity threshold must be positive")
	}
	if c.ContainmentBufferMeters <= 0 {
		return fmt.Errorf("containment buffer must be positive")
	}
	if c.MetadataURL == "" {
		return fmt.Errorf("metadata URL cannot be empty")
	}
	parsed, err := url.Parse(c.MetadataURL)
	if err != nil {
		return fmt.Errorf("invalid metadata URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("metadata URL must include a host")
	}
	if c.SearchRadiusMeters < MinSearchRadiusMeters || c.SearchRadiusMeters > MaxSearchRadiusMeters {
		return fmt.Errorf("search radius must be between %d and %d meters, got %d",
			MinSearchRadiusMeters, MaxSearchRadiusMeters, c.SearchRadiusMeters)
	}
	if c.QPS < MinQPS || c.QPS > MaxQPS {
		return fmt.Errorf("qps must be between %d and %d, got %d", MinQPS, MaxQPS, c.QPS)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch size must be between %d and %d, got %d",
			MinBatchSize, MaxBatchSize, c.BatchSize)
	}
	if c.BatchPause < 0 {
		return fmt.Errorf("batch pause cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.MaxRateLimitRetries < 0 {
		return fmt.Errorf("max rate limit retries cannot be negative")
	}
	if c.DefaultRetryAfter <= 0 {
		return fmt.Errorf("default retry-after must be positive")
	}
	return nil
}

// LoadFile overlays values from a YAML file onto the config. A missing file
// is not an error when optional is true.
func (c *Config) LoadFile(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// EnvInt reads an integer environment variable. The second return reports
// whether the variable was set.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}

// EnvFloat reads a float environment variable.
func EnvFloat(name string) (float64, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}

// EnvString reads a string environment variable.
func EnvString(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
