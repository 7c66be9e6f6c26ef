package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexwolson/toronto-streetview-count/geo"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "spacing below minimum",
			mutate: func(cfg *Config) {
				cfg.SpacingMeters = 2
			},
			wantErr: "spacing",
		},
		{
			name: "spacing above maximum",
			mutate: func(cfg *Config) {
				cfg.SpacingMeters = 75
			},
			wantErr: "spacing",
		},
		{
			name: "zero qps",
			mutate: func(cfg *Config) {
				cfg.QPS = 0
			},
			wantErr: "qps",
		},
		{
			name: "qps above cap",
			mutate: func(cfg *Config) {
				cfg.QPS = 500
			},
			wantErr: "qps",
		},
		{
			name: "batch size too small",
			mutate: func(cfg *Config) {
				cfg.BatchSize = 5
			},
			wantErr: "batch size",
		},
		{
			name: "radius out of range",
			mutate: func(cfg *Config) {
				cfg.SearchRadiusMeters = 60000
			},
			wantErr: "search radius",
		},
		{
			name: "inverted bbox",
			mutate: func(cfg *Config) {
				cfg.BBox.MinLon = cfg.BBox.MaxLon + 1
			},
			wantErr: "bbox",
		},
		{
			name: "empty metadata url",
			mutate: func(cfg *Config) {
				cfg.MetadataURL = ""
			},
			wantErr: "metadata URL",
		},
		{
			name: "metadata url without host",
			mutate: func(cfg *Config) {
				cfg.MetadataURL = "http://"
			},
			wantErr: "metadata URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.RequestTimeout = -time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative rate limit retries",
			mutate: func(cfg *Config) {
				cfg.MaxRateLimitRetries = -1
			},
			wantErr: "retries",
		},
		{
			name: "projection with equal parallels",
			mutate: func(cfg *Config) {
				params := geo.OntarioMNRLambert()
				params.StandardParallel2 = params.StandardParallel1
				cfg.Projection = &params
			},
			wantErr: "parallels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFileOverlaysValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "spacing_meters: 25\nqps: 4\nbatch_size: 40\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path, false); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.SpacingMeters != 25 {
		t.Fatalf("spacing = %v, want 25", cfg.SpacingMeters)
	}
	if cfg.QPS != 4 {
		t.Fatalf("qps = %d, want 4", cfg.QPS)
	}
	if cfg.BatchSize != 40 {
		t.Fatalf("batch size = %d, want 40", cfg.BatchSize)
	}
	// Unmentioned keys keep their defaults.
	if cfg.SearchRadiusMeters != 30 {
		t.Fatalf("radius = %d, want default 30", cfg.SearchRadiusMeters)
	}
}

func TestProjectionParamsDefaultAndOverride(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ProjectionParams(); got != geo.OntarioMNRLambert() {
		t.Fatalf("default projection = %+v, want EPSG:3161 parameters", got)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "projection:\n  semi_major_axis: 6378137\n  inverse_flattening: 298.257222101\n" +
		"  standard_parallel_1: 49\n  standard_parallel_2: 77\n  latitude_of_origin: 49\n" +
		"  central_meridian: -95\n  false_easting: 0\n  false_northing: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := cfg.LoadFile(path, false); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Projection == nil || cfg.Projection.CentralMeridian != -95 {
		t.Fatalf("projection override not applied: %+v", cfg.Projection)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("lambert override should validate, got %v", err)
	}
}

func TestLoadFileMissingOptional(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), true); err != nil {
		t.Fatalf("optional missing file should not error, got %v", err)
	}
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Fatalf("required missing file should error")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("STREETVIEW_TEST_INT", "12")
	value, ok, err := EnvInt("STREETVIEW_TEST_INT")
	if err != nil || !ok || value != 12 {
		t.Fatalf("EnvInt = (%d, %v, %v), want (12, true, nil)", value, ok, err)
	}

	t.Setenv("STREETVIEW_TEST_INT", "nope")
	if _, _, err := EnvInt("STREETVIEW_TEST_INT"); err == nil {
		t.Fatalf("expected parse error")
	}

	if _, ok, _ := EnvInt("STREETVIEW_TEST_UNSET"); ok {
		t.Fatalf("unset variable should report ok=false")
	}

	t.Setenv("STREETVIEW_TEST_FLOAT", "7.5")
	f, ok, err := EnvFloat("STREETVIEW_TEST_FLOAT")
	if err != nil || !ok || f != 7.5 {
		t.Fatalf("EnvFloat = (%v, %v, %v), want (7.5, true, nil)", f, ok, err)
	}

	t.Setenv("STREETVIEW_TEST_STR", "hello")
	if s, ok := EnvString("STREETVIEW_TEST_STR"); !ok || s != "hello" {
		t.Fatalf("EnvString = (%q, %v), want (hello, true)", s, ok)
	}
}
