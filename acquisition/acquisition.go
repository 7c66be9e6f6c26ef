// Package acquisition downloads the boundary and centreline GeoJSON
// datasets from the Toronto open data portal.
package acquisition

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/alexwolson/toronto-streetview-count/config"
	"github.com/alexwolson/toronto-streetview-count/models"
)

const userAgent = "toronto-streetview-count/1.0"

// ErrBoundaryDownload marks a boundary dataset fetch failure. Callers match
// it with errors.Is to decide whether a bbox fallback boundary applies.
var ErrBoundaryDownload = errors.New("boundary download failed")

// Downloader fetches dataset files, skipping ones already on disk so a
// re-run never re-downloads hundreds of megabytes of centreline data.
type Downloader struct {
	cfg       *config.Config
	collector *colly.Collector
}

// NewDownloader builds a downloader configured from cfg.
func NewDownloader(cfg *config.Config) *Downloader {
	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.MaxBodySize(1<<30),
	)
	collector.SetRequestTimeout(5 * time.Minute)
	return &Downloader{cfg: cfg, collector: collector}
}

// WithTransport swaps the HTTP transport, used by tests.
func (d *Downloader) WithTransport(rt http.RoundTripper) {
	d.collector.WithTransport(rt)
}

// FetchAll downloads the boundary and centreline datasets into the raw data
// directory. Files already present are left untouched.
func (d *Downloader) FetchAll() error {
	if err := d.fetchFile(d.cfg.BoundaryURL, d.cfg.BoundaryFile()); err != nil {
		return fmt.Errorf("%w: %w", ErrBoundaryDownload, err)
	}
	if err := d.fetchFile(d.cfg.CentrelineURL, d.cfg.CentrelineFile()); err != nil {
		return fmt.Errorf("centreline: %w", err)
	}
	return nil
}

func (d *Downloader) fetchFile(url, path string) error {
	if _, err := os.Stat(path); err == nil {
		slog.Info("dataset already present, skipping download", slog.String("path", path))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var body []byte
	var fetchErr error

	c := d.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch %s (status %d): %w", url, status, err)
	})

	slog.Info("downloading dataset", slog.String("url", url))
	if err := c.Visit(url); err != nil {
		return fmt.Errorf("visit %s: %w", url, err)
	}
	c.Wait()

	if fetchErr != nil {
		return fetchErr
	}
	if err := validateFeatureCollection(body); err != nil {
		return fmt.Errorf("validate %s: %w", url, err)
	}

	// Write to a temp name first so an interrupted download never leaves a
	// half-written file that a later run would skip.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	slog.Info("dataset saved", slog.String("path", path), slog.Int("bytes", len(body)))
	return nil
}

func validateFeatureCollection(body []byte) error {
	var probe struct {
		Type     string          `json:"type"`
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if probe.Type != "FeatureCollection" {
		return fmt.Errorf("type is %q, want FeatureCollection", probe.Type)
	}
	if len(probe.Features) == 0 {
		return fmt.Errorf("missing features array")
	}
	return nil
}

// WriteBBoxBoundary writes a rectangular boundary covering the configured
// bounding box. It is a fallback for when the boundary dataset is
// unavailable; clipping against it keeps every road inside the box.
func WriteBBoxBoundary(path string, box models.BBox) error {
	if err := box.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	fc := map[string]any{
		"type": "FeatureCollection",
		"features": []any{
			map[string]any{
				"type":       "Feature",
				"properties": map[string]any{"source": "bbox_fallback"},
				"geometry": map[string]any{
					"type": "Polygon",
					"coordinates": [][][2]float64{{
						{box.MinLon, box.MinLat},
						{box.MaxLon, box.MinLat},
						{box.MaxLon, box.MaxLat},
						{box.MinLon, box.MaxLat},
						{box.MinLon, box.MinLat},
					}},
				},
			},
		},
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal boundary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	slog.Warn("using rectangular bbox fallback boundary", slog.String("path", path))
	return nil
}
