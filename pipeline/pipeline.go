// Package pipeline coordinates the sampling and crawl stages end to end:
// load geometry, clip, deduplicate, densify, persist, crawl, export.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/alexwolson/toronto-streetview-count/config"
	"github.com/alexwolson/toronto-streetview-count/geo"
	"github.com/alexwolson/toronto-streetview-count/models"
	"github.com/alexwolson/toronto-streetview-count/roads"
	"github.com/alexwolson/toronto-streetview-count/store"
	"github.com/alexwolson/toronto-streetview-count/streetview"
)

// Pipeline wires geometry, sampling, storage and the crawler together.
type Pipeline struct {
	cfg   *config.Config
	store *store.Store
}

// New builds a pipeline over cfg and an open store.
func New(cfg *config.Config, st *store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st}
}

// PrepareSummary reports what the sampling stage produced.
type PrepareSummary struct {
	SegmentsLoaded   int              `json:"segments_loaded"`
	SegmentsClipped  int              `json:"segments_clipped"`
	SegmentsKept     int              `json:"segments_kept"`
	SamplePoints     int              `json:"sample_points"`
	PointsByRoadType map[string]int64 `json:"points_by_road_type"`
	SpacingMeters    float64          `json:"spacing_meters"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Prepare runs the geometry stages and persists the resulting sample points.
// Any input failure here is fatal: a crawl against a partial sample set would
// silently undercount coverage.
func (p *Pipeline) Prepare(ctx context.Context) (*PrepareSummary, error) {
	proj, err := geo.NewProjection(p.cfg.ProjectionParams())
	if err != nil {
		return nil, err
	}

	boundary, err := roads.LoadBoundary(p.cfg.BoundaryFile(), proj)
	if err != nil {
		return nil, fmt.Errorf("load boundary: %w", err)
	}

	segments, err := roads.LoadCentreline(p.cfg.CentrelineFile(), proj)
	if err != nil {
		return nil, fmt.Errorf("load centreline: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("centreline contains no road segments of the sampled classes")
	}
	slog.Info("centreline loaded", slog.Int("segments", len(segments)))

	inBox := filterByBBox(segments, proj, p.cfg.BBox)
	clipped := roads.ClipToBoundary(inBox, boundary, p.cfg.BoundaryBufferMeters)
	slog.Info("clipped to boundary",
		slog.Int("in_bbox", len(inBox)),
		slog.Int("after_clip", len(clipped)),
	)

	dedup := roads.NewDeduplicator(p.cfg.SimilarityMeters, p.cfg.ContainmentBufferMeters)
	kept := dedup.Dedup(clipped)

	densifier := roads.NewDensifier(proj, p.cfg.SpacingMeters)
	points := densifier.Densify(kept)
	if len(points) == 0 {
		return nil, fmt.Errorf("densification produced no sample points")
	}

	if err := p.store.UpsertSamplePoints(ctx, points); err != nil {
		return nil, err
	}

	distribution, err := p.store.RoadTypeDistribution(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]int64, len(distribution))
	for _, d := range distribution {
		byType[d.RoadType] = d.Count
	}

	summary := &PrepareSummary{
		SegmentsLoaded:   len(segments),
		SegmentsClipped:  len(clipped),
		SegmentsKept:     len(kept),
		SamplePoints:     len(points),
		PointsByRoadType: byType,
		SpacingMeters:    p.cfg.SpacingMeters,
		GeneratedAt:      time.Now().UTC(),
	}
	if err := writeJSONFile(filepath.Join(p.cfg.OutputDir, "sampling_summary.json"), summary); err != nil {
		return nil, err
	}

	slog.Info("sampling complete",
		slog.Int("segments", len(kept)),
		slog.Int("sample_points", len(points)),
		slog.Float64("spacing_m", p.cfg.SpacingMeters),
	)
	return summary, nil
}

// CrawlOptions tunes a crawl run beyond the static config.
type CrawlOptions struct {
	// RetryFailed resets failed points back to pending before crawling.
	RetryFailed bool
	// Metrics receives crawl metrics; nil disables them.
	Metrics *streetview.Metrics
}

// Crawl drains pending sample points through the metadata endpoint and
// writes a crawl summary. Interrupting it is safe: rerunning resumes from
// whatever is still pending.
func (p *Pipeline) Crawl(ctx context.Context, opts CrawlOptions) (models.ProcessingStats, error) {
	if opts.RetryFailed {
		n, err := p.store.ResetFailed(ctx)
		if err != nil {
			return models.ProcessingStats{}, err
		}
		slog.Info("failed points reset", slog.Int64("count", n))
	}

	limiter, err := streetview.NewLimiter(p.cfg.QPS, nil)
	if err != nil {
		return models.ProcessingStats{}, err
	}
	client, err := streetview.NewClient(streetview.ClientOptions{
		BaseURL:            p.cfg.MetadataURL,
		APIKey:             p.cfg.APIKey,
		SearchRadiusMeters: p.cfg.SearchRadiusMeters,
		Timeout:            p.cfg.RequestTimeout,
		DefaultRetryAfter:  p.cfg.DefaultRetryAfter,
		Limiter:            limiter,
		Metrics:            opts.Metrics,
	})
	if err != nil {
		return models.ProcessingStats{}, err
	}
	crawler, err := streetview.NewCrawler(client, p.store, streetview.CrawlerOptions{
		BatchSize:           p.cfg.BatchSize,
		BatchPause:          p.cfg.BatchPause,
		Concurrency:         p.cfg.Concurrency,
		MaxRateLimitRetries: p.cfg.MaxRateLimitRetries,
		Metrics:             opts.Metrics,
	})
	if err != nil {
		return models.ProcessingStats{}, err
	}

	stats, runErr := crawler.Run(ctx)

	if err := writeJSONFile(filepath.Join(p.cfg.OutputDir, "crawl_summary.json"), stats); err != nil && runErr == nil {
		runErr = err
	}
	return stats, runErr
}

// CountSummary is the final deduplicated result with its supporting totals.
type CountSummary struct {
	UniquePanoramas   int64            `json:"unique_panoramas"`
	TotalSamplePoints int64            `json:"total_sample_points"`
	PointsQueried     int64            `json:"points_queried"`
	PointsFailed      int64            `json:"points_failed"`
	TotalRequests     int64            `json:"total_requests"`
	SuccessRate       float64          `json:"success_rate"`
	PointsByRoadType  map[string]int64 `json:"points_by_road_type"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// Summarize aggregates the store into the final count summary and writes
// final_summary.json to the output directory.
func (p *Pipeline) Summarize(ctx context.Context) (*CountSummary, error) {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	distribution, err := p.store.RoadTypeDistribution(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]int64, len(distribution))
	for _, d := range distribution {
		byType[d.RoadType] = d.Count
	}

	summary := &CountSummary{
		UniquePanoramas:   stats.UniquePanoramas,
		TotalSamplePoints: stats.TotalSamplePoints,
		PointsQueried:     stats.PointsQueried,
		PointsFailed:      stats.PointsFailed,
		TotalRequests:     stats.TotalRequests,
		SuccessRate:       stats.SuccessRate(),
		PointsByRoadType:  byType,
		GeneratedAt:       time.Now().UTC(),
	}
	if err := writeJSONFile(filepath.Join(p.cfg.OutputDir, "final_summary.json"), summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Export writes the panorama and sample point tables to the output
// directory in CSV and JSONL form.
func (p *Pipeline) Export(ctx context.Context) error {
	panos, err := p.store.ListPanoramas(ctx)
	if err != nil {
		return err
	}
	if err := WritePanoramaCSV(filepath.Join(p.cfg.OutputDir, "panoramas.csv"), panos); err != nil {
		return err
	}
	if err := WritePanoramaJSONL(filepath.Join(p.cfg.OutputDir, "panoramas.jsonl"), panos); err != nil {
		return err
	}

	results, err := p.store.ListSamplePointResults(ctx)
	if err != nil {
		return err
	}
	if err := WriteSamplePointCSV(filepath.Join(p.cfg.OutputDir, "sample_points.csv"), results); err != nil {
		return err
	}

	slog.Info("exports written",
		slog.Int("panoramas", len(panos)),
		slog.Int("sample_points", len(results)),
		slog.String("dir", p.cfg.OutputDir),
	)
	return nil
}

// filterByBBox keeps segments with at least one vertex inside the box.
func filterByBBox(segments []models.RoadSegment, proj *geo.Projection, box models.BBox) []models.RoadSegment {
	out := segments[:0:0]
	for _, seg := range segments {
		for _, pt := range seg.Points {
			lon, lat := proj.ToGeographic(pt)
			if box.Contains(lon, lat) {
				out = append(out, seg)
				break
			}
		}
	}
	return out
}
