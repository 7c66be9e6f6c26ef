package roads

import (
	"fmt"
	"log/slog"

	"github.com/mitroadmaps/gomapinfer/common"

	"github.com/alexwolson/toronto-streetview-count/geo"
	"github.com/alexwolson/toronto-streetview-count/models"
)

// Deduplicator removes near-duplicate road segments contributed by
// overlapping network sources. Two segments of the same road type are
// duplicates when their Hausdorff distance is below the similarity threshold
// and one geometry lies within a small buffer of the other.
type Deduplicator struct {
	SimilarityMeters float64
	BufferMeters     float64
}

// NewDeduplicator builds a deduplicator with the given thresholds.
func NewDeduplicator(similarityMeters, bufferMeters float64) *Deduplicator {
	return &Deduplicator{
		SimilarityMeters: similarityMeters,
		BufferMeters:     bufferMeters,
	}
}

// Dedup filters segments, preserving input order among survivors. Segments
// are compared only within their road-type group. The pairwise comparison is
// quadratic per group; per-group sizes are bounded by the road network of a
// single municipality, which keeps this tractable without an index.
func (d *Deduplicator) Dedup(segments []models.RoadSegment) []models.RoadSegment {
	type accepted struct {
		points []common.Point
		bounds common.Rectangle
	}

	seen := make(map[string]struct{}, len(segments))
	byType := make(map[string][]accepted)
	var out []models.RoadSegment
	exact, similar := 0, 0

	for _, seg := range segments {
		// Exact-geometry pre-pass.
		key := seg.RoadType + "|" + geometryKey(seg.Points)
		if _, dup := seen[key]; dup {
			exact++
			continue
		}
		seen[key] = struct{}{}

		group := byType[seg.RoadType]
		bounds := geo.Bounds(seg.Points, d.SimilarityMeters)
		dup := false
		for _, acc := range group {
			if !geo.RectanglesIntersect(bounds, acc.bounds) {
				continue
			}
			if geo.HausdorffDistance(seg.Points, acc.points) >= d.SimilarityMeters {
				continue
			}
			if geo.WithinBuffer(seg.Points, acc.points, d.BufferMeters) ||
				geo.WithinBuffer(acc.points, seg.Points, d.BufferMeters) {
				dup = true
				break
			}
		}
		if dup {
			similar++
			continue
		}

		byType[seg.RoadType] = append(group, accepted{points: seg.Points, bounds: bounds})
		out = append(out, seg)
	}

	if exact > 0 || similar > 0 {
		slog.Info("deduplicated road segments",
			slog.Int("exact_duplicates", exact),
			slog.Int("similar_duplicates", similar),
			slog.Int("kept", len(out)),
		)
	}
	return out
}

// geometryKey serializes vertices for the exact-duplicate pre-pass.
func geometryKey(points []common.Point) string {
	key := make([]byte, 0, len(points)*16)
	for _, pt := range points {
		key = fmt.Appendf(key, "%.3f,%.3f;", pt.X, pt.Y)
	}
	return string(key)
}
