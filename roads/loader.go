// Package roads turns boundary and centreline datasets into deduplicated,
// clipped road segments and densified sample points.
package roads

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/mitroadmaps/gomapinfer/common"

	"github.com/alexwolson/toronto-streetview-count/geo"
	"github.com/alexwolson/toronto-streetview-count/models"
)

// Road classes recognized in the centreline feature codes. Everything else
// (trails, rivers, rail, hydro corridors) is skipped before densification.
var roadClasses = map[string]string{
	"major arterial": "Major Arterial",
	"minor arterial": "Minor Arterial",
	"collector":      "Collector",
	"local":          "Local",
}

// Boundary is a municipal boundary polygon in projected coordinates.
type Boundary struct {
	rings [][]common.Point
}

// LoadBoundary reads a boundary GeoJSON file and projects its rings.
func LoadBoundary(path string, proj *geo.Projection) (*Boundary, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return nil, err
	}

	var rings [][]common.Point
	for _, f := range fc.Features {
		lonLatRings, err := f.Geometry.polygonRings()
		if err != nil {
			return nil, fmt.Errorf("boundary feature: %w", err)
		}
		for _, ring := range lonLatRings {
			if len(ring) < 4 {
				continue
			}
			rings = append(rings, proj.ProjectSegment(ring))
		}
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("boundary %s contains no polygon rings", path)
	}
	return &Boundary{rings: rings}, nil
}

// Contains reports whether the projected point lies inside the boundary,
// using even-odd ray casting across all rings so holes are respected.
func (b *Boundary) Contains(pt common.Point) bool {
	inside := false
	for _, ring := range b.rings {
		for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
			a, c := ring[i], ring[j]
			if (a.Y > pt.Y) != (c.Y > pt.Y) &&
				pt.X < (c.X-a.X)*(pt.Y-a.Y)/(c.Y-a.Y)+a.X {
				inside = !inside
			}
		}
	}
	return inside
}

// DistanceToEdge returns the distance from a point to the nearest boundary
// ring edge.
func (b *Boundary) DistanceToEdge(pt common.Point) float64 {
	best := math.Inf(1)
	for _, ring := range b.rings {
		if d := geo.PointToPolyline(pt, ring); d < best {
			best = d
		}
	}
	return best
}

// ContainsBuffered reports whether the point is inside the boundary or within
// buffer meters of its edge. This matches clipping roads against a boundary
// buffered outward to retain edge segments.
func (b *Boundary) ContainsBuffered(pt common.Point, buffer float64) bool {
	if b.Contains(pt) {
		return true
	}
	return b.DistanceToEdge(pt) <= buffer
}

// LoadCentreline reads road centreline features, filters them to recognized
// road classes, and projects the geometry. Feature ordering in the file is
// preserved so downstream ID assignment is deterministic.
func LoadCentreline(path string, proj *geo.Projection) ([]models.RoadSegment, error) {
	fc, err := readFeatureCollection(path)
	if err != nil {
		return nil, err
	}

	var segments []models.RoadSegment
	skipped := 0
	for idx, f := range fc.Features {
		class := stringProperty(f.Properties, "feature_code", "FEATURE_CODE_DESC", "ROADCLASS")
		roadType, ok := roadClasses[strings.ToLower(strings.TrimSpace(class))]
		if !ok {
			skipped++
			continue
		}

		sourceID := stringProperty(f.Properties, "centreline_id", "CENTRELINE_ID", "id")
		if sourceID == "" {
			sourceID = fmt.Sprintf("tcl_%d", idx)
		}

		lines, err := f.Geometry.lineStrings()
		if err != nil {
			slog.Warn("skipping feature with invalid geometry",
				slog.String("source_id", sourceID),
				slog.Any("error", err),
			)
			continue
		}
		for _, line := range lines {
			if len(line) < 2 {
				continue
			}
			segments = append(segments, models.RoadSegment{
				SourceID: sourceID,
				RoadType: roadType,
				Points:   proj.ProjectSegment(line),
			})
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("centreline %s contains no road segments", path)
	}
	slog.Info("loaded centreline",
		slog.Int("segments", len(segments)),
		slog.Int("skipped_non_road", skipped),
	)
	return segments, nil
}

// ClipToBoundary keeps the parts of each segment inside the boundary buffered
// by buffer meters. A segment crossing the boundary is split into the runs of
// consecutive vertices that fall inside; runs shorter than two vertices are
// dropped.
func ClipToBoundary(segments []models.RoadSegment, boundary *Boundary, buffer float64) []models.RoadSegment {
	var clipped []models.RoadSegment
	for _, seg := range segments {
		var run []common.Point
		flush := func() {
			if len(run) >= 2 {
				clipped = append(clipped, models.RoadSegment{
					SourceID: seg.SourceID,
					RoadType: seg.RoadType,
					Points:   run,
				})
			}
			run = nil
		}
		for _, pt := range seg.Points {
			if boundary.ContainsBuffered(pt, buffer) {
				run = append(run, pt)
			} else {
				flush()
			}
		}
		flush()
	}
	return clipped
}
