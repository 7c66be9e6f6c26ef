package geo

import (
	"math"

	"github.com/mitroadmaps/gomapinfer/common"
)

// PointToPolyline returns the distance from pt to the nearest segment of the
// polyline. A single-vertex polyline degenerates to point distance.
func PointToPolyline(pt common.Point, line []common.Point) float64 {
	if len(line) == 0 {
		return math.Inf(1)
	}
	if len(line) == 1 {
		return pt.Distance(line[0])
	}

	best := math.Inf(1)
	for i := 0; i+1 < len(line); i++ {
		segment := common.Segment{Start: line[i], End: line[i+1]}
		if d := segment.Distance(pt); d < best {
			best = d
		}
	}
	return best
}

// directedHausdorff returns the greatest distance from a vertex of a to the
// polyline b. Vertices are a sufficient sample for road centrelines: the
// extremal point of one polyline against another straight-ish polyline lies
// at a vertex.
func directedHausdorff(a, b []common.Point) float64 {
	worst := 0.0
	for _, pt := range a {
		if d := PointToPolyline(pt, b); d > worst {
			worst = d
		}
	}
	return worst
}

// HausdorffDistance returns the symmetric Hausdorff distance between two
// polylines in projected coordinates.
func HausdorffDistance(a, b []common.Point) float64 {
	return math.Max(directedHausdorff(a, b), directedHausdorff(b, a))
}

// WithinBuffer reports whether every vertex of a lies within buffer meters of
// the polyline b, i.e. whether a is contained in b's buffer.
func WithinBuffer(a, b []common.Point, buffer float64) bool {
	for _, pt := range a {
		if PointToPolyline(pt, b) > buffer {
			return false
		}
	}
	return true
}

// Bounds returns the axis-aligned bounding rectangle of a polyline, expanded
// by pad meters on every side.
func Bounds(line []common.Point, pad float64) common.Rectangle {
	rect := common.EmptyRectangle
	for _, pt := range line {
		rect = rect.Extend(pt)
	}
	rect.Min.X -= pad
	rect.Min.Y -= pad
	rect.Max.X += pad
	rect.Max.Y += pad
	return rect
}

// RectanglesIntersect reports whether two rectangles overlap. Used as a cheap
// prefilter before the quadratic Hausdorff comparison.
func RectanglesIntersect(a, b common.Rectangle) bool {
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X &&
		a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y
}
