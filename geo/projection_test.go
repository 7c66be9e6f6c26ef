package geo

import (
	"math"
	"testing"

	"github.com/mitroadmaps/gomapinfer/common"
)

func TestProjectionRoundTripSubCentimeter(t *testing.T) {
	proj, err := NewProjection(OntarioMNRLambert())
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}

	// Corners and center of the Toronto bounding box.
	coords := [][2]float64{
		{-79.6393, 43.5810},
		{-79.1156, 43.5810},
		{-79.6393, 43.8555},
		{-79.1156, 43.8555},
		{-79.3832, 43.6532}, // downtown
	}

	for _, c := range coords {
		projected := proj.ToProjected(c[0], c[1])
		lon, lat := proj.ToGeographic(projected)
		back := proj.ToProjected(lon, lat)
		if d := projected.Distance(back); d > 0.01 {
			t.Fatalf("round trip error %v m for (%v, %v), want < 0.01", d, c[0], c[1])
		}
	}
}

func TestProjectionPreservesLocalDistances(t *testing.T) {
	proj, err := NewProjection(OntarioMNRLambert())
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}

	// One degree of latitude is about 111.1 km on the ellipsoid near Toronto.
	a := proj.ToProjected(-79.38, 43.0)
	b := proj.ToProjected(-79.38, 44.0)
	d := a.Distance(b)
	if d < 110000 || d > 112500 {
		t.Fatalf("1 degree of latitude projected to %v m, want ~111100", d)
	}
}

func TestProjectionRejectsBadParams(t *testing.T) {
	params := OntarioMNRLambert()
	params.StandardParallel2 = params.StandardParallel1
	if _, err := NewProjection(params); err == nil {
		t.Fatalf("equal standard parallels should be rejected")
	}

	params = OntarioMNRLambert()
	params.SemiMajorAxis = 0
	if _, err := NewProjection(params); err == nil {
		t.Fatalf("zero semi-major axis should be rejected")
	}
}

func TestHausdorffDistanceKnownFixtures(t *testing.T) {
	a := []common.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}
	b := []common.Point{{X: 0, Y: 3}, {X: 100, Y: 3}}

	if d := HausdorffDistance(a, b); math.Abs(d-3) > 1e-9 {
		t.Fatalf("parallel lines distance = %v, want 3", d)
	}

	// Identical geometry.
	if d := HausdorffDistance(a, a); d != 0 {
		t.Fatalf("self distance = %v, want 0", d)
	}

	// b extends past a: the far endpoint dominates.
	c := []common.Point{{X: 0, Y: 0}, {X: 150, Y: 0}}
	if d := HausdorffDistance(a, c); math.Abs(d-50) > 1e-9 {
		t.Fatalf("extension distance = %v, want 50", d)
	}
}

func TestHausdorffDistanceSymmetric(t *testing.T) {
	a := []common.Point{{X: 0, Y: 0}, {X: 40, Y: 10}, {X: 90, Y: 0}}
	b := []common.Point{{X: 5, Y: 2}, {X: 50, Y: 14}, {X: 88, Y: 1}}

	if d1, d2 := HausdorffDistance(a, b), HausdorffDistance(b, a); d1 != d2 {
		t.Fatalf("Hausdorff not symmetric: %v vs %v", d1, d2)
	}
}

func TestWithinBuffer(t *testing.T) {
	line := []common.Point{{X: 0, Y: 0}, {X: 100, Y: 0}}
	near := []common.Point{{X: 10, Y: 1}, {X: 90, Y: -1}}
	far := []common.Point{{X: 10, Y: 1}, {X: 90, Y: 5}}

	if !WithinBuffer(near, line, 2) {
		t.Fatalf("near polyline should be within 2 m buffer")
	}
	if WithinBuffer(far, line, 2) {
		t.Fatalf("far polyline should not be within 2 m buffer")
	}
}

func TestBoundsPrefilter(t *testing.T) {
	a := Bounds([]common.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}, 1)
	b := Bounds([]common.Point{{X: 12, Y: 12}, {X: 20, Y: 20}}, 1)
	c := Bounds([]common.Point{{X: 50, Y: 50}, {X: 60, Y: 60}}, 1)

	if !RectanglesIntersect(a, b) {
		t.Fatalf("padded rectangles should intersect")
	}
	if RectanglesIntersect(a, c) {
		t.Fatalf("distant rectangles should not intersect")
	}
}
