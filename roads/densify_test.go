package roads

import (
	"math"
	"testing"

	"github.com/mitroadmaps/gomapinfer/common"

	"github.com/alexwolson/toronto-streetview-count/geo"
	"github.com/alexwolson/toronto-streetview-count/models"
)

func newTestProjection(t *testing.T) *geo.Projection {
	t.Helper()
	proj, err := geo.NewProjection(geo.OntarioMNRLambert())
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}
	return proj
}

// straightSegment builds a projected east-west segment of the given length
// anchored near downtown Toronto.
func straightSegment(t *testing.T, proj *geo.Projection, length float64) models.RoadSegment {
	t.Helper()
	origin := proj.ToProjected(-79.3832, 43.6532)
	return models.RoadSegment{
		SourceID: "seg-1",
		RoadType: "Local",
		Points: []common.Point{
			origin,
			{X: origin.X + length, Y: origin.Y},
		},
	}
}

func TestDensifyShortSegmentEmitsEndpointsOnly(t *testing.T) {
	proj := newTestProjection(t)
	d := NewDensifier(proj, 10)

	for _, length := range []float64{1, 5, 9.999, 10} {
		seg := straightSegment(t, proj, length)
		points := d.Densify([]models.RoadSegment{seg})
		if len(points) != 2 {
			t.Fatalf("length %v: got %d points, want 2 endpoints", length, len(points))
		}
	}
}

func TestDensifyCountMatchesFloorFormula(t *testing.T) {
	proj := newTestProjection(t)
	spacing := 10.0
	d := NewDensifier(proj, spacing)

	for _, length := range []float64{10.5, 25, 99.9, 347} {
		seg := straightSegment(t, proj, length)
		points := d.Densify([]models.RoadSegment{seg})
		want := int(length/spacing) + 2
		if len(points) != want {
			t.Fatalf("length %v: got %d points, want %d", length, len(points), want)
		}
	}
}

func TestDensifyPointsEvenlySpacedAndOnSegment(t *testing.T) {
	proj := newTestProjection(t)
	d := NewDensifier(proj, 10)

	seg := straightSegment(t, proj, 99.9)
	points := d.Densify([]models.RoadSegment{seg})
	if len(points) != 11 {
		t.Fatalf("got %d points, want 11", len(points))
	}

	// Reproject and check spacing uniformity plus exact endpoint recovery.
	projected := make([]common.Point, len(points))
	for i, p := range points {
		projected[i] = proj.ToProjected(p.Lon, p.Lat)
	}

	if d := projected[0].Distance(seg.Points[0]); d > 0.01 {
		t.Fatalf("start endpoint off by %v m", d)
	}
	if d := projected[len(projected)-1].Distance(seg.Points[1]); d > 0.01 {
		t.Fatalf("end endpoint off by %v m", d)
	}

	want := 99.9 / 10.0
	for i := 0; i+1 < len(projected); i++ {
		step := projected[i].Distance(projected[i+1])
		if math.Abs(step-want) > 0.02 {
			t.Fatalf("step %d = %v m, want %v", i, step, want)
		}
	}

	// Every interpolated point lies on the segment line (constant Y).
	for i, pt := range projected {
		if math.Abs(pt.Y-seg.Points[0].Y) > 0.01 {
			t.Fatalf("point %d off segment by %v m", i, math.Abs(pt.Y-seg.Points[0].Y))
		}
	}
}

func TestDensifySequentialIDsAcrossSegments(t *testing.T) {
	proj := newTestProjection(t)
	d := NewDensifier(proj, 10)

	segs := []models.RoadSegment{
		straightSegment(t, proj, 25),
		straightSegment(t, proj, 35),
	}
	segs[1].SourceID = "seg-2"

	points := d.Densify(segs)
	for i, p := range points {
		if p.ID != int64(i) {
			t.Fatalf("point %d has id %d, want sequential assignment", i, p.ID)
		}
		if p.Status != models.StatusPending {
			t.Fatalf("point %d status = %q, want pending", i, p.Status)
		}
	}

	// Road tagging survives.
	first := points[0]
	last := points[len(points)-1]
	if first.RoadID != "seg-1" || last.RoadID != "seg-2" {
		t.Fatalf("road ids = %q, %q, want seg-1 and seg-2", first.RoadID, last.RoadID)
	}
}

func TestDensifySkipsDegenerateSegments(t *testing.T) {
	proj := newTestProjection(t)
	d := NewDensifier(proj, 10)

	origin := proj.ToProjected(-79.3832, 43.6532)
	segs := []models.RoadSegment{
		{SourceID: "empty", RoadType: "Local", Points: nil},
		{SourceID: "single", RoadType: "Local", Points: []common.Point{origin}},
	}
	if points := d.Densify(segs); len(points) != 0 {
		t.Fatalf("degenerate segments emitted %d points, want 0", len(points))
	}
}

func TestDensifyDeterministic(t *testing.T) {
	proj := newTestProjection(t)
	d := NewDensifier(proj, 10)

	segs := []models.RoadSegment{
		straightSegment(t, proj, 47),
		straightSegment(t, proj, 12.5),
	}

	a := d.Densify(segs)
	b := d.Densify(segs)
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Lat != b[i].Lat || a[i].Lon != b[i].Lon {
			t.Fatalf("point %d differs between identical runs", i)
		}
	}
}

func TestDensifyMultiVertexSharedEndpointsEmittedOnce(t *testing.T) {
	proj := newTestProjection(t)
	d := NewDensifier(proj, 10)

	origin := proj.ToProjected(-79.3832, 43.6532)
	seg := models.RoadSegment{
		SourceID: "bend",
		RoadType: "Collector",
		Points: []common.Point{
			origin,
			{X: origin.X + 5, Y: origin.Y},
			{X: origin.X + 5, Y: origin.Y + 5},
		},
	}

	// Two pairs, both below spacing: vertex 0, vertex 1 (once), vertex 2.
	points := d.Densify([]models.RoadSegment{seg})
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
}
