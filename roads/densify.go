package roads

import (
	"time"

	"github.com/mitroadmaps/gomapinfer/common"

	"github.com/alexwolson/toronto-streetview-count/geo"
	"github.com/alexwolson/toronto-streetview-count/models"
)

// Densifier emits evenly spaced sample points along projected road segments
// and reprojects them to geographic coordinates for the metadata endpoint.
type Densifier struct {
	proj    *geo.Projection
	spacing float64
}

// NewDensifier builds a densifier for the given spacing in meters. Spacing is
// validated by config before it reaches this point.
func NewDensifier(proj *geo.Projection, spacingMeters float64) *Densifier {
	return &Densifier{proj: proj, spacing: spacingMeters}
}

// Densify walks every segment in order and emits sample points with
// sequential IDs starting at 0. For each consecutive vertex pair the start
// vertex is emitted, then floor(d/spacing) interpolated points at t=j/(n+1);
// the end vertex is emitted only on the final pair so shared interior
// vertices appear once. Given identical input ordering the output is
// byte-for-byte identical: nothing here iterates a map.
func (d *Densifier) Densify(segments []models.RoadSegment) []models.SamplePoint {
	now := time.Now().UTC()
	var points []models.SamplePoint
	var nextID int64

	for _, seg := range segments {
		if len(seg.Points) < 2 {
			continue
		}
		for _, pt := range d.densifyLine(seg.Points) {
			lon, lat := d.proj.ToGeographic(pt)
			points = append(points, models.SamplePoint{
				ID:        nextID,
				Lat:       lat,
				Lon:       lon,
				RoadID:    seg.SourceID,
				RoadType:  seg.RoadType,
				Status:    models.StatusPending,
				CreatedAt: now,
			})
			nextID++
		}
	}
	return points
}

func (d *Densifier) densifyLine(line []common.Point) []common.Point {
	out := make([]common.Point, 0, len(line))
	for i := 0; i+1 < len(line); i++ {
		start, end := line[i], line[i+1]
		out = append(out, start)

		if dist := start.Distance(end); dist > d.spacing {
			n := int(dist / d.spacing)
			step := end.Sub(start)
			for j := 1; j <= n; j++ {
				t := float64(j) / float64(n+1)
				out = append(out, start.Add(step.Scale(t)))
			}
		}

		if i == len(line)-2 {
			out = append(out, end)
		}
	}
	return out
}
