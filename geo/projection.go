// Package geo converts between geographic (WGS84/NAD83 degrees) and
// projected metric coordinates, and measures distances between road
// geometries in the projected plane.
package geo

import (
	"fmt"
	"math"

	"github.com/mitroadmaps/gomapinfer/common"
)

// LambertParams parameterizes a Lambert conformal conic projection with two
// standard parallels. Angles are degrees, lengths meters.
type LambertParams struct {
	SemiMajorAxis     float64 `yaml:"semi_major_axis"`
	InverseFlattening float64 `yaml:"inverse_flattening"`
	StandardParallel1 float64 `yaml:"standard_parallel_1"`
	StandardParallel2 float64 `yaml:"standard_parallel_2"`
	LatitudeOfOrigin  float64 `yaml:"latitude_of_origin"`
	CentralMeridian   float64 `yaml:"central_meridian"`
	FalseEasting      float64 `yaml:"false_easting"`
	FalseNorthing     float64 `yaml:"false_northing"`
}

// OntarioMNRLambert returns the parameters of EPSG:3161 (NAD83 / Ontario MNR
// Lambert), the projected system used for distance math over Toronto.
func OntarioMNRLambert() LambertParams {
	return LambertParams{
		SemiMajorAxis:     6378137.0,
		InverseFlattening: 298.257222101, // GRS80
		StandardParallel1: 44.5,
		StandardParallel2: 53.5,
		LatitudeOfOrigin:  0,
		CentralMeridian:   -85,
		FalseEasting:      930000,
		FalseNorthing:     6430000,
	}
}

// Projection converts between geographic and projected coordinates. It is
// stateless after construction and safe for concurrent use.
type Projection struct {
	params LambertParams

	a    float64 // semi-major axis
	e    float64 // first eccentricity
	n    float64 // cone constant
	f    float64 // scaled radius factor
	rho0 float64 // radius at latitude of origin
	lon0 float64 // central meridian, radians
}

// NewProjection precomputes the projection constants for params.
func NewProjection(params LambertParams) (*Projection, error) {
	if params.SemiMajorAxis <= 0 {
		return nil, fmt.Errorf("projection: semi-major axis must be positive")
	}
	if params.InverseFlattening <= 0 {
		return nil, fmt.Errorf("projection: inverse flattening must be positive")
	}
	if params.StandardParallel1 == params.StandardParallel2 {
		return nil, fmt.Errorf("projection: standard parallels must differ")
	}

	flattening := 1 / params.InverseFlattening
	e := math.Sqrt(2*flattening - flattening*flattening)

	phi1 := radians(params.StandardParallel1)
	phi2 := radians(params.StandardParallel2)
	phi0 := radians(params.LatitudeOfOrigin)

	m1 := mFactor(phi1, e)
	m2 := mFactor(phi2, e)
	t0 := tFactor(phi0, e)
	t1 := tFactor(phi1, e)
	t2 := tFactor(phi2, e)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))

	return &Projection{
		params: params,
		a:      params.SemiMajorAxis,
		e:      e,
		n:      n,
		f:      f,
		rho0:   params.SemiMajorAxis * f * math.Pow(t0, n),
		lon0:   radians(params.CentralMeridian),
	}, nil
}

// Params returns the parameters the projection was built from.
func (p *Projection) Params() LambertParams {
	return p.params
}

// ToProjected converts a geographic lon/lat (degrees) to projected meters.
func (p *Projection) ToProjected(lon, lat float64) common.Point {
	t := tFactor(radians(lat), p.e)
	rho := p.a * p.f * math.Pow(t, p.n)
	theta := p.n * (radians(lon) - p.lon0)

	return common.Point{
		X: p.params.FalseEasting + rho*math.Sin(theta),
		Y: p.params.FalseNorthing + p.rho0 - rho*math.Cos(theta),
	}
}

// ToGeographic converts a projected point back to lon/lat degrees. The
// latitude solve iterates on the conformal latitude series and converges to
// well under a centimeter in a few rounds.
func (p *Projection) ToGeographic(pt common.Point) (lon, lat float64) {
	dx := pt.X - p.params.FalseEasting
	dy := p.rho0 - (pt.Y - p.params.FalseNorthing)

	rho := math.Sqrt(dx*dx + dy*dy)
	if p.n < 0 {
		rho = -rho
		dx = -dx
		dy = -dy
	}
	theta := math.Atan2(dx, dy)

	lonRad := theta/p.n + p.lon0
	if rho == 0 {
		latRad := math.Pi / 2
		if p.n < 0 {
			latRad = -latRad
		}
		return degrees(lonRad), degrees(latRad)
	}

	t := math.Pow(rho/(p.a*p.f), 1/p.n)
	latRad := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 8; i++ {
		es := p.e * math.Sin(latRad)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), p.e/2))
		if math.Abs(next-latRad) < 1e-12 {
			latRad = next
			break
		}
		latRad = next
	}

	return degrees(lonRad), degrees(latRad)
}

// ProjectSegment converts a geographic polyline (lon/lat pairs) into
// projected coordinates.
func (p *Projection) ProjectSegment(coords [][2]float64) []common.Point {
	points := make([]common.Point, len(coords))
	for i, c := range coords {
		points[i] = p.ToProjected(c[0], c[1])
	}
	return points
}

func mFactor(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-e*e*s*s)
}

func tFactor(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
