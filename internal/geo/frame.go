// Package geo provides the local metric projection shared by clustering,
// extent derivation, and regeneration. Both the initial-run path and the
// regeneration path must go through this package; there is deliberately no
// second implementation of any of these operations.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius used for all spherical math.
const EarthRadiusMeters = 6371000.0

// Frame is a local metric coordinate system: a spherical transverse
// Mercator projection with the central meridian and latitude origin at the
// centroid of the geometry it was selected for. Near the origin, projected
// x/y are ground meters, which keeps buffer distances and clustering
// thresholds correct at any latitude.
//
// A Frame is valid for geometries up to metropolitan scale around its
// origin. Geometries spanning a projection-zone boundary (tens of degrees
// of longitude) are out of scope.
type Frame struct {
	Lon0 float64 // central meridian, degrees
	Lat0 float64 // latitude origin, degrees
}

// SelectFrame chooses a Frame from the spherical centroid of the given
// points. All metric operations on one batch must use the single Frame
// selected from the full batch; mixing frames across a computation is a
// defect.
func SelectFrame(points []orb.Point) (Frame, error) {
	if len(points) == 0 {
		return Frame{}, fmt.Errorf("select frame: %w", &domain.InvalidGeometryError{Reason: "empty point set"})
	}
	var sum s2.Point
	for _, p := range points {
		if err := validatePoint(p); err != nil {
			return Frame{}, fmt.Errorf("select frame: %w", err)
		}
		sum = s2.Point{Vector: sum.Add(s2.PointFromLatLng(s2.LatLngFromDegrees(p[1], p[0])).Vector)}
	}
	center := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	return Frame{Lon0: center.Lng.Degrees(), Lat0: center.Lat.Degrees()}, nil
}

// SelectFrameForRing selects a Frame from a polygon ring's vertices.
func SelectFrameForRing(ring orb.Ring) (Frame, error) {
	return SelectFrame([]orb.Point(ring))
}

// Project converts a geographic point (lon, lat degrees) to frame meters.
func (f Frame) Project(p orb.Point) (orb.Point, error) {
	if err := validatePoint(p); err != nil {
		return orb.Point{}, fmt.Errorf("project: %w", err)
	}
	lat := p[1] * math.Pi / 180
	dLon := wrapLonDelta(p[0]-f.Lon0) * math.Pi / 180
	lat0 := f.Lat0 * math.Pi / 180

	// Spherical transverse Mercator (Snyder 1987, eq. 8-5/8-6).
	b := math.Cos(lat) * math.Sin(dLon)
	x := EarthRadiusMeters * math.Atanh(b)
	y := EarthRadiusMeters * (math.Atan2(math.Tan(lat), math.Cos(dLon)) - lat0)
	return orb.Point{x, y}, nil
}

// Unproject converts frame meters back to geographic degrees.
func (f Frame) Unproject(p orb.Point) (orb.Point, error) {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
		return orb.Point{}, fmt.Errorf("unproject: %w", &domain.InvalidGeometryError{Reason: "non-finite coordinate"})
	}
	lat0 := f.Lat0 * math.Pi / 180
	d := p[1]/EarthRadiusMeters + lat0
	xr := p[0] / EarthRadiusMeters

	lat := math.Asin(math.Sin(d) / math.Cosh(xr))
	lon := f.Lon0*math.Pi/180 + math.Atan2(math.Sinh(xr), math.Cos(d))
	return orb.Point{lon * 180 / math.Pi, lat * 180 / math.Pi}, nil
}

// ProjectAll projects a batch of points through the same frame.
func (f Frame) ProjectAll(points []orb.Point) ([]orb.Point, error) {
	out := make([]orb.Point, len(points))
	for i, p := range points {
		pp, err := f.Project(p)
		if err != nil {
			return nil, err
		}
		out[i] = pp
	}
	return out, nil
}

// UnprojectBound unprojects the corners and edge midpoints of a projected
// rectangle and returns the geographic axis-aligned bound enclosing them.
// Edge midpoints guard against the slight bowing a rectangle acquires when
// re-expressed in geographic coordinates.
func (f Frame) UnprojectBound(b orb.Bound) (orb.Bound, error) {
	cx := (b.Min[0] + b.Max[0]) / 2
	cy := (b.Min[1] + b.Max[1]) / 2
	samples := []orb.Point{
		b.Min, b.Max,
		{b.Min[0], b.Max[1]}, {b.Max[0], b.Min[1]},
		{cx, b.Min[1]}, {cx, b.Max[1]},
		{b.Min[0], cy}, {b.Max[0], cy},
	}
	var out orb.Bound
	for i, s := range samples {
		g, err := f.Unproject(s)
		if err != nil {
			return orb.Bound{}, err
		}
		if i == 0 {
			out = orb.Bound{Min: g, Max: g}
			continue
		}
		out = out.Extend(g)
	}
	return out, nil
}

// Distance returns the great-circle distance between two geographic points
// in meters.
func Distance(a, b orb.Point) float64 {
	p1 := s2.LatLngFromDegrees(a[1], a[0])
	p2 := s2.LatLngFromDegrees(b[1], b[0])
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

func validatePoint(p orb.Point) error {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
		return &domain.InvalidGeometryError{Reason: "non-finite coordinate"}
	}
	if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
		return &domain.InvalidGeometryError{Reason: fmt.Sprintf("coordinate out of range: %v", p)}
	}
	return nil
}

func wrapLonDelta(d float64) float64 {
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}
