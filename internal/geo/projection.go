package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Projection kinds accepted in configuration.
const (
	ProjectionGeodetic = "geodetic"
	ProjectionPlanar   = "planar"
)

// Projection maps coordinates onto a plane measured in meters and back.
type Projection interface {
	Forward(Coordinate) Point
	Inverse(Point) Coordinate
	// Distance is the metric used for path lengths in this projection.
	Distance(a, b Coordinate) float64
	Validate(Coordinate) error
	// Normalize puts c into the canonical form of the projection.
	Normalize(Coordinate) Coordinate
}

// NewProjection returns the projection of the given kind centred on origin.
// An empty kind selects the geodetic projection.
func NewProjection(kind string, origin Coordinate) (Projection, error) {
	switch kind {
	case "", ProjectionGeodetic:
		return NewLocal(origin), nil
	case ProjectionPlanar:
		return Planar{}, nil
	}
	return nil, fmt.Errorf("unknown projection %q", kind)
}

// DistanceFunc returns the distance metric of the given projection kind.
func DistanceFunc(kind string) func(a, b Coordinate) float64 {
	if kind == ProjectionPlanar {
		return Planar{}.Distance
	}
	return Distance
}

// Planar reads coordinates as plain meters: X = Lng, Y = Lat. It is meant for
// tests and synthetic ranges, not real positions.
type Planar struct{}

func (Planar) Forward(c Coordinate) Point { return c.Point() }
func (Planar) Inverse(p Point) Coordinate { return Coordinate{Lat: p.Y, Lng: p.X} }

func (Planar) Distance(a, b Coordinate) float64 {
	return math.Hypot(b.Lng-a.Lng, b.Lat-a.Lat)
}

func (Planar) Normalize(c Coordinate) Coordinate { return c }

func (Planar) Validate(c Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("coordinate (%v, %v) is not finite", c.Lat, c.Lng)
	}
	return nil
}

// Local is an equirectangular projection around an origin. Distortion is
// negligible over survey-sized areas.
type Local struct {
	Origin Coordinate
	cosLat float64
}

// NewLocal returns a Local projection centred on origin.
func NewLocal(origin Coordinate) *Local {
	origin = origin.Normalize()
	return &Local{Origin: origin, cosLat: math.Cos(origin.Lat * math.Pi / 180)}
}

func (l *Local) Forward(c Coordinate) Point {
	dLng := NormalizeLng(c.Lng - l.Origin.Lng)
	return Point{
		X: dLng * math.Pi / 180 * orb.EarthRadius * l.cosLat,
		Y: (c.Lat - l.Origin.Lat) * math.Pi / 180 * orb.EarthRadius,
	}
}

func (l *Local) Inverse(p Point) Coordinate {
	lng := l.Origin.Lng
	if l.cosLat != 0 {
		lng += p.X / (orb.EarthRadius * l.cosLat) * 180 / math.Pi
	}
	return Coordinate{
		Lat: l.Origin.Lat + p.Y/orb.EarthRadius*180/math.Pi,
		Lng: NormalizeLng(lng),
	}
}

func (l *Local) Distance(a, b Coordinate) float64 { return Distance(a, b) }

func (l *Local) Validate(c Coordinate) error { return c.Validate() }

func (l *Local) Normalize(c Coordinate) Coordinate { return c.Normalize() }
