// Package geo holds the coordinate types and polygon utilities used for
// flight path generation.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat" msgpack:"lat"`
	Lng float64 `json:"lng" yaml:"lng" msgpack:"lng"`
}

// NormalizeLng wraps a longitude into (-180, 180].
func NormalizeLng(lng float64) float64 {
	if math.IsNaN(lng) || math.IsInf(lng, 0) {
		return lng
	}
	l := math.Mod(lng+180, 360)
	if l <= 0 {
		l += 360
	}
	return l - 180
}

// Normalize returns c with its longitude wrapped into (-180, 180].
func (c Coordinate) Normalize() Coordinate {
	return Coordinate{Lat: c.Lat, Lng: NormalizeLng(c.Lng)}
}

// Validate reports whether c is a usable geodetic position.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("coordinate (%v, %v) is not finite", c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v outside [-90, 90]", c.Lat)
	}
	return nil
}

// Point returns the planar reading of c (X = longitude, Y = latitude).
func (c Coordinate) Point() Point {
	return Point{X: c.Lng, Y: c.Lat}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lng)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(orb.Point{a.Lng, a.Lat}, orb.Point{b.Lng, b.Lat})
}

// Interpolate returns the position a fraction f of the way from a to b.
// Longitude is interpolated along the shorter way around.
func Interpolate(a, b Coordinate, f float64) Coordinate {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	dLng := NormalizeLng(b.Lng - a.Lng)
	return Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*f,
		Lng: NormalizeLng(a.Lng + dLng*f),
	}
}
