// Package flightpath turns a coverage polygon into an ordered waypoint
// sequence for one of the supported survey patterns.
package flightpath

import (
	"fmt"
	"math"
	"strings"

	"droneops-survey/internal/geo"
)

// Pattern is the sweep strategy used to cover an area.
type Pattern string

const (
	PatternWaypoint   Pattern = "WAYPOINT"
	PatternCrosshatch Pattern = "CROSSHATCH"
	PatternPerimeter  Pattern = "PERIMETER"
	PatternSpiral     Pattern = "SPIRAL"
)

// ParsePattern accepts pattern names in any case.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PatternWaypoint, PatternCrosshatch, PatternPerimeter, PatternSpiral:
		return p, nil
	}
	return "", &InvalidParameterError{Param: "pattern", Value: s, Reason: "unknown pattern"}
}

// Action is what the drone does on reaching a waypoint.
type Action string

const (
	ActionFlyThrough Action = "FLY_THROUGH"
	ActionHover      Action = "HOVER"
	ActionCapture    Action = "CAPTURE"
	ActionRotate     Action = "ROTATE"
	ActionReturn     Action = "RETURN"
	ActionLand       Action = "LAND"
)

// Dwells reports whether the action holds position for the waypoint duration.
func (a Action) Dwells() bool {
	return a == ActionHover || a == ActionCapture
}

// Waypoint is one stop of a flight path.
type Waypoint struct {
	Position geo.Coordinate `json:"position" msgpack:"position"`
	Altitude float64        `json:"altitude" msgpack:"altitude"`
	Action   Action         `json:"action" msgpack:"action"`
	Order    int            `json:"order" msgpack:"order"`
	// Duration is the dwell time in seconds for HOVER and CAPTURE.
	Duration float64 `json:"duration_s,omitempty" msgpack:"duration_s,omitempty"`
}

// FlightPath is the ordered route of a mission. The first waypoint departs the
// base and the last one returns to it; everything in between is survey.
type FlightPath struct {
	Waypoints         []Waypoint `json:"waypoints" msgpack:"waypoints"`
	Pattern           Pattern    `json:"pattern_type" msgpack:"pattern_type"`
	TotalDistance     float64    `json:"total_distance" msgpack:"total_distance"`
	EstimatedDuration float64    `json:"estimated_duration" msgpack:"estimated_duration"`
	Speed             float64    `json:"speed" msgpack:"speed"`
	// Projection names the distance metric TotalDistance was measured with.
	Projection string `json:"projection" msgpack:"projection"`
}

// Survey returns the waypoints between the departure and return transits.
func (p *FlightPath) Survey() []Waypoint {
	if len(p.Waypoints) <= 2 {
		return nil
	}
	return p.Waypoints[1 : len(p.Waypoints)-1]
}

// Distance returns the distance between two coordinates using the metric the
// path was generated with.
func (p *FlightPath) Distance(a, b geo.Coordinate) float64 {
	return geo.DistanceFunc(p.Projection)(a, b)
}

// LastIndex is the index of the final (return) waypoint.
func (p *FlightPath) LastIndex() int {
	return len(p.Waypoints) - 1
}

// Clone returns a deep copy of p.
func (p *FlightPath) Clone() *FlightPath {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Waypoints = append([]Waypoint(nil), p.Waypoints...)
	return &cp
}

// Sensor describes the imaging payload of a drone model.
type Sensor struct {
	// FootprintWidthM is the ground swath width. When zero it is derived from
	// FieldOfViewDeg and the flight altitude.
	FootprintWidthM  float64 `yaml:"footprint_width_m" json:"footprint_width_m"`
	FieldOfViewDeg   float64 `yaml:"field_of_view_deg" json:"field_of_view_deg"`
	CaptureIntervalM float64 `yaml:"capture_interval_m" json:"capture_interval_m"`
	CaptureHoldS     float64 `yaml:"capture_hold_s" json:"capture_hold_s"`
}

// Footprint returns the swath width in meters at the given altitude.
func (s Sensor) Footprint(altitude float64) float64 {
	if s.FootprintWidthM > 0 {
		return s.FootprintWidthM
	}
	if s.FieldOfViewDeg > 0 && s.FieldOfViewDeg < 180 {
		return 2 * altitude * math.Tan(s.FieldOfViewDeg*math.Pi/360)
	}
	return 0
}

// Spacing is the distance between adjacent sweep lines.
func (s Sensor) Spacing(altitude, overlapPercent float64) float64 {
	return s.Footprint(altitude) * (1 - overlapPercent/100)
}

// Params is a path generation request.
type Params struct {
	Pattern        Pattern          `json:"pattern_type"`
	Area           []geo.Coordinate `json:"coverage_area"`
	Altitude       float64          `json:"altitude"`
	Speed          float64          `json:"speed"`
	OverlapPercent float64          `json:"overlap_percent"`
	Base           geo.Coordinate   `json:"base"`
	Sensor         Sensor           `json:"sensor"`
	// PerimeterPasses overrides the generator default when positive.
	PerimeterPasses int `json:"perimeter_passes,omitempty"`
}

func (p Params) key() string {
	return fmt.Sprintf("%+v", p)
}
