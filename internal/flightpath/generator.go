package flightpath

import (
	"fmt"
	"math"

	"droneops-survey/internal/geo"
)

// Options are the generator-wide defaults read from configuration.
type Options struct {
	// Projection selects the plane survey lines are laid out on and the
	// metric used for distances ("geodetic" or "planar").
	Projection      string  `yaml:"projection"`
	PerimeterPasses int     `yaml:"perimeter_passes"`
	FallbackHoverS  float64 `yaml:"fallback_hover_s"`
	// SpiralStepM is the arc length between spiral samples. Zero means half
	// the sweep spacing.
	SpiralStepM float64 `yaml:"spiral_step_m"`
}

// DefaultOptions returns the options used when configuration leaves them out.
func DefaultOptions() Options {
	return Options{
		Projection:      geo.ProjectionGeodetic,
		PerimeterPasses: 1,
		FallbackHoverS:  30,
	}
}

// Generator builds flight paths. It is stateless and safe for concurrent use.
type Generator struct {
	opts Options
}

// NewGenerator returns a generator with zero-valued options replaced by defaults.
func NewGenerator(opts Options) *Generator {
	def := DefaultOptions()
	if opts.Projection == "" {
		opts.Projection = def.Projection
	}
	if opts.PerimeterPasses <= 0 {
		opts.PerimeterPasses = def.PerimeterPasses
	}
	if opts.FallbackHoverS <= 0 {
		opts.FallbackHoverS = def.FallbackHoverS
	}
	return &Generator{opts: opts}
}

// Options returns the effective generator options.
func (g *Generator) Options() Options { return g.opts }

// layout is a validated request projected onto the working plane.
type layout struct {
	params  Params
	proj    geo.Projection
	ring    geo.Ring
	base    geo.Point
	bounds  geo.Box
	spacing float64
	// clamp is the coordinate-space bounding box of the polygon; nil when the
	// polygon straddles the antimeridian and a lat/lng box is meaningless.
	clamp *geo.Box
}

// Generate builds the flight path for p. It fails with InvalidParameterError
// or InvalidGeometryError and never returns a partial path.
func (g *Generator) Generate(p Params) (*FlightPath, error) {
	l, err := g.prepare(p)
	if err != nil {
		return nil, err
	}

	var lines [][]geo.Point
	switch p.Pattern {
	case PatternWaypoint:
		lines = [][]geo.Point{append([]geo.Point(nil), l.ring...)}
	case PatternCrosshatch:
		lines = crosshatch(l.ring, l.bounds, l.spacing, l.base)
	case PatternPerimeter:
		passes := g.opts.PerimeterPasses
		if p.PerimeterPasses > 0 {
			passes = p.PerimeterPasses
		}
		lines = perimeter(l.ring, l.spacing, passes, l.base)
	case PatternSpiral:
		step := g.opts.SpiralStepM
		if step <= 0 {
			step = l.spacing / 2
		}
		lines = spiral(l.ring, l.spacing, step)
	}

	survey := g.surveyWaypoints(l, lines)
	if len(survey) == 0 {
		survey = []Waypoint{{
			Position: g.unproject(l, geo.Centroid(l.ring)),
			Action:   ActionHover,
			Duration: g.opts.FallbackHoverS,
		}}
	}

	base := l.proj.Normalize(p.Base)
	wps := make([]Waypoint, 0, len(survey)+2)
	wps = append(wps, Waypoint{Position: base, Action: ActionFlyThrough})
	wps = append(wps, survey...)
	wps = append(wps, Waypoint{Position: base, Action: ActionReturn})

	path := &FlightPath{Pattern: p.Pattern, Speed: p.Speed, Projection: g.opts.Projection}
	var dwell float64
	for i := range wps {
		wps[i].Order = i
		wps[i].Altitude = p.Altitude
		dwell += wps[i].Duration
		if i > 0 {
			path.TotalDistance += l.proj.Distance(wps[i-1].Position, wps[i].Position)
		}
	}
	path.Waypoints = wps
	path.EstimatedDuration = path.TotalDistance/p.Speed + dwell
	return path, nil
}

func (g *Generator) prepare(p Params) (*layout, error) {
	switch p.Pattern {
	case PatternWaypoint, PatternCrosshatch, PatternPerimeter, PatternSpiral:
	default:
		return nil, &InvalidParameterError{Param: "pattern", Value: p.Pattern, Reason: "unknown pattern"}
	}
	if !finite(p.Altitude) || p.Altitude <= 0 {
		return nil, &InvalidParameterError{Param: "altitude", Value: p.Altitude, Reason: "must be positive"}
	}
	if !finite(p.Speed) || p.Speed <= 0 {
		return nil, &InvalidParameterError{Param: "speed", Value: p.Speed, Reason: "must be positive"}
	}
	if !finite(p.OverlapPercent) || p.OverlapPercent < 0 || p.OverlapPercent >= 100 {
		return nil, &InvalidParameterError{Param: "overlap_percent", Value: p.OverlapPercent, Reason: "must be in [0, 100)"}
	}
	if p.PerimeterPasses < 0 {
		return nil, &InvalidParameterError{Param: "perimeter_passes", Value: p.PerimeterPasses, Reason: "must not be negative"}
	}

	if len(p.Area) == 0 {
		return nil, &InvalidGeometryError{Reason: "coverage area is empty"}
	}
	proj, err := geo.NewProjection(g.opts.Projection, p.Area[0])
	if err != nil {
		return nil, &InvalidParameterError{Param: "projection", Value: g.opts.Projection, Reason: err.Error()}
	}
	area := dedupe(proj, p.Area)
	if len(area) < 3 {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("coverage area needs at least 3 distinct vertices, got %d", len(area))}
	}
	for i, c := range area {
		if err := proj.Validate(c); err != nil {
			return nil, &InvalidGeometryError{Reason: fmt.Sprintf("vertex %d: %v", i, err)}
		}
	}
	if err := proj.Validate(p.Base); err != nil {
		return nil, &InvalidParameterError{Param: "base", Value: p.Base, Reason: err.Error()}
	}

	ring := make(geo.Ring, len(area))
	for i, c := range area {
		ring[i] = proj.Forward(c)
	}
	if math.Abs(geo.Area(ring)) <= 1e-9 {
		return nil, &InvalidGeometryError{Reason: "coverage area has no area"}
	}

	l := &layout{
		params: p,
		proj:   proj,
		ring:   ring,
		base:   proj.Forward(proj.Normalize(p.Base)),
		bounds: geo.BoundingBox(ring),
	}

	if p.Pattern != PatternWaypoint {
		l.spacing = p.Sensor.Spacing(p.Altitude, p.OverlapPercent)
		if !finite(l.spacing) || l.spacing <= 0 {
			return nil, &InvalidParameterError{Param: "sensor", Value: p.Sensor, Reason: "footprint must be positive"}
		}
	}

	cr := make(geo.Ring, len(area))
	for i, c := range area {
		cr[i] = c.Point()
	}
	if box := geo.BoundingBox(cr); g.opts.Projection == geo.ProjectionPlanar || box.Width() <= 180 {
		l.clamp = &box
	}
	return l, nil
}

// surveyWaypoints turns planar polylines into CAPTURE waypoints, inserting
// extra captures along long legs when the sensor has a capture interval.
func (g *Generator) surveyWaypoints(l *layout, lines [][]geo.Point) []Waypoint {
	sensor := l.params.Sensor
	var out []Waypoint
	var last geo.Point
	add := func(p geo.Point) {
		if len(out) > 0 && p.DistanceTo(last) <= 1e-9 {
			return
		}
		last = p
		out = append(out, Waypoint{
			Position: g.unproject(l, p),
			Action:   ActionCapture,
			Duration: sensor.CaptureHoldS,
		})
	}
	for _, line := range lines {
		for i, p := range line {
			if i > 0 && sensor.CaptureIntervalM > 0 {
				prev := line[i-1]
				n := int(math.Ceil(prev.DistanceTo(p)/sensor.CaptureIntervalM - 1e-9))
				for k := 1; k < n; k++ {
					add(prev.Lerp(p, float64(k)/float64(n)))
				}
			}
			add(p)
		}
	}
	return out
}

func (g *Generator) unproject(l *layout, p geo.Point) geo.Coordinate {
	c := l.proj.Inverse(p)
	if l.clamp != nil {
		q := l.clamp.Clamp(c.Point())
		c = geo.Coordinate{Lat: q.Y, Lng: q.X}
	}
	return c
}

// dedupe normalizes vertices and drops consecutive repeats, including an
// explicit closing vertex.
func dedupe(proj geo.Projection, in []geo.Coordinate) []geo.Coordinate {
	out := make([]geo.Coordinate, 0, len(in))
	for _, c := range in {
		c = proj.Normalize(c)
		if len(out) > 0 && out[len(out)-1] == c {
			continue
		}
		out = append(out, c)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
