package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Point is a planar position. X grows east and Y grows north.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) add(q Point) Point          { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) sub(q Point) Point          { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) scale(f float64) Point      { return Point{p.X * f, p.Y * f} }
func (p Point) dot(q Point) float64        { return p.X*q.X + p.Y*q.Y }
func (p Point) cross(q Point) float64      { return p.X*q.Y - p.Y*q.X }
func (p Point) orb() orb.Point             { return orb.Point{p.X, p.Y} }
func (p Point) DistanceTo(q Point) float64 { return math.Hypot(q.X-p.X, q.Y-p.Y) }

// Lerp returns the point a fraction t of the way from p to q.
func (p Point) Lerp(q Point, t float64) Point {
	return p.add(q.sub(p).scale(t))
}

// Ring is an implicitly closed polygon boundary: the last vertex connects
// back to the first and is not repeated.
type Ring []Point

// Segment is a directed line segment.
type Segment struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

// Length returns the planar length of s.
func (s Segment) Length() float64 { return s.A.DistanceTo(s.B) }

// Box is an axis-aligned bounding box.
type Box struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Width returns the X extent of b.
func (b Box) Width() float64 { return b.Max.X - b.Min.X }

// Height returns the Y extent of b.
func (b Box) Height() float64 { return b.Max.Y - b.Min.Y }

// Contains reports whether p lies inside b, edges included.
func (b Box) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Clamp moves p onto the nearest point of b.
func (b Box) Clamp(p Point) Point {
	return Point{
		X: math.Min(math.Max(p.X, b.Min.X), b.Max.X),
		Y: math.Min(math.Max(p.Y, b.Min.Y), b.Max.Y),
	}
}

// open drops a repeated closing vertex if the caller supplied one.
func (r Ring) open() Ring {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func (r Ring) orb() orb.Ring {
	o := r.open()
	out := make(orb.Ring, len(o))
	for i, p := range o {
		out[i] = p.orb()
	}
	return out
}

// Area returns the signed shoelace area of r: positive for counter-clockwise
// rings, negative for clockwise ones, and 0 for fewer than 3 vertices.
func Area(r Ring) float64 {
	if len(r.open()) < 3 {
		return 0
	}
	_, a := planar.CentroidArea(r.orb())
	return a
}

// BoundingBox returns the min/max extent of r.
func BoundingBox(r Ring) Box {
	if len(r) == 0 {
		return Box{}
	}
	b := r.orb().Bound()
	return Box{Min: Point{b.Min[0], b.Min[1]}, Max: Point{b.Max[0], b.Max[1]}}
}

// Centroid returns the area centroid of r. Degenerate rings fall back to the
// vertex mean.
func Centroid(r Ring) Point {
	o := r.open()
	if len(o) == 0 {
		return Point{}
	}
	if len(o) >= 3 {
		c, a := planar.CentroidArea(r.orb())
		if a != 0 {
			return Point{c[0], c[1]}
		}
	}
	var sum Point
	for _, p := range o {
		sum = sum.add(p)
	}
	return sum.scale(1 / float64(len(o)))
}

// ContainsPoint is a ray-casting point-in-polygon test. Points on the
// boundary count as inside.
func ContainsPoint(r Ring, p Point) bool {
	if len(r.open()) < 3 {
		return false
	}
	return planar.RingContains(r.orb(), p.orb())
}

const clipEpsilon = 1e-9

// ClipSegment returns the pieces of the segment a→b that lie inside r, in
// a→b order. Pieces running along the boundary are kept. The result is empty
// when the segment misses the polygon or either input is degenerate.
func ClipSegment(r Ring, a, b Point) []Segment {
	o := r.open()
	d := b.sub(a)
	dd := d.dot(d)
	if len(o) < 3 || dd == 0 {
		return nil
	}
	dl := math.Sqrt(dd)

	ts := []float64{0, 1}
	for i := range o {
		p, q := o[i], o[(i+1)%len(o)]
		e := q.sub(p)
		el := math.Hypot(e.X, e.Y)
		if el == 0 {
			continue
		}
		den := d.cross(e)
		ap := p.sub(a)
		if math.Abs(den) <= clipEpsilon*dl*el {
			// Parallel edge; only a collinear one contributes its endpoints.
			if math.Abs(ap.cross(d)) <= clipEpsilon*dl*math.Max(1, math.Hypot(ap.X, ap.Y)) {
				ts = append(ts, ap.dot(d)/dd, q.sub(a).dot(d)/dd)
			}
			continue
		}
		t := ap.cross(e) / den
		u := ap.cross(d) / den
		if u >= -clipEpsilon && u <= 1+clipEpsilon {
			ts = append(ts, t)
		}
	}

	clamped := ts[:0]
	for _, t := range ts {
		if t >= 0 && t <= 1 {
			clamped = append(clamped, t)
		}
	}
	sort.Float64s(clamped)

	var out []Segment
	open := false
	var start float64
	for i := 0; i+1 < len(clamped); i++ {
		t0, t1 := clamped[i], clamped[i+1]
		if t1-t0 <= clipEpsilon {
			continue
		}
		inside := ContainsPoint(o, a.Lerp(b, (t0+t1)/2))
		switch {
		case inside && !open:
			open, start = true, t0
		case !inside && open:
			out = appendPiece(out, a, b, start, t0, dl)
			open = false
		}
	}
	if open {
		out = appendPiece(out, a, b, start, clamped[len(clamped)-1], dl)
	}
	return out
}

func appendPiece(out []Segment, a, b Point, t0, t1, length float64) []Segment {
	if (t1-t0)*length <= clipEpsilon {
		return out
	}
	s := Segment{A: a.Lerp(b, t0), B: a.Lerp(b, t1)}
	if t0 == 0 {
		s.A = a
	}
	if t1 == 1 {
		s.B = b
	}
	return append(out, s)
}

// Offset returns r moved inward by d using mitred edge offsets. ok is false
// when the ring collapses or inverts at that distance.
func Offset(r Ring, d float64) (Ring, bool) {
	o := r.open()
	n := len(o)
	area := Area(o)
	if n < 3 || area == 0 {
		return nil, false
	}
	if d == 0 {
		return append(Ring(nil), o...), true
	}
	// Inward is to the left of travel for counter-clockwise rings.
	side := 1.0
	if area < 0 {
		side = -1
	}
	type line struct{ p, dir Point }
	lines := make([]line, 0, n)
	for i := range o {
		p, q := o[i], o[(i+1)%n]
		e := q.sub(p)
		l := math.Hypot(e.X, e.Y)
		if l == 0 {
			continue
		}
		normal := Point{-e.Y / l, e.X / l}.scale(side * d)
		lines = append(lines, line{p: p.add(normal), dir: e})
	}
	if len(lines) < 3 {
		return nil, false
	}
	out := make(Ring, 0, len(lines))
	for i := range lines {
		prev := lines[(i+len(lines)-1)%len(lines)]
		cur := lines[i]
		den := prev.dir.cross(cur.dir)
		if math.Abs(den) <= clipEpsilon*math.Hypot(prev.dir.X, prev.dir.Y)*math.Hypot(cur.dir.X, cur.dir.Y) {
			out = append(out, cur.p)
			continue
		}
		t := cur.p.sub(prev.p).cross(cur.dir) / den
		out = append(out, prev.p.add(prev.dir.scale(t)))
	}
	for i := range lines {
		// Edges that flip direction mean the offset passed through itself.
		if out[(i+1)%len(out)].sub(out[i]).dot(lines[i].dir) <= 0 {
			return nil, false
		}
	}
	shrunk := Area(out)
	if shrunk == 0 || math.Signbit(shrunk) != math.Signbit(area) || math.Abs(shrunk) >= math.Abs(area) {
		return nil, false
	}
	for _, p := range out {
		if !ContainsPoint(o, p) {
			return nil, false
		}
	}
	return out, true
}
