package flightpath

import (
	"math"

	"droneops-survey/internal/geo"
)

// maxSpiralSamples bounds the spiral for pathological spacing/extent ratios.
const maxSpiralSamples = 200000

// sweepLines lays parallel lines across the bounding box, centred on its
// extent, and clips each one against the polygon. Horizontal lines run at
// constant Y; vertical ones at constant X. Lines that miss the polygon are
// dropped. Every returned line runs in increasing X (or Y) order.
func sweepLines(r geo.Ring, box geo.Box, spacing float64, vertical bool) [][]geo.Segment {
	lo, extent := box.Min.Y, box.Height()
	if vertical {
		lo, extent = box.Min.X, box.Width()
	}
	n := int(math.Floor(extent/spacing+1e-9)) + 1
	offset := (extent - float64(n-1)*spacing) / 2
	pad := spacing

	var out [][]geo.Segment
	for i := 0; i < n; i++ {
		v := lo + offset + float64(i)*spacing
		a := geo.Point{X: box.Min.X - pad, Y: v}
		b := geo.Point{X: box.Max.X + pad, Y: v}
		if vertical {
			a = geo.Point{X: v, Y: box.Min.Y - pad}
			b = geo.Point{X: v, Y: box.Max.Y + pad}
		}
		if segs := geo.ClipSegment(r, a, b); len(segs) > 0 {
			out = append(out, segs)
		}
	}
	return out
}

// reverseLine flips a clipped line so it is flown from its far end.
func reverseLine(segs []geo.Segment) []geo.Segment {
	out := make([]geo.Segment, len(segs))
	for i, s := range segs {
		out[len(segs)-1-i] = geo.Segment{A: s.B, B: s.A}
	}
	return out
}

func linePoints(segs []geo.Segment) []geo.Point {
	out := make([]geo.Point, 0, 2*len(segs))
	for _, s := range segs {
		out = append(out, s.A, s.B)
	}
	return out
}

// crosshatch flies a boustrophedon over horizontal lines followed by a
// second boustrophedon over vertical lines. The first pass starts from the
// side closest to from; the second continues from wherever the first ended.
func crosshatch(r geo.Ring, box geo.Box, spacing float64, from geo.Point) [][]geo.Point {
	var out [][]geo.Point
	pos := from
	for _, vertical := range []bool{false, true} {
		lines := sweepLines(r, box, spacing, vertical)
		if len(lines) == 0 {
			continue
		}
		first := lines[0][0].A
		lastLine := lines[len(lines)-1]
		last := lastLine[len(lastLine)-1].B
		if pos.DistanceTo(last) < pos.DistanceTo(first) {
			for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
				lines[i], lines[j] = lines[j], lines[i]
			}
		}
		// Direction of the first line is whichever end is closer; every
		// following line alternates.
		forward := pos.DistanceTo(lines[0][0].A) <= pos.DistanceTo(lines[0][len(lines[0])-1].B)
		for _, segs := range lines {
			if !forward {
				segs = reverseLine(segs)
			}
			pts := linePoints(segs)
			out = append(out, pts)
			pos = pts[len(pts)-1]
			forward = !forward
		}
	}
	return out
}

// perimeter follows the boundary and then successively inset rings, one
// spacing apart, for the requested number of passes. Each loop starts at the
// vertex nearest the previous position and closes on itself.
func perimeter(r geo.Ring, spacing float64, passes int, from geo.Point) [][]geo.Point {
	var out [][]geo.Point
	pos := from
	for k := 0; k < passes; k++ {
		ring := r
		if k > 0 {
			inset, ok := geo.Offset(r, float64(k)*spacing)
			if !ok {
				break
			}
			ring = inset
		}
		start := 0
		for i, p := range ring {
			if p.DistanceTo(pos) < ring[start].DistanceTo(pos) {
				start = i
			}
		}
		loop := make([]geo.Point, 0, len(ring)+1)
		for i := range ring {
			loop = append(loop, ring[(start+i)%len(ring)])
		}
		loop = append(loop, ring[start])
		out = append(out, loop)
		pos = ring[start]
	}
	return out
}

// spiral traces an Archimedean spiral r = spacing/(2π)·θ outward from the
// centroid, so adjacent turns are one spacing apart, until it clears every
// vertex. Only the parts inside the polygon are kept; contiguous parts are
// joined into one polyline.
func spiral(r geo.Ring, spacing, step float64) [][]geo.Point {
	c := geo.Centroid(r)
	var maxR float64
	for _, p := range r {
		maxR = math.Max(maxR, c.DistanceTo(p))
	}
	b := spacing / (2 * math.Pi)
	at := func(theta float64) geo.Point {
		rad := b * theta
		return geo.Point{X: c.X + rad*math.Cos(theta), Y: c.Y + rad*math.Sin(theta)}
	}

	var out [][]geo.Point
	var cur []geo.Point
	flush := func() {
		if len(cur) > 1 {
			out = append(out, cur)
		}
		cur = nil
	}

	theta := 0.0
	prev := c
	for i := 0; i < maxSpiralSamples; i++ {
		rad := b * theta
		theta += step / math.Max(rad, step)
		next := at(theta)
		for _, s := range geo.ClipSegment(r, prev, next) {
			if len(cur) > 0 && cur[len(cur)-1].DistanceTo(s.A) <= 1e-9 {
				cur = append(cur, s.B)
				continue
			}
			flush()
			cur = []geo.Point{s.A, s.B}
		}
		if len(cur) > 0 && cur[len(cur)-1].DistanceTo(next) > 1e-9 {
			flush()
		}
		prev = next
		if b*theta > maxR {
			break
		}
	}
	flush()
	return out
}
