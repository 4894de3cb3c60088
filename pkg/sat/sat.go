// Package sat implements Separating Axis Theorem tests for convex polygons.
//
// Two convex polygons do not intersect if and only if there is an axis
// onto which their projections do not overlap. For polygons only the edge
// normals of both shapes need to be tested. When the polygons do overlap,
// the axis with the smallest overlap gives the minimum translation vector
// needed to push them apart.
package sat

import (
	"math"
	"sync"

	"github.com/menta2k/crop-surface/pkg/geom"
)

// Response holds the result of a collision test. It is filled in only when
// the shapes collide.
type Response struct {
	A *geom.Polygon
	B *geom.Polygon

	// Overlap is the magnitude of the smallest overlap found
	Overlap float64
	// OverlapN is the unit axis of smallest overlap, pointing from A to B
	OverlapN geom.Vector
	// OverlapV is OverlapN scaled by Overlap. Subtracting it from A's
	// position separates the shapes.
	OverlapV geom.Vector

	AInB bool
	BInA bool
}

// NewResponse returns a cleared response
func NewResponse() *Response {
	r := &Response{}
	return r.Clear()
}

// Clear resets the response to the sentinel state: infinite overlap and
// both shapes fully contained. Axis tests only ever tighten it.
func (r *Response) Clear() *Response {
	r.A = nil
	r.B = nil
	r.Overlap = math.Inf(1)
	r.OverlapN = geom.Vector{}
	r.OverlapV = geom.Vector{}
	r.AInB = true
	r.BInA = true
	return r
}

// interval is a [min, max] projection onto an axis
type interval [2]float64

// scratch holds the per-call buffers. Calls take one from the pool so
// concurrent tests never share state.
type scratch struct {
	rangeA interval
	rangeB interval
}

var scratchPool = sync.Pool{
	New: func() any { return new(scratch) },
}

// axisTest is the per-axis routine used by TestPolygonPolygon. Tests swap
// it out to count how many axes are evaluated.
var axisTest = isSeparatingAxis

// FlattenPointsOn projects points onto the unit normal and returns the
// resulting interval.
func FlattenPointsOn(points []geom.Vector, normal geom.Vector) (min, max float64) {
	min = math.MaxFloat64
	max = -math.MaxFloat64
	for _, p := range points {
		d := p.Dot(normal)
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

func flattenPolygonOn(p *geom.Polygon, normal geom.Vector, out *interval) {
	out[0] = math.MaxFloat64
	out[1] = -math.MaxFloat64
	for i := 0; i < p.Len(); i++ {
		d := p.PointAt(i).Dot(normal)
		if d < out[0] {
			out[0] = d
		}
		if d > out[1] {
			out[1] = d
		}
	}
}

// isSeparatingAxis reports whether axis separates a and b. When it does not
// and r is non-nil, r is updated with the overlap along this axis.
func isSeparatingAxis(a, b *geom.Polygon, axis geom.Vector, r *Response) bool {
	s := scratchPool.Get().(*scratch)
	defer scratchPool.Put(s)

	flattenPolygonOn(a, axis, &s.rangeA)
	flattenPolygonOn(b, axis, &s.rangeB)

	projectedOffset := b.Pos.Sub(a.Pos).Dot(axis)
	s.rangeB[0] += projectedOffset
	s.rangeB[1] += projectedOffset

	rangeA, rangeB := s.rangeA, s.rangeB
	if rangeA[0] > rangeB[1] || rangeB[0] > rangeA[1] {
		return true
	}

	if r == nil {
		return false
	}

	var overlap float64
	if rangeA[0] < rangeB[0] {
		// A starts further left
		r.AInB = false
		if rangeA[1] < rangeB[1] {
			// A ends before B does
			overlap = rangeA[1] - rangeB[0]
			r.BInA = false
		} else {
			overlap = nestedOverlap(rangeA, rangeB)
		}
	} else {
		// B starts further left
		r.BInA = false
		if rangeA[1] > rangeB[1] {
			// B ends before A does
			overlap = rangeA[0] - rangeB[1]
			r.AInB = false
		} else {
			overlap = nestedOverlap(rangeA, rangeB)
		}
	}

	absOverlap := math.Abs(overlap)
	if absOverlap < r.Overlap {
		r.Overlap = absOverlap
		r.OverlapN = axis
		if overlap < 0 {
			r.OverlapN = axis.Reverse()
		}
	}
	return false
}

// nestedOverlap picks the shorter way out when one interval contains the other
func nestedOverlap(rangeA, rangeB interval) float64 {
	option1 := rangeA[1] - rangeB[0]
	option2 := rangeB[1] - rangeA[0]
	if option1 < option2 {
		return option1
	}
	return -option2
}

// TestPolygonPolygon reports whether a and b overlap. Every edge normal of a
// and then of b is tried as a separating axis; the first one found ends the
// test. When the polygons collide and r is non-nil, r receives the minimum
// translation vector.
func TestPolygonPolygon(a, b *geom.Polygon, r *Response) bool {
	for i := 0; i < a.Len(); i++ {
		if axisTest(a, b, a.NormalAt(i), r) {
			return false
		}
	}
	for i := 0; i < b.Len(); i++ {
		if axisTest(a, b, b.NormalAt(i), r) {
			return false
		}
	}
	if r != nil {
		r.A = a
		r.B = b
		r.OverlapV = r.OverlapN.Scale(r.Overlap)
	}
	return true
}

// PointInPolygon reports whether the world point p lies inside poly,
// boundary included. The point is tested as a single-vertex polygon, whose
// only edge is degenerate and contributes no axis.
func PointInPolygon(p geom.Vector, poly *geom.Polygon) bool {
	if poly.Len() == 0 {
		return false
	}
	point := geom.NewPolygon(p, []geom.Vector{{}})
	return TestPolygonPolygon(point, poly, nil)
}
