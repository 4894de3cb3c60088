package geom

// Polygon is a convex polygon with points relative to Pos. Edges and
// normals are cached and rebuilt by Recalc whenever the points change.
type Polygon struct {
	Pos     Vector
	points  []Vector
	edges   []Vector
	normals []Vector
}

// NewPolygon creates a polygon at pos. Points should be in clockwise
// order on screen (y axis pointing down).
func NewPolygon(pos Vector, points []Vector) *Polygon {
	p := &Polygon{Pos: pos}
	p.SetPoints(points)
	return p
}

// NewBox creates an axis-aligned w x h rectangle with its top-left corner at pos
func NewBox(pos Vector, w, h float64) *Polygon {
	return NewPolygon(pos, []Vector{{0, 0}, {w, 0}, {w, h}, {0, h}})
}

// SetPoints replaces the points and recalculates edges and normals
func (p *Polygon) SetPoints(points []Vector) *Polygon {
	p.points = append(p.points[:0], points...)
	p.Recalc()
	return p
}

// Recalc rebuilds the edges and normals from the current points.
func (p *Polygon) Recalc() *Polygon {
	n := len(p.points)
	p.edges = p.edges[:0]
	p.normals = p.normals[:0]
	for i := 0; i < n; i++ {
		e := p.points[(i+1)%n].Sub(p.points[i])
		p.edges = append(p.edges, e)
		p.normals = append(p.normals, e.Perp().Normalize())
	}
	return p
}

// Rotate rotates the points around the polygon's origin
func (p *Polygon) Rotate(angle float64) *Polygon {
	for i := range p.points {
		p.points[i] = p.points[i].Rotate(angle)
	}
	return p.Recalc()
}

// Translate shifts every point by (x, y) relative to the origin
func (p *Polygon) Translate(x, y float64) *Polygon {
	d := V(x, y)
	for i := range p.points {
		p.points[i] = p.points[i].Add(d)
	}
	return p.Recalc()
}

// Len returns the number of vertices
func (p *Polygon) Len() int {
	return len(p.points)
}

// Points returns a copy of the local points
func (p *Polygon) Points() []Vector {
	return append([]Vector(nil), p.points...)
}

// Edges returns a copy of the cached edges
func (p *Polygon) Edges() []Vector {
	return append([]Vector(nil), p.edges...)
}

// Normals returns a copy of the cached unit normals
func (p *Polygon) Normals() []Vector {
	return append([]Vector(nil), p.normals...)
}

// WorldPoints returns the points offset by Pos
func (p *Polygon) WorldPoints() []Vector {
	out := make([]Vector, len(p.points))
	for i, pt := range p.points {
		out[i] = pt.Add(p.Pos)
	}
	return out
}

// PointAt returns point i without copying the slice
func (p *Polygon) PointAt(i int) Vector {
	return p.points[i]
}

// NormalAt returns normal i without copying the slice
func (p *Polygon) NormalAt(i int) Vector {
	return p.normals[i]
}

// Bounds returns the axis-aligned bounding box in world coordinates
func (p *Polygon) Bounds() (min, max Vector) {
	if len(p.points) == 0 {
		return p.Pos, p.Pos
	}
	min, max = p.points[0], p.points[0]
	for _, pt := range p.points[1:] {
		if pt.X < min.X {
			min.X = pt.X
		}
		if pt.Y < min.Y {
			min.Y = pt.Y
		}
		if pt.X > max.X {
			max.X = pt.X
		}
		if pt.Y > max.Y {
			max.Y = pt.Y
		}
	}
	return min.Add(p.Pos), max.Add(p.Pos)
}
