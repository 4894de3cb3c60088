package geom

import "math"

// Vector is a 2D vector. All operations return a new value and never
// modify the receiver or their arguments.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// V is a shorthand constructor for Vector
func V(x, y float64) Vector {
	return Vector{X: x, Y: y}
}

// Add returns v + o
func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale scales both components by s
func (v Vector) Scale(s float64) Vector {
	return Vector{X: v.X * s, Y: v.Y * s}
}

// ScaleXY scales the components independently
func (v Vector) ScaleXY(sx, sy float64) Vector {
	return Vector{X: v.X * sx, Y: v.Y * sy}
}

// Dot returns the dot product of v and o
func (v Vector) Dot(o Vector) float64 {
	return v.X*o.X + v.Y*o.Y
}

// Len2 returns the squared length
func (v Vector) Len2() float64 {
	return v.Dot(v)
}

// Len returns the length of the vector
func (v Vector) Len() float64 {
	return math.Sqrt(v.Len2())
}

// Perp returns the vector rotated 90 degrees: (x, y) -> (y, -x)
func (v Vector) Perp() Vector {
	return Vector{X: v.Y, Y: -v.X}
}

// Reverse returns -v
func (v Vector) Reverse() Vector {
	return Vector{X: -v.X, Y: -v.Y}
}

// Normalize returns the unit vector in the direction of v.
// The zero vector is returned unchanged.
func (v Vector) Normalize() Vector {
	d := v.Len()
	if d == 0 {
		return v
	}
	return Vector{X: v.X / d, Y: v.Y / d}
}

// Project projects v onto o. Projecting onto the zero vector yields the zero vector.
func (v Vector) Project(o Vector) Vector {
	l2 := o.Len2()
	if l2 == 0 {
		return Vector{}
	}
	return o.Scale(v.Dot(o) / l2)
}

// ProjectN projects v onto the unit vector n
func (v Vector) ProjectN(n Vector) Vector {
	return n.Scale(v.Dot(n))
}

// Reflect reflects v on the axis o
func (v Vector) Reflect(axis Vector) Vector {
	return v.Project(axis).Scale(2).Sub(v)
}

// ReflectN reflects v on the unit axis n
func (v Vector) ReflectN(n Vector) Vector {
	return v.ProjectN(n).Scale(2).Sub(v)
}

// Rotate rotates v counter-clockwise by angle radians (clockwise on screen, y down)
func (v Vector) Rotate(angle float64) Vector {
	sin, cos := math.Sincos(angle)
	return Vector{X: v.X*cos - v.Y*sin, Y: v.X*sin + v.Y*cos}
}

// IsZero reports whether both components are zero
func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// Approx reports whether v and o differ by less than eps on each axis
func (v Vector) Approx(o Vector, eps float64) bool {
	return math.Abs(v.X-o.X) < eps && math.Abs(v.Y-o.Y) < eps
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}
