// Package geom provides the small geometry vocabulary shared by every stage
// of the frame pipeline: points, sizes, float and integer rectangles, and 2D
// affine transforms with a coarse classification used by the picture cache.
package geom

import "math"

// Point is a position in some 2D coordinate space.
type Point struct {
	X, Y float32
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float32) Point { return Point{X: x, Y: y} }

// Add returns p translated by v.
func (p Point) Add(v Vector) Point { return Point{X: p.X + v.X, Y: p.Y + v.Y} }

// Vector is a 2D displacement.
type Vector struct {
	X, Y float32
}

// Vec is shorthand for Vector{X: x, Y: y}.
func Vec(x, y float32) Vector { return Vector{X: x, Y: y} }

// Add returns the sum of two vectors.
func (v Vector) Add(o Vector) Vector { return Vector{X: v.X + o.X, Y: v.Y + o.Y} }

// Neg returns the inverse displacement.
func (v Vector) Neg() Vector { return Vector{X: -v.X, Y: -v.Y} }

// IsZero reports whether both components are zero.
func (v Vector) IsZero() bool { return v.X == 0 && v.Y == 0 }

// Size is a width and height pair.
type Size struct {
	Width, Height float32
}

// IsEmpty reports whether the size encloses no area.
func (s Size) IsEmpty() bool { return s.Width <= 0 || s.Height <= 0 }

// Rect is an axis-aligned rectangle stored as min/max bounds.
type Rect struct {
	MinX, MinY float32
	MaxX, MaxY float32
}

// RectXYWH builds a rectangle from an origin and a size.
func RectXYWH(x, y, w, h float32) Rect {
	return Rect{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}
}

// RectFromSize builds a rectangle at the origin.
func RectFromSize(s Size) Rect {
	return Rect{MaxX: s.Width, MaxY: s.Height}
}

// EmptyRect returns an inverted rectangle that acts as the identity for Union.
func EmptyRect() Rect {
	return Rect{
		MinX: math.MaxFloat32,
		MinY: math.MaxFloat32,
		MaxX: -math.MaxFloat32,
		MaxY: -math.MaxFloat32,
	}
}

// IsEmpty returns true if the rectangle has no area.
func (r Rect) IsEmpty() bool {
	return !(r.MinX < r.MaxX && r.MinY < r.MaxY)
}

// Width returns the width of the rectangle, or 0 when empty.
func (r Rect) Width() float32 {
	if r.IsEmpty() {
		return 0
	}
	return r.MaxX - r.MinX
}

// Height returns the height of the rectangle, or 0 when empty.
func (r Rect) Height() float32 {
	if r.IsEmpty() {
		return 0
	}
	return r.MaxY - r.MinY
}

// Size returns the extent of the rectangle.
func (r Rect) Size() Size { return Size{Width: r.Width(), Height: r.Height()} }

// Origin returns the top-left corner.
func (r Rect) Origin() Point { return Point{X: r.MinX, Y: r.MinY} }

// Union returns the smallest rectangle containing both r and other.
// Empty operands are ignored.
func (r Rect) Union(other Rect) Rect {
	if other.IsEmpty() {
		return r
	}
	if r.IsEmpty() {
		return other
	}
	return Rect{
		MinX: min(r.MinX, other.MinX),
		MinY: min(r.MinY, other.MinY),
		MaxX: max(r.MaxX, other.MaxX),
		MaxY: max(r.MaxY, other.MaxY),
	}
}

// Intersection returns the overlap of r and other. The result may be empty.
func (r Rect) Intersection(other Rect) Rect {
	return Rect{
		MinX: max(r.MinX, other.MinX),
		MinY: max(r.MinY, other.MinY),
		MaxX: min(r.MaxX, other.MaxX),
		MaxY: min(r.MaxY, other.MaxY),
	}
}

// Intersects reports whether r and other share any area.
func (r Rect) Intersects(other Rect) bool {
	return !r.Intersection(other).IsEmpty()
}

// Contains reports whether p lies inside r. The max edges are exclusive.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X < r.MaxX && p.Y >= r.MinY && p.Y < r.MaxY
}

// ContainsRect reports whether other lies entirely inside r.
func (r Rect) ContainsRect(other Rect) bool {
	return other.MinX >= r.MinX && other.MinY >= r.MinY &&
		other.MaxX <= r.MaxX && other.MaxY <= r.MaxY
}

// Translate offsets the rectangle by v.
func (r Rect) Translate(v Vector) Rect {
	return Rect{MinX: r.MinX + v.X, MinY: r.MinY + v.Y, MaxX: r.MaxX + v.X, MaxY: r.MaxY + v.Y}
}

// Scale multiplies every edge by s.
func (r Rect) Scale(s float32) Rect {
	return Rect{MinX: r.MinX * s, MinY: r.MinY * s, MaxX: r.MaxX * s, MaxY: r.MaxY * s}
}

// RoundOut returns the smallest integer rectangle containing r.
func (r Rect) RoundOut() IntRect {
	if r.IsEmpty() {
		return IntRect{}
	}
	return IntRect{
		MinX: int32(math.Floor(float64(r.MinX))),
		MinY: int32(math.Floor(float64(r.MinY))),
		MaxX: int32(math.Ceil(float64(r.MaxX))),
		MaxY: int32(math.Ceil(float64(r.MaxY))),
	}
}

// IsFinite reports whether all edges are finite numbers.
func (r Rect) IsFinite() bool {
	return isFinite(r.MinX) && isFinite(r.MinY) && isFinite(r.MaxX) && isFinite(r.MaxY)
}

// IntRect is an integer rectangle in device pixels.
type IntRect struct {
	MinX, MinY int32
	MaxX, MaxY int32
}

// IntRectXYWH builds an integer rectangle from an origin and a size.
func IntRectXYWH(x, y, w, h int32) IntRect {
	return IntRect{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}
}

// IsEmpty returns true if the rectangle has no area.
func (r IntRect) IsEmpty() bool { return r.MinX >= r.MaxX || r.MinY >= r.MaxY }

// Width returns the width in pixels.
func (r IntRect) Width() int32 {
	if r.IsEmpty() {
		return 0
	}
	return r.MaxX - r.MinX
}

// Height returns the height in pixels.
func (r IntRect) Height() int32 {
	if r.IsEmpty() {
		return 0
	}
	return r.MaxY - r.MinY
}

// Area returns Width*Height.
func (r IntRect) Area() int64 { return int64(r.Width()) * int64(r.Height()) }

// Union returns the smallest rectangle containing both. Empty operands are ignored.
func (r IntRect) Union(other IntRect) IntRect {
	if other.IsEmpty() {
		return r
	}
	if r.IsEmpty() {
		return other
	}
	return IntRect{
		MinX: min(r.MinX, other.MinX),
		MinY: min(r.MinY, other.MinY),
		MaxX: max(r.MaxX, other.MaxX),
		MaxY: max(r.MaxY, other.MaxY),
	}
}

// Intersection returns the overlap of r and other.
func (r IntRect) Intersection(other IntRect) IntRect {
	out := IntRect{
		MinX: max(r.MinX, other.MinX),
		MinY: max(r.MinY, other.MinY),
		MaxX: min(r.MaxX, other.MaxX),
		MaxY: min(r.MaxY, other.MaxY),
	}
	if out.IsEmpty() {
		return IntRect{}
	}
	return out
}

// Intersects reports whether the rectangles share any pixel.
func (r IntRect) Intersects(other IntRect) bool {
	return !r.Intersection(other).IsEmpty()
}

// ToRect converts to float coordinates.
func (r IntRect) ToRect() Rect {
	return Rect{MinX: float32(r.MinX), MinY: float32(r.MinY), MaxX: float32(r.MaxX), MaxY: float32(r.MaxY)}
}

func isFinite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
