package geom

import "math"

// Transform represents a 2D affine transformation matrix.
// The matrix is stored in row-major order as:
//
//	| A  B  C |
//	| D  E  F |
//
// Where a point (x, y) is transformed to:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
type Transform struct {
	A, B, C float32
	D, E, F float32
}

// Identity returns the identity transformation.
func Identity() Transform {
	return Transform{A: 1, E: 1}
}

// Translation creates a translation transformation.
func Translation(x, y float32) Transform {
	return Transform{A: 1, C: x, E: 1, F: y}
}

// Scale creates a scaling transformation.
func Scale(x, y float32) Transform {
	return Transform{A: x, E: y}
}

// Rotation creates a rotation transformation (angle in radians).
func Rotation(angle float32) Transform {
	cos := float32(math.Cos(float64(angle)))
	sin := float32(math.Sin(float64(angle)))
	return Transform{A: cos, B: -sin, D: sin, E: cos}
}

// Multiply returns t∘o: o is applied first, then t.
func (t Transform) Multiply(o Transform) Transform {
	return Transform{
		A: t.A*o.A + t.B*o.D,
		B: t.A*o.B + t.B*o.E,
		C: t.A*o.C + t.B*o.F + t.C,
		D: t.D*o.A + t.E*o.D,
		E: t.D*o.B + t.E*o.E,
		F: t.D*o.C + t.E*o.F + t.F,
	}
}

// PreTranslate returns t∘Translation(v).
func (t Transform) PreTranslate(v Vector) Transform {
	return t.Multiply(Translation(v.X, v.Y))
}

// TransformPoint maps a point through the matrix.
func (t Transform) TransformPoint(p Point) Point {
	return Point{X: t.A*p.X + t.B*p.Y + t.C, Y: t.D*p.X + t.E*p.Y + t.F}
}

// TransformRect returns the axis-aligned bounds of the mapped rectangle.
func (t Transform) TransformRect(r Rect) Rect {
	if r.IsEmpty() {
		return Rect{}
	}
	if t.B == 0 && t.D == 0 {
		x0, x1 := t.A*r.MinX+t.C, t.A*r.MaxX+t.C
		y0, y1 := t.E*r.MinY+t.F, t.E*r.MaxY+t.F
		return Rect{MinX: min(x0, x1), MinY: min(y0, y1), MaxX: max(x0, x1), MaxY: max(y0, y1)}
	}
	out := EmptyRect()
	for _, p := range [4]Point{
		{r.MinX, r.MinY}, {r.MaxX, r.MinY}, {r.MinX, r.MaxY}, {r.MaxX, r.MaxY},
	} {
		q := t.TransformPoint(p)
		out.MinX = min(out.MinX, q.X)
		out.MinY = min(out.MinY, q.Y)
		out.MaxX = max(out.MaxX, q.X)
		out.MaxY = max(out.MaxY, q.Y)
	}
	return out
}

// Determinant returns the determinant of the linear part.
func (t Transform) Determinant() float32 {
	return t.A*t.E - t.B*t.D
}

// IsFinite reports whether every coefficient is a finite number.
func (t Transform) IsFinite() bool {
	return isFinite(t.A) && isFinite(t.B) && isFinite(t.C) &&
		isFinite(t.D) && isFinite(t.E) && isFinite(t.F)
}

// IsInvertible reports whether the transform is finite and non-singular.
func (t Transform) IsInvertible() bool {
	det := t.Determinant()
	return t.IsFinite() && det != 0 && isFinite(det)
}

// Inverse returns the inverse transform. ok is false for singular or
// non-finite matrices, in which case the identity is returned.
func (t Transform) Inverse() (inv Transform, ok bool) {
	if !t.IsInvertible() {
		return Identity(), false
	}
	d := 1 / t.Determinant()
	inv = Transform{
		A: t.E * d,
		B: -t.B * d,
		D: -t.D * d,
		E: t.A * d,
	}
	inv.C = -(inv.A*t.C + inv.B*t.F)
	inv.F = -(inv.D*t.C + inv.E*t.F)
	return inv, inv.IsFinite()
}

// IsIdentity returns true if this is the identity transformation.
func (t Transform) IsIdentity() bool {
	return t.A == 1 && t.B == 0 && t.C == 0 &&
		t.D == 0 && t.E == 1 && t.F == 0
}

// TranslationPart returns the (C, F) offset.
func (t Transform) TranslationPart() Vector {
	return Vector{X: t.C, Y: t.F}
}

// Class returns the coarse classification of the transform.
func (t Transform) Class() Class {
	switch {
	case t.B != 0 || t.D != 0:
		return ClassComplex
	case t.A != 1 || t.E != 1:
		return ClassScaleOffset
	case t.C != 0 || t.F != 0:
		return ClassTranslation
	default:
		return ClassIdentity
	}
}

// Class buckets transforms by how they can be rasterized and cached.
type Class uint8

// Transform classes, ordered from simplest to most general.
const (
	ClassIdentity Class = iota
	ClassTranslation
	ClassScaleOffset
	ClassComplex
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassIdentity:
		return "Identity"
	case ClassTranslation:
		return "Translation"
	case ClassScaleOffset:
		return "ScaleOffset"
	case ClassComplex:
		return "Complex"
	default:
		return "Unknown"
	}
}

// IsAxisAligned reports whether rectangles stay rectangles under this class.
func (c Class) IsAxisAligned() bool { return c != ClassComplex }
