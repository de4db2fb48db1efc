package geom

import (
	"math"

	"golang.org/x/exp/constraints"
)

// AlignUp rounds v up to the next multiple of align. align must be positive.
func AlignUp[T constraints.Integer](v, align T) T {
	if align <= 0 {
		return v
	}
	r := v % align
	if r == 0 {
		return v
	}
	return v + align - r
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SplitPixel splits v into its whole-pixel part (rounded to nearest) and the
// signed fractional remainder, so that whole+frac == v.
func SplitPixel(v float32) (whole int32, frac float32) {
	r := float32(math.Round(float64(v)))
	return int32(r), v - r
}

// SplitVector applies SplitPixel to both components.
func SplitVector(v Vector) (whole [2]int32, frac Vector) {
	wx, fx := SplitPixel(v.X)
	wy, fy := SplitPixel(v.Y)
	return [2]int32{wx, wy}, Vector{X: fx, Y: fy}
}
