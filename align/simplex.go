package align

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SimplexDistortion returns |cross(b-a, c-a)| for three points in the plane.
// With normalize set, the value is divided by twice the area of the
// equilateral triangle with the same mean edge length, so a regular simplex
// scores 1 and collinear points score 0.
func SimplexDistortion(a, b, c []float64, normalize bool) float64 {
	ab := []float64{b[0] - a[0], b[1] - a[1]}
	ac := []float64{c[0] - a[0], c[1] - a[1]}
	v := math.Abs(ab[0]*ac[1] - ab[1]*ac[0])
	if !normalize {
		return v
	}
	edge := (floats.Distance(a, b, 2) + floats.Distance(b, c, 2) + floats.Distance(a, c, 2)) / 3
	ref := 2 * math.Sqrt(3) / 4 * edge * edge
	if ref == 0 {
		return 0
	}
	return v / ref
}

// SimplexDistortionOf scores the rows of a 3×2 end-member matrix.
func SimplexDistortionOf(locs mat.Matrix, normalize bool) (float64, error) {
	k, d := locs.Dims()
	if k != 3 || d != 2 {
		return 0, errors.Errorf("simplex distortion: defined for 3 end members in 2 dimensions, got %d×%d", k, d)
	}
	a := mat.Row(nil, 0, locs)
	b := mat.Row(nil, 1, locs)
	c := mat.Row(nil, 2, locs)
	return SimplexDistortion(a, b, c, normalize), nil
}
