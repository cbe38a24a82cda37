// Package align matches inferred end members to ground truth and scores the
// geometry of recovered end-member sets.
package align

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"
)

// Result relates inferred end members to the ground truth.
type Result struct {
	// Permutation maps truth index i to inferred row Permutation[i].
	Permutation []int
	// Diffs holds means[Permutation[i]] - truth[i] per row.
	Diffs *mat.Dense
	// Norm is the Frobenius norm of Diffs.
	Norm float64
}

// Permutations returns every ordering of 0..k-1 in lexicographic order.
func Permutations(k int) [][]int {
	perms := combin.Permutations(k, k)
	slices.SortFunc(perms, func(a, b []int) int { return slices.Compare(a, b) })
	return perms
}

// ClosestPermutation returns the row ordering of means that minimises the
// Frobenius norm of means[perm] - truth. Exact ties keep the first
// permutation in lexicographic order.
func ClosestPermutation(means, truth mat.Matrix) ([]int, error) {
	res, err := Align(means, truth)
	if err != nil {
		return nil, err
	}
	return res.Permutation, nil
}

// ClosestPermutationDiffs is ClosestPermutation returning the differences of
// the selected permutation as well.
func ClosestPermutationDiffs(means, truth mat.Matrix) ([]int, *mat.Dense, error) {
	res, err := Align(means, truth)
	if err != nil {
		return nil, nil, err
	}
	return res.Permutation, res.Diffs, nil
}

// Align enumerates all K! permutations and keeps the best one.
func Align(means, truth mat.Matrix) (*Result, error) {
	k, d := means.Dims()
	tk, td := truth.Dims()
	if k != tk || d != td {
		return nil, errors.Errorf("align: means are %d×%d but truth is %d×%d", k, d, tk, td)
	}
	if k == 0 {
		return nil, errors.New("align: no end members")
	}

	best := &Result{Norm: math.Inf(1)}
	diff := make([]float64, k*d)
	for _, perm := range Permutations(k) {
		for i, p := range perm {
			for j := 0; j < d; j++ {
				diff[i*d+j] = means.At(p, j) - truth.At(i, j)
			}
		}
		norm := floats.Norm(diff, 2)
		if norm < best.Norm {
			best.Norm = norm
			best.Permutation = perm
			best.Diffs = mat.NewDense(k, d, slices.Clone(diff))
		}
	}
	if best.Permutation == nil {
		return nil, errors.New("align: differences are not finite")
	}
	return best, nil
}

// Permute returns the rows of m reordered by perm.
func Permute(m mat.Matrix, perm []int) *mat.Dense {
	_, d := m.Dims()
	out := mat.NewDense(len(perm), d, nil)
	for i, p := range perm {
		for j := 0; j < d; j++ {
			out.Set(i, j, m.At(p, j))
		}
	}
	return out
}
