package model

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Samples is a posterior (or posterior predictive) sample set, one completed
// trace per draw.
type Samples []*Trace

// Len returns the number of draws.
func (s Samples) Len() int { return len(s) }

// Locs returns the end-member location draws as an [S, K, D] tensor, or nil
// for an empty set.
func (s Samples) Locs() *tensors.Tensor {
	if len(s) == 0 {
		return nil
	}
	k, d := s[0].Locs.Dims()
	flat := make([]float64, 0, len(s)*k*d)
	for _, tr := range s {
		for j := 0; j < k; j++ {
			flat = append(flat, tr.Locs.RawRowView(j)...)
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, len(s), k, d)
}

// Component returns the draws of end member k as an S×D matrix.
func (s Samples) Component(k int) *mat.Dense {
	if len(s) == 0 {
		return nil
	}
	c, err := ComponentOf(s.Locs(), k)
	if err != nil {
		panic(err)
	}
	return c
}

// LocMeans returns the posterior mean location of each end member (K×D).
func (s Samples) LocMeans() *mat.Dense {
	if len(s) == 0 {
		return nil
	}
	m, err := LocMeansOf(s.Locs())
	if err != nil {
		panic(err)
	}
	return m
}

// LogLikelihood sums LogLikelihood over every draw.
func (s Samples) LogLikelihood(data mat.Matrix) float64 {
	var ll float64
	for _, tr := range s {
		ll += LogLikelihood(tr, data)
	}
	return ll
}

func locDims(t *tensors.Tensor) (s, k, d int, err error) {
	if t == nil {
		return 0, 0, 0, errors.New("locs tensor is nil")
	}
	dims := t.Shape().Dimensions
	if len(dims) != 3 {
		return 0, 0, 0, errors.Errorf("locs tensor has rank %d, want 3", len(dims))
	}
	return dims[0], dims[1], dims[2], nil
}

// ComponentOf returns the draws of end member k from an [S, K, D] location
// tensor as an S×D matrix.
func ComponentOf(t *tensors.Tensor, k int) (*mat.Dense, error) {
	s, nk, d, err := locDims(t)
	if err != nil {
		return nil, err
	}
	if s == 0 {
		return nil, errors.New("locs tensor has no draws")
	}
	if k < 0 || k >= nk {
		return nil, errors.Errorf("component %d out of range [0, %d)", k, nk)
	}
	flat := tensors.CopyFlatData[float64](t)
	out := mat.NewDense(s, d, nil)
	for i := 0; i < s; i++ {
		off := (i*nk + k) * d
		out.SetRow(i, flat[off:off+d])
	}
	return out, nil
}

// LocMeansOf averages an [S, K, D] location tensor over draws.
func LocMeansOf(t *tensors.Tensor) (*mat.Dense, error) {
	s, k, d, err := locDims(t)
	if err != nil {
		return nil, err
	}
	if s == 0 {
		return nil, errors.New("locs tensor has no draws")
	}
	flat := tensors.CopyFlatData[float64](t)
	out := mat.NewDense(k, d, nil)
	raw := out.RawMatrix().Data
	for i := 0; i < s; i++ {
		for j, v := range flat[i*k*d : (i+1)*k*d] {
			raw[j] += v
		}
	}
	out.Scale(1/float64(s), out)
	return out, nil
}
