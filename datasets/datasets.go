// Package datasets draws synthetic end-member mixing datasets from the
// generative model and moves them to and from CSV.
//
// A Dataset is created once per draw and treated as immutable afterwards:
//   - Expectation: per-observation weighted end-member combination (N×D)
//   - Locs: ground-truth end-member locations (K×D)
//   - Obs: noisy observations (N×D)
//   - Weights: global mixture weights (K)
//   - Trace: the full prior draw, including scales and local weights
package datasets

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/Noofbiz/bmix/model"
)

// GenerateConfig holds the knobs of a synthetic draw. Zero fields take the
// defaults listed on each field.
type GenerateConfig struct {
	// N is the number of observations. Default 500.
	N int
	// Alpha is the local-weight concentration multiplier. Default 1.
	Alpha float64
	// NoiseScale centres the scale prior. Default 0.01.
	NoiseScale float64
	// AlphaComponents is the global-weight concentration. Default 5.
	AlphaComponents float64
	// Covariance selects correlated or diagonal noise. Default correlated.
	Covariance model.Covariance
}

// Dataset is one synthetic draw.
type Dataset struct {
	Expectation *mat.Dense
	Locs        *mat.Dense
	Obs         *mat.Dense
	Weights     []float64

	// Trace is the complete prior draw. It is nil for datasets read from CSV.
	Trace *model.Trace

	// NoiseScale and Alpha record the hyperparameters used for the draw.
	NoiseScale float64
	Alpha      float64
}

// Generate draws exactly one dataset from the prior of the generative model.
// The result depends only on cfg and the state of rng.
func Generate(rng *rand.Rand, cfg GenerateConfig) (*Dataset, error) {
	if rng == nil {
		return nil, errors.New("generate: rng is nil")
	}
	if cfg.AlphaComponents == 0 {
		cfg.AlphaComponents = 5
	}
	m, err := model.New(model.Hyper{
		N:               cfg.N,
		Alpha:           cfg.Alpha,
		NoiseScale:      cfg.NoiseScale,
		AlphaComponents: cfg.AlphaComponents,
		Covariance:      cfg.Covariance,
	})
	if err != nil {
		return nil, errors.Wrap(err, "generate")
	}
	tr, err := m.Sample(rng)
	if err != nil {
		return nil, errors.Wrap(err, "generate")
	}
	return &Dataset{
		Expectation: tr.Expectation,
		Locs:        tr.Locs,
		Obs:         tr.Obs,
		Weights:     tr.Weights,
		Trace:       tr,
		NoiseScale:  m.Hyper.NoiseScale,
		Alpha:       m.Hyper.Alpha,
	}, nil
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	if d == nil || d.Obs == nil {
		return 0
	}
	n, _ := d.Obs.Dims()
	return n
}

// Components returns the number of ground-truth end members.
func (d *Dataset) Components() int {
	if d == nil || d.Locs == nil {
		return 0
	}
	k, _ := d.Locs.Dims()
	return k
}
