// Package model implements the hierarchical end-member mixture model: global
// mixture weights, per-dimension noise scales, end-member locations with
// optional correlation factors, per-observation mixing weights and Gaussian
// observations centred on the weighted end-member combination.
//
// Latent quantities are exposed in two forms. Latents holds the constrained
// values (simplex vectors, bounded scales, Cholesky factors of correlation
// matrices). Inference engines work on a flat unconstrained vector theta;
// Constrain and Unconstrain map between the two, and Conditioned.LogDensity
// evaluates the log joint on theta together with its gradient.
package model

import (
	"math"

	"github.com/pkg/errors"
)

// Covariance selects how observation noise couples coordinate dimensions.
type Covariance int

const (
	// Correlated draws one LKJ correlation factor per end member and blends
	// them with the local weights.
	Correlated Covariance = iota
	// Diagonal uses independent noise with variance equal to the scales.
	Diagonal
)

func (c Covariance) String() string {
	switch c {
	case Correlated:
		return "correlated"
	case Diagonal:
		return "diagonal"
	default:
		return "unknown"
	}
}

// ParseCovariance converts a configuration string into a Covariance.
func ParseCovariance(s string) (Covariance, error) {
	switch s {
	case "", "correlated", "full":
		return Correlated, nil
	case "diagonal", "diag", "independent":
		return Diagonal, nil
	}
	return 0, errors.Errorf("unknown covariance mode %q", s)
}

// Hyper holds the hyperparameters of the generative model.
type Hyper struct {
	// K is the number of end members. Default 3.
	K int
	// D is the coordinate dimensionality. Default 2.
	D int
	// N is the number of observations. Default 500.
	N int

	// Alpha scales the global weights into the Dirichlet concentration of
	// the local mixing weights. Default 1.
	Alpha float64
	// AlphaComponents is the symmetric Dirichlet concentration of the global
	// weights. Default 1.
	AlphaComponents float64

	// NoiseScale centres the uniform prior of the scales on
	// [0.5*NoiseScale, 1.5*NoiseScale]. Default 0.01.
	NoiseScale float64

	// Eta is the LKJ concentration. Default 1 (uniform over correlations).
	Eta float64

	Covariance Covariance
}

// WithDefaults returns a copy of h with zero fields replaced by defaults.
func (h Hyper) WithDefaults() Hyper {
	if h.K == 0 {
		h.K = 3
	}
	if h.D == 0 {
		h.D = 2
	}
	if h.N == 0 {
		h.N = 500
	}
	if h.Alpha == 0 {
		h.Alpha = 1
	}
	if h.AlphaComponents == 0 {
		h.AlphaComponents = 1
	}
	if h.NoiseScale == 0 {
		h.NoiseScale = 0.01
	}
	if h.Eta == 0 {
		h.Eta = 1
	}
	return h
}

// Validate reports the first invalid hyperparameter.
func (h Hyper) Validate() error {
	switch {
	case h.K < 2:
		return errors.Errorf("K must be >= 2, got %d", h.K)
	case h.D < 1:
		return errors.Errorf("D must be >= 1, got %d", h.D)
	case h.N < 1:
		return errors.Errorf("N must be >= 1, got %d", h.N)
	case !(h.Alpha > 0) || math.IsInf(h.Alpha, 0):
		return errors.Errorf("alpha must be positive and finite, got %v", h.Alpha)
	case !(h.AlphaComponents > 0) || math.IsInf(h.AlphaComponents, 0):
		return errors.Errorf("alpha_components must be positive and finite, got %v", h.AlphaComponents)
	case !(h.NoiseScale > 0) || math.IsInf(h.NoiseScale, 0):
		return errors.Errorf("noise scale must be positive and finite, got %v", h.NoiseScale)
	case !(h.Eta > 0):
		return errors.Errorf("eta must be positive, got %v", h.Eta)
	case h.Covariance != Correlated && h.Covariance != Diagonal:
		return errors.Errorf("unknown covariance mode %d", h.Covariance)
	}
	return nil
}

// ScaleBounds returns the support of the uniform scale prior.
func (h Hyper) ScaleBounds() (lo, hi float64) {
	return 0.5 * h.NoiseScale, 1.5 * h.NoiseScale
}

// layout records where each latent site lives inside theta.
type layout struct {
	weights, scales, locs, corr, local int // offsets
	nCorr                               int // partial correlations per component
	dim                                 int
}

func newLayout(h Hyper) layout {
	var l layout
	off := 0
	l.weights = off
	off += h.K - 1
	l.scales = off
	off += h.D
	l.locs = off
	off += h.K * h.D
	l.corr = off
	if h.Covariance == Correlated {
		l.nCorr = h.D * (h.D - 1) / 2
		off += h.K * l.nCorr
	}
	l.local = off
	off += h.N * (h.K - 1)
	l.dim = off
	return l
}

// Model is the generative model for a fixed set of hyperparameters.
type Model struct {
	Hyper Hyper

	lay layout
}

// New returns a model for h after filling defaults and validating.
func New(h Hyper) (*Model, error) {
	h = h.WithDefaults()
	if err := h.Validate(); err != nil {
		return nil, errors.Wrap(err, "model hyperparameters")
	}
	return &Model{Hyper: h, lay: newLayout(h)}, nil
}

// Dim returns the length of the unconstrained parameter vector.
func (m *Model) Dim() int { return m.lay.dim }

// Site names a block of theta.
type Site struct {
	Name   string
	Offset int
	Len    int
}

// Sites lists the latent sites in theta order.
func (m *Model) Sites() []Site {
	h := m.Hyper
	sites := []Site{
		{Name: "weights", Offset: m.lay.weights, Len: h.K - 1},
		{Name: "scales", Offset: m.lay.scales, Len: h.D},
		{Name: "locs", Offset: m.lay.locs, Len: h.K * h.D},
	}
	if h.Covariance == Correlated {
		sites = append(sites, Site{Name: "L_omega", Offset: m.lay.corr, Len: h.K * m.lay.nCorr})
	}
	sites = append(sites, Site{Name: "phase_weights", Offset: m.lay.local, Len: h.N * (h.K - 1)})
	return sites
}
