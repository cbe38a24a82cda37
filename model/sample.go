package model

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sample draws every latent site and the observations from the prior.
func (m *Model) Sample(rng *rand.Rand) (*Trace, error) {
	lat, err := m.SampleLatents(rng)
	if err != nil {
		return nil, err
	}
	tr := m.Complete(lat)
	if err := m.Simulate(tr, rng); err != nil {
		return nil, err
	}
	return tr, nil
}

// SampleLatents draws the latent sites from the prior.
func (m *Model) SampleLatents(rng *rand.Rand) (*Latents, error) {
	h := m.Hyper
	k, d, n := h.K, h.D, h.N

	lat := &Latents{
		Weights:      make([]float64, k),
		Scales:       make([]float64, d),
		Locs:         mat.NewDense(k, d, nil),
		LocalWeights: mat.NewDense(n, k, nil),
	}
	conc := make([]float64, k)
	for i := range conc {
		conc[i] = h.AlphaComponents
	}
	sampleDirichlet(rng, conc, lat.Weights)

	lo, hi := h.ScaleBounds()
	uni := distuv.Uniform{Min: lo, Max: hi, Src: rng}
	for i := range lat.Scales {
		lat.Scales[i] = uni.Rand()
	}

	eye := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		eye.SetSym(i, i, 1)
	}
	locPrior, ok := distmv.NewNormal(make([]float64, d), eye, rng)
	if !ok {
		return nil, errors.New("sample: location prior covariance is not positive definite")
	}
	for i := 0; i < k; i++ {
		locPrior.Rand(lat.Locs.RawRowView(i))
	}

	if h.Covariance == Correlated {
		lat.CorrChol = make([]*mat.TriDense, k)
		for i := range lat.CorrChol {
			lat.CorrChol[i] = SampleLKJCholesky(rng, d, h.Eta)
		}
	}

	for i := range conc {
		conc[i] = h.Alpha * lat.Weights[i]
	}
	for i := 0; i < n; i++ {
		sampleDirichlet(rng, conc, lat.LocalWeights.RawRowView(i))
	}
	return lat, nil
}

// Simulate draws observations for a completed trace and stores them in
// tr.Obs.
func (m *Model) Simulate(tr *Trace, rng *rand.Rand) error {
	n, d := tr.Expectation.Dims()
	obs := mat.NewDense(n, d, nil)
	eps := make([]float64, d)
	for i := 0; i < n; i++ {
		L := tr.ScaleTril[i]
		for j := range eps {
			eps[j] = rng.NormFloat64()
		}
		row := obs.RawRowView(i)
		for p := 0; p < d; p++ {
			v := tr.Expectation.At(i, p)
			for q := 0; q <= p; q++ {
				v += L.At(p, q) * eps[q]
			}
			row[p] = v
		}
		if floats.HasNaN(row) {
			return errors.Errorf("simulate: observation %d is NaN", i)
		}
	}
	tr.Obs = obs
	return nil
}

// sampleDirichlet draws from Dirichlet(alpha) into dst. Gamma variates are
// formed in log space so that very small concentrations do not underflow,
// and the result is clamped away from the simplex boundary.
func sampleDirichlet(rng *rand.Rand, alpha, dst []float64) {
	for i, a := range alpha {
		g := distuv.Gamma{Alpha: a + 1, Beta: 1, Src: rng}.Rand()
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		dst[i] = math.Log(g) + math.Log(u)/a
	}
	lse := floats.LogSumExp(dst)
	for i := range dst {
		dst[i] = math.Exp(dst[i] - lse)
	}
	clampSimplex(dst)
}

// SampleLKJCholesky draws the lower Cholesky factor of a d×d correlation
// matrix from the LKJ distribution with concentration eta using the C-vine
// construction: partial correlations in column j are Beta(b_j, b_j) on
// (-1, 1) with b_j = eta + (d-2-j)/2.
func SampleLKJCholesky(rng *rand.Rand, d int, eta float64) *mat.TriDense {
	L := make([]float64, d*d)
	L[0] = 1
	for i := 1; i < d; i++ {
		var sum float64
		for j := 0; j < i; j++ {
			b := eta + float64(d-2-j)/2
			z := 2*distuv.Beta{Alpha: b, Beta: b, Src: rng}.Rand() - 1
			lij := z * math.Sqrt(1-sum)
			L[i*d+j] = lij
			sum += lij * lij
		}
		L[i*d+i] = math.Sqrt(math.Max(1-sum, 0))
	}
	return triFromRows(L, d)
}
