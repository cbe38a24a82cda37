package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

var log2Pi = math.Log(2 * math.Pi)

// Latents holds one joint draw of every latent site in constrained space.
type Latents struct {
	// Weights is the global mixture weight vector (length K).
	Weights []float64
	// Scales is the per-dimension noise scale (length D).
	Scales []float64
	// Locs holds the end-member locations, one per row (K×D).
	Locs *mat.Dense
	// CorrChol holds the lower Cholesky factor of each end member's
	// correlation matrix. Nil for the Diagonal model.
	CorrChol []*mat.TriDense
	// LocalWeights holds the mixing weights of each observation (N×K).
	LocalWeights *mat.Dense
}

// Trace is a Latents together with the quantities derived from it.
type Trace struct {
	Latents

	// Expectation is the weighted end-member combination per observation (N×D).
	Expectation *mat.Dense
	// ScaleTril is the lower Cholesky factor of each observation's covariance.
	ScaleTril []*mat.TriDense
	// Obs holds simulated observations (N×D) or nil.
	Obs *mat.Dense
}

// Constrain maps theta to constrained latents.
func (m *Model) Constrain(theta []float64) *Latents {
	h := m.Hyper
	k, d, n := h.K, h.D, h.N
	lat := &Latents{
		Weights:      make([]float64, k),
		Scales:       make([]float64, d),
		Locs:         mat.NewDense(k, d, nil),
		LocalWeights: mat.NewDense(n, k, nil),
	}
	logw := make([]float64, k)
	simplex(theta[m.lay.weights:m.lay.weights+k-1], lat.Weights, logw)

	lo, hi := h.ScaleBounds()
	for i := 0; i < d; i++ {
		lat.Scales[i], _ = interval(theta[m.lay.scales+i], lo, hi)
	}
	copy(lat.Locs.RawMatrix().Data, theta[m.lay.locs:m.lay.locs+k*d])

	if h.Covariance == Correlated {
		lat.CorrChol = make([]*mat.TriDense, k)
		buf := make([]float64, d*d)
		for c := 0; c < k; c++ {
			off := m.lay.corr + c*m.lay.nCorr
			cpc(theta[off:off+m.lay.nCorr], d, buf)
			lat.CorrChol[c] = triFromRows(buf, d)
		}
	}

	for i := 0; i < n; i++ {
		off := m.lay.local + i*(k-1)
		simplex(theta[off:off+k-1], lat.LocalWeights.RawRowView(i), logw)
	}
	return lat
}

// Unconstrain maps latents back onto theta. Simplex entries are clamped
// away from zero first.
func (m *Model) Unconstrain(lat *Latents) []float64 {
	h := m.Hyper
	k, d, n := h.K, h.D, h.N
	theta := make([]float64, m.Dim())
	unsimplex(lat.Weights, theta[m.lay.weights:m.lay.weights+k-1])

	lo, hi := h.ScaleBounds()
	for i := 0; i < d; i++ {
		theta[m.lay.scales+i] = uninterval(lat.Scales[i], lo, hi)
	}
	for c := 0; c < k; c++ {
		copy(theta[m.lay.locs+c*d:m.lay.locs+(c+1)*d], lat.Locs.RawRowView(c))
	}
	if h.Covariance == Correlated && lat.CorrChol != nil {
		for c := 0; c < k; c++ {
			off := m.lay.corr + c*m.lay.nCorr
			uncpc(rowsFromTri(lat.CorrChol[c], d), d, theta[off:off+m.lay.nCorr])
		}
	}
	for i := 0; i < n; i++ {
		off := m.lay.local + i*(k-1)
		unsimplex(lat.LocalWeights.RawRowView(i), theta[off:off+k-1])
	}
	return theta
}

// Complete derives the per-observation expectations and covariance factors.
func (m *Model) Complete(lat *Latents) *Trace {
	h := m.Hyper
	k, d, n := h.K, h.D, h.N
	tr := &Trace{Latents: *lat}

	tr.Expectation = mat.NewDense(n, d, nil)
	tr.Expectation.Mul(lat.LocalWeights, lat.Locs)

	sqrtS := make([]float64, d)
	for i, s := range lat.Scales {
		sqrtS[i] = math.Sqrt(s)
	}
	tr.ScaleTril = make([]*mat.TriDense, n)
	if h.Covariance == Diagonal {
		for i := 0; i < n; i++ {
			t := mat.NewTriDense(d, mat.Lower, nil)
			for j := 0; j < d; j++ {
				t.SetTri(j, j, sqrtS[j])
			}
			tr.ScaleTril[i] = t
		}
		return tr
	}

	corr := make([][]float64, k)
	for c := 0; c < k; c++ {
		corr[c] = rowsFromTri(lat.CorrChol[c], d)
	}
	buf := make([]float64, d*d)
	for i := 0; i < n; i++ {
		blendTril(lat.LocalWeights.RawRowView(i), corr, sqrtS, d, buf)
		tr.ScaleTril[i] = triFromRows(buf, d)
	}
	return tr
}

// blendTril writes diag(sqrtS) * sum_k pi_k corr_k into dst.
func blendTril(pi []float64, corr [][]float64, sqrtS []float64, d int, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for c, p := range pi {
		for i := 0; i < d; i++ {
			for j := 0; j <= i; j++ {
				dst[i*d+j] += p * corr[c][i*d+j]
			}
		}
	}
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			dst[i*d+j] *= sqrtS[i]
		}
	}
}

// LogLikelihood returns sum_n log N(x_n | Expectation_n, ScaleTril_n).
func LogLikelihood(tr *Trace, data mat.Matrix) float64 {
	n, d := data.Dims()
	x := make([]float64, d)
	mu := make([]float64, d)
	z := make([]float64, d)
	var ll float64
	for i := 0; i < n; i++ {
		mat.Row(x, i, data)
		mat.Row(mu, i, tr.Expectation)
		ll += mvnLogProbTri(x, mu, tr.ScaleTril[i], z)
	}
	return ll
}

// mvnLogProbTri evaluates a multivariate normal log density given the lower
// Cholesky factor of its covariance. z is scratch of length d.
func mvnLogProbTri(x, mu []float64, L mat.Triangular, z []float64) float64 {
	d := len(x)
	var ll float64
	for i := 0; i < d; i++ {
		r := x[i] - mu[i]
		for j := 0; j < i; j++ {
			r -= L.At(i, j) * z[j]
		}
		lii := L.At(i, i)
		z[i] = r / lii
		ll -= math.Log(lii) + 0.5*z[i]*z[i]
	}
	return ll - 0.5*float64(d)*log2Pi
}

// mvnLogProbGrad evaluates log N(x | mu, L L^T) for a row-major lower
// factor L and writes dLL/dmu into gmu and dLL/dL (lower triangle) into gL.
// z and a are scratch of length d.
func mvnLogProbGrad(x, mu, L, gmu, gL, z, a []float64) float64 {
	d := len(x)
	var ll float64
	for i := 0; i < d; i++ {
		r := x[i] - mu[i]
		for j := 0; j < i; j++ {
			r -= L[i*d+j] * z[j]
		}
		z[i] = r / L[i*d+i]
		ll -= math.Log(L[i*d+i]) + 0.5*z[i]*z[i]
	}
	// a = L^{-T} z
	for i := d - 1; i >= 0; i-- {
		s := z[i]
		for j := i + 1; j < d; j++ {
			s -= L[j*d+i] * a[j]
		}
		a[i] = s / L[i*d+i]
	}
	copy(gmu, a)
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			gL[i*d+j] = a[i] * z[j]
		}
		gL[i*d+i] -= 1 / L[i*d+i]
	}
	return ll - 0.5*float64(d)*log2Pi
}

func triFromRows(rows []float64, d int) *mat.TriDense {
	t := mat.NewTriDense(d, mat.Lower, nil)
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			t.SetTri(i, j, rows[i*d+j])
		}
	}
	return t
}

func rowsFromTri(t mat.Triangular, d int) []float64 {
	rows := make([]float64, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			rows[i*d+j] = t.At(i, j)
		}
	}
	return rows
}
