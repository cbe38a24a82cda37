package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// Conditioned is a model conditioned on observed data.
type Conditioned struct {
	*Model
	Data *mat.Dense
}

// Condition binds data (N×D) to the model.
func (m *Model) Condition(data mat.Matrix) (*Conditioned, error) {
	if data == nil {
		return nil, errors.New("condition: data is nil")
	}
	n, d := data.Dims()
	if n != m.Hyper.N || d != m.Hyper.D {
		return nil, errors.Errorf("condition: data is %dx%d, model expects %dx%d", n, d, m.Hyper.N, m.Hyper.D)
	}
	return &Conditioned{Model: m, Data: mat.DenseCopyOf(data)}, nil
}

// LogDensity returns the log joint density of theta and the data. When grad
// is non-nil (length Dim) it is overwritten with the gradient. With
// jacobian set the density is taken on theta itself, including the
// log-determinant of every constraining transform; otherwise it is the
// density of the constrained values, which is the objective maximised by a
// point-mass guide.
//
// The LKJ normaliser is omitted, so values are offset by a constant that
// depends only on K, D and Eta.
func (c *Conditioned) LogDensity(theta, grad []float64, jacobian bool) float64 {
	h := c.Hyper
	k, d, n := h.K, h.D, h.N
	lay := c.lay
	var g []float64
	if grad != nil {
		g = grad
		for i := range g {
			g[i] = 0
		}
	} else {
		g = make([]float64, lay.dim)
	}
	var lp float64

	// Global weights.
	w := make([]float64, k)
	logw := make([]float64, k)
	jw := simplex(theta[lay.weights:lay.weights+k-1], w, logw)
	lp += lgamma(h.AlphaComponents*float64(k)) - float64(k)*lgamma(h.AlphaComponents)
	hw := make([]float64, k) // d lp / d log w
	gw := make([]float64, k) // d lp / d w
	for i := 0; i < k; i++ {
		lp += (h.AlphaComponents - 1) * logw[i]
		hw[i] = h.AlphaComponents - 1
	}
	if jacobian {
		lp += jw
		for i := range hw {
			hw[i]++
		}
	}

	// Scales.
	lo, hi := h.ScaleBounds()
	scales := make([]float64, d)
	sqrtS := make([]float64, d)
	gs := make([]float64, d)
	for i := 0; i < d; i++ {
		s, js := interval(theta[lay.scales+i], lo, hi)
		scales[i] = s
		sqrtS[i] = math.Sqrt(s)
		lp -= math.Log(hi - lo)
		if jacobian {
			lp += js
		}
	}

	// Locations, standard normal prior.
	locs := theta[lay.locs : lay.locs+k*d]
	glocs := g[lay.locs : lay.locs+k*d]
	for i, v := range locs {
		lp -= 0.5*v*v + 0.5*log2Pi
		glocs[i] -= v
	}

	// Correlation factors, LKJ prior.
	var corr, gcorr [][]float64
	if h.Covariance == Correlated {
		corr = make([][]float64, k)
		gcorr = make([][]float64, k)
		for ci := 0; ci < k; ci++ {
			off := lay.corr + ci*lay.nCorr
			corr[ci] = make([]float64, d*d)
			gcorr[ci] = make([]float64, d*d)
			jc := cpc(theta[off:off+lay.nCorr], d, corr[ci])
			if jacobian {
				lp += jc
			}
			for i := 1; i < d; i++ {
				e := float64(d-i-1) + 2*h.Eta - 2
				lii := corr[ci][i*d+i]
				lp += e * math.Log(lii)
				gcorr[ci][i*d+i] += e / lii
			}
		}
	}

	// Local weights and observations.
	conc := make([]float64, k)
	psiConc := make([]float64, k)
	lgConc := 0.0
	for i := 0; i < k; i++ {
		conc[i] = h.Alpha * w[i]
		psiConc[i] = mathext.Digamma(conc[i])
		lgConc += lgamma(conc[i])
	}
	lgAlpha := lgamma(h.Alpha)
	psiAlpha := mathext.Digamma(h.Alpha)

	pi := make([]float64, k)
	logpi := make([]float64, k)
	hpi := make([]float64, k)
	x := make([]float64, d)
	mu := make([]float64, d)
	gmu := make([]float64, d)
	L := make([]float64, d*d)
	B := make([]float64, d*d)
	gL := make([]float64, d*d)
	gB := make([]float64, d*d)
	z := make([]float64, d)
	a := make([]float64, d)

	for row := 0; row < n; row++ {
		off := lay.local + row*(k-1)
		jpi := simplex(theta[off:off+k-1], pi, logpi)

		// Dirichlet(alpha * w) prior on pi.
		lp += lgAlpha - lgConc
		for i := 0; i < k; i++ {
			lp += (conc[i] - 1) * logpi[i]
			hpi[i] = conc[i] - 1
			gw[i] += h.Alpha * (psiAlpha - psiConc[i] + logpi[i])
		}
		if jacobian {
			lp += jpi
			for i := range hpi {
				hpi[i]++
			}
		}

		// Observation.
		mat.Row(x, row, c.Data)
		for j := 0; j < d; j++ {
			var s float64
			for i := 0; i < k; i++ {
				s += pi[i] * locs[i*d+j]
			}
			mu[j] = s
		}

		if h.Covariance == Diagonal {
			for j := 0; j < d; j++ {
				r := x[j] - mu[j]
				lp -= 0.5*(log2Pi+math.Log(scales[j])) + 0.5*r*r/scales[j]
				gmu[j] = r / scales[j]
				gs[j] += -0.5/scales[j] + 0.5*r*r/(scales[j]*scales[j])
			}
		} else {
			for i := range B {
				B[i] = 0
			}
			for ci := 0; ci < k; ci++ {
				for p := 0; p < d; p++ {
					for q := 0; q <= p; q++ {
						B[p*d+q] += pi[ci] * corr[ci][p*d+q]
					}
				}
			}
			for p := 0; p < d; p++ {
				for q := 0; q <= p; q++ {
					L[p*d+q] = sqrtS[p] * B[p*d+q]
				}
			}
			lp += mvnLogProbGrad(x, mu, L, gmu, gL, z, a)
			for p := 0; p < d; p++ {
				for q := 0; q <= p; q++ {
					gB[p*d+q] = sqrtS[p] * gL[p*d+q]
					gs[p] += gL[p*d+q] * B[p*d+q] * 0.5 / sqrtS[p]
				}
			}
			for ci := 0; ci < k; ci++ {
				var dot float64
				for p := 0; p < d; p++ {
					for q := 0; q <= p; q++ {
						dot += gB[p*d+q] * corr[ci][p*d+q]
						gcorr[ci][p*d+q] += pi[ci] * gB[p*d+q]
					}
				}
				hpi[ci] += pi[ci] * dot
			}
		}

		// Chain rule through mu = sum_k pi_k locs_k.
		for ci := 0; ci < k; ci++ {
			var dot float64
			for j := 0; j < d; j++ {
				dot += gmu[j] * locs[ci*d+j]
				glocs[ci*d+j] += pi[ci] * gmu[j]
			}
			hpi[ci] += pi[ci] * dot
		}
		simplexGrad(hpi, pi, g[off:off+k-1])
	}

	// Pull the remaining gradients back onto theta.
	for i := 0; i < k; i++ {
		hw[i] += gw[i] * w[i]
	}
	simplexGrad(hw, w, g[lay.weights:lay.weights+k-1])

	for i := 0; i < d; i++ {
		u := theta[lay.scales+i]
		sg := sigmoid(u)
		gu := gs[i] * (hi - lo) * sg * (1 - sg)
		if jacobian {
			gu += 1 - 2*sg
		}
		g[lay.scales+i] += gu
	}

	if h.Covariance == Correlated {
		for ci := 0; ci < k; ci++ {
			off := lay.corr + ci*lay.nCorr
			cpcGrad(theta[off:off+lay.nCorr], d, corr[ci], gcorr[ci], g[off:off+lay.nCorr], jacobian)
		}
	}
	return lp
}

// lgamma is math.Lgamma without the sign.
func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
