package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// probEps bounds simplex entries away from 0 and 1.
const probEps = 2.220446049250313e-16

// simplex maps k-1 reals to a point on the k-simplex using the additive
// log-ratio parametrisation with the last coordinate anchored at zero.
// It fills w and logw (both length k) and returns log|J| = sum(logw).
func simplex(y, w, logw []float64) float64 {
	k := len(w)
	copy(logw[:k-1], y)
	logw[k-1] = 0
	lse := floats.LogSumExp(logw)
	var logJ float64
	for i := range logw {
		logw[i] -= lse
		w[i] = math.Exp(logw[i])
		logJ += logw[i]
	}
	return logJ
}

// simplexGrad pulls a gradient h with respect to log w back onto y and adds
// it to gy.
func simplexGrad(h, w, gy []float64) {
	sum := floats.Sum(h)
	for j := range gy {
		gy[j] += h[j] - w[j]*sum
	}
}

// unsimplex is the inverse of simplex. Entries are clamped to probEps first.
func unsimplex(w, y []float64) {
	k := len(w)
	last := math.Log(clampProb(w[k-1]))
	for i := 0; i < k-1; i++ {
		y[i] = math.Log(clampProb(w[i])) - last
	}
}

func clampProb(p float64) float64 {
	if p < probEps {
		return probEps
	}
	if p > 1-probEps {
		return 1 - probEps
	}
	return p
}

// clampSimplex clamps every entry of w to [probEps, 1-probEps] and
// renormalises.
func clampSimplex(w []float64) {
	for i, v := range w {
		w[i] = clampProb(v)
	}
	floats.Scale(1/floats.Sum(w), w)
}

// softplus is log(1+exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// interval maps u to (lo, hi) with a logistic and returns the value and
// log|J|.
func interval(u, lo, hi float64) (float64, float64) {
	s := sigmoid(u)
	logJ := math.Log(hi-lo) - softplus(-u) - softplus(u)
	return lo + (hi-lo)*s, logJ
}

func uninterval(x, lo, hi float64) float64 {
	p := (x - lo) / (hi - lo)
	p = math.Min(math.Max(p, probEps), 1-probEps)
	return math.Log(p) - math.Log1p(-p)
}

// cpc builds the lower Cholesky factor of a d×d correlation matrix from
// d(d-1)/2 unconstrained reals (tanh'd canonical partial correlations,
// row-major over the strict lower triangle). L is row-major d×d.
// It returns log|J| of the map from v to the strict lower triangle of L.
func cpc(v []float64, d int, L []float64) float64 {
	for i := range L {
		L[i] = 0
	}
	L[0] = 1
	var logJ float64
	idx := 0
	for i := 1; i < d; i++ {
		var sum float64
		for j := 0; j < i; j++ {
			z := math.Tanh(v[idx])
			idx++
			logJ += math.Log1p(-z * z)
			if j > 0 {
				logJ += 0.5 * math.Log1p(-sum)
			}
			lij := z * math.Sqrt(1-sum)
			L[i*d+j] = lij
			sum += lij * lij
		}
		L[i*d+i] = math.Sqrt(1 - sum)
	}
	return logJ
}

// cpcGrad pulls gL (gradient with respect to the lower triangle of L,
// diagonal included) back onto v and adds it to gv. With jacobian set the
// gradient of the log|J| returned by cpc is included.
func cpcGrad(v []float64, d int, L, gL, gv []float64, jacobian bool) {
	idx := 0
	for i := 1; i < d; i++ {
		base := idx
		idx += i
		// prefix sums S_j = sum_{m<j} L_im^2
		S := make([]float64, i+1)
		for j := 0; j < i; j++ {
			S[j+1] = S[j] + L[i*d+j]*L[i*d+j]
		}
		lii := L[i*d+i]
		gS := gL[i*d+i] * (-0.5 / lii)
		for j := i - 1; j >= 0; j-- {
			z := math.Tanh(v[base+j])
			r := math.Sqrt(1 - S[j])
			lij := L[i*d+j]
			gLij := gL[i*d+j] + 2*lij*gS
			gz := gLij * r
			if j > 0 {
				gr := gLij * z
				if jacobian {
					gr += 1 / r
				}
				gS += gr * (-0.5 / r)
			}
			g := gz * (1 - z*z)
			if jacobian {
				g += -2 * z
			}
			gv[base+j] += g
		}
	}
}

// uncpc is the inverse of cpc for a valid correlation Cholesky factor.
func uncpc(L []float64, d int, v []float64) {
	idx := 0
	for i := 1; i < d; i++ {
		var sum float64
		for j := 0; j < i; j++ {
			lij := L[i*d+j]
			z := lij / math.Sqrt(1-sum)
			z = math.Max(math.Min(z, 1-1e-12), -1+1e-12)
			v[idx] = math.Atanh(z)
			idx++
			sum += lij * lij
		}
	}
}
