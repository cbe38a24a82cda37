package vi

import "math"

// Adam is the Adam optimiser with bias correction. The zero value is not
// usable; build one with newAdam.
type Adam struct {
	LR, Beta1, Beta2, Eps float64

	m, v []float64
	t    int
}

func newAdam(n int, lr, beta1, beta2, eps float64) *Adam {
	return &Adam{
		LR: lr, Beta1: beta1, Beta2: beta2, Eps: eps,
		m: make([]float64, n),
		v: make([]float64, n),
	}
}

// Step moves params against grad.
func (a *Adam) Step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*g
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*g*g
		mhat := a.m[i] / c1
		vhat := a.v[i] / c2
		params[i] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }
