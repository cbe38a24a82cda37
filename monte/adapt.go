package monte

import "math"

// dualAveraging tunes the step size towards a target acceptance statistic.
type dualAveraging struct {
	delta, gamma, t0, kappa float64

	mu, hbar, logEps, logEpsBar float64
	m                           int
}

func newDualAveraging(eps, delta float64) *dualAveraging {
	da := &dualAveraging{delta: delta, gamma: 0.05, t0: 10, kappa: 0.75}
	da.restart(eps)
	return da
}

func (da *dualAveraging) restart(eps float64) {
	da.mu = math.Log(10 * eps)
	da.hbar = 0
	da.logEps = math.Log(eps)
	da.logEpsBar = 0
	da.m = 0
}

func (da *dualAveraging) update(accept float64) {
	if math.IsNaN(accept) {
		accept = 0
	}
	da.m++
	m := float64(da.m)
	eta := 1 / (m + da.t0)
	da.hbar = (1-eta)*da.hbar + eta*(da.delta-accept)
	da.logEps = da.mu - math.Sqrt(m)/da.gamma*da.hbar
	w := math.Pow(m, -da.kappa)
	da.logEpsBar = w*da.logEps + (1-w)*da.logEpsBar
}

func (da *dualAveraging) stepSize() float64 { return math.Exp(da.logEps) }

func (da *dualAveraging) finalStepSize() float64 {
	if da.m == 0 {
		return math.Exp(da.logEps)
	}
	return math.Exp(da.logEpsBar)
}

const (
	initBuffer    = 75
	termBuffer    = 50
	baseWindow    = 25
	minMassWarmup = initBuffer + termBuffer + baseWindow
)

// windowAdapter estimates a diagonal inverse mass matrix over doubling
// windows between a fast initial buffer and a fast terminal buffer.
type windowAdapter struct {
	warmup     int
	counter    int
	windowSize int
	nextWindow int

	n        int
	mean, m2 []float64
}

func newWindowAdapter(warmup, dim int) *windowAdapter {
	return &windowAdapter{
		warmup:     warmup,
		windowSize: baseWindow,
		nextWindow: initBuffer + baseWindow - 1,
		mean:       make([]float64, dim),
		m2:         make([]float64, dim),
	}
}

func (w *windowAdapter) inWindow() bool {
	return w.counter >= initBuffer && w.counter < w.warmup-termBuffer && w.counter != w.warmup
}

func (w *windowAdapter) endOfWindow() bool {
	return w.counter == w.nextWindow && w.counter != w.warmup
}

func (w *windowAdapter) computeNextWindow() {
	last := w.warmup - termBuffer - 1
	if w.nextWindow == last {
		return
	}
	w.windowSize *= 2
	w.nextWindow = w.counter + w.windowSize
	if w.nextWindow != last && w.nextWindow+2*w.windowSize >= w.warmup-termBuffer {
		w.nextWindow = last
	}
}

// update records q and, at the end of a window, writes the regularised
// variance estimate into invMass and reports true.
func (w *windowAdapter) update(q, invMass []float64) bool {
	if w.inWindow() {
		w.n++
		for i, v := range q {
			d := v - w.mean[i]
			w.mean[i] += d / float64(w.n)
			w.m2[i] += d * (v - w.mean[i])
		}
	}
	if w.endOfWindow() {
		w.computeNextWindow()
		n := float64(w.n)
		if w.n > 1 {
			for i := range invMass {
				v := w.m2[i] / (n - 1)
				invMass[i] = (n/(n+5))*v + 1e-3*(5/(n+5))
			}
		}
		w.n = 0
		for i := range w.mean {
			w.mean[i] = 0
			w.m2[i] = 0
		}
		w.counter++
		return true
	}
	w.counter++
	return false
}
