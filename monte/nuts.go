package monte

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// state is one point of phase space.
type state struct {
	q, p, g []float64
	lp      float64
}

// target is an unnormalised log density on an unconstrained space.
type target interface {
	LogDensity(theta, grad []float64, jacobian bool) float64
}

type hamiltonian struct {
	target  target
	invMass []float64
}

func (h *hamiltonian) newState(q []float64) *state {
	s := &state{
		q: append([]float64(nil), q...),
		p: make([]float64, len(q)),
		g: make([]float64, len(q)),
	}
	s.lp = h.target.LogDensity(s.q, s.g, true)
	return s
}

func (h *hamiltonian) kinetic(p []float64) float64 {
	var k float64
	for i, v := range p {
		k += v * v * h.invMass[i]
	}
	return 0.5 * k
}

// energy is -log p(q) + K(p); NaN is mapped to +Inf.
func (h *hamiltonian) energy(s *state) float64 {
	e := -s.lp + h.kinetic(s.p)
	if math.IsNaN(e) {
		return math.Inf(1)
	}
	return e
}

func (h *hamiltonian) sampleMomentum(rng *rand.Rand, p []float64) {
	for i := range p {
		p[i] = rng.NormFloat64() / math.Sqrt(h.invMass[i])
	}
}

func (h *hamiltonian) leapfrog(s *state, eps float64) *state {
	n := len(s.q)
	out := &state{
		q: make([]float64, n),
		p: make([]float64, n),
		g: make([]float64, n),
	}
	for i := range out.p {
		out.p[i] = s.p[i] + 0.5*eps*s.g[i]
		out.q[i] = s.q[i] + eps*h.invMass[i]*out.p[i]
	}
	out.lp = h.target.LogDensity(out.q, out.g, true)
	for i := range out.p {
		out.p[i] += 0.5 * eps * out.g[i]
	}
	return out
}

// uturn reports whether the trajectory with summed momentum rho and edge
// momenta pMinus, pPlus has started to double back.
func (h *hamiltonian) uturn(rho, pMinus, pPlus []float64) bool {
	var a, b float64
	for i, r := range rho {
		a += h.invMass[i] * pPlus[i] * r
		b += h.invMass[i] * pMinus[i] * r
	}
	return a <= 0 || b <= 0
}

// findStepSize doubles or halves eps until a single leapfrog step crosses an
// acceptance probability of one half.
func (h *hamiltonian) findStepSize(rng *rand.Rand, s *state, eps float64) float64 {
	cur := &state{q: s.q, p: make([]float64, len(s.q)), g: s.g, lp: s.lp}
	h.sampleMomentum(rng, cur.p)
	h0 := h.energy(cur)
	logRatio := func(e float64) float64 {
		d := h0 - h.energy(h.leapfrog(cur, e))
		if math.IsNaN(d) {
			return math.Inf(-1)
		}
		return d
	}
	dir := 1.0
	if logRatio(eps) < math.Log(0.5) {
		dir = -1
	}
	for i := 0; i < 100; i++ {
		lr := logRatio(eps)
		if dir > 0 && !(lr > math.Log(0.5)) {
			break
		}
		if dir < 0 && !(lr < math.Log(0.5)) {
			break
		}
		eps *= math.Pow(2, dir)
		if eps < 1e-12 || eps > 1e6 {
			break
		}
	}
	return eps
}

type transition struct {
	acceptStat float64
	divergent  bool
	depth      int
	leapfrogs  int
}

// tree is a balanced binary trajectory segment.
type tree struct {
	minus, plus *state
	proposal    *state
	logW        float64
	rho         []float64

	turning, divergent bool
	sumAccept          float64
	leapfrogs          int
}

// transition performs one multinomial NUTS iteration from s.
func (h *hamiltonian) transition(rng *rand.Rand, s *state, eps float64, maxDepth int) (*state, transition) {
	start := &state{q: s.q, p: make([]float64, len(s.q)), g: s.g, lp: s.lp}
	h.sampleMomentum(rng, start.p)
	h0 := h.energy(start)

	minus, plus := start, start
	proposal := start
	logW := 0.0
	rho := append([]float64(nil), start.p...)

	var tr transition
	var sumAccept float64
	for tr.depth = 0; tr.depth < maxDepth; tr.depth++ {
		dir := 1.0
		if rng.IntN(2) == 0 {
			dir = -1
		}
		var sub *tree
		if dir > 0 {
			sub = h.buildTree(rng, plus, dir, tr.depth, eps, h0)
			plus = sub.plus
		} else {
			sub = h.buildTree(rng, minus, dir, tr.depth, eps, h0)
			minus = sub.minus
		}
		sumAccept += sub.sumAccept
		tr.leapfrogs += sub.leapfrogs
		if sub.divergent {
			tr.divergent = true
			break
		}
		if sub.turning {
			break
		}
		if math.Log(rng.Float64()) < sub.logW-logW {
			proposal = sub.proposal
		}
		logW = floats.LogSumExp([]float64{logW, sub.logW})
		floats.Add(rho, sub.rho)
		if h.uturn(rho, minus.p, plus.p) {
			tr.depth++
			break
		}
	}
	if tr.leapfrogs > 0 {
		tr.acceptStat = sumAccept / float64(tr.leapfrogs)
	}
	return proposal, tr
}

// buildTree grows a subtree of 2^depth leapfrog steps from s in direction
// dir.
func (h *hamiltonian) buildTree(rng *rand.Rand, s *state, dir float64, depth int, eps, h0 float64) *tree {
	if depth == 0 {
		next := h.leapfrog(s, dir*eps)
		e := h.energy(next)
		t := &tree{
			minus:     next,
			plus:      next,
			proposal:  next,
			logW:      h0 - e,
			rho:       append([]float64(nil), next.p...),
			leapfrogs: 1,
		}
		if math.IsInf(e, 1) || e-h0 > divergenceCutoff {
			t.divergent = true
			t.logW = math.Inf(-1)
		}
		t.sumAccept = math.Min(1, math.Exp(h0-e))
		return t
	}

	left := h.buildTree(rng, s, dir, depth-1, eps, h0)
	if left.divergent || left.turning {
		return left
	}
	edge := left.plus
	if dir < 0 {
		edge = left.minus
	}
	right := h.buildTree(rng, edge, dir, depth-1, eps, h0)

	t := &tree{
		minus:     left.minus,
		plus:      left.plus,
		proposal:  left.proposal,
		sumAccept: left.sumAccept + right.sumAccept,
		leapfrogs: left.leapfrogs + right.leapfrogs,
	}
	if dir > 0 {
		t.plus = right.plus
	} else {
		t.minus = right.minus
	}
	if right.divergent || right.turning {
		t.divergent = right.divergent
		t.turning = right.turning
		return t
	}

	t.logW = floats.LogSumExp([]float64{left.logW, right.logW})
	if math.Log(rng.Float64()) < right.logW-t.logW {
		t.proposal = right.proposal
	}
	t.rho = make([]float64, len(left.rho))
	floats.AddTo(t.rho, left.rho, right.rho)
	t.turning = h.uturn(t.rho, t.minus.p, t.plus.p)
	return t
}
