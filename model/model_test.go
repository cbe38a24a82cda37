package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestSampleSimplexAndScaleBands(t *testing.T) {
	for _, cov := range []Covariance{Correlated, Diagonal} {
		for _, alpha := range []float64{0.1, 1, 10} {
			m, err := New(Hyper{N: 200, Alpha: alpha, AlphaComponents: 5, NoiseScale: 0.03, Covariance: cov})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rng := newRNG(uint64(7 + int(alpha*10)))
			for rep := 0; rep < 5; rep++ {
				tr, err := m.Sample(rng)
				if err != nil {
					t.Fatalf("%v alpha=%v: Sample: %v", cov, alpha, err)
				}
				checkSimplex(t, "weights", tr.Weights)
				for i := 0; i < m.Hyper.N; i++ {
					checkSimplex(t, "local weights", tr.LocalWeights.RawRowView(i))
				}
				lo, hi := m.Hyper.ScaleBounds()
				for _, s := range tr.Scales {
					if s < lo || s > hi {
						t.Fatalf("scale %v outside [%v, %v]", s, lo, hi)
					}
				}
			}
		}
	}
}

func checkSimplex(t *testing.T, name string, w []float64) {
	t.Helper()
	if !approxEqual(floats.Sum(w), 1, 1e-9) {
		t.Fatalf("%s sum to %v, want 1", name, floats.Sum(w))
	}
	for _, v := range w {
		if !(v > 0) {
			t.Fatalf("%s has non-positive entry %v", name, v)
		}
	}
}

func TestScaleTrilIsValidCovarianceFactor(t *testing.T) {
	m, err := New(Hyper{N: 100, Alpha: 0.5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := m.Sample(newRNG(3))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(tr.ScaleTril) != m.Hyper.N {
		t.Fatalf("got %d scale factors, want %d", len(tr.ScaleTril), m.Hyper.N)
	}
	for i, L := range tr.ScaleTril {
		for j := 0; j < m.Hyper.D; j++ {
			if !(L.At(j, j) > 0) {
				t.Fatalf("observation %d: diagonal %d is %v", i, j, L.At(j, j))
			}
		}
		var cov mat.SymDense
		cov.SymOuterK(1, L)
		var chol mat.Cholesky
		if ok := chol.Factorize(&cov); !ok {
			t.Fatalf("observation %d: covariance is not positive definite", i)
		}
	}
}

func TestLKJCholeskyRowsHaveUnitNorm(t *testing.T) {
	rng := newRNG(11)
	for _, d := range []int{2, 3, 4} {
		for rep := 0; rep < 20; rep++ {
			L := SampleLKJCholesky(rng, d, 1)
			for i := 0; i < d; i++ {
				var ss float64
				for j := 0; j <= i; j++ {
					ss += L.At(i, j) * L.At(i, j)
				}
				if !approxEqual(ss, 1, 1e-12) {
					t.Fatalf("d=%d row %d has squared norm %v", d, i, ss)
				}
			}
		}
	}
}

func TestConstrainRoundTrip(t *testing.T) {
	for _, cov := range []Covariance{Correlated, Diagonal} {
		m, err := New(Hyper{N: 20, D: 3, Alpha: 2, Covariance: cov})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		lat, err := m.SampleLatents(newRNG(5))
		if err != nil {
			t.Fatalf("SampleLatents: %v", err)
		}
		back := m.Constrain(m.Unconstrain(lat))
		if !floats.EqualApprox(back.Weights, lat.Weights, 1e-9) {
			t.Errorf("%v: weights %v != %v", cov, back.Weights, lat.Weights)
		}
		if !floats.EqualApprox(back.Scales, lat.Scales, 1e-9) {
			t.Errorf("%v: scales %v != %v", cov, back.Scales, lat.Scales)
		}
		if !mat.EqualApprox(back.Locs, lat.Locs, 1e-12) {
			t.Errorf("%v: locs differ", cov)
		}
		if !mat.EqualApprox(back.LocalWeights, lat.LocalWeights, 1e-8) {
			t.Errorf("%v: local weights differ", cov)
		}
		for i := range lat.CorrChol {
			if !mat.EqualApprox(back.CorrChol[i], lat.CorrChol[i], 1e-8) {
				t.Errorf("%v: correlation factor %d differs", cov, i)
			}
		}
	}
}

func TestLogDensityGradientMatchesFiniteDifferences(t *testing.T) {
	for _, cov := range []Covariance{Correlated, Diagonal} {
		for _, jac := range []bool{true, false} {
			m, err := New(Hyper{N: 6, D: 3, Alpha: 1.5, AlphaComponents: 2, NoiseScale: 0.5, Eta: 1.5, Covariance: cov})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rng := newRNG(21)
			tr, err := m.Sample(rng)
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			cond, err := m.Condition(tr.Obs)
			if err != nil {
				t.Fatalf("Condition: %v", err)
			}
			theta := make([]float64, m.Dim())
			for i := range theta {
				theta[i] = 0.5 * rng.NormFloat64()
			}
			grad := make([]float64, m.Dim())
			lp := cond.LogDensity(theta, grad, jac)
			if math.IsNaN(lp) || math.IsInf(lp, 0) {
				t.Fatalf("non-finite log density %v", lp)
			}
			f := func(x []float64) float64 { return cond.LogDensity(x, nil, jac) }
			want := fd.Gradient(nil, f, theta, &fd.Settings{Formula: fd.Central})
			for i := range grad {
				tol := 1e-4 * math.Max(1, math.Abs(want[i]))
				if !approxEqual(grad[i], want[i], tol) {
					t.Errorf("%v jacobian=%v: grad[%d] = %v, finite difference %v", cov, jac, i, grad[i], want[i])
				}
			}
		}
	}
}

func TestLogLikelihoodMatchesDistmv(t *testing.T) {
	m, err := New(Hyper{N: 30, NoiseScale: 0.2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := m.Sample(newRNG(8))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	var want float64
	for i := 0; i < m.Hyper.N; i++ {
		var cov mat.SymDense
		cov.SymOuterK(1, tr.ScaleTril[i])
		mu := mat.Row(nil, i, tr.Expectation)
		nrm, ok := distmv.NewNormal(mu, &cov, nil)
		if !ok {
			t.Fatalf("observation %d: covariance not positive definite", i)
		}
		want += nrm.LogProb(tr.Obs.RawRowView(i))
	}
	got := LogLikelihood(tr, tr.Obs)
	if !approxEqual(got, want, 1e-8*math.Max(1, math.Abs(want))) {
		t.Fatalf("LogLikelihood = %v, distmv = %v", got, want)
	}
}

func TestDiagonalLogDensityMatchesLogLikelihood(t *testing.T) {
	// With every prior term removed by differencing, the observation part of
	// the joint must agree with LogLikelihood on the completed trace.
	m, err := New(Hyper{N: 10, NoiseScale: 0.1, Covariance: Diagonal})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rng := newRNG(13)
	tr, err := m.Sample(rng)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	other, err := m.Sample(rng)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	c1, _ := m.Condition(tr.Obs)
	c2, _ := m.Condition(other.Obs)
	theta := m.Unconstrain(&tr.Latents)
	full := m.Complete(m.Constrain(theta))
	gotDiff := c1.LogDensity(theta, nil, true) - c2.LogDensity(theta, nil, true)
	wantDiff := LogLikelihood(full, tr.Obs) - LogLikelihood(full, other.Obs)
	if !approxEqual(gotDiff, wantDiff, 1e-6*math.Max(1, math.Abs(wantDiff))) {
		t.Fatalf("density difference %v, likelihood difference %v", gotDiff, wantDiff)
	}
}

func TestSamplesLocsTensorShape(t *testing.T) {
	m, err := New(Hyper{N: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rng := newRNG(2)
	var s Samples
	for i := 0; i < 4; i++ {
		tr, err := m.Sample(rng)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		s = append(s, tr)
	}
	dims := s.Locs().Shape().Dimensions
	if len(dims) != 3 || dims[0] != 4 || dims[1] != 3 || dims[2] != 2 {
		t.Fatalf("locs tensor dims = %v, want [4 3 2]", dims)
	}
	means := s.LocMeans()
	var want float64
	for _, tr := range s {
		want += tr.Locs.At(1, 0)
	}
	if !approxEqual(means.At(1, 0), want/4, 1e-12) {
		t.Fatalf("LocMeans(1,0) = %v, want %v", means.At(1, 0), want/4)
	}
}

func TestHyperValidation(t *testing.T) {
	if _, err := New(Hyper{K: 1}); err == nil {
		t.Fatal("expected error for K=1")
	}
	if _, err := New(Hyper{NoiseScale: -1}); err == nil {
		t.Fatal("expected error for negative noise scale")
	}
	m, err := New(Hyper{})
	if err != nil {
		t.Fatalf("New with defaults: %v", err)
	}
	if m.Hyper.K != 3 || m.Hyper.D != 2 || m.Hyper.N != 500 {
		t.Fatalf("unexpected defaults %+v", m.Hyper)
	}
	// weights 2 + scales 2 + locs 6 + corr 3 + local 1000
	if m.Dim() != 1013 {
		t.Fatalf("Dim() = %d, want 1013", m.Dim())
	}
}

func TestLocTensorHelpers(t *testing.T) {
	m, err := New(Hyper{N: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rng := newRNG(9)
	var s Samples
	for i := 0; i < 3; i++ {
		tr, err := m.Sample(rng)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		s = append(s, tr)
	}
	locs := s.Locs()
	comp, err := ComponentOf(locs, 2)
	if err != nil {
		t.Fatalf("ComponentOf: %v", err)
	}
	for i, tr := range s {
		if !floats.Equal(comp.RawRowView(i), tr.Locs.RawRowView(2)) {
			t.Fatalf("draw %d component 2 = %v, want %v", i, comp.RawRowView(i), tr.Locs.RawRowView(2))
		}
	}
	if _, err := ComponentOf(locs, 3); err == nil {
		t.Fatal("expected error for component out of range")
	}
	if _, err := LocMeansOf(nil); err == nil {
		t.Fatal("expected error for nil tensor")
	}
	if Samples(nil).Locs() != nil || Samples(nil).LocMeans() != nil {
		t.Fatal("empty sample set should give nil locs")
	}
}

func TestSitesCoverTheta(t *testing.T) {
	for _, cov := range []Covariance{Correlated, Diagonal} {
		m, err := New(Hyper{N: 7, Covariance: cov})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		next := 0
		for _, s := range m.Sites() {
			if s.Offset != next || s.Len <= 0 {
				t.Fatalf("%v: site %s at %d+%d, want offset %d", cov, s.Name, s.Offset, s.Len, next)
			}
			next += s.Len
		}
		if next != m.Dim() {
			t.Fatalf("%v: sites cover %d of %d coordinates", cov, next, m.Dim())
		}
	}
}
