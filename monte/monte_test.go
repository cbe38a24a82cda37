package monte

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/bmix/datasets"
	"github.com/Noofbiz/bmix/model"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// gaussian is an independent normal target with the given standard
// deviations.
type gaussian struct {
	sd []float64
}

func (g gaussian) LogDensity(x, grad []float64, _ bool) float64 {
	var lp float64
	for i, v := range x {
		z := v / g.sd[i]
		lp -= 0.5 * z * z
		if grad != nil {
			grad[i] = -v / (g.sd[i] * g.sd[i])
		}
	}
	return lp
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestChainSamplesGaussian(t *testing.T) {
	if testing.Short() {
		t.Skip("long sampler run")
	}
	sd := []float64{1, 2, 0.5}
	h := &hamiltonian{target: gaussian{sd: sd}, invMass: ones(3)}
	cur := h.newState([]float64{1, -1, 0.5})
	ch := runChain(newRNG(10), h, cur, Config{
		NumSamples:   2000,
		WarmupSteps:  300,
		MaxTreeDepth: 10,
		TargetAccept: 0.8,
		AdaptMass:    true,
	})
	if len(ch.draws) != 2000 {
		t.Fatalf("got %d draws, want 2000", len(ch.draws))
	}
	if ch.divergences != 0 {
		t.Fatalf("%d divergences on a gaussian target", ch.divergences)
	}
	if ch.acceptRate < 0.6 {
		t.Fatalf("accept rate %v too low", ch.acceptRate)
	}
	for j, s := range sd {
		col := make([]float64, len(ch.draws))
		for i, q := range ch.draws {
			col[i] = q[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if !approxEqual(mean, 0, 0.15*s) {
			t.Errorf("dim %d: mean %v, want 0", j, mean)
		}
		if !approxEqual(std, s, 0.15*s) {
			t.Errorf("dim %d: std %v, want %v", j, std, s)
		}
		if !approxEqual(h.invMass[j], s*s, 0.5*s*s) {
			t.Errorf("dim %d: inverse mass %v, want about %v", j, h.invMass[j], s*s)
		}
	}
}

func TestWindowSchedule(t *testing.T) {
	w := newWindowAdapter(1000, 1)
	inv := ones(1)
	var ends []int
	for i := 0; i < 1000; i++ {
		if w.update([]float64{float64(i % 7)}, inv) {
			ends = append(ends, i)
		}
	}
	want := []int{99, 149, 249, 449, 949}
	if !slices.Equal(ends, want) {
		t.Fatalf("window ends %v, want %v", ends, want)
	}
	if inv[0] == 1 {
		t.Fatal("inverse mass was not updated")
	}
}

func TestDualAveragingDirection(t *testing.T) {
	up := newDualAveraging(0.1, 0.8)
	down := newDualAveraging(0.1, 0.8)
	for i := 0; i < 50; i++ {
		up.update(1)
		down.update(0)
	}
	if !(up.stepSize() > down.stepSize()) {
		t.Fatalf("high acceptance step %v not above low acceptance step %v", up.stepSize(), down.stepSize())
	}
	if !(down.finalStepSize() < 0.1) {
		t.Fatalf("zero acceptance should shrink the step, got %v", down.finalStepSize())
	}
}

// TestRunOnMixture is a short run on the default dataset: 5 warmup steps
// and 10 draws.
func TestRunOnMixture(t *testing.T) {
	ds, err := datasets.Generate(newRNG(1), datasets.GenerateConfig{N: 500, Alpha: 1, NoiseScale: 0.01})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	m, err := model.New(model.Hyper{N: 500, Alpha: 1, NoiseScale: 0.01})
	if err != nil {
		t.Fatalf("model.New failed: %v", err)
	}
	cond, err := m.Condition(ds.Obs)
	if err != nil {
		t.Fatalf("Condition failed: %v", err)
	}
	iters := 0
	mc, err := NewMonte(cond, Config{
		WarmupSteps: 5,
		NumSamples:  10,
		OnIteration: func(int, bool) { iters++ },
	})
	if err != nil {
		t.Fatalf("NewMonte failed: %v", err)
	}
	res, err := mc.Run(newRNG(2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	dims := res.Samples.Locs().Shape().Dimensions
	if len(dims) != 3 || dims[0] != 10 || dims[1] != 3 || dims[2] != 2 {
		t.Fatalf("locs tensor dims = %v, want [10 3 2]", dims)
	}
	if math.IsNaN(res.LogLikelihood) || math.IsInf(res.LogLikelihood, 0) {
		t.Fatalf("aggregate log-likelihood %v", res.LogLikelihood)
	}
	if len(res.Losses) != 0 || len(res.LogLikelihoods) != 1 || res.LogLikelihoods[0] != res.LogLikelihood {
		t.Fatalf("losses %v log-likelihoods %v", res.Losses, res.LogLikelihoods)
	}
	if iters != 15 {
		t.Fatalf("OnIteration called %d times, want 15", iters)
	}
	if !(res.StepSize > 0) {
		t.Fatalf("step size %v", res.StepSize)
	}
}

func TestLogLikelihoodIndependentOfWorkers(t *testing.T) {
	m, err := model.New(model.Hyper{N: 50, NoiseScale: 0.05})
	if err != nil {
		t.Fatalf("model.New failed: %v", err)
	}
	rng := newRNG(3)
	tr, err := m.Sample(rng)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	cond, err := m.Condition(tr.Obs)
	if err != nil {
		t.Fatalf("Condition failed: %v", err)
	}
	var samples model.Samples
	for i := 0; i < 9; i++ {
		s, err := m.Sample(rng)
		if err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
		samples = append(samples, s)
	}
	want := samples.LogLikelihood(cond.Data)
	for _, workers := range []int{1, 4, 16} {
		mc, err := NewMonte(cond, Config{Workers: workers})
		if err != nil {
			t.Fatalf("NewMonte failed: %v", err)
		}
		got, err := mc.logLikelihood(samples)
		if err != nil {
			t.Fatalf("logLikelihood failed: %v", err)
		}
		if got != want {
			t.Fatalf("workers=%d: log-likelihood %v, want %v", workers, got, want)
		}
	}
}

func TestNewMonteValidation(t *testing.T) {
	if _, err := NewMonte(nil, Config{}); err == nil {
		t.Fatal("expected error for nil model")
	}
	m, _ := model.New(model.Hyper{N: 5})
	tr, _ := m.Sample(newRNG(1))
	cond, _ := m.Condition(tr.Obs)
	if _, err := NewMonte(cond, Config{TargetAccept: 1.5}); err == nil {
		t.Fatal("expected error for target accept above 1")
	}
	if _, err := NewMonte(cond, Config{NumSamples: -1}); err == nil {
		t.Fatal("expected error for negative sample count")
	}
	mc, err := NewMonte(cond, Config{})
	if err != nil {
		t.Fatalf("NewMonte failed: %v", err)
	}
	if mc.Config.WarmupSteps != 0 || mc.Config.MaxTreeDepth != 10 || mc.Config.NumSamples != 100 {
		t.Fatalf("unexpected defaults %+v", mc.Config)
	}
	if _, err := mc.Run(nil); err == nil {
		t.Fatal("expected error for nil rng")
	}
}

func TestRunWithoutWarmup(t *testing.T) {
	m, err := model.New(model.Hyper{N: 30, NoiseScale: 0.05})
	if err != nil {
		t.Fatalf("model.New failed: %v", err)
	}
	tr, err := m.Sample(newRNG(6))
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if err := m.Simulate(tr, newRNG(7)); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	cond, err := m.Condition(tr.Obs)
	if err != nil {
		t.Fatalf("Condition failed: %v", err)
	}
	var warm, sampled int
	mc, err := NewMonte(cond, Config{NumSamples: 4, MaxTreeDepth: 4, OnIteration: func(_ int, warmup bool) {
		if warmup {
			warm++
		} else {
			sampled++
		}
	}})
	if err != nil {
		t.Fatalf("NewMonte failed: %v", err)
	}
	if mc.Config.WarmupSteps != 0 {
		t.Fatalf("warmup replaced by %d", mc.Config.WarmupSteps)
	}
	if _, err := mc.Run(newRNG(8)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if warm != 0 || sampled != 4 {
		t.Fatalf("%d warmup and %d sampling iterations, want 0 and 4", warm, sampled)
	}
}
