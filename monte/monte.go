// Package monte draws posterior samples of the end-member mixture model with
// the No-U-Turn Sampler.
//
// The sampler runs on the unconstrained parameter vector of a conditioned
// model. Warmup tunes the step size by dual averaging and, for long enough
// warmups, a diagonal mass matrix from windowed variance estimates. Draws
// are returned as completed traces, and a single aggregate log-likelihood is
// computed over all of them.
package monte

import (
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/model"
)

// Config holds the sampler settings. Zero fields take the defaults listed on
// each field.
type Config struct {
	// NumSamples is the number of retained draws. Default 100.
	NumSamples int
	// WarmupSteps is the number of adaptation iterations. Zero skips
	// adaptation and samples with the initial step size; callers usually
	// pass DefaultWarmupSteps.
	WarmupSteps int
	// MaxTreeDepth bounds trajectory doubling. Default 10.
	MaxTreeDepth int
	// TargetAccept is the dual-averaging target. Default 0.8.
	TargetAccept float64
	// InitRadius bounds the uniform initialisation on the unconstrained
	// space. Default 2.
	InitRadius float64
	// AdaptMass enables windowed diagonal mass adaptation. It only takes
	// effect when WarmupSteps is at least 150.
	AdaptMass bool
	// Workers bounds the likelihood worker pool. Default runtime.NumCPU().
	Workers int

	// OnIteration, when set, is called after every warmup and sampling
	// iteration with a running index over both phases.
	OnIteration func(iter int, warmup bool)
}

// DefaultWarmupSteps is the warmup length used by the command line.
const DefaultWarmupSteps = 5

const (
	maxInitAttempts  = 100
	divergenceCutoff = 1000
)

// Monte samples one conditioned model.
type Monte struct {
	Model  *model.Conditioned
	Config Config

	invMass []float64
}

// Result is the output of one sampler run.
type Result struct {
	// Samples holds one completed trace per retained draw.
	Samples model.Samples
	Model   *model.Conditioned

	// LogLikelihood sums the data log-likelihood over every draw.
	LogLikelihood float64
	// Losses is always empty; the sampler has no per-iteration loss.
	Losses []float64
	// LogLikelihoods holds LogLikelihood as its single entry.
	LogLikelihoods []float64

	StepSize    float64
	AcceptRate  float64
	Divergences int
	// InvMass is the final diagonal inverse mass matrix.
	InvMass []float64
}

// NewMonte creates a sampler for cond.
func NewMonte(cond *model.Conditioned, cfg Config) (*Monte, error) {
	if cond == nil {
		return nil, errors.New("conditioned model cannot be nil")
	}
	if cfg.NumSamples == 0 {
		cfg.NumSamples = 100
	}
	if cfg.MaxTreeDepth == 0 {
		cfg.MaxTreeDepth = 10
	}
	if cfg.TargetAccept == 0 {
		cfg.TargetAccept = 0.8
	}
	if cfg.InitRadius == 0 {
		cfg.InitRadius = 2
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	switch {
	case cfg.NumSamples < 1:
		return nil, errors.Errorf("num samples must be >= 1, got %d", cfg.NumSamples)
	case cfg.WarmupSteps < 0:
		return nil, errors.Errorf("warmup steps must be >= 0, got %d", cfg.WarmupSteps)
	case cfg.MaxTreeDepth < 1:
		return nil, errors.Errorf("max tree depth must be >= 1, got %d", cfg.MaxTreeDepth)
	case !(cfg.TargetAccept > 0 && cfg.TargetAccept < 1):
		return nil, errors.Errorf("target accept must be in (0, 1), got %v", cfg.TargetAccept)
	case !(cfg.InitRadius > 0):
		return nil, errors.Errorf("init radius must be positive, got %v", cfg.InitRadius)
	case cfg.Workers < 1:
		return nil, errors.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	invMass := make([]float64, cond.Dim())
	for i := range invMass {
		invMass[i] = 1
	}
	return &Monte{Model: cond, Config: cfg, invMass: invMass}, nil
}

// Run performs warmup followed by sampling.
func (m *Monte) Run(rng *rand.Rand) (*Result, error) {
	if rng == nil {
		return nil, errors.New("monte: rng is nil")
	}
	h := &hamiltonian{target: m.Model, invMass: append([]float64(nil), m.invMass...)}
	cur, err := m.initialState(rng, h)
	if err != nil {
		return nil, err
	}
	ch := runChain(rng, h, cur, m.Config)
	if ch.divergences > 0 {
		klog.Warningf("monte: %d of %d transitions diverged", ch.divergences, m.Config.NumSamples)
	}

	samples := make(model.Samples, len(ch.draws))
	for i, q := range ch.draws {
		samples[i] = m.Model.Complete(m.Model.Constrain(q))
	}
	ll, err := m.logLikelihood(samples)
	if err != nil {
		return nil, err
	}
	return &Result{
		Samples:        samples,
		Model:          m.Model,
		LogLikelihood:  ll,
		Losses:         []float64{},
		LogLikelihoods: []float64{ll},
		StepSize:       ch.stepSize,
		AcceptRate:     ch.acceptRate,
		Divergences:    ch.divergences,
		InvMass:        append([]float64(nil), h.invMass...),
	}, nil
}

type chain struct {
	draws       [][]float64
	stepSize    float64
	acceptRate  float64
	divergences int
}

// runChain adapts on cfg.WarmupSteps transitions from cur and then keeps
// cfg.NumSamples draws.
func runChain(rng *rand.Rand, h *hamiltonian, cur *state, cfg Config) chain {
	eps := h.findStepSize(rng, cur, 1)
	da := newDualAveraging(eps, cfg.TargetAccept)
	var wa *windowAdapter
	if cfg.AdaptMass && cfg.WarmupSteps >= minMassWarmup {
		wa = newWindowAdapter(cfg.WarmupSteps, len(cur.q))
	}

	iter := 0
	for i := 0; i < cfg.WarmupSteps; i++ {
		var st transition
		cur, st = h.transition(rng, cur, eps, cfg.MaxTreeDepth)
		da.update(st.acceptStat)
		eps = da.stepSize()
		if wa != nil && wa.update(cur.q, h.invMass) {
			eps = h.findStepSize(rng, cur, eps)
			da.restart(eps)
			klog.V(2).Infof("monte: warmup %d mass matrix updated, step size %.4g", i, eps)
		}
		if cfg.OnIteration != nil {
			cfg.OnIteration(iter, true)
		}
		iter++
	}
	if cfg.WarmupSteps > 0 {
		eps = da.finalStepSize()
	}
	klog.V(1).Infof("monte: warmup done after %d steps, step size %.4g", cfg.WarmupSteps, eps)

	ch := chain{draws: make([][]float64, cfg.NumSamples), stepSize: eps}
	var acceptSum float64
	for i := range ch.draws {
		var st transition
		cur, st = h.transition(rng, cur, eps, cfg.MaxTreeDepth)
		acceptSum += st.acceptStat
		if st.divergent {
			ch.divergences++
		}
		ch.draws[i] = append([]float64(nil), cur.q...)
		if cfg.OnIteration != nil {
			cfg.OnIteration(iter, false)
		}
		iter++
	}
	if len(ch.draws) > 0 {
		ch.acceptRate = acceptSum / float64(len(ch.draws))
	}
	return ch
}

// initialState draws uniformly on [-InitRadius, InitRadius] until the log
// density and its gradient are finite.
func (m *Monte) initialState(rng *rand.Rand, h *hamiltonian) (*state, error) {
	r := m.Config.InitRadius
	uni := distuv.Uniform{Min: -r, Max: r, Src: rng}
	q := make([]float64, m.Model.Dim())
	for attempt := 0; attempt < maxInitAttempts; attempt++ {
		for i := range q {
			q[i] = uni.Rand()
		}
		s := h.newState(q)
		if !math.IsInf(s.lp, 0) && !math.IsNaN(s.lp) && !floats.HasNaN(s.g) {
			return s, nil
		}
	}
	return nil, errors.Errorf("monte: no finite initial point after %d attempts", maxInitAttempts)
}

// logLikelihood evaluates each draw on a worker pool and sums the results in
// draw order.
func (m *Monte) logLikelihood(samples model.Samples) (float64, error) {
	n := len(samples)
	results := make([]float64, n)

	workerCount := m.Config.Workers
	if workerCount > n {
		workerCount = n
	}
	jobs := make(chan int, n)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = model.LogLikelihood(samples[i], m.Model.Data)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var ll float64
	for _, v := range results {
		ll += v
	}
	if math.IsNaN(ll) {
		return ll, errors.New("monte: log-likelihood is NaN")
	}
	return ll, nil
}
