package vi

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/model"
)

const halfLog2Pi = 0.9189385332046727

// Trainer holds the optimisation state of one variational fit.
type Trainer struct {
	cfg  Config
	cond *model.Conditioned
	rng  *rand.Rand
	dim  int

	// params is loc followed, for the normal guide, by the softplus-inverse
	// of the scales.
	params []float64
	opt    *Adam

	theta, eps, grad, pgrad []float64

	losses []float64
	lls    []float64
}

// NewTrainer conditions the model on data and initialises a fresh guide.
func NewTrainer(rng *rand.Rand, data mat.Matrix, cfg Config) (*Trainer, error) {
	if rng == nil {
		return nil, errors.New("vi: rng is nil")
	}
	if data == nil {
		return nil, errors.New("vi: data is nil")
	}
	cfg = cfg.withDefaults(data)
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "vi config")
	}
	m, err := model.New(cfg.Hyper)
	if err != nil {
		return nil, errors.Wrap(err, "vi")
	}
	cond, err := m.Condition(data)
	if err != nil {
		return nil, errors.Wrap(err, "vi")
	}

	dim := m.Dim()
	np := dim
	if cfg.Guide == Normal {
		np = 2 * dim
	}
	t := &Trainer{
		cfg:    cfg,
		cond:   cond,
		rng:    rng,
		dim:    dim,
		params: make([]float64, np),
		theta:  make([]float64, dim),
		eps:    make([]float64, dim),
		grad:   make([]float64, dim),
		pgrad:  make([]float64, np),
	}
	t.opt = newAdam(np, cfg.LearningRate, cfg.Beta1, cfg.Beta2, cfg.Epsilon)
	if klog.V(2).Enabled() {
		for _, s := range m.Sites() {
			klog.Infof("vi: site %s theta[%d:%d]", s.Name, s.Offset, s.Offset+s.Len)
		}
	}

	if cfg.Init == InitPrior {
		lat, err := m.SampleLatents(rng)
		if err != nil {
			return nil, errors.Wrap(err, "vi init")
		}
		copy(t.params[:dim], m.Unconstrain(lat))
	}
	if cfg.Guide == Normal {
		raw := invSoftplus(cfg.InitScale)
		for i := dim; i < np; i++ {
			t.params[i] = raw
		}
	}
	return t, nil
}

// Model returns the conditioned model being fitted.
func (t *Trainer) Model() *model.Conditioned { return t.cond }

// Losses returns the loss of every step taken so far.
func (t *Trainer) Losses() []float64 { return t.losses }

// LogLikelihoods returns the recorded log-likelihood diagnostics.
func (t *Trainer) LogLikelihoods() []float64 { return t.lls }

// Train runs the configured number of steps.
func (t *Trainer) Train() error {
	for it := 0; it < t.cfg.Iterations; it++ {
		if it%t.cfg.LikelihoodEvery == 0 {
			ll, err := t.LogLikelihood(t.cfg.LikelihoodSamples)
			if err != nil {
				return err
			}
			t.lls = append(t.lls, ll)
			klog.V(1).Infof("vi: iteration %d log-likelihood %.6g", it, ll)
		}
		loss, err := t.Step()
		if err != nil {
			return errors.Wrapf(err, "iteration %d", it)
		}
		if t.cfg.OnStep != nil {
			t.cfg.OnStep(it, loss)
		}
	}
	return nil
}

// Step takes one optimisation step on a single-draw estimate of the negative
// ELBO and returns that estimate.
func (t *Trainer) Step() (float64, error) {
	var loss float64
	dim := t.dim
	loc := t.params[:dim]
	switch t.cfg.Guide {
	case Delta:
		lp := t.cond.LogDensity(loc, t.grad, false)
		loss = -lp
		for i, g := range t.grad {
			t.pgrad[i] = -g
		}
	default:
		raw := t.params[dim:]
		unit := distuv.Normal{Mu: 0, Sigma: 1, Src: t.rng}
		var logq float64
		for i := range t.eps {
			e := unit.Rand()
			s := softplus(raw[i])
			t.eps[i] = e
			t.theta[i] = loc[i] + s*e
			logq -= math.Log(s) + 0.5*e*e + halfLog2Pi
		}
		lp := t.cond.LogDensity(t.theta, t.grad, true)
		loss = logq - lp
		for i, g := range t.grad {
			s := softplus(raw[i])
			t.pgrad[i] = -g
			t.pgrad[dim+i] = -(g*t.eps[i] + 1/s) * sigmoid(raw[i])
		}
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, errors.Errorf("vi: non-finite loss %v", loss)
	}
	t.opt.Step(t.params, t.pgrad)
	t.losses = append(t.losses, loss)
	return loss, nil
}

// Guide returns a snapshot of the current guide.
func (t *Trainer) Guide() Guide {
	loc := append([]float64(nil), t.params[:t.dim]...)
	if t.cfg.Guide == Delta {
		return &DeltaGuide{Loc: loc}
	}
	scale := make([]float64, t.dim)
	for i, r := range t.params[t.dim:] {
		scale[i] = softplus(r)
	}
	return &NormalGuide{Loc: loc, Scale: scale}
}

// LogLikelihood sums the data log-likelihood over n guide draws.
func (t *Trainer) LogLikelihood(n int) (float64, error) {
	g := t.Guide()
	m := t.cond.Model
	theta := make([]float64, t.dim)
	var ll float64
	for i := 0; i < n; i++ {
		g.Sample(t.rng, theta)
		ll += model.LogLikelihood(m.Complete(m.Constrain(theta)), t.cond.Data)
	}
	if math.IsNaN(ll) {
		return ll, errors.New("vi: log-likelihood is NaN")
	}
	return ll, nil
}

// Predictive draws n posterior predictive traces, simulating observations
// for each.
func (t *Trainer) Predictive(n int) (model.Samples, error) {
	g := t.Guide()
	m := t.cond.Model
	out := make(model.Samples, n)
	theta := make([]float64, t.dim)
	for i := range out {
		g.Sample(t.rng, theta)
		tr := m.Complete(m.Constrain(theta))
		if err := m.Simulate(tr, t.rng); err != nil {
			return nil, errors.Wrap(err, "vi predictive")
		}
		out[i] = tr
	}
	return out, nil
}
