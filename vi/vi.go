// Package vi fits a variational guide to the end-member mixture model by
// stochastic maximisation of the evidence lower bound.
//
// Every call to Infer builds its own Trainer, so optimisation state never
// leaks between runs.
package vi

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/model"
)

// Init selects how the guide location is initialised.
type Init int

const (
	// InitFeasible starts at the origin of the unconstrained space: uniform
	// weights, mid-band scales, zero locations and identity correlations.
	InitFeasible Init = iota
	// InitPrior starts at a draw from the prior.
	InitPrior
)

// Config holds the inference hyperparameters. Zero fields take the defaults
// listed on each field.
type Config struct {
	// Hyper configures the inference model. N and D are taken from the data
	// when zero.
	Hyper model.Hyper

	// Guide selects the variational family. Default Normal.
	Guide Family

	// Iterations is the number of optimisation steps. Default 1600.
	Iterations int

	// LearningRate for Adam. Default 0.005.
	LearningRate float64
	// Adam hyperparameters. Defaults 0.9, 0.999 and 1e-8.
	Beta1, Beta2, Epsilon float64

	// InitScale is the initial standard deviation of the normal guide.
	// Default 0.1.
	InitScale float64
	Init      Init

	// NumSamples is the size of the posterior predictive sample set.
	// Default 100.
	NumSamples int

	// LikelihoodSamples guide draws are summed into each log-likelihood
	// diagnostic, recorded every LikelihoodEvery iterations before the
	// step. Defaults 100 and 100.
	LikelihoodSamples int
	LikelihoodEvery   int

	// OnStep, when set, is called after every optimisation step.
	OnStep func(iter int, loss float64)
}

func (c Config) withDefaults(data mat.Matrix) Config {
	n, d := data.Dims()
	if c.Hyper.N == 0 {
		c.Hyper.N = n
	}
	if c.Hyper.D == 0 {
		c.Hyper.D = d
	}
	if c.Iterations == 0 {
		c.Iterations = 1600
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.005
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
	if c.InitScale == 0 {
		c.InitScale = 0.1
	}
	if c.NumSamples == 0 {
		c.NumSamples = 100
	}
	if c.LikelihoodSamples == 0 {
		c.LikelihoodSamples = 100
	}
	if c.LikelihoodEvery == 0 {
		c.LikelihoodEvery = 100
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Iterations < 0:
		return errors.Errorf("iterations must be >= 0, got %d", c.Iterations)
	case !(c.LearningRate > 0):
		return errors.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case !(c.InitScale > 0):
		return errors.Errorf("init scale must be positive, got %v", c.InitScale)
	case c.NumSamples < 1:
		return errors.Errorf("num samples must be >= 1, got %d", c.NumSamples)
	case c.LikelihoodEvery < 1:
		return errors.Errorf("likelihood interval must be >= 1, got %d", c.LikelihoodEvery)
	case c.Guide != Normal && c.Guide != Delta:
		return errors.Errorf("unknown guide %d", c.Guide)
	}
	return nil
}

// Result is the output of one variational fit.
type Result struct {
	// Samples is the posterior predictive sample set, observations included.
	Samples model.Samples
	Model   *model.Conditioned
	Guide   Guide

	Losses         []float64
	LogLikelihoods []float64
}

// Infer fits a guide to data (N×D) and draws the posterior predictive
// sample set.
func Infer(rng *rand.Rand, data mat.Matrix, cfg Config) (*Result, error) {
	tr, err := NewTrainer(rng, data, cfg)
	if err != nil {
		return nil, err
	}
	if err := tr.Train(); err != nil {
		return nil, err
	}
	samples, err := tr.Predictive(tr.cfg.NumSamples)
	if err != nil {
		return nil, err
	}
	losses := tr.Losses()
	klog.V(1).Infof("vi: %s guide fitted in %d steps, final loss %.4g",
		tr.cfg.Guide, tr.opt.Steps(), last(losses))
	return &Result{
		Samples:        samples,
		Model:          tr.Model(),
		Guide:          tr.Guide(),
		Losses:         losses,
		LogLikelihoods: tr.LogLikelihoods(),
	}, nil
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}
