package experiment

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/Noofbiz/bmix/model"
	"github.com/Noofbiz/bmix/monte"
	"github.com/Noofbiz/bmix/vi"
)

// Inference is the engine-independent output of one inference call.
type Inference struct {
	Samples model.Samples
	Model   *model.Conditioned
	// Guide is nil for sampling engines.
	Guide vi.Guide

	Losses         []float64
	LogLikelihoods []float64
}

// Engine fits the mixture model to data and returns posterior draws.
type Engine interface {
	Name() string
	Infer(rng *rand.Rand, data mat.Matrix, hyper model.Hyper, numSamples int) (*Inference, error)
}

// VIEngine runs variational inference. Config.Hyper and Config.NumSamples
// are overridden per call.
type VIEngine struct {
	Config vi.Config
}

func (e VIEngine) Name() string { return "vi-" + e.Config.Guide.String() }

func (e VIEngine) Infer(rng *rand.Rand, data mat.Matrix, hyper model.Hyper, numSamples int) (*Inference, error) {
	cfg := e.Config
	cfg.Hyper = hyper
	cfg.NumSamples = numSamples
	res, err := vi.Infer(rng, data, cfg)
	if err != nil {
		return nil, errors.Wrap(err, e.Name())
	}
	return &Inference{
		Samples:        res.Samples,
		Model:          res.Model,
		Guide:          res.Guide,
		Losses:         res.Losses,
		LogLikelihoods: res.LogLikelihoods,
	}, nil
}

// MCMCEngine runs the No-U-Turn sampler. Config.NumSamples is overridden
// per call.
type MCMCEngine struct {
	Config monte.Config
}

func (e MCMCEngine) Name() string { return "nuts" }

func (e MCMCEngine) Infer(rng *rand.Rand, data mat.Matrix, hyper model.Hyper, numSamples int) (*Inference, error) {
	m, err := model.New(hyper)
	if err != nil {
		return nil, errors.Wrap(err, e.Name())
	}
	cond, err := m.Condition(data)
	if err != nil {
		return nil, errors.Wrap(err, e.Name())
	}
	cfg := e.Config
	cfg.NumSamples = numSamples
	mc, err := monte.NewMonte(cond, cfg)
	if err != nil {
		return nil, errors.Wrap(err, e.Name())
	}
	res, err := mc.Run(rng)
	if err != nil {
		return nil, errors.Wrap(err, e.Name())
	}
	return &Inference{
		Samples:        res.Samples,
		Model:          res.Model,
		Losses:         res.Losses,
		LogLikelihoods: res.LogLikelihoods,
	}, nil
}
