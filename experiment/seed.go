package experiment

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SelectInferenceSeed generates the dataset of cfg once, infers with every
// seed and returns the seed whose fitted posterior gives the largest
// Result.LogLikelihood, with its run and result. Ties keep the earlier seed.
func SelectInferenceSeed(seeds []uint64, cfg RunConfig) (uint64, *Run, *Result, error) {
	if len(seeds) == 0 {
		return 0, nil, nil, errors.New("select seed: no seeds")
	}
	run, err := NewRun(cfg)
	if err != nil {
		return 0, nil, nil, err
	}
	var (
		bestSeed uint64
		best     *Result
		bestLL   = math.Inf(-1)
	)
	for _, seed := range seeds {
		res, err := run.RunWithSeed(seed)
		if err != nil {
			return 0, nil, nil, errors.Wrapf(err, "seed %d", seed)
		}
		ll := res.LogLikelihood
		if math.IsNaN(ll) {
			klog.Warningf("select seed: seed %d gave a NaN log-likelihood", seed)
			continue
		}
		klog.V(1).Infof("select seed: seed %d log-likelihood %.6g", seed, ll)
		if best == nil || ll > bestLL {
			bestSeed, best, bestLL = seed, res, ll
		}
	}
	if best == nil {
		return 0, nil, nil, errors.New("select seed: no seed produced a log-likelihood")
	}
	run.Config.InferenceSeed = bestSeed
	return bestSeed, run, best, nil
}
