package experiment

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// GridConfig holds the settings shared by every cycle of a grid.
type GridConfig struct {
	// Base supplies every RunConfig field except Alpha, NoiseScale and the
	// seeds. Base.InferNoiseScale (default 0.01) is the noise scale every
	// cycle infers with unless InferCellNoise is set.
	Base RunConfig
	// InferCellNoise makes each cycle infer with the noise scale its data
	// was generated with.
	InferCellNoise bool
	// StartSeed is the seed of cycle 0; cycle i uses StartSeed+i. Default 1.
	StartSeed uint64
	// Workers bounds the number of cycles run concurrently. Default 1.
	Workers int
	// OnCell, when set, is called as each cycle finishes. It may be called
	// from several goroutines.
	OnCell func(i int, res *Result)
}

// Grid runs one generate-then-infer cycle per (alpha, noise scale) pair.
// Each cycle has its own seed, so results do not depend on Workers. Runs and
// results are returned in input order. After a cycle fails no further
// cycles start, and the error of the lowest failed index is returned.
func Grid(alphas, noiseScales []float64, cfg GridConfig) ([]*Run, []*Result, error) {
	if len(alphas) != len(noiseScales) {
		return nil, nil, errors.Errorf("grid: %d alphas but %d noise scales", len(alphas), len(noiseScales))
	}
	n := len(alphas)
	if cfg.StartSeed == 0 {
		cfg.StartSeed = 1
	}
	workerCount := cfg.Workers
	if workerCount < 1 {
		workerCount = 1
	}
	if workerCount > n {
		workerCount = n
	}

	runs := make([]*Run, n)
	results := make([]*Result, n)
	errs := make([]error, n)

	var failed atomic.Bool
	jobs := make(chan int, n)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if failed.Load() {
					continue
				}
				rc := cfg.Base
				rc.Alpha = alphas[i]
				rc.NoiseScale = noiseScales[i]
				if cfg.InferCellNoise {
					rc.InferNoiseScale = noiseScales[i]
				}
				rc.DataSeed = cfg.StartSeed + uint64(i)
				rc.InferenceSeed = cfg.StartSeed + uint64(i)
				klog.V(1).Infof("grid: cycle %d alpha=%.3g noise=%.3g seed=%d", i, rc.Alpha, rc.NoiseScale, rc.DataSeed)
				run, err := NewRun(rc)
				if err != nil {
					errs[i] = errors.Wrapf(err, "grid cycle %d", i)
					failed.Store(true)
					continue
				}
				runs[i] = run
				res, err := run.Run()
				if err != nil {
					errs[i] = errors.Wrapf(err, "grid cycle %d", i)
					failed.Store(true)
					continue
				}
				results[i] = res
				if cfg.OnCell != nil {
					cfg.OnCell(i, res)
				}
			}
		}()
	}
	for i := 0; i < n && !failed.Load(); i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return runs, results, err
		}
	}
	return runs, results, nil
}

// DefaultScanNoise is the noise scale used by GridScanAlpha when none is
// given.
const DefaultScanNoise = 0.03*0.5 + 1e-3

// GridScanAlpha sweeps alphas at a fixed noise scale. With randomScale set,
// each cycle instead draws its noise scale uniformly on [0, 2*noiseScale)
// from rng. Nil alphas default to LogSpace(-1, 1, 10).
func GridScanAlpha(alphas []float64, noiseScale float64, randomScale bool, rng *rand.Rand, cfg GridConfig) ([]float64, []*Run, []*Result, error) {
	if alphas == nil {
		alphas = LogSpace(-1, 1, 10)
	}
	if noiseScale == 0 {
		noiseScale = DefaultScanNoise
	}
	scales := make([]float64, len(alphas))
	for i := range scales {
		if randomScale {
			if rng == nil {
				return nil, nil, nil, errors.New("grid scan: random scales need an rng")
			}
			// a zero draw would select the default noise scale downstream
			for scales[i] == 0 {
				scales[i] = rng.Float64() * noiseScale * 2
			}
		} else {
			scales[i] = noiseScale
		}
	}
	runs, res, err := Grid(alphas, scales, cfg)
	return scales, runs, res, err
}

// GridScanNoise sweeps noise scales at a fixed alpha.
func GridScanNoise(alpha float64, scales []float64, cfg GridConfig) ([]*Run, []*Result, error) {
	alphas := make([]float64, len(scales))
	for i := range alphas {
		alphas[i] = alpha
	}
	return Grid(alphas, scales, cfg)
}

// LogSpace returns n values whose base-10 logarithms are evenly spaced on
// [lo, hi].
func LogSpace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{math.Pow(10, lo)}
	}
	return floats.LogSpan(make([]float64, n), math.Pow(10, lo), math.Pow(10, hi))
}
