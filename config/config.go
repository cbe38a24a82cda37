// Package config holds the tunables of the bmix command: data generation,
// inference engines, grid sweeps and output. Values come from defaults, an
// optional JSON or YAML file, the CI environment flag and command-line
// flags, applied in that order.
package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/experiment"
	"github.com/Noofbiz/bmix/model"
	"github.com/Noofbiz/bmix/monte"
	"github.com/Noofbiz/bmix/vi"
)

// Modes accepted by Config.Mode.
const (
	ModeSingle    = "single"
	ModeGridAlpha = "grid-alpha"
	ModeGridNoise = "grid-noise"
)

type Config struct {
	Mode          string `json:"mode" yaml:"mode"`
	Seed          uint64 `json:"seed" yaml:"seed"`
	InferenceSeed uint64 `json:"inference_seed" yaml:"inference_seed"`

	Data      Data      `json:"data" yaml:"data"`
	Inference Inference `json:"inference" yaml:"inference"`
	Grid      Grid      `json:"grid" yaml:"grid"`
	Output    Output    `json:"output" yaml:"output"`
}

type Data struct {
	N               int     `json:"n" yaml:"n"`
	Alpha           float64 `json:"alpha" yaml:"alpha"`
	NoiseScale      float64 `json:"noise_scale" yaml:"noise_scale"`
	AlphaComponents float64 `json:"alpha_components" yaml:"alpha_components"`
	Covariance      string  `json:"covariance" yaml:"covariance"`
	// Import, when set, reads the dataset from a CSV directory instead of
	// generating it.
	Import string `json:"import" yaml:"import"`
}

type Inference struct {
	Engine          string  `json:"engine" yaml:"engine"`
	InferNoiseScale float64 `json:"infer_noise_scale" yaml:"infer_noise_scale"`
	NumSamples      int     `json:"num_samples" yaml:"num_samples"`
	VI              VI      `json:"vi" yaml:"vi"`
	NUTS            NUTS    `json:"nuts" yaml:"nuts"`
	// Seeds, when non-empty in single mode, are tried in turn and the one
	// with the best log-likelihood is kept.
	Seeds []uint64 `json:"seeds" yaml:"seeds"`
}

type VI struct {
	Guide             string  `json:"guide" yaml:"guide"`
	Iterations        int     `json:"iterations" yaml:"iterations"`
	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate"`
	AdamBeta1         float64 `json:"adam_beta1" yaml:"adam_beta1"`
	AdamBeta2         float64 `json:"adam_beta2" yaml:"adam_beta2"`
	AdamEps           float64 `json:"adam_eps" yaml:"adam_eps"`
	InitScale         float64 `json:"init_scale" yaml:"init_scale"`
	Init              string  `json:"init" yaml:"init"`
	LikelihoodSamples int     `json:"likelihood_samples" yaml:"likelihood_samples"`
	LikelihoodEvery   int     `json:"likelihood_every" yaml:"likelihood_every"`
}

type NUTS struct {
	Warmup       int     `json:"warmup" yaml:"warmup"`
	MaxTreeDepth int     `json:"max_tree_depth" yaml:"max_tree_depth"`
	TargetAccept float64 `json:"target_accept" yaml:"target_accept"`
	AdaptMass    bool    `json:"adapt_mass" yaml:"adapt_mass"`
	Workers      int     `json:"workers" yaml:"workers"`
}

type Grid struct {
	AlphaMin    float64   `json:"alpha_min_log10" yaml:"alpha_min_log10"`
	AlphaMax    float64   `json:"alpha_max_log10" yaml:"alpha_max_log10"`
	AlphaCount  int       `json:"alpha_count" yaml:"alpha_count"`
	NoiseScale  float64   `json:"noise_scale" yaml:"noise_scale"`
	RandomScale bool      `json:"random_scale" yaml:"random_scale"`
	NoiseScales []float64 `json:"noise_scales" yaml:"noise_scales"`
	StartSeed   uint64    `json:"start_seed" yaml:"start_seed"`
	Workers     int       `json:"workers" yaml:"workers"`
	// InferCellNoise infers each cycle with its data noise scale instead of
	// inference.infer_noise_scale.
	InferCellNoise bool `json:"infer_cell_noise" yaml:"infer_cell_noise"`
}

type Output struct {
	Plot           bool   `json:"plot" yaml:"plot"`
	FigDir         string `json:"fig_dir" yaml:"fig_dir"`
	FigIndex       int    `json:"fig_index" yaml:"fig_index"`
	Export         string `json:"export" yaml:"export"`
	NFINDR         bool   `json:"nfindr" yaml:"nfindr"`
	NFINDRAttempts int    `json:"nfindr_attempts" yaml:"nfindr_attempts"`
	Progress       bool   `json:"progress" yaml:"progress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode:          ModeSingle,
		Seed:          3,
		InferenceSeed: 3,
		Data: Data{
			N:               500,
			Alpha:           1,
			NoiseScale:      0.01,
			AlphaComponents: 5,
			Covariance:      "correlated",
		},
		Inference: Inference{
			Engine:          "vi",
			InferNoiseScale: 0.01,
			NumSamples:      100,
			VI: VI{
				Guide:             "normal",
				Iterations:        1600,
				LearningRate:      0.005,
				AdamBeta1:         0.9,
				AdamBeta2:         0.999,
				AdamEps:           1e-8,
				InitScale:         0.1,
				Init:              "feasible",
				LikelihoodSamples: 100,
				LikelihoodEvery:   100,
			},
			NUTS: NUTS{
				Warmup:       monte.DefaultWarmupSteps,
				MaxTreeDepth: 10,
				TargetAccept: 0.8,
			},
		},
		Grid: Grid{
			AlphaMin:    -1,
			AlphaMax:    1,
			AlphaCount:  10,
			NoiseScale:  experiment.DefaultScanNoise,
			NoiseScales: []float64{0.005, 0.01, 0.02, 0.04},
			StartSeed:   1,
			Workers:     1,
		},
		Output: Output{
			FigDir:         "data/figs",
			NFINDRAttempts: 1,
			Progress:       true,
		},
	}
}

// Load reads path on top of the defaults. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	default:
		err = json.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	klog.V(1).Infof("loaded config from %s", path)
	return cfg, nil
}

// ApplyEnv shortens every run when the CI variable is present.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if _, ok := lookup("CI"); !ok {
		return
	}
	klog.Info("CI detected, using smoke-test sizes")
	c.Inference.VI.Iterations = 50
	c.Inference.NumSamples = 10
	c.Data.N = 100
	if c.Grid.AlphaCount > 2 {
		c.Grid.AlphaCount = 2
	}
	if len(c.Grid.NoiseScales) > 2 {
		c.Grid.NoiseScales = c.Grid.NoiseScales[:2]
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle, ModeGridAlpha, ModeGridNoise:
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	if _, err := model.ParseCovariance(c.Data.Covariance); err != nil {
		return err
	}
	if _, err := vi.ParseFamily(c.Inference.VI.Guide); err != nil {
		return err
	}
	if _, err := parseInit(c.Inference.VI.Init); err != nil {
		return err
	}
	switch c.Inference.Engine {
	case "vi", "nuts", "mcmc":
	default:
		return errors.Errorf("unknown engine %q", c.Inference.Engine)
	}
	switch {
	case c.Data.N < 1:
		return errors.Errorf("data.n must be >= 1, got %d", c.Data.N)
	case c.Inference.NumSamples < 1:
		return errors.Errorf("inference.num_samples must be >= 1, got %d", c.Inference.NumSamples)
	case c.Mode == ModeGridAlpha && c.Grid.AlphaCount < 1:
		return errors.Errorf("grid.alpha_count must be >= 1, got %d", c.Grid.AlphaCount)
	case c.Mode == ModeGridNoise && len(c.Grid.NoiseScales) == 0:
		return errors.New("grid.noise_scales is empty")
	case c.Output.NFINDRAttempts < 1:
		return errors.Errorf("output.nfindr_attempts must be >= 1, got %d", c.Output.NFINDRAttempts)
	}
	return nil
}

// Write prints the configuration as indented JSON.
func (c *Config) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(c), "encode config")
}

func parseInit(s string) (vi.Init, error) {
	switch s {
	case "", "feasible":
		return vi.InitFeasible, nil
	case "prior":
		return vi.InitPrior, nil
	}
	return 0, errors.Errorf("unknown init %q", s)
}

// Engine builds the configured inference engine.
func (c *Config) Engine() (experiment.Engine, error) {
	switch c.Inference.Engine {
	case "nuts", "mcmc":
		n := c.Inference.NUTS
		return experiment.MCMCEngine{Config: monte.Config{
			WarmupSteps:  n.Warmup,
			MaxTreeDepth: n.MaxTreeDepth,
			TargetAccept: n.TargetAccept,
			AdaptMass:    n.AdaptMass,
			Workers:      n.Workers,
		}}, nil
	case "vi":
		v := c.Inference.VI
		guide, err := vi.ParseFamily(v.Guide)
		if err != nil {
			return nil, err
		}
		start, err := parseInit(v.Init)
		if err != nil {
			return nil, err
		}
		return experiment.VIEngine{Config: vi.Config{
			Guide:             guide,
			Iterations:        v.Iterations,
			LearningRate:      v.LearningRate,
			Beta1:             v.AdamBeta1,
			Beta2:             v.AdamBeta2,
			Epsilon:           v.AdamEps,
			InitScale:         v.InitScale,
			Init:              start,
			LikelihoodSamples: v.LikelihoodSamples,
			LikelihoodEvery:   v.LikelihoodEvery,
		}}, nil
	}
	return nil, errors.Errorf("unknown engine %q", c.Inference.Engine)
}

// RunConfig builds the single-run configuration.
func (c *Config) RunConfig() (experiment.RunConfig, error) {
	eng, err := c.Engine()
	if err != nil {
		return experiment.RunConfig{}, err
	}
	cov, err := model.ParseCovariance(c.Data.Covariance)
	if err != nil {
		return experiment.RunConfig{}, err
	}
	return experiment.RunConfig{
		Alpha:           c.Data.Alpha,
		NoiseScale:      c.Data.NoiseScale,
		InferNoiseScale: c.Inference.InferNoiseScale,
		N:               c.Data.N,
		NumSamples:      c.Inference.NumSamples,
		AlphaComponents: c.Data.AlphaComponents,
		Covariance:      cov,
		DataSeed:        c.Seed,
		InferenceSeed:   c.InferenceSeed,
		Engine:          eng,
	}, nil
}

// GridConfig builds the grid configuration shared by every cycle.
func (c *Config) GridConfig() (experiment.GridConfig, error) {
	base, err := c.RunConfig()
	if err != nil {
		return experiment.GridConfig{}, err
	}
	return experiment.GridConfig{
		Base:           base,
		StartSeed:      c.Grid.StartSeed,
		Workers:        c.Grid.Workers,
		InferCellNoise: c.Grid.InferCellNoise,
	}, nil
}

// Alphas returns the alpha sweep of grid-alpha mode.
func (c *Config) Alphas() []float64 {
	return experiment.LogSpace(c.Grid.AlphaMin, c.Grid.AlphaMax, c.Grid.AlphaCount)
}
