// Command bmix generates synthetic mixing data, infers its end members with
// variational inference or NUTS and reports how well they were recovered.
//
//	bmix -mode single -engine vi -guide normal -plot
//	bmix -mode grid-alpha -alpha-count 10 -workers 4 -plot
//	bmix -config run.yaml -print-effective-config
package main

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/config"
)

func main() {
	klog.InitFlags(nil)
	d := config.Default()

	configPath := flag.String("config", "", "path to a JSON or YAML config file (optional); flags given explicitly override it")
	printEffectiveConfig := flag.Bool("print-effective-config", false, "print the effective (file+env+CLI merged) configuration and exit")

	mode := flag.String("mode", d.Mode, "run mode: single, grid-alpha or grid-noise")
	seed := flag.Uint64("seed", d.Seed, "data generation seed")
	inferenceSeed := flag.Uint64("inference-seed", d.InferenceSeed, "inference seed")
	seeds := flag.String("seeds", "", "comma-separated inference seeds to try; the best log-likelihood wins (single mode)")

	n := flag.Int("n", d.Data.N, "number of observations")
	alpha := flag.Float64("alpha", d.Data.Alpha, "local weight concentration")
	noise := flag.Float64("noise", d.Data.NoiseScale, "noise scale of the generated data")
	alphaComponents := flag.Float64("alpha-components", d.Data.AlphaComponents, "global weight concentration of the generated data")
	covariance := flag.String("covariance", d.Data.Covariance, "noise covariance: correlated or diagonal")
	importDir := flag.String("import", "", "read the dataset from this CSV directory instead of generating it")

	engine := flag.String("engine", d.Inference.Engine, "inference engine: vi or nuts")
	inferNoise := flag.Float64("infer-noise", d.Inference.InferNoiseScale, "noise scale assumed by the inference model")
	samples := flag.Int("samples", d.Inference.NumSamples, "number of posterior samples")
	guide := flag.String("guide", d.Inference.VI.Guide, "variational guide: normal or delta")
	iterations := flag.Int("iterations", d.Inference.VI.Iterations, "VI optimisation steps")
	learningRate := flag.Float64("learning-rate", d.Inference.VI.LearningRate, "Adam learning rate")
	initMode := flag.String("init", d.Inference.VI.Init, "guide initialisation: feasible or prior")
	warmup := flag.Int("warmup", d.Inference.NUTS.Warmup, "NUTS warmup steps")
	maxTreeDepth := flag.Int("max-tree-depth", d.Inference.NUTS.MaxTreeDepth, "NUTS maximum tree depth")
	adaptMass := flag.Bool("adapt-mass", d.Inference.NUTS.AdaptMass, "adapt a diagonal mass matrix during NUTS warmup")

	alphaMin := flag.Float64("alpha-min", d.Grid.AlphaMin, "log10 of the smallest alpha in grid-alpha mode")
	alphaMax := flag.Float64("alpha-max", d.Grid.AlphaMax, "log10 of the largest alpha in grid-alpha mode")
	alphaCount := flag.Int("alpha-count", d.Grid.AlphaCount, "number of alphas in grid-alpha mode")
	scanNoise := flag.Float64("scan-noise", d.Grid.NoiseScale, "noise scale (or its upper bound with -random-scale) in grid-alpha mode")
	randomScale := flag.Bool("random-scale", d.Grid.RandomScale, "draw each grid-alpha noise scale uniformly from (0, 2*scan-noise)")
	noiseScales := flag.String("noise-scales", "", "comma-separated noise scales for grid-noise mode")
	startSeed := flag.Uint64("start-seed", d.Grid.StartSeed, "seed of the first grid cycle")
	workers := flag.Int("workers", d.Grid.Workers, "grid cycles run concurrently")
	inferCellNoise := flag.Bool("infer-cell-noise", d.Grid.InferCellNoise, "infer each grid cycle with its data noise scale instead of -infer-noise")

	plot := flag.Bool("plot", d.Output.Plot, "write figures")
	figDir := flag.String("fig-dir", d.Output.FigDir, "figure directory")
	figIndex := flag.Int("fig-index", d.Output.FigIndex, "index of the first figure file")
	export := flag.String("export", d.Output.Export, "write generated datasets as CSV under this directory")
	nfindr := flag.Bool("nfindr", d.Output.NFINDR, "also extract end members with N-FINDR (single mode)")
	nfindrAttempts := flag.Int("nfindr-attempts", d.Output.NFINDRAttempts, "N-FINDR restarts; the widest simplex wins")
	showProgress := flag.Bool("progress", d.Output.Progress, "report inference progress")

	flag.Parse()
	defer klog.Flush()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			klog.Fatalf("failed to load config: %v", err)
		}
	}
	cfg.ApplyEnv(nil)

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "seed":
			cfg.Seed = *seed
		case "inference-seed":
			cfg.InferenceSeed = *inferenceSeed
		case "seeds":
			v, err := parseUints(*seeds)
			if err != nil {
				flagErr = errors.Wrap(err, "-seeds")
			}
			cfg.Inference.Seeds = v
		case "n":
			cfg.Data.N = *n
		case "alpha":
			cfg.Data.Alpha = *alpha
		case "noise":
			cfg.Data.NoiseScale = *noise
		case "alpha-components":
			cfg.Data.AlphaComponents = *alphaComponents
		case "covariance":
			cfg.Data.Covariance = *covariance
		case "import":
			cfg.Data.Import = *importDir
		case "engine":
			cfg.Inference.Engine = *engine
		case "infer-noise":
			cfg.Inference.InferNoiseScale = *inferNoise
		case "samples":
			cfg.Inference.NumSamples = *samples
		case "guide":
			cfg.Inference.VI.Guide = *guide
		case "iterations":
			cfg.Inference.VI.Iterations = *iterations
		case "learning-rate":
			cfg.Inference.VI.LearningRate = *learningRate
		case "init":
			cfg.Inference.VI.Init = *initMode
		case "warmup":
			cfg.Inference.NUTS.Warmup = *warmup
		case "max-tree-depth":
			cfg.Inference.NUTS.MaxTreeDepth = *maxTreeDepth
		case "adapt-mass":
			cfg.Inference.NUTS.AdaptMass = *adaptMass
		case "alpha-min":
			cfg.Grid.AlphaMin = *alphaMin
		case "alpha-max":
			cfg.Grid.AlphaMax = *alphaMax
		case "alpha-count":
			cfg.Grid.AlphaCount = *alphaCount
		case "scan-noise":
			cfg.Grid.NoiseScale = *scanNoise
		case "random-scale":
			cfg.Grid.RandomScale = *randomScale
		case "noise-scales":
			v, err := parseFloats(*noiseScales)
			if err != nil {
				flagErr = errors.Wrap(err, "-noise-scales")
			}
			cfg.Grid.NoiseScales = v
		case "start-seed":
			cfg.Grid.StartSeed = *startSeed
		case "workers":
			cfg.Grid.Workers = *workers
		case "infer-cell-noise":
			cfg.Grid.InferCellNoise = *inferCellNoise
		case "plot":
			cfg.Output.Plot = *plot
		case "fig-dir":
			cfg.Output.FigDir = *figDir
		case "fig-index":
			cfg.Output.FigIndex = *figIndex
		case "export":
			cfg.Output.Export = *export
		case "nfindr":
			cfg.Output.NFINDR = *nfindr
		case "nfindr-attempts":
			cfg.Output.NFINDRAttempts = *nfindrAttempts
		case "progress":
			cfg.Output.Progress = *showProgress
		}
	})
	if flagErr != nil {
		klog.Fatalf("invalid flag: %v", flagErr)
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("invalid configuration: %v", err)
	}

	if *printEffectiveConfig {
		if err := cfg.Write(os.Stdout); err != nil {
			klog.Fatalf("failed to print config: %v", err)
		}
		return
	}

	var err error
	switch cfg.Mode {
	case config.ModeSingle:
		err = runSingle(cfg)
	case config.ModeGridAlpha, config.ModeGridNoise:
		err = runGrid(cfg)
	}
	if err != nil {
		klog.Errorf("%s failed: %v", cfg.Mode, err)
		klog.Flush()
		os.Exit(1)
	}
}

func parseUints(s string) ([]uint64, error) {
	var out []uint64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "token %q", tok)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "token %q", tok)
		}
		out = append(out, v)
	}
	return out, nil
}
