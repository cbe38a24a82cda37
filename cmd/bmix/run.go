package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/align"
	"github.com/Noofbiz/bmix/config"
	"github.com/Noofbiz/bmix/datasets"
	"github.com/Noofbiz/bmix/experiment"
	"github.com/Noofbiz/bmix/plots"
	"github.com/Noofbiz/bmix/progress"
)

func runSingle(cfg *config.Config) error {
	rc, err := cfg.RunConfig()
	if err != nil {
		return err
	}
	if cfg.Data.Import != "" {
		if rc.Dataset, err = datasets.ReadCSV(cfg.Data.Import); err != nil {
			return err
		}
		klog.Infof("imported %d observations from %s", rc.Dataset.Len(), cfg.Data.Import)
	}
	if cfg.Output.Progress {
		rc.Engine = withProgress(rc.Engine, rc.NumSamples)
	}

	var (
		run *experiment.Run
		res *experiment.Result
	)
	if len(cfg.Inference.Seeds) > 0 {
		var seed uint64
		if seed, run, res, err = experiment.SelectInferenceSeed(cfg.Inference.Seeds, rc); err != nil {
			return err
		}
		klog.Infof("selected inference seed %d of %v", seed, cfg.Inference.Seeds)
	} else {
		if run, err = experiment.NewRun(rc); err != nil {
			return err
		}
		if res, err = run.Run(); err != nil {
			return err
		}
	}
	if cfg.Output.Export != "" {
		if err := run.Data.WriteCSV(cfg.Output.Export); err != nil {
			return err
		}
	}

	var extracted *mat.Dense
	if cfg.Output.NFINDR {
		nf := &align.NFINDR{Src: experiment.NewRNG(cfg.Seed)}
		extracted, err = align.BestOf(nf, align.UnnormalizedDistortion, res.Data, len(res.Components), cfg.Output.NFINDRAttempts)
		if err != nil {
			return err
		}
		al, err := align.Align(extracted, res.Locs)
		if err != nil {
			return err
		}
		klog.Infof("nfindr: permutation %v |diff|=%.4g", al.Permutation, al.Norm)
	}

	printResults(os.Stdout, []*experiment.Result{res})

	if !cfg.Output.Plot {
		return nil
	}
	idx := cfg.Output.FigIndex
	p, err := plots.Endmembers(res, plots.Options{Extracted: extracted})
	if err != nil {
		return err
	}
	if _, err := plots.SaveIndexed(p, cfg.Output.FigDir, idx); err != nil {
		return err
	}
	if inf := res.Inference; len(inf.Losses) > 0 {
		idx++
		vc := cfg.Inference.VI
		p, err := plots.Convergence(inf.Losses, inf.LogLikelihoods, vc.LikelihoodEvery, vc.LikelihoodSamples)
		if err != nil {
			return err
		}
		if _, err := plots.SaveIndexed(p, cfg.Output.FigDir, idx); err != nil {
			return err
		}
	}
	if extracted != nil {
		idx++
		p, err := plots.NFINDROverlay(res.Data, res.Locs, extracted, plots.Options{Title: "nfindr"})
		if err != nil {
			return err
		}
		if _, err := plots.SaveIndexed(p, cfg.Output.FigDir, idx); err != nil {
			return err
		}
	}
	return nil
}

func runGrid(cfg *config.Config) error {
	gc, err := cfg.GridConfig()
	if err != nil {
		return err
	}

	var (
		runs    []*experiment.Run
		results []*experiment.Result
		bar     *progress.Bar
	)
	cells := len(cfg.Grid.NoiseScales)
	if cfg.Mode == config.ModeGridAlpha {
		cells = cfg.Grid.AlphaCount
	}
	if cfg.Output.Progress {
		bar = progress.New(cfg.Mode, cells, nil)
		gc.OnCell = func(int, *experiment.Result) { bar.Add(1) }
	}

	switch cfg.Mode {
	case config.ModeGridAlpha:
		var scales []float64
		scales, runs, results, err = experiment.GridScanAlpha(cfg.Alphas(), cfg.Grid.NoiseScale, cfg.Grid.RandomScale, experiment.NewRNG(cfg.Seed), gc)
		if err == nil {
			klog.V(1).Infof("grid-alpha noise scales %v", scales)
		}
	default:
		runs, results, err = experiment.GridScanNoise(cfg.Data.Alpha, cfg.Grid.NoiseScales, gc)
	}
	if err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}

	if cfg.Output.Export != "" {
		for i, r := range runs {
			if err := r.Data.WriteCSV(filepath.Join(cfg.Output.Export, strconv.Itoa(i))); err != nil {
				return err
			}
		}
	}
	printResults(os.Stdout, results)

	if !cfg.Output.Plot {
		return nil
	}
	idx := cfg.Output.FigIndex
	for _, res := range results {
		p, err := plots.Endmembers(res, plots.Options{})
		if err != nil {
			return err
		}
		if _, err := plots.SaveIndexed(p, cfg.Output.FigDir, idx); err != nil {
			return err
		}
		idx++
	}
	for _, m := range []struct {
		metric plots.Metric
		title  string
	}{
		{plots.RMSMetric, "posterior RMS spread"},
		{plots.ErrorMetric, "end-member error"},
	} {
		p, err := plots.Heatmap(results, m.metric, m.title)
		if err != nil {
			return errors.Wrap(err, m.title)
		}
		if _, err := plots.SaveIndexed(p, cfg.Output.FigDir, idx); err != nil {
			return err
		}
		idx++
	}
	return nil
}

// withProgress attaches a progress bar to the engine's iteration hook. A new
// bar starts whenever the engine reports its first iteration, so repeated
// inferences each get their own.
func withProgress(eng experiment.Engine, numSamples int) experiment.Engine {
	switch e := eng.(type) {
	case experiment.VIEngine:
		var bar *progress.Bar
		total := e.Config.Iterations
		e.Config.OnStep = func(it int, loss float64) {
			if it == 0 {
				bar = progress.New(e.Name(), total, nil)
			}
			bar.Set(it+1, fmt.Sprintf("loss %.4g", loss))
			if it+1 == total {
				bar.Finish()
			}
		}
		return e
	case experiment.MCMCEngine:
		var bar *progress.Bar
		total := e.Config.WarmupSteps + numSamples
		e.Config.OnIteration = func(it int, warmup bool) {
			if it == 0 {
				bar = progress.New(e.Name(), total, nil)
			}
			note := "sampling"
			if warmup {
				note = "warmup"
			}
			bar.Set(it+1, note)
			if it+1 == total {
				bar.Finish()
			}
		}
		return e
	}
	return eng
}

func printResults(w io.Writer, results []*experiment.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "run\tengine\talpha\tnoise\tbeta\trms\terror\tpermutation\telapsed")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%.4g\t%.4g\t%.3f\t%.4g\t%.4g\t%v\t%s\n",
			r.RunID.String()[:8], r.Engine, r.Alpha, r.NoiseScale, r.Beta, r.RMSLocs,
			plots.ErrorMetric(r), r.Permutation, r.Elapsed.Round(time.Millisecond))
	}
	tw.Flush()
}
