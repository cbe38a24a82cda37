// Package plots draws end-member scatter plots, accuracy heatmaps and
// convergence traces with gonum/plot and writes them as PNG files.
package plots

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/bmix/experiment"
)

// DefaultDir is where indexed figures are written.
const DefaultDir = "data/figs"

var (
	dataColor  = color.RGBA{R: 120, G: 120, B: 120, A: 160}
	truthColor = color.RGBA{R: 200, G: 30, B: 30, A: 255}
	meanColor  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	extraColor = color.RGBA{R: 20, G: 160, B: 60, A: 255}
)

// Options adjust the end-member plot.
type Options struct {
	Title string
	// XLim and YLim fix the axis ranges when non-nil.
	XLim, YLim *[2]float64
	// Extracted, when set, overlays end members found by an extractor such
	// as N-FINDR.
	Extracted *mat.Dense
}

// Endmembers plots observations, posterior location samples per end member,
// the ground truth and the posterior centroids of one run.
func Endmembers(res *experiment.Result, opts Options) (*plot.Plot, error) {
	if res == nil {
		return nil, errors.New("endmembers plot: nil result")
	}
	if _, d := res.Data.Dims(); d != 2 {
		return nil, errors.Errorf("endmembers plot: need 2-D data, got %d", d)
	}
	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("alpha = %.2f; beta = %.2f", res.Alpha, res.Beta)
	}
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	obs := rowsXY(res.Data)
	if err := addScatter(p, "phase embeddings", obs, dataColor, 1, draw.CircleGlyph{}); err != nil {
		return nil, err
	}
	all := append(plotter.XYs(nil), obs...)
	for k, comp := range res.Components {
		xy := rowsXY(comp)
		c := plotutil.Color(k)
		if err := addScatter(p, fmt.Sprintf("end member %d (posterior)", k), xy, c, 1.5, draw.CircleGlyph{}); err != nil {
			return nil, err
		}
		all = append(all, xy...)
	}
	truth := rowsXY(res.Locs)
	if err := addScatter(p, "end members (ground truth)", truth, truthColor, 5, draw.CrossGlyph{}); err != nil {
		return nil, err
	}
	if err := addScatter(p, "posterior centroids", rowsXY(res.LocMeans), meanColor, 4, draw.RingGlyph{}); err != nil {
		return nil, err
	}
	if opts.Extracted != nil {
		if err := addScatter(p, "nfindr", rowsXY(opts.Extracted), extraColor, 4, draw.TriangleGlyph{}); err != nil {
			return nil, err
		}
	}
	p.Add(plotter.NewGrid())
	setRange(p, all, opts)
	return p, nil
}

// NFINDROverlay plots observations, the ground truth and extracted end
// members.
func NFINDROverlay(data, truth, extracted mat.Matrix, opts Options) (*plot.Plot, error) {
	if _, d := data.Dims(); d != 2 {
		return nil, errors.Errorf("nfindr plot: need 2-D data, got %d", d)
	}
	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Legend.Top = true
	p.Legend.Left = true

	obs := rowsXY(data)
	if err := addScatter(p, "phase embeddings", obs, dataColor, 1, draw.CircleGlyph{}); err != nil {
		return nil, err
	}
	if err := addScatter(p, "end members (ground truth)", rowsXY(truth), truthColor, 5, draw.CrossGlyph{}); err != nil {
		return nil, err
	}
	if err := addScatter(p, "nfindr", rowsXY(extracted), extraColor, 4, draw.TriangleGlyph{}); err != nil {
		return nil, err
	}
	setRange(p, obs, opts)
	return p, nil
}

// Convergence plots the loss trajectory and, scaled to a per-draw value,
// the negated log-likelihood diagnostics recorded every `every` iterations
// from `draws` guide samples.
func Convergence(losses, lls []float64, every, draws int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "convergence"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "loss"

	if len(losses) > 0 {
		xy := make(plotter.XYs, len(losses))
		for i, l := range losses {
			xy[i] = plotter.XY{X: float64(i), Y: l}
		}
		line, err := plotter.NewLine(xy)
		if err != nil {
			return nil, errors.Wrap(err, "convergence plot")
		}
		line.Color = plotutil.Color(0)
		line.Width = vg.Points(0.8)
		p.Add(line)
		p.Legend.Add("loss", line)
	}
	if len(lls) > 0 {
		if draws < 1 {
			draws = 1
		}
		xy := make(plotter.XYs, len(lls))
		for i, ll := range lls {
			xy[i] = plotter.XY{X: float64(i * every), Y: -ll / float64(draws)}
		}
		if err := addScatter(p, "-log-likelihood per draw", xy, plotutil.Color(1), 3, draw.CircleGlyph{}); err != nil {
			return nil, err
		}
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// Save writes p to path, creating the directory if needed.
func Save(p *plot.Plot, path string) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	klog.V(1).Infof("wrote %s", path)
	return nil
}

// SaveIndexed writes p to <dir>/<i>.png. An empty dir means DefaultDir.
func SaveIndexed(p *plot.Plot, dir string, i int) (string, error) {
	if dir == "" {
		dir = DefaultDir
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.png", i))
	return path, Save(p, path)
}

func addScatter(p *plot.Plot, name string, xy plotter.XYs, c color.Color, radius float64, shape draw.GlyphDrawer) error {
	if len(xy) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(xy)
	if err != nil {
		return errors.Wrapf(err, "scatter %q", name)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(radius)
	s.GlyphStyle.Shape = shape
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

func rowsXY(m mat.Matrix) plotter.XYs {
	if m == nil {
		return nil
	}
	r, _ := m.Dims()
	xy := make(plotter.XYs, r)
	for i := range xy {
		xy[i] = plotter.XY{X: m.At(i, 0), Y: m.At(i, 1)}
	}
	return xy
}

func setRange(p *plot.Plot, xy plotter.XYs, opts Options) {
	xmin, xmax, ymin, ymax := autoRange(xy)
	if opts.XLim != nil {
		xmin, xmax = opts.XLim[0], opts.XLim[1]
	}
	if opts.YLim != nil {
		ymin, ymax = opts.YLim[0], opts.YLim[1]
	}
	p.X.Min, p.X.Max = xmin, xmax
	p.Y.Min, p.Y.Max = ymin, ymax
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin = math.Min(xmin, p.X)
		xmax = math.Max(xmax, p.X)
		ymin = math.Min(ymin, p.Y)
		ymax = math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
