package plots

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/Noofbiz/bmix/experiment"
)

// Metric extracts the value to map from a run result.
type Metric func(*experiment.Result) float64

// RMSMetric is the posterior spread of a run.
func RMSMetric(r *experiment.Result) float64 { return r.RMSLocs }

// ErrorMetric is the Frobenius norm of the aligned location differences.
func ErrorMetric(r *experiment.Result) float64 {
	if r.DiffLocs == nil {
		return math.NaN()
	}
	raw := r.DiffLocs.RawMatrix().Data
	var ss float64
	for _, v := range raw {
		ss += v * v
	}
	return math.Sqrt(ss)
}

// nearestGrid resamples scattered (x, y, z) points onto a regular grid by
// nearest-neighbour lookup. Coordinates are rescaled to the unit square
// before distances are taken.
type nearestGrid struct {
	xs, ys     []float64
	px, py, pz []float64
	z          [][]float64
}

func newNearestGrid(px, py, pz []float64, cols, rows int) *nearestGrid {
	g := &nearestGrid{px: px, py: py, pz: pz}
	xlo, xhi := widen(minOf(px), maxOf(px))
	ylo, yhi := widen(minOf(py), maxOf(py))
	g.xs = floats.Span(make([]float64, cols), xlo, xhi)
	g.ys = floats.Span(make([]float64, rows), ylo, yhi)
	xr, yr := xhi-xlo, yhi-ylo
	g.z = make([][]float64, cols)
	for c, x := range g.xs {
		g.z[c] = make([]float64, rows)
		for r, y := range g.ys {
			best := math.Inf(1)
			for i := range px {
				dx := (px[i] - x) / xr
				dy := (py[i] - y) / yr
				if d := dx*dx + dy*dy; d < best {
					best = d
					g.z[c][r] = pz[i]
				}
			}
		}
	}
	return g
}

func (g *nearestGrid) Dims() (c, r int)   { return len(g.xs), len(g.ys) }
func (g *nearestGrid) Z(c, r int) float64 { return g.z[c][r] }
func (g *nearestGrid) X(c int) float64    { return g.xs[c] }
func (g *nearestGrid) Y(r int) float64    { return g.ys[r] }

// Heatmap maps metric over the (log10 alpha, noise scale) plane of a grid
// of results, interpolating between runs by nearest neighbour, and marks
// the runs themselves.
func Heatmap(results []*experiment.Result, metric Metric, title string) (*plot.Plot, error) {
	var px, py, pz []float64
	for _, r := range results {
		if r == nil {
			continue
		}
		v := metric(r)
		if math.IsNaN(v) || !(r.Alpha > 0) {
			continue
		}
		px = append(px, math.Log10(r.Alpha))
		py = append(py, r.NoiseScale)
		pz = append(pz, v)
	}
	if len(px) == 0 {
		return nil, errors.New("heatmap: no usable results")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "log10 alpha"
	p.Y.Label.Text = "noise scale"

	g := newNearestGrid(px, py, pz, 100, 100)
	hm := plotter.NewHeatMap(g, palette.Heat(64, 1))
	if lo, hi := minOf(pz), maxOf(pz); lo == hi {
		hm.Min, hm.Max = lo-0.5, hi+0.5
	}
	p.Add(hm)

	xy := make(plotter.XYs, len(px))
	for i := range px {
		xy[i] = plotter.XY{X: px[i], Y: py[i]}
	}
	s, err := plotter.NewScatter(xy)
	if err != nil {
		return nil, errors.Wrap(err, "heatmap")
	}
	s.GlyphStyle.Shape = draw.RingGlyph{}
	s.GlyphStyle.Radius = vg.Points(3)
	p.Add(s)
	return p, nil
}

// widen gives a degenerate range a non-zero width.
func widen(lo, hi float64) (float64, float64) {
	if lo == hi {
		pad := math.Max(math.Abs(lo)*0.1, 1e-3)
		return lo - pad, hi + pad
	}
	return lo, hi
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
