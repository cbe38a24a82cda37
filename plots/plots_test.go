package plots

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/Noofbiz/bmix/experiment"
)

func fakeResult(alpha, noise, spread float64) *experiment.Result {
	locs := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0.5, 0.9})
	data := mat.NewDense(6, 2, []float64{0.1, 0.1, 0.9, 0.1, 0.5, 0.7, 0.4, 0.3, 0.6, 0.2, 0.5, 0.5})
	comps := make([]*mat.Dense, 3)
	for k := range comps {
		comps[k] = mat.NewDense(2, 2, []float64{
			locs.At(k, 0) - spread, locs.At(k, 1),
			locs.At(k, 0) + spread, locs.At(k, 1),
		})
	}
	return &experiment.Result{
		Alpha:      alpha,
		NoiseScale: noise,
		Beta:       0.9,
		RMSLocs:    spread,
		Data:       data,
		Locs:       locs,
		LocMeans:   mat.DenseCopyOf(locs),
		Components: comps,
		DiffLocs:   mat.NewDense(3, 2, []float64{spread, 0, 0, 0, 0, 0}),
	}
}

func checkPNG(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Size() == 0 {
		t.Fatalf("%s is empty", path)
	}
}

func TestEndmembersSaveIndexed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "figs")
	res := fakeResult(1, 0.01, 0.02)
	p, err := Endmembers(res, Options{Extracted: mat.NewDense(3, 2, []float64{0, 0.1, 1, 0.1, 0.5, 0.8})})
	if err != nil {
		t.Fatalf("Endmembers failed: %v", err)
	}
	path, err := SaveIndexed(p, dir, 7)
	if err != nil {
		t.Fatalf("SaveIndexed failed: %v", err)
	}
	if path != filepath.Join(dir, "7.png") {
		t.Fatalf("saved to %s", path)
	}
	checkPNG(t, path)
}

func TestEndmembersRejects3D(t *testing.T) {
	res := fakeResult(1, 0.01, 0.02)
	res.Data = mat.NewDense(2, 3, nil)
	if _, err := Endmembers(res, Options{}); err == nil {
		t.Fatal("expected error for 3-D data")
	}
}

func TestNFINDROverlayLimits(t *testing.T) {
	res := fakeResult(1, 0.01, 0.02)
	p, err := NFINDROverlay(res.Data, res.Locs, res.LocMeans, Options{XLim: &[2]float64{-1, 2}, YLim: &[2]float64{-1, 2}})
	if err != nil {
		t.Fatalf("NFINDROverlay failed: %v", err)
	}
	if p.X.Min != -1 || p.X.Max != 2 || p.Y.Min != -1 || p.Y.Max != 2 {
		t.Fatalf("limits not applied: x [%v,%v] y [%v,%v]", p.X.Min, p.X.Max, p.Y.Min, p.Y.Max)
	}
	path := filepath.Join(t.TempDir(), "nfindr.png")
	if err := Save(p, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	checkPNG(t, path)
}

func TestNearestGrid(t *testing.T) {
	g := newNearestGrid([]float64{0, 1}, []float64{0, 1}, []float64{10, 20}, 3, 3)
	c, r := g.Dims()
	if c != 3 || r != 3 {
		t.Fatalf("dims %d×%d", c, r)
	}
	if g.Z(0, 0) != 10 || g.Z(2, 2) != 20 {
		t.Fatalf("corners %v %v", g.Z(0, 0), g.Z(2, 2))
	}
	if g.X(1) != 0.5 || g.Y(2) != 1 {
		t.Fatalf("axes X(1)=%v Y(2)=%v", g.X(1), g.Y(2))
	}
}

func TestHeatmapAndConvergence(t *testing.T) {
	var results []*experiment.Result
	for i, a := range []float64{0.1, 1, 10} {
		for j, s := range []float64{0.01, 0.03} {
			results = append(results, fakeResult(a, s, 0.01*float64(1+i+j)))
		}
	}
	dir := t.TempDir()
	for i, m := range []Metric{RMSMetric, ErrorMetric} {
		p, err := Heatmap(results, m, "metric")
		if err != nil {
			t.Fatalf("Heatmap failed: %v", err)
		}
		path, err := SaveIndexed(p, dir, i)
		if err != nil {
			t.Fatalf("SaveIndexed failed: %v", err)
		}
		checkPNG(t, path)
	}
	if _, err := Heatmap(nil, RMSMetric, ""); err == nil {
		t.Fatal("expected error for no results")
	}

	p, err := Convergence([]float64{5, 4, 3, 2.5}, []float64{-400, -300}, 2, 100)
	if err != nil {
		t.Fatalf("Convergence failed: %v", err)
	}
	path := filepath.Join(dir, "conv.png")
	if err := Save(p, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	checkPNG(t, path)
}
