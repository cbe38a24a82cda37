package datasets

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Noofbiz/bmix/model"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// TestGenerateShapes checks the default draw: 3 end members in 2 dimensions
// with 500 observations.
func TestGenerateShapes(t *testing.T) {
	ds, err := Generate(newRNG(1), GenerateConfig{NoiseScale: 0.01, Alpha: 1})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r, c := ds.Locs.Dims(); r != 3 || c != 2 {
		t.Fatalf("locs shape = (%d,%d), want (3,2)", r, c)
	}
	if r, c := ds.Obs.Dims(); r != 500 || c != 2 {
		t.Fatalf("obs shape = (%d,%d), want (500,2)", r, c)
	}
	if r, c := ds.Expectation.Dims(); r != 500 || c != 2 {
		t.Fatalf("expectation shape = (%d,%d), want (500,2)", r, c)
	}
	if len(ds.Weights) != 3 {
		t.Fatalf("got %d weights, want 3", len(ds.Weights))
	}
	if math.Abs(floats.Sum(ds.Weights)-1) > 1e-9 {
		t.Fatalf("weights sum to %v", floats.Sum(ds.Weights))
	}
	if ds.Trace == nil || ds.Trace.Obs != ds.Obs {
		t.Fatal("dataset trace does not carry the observations")
	}
	if ds.Len() != 500 || ds.Components() != 3 {
		t.Fatalf("Len=%d Components=%d", ds.Len(), ds.Components())
	}
}

func TestGenerateIsDeterministicPerSeed(t *testing.T) {
	cfg := GenerateConfig{N: 40, Alpha: 0.5, NoiseScale: 0.05}
	a, err := Generate(newRNG(42), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := Generate(newRNG(42), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !mat.Equal(a.Obs, b.Obs) || !mat.Equal(a.Locs, b.Locs) {
		t.Fatal("same seed produced different datasets")
	}
	c, err := Generate(newRNG(43), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if mat.Equal(a.Obs, c.Obs) {
		t.Fatal("different seeds produced identical observations")
	}
}

func TestGenerateDiagonal(t *testing.T) {
	ds, err := Generate(newRNG(9), GenerateConfig{N: 25, Covariance: model.Diagonal})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if ds.Trace.CorrChol != nil {
		t.Fatal("diagonal draw carries correlation factors")
	}
	if ds.Len() != 25 {
		t.Fatalf("Len = %d, want 25", ds.Len())
	}
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	if _, err := Generate(newRNG(1), GenerateConfig{NoiseScale: -1}); err == nil {
		t.Fatal("expected error for negative noise scale")
	}
	if _, err := Generate(nil, GenerateConfig{}); err == nil {
		t.Fatal("expected error for nil rng")
	}
}

func TestCSVRoundTrip(t *testing.T) {
	ds, err := Generate(newRNG(5), GenerateConfig{N: 12, NoiseScale: 0.02})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "export")
	if err := ds.WriteCSV(dir); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	got, err := ReadCSV(dir)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if !mat.Equal(got.Obs, ds.Obs) {
		t.Fatal("obs differ after round trip")
	}
	if !mat.Equal(got.Locs, ds.Locs) {
		t.Fatal("locs differ after round trip")
	}
	if !mat.Equal(got.Expectation, ds.Expectation) {
		t.Fatal("expectation differs after round trip")
	}
	if !floats.Equal(got.Weights, ds.Weights) {
		t.Fatalf("weights %v != %v", got.Weights, ds.Weights)
	}
	if got.Trace != nil {
		t.Fatal("dataset read from csv should have no trace")
	}
}

func TestReadCSVErrors(t *testing.T) {
	tmp := t.TempDir()
	if _, err := ReadCSV(tmp); err == nil {
		t.Fatal("expected error for missing files")
	}

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(tmp, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write(obsFile, "x0,x1\n1,2\n3,4\n")
	write(locsFile, "x0,x1,x2\n1,2,3\n")
	write(weightsFile, "weight\n1\n")
	if _, err := ReadCSV(tmp); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}

	write(locsFile, "x0,x1\n1,2\n")
	write(obsFile, "x0,x1\n1,oops\n")
	if _, err := ReadCSV(tmp); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
}
