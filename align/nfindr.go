package align

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Extractor finds k end members in an N×D point set and returns them as a
// k×D matrix.
type Extractor interface {
	Extract(data mat.Matrix, k int) (*mat.Dense, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(data mat.Matrix, k int) (*mat.Dense, error)

// Extract calls f.
func (f ExtractorFunc) Extract(data mat.Matrix, k int) (*mat.Dense, error) { return f(data, k) }

// NFINDR is the N-FINDR end-member extraction algorithm. The data is
// projected onto its first k-1 principal components, k points are chosen at
// random and each is repeatedly replaced by whichever observation enlarges
// the simplex they span, until a full sweep makes no change or MaxIter
// sweeps have run.
type NFINDR struct {
	// MaxIter bounds the number of sweeps. Default 1500.
	MaxIter int
	// Src seeds the initial vertex choice. Required.
	Src *rand.Rand
}

// Extract implements Extractor.
func (nf *NFINDR) Extract(data mat.Matrix, k int) (*mat.Dense, error) {
	if nf.Src == nil {
		return nil, errors.New("nfindr: Src is nil")
	}
	n, d := data.Dims()
	if k < 2 {
		return nil, errors.Errorf("nfindr: need at least 2 end members, got %d", k)
	}
	if n < k {
		return nil, errors.Errorf("nfindr: %d observations for %d end members", n, k)
	}
	if k-1 > d {
		return nil, errors.Errorf("nfindr: %d end members need at least %d dimensions, got %d", k, k-1, d)
	}
	maxIter := nf.MaxIter
	if maxIter <= 0 {
		maxIter = 1500
	}

	reduced, err := reduce(data, k-1)
	if err != nil {
		return nil, err
	}

	idx := nf.Src.Perm(n)[:k]
	simplex := mat.NewDense(k, k, nil)
	for j := 0; j < k; j++ {
		simplex.Set(0, j, 1)
		for r := 0; r < k-1; r++ {
			simplex.Set(r+1, j, reduced.At(idx[j], r))
		}
	}
	vol := math.Abs(mat.Det(simplex))

	sweeps := 0
	for ; sweeps < maxIter; sweeps++ {
		changed := false
		for j := 0; j < k; j++ {
			for i := 0; i < n; i++ {
				old := mat.Col(nil, j, simplex)
				for r := 0; r < k-1; r++ {
					simplex.Set(r+1, j, reduced.At(i, r))
				}
				if v := math.Abs(mat.Det(simplex)); v > vol {
					vol = v
					idx[j] = i
					changed = true
				} else {
					simplex.SetCol(j, old)
				}
			}
		}
		if !changed {
			break
		}
	}
	klog.V(2).Infof("nfindr: %d sweeps, volume %.4g, vertices %v", sweeps+1, vol, idx)

	out := mat.NewDense(k, d, nil)
	for j, i := range idx {
		out.SetRow(j, mat.Row(nil, i, data))
	}
	return out, nil
}

// reduce projects the centred data onto its first p principal components.
func reduce(data mat.Matrix, p int) (*mat.Dense, error) {
	n, d := data.Dims()
	if p == d {
		var out mat.Dense
		out.CloneFrom(data)
		return &out, nil
	}
	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return nil, errors.New("nfindr: principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	centred := mat.NewDense(n, d, nil)
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, data)
		mean := stat.Mean(col, nil)
		for i := range col {
			centred.Set(i, j, col[i]-mean)
		}
	}
	var out mat.Dense
	out.Mul(centred, vecs.Slice(0, d, 0, p))
	return &out, nil
}

// BestOf runs extract attempts times on data and returns the result with the
// largest metric. Ties keep the later attempt.
func BestOf(ext Extractor, metric func(*mat.Dense) (float64, error), data mat.Matrix, k, attempts int) (*mat.Dense, error) {
	if attempts < 1 {
		attempts = 1
	}
	var best *mat.Dense
	bestScore := math.Inf(-1)
	for a := 0; a < attempts; a++ {
		out, err := ext.Extract(data, k)
		if err != nil {
			return nil, errors.Wrapf(err, "attempt %d", a)
		}
		score, err := metric(out)
		if err != nil {
			return nil, errors.Wrapf(err, "attempt %d", a)
		}
		if score >= bestScore {
			best, bestScore = out, score
		}
	}
	return best, nil
}

// ScoreExtractor extracts end members from data and aligns them with truth.
func ScoreExtractor(ext Extractor, data, truth mat.Matrix) (*Result, error) {
	k, _ := truth.Dims()
	found, err := ext.Extract(data, k)
	if err != nil {
		return nil, errors.Wrap(err, "score extractor")
	}
	return Align(found, truth)
}

// UnnormalizedDistortion is a BestOf metric preferring the widest triangle.
func UnnormalizedDistortion(locs *mat.Dense) (float64, error) {
	return SimplexDistortionOf(locs, false)
}
