package datasets

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

const (
	obsFile         = "obs.csv"
	expectationFile = "expectation.csv"
	locsFile        = "locs.csv"
	weightsFile     = "weights.csv"
)

// WriteCSV exports the dataset to dir as obs.csv, expectation.csv, locs.csv
// and weights.csv. The directory is created if it does not exist.
func (d *Dataset) WriteCSV(dir string) error {
	if d == nil || d.Obs == nil || d.Locs == nil {
		return errors.New("write csv: empty dataset")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	_, dim := d.Obs.Dims()
	if err := writeMatrixCSV(filepath.Join(dir, obsFile), coordHeader(dim, ""), d.Obs); err != nil {
		return err
	}
	if d.Expectation != nil {
		if err := writeMatrixCSV(filepath.Join(dir, expectationFile), coordHeader(dim, ""), d.Expectation); err != nil {
			return err
		}
	}
	if err := writeMatrixCSV(filepath.Join(dir, locsFile), coordHeader(dim, ""), d.Locs); err != nil {
		return err
	}
	w := mat.NewDense(len(d.Weights), 1, append([]float64(nil), d.Weights...))
	if err := writeMatrixCSV(filepath.Join(dir, weightsFile), []string{"weight"}, w); err != nil {
		return err
	}
	klog.V(1).Infof("wrote dataset with %d observations to %s", d.Len(), dir)
	return nil
}

// ReadCSV loads a dataset previously written by WriteCSV. expectation.csv is
// optional. The returned dataset has no Trace.
func ReadCSV(dir string) (*Dataset, error) {
	_, obs, err := readMatrixCSV(filepath.Join(dir, obsFile))
	if err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	_, locs, err := readMatrixCSV(filepath.Join(dir, locsFile))
	if err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	_, od := obs.Dims()
	k, ld := locs.Dims()
	if od != ld {
		return nil, errors.Errorf("read dataset: obs has %d columns, locs has %d", od, ld)
	}
	ds := &Dataset{Obs: obs, Locs: locs}

	expPath := filepath.Join(dir, expectationFile)
	if _, err := os.Stat(expPath); err == nil {
		_, exp, err := readMatrixCSV(expPath)
		if err != nil {
			return nil, errors.Wrap(err, "read dataset")
		}
		if er, ec := exp.Dims(); er != ds.Len() || ec != od {
			return nil, errors.Errorf("read dataset: expectation is %d×%d, want %d×%d", er, ec, ds.Len(), od)
		}
		ds.Expectation = exp
	}

	_, w, err := readMatrixCSV(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	if wr, _ := w.Dims(); wr != k {
		return nil, errors.Errorf("read dataset: %d weights for %d end members", wr, k)
	}
	ds.Weights = mat.Col(nil, 0, w)
	return ds, nil
}
