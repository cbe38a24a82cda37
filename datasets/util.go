package datasets

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func parseFloat64(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	return strconv.ParseFloat(s, 64)
}

// readMatrixCSV reads a headed CSV of numeric columns into a dense matrix.
func readMatrixCSV(path string) (header []string, m *mat.Dense, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err = reader.Read()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read header of %s", path)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}

	var data []float64
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read row %d of %s", rows, path)
		}
		for j, field := range record {
			v, err := parseFloat64(field)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "%s row %d column %q", path, rows, header[j])
			}
			data = append(data, v)
		}
		rows++
	}
	if rows == 0 {
		return header, nil, errors.Errorf("%s has no data rows", path)
	}
	return header, mat.NewDense(rows, len(header), data), nil
}

// writeMatrixCSV writes m under header to path.
func writeMatrixCSV(path string, header []string, m mat.Matrix) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return errors.Wrapf(err, "write header of %s", path)
	}
	r, c := m.Dims()
	record := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "write row %d of %s", i, path)
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "flush %s", path)
}

// coordHeader returns {x0, x1, ...} with an optional leading column.
func coordHeader(d int, lead string) []string {
	h := make([]string, 0, d+1)
	if lead != "" {
		h = append(h, lead)
	}
	for j := 0; j < d; j++ {
		h = append(h, "x"+strconv.Itoa(j))
	}
	return h
}
