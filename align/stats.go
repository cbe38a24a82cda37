package align

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LocMeans returns the column means of the draws of one end member (S×D).
func LocMeans(component mat.Matrix) []float64 {
	_, d := component.Dims()
	out := make([]float64, d)
	for j := range out {
		out[j] = stat.Mean(mat.Col(nil, j, component), nil)
	}
	return out
}

// LocStd returns the root mean square over dimensions of the population
// standard deviation of the draws of one end member (S×D).
func LocStd(component mat.Matrix) float64 {
	_, d := component.Dims()
	if d == 0 {
		return 0
	}
	var ss float64
	for j := 0; j < d; j++ {
		_, std := stat.PopMeanStdDev(mat.Col(nil, j, component), nil)
		ss += std * std
	}
	return math.Sqrt(ss / float64(d))
}

// RMS returns sqrt(mean(v²)).
func RMS(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var ss float64
	for _, x := range v {
		ss += x * x
	}
	return math.Sqrt(ss / float64(len(v)))
}
