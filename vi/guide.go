package vi

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// Family selects the variational family.
type Family int

const (
	// Normal is a mean-field normal guide on the unconstrained space.
	Normal Family = iota
	// Delta is a point mass, so fitting it is MAP estimation.
	Delta
)

func (f Family) String() string {
	switch f {
	case Normal:
		return "normal"
	case Delta:
		return "delta"
	default:
		return "unknown"
	}
}

// ParseFamily converts a configuration string into a Family.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "", "normal", "autonormal":
		return Normal, nil
	case "delta", "autodelta", "map":
		return Delta, nil
	}
	return 0, errors.Errorf("unknown guide %q", s)
}

// Guide is a fitted variational distribution over the unconstrained
// parameter vector of a model.
type Guide interface {
	Family() Family
	// Sample draws theta into dst.
	Sample(rng *rand.Rand, dst []float64)
}

// NormalGuide is a mean-field normal with per-coordinate scales.
type NormalGuide struct {
	Loc   []float64
	Scale []float64
}

func (g *NormalGuide) Family() Family { return Normal }

func (g *NormalGuide) Sample(rng *rand.Rand, dst []float64) {
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for i := range dst {
		dst[i] = g.Loc[i] + g.Scale[i]*unit.Rand()
	}
}

// DeltaGuide is a point mass at Loc.
type DeltaGuide struct {
	Loc []float64
}

func (g *DeltaGuide) Family() Family { return Delta }

func (g *DeltaGuide) Sample(_ *rand.Rand, dst []float64) { copy(dst, g.Loc) }

// softplus is log(1+exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// invSoftplus is the inverse of softplus for y > 0.
func invSoftplus(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
