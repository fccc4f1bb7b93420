package orbit

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/soniakeys/unit"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EpochTolerance is the largest epoch difference, in days, still treated
// as the same reference epoch.
const EpochTolerance = 1e-6

var (
	ErrNoEstimates   = errors.New("no estimates to aggregate")
	ErrEpochMismatch = errors.New("estimates have inconsistent epochs")
)

// Aggregate combines independent estimates of the same orbit into one.
//
// Semimajor axis and eccentricity take the median of the inputs. The four
// angles take the circular mean, so 359° and 1° combine to 0°. Every
// combined sigma is sqrt(Σσ²)/N; for angles this is a linear approximation
// that holds while the inputs are near duplicates.
//
// All epochs must agree within EpochTolerance.
func Aggregate(ests []Estimate) (Estimate, error) {
	if len(ests) == 0 {
		return Estimate{}, ErrNoEstimates
	}
	epoch := ests[0].Epoch
	for _, e := range ests[1:] {
		if math.Abs(e.Epoch-epoch) > EpochTolerance {
			return Estimate{}, fmt.Errorf("%w: JD %.6f and JD %.6f", ErrEpochMismatch, epoch, e.Epoch)
		}
	}

	pick := func(f func(Estimate) Element) []Element {
		els := make([]Element, len(ests))
		for i, e := range ests {
			els[i] = f(e)
		}
		return els
	}
	return Estimate{
		SemimajorAxis: combineLinear(pick(func(e Estimate) Element { return e.SemimajorAxis })),
		Eccentricity:  combineLinear(pick(func(e Estimate) Element { return e.Eccentricity })),
		Inclination:   combineAngular(pick(func(e Estimate) Element { return e.Inclination })),
		Node:          combineAngular(pick(func(e Estimate) Element { return e.Node })),
		ArgPerihelion: combineAngular(pick(func(e Estimate) Element { return e.ArgPerihelion })),
		MeanAnomaly:   combineAngular(pick(func(e Estimate) Element { return e.MeanAnomaly })),
		Epoch:         epoch,
	}, nil
}

func split(els []Element) (values, sigmas []float64) {
	values = make([]float64, len(els))
	sigmas = make([]float64, len(els))
	for i, el := range els {
		values[i] = el.Value
		sigmas[i] = el.Sigma
	}
	return values, sigmas
}

func combinedSigma(sigmas []float64) float64 {
	return floats.Norm(sigmas, 2) / float64(len(sigmas))
}

func combineLinear(els []Element) Element {
	values, sigmas := split(els)
	return Element{Value: median(values), Sigma: combinedSigma(sigmas)}
}

func combineAngular(els []Element) Element {
	values, sigmas := split(els)
	return Element{Value: CircularMeanDeg(values), Sigma: combinedSigma(sigmas)}
}

// median returns the middle value, or the mean of the two middle values
// for an even count. x is not modified.
func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return stat.Mean(s[n/2-1:n/2+1], nil)
}

// CircularMeanDeg returns atan2(Σ sin θ, Σ cos θ) for angles in degrees,
// normalized into [0, 360).
func CircularMeanDeg(deg []float64) float64 {
	rad := make([]float64, len(deg))
	for i, d := range deg {
		rad[i] = unit.AngleFromDeg(d).Rad()
	}
	return NormDeg(unit.Angle(stat.CircularMean(rad, nil)).Deg())
}
