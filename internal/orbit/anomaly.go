package orbit

import (
	"errors"
	"fmt"
	"math"

	"github.com/soniakeys/unit"
)

var (
	ErrNoConvergence = errors.New("kepler equation did not converge")
	ErrEccentricity  = errors.New("eccentricity out of range [0, 1)")
)

const (
	keplerTolerance = 1e-12 // radians
	keplerMaxIter   = 100

	// Above this eccentricity Newton-Raphson starts from E = π; starting
	// from E = M fails to converge for some high eccentricity orbits.
	highEccentricity = 0.7
)

func checkEccentricity(e float64) error {
	if e < 0 || e >= 1 || math.IsNaN(e) {
		return fmt.Errorf("%w: %g", ErrEccentricity, e)
	}
	return nil
}

// MeanToEccentric solves Kepler's equation E - e sin E = M for the eccentric
// anomaly by Newton-Raphson. Angles are in degrees.
func MeanToEccentric(meanDeg, e float64) (float64, error) {
	if err := checkEccentricity(e); err != nil {
		return 0, err
	}
	m := unit.AngleFromDeg(meanDeg).Rad()
	E := m
	if e > highEccentricity {
		E = math.Pi
	}
	for i := 0; i < keplerMaxIter; i++ {
		f := E - e*math.Sin(E) - m
		fp := 1 - e*math.Cos(E)
		dE := f / fp
		E -= dE
		if math.Abs(dE) < keplerTolerance {
			return unit.Angle(E).Deg(), nil
		}
	}
	return 0, fmt.Errorf("%w: M=%g° e=%g after %d iterations", ErrNoConvergence, meanDeg, e, keplerMaxIter)
}

// EccentricToTrue converts eccentric anomaly to true anomaly, in degrees,
// with the half-angle form ν = E + 2 atan2(β sin E, 1 - β cos E),
// β = e / (1 + √(1-e²)), which stays accurate as e approaches 1.
func EccentricToTrue(eccDeg, e float64) (float64, error) {
	if err := checkEccentricity(e); err != nil {
		return 0, err
	}
	E := unit.AngleFromDeg(eccDeg).Rad()
	beta := e / (1 + math.Sqrt(1-e*e))
	nu := E + 2*math.Atan2(beta*math.Sin(E), 1-beta*math.Cos(E))
	return unit.Angle(nu).Deg(), nil
}

// propagate evaluates f at x and x±sigma and returns f(x) with the mean
// absolute deviation of the two bounds as its error.
func propagate(f func(float64) (float64, error), x Element) (Element, error) {
	c, err := f(x.Value)
	if err != nil {
		return Element{}, err
	}
	lo, err := f(x.Value - x.Sigma)
	if err != nil {
		return Element{}, err
	}
	hi, err := f(x.Value + x.Sigma)
	if err != nil {
		return Element{}, err
	}
	return Element{Value: c, Sigma: (math.Abs(lo-c) + math.Abs(hi-c)) / 2}, nil
}

// MeanToEccentricWithError converts a mean anomaly and its error.
func MeanToEccentricWithError(mean Element, e float64) (Element, error) {
	return propagate(func(m float64) (float64, error) { return MeanToEccentric(m, e) }, mean)
}

// EccentricToTrueWithError converts an eccentric anomaly and its error.
func EccentricToTrueWithError(ecc Element, e float64) (Element, error) {
	return propagate(func(E float64) (float64, error) { return EccentricToTrue(E, e) }, ecc)
}

// MeanToTrue chains both conversions, returning eccentric and true anomaly.
func MeanToTrue(mean Element, e float64) (ecc, nu Element, err error) {
	if ecc, err = MeanToEccentricWithError(mean, e); err != nil {
		return Element{}, Element{}, err
	}
	if nu, err = EccentricToTrueWithError(ecc, e); err != nil {
		return Element{}, Element{}, err
	}
	return ecc, nu, nil
}
