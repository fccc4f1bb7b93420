// Package orbit combines osculating Keplerian element estimates and
// converts between mean, eccentric and true anomaly.
package orbit

import (
	"fmt"

	"github.com/soniakeys/unit"
)

// MJDOffset converts a Modified Julian Date to a Julian Day.
const MJDOffset = 2400000.5

// Element is a value paired with its 1-sigma error.
type Element struct {
	Value float64 `json:"value"`
	Sigma float64 `json:"sigma"`
}

// Estimate is one set of osculating Keplerian elements at a reference epoch.
// Angles are in degrees, the semimajor axis in AU.
type Estimate struct {
	SemimajorAxis Element `json:"a"`
	Eccentricity  Element `json:"e"`
	Inclination   Element `json:"i"`
	Node          Element `json:"node"`
	ArgPerihelion Element `json:"peri"`
	MeanAnomaly   Element `json:"M"`
	Epoch         float64 `json:"epoch_jd"`
}

// Perihelion returns the perihelion distance q = a(1-e) in AU.
func (e Estimate) Perihelion() float64 {
	return e.SemimajorAxis.Value * (1 - e.Eccentricity.Value)
}

// Aphelion returns the aphelion distance Q = a(1+e) in AU.
func (e Estimate) Aphelion() float64 {
	return e.SemimajorAxis.Value * (1 + e.Eccentricity.Value)
}

func (e Estimate) String() string {
	return fmt.Sprintf("a=%.6f±%.2g e=%.6f±%.2g i=%.5f±%.2g node=%.5f±%.2g peri=%.5f±%.2g M=%.5f±%.2g epoch=JD%.5f",
		e.SemimajorAxis.Value, e.SemimajorAxis.Sigma,
		e.Eccentricity.Value, e.Eccentricity.Sigma,
		e.Inclination.Value, e.Inclination.Sigma,
		e.Node.Value, e.Node.Sigma,
		e.ArgPerihelion.Value, e.ArgPerihelion.Sigma,
		e.MeanAnomaly.Value, e.MeanAnomaly.Sigma,
		e.Epoch)
}

// NormDeg wraps an angle in degrees into [0, 360).
func NormDeg(deg float64) float64 {
	d := unit.PMod(deg, 360)
	if d >= 360 {
		// values a hair below zero round up to 360
		return 0
	}
	return d
}
