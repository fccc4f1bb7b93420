package solver

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"astrored/internal/orbit"
)

// Result file tags.
const (
	tagElements = "KEP" // a e i node peri M
	tagErrors   = "RMS" // 1-sigma errors in the same order
	tagEpoch    = "MJD" // reference epoch, Modified Julian Date
)

// ParseResult reads a solver result file. Blank lines, lines starting
// with '#' and lines with unknown tags are skipped. KEP, RMS and MJD are
// all required; a repeated tag replaces the earlier value.
func ParseResult(r io.Reader) (orbit.Estimate, error) {
	var (
		kep, rms       []float64
		mjd            float64
		hasKep, hasRMS bool
		hasMJD         bool
	)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case tagElements:
			v, err := parseFloats(fields[1:], 6)
			if err != nil {
				return orbit.Estimate{}, fmt.Errorf("line %d: %s: %w", n, tagElements, err)
			}
			kep, hasKep = v, true
		case tagErrors:
			v, err := parseFloats(fields[1:], 6)
			if err != nil {
				return orbit.Estimate{}, fmt.Errorf("line %d: %s: %w", n, tagErrors, err)
			}
			rms, hasRMS = v, true
		case tagEpoch:
			v, err := parseFloats(fields[1:], 1)
			if err != nil {
				return orbit.Estimate{}, fmt.Errorf("line %d: %s: %w", n, tagEpoch, err)
			}
			mjd, hasMJD = v[0], true
		}
	}
	if err := sc.Err(); err != nil {
		return orbit.Estimate{}, err
	}
	switch {
	case !hasKep:
		return orbit.Estimate{}, fmt.Errorf("missing %s line", tagElements)
	case !hasRMS:
		return orbit.Estimate{}, fmt.Errorf("missing %s line", tagErrors)
	case !hasMJD:
		return orbit.Estimate{}, fmt.Errorf("missing %s line", tagEpoch)
	}
	if kep[1] < 0 || kep[1] >= 1 {
		return orbit.Estimate{}, fmt.Errorf("%s: %w: %g", tagElements, orbit.ErrEccentricity, kep[1])
	}
	return orbit.Estimate{
		SemimajorAxis: orbit.Element{Value: kep[0], Sigma: rms[0]},
		Eccentricity:  orbit.Element{Value: kep[1], Sigma: rms[1]},
		Inclination:   orbit.Element{Value: kep[2], Sigma: rms[2]},
		Node:          orbit.Element{Value: orbit.NormDeg(kep[3]), Sigma: rms[3]},
		ArgPerihelion: orbit.Element{Value: orbit.NormDeg(kep[4]), Sigma: rms[4]},
		MeanAnomaly:   orbit.Element{Value: orbit.NormDeg(kep[5]), Sigma: rms[5]},
		Epoch:         mjd + orbit.MJDOffset,
	}, nil
}

func parseFloats(fields []string, want int) ([]float64, error) {
	if len(fields) < want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(fields))
	}
	out := make([]float64, want)
	for i := range out {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
