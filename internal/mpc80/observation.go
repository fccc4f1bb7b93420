// Package mpc80 reads and writes optical astrometric observations in the
// 80 column Minor Planet Center record format.
package mpc80

import (
	"math"
	"sort"

	"github.com/soniakeys/meeus/v3/julian"
)

// LineLength is the exact width of an encoded observation record.
const LineLength = 80

// Observation is one optical astrometric measurement. An absent
// magnitude is NaN, not zero: a zero Mag encodes as 0.00. Use
// NewObservation to start from a record with no magnitude.
type Observation struct {
	Number      string // minor planet number, may be blank
	Designation string // provisional designation, may be blank
	Discovery   bool
	Note1       string // publishable note, one character
	Note2       string // observing note, one character

	Year  int
	Month int
	Day   float64 // fractional UTC day of month

	RA  float64 // degrees, [0,360)
	Dec float64 // degrees, [-90,90]

	Mag  float64 // NaN when absent
	Band string  // one character

	Reserved1 string // columns 57-65
	Reserved2 string // columns 72-77
	Obscode   string // three characters
}

// NewObservation returns an observation of designation at the given
// time and position, with no magnitude.
func NewObservation(designation string, year, month int, day, ra, dec float64) Observation {
	return Observation{
		Designation: designation,
		Year:        year,
		Month:       month,
		Day:         day,
		RA:          ra,
		Dec:         dec,
		Mag:         math.NaN(),
	}
}

// HasMag reports whether a magnitude was measured.
func (o Observation) HasMag() bool {
	return !math.IsNaN(o.Mag)
}

// JD returns the Julian Day of the observation time.
func (o Observation) JD() float64 {
	return julian.CalendarGregorianToJD(o.Year, o.Month, o.Day)
}

// Desig returns the number if set, otherwise the provisional designation.
func (o Observation) Desig() string {
	if o.Number != "" {
		return o.Number
	}
	return o.Designation
}

// ObservationSet is an ordered sequence of observations of one target.
// Operations in this package never modify a set in place.
type ObservationSet []Observation

// Clone returns a copy of s.
func (s ObservationSet) Clone() ObservationSet {
	if s == nil {
		return nil
	}
	return append(ObservationSet(nil), s...)
}

// Arc returns the time span of the set in days.
func (s ObservationSet) Arc() float64 {
	if len(s) < 2 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, o := range s {
		jd := o.JD()
		lo = math.Min(lo, jd)
		hi = math.Max(hi, jd)
	}
	return hi - lo
}

// Years returns the distinct calendar years in s in increasing order.
func (s ObservationSet) Years() []int {
	seen := make(map[int]struct{})
	var years []int
	for _, o := range s {
		if _, ok := seen[o.Year]; ok {
			continue
		}
		seen[o.Year] = struct{}{}
		years = append(years, o.Year)
	}
	sort.Ints(years)
	return years
}

// YearGroup is the subset of a set observed in one calendar year.
type YearGroup struct {
	Year int
	Obs  ObservationSet
}

// GroupByYear partitions s by calendar year. Groups are returned in
// increasing year order and keep the relative order of s within a group.
func GroupByYear(s ObservationSet) []YearGroup {
	years := s.Years()
	idx := make(map[int]int, len(years))
	groups := make([]YearGroup, len(years))
	for i, y := range years {
		idx[y] = i
		groups[i].Year = y
	}
	for _, o := range s {
		g := &groups[idx[o.Year]]
		g.Obs = append(g.Obs, o)
	}
	return groups
}

// SortByTime returns a copy of s stably sorted by (year, month, day).
func SortByTime(s ObservationSet) ObservationSet {
	out := s.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.Day < b.Day
	})
	return out
}
