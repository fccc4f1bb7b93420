package mpc80

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/unit"
)

// Column layout, zero based, end exclusive.
const (
	colNumber    = 0
	colDesig     = 5
	colDiscovery = 12
	colNote1     = 13
	colNote2     = 14
	colDate      = 15
	colRA        = 32
	colDec       = 44
	colReserved1 = 56
	colMag       = 65
	colBand      = 70
	colReserved2 = 71
	colObscode   = 77
)

// FormatError reports a record that cannot be decoded or encoded as an
// 80 column line.
type FormatError struct {
	Line   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("mpc80: %s: %q", e.Reason, e.Line)
}

func formatErr(line, format string, args ...any) error {
	return &FormatError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// Decoder converts 80 column lines to observations.
//
// By default lines that are not exactly 80 characters or that fail to parse
// are skipped silently. With Strict set they are still skipped but each one
// is reported in the returned error.
type Decoder struct {
	Strict bool
}

// Decode parses lines into an observation set.
func (d Decoder) Decode(lines []string) (ObservationSet, error) {
	var set ObservationSet
	var errs []error
	for i, line := range lines {
		o, err := DecodeLine(line)
		if err != nil {
			if d.Strict {
				errs = append(errs, fmt.Errorf("line %d: %w", i+1, err))
			}
			continue
		}
		set = append(set, o)
	}
	return set, errors.Join(errs...)
}

// Decode parses lines, silently discarding malformed ones.
func Decode(lines []string) ObservationSet {
	set, _ := Decoder{}.Decode(lines)
	return set
}

// DecodeLine parses a single 80 column record.
func DecodeLine(line string) (Observation, error) {
	if len(line) != LineLength {
		return Observation{}, formatErr(line, "length %d, want %d", len(line), LineLength)
	}
	year, month, day, err := parseDate(line[colDate:colRA])
	if err != nil {
		return Observation{}, formatErr(line, "invalid date: %v", err)
	}
	ra, err := parseRA(line[colRA:colDec])
	if err != nil {
		return Observation{}, formatErr(line, "invalid RA: %v", err)
	}
	dec, err := parseDec(line[colDec:colReserved1])
	if err != nil {
		return Observation{}, formatErr(line, "invalid Dec: %v", err)
	}

	o := NewObservation(strings.TrimSpace(line[colDesig:colDiscovery]), year, month, day, ra, dec)
	o.Number = strings.TrimSpace(line[colNumber:colDesig])
	o.Discovery = line[colDiscovery] == '*'
	o.Note1 = strings.TrimSpace(line[colNote1:colNote2])
	o.Note2 = strings.TrimSpace(line[colNote2:colDate])
	o.Reserved1 = strings.TrimSpace(line[colReserved1:colMag])
	o.Band = strings.TrimSpace(line[colBand:colReserved2])
	o.Reserved2 = strings.TrimSpace(line[colReserved2:colObscode])
	o.Obscode = strings.TrimSpace(line[colObscode:])
	if m := strings.TrimSpace(line[colMag:colBand]); m != "" {
		if o.Mag, err = strconv.ParseFloat(m, 64); err != nil {
			return Observation{}, formatErr(line, "invalid magnitude %q", m)
		}
	}
	return o, nil
}

func parseDate(field string) (year, month int, day float64, err error) {
	f := strings.Fields(field)
	if len(f) != 3 {
		return 0, 0, 0, fmt.Errorf("want 3 fields, got %d", len(f))
	}
	if year, err = strconv.Atoi(f[0]); err != nil {
		return
	}
	if month, err = strconv.Atoi(f[1]); err != nil {
		return
	}
	if day, err = strconv.ParseFloat(f[2], 64); err != nil {
		return
	}
	if month < 1 || month > 12 {
		err = fmt.Errorf("month %d out of range", month)
	} else if day < 1 || day >= 32 {
		err = fmt.Errorf("day %g out of range", day)
	}
	return
}

// sexaFields splits a space separated sexagesimal triplet.
func sexaFields(field string) (a string, m int, s float64, err error) {
	f := strings.Fields(field)
	if len(f) != 3 {
		return "", 0, 0, fmt.Errorf("want 3 fields, got %d", len(f))
	}
	if m, err = strconv.Atoi(f[1]); err != nil {
		return
	}
	if s, err = strconv.ParseFloat(f[2], 64); err != nil {
		return
	}
	if m < 0 || m > 59 || s < 0 || s >= 60 {
		err = fmt.Errorf("minutes or seconds out of range")
	}
	return f[0], m, s, err
}

func parseRA(field string) (float64, error) {
	hs, m, s, err := sexaFields(field)
	if err != nil {
		return 0, err
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %d out of range", h)
	}
	return unit.NewRA(h, m, s).Deg(), nil
}

func parseDec(field string) (float64, error) {
	ds, m, s, err := sexaFields(field)
	if err != nil {
		return 0, err
	}
	neg := byte(' ')
	switch ds[0] {
	case '-':
		neg = '-'
		ds = ds[1:]
	case '+':
		ds = ds[1:]
	}
	d, err := strconv.Atoi(ds)
	if err != nil {
		return 0, err
	}
	dec := unit.NewAngle(neg, d, m, s).Deg()
	if math.Abs(dec) > 90 {
		return 0, fmt.Errorf("declination %g out of range", dec)
	}
	return dec, nil
}

// Encode formats each observation as an 80 column line.
func Encode(set ObservationSet) []string {
	lines := make([]string, len(set))
	for i, o := range set {
		lines[i] = EncodeLine(o)
	}
	return lines
}

// EncodeLine formats one observation. Values too long for their field are
// truncated. Text containing non-ASCII characters yields a line that is not
// 80 bytes long; Clean drops such records.
func EncodeLine(o Observation) string {
	var b strings.Builder
	b.Grow(LineLength)
	b.WriteString(right(o.Number, colDesig-colNumber))
	b.WriteString(left(o.Designation, colDiscovery-colDesig))
	if o.Discovery {
		b.WriteByte('*')
	} else {
		b.WriteByte(' ')
	}
	b.WriteString(left(o.Note1, 1))
	b.WriteString(left(o.Note2, 1))
	b.WriteString(left(formatDate(o.Year, o.Month, o.Day), colRA-colDate))
	b.WriteString(left(formatRA(o.RA), colDec-colRA))
	b.WriteString(left(formatDec(o.Dec), colReserved1-colDec))
	b.WriteString(left(o.Reserved1, colMag-colReserved1))
	b.WriteString(right(formatMag(o.Mag), colBand-colMag))
	b.WriteString(left(o.Band, 1))
	b.WriteString(left(o.Reserved2, colObscode-colReserved2))
	b.WriteString(left(o.Obscode, LineLength-colObscode))
	return b.String()
}

// formatDate prints the day to 6 decimals. A day that rounds past the
// end of its month is carried into the next month through the Julian Day.
func formatDate(year, month int, day float64) string {
	d := math.Round(day*1e6) / 1e6
	if month >= 1 && month <= 12 && d >= float64(daysIn(year, month)+1) {
		year, month, d = julian.JDToCalendar(julian.CalendarGregorianToJD(year, month, d))
		d = math.Round(d*1e6) / 1e6
	}
	return fmt.Sprintf("%04d %02d %09.6f", year, month, d)
}

func daysIn(year, month int) int {
	return int(julian.CalendarGregorianToJD(year, month+1, 1) - julian.CalendarGregorianToJD(year, month, 1))
}

const sexaPrec = 2 // decimals of the seconds field

func formatRA(deg float64) string {
	h, m, s := splitSexa(unit.PMod(deg, 360)/15, sexaPrec)
	return fmt.Sprintf("%02d %02d %05.2f", h%24, m, s)
}

func formatDec(deg float64) string {
	sign := byte('+')
	if deg < 0 {
		sign = '-'
	}
	d, m, s := splitSexa(math.Abs(deg), sexaPrec)
	if d == 0 && m == 0 && s == 0 {
		sign = '+'
	}
	return fmt.Sprintf("%c%02d %02d %05.2f", sign, d, m, s)
}

// splitSexa splits v into whole units, minutes and seconds rounded to prec
// decimals, carrying rounding overflow into the higher fields.
func splitSexa(v float64, prec int) (int, int, float64) {
	scale := math.Pow10(prec)
	ticks := int64(math.Round(v * 3600 * scale))
	perUnit := int64(3600 * scale)
	perMin := int64(60 * scale)
	u := ticks / perUnit
	rem := ticks % perUnit
	return int(u), int(rem / perMin), float64(rem%perMin) / scale
}

func formatMag(mag float64) string {
	if math.IsNaN(mag) || math.IsInf(mag, 0) {
		return ""
	}
	s := strconv.FormatFloat(mag, 'f', 2, 64)
	if len(s) > colBand-colMag {
		s = strconv.FormatFloat(mag, 'f', 1, 64)
	}
	return s
}

func truncate(s string, w int) string {
	if utf8.RuneCountInString(s) <= w {
		return s
	}
	return string([]rune(s)[:w])
}

func left(s string, w int) string {
	s = truncate(s, w)
	return s + strings.Repeat(" ", w-utf8.RuneCountInString(s))
}

func right(s string, w int) string {
	s = truncate(s, w)
	return strings.Repeat(" ", w-utf8.RuneCountInString(s)) + s
}

// Clean removes exact textual duplicates, drops records that do not encode
// to a decodable 80 column line, and returns the rest stably sorted by time.
func Clean(set ObservationSet) ObservationSet {
	seen := make(map[string]struct{}, len(set))
	var out ObservationSet
	for _, o := range set {
		line := EncodeLine(o)
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		if _, err := DecodeLine(line); err != nil {
			continue
		}
		out = append(out, o)
	}
	return SortByTime(out)
}
