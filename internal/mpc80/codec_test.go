package mpc80

import (
	"errors"
	"math"
	"strings"
	"testing"
)

const (
	lineA = "     NE00030  C2004 09 16.15206 16 13 11.57 +20 52 23.7          21.1 Vd     291"
	lineB = "     NE00030  C2004 09 16.16017 16 13 11.13 +20 52 09.6          20.7 Vd     291"
	lineC = "     NE00199  C2007 02 09.24234 06 08 06.06 +43 13 26.2          20.1  c     704"
)

// RA is encoded with 0.01s of time, Dec with 0.01 arcsec.
const (
	raTol  = 0.005 * 15 / 3600
	decTol = 0.005 / 3600
)

func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}

func TestDecodeLine(t *testing.T) {
	o, err := DecodeLine(lineA)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Designation != "NE00030" || o.Number != "" {
		t.Fatalf("unexpected identifiers %q %q", o.Number, o.Designation)
	}
	if o.Note2 != "C" || o.Discovery {
		t.Fatalf("unexpected flags note2=%q discovery=%v", o.Note2, o.Discovery)
	}
	if o.Year != 2004 || o.Month != 9 || math.Abs(o.Day-16.15206) > 1e-9 {
		t.Fatalf("unexpected date %d %d %v", o.Year, o.Month, o.Day)
	}
	wantRA := (16 + 13/60.0 + 11.57/3600) * 15
	if math.Abs(o.RA-wantRA) > 1e-9 {
		t.Fatalf("expected RA %v, got %v", wantRA, o.RA)
	}
	wantDec := 20 + 52/60.0 + 23.7/3600
	if math.Abs(o.Dec-wantDec) > 1e-9 {
		t.Fatalf("expected Dec %v, got %v", wantDec, o.Dec)
	}
	if o.Mag != 21.1 || o.Band != "V" || o.Reserved2 != "d" || o.Obscode != "291" {
		t.Fatalf("unexpected photometry/provenance %+v", o)
	}
}

func TestDecodeNegativeDec(t *testing.T) {
	line := lineA[:colDec] + "-00 30 00.00" + lineA[colReserved1:]
	o, err := DecodeLine(line)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if math.Abs(o.Dec+0.5) > 1e-12 {
		t.Fatalf("expected Dec -0.5, got %v", o.Dec)
	}
}

func TestDecodeBlankMagnitude(t *testing.T) {
	line := lineA[:colMag] + "     " + lineA[colBand:]
	o, err := DecodeLine(line)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.HasMag() {
		t.Fatalf("expected absent magnitude, got %v", o.Mag)
	}
}

func TestDecodeToleratesBadLengths(t *testing.T) {
	lines := []string{lineA[:79], lineA + " ", lineB}
	set := Decode(lines)
	if len(set) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(set))
	}
}

func TestDecoderStrictReportsErrors(t *testing.T) {
	garbled := lineA[:colRA] + "xx yy zz.zz " + lineA[colDec:]
	set, err := Decoder{Strict: true}.Decode([]string{lineA[:79], garbled, lineB})
	if len(set) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(set))
	}
	if err == nil {
		t.Fatalf("expected strict decode error")
	}
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %T", err)
	}
	if n := strings.Count(err.Error(), "mpc80:"); n != 2 {
		t.Fatalf("expected 2 reported lines, got %d: %v", n, err)
	}
}

func TestEncodeLayout(t *testing.T) {
	o := Observation{
		Number:    "433",
		Discovery: true,
		Note2:     "C",
		Year:      2023,
		Month:     1,
		Day:       5.5,
		RA:        0,
		Dec:       -12.5,
		Mag:       math.NaN(),
		Band:      "G",
		Obscode:   "X05",
	}
	line := EncodeLine(o)
	if len(line) != LineLength {
		t.Fatalf("expected %d columns, got %d", LineLength, len(line))
	}
	if line[:5] != "  433" {
		t.Fatalf("expected right justified number, got %q", line[:5])
	}
	if line[colDiscovery] != '*' {
		t.Fatalf("expected discovery asterisk, got %q", line[colDiscovery])
	}
	if got := line[colDate:colRA]; got != "2023 01 05.500000" {
		t.Fatalf("unexpected date field %q", got)
	}
	if got := line[colRA:colDec]; got != "00 00 00.00 " {
		t.Fatalf("unexpected RA field %q", got)
	}
	if got := line[colDec:colReserved1]; got != "-12 30 00.00" {
		t.Fatalf("unexpected Dec field %q", got)
	}
	if got := line[colMag:colBand]; got != "     " {
		t.Fatalf("expected blank magnitude, got %q", got)
	}
	if line[colObscode:] != "X05" {
		t.Fatalf("unexpected obscode %q", line[colObscode:])
	}
}

func TestEncodeTruncatesLongFields(t *testing.T) {
	o, _ := DecodeLine(lineA)
	o.Designation = "ABCDEFGHIJ"
	o.Obscode = "12345"
	line := EncodeLine(o)
	if len(line) != LineLength {
		t.Fatalf("expected %d columns, got %d", LineLength, len(line))
	}
	if got := line[colDesig:colDiscovery]; got != "ABCDEFG" {
		t.Fatalf("expected truncated designation, got %q", got)
	}
}

func TestEncodeRoundsSecondsWithCarry(t *testing.T) {
	// 59.999 seconds of time rounds up into the next minute.
	ra := (1 + 59/60.0 + 59.999/3600) * 15
	if got := formatRA(ra); got != "02 00 00.00" {
		t.Fatalf("unexpected carry result %q", got)
	}
	if got := formatRA(359.9999999); got != "00 00 00.00" {
		t.Fatalf("expected wrap to zero hours, got %q", got)
	}
}

func TestEncodeCarriesDayIntoNextMonth(t *testing.T) {
	a, _ := DecodeLine(lineA)
	for _, tc := range []struct {
		year, month int
		day         float64
		want        string
	}{
		{2023, 1, 31.9999997, "2023 02 01.000000"},
		{2023, 2, 28.9999996, "2023 03 01.000000"},
		{2024, 2, 28.9999996, "2024 02 29.000000"},
		{2023, 12, 31.9999999, "2024 01 01.000000"},
		{2023, 4, 30.4999999, "2023 04 30.500000"},
	} {
		o := a
		o.Year, o.Month, o.Day = tc.year, tc.month, tc.day
		line := EncodeLine(o)
		if got := line[colDate:colRA]; got != tc.want {
			t.Fatalf("expected date %q, got %q", tc.want, got)
		}
		back, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("expected %q to decode, got %v", line, err)
		}
		if math.Abs(back.JD()-o.JD()) > 1e-6 {
			t.Fatalf("expected JD %v, got %v", o.JD(), back.JD())
		}
		if out := Clean(ObservationSet{o}); len(out) != 1 {
			t.Fatalf("expected Clean to keep %q, got %d records", line, len(out))
		}
	}
}

func TestNewObservationHasNoMagnitude(t *testing.T) {
	o := NewObservation("K23A00B", 2023, 1, 15.5, 150.25, -12.5)
	if o.HasMag() {
		t.Fatalf("expected no magnitude, got %v", o.Mag)
	}
	line := EncodeLine(o)
	if got := line[colMag:colBand]; strings.TrimSpace(got) != "" {
		t.Fatalf("expected blank magnitude field, got %q", got)
	}
	back, err := DecodeLine(line)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if back.HasMag() {
		t.Fatalf("expected decoded magnitude to stay absent, got %v", back.Mag)
	}
}

func TestArcSpansFirstToLast(t *testing.T) {
	a, _ := DecodeLine(lineA)
	b, _ := DecodeLine(lineB)
	if got := (ObservationSet{b, a}).Arc(); math.Abs(got-0.00811) > 1e-6 {
		t.Fatalf("expected arc 0.00811 days, got %v", got)
	}
	if got := (ObservationSet{a}).Arc(); got != 0 {
		t.Fatalf("expected zero arc for one observation, got %v", got)
	}
	c := a
	c.Year, c.Month, c.Day = 2005, 9, 16.15206
	if got := (ObservationSet{a, c}).Arc(); math.Abs(got-365) > 1e-6 {
		t.Fatalf("expected arc 365 days, got %v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, line := range []string{lineA, lineB, lineC} {
		o, err := DecodeLine(line)
		if err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		set := Decode(Encode(ObservationSet{o}))
		if len(set) != 1 {
			t.Fatalf("expected 1 observation after round trip, got %d", len(set))
		}
		assertSameObservation(t, o, set[0])
	}
}

func assertSameObservation(t *testing.T, want, got Observation) {
	t.Helper()
	if got.Number != want.Number || got.Designation != want.Designation ||
		got.Discovery != want.Discovery || got.Note1 != want.Note1 ||
		got.Note2 != want.Note2 || got.Band != want.Band ||
		got.Obscode != want.Obscode || got.Reserved1 != want.Reserved1 ||
		got.Reserved2 != want.Reserved2 {
		t.Fatalf("text fields differ: want %+v, got %+v", want, got)
	}
	if got.Year != want.Year || got.Month != want.Month || math.Abs(got.Day-want.Day) > 1e-6 {
		t.Fatalf("date differs: want %+v, got %+v", want, got)
	}
	if angleDiff(got.RA, want.RA) > raTol+1e-12 {
		t.Fatalf("RA differs: want %v, got %v", want.RA, got.RA)
	}
	if math.Abs(got.Dec-want.Dec) > decTol+1e-12 {
		t.Fatalf("Dec differs: want %v, got %v", want.Dec, got.Dec)
	}
	if want.HasMag() != got.HasMag() || (want.HasMag() && got.Mag != want.Mag) {
		t.Fatalf("magnitude differs: want %v, got %v", want.Mag, got.Mag)
	}
}

func TestCleanDedupAndSort(t *testing.T) {
	a, _ := DecodeLine(lineA)
	b, _ := DecodeLine(lineB)
	in := ObservationSet{b, a, a}
	out := Clean(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(out))
	}
	if EncodeLine(out[0]) != EncodeLine(a) || EncodeLine(out[1]) != EncodeLine(b) {
		t.Fatalf("expected [A, B], got %v", Encode(out))
	}
	if len(in) != 3 || EncodeLine(in[0]) != EncodeLine(b) {
		t.Fatalf("input set was modified")
	}
}

func TestCleanDropsUnencodable(t *testing.T) {
	a, _ := DecodeLine(lineA)
	bad := a
	bad.Designation = "Ångström"
	out := Clean(ObservationSet{bad, a})
	if len(out) != 1 || out[0].Designation != "NE00030" {
		t.Fatalf("expected only the ASCII record to survive, got %+v", out)
	}
}

func TestGroupByYear(t *testing.T) {
	a, _ := DecodeLine(lineA)
	c, _ := DecodeLine(lineC)
	b, _ := DecodeLine(lineB)
	groups := GroupByYear(ObservationSet{c, a, b})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Year != 2004 || len(groups[0].Obs) != 2 {
		t.Fatalf("unexpected first group %d with %d obs", groups[0].Year, len(groups[0].Obs))
	}
	if groups[1].Year != 2007 || len(groups[1].Obs) != 1 {
		t.Fatalf("unexpected second group %d with %d obs", groups[1].Year, len(groups[1].Obs))
	}
}

func TestReadLinesStripsCarriageReturns(t *testing.T) {
	lines, err := ReadLines(strings.NewReader(lineA + "\r\n" + lineB + "\n"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(Decode(lines)) != 2 {
		t.Fatalf("expected both CRLF and LF lines to decode")
	}
}

func TestWriteFileReadFile(t *testing.T) {
	a, _ := DecodeLine(lineA)
	c, _ := DecodeLine(lineC)
	path := t.TempDir() + "/target.obs"
	if err := WriteFile(path, ObservationSet{a, c}); err != nil {
		t.Fatalf("write: %v", err)
	}
	set, err := ReadFile(path, Decoder{Strict: true})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(set))
	}
}
