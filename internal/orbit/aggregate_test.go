package orbit

import (
	"errors"
	"math"
	"testing"
)

func sample(m float64) Estimate {
	return Estimate{
		SemimajorAxis: Element{2.7, 0.01},
		Eccentricity:  Element{0.08, 0.001},
		Inclination:   Element{10.6, 0.02},
		Node:          Element{80.3, 0.02},
		ArgPerihelion: Element{73.1, 0.02},
		MeanAnomaly:   Element{m, 0.02},
		Epoch:         2460200.5,
	}
}

func circDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	return math.Min(d, 360-d)
}

func TestAggregateCircularMeanWraps(t *testing.T) {
	agg, err := Aggregate([]Estimate{sample(359), sample(1)})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if circDiff(agg.MeanAnomaly.Value, 0) > 1e-9 {
		t.Fatalf("expected mean anomaly 0, got %v", agg.MeanAnomaly.Value)
	}
	if agg.MeanAnomaly.Value < 0 || agg.MeanAnomaly.Value >= 360 {
		t.Fatalf("expected value in [0,360), got %v", agg.MeanAnomaly.Value)
	}
}

func TestAggregateSigma(t *testing.T) {
	agg, err := Aggregate([]Estimate{sample(10), sample(20)})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := math.Sqrt(2*0.02*0.02) / 2
	if math.Abs(agg.MeanAnomaly.Sigma-want) > 1e-15 {
		t.Fatalf("expected sigma %v, got %v", want, agg.MeanAnomaly.Sigma)
	}
	if math.Abs(agg.MeanAnomaly.Value-15) > 1e-9 {
		t.Fatalf("expected circular mean 15, got %v", agg.MeanAnomaly.Value)
	}
	if agg.Epoch != 2460200.5 {
		t.Fatalf("expected epoch preserved, got %v", agg.Epoch)
	}
}

func TestAggregateLinearMedian(t *testing.T) {
	a, b, c := sample(0), sample(0), sample(0)
	a.SemimajorAxis.Value, b.SemimajorAxis.Value, c.SemimajorAxis.Value = 2.0, 9.0, 2.5
	agg, err := Aggregate([]Estimate{a, b, c})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if agg.SemimajorAxis.Value != 2.5 {
		t.Fatalf("expected median 2.5, got %v", agg.SemimajorAxis.Value)
	}
	agg, _ = Aggregate([]Estimate{a, b})
	if agg.SemimajorAxis.Value != 5.5 {
		t.Fatalf("expected even-count median 5.5, got %v", agg.SemimajorAxis.Value)
	}
	if a.SemimajorAxis.Value != 2.0 {
		t.Fatalf("input modified")
	}
}

func TestAggregateSingle(t *testing.T) {
	in := sample(123.4)
	agg, err := Aggregate([]Estimate{in})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if math.Abs(agg.MeanAnomaly.Value-123.4) > 1e-9 || agg.MeanAnomaly.Sigma != in.MeanAnomaly.Sigma {
		t.Fatalf("expected single estimate unchanged, got %v", agg)
	}
}

func TestAggregateEpochMismatch(t *testing.T) {
	a, b := sample(1), sample(2)
	b.Epoch += 1
	_, err := Aggregate([]Estimate{a, b})
	if !errors.Is(err, ErrEpochMismatch) {
		t.Fatalf("expected ErrEpochMismatch, got %v", err)
	}
}

func TestAggregateEmpty(t *testing.T) {
	if _, err := Aggregate(nil); !errors.Is(err, ErrNoEstimates) {
		t.Fatalf("expected ErrNoEstimates, got %v", err)
	}
}

func TestNormDeg(t *testing.T) {
	cases := map[float64]float64{-1: 359, 360: 0, 725: 5, -1e-17: 0}
	for in, want := range cases {
		if got := NormDeg(in); math.Abs(got-want) > 1e-12 {
			t.Fatalf("NormDeg(%v): expected %v, got %v", in, want, got)
		}
	}
}
