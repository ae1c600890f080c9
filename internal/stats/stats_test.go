package stats

import (
	"math"
	"testing"
)

func TestClip(t *testing.T) {
	if got := Clip(1.5, 0, 1); got != 1 {
		t.Errorf("Clip(1.5,0,1) = %v, want 1", got)
	}
	if got := Clip(-0.2, 0, 1); got != 0 {
		t.Errorf("Clip(-0.2,0,1) = %v, want 0", got)
	}
	if got := Clip01(0.37); got != 0.37 {
		t.Errorf("Clip01(0.37) = %v, want 0.37", got)
	}
}

func TestRounding(t *testing.T) {
	if got := Round3(0.12345); got != 0.123 {
		t.Errorf("Round3 = %v, want 0.123", got)
	}
	if got := Round3(0.9996); got != 1.0 {
		t.Errorf("Round3(0.9996) = %v, want 1.0", got)
	}
	if got := Round4(0.020049); got != 0.02 {
		t.Errorf("Round4 = %v, want 0.02", got)
	}
	if got := RoundTo(0.37, 0.05); math.Abs(got-0.35) > 1e-12 {
		t.Errorf("RoundTo(0.37, 0.05) = %v, want 0.35", got)
	}
	if got := RoundTo(0.42, 0); got != 0.42 {
		t.Errorf("RoundTo with step 0 = %v, want input back", got)
	}
}

func TestMedianAndMAD(t *testing.T) {
	if got := Median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd median = %v, want 2", got)
	}
	if got := Median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("even median = %v, want 2.5", got)
	}
	if got := Median(nil); got != 0 {
		t.Errorf("empty median = %v, want 0", got)
	}

	// median=3, deviations {2,1,0,1,2} -> MAD 1
	if got := MAD([]float64{1, 2, 3, 4, 5}); got != 1 {
		t.Errorf("MAD = %v, want 1", got)
	}

	in := []float64{9, 1, 5}
	Median(in)
	if in[0] != 9 || in[1] != 1 || in[2] != 5 {
		t.Error("Median mutated its input")
	}
}

func TestDiffs(t *testing.T) {
	d := Diffs([]float64{10, 12, 11})
	if len(d) != 2 || d[0] != 2 || d[1] != -1 {
		t.Errorf("Diffs = %v, want [2 -1]", d)
	}
	if Diffs([]float64{5}) != nil {
		t.Error("Diffs of one element should be nil")
	}
}

func TestPercentileRank(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	// 3 below, 1 equal of 4 -> (3+0.5)/4
	if got := PercentileRank(xs, 4); got != 0.875 {
		t.Errorf("rank of max = %v, want 0.875", got)
	}
	if got := PercentileRank(xs, 0); got != 0 {
		t.Errorf("rank below all = %v, want 0", got)
	}
	if got := PercentileRank(nil, 7); got != 0.5 {
		t.Errorf("rank in empty history = %v, want neutral 0.5", got)
	}
}

func TestBucketClose(t *testing.T) {
	// Mid-bucket trade closes at the next boundary.
	if got := BucketClose(60_500, 60_000); got != 120_000 {
		t.Errorf("BucketClose(60500) = %d, want 120000", got)
	}
	// A trade exactly on a boundary opens the NEW bucket.
	if got := BucketClose(120_000, 60_000); got != 180_000 {
		t.Errorf("BucketClose(120000) = %d, want 180000", got)
	}
	if got := BucketClose(119_999, 60_000); got != 120_000 {
		t.Errorf("BucketClose(119999) = %d, want 120000", got)
	}
}

func TestCeilToNextMinute(t *testing.T) {
	if got := CeilToNextMinute(120_000); got != 120_000 {
		t.Errorf("exact boundary moved: %d", got)
	}
	if got := CeilToNextMinute(120_001); got != 180_000 {
		t.Errorf("CeilToNextMinute(120001) = %d, want 180000", got)
	}
	if got := CeilToNextMinute(179_999); got != 180_000 {
		t.Errorf("CeilToNextMinute(179999) = %d, want 180000", got)
	}
}

func TestEWMA_SeedsOnFirstSample(t *testing.T) {
	e := NewEWMA(0.01)
	if e.Seeded() {
		t.Fatal("fresh EWMA reports seeded")
	}
	if got := e.Update(1000); got != 1000 {
		t.Errorf("first update = %v, want the sample itself", got)
	}
	// 0.01*2000 + 0.99*1000 = 1010
	if got := e.Update(2000); math.Abs(got-1010) > 1e-9 {
		t.Errorf("second update = %v, want 1010", got)
	}
}

func TestEWMA_SeedAndReset(t *testing.T) {
	e := NewEWMA(0.5)
	e.Seed(400)
	if !e.Seeded() || e.Value() != 400 {
		t.Fatalf("Seed not applied: seeded=%v value=%v", e.Seeded(), e.Value())
	}
	if got := e.Update(600); got != 500 {
		t.Errorf("update after seed = %v, want 500", got)
	}
	e.Reset()
	if e.Seeded() || e.Value() != 0 {
		t.Error("Reset did not clear state")
	}
}
