// Package stats holds the small numeric primitives shared by the
// window worker, detectors, and market-env updater.
package stats

import (
	"math"
	"sort"
)

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clip01 bounds v to [0, 1].
func Clip01(v float64) float64 { return Clip(v, 0, 1) }

// Round3 rounds to 3 decimal places (signal strengths, ratios).
func Round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// Round4 rounds to 4 decimal places (band percentages).
func Round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// RoundTo rounds v to the nearest multiple of step. Step <= 0 returns
// v unchanged.
func RoundTo(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Round(v/step) * step
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// Median returns the middle value (mean of the two middles for even
// length), 0 for an empty slice. The input is not modified.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	cp := make([]float64, n)
	copy(cp, xs)
	sort.Float64s(cp)
	if n%2 == 1 {
		return cp[n/2]
	}
	return (cp[n/2-1] + cp[n/2]) / 2
}

// MAD returns the median absolute deviation around the median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return Median(dev)
}

// Diffs returns first differences, length len(xs)-1.
func Diffs(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out[i-1] = xs[i] - xs[i-1]
	}
	return out
}

// PercentileRank returns the midrank percentile of v within xs, in
// [0,1]: strictly-smaller values count fully, ties count half. An
// empty history yields the neutral 0.5.
func PercentileRank(xs []float64, v float64) float64 {
	if len(xs) == 0 {
		return 0.5
	}
	var below, equal float64
	for _, x := range xs {
		switch {
		case x < v:
			below++
		case x == v:
			equal++
		}
	}
	return Clip01((below + 0.5*equal) / float64(len(xs)))
}

// BucketClose returns the close time of the tfMs bucket containing ts:
// floor(ts/tfMs)·tfMs + tfMs. A trade at exactly a bucket boundary
// belongs to the bucket that OPENS there.
func BucketClose(ts, tfMs int64) int64 {
	return (ts/tfMs)*tfMs + tfMs
}

// CeilToNextMinute rounds ts up to a minute boundary; exact boundaries
// are returned unchanged.
func CeilToNextMinute(ts int64) int64 {
	return ((ts + 59999) / 60000) * 60000
}
