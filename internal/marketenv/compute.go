// Package marketenv derives the adaptive gate parameters from recent
// market data and publishes them as the per-symbol dyn:gate hash.
package marketenv

import (
	"math"

	"quantsignal/internal/model"
	"quantsignal/internal/stats"
)

const (
	// klineDepth is how many candle snapshots feed the percentile
	// histories.
	klineDepth = 48
	// oiLookbackMs is the open-interest window examined each cycle.
	oiLookbackMs = 90 * 60000
	// oiSplitMs is the width of the two OI comparison windows.
	oiSplitMs = 15 * 60000
	// oiPersistMs is how long a raw regime must hold before surfacing.
	oiPersistMs = 10 * 60000
	// fundingSoonMs flags settlements within this horizon.
	fundingSoonMs = 10 * 60000

	oiPctThreshold   = 0.012
	oiZLikeThreshold = 2.0
	epsMAD           = 1e-9
)

// trBpSeries converts candles (oldest first) into a true-range series
// in basis points of close. The first element has no previous close, so
// its range is just high-low.
func trBpSeries(ks []model.Kline) []float64 {
	out := make([]float64, 0, len(ks))
	prevClose := math.NaN()
	for _, k := range ks {
		if k.Close <= 0 {
			continue
		}
		tr := k.High - k.Low
		if !math.IsNaN(prevClose) {
			tr = math.Max(tr, math.Max(
				math.Abs(k.High-prevClose),
				math.Abs(k.Low-prevClose),
			))
		}
		out = append(out, tr/k.Close*1e4)
		prevClose = k.Close
	}
	return out
}

// turnoverSeries extracts quote turnover per candle (oldest first).
func turnoverSeries(ks []model.Kline) []float64 {
	out := make([]float64, 0, len(ks))
	for _, k := range ks {
		if v := k.QuoteTurnover(); v > 0 {
			out = append(out, v)
		}
	}
	return out
}

// pctOfLast ranks the newest value within its own history. An empty
// series pins the percentile to zero so a cold start cannot loosen the
// gates.
func pctOfLast(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return stats.PercentileRank(series, series[len(series)-1])
}

// downsampleOI keeps the last sample of each minute bucket, oldest
// first. Input must be in ascending ts order.
func downsampleOI(samples []model.OISample) []model.OISample {
	out := make([]model.OISample, 0, len(samples))
	for _, s := range samples {
		bucket := s.Ts / 60000
		if n := len(out); n > 0 && out[n-1].Ts/60000 == bucket {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

// oiRegimeRaw computes the unfiltered open-interest regime from the
// downsampled series: +1 for a building regime, -1 for unwinding, 0
// otherwise. Also returns the trajectory percentage and z-like score
// for the audit log.
func oiRegimeRaw(samples []model.OISample, nowMs int64) (raw int, pct, zLike float64) {
	if len(samples) < 2 {
		return 0, 0, 0
	}

	values := make([]float64, len(samples))
	var winA, winB []float64
	splitA := nowMs - oiSplitMs
	splitB := nowMs - 2*oiSplitMs
	for i, s := range samples {
		v := s.Value()
		values[i] = v
		switch {
		case s.Ts >= splitA:
			winA = append(winA, v)
		case s.Ts >= splitB:
			winB = append(winB, v)
		}
	}
	if len(winA) == 0 || len(winB) == 0 {
		return 0, 0, 0
	}

	pct = (stats.Mean(winA) - stats.Mean(winB)) / math.Max(1, stats.Median(values))

	diffs := stats.Diffs(values)
	if len(diffs) > 0 {
		lastDiff := diffs[len(diffs)-1]
		zLike = lastDiff / (1.4826*stats.MAD(diffs) + epsMAD)
	}

	switch {
	case pct >= oiPctThreshold && zLike >= oiZLikeThreshold:
		raw = 1
	case pct <= -oiPctThreshold && zLike <= -oiZLikeThreshold:
		raw = -1
	}
	return raw, pct, zLike
}

// persistFilter debounces the raw regime: a non-zero reading surfaces
// only after holding the same sign for oiPersistMs of wall clock. Zero
// readings and sign changes reset the timer.
type persistFilter struct {
	sign  int
	since int64
}

func (p *persistFilter) apply(raw int, nowMs int64) int {
	if raw == 0 {
		p.sign = 0
		return 0
	}
	if raw != p.sign {
		p.sign = raw
		p.since = nowMs
		return 0
	}
	if nowMs-p.since >= oiPersistMs {
		return raw
	}
	return 0
}

// rateExcess compares the recent signal rate to the 15 minute base
// rate: 0 means at or below base, 1 means double, capped nowhere.
func rateExcess(recentCount, baseCount int, recentSpanMs, baseSpanMs int64) float64 {
	recentRate := float64(recentCount) / (float64(recentSpanMs) / 1000)
	baseRate := float64(baseCount) / (float64(baseSpanMs) / 1000)
	if baseRate <= 0 {
		if recentCount > 0 {
			return 1
		}
		return 0
	}
	return math.Max(0, recentRate/baseRate-1)
}

// Inputs collects everything the mapping needs for one symbol.
type Inputs struct {
	VolPct    float64
	LiqPct    float64
	OIRegime  int
	EventFlag bool
	RateExc   float64
}

// baseMinNotional is the default liquidity floor in quote units.
const baseMinNotional = 2000

// Map applies the v1.1 parameter mapping to produce a gate snapshot.
// dedupMs tracks the cooldown at a fixed 5x multiple.
func Map(in Inputs, nowMs int64) model.GateSnapshot {
	volHigh := 0.0
	if in.VolPct > 0.8 {
		volHigh = 1
	}
	event := 0.0
	if in.EventFlag {
		event = 1
	}
	regimeOn := 0.0
	if in.OIRegime != 0 {
		regimeOn = 1
	}

	effMin0 := stats.Clip(
		0.65+0.05*volHigh+0.05*math.Min(1, in.RateExc)+0.08*event+0.02*regimeOn,
		0.60, 0.78)

	minNotional := math.Round(baseMinNotional * (0.9 + 0.35*in.LiqPct))
	if minNotional < baseMinNotional {
		minNotional = baseMinNotional
	}

	cooldown := int64(math.Round(6000 * (1 + 0.6*math.Min(1, in.RateExc) + 0.6*event)))

	return model.GateSnapshot{
		EffMin0:         effMin0,
		MinNotional3s:   minNotional,
		MinMoveBp:       math.Round(2 + 4*in.VolPct),
		MinMoveAtrRatio: stats.Round3(0.15 + 0.2*in.VolPct),
		CooldownMs:      cooldown,
		DedupMs:         5 * cooldown,
		BreakoutBandPct: stats.Round4(math.Min(0.05, 0.02*(1+0.5*in.VolPct))),
		VolPct:          in.VolPct,
		LiqPct:          in.LiqPct,
		RateExc:         in.RateExc,
		EventFlag:       in.EventFlag,
		OIRegime:        in.OIRegime,
		UpdatedAt:       nowMs,
		Version:         model.GateVersion,
	}
}
