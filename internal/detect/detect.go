// Package detect implements the intra-bar detectors and the
// consolidation pipeline that turns raw candidates into at most one
// published signal per evaluation tick.
package detect

import (
	"math"

	"quantsignal/internal/model"
	"quantsignal/internal/stats"
)

// Detector sources, ranked breakout > delta > flow when consolidating.
const (
	SrcFlow     = "flow"
	SrcDelta    = "delta"
	SrcBreakout = "breakout"
)

func srcRank(src string) int {
	switch src {
	case SrcBreakout:
		return 3
	case SrcDelta:
		return 2
	case SrcFlow:
		return 1
	}
	return 0
}

// WinView is the snapshot of the live 1m window the detectors read.
// Atr is NaN until at least one bar has sealed.
type WinView struct {
	High float64
	Low  float64
	Atr  float64
}

// Context carries the per-trade inputs for one detector evaluation.
// LastPrices is oldest-first.
type Context struct {
	Now        int64
	Sym        string
	Win        WinView
	LastPrices []float64

	Buy3s  float64
	Sell3s float64

	MinNotional3s   float64
	BreakoutBandPct float64
	DynAbsDelta     float64
	DynDeltaK       float64
	LiqK            float64
}

func (c *Context) lastPx() float64 {
	if n := len(c.LastPrices); n > 0 {
		return c.LastPrices[n-1]
	}
	return math.NaN()
}

// Candidate is a raw detector result before consolidation.
type Candidate struct {
	Ts       int64
	Dir      string
	Src      string
	Strength float64

	// ZLike and BuyShare feed the approx key; detectors that do not
	// produce them leave zero.
	ZLike    float64
	BuyShare float64

	Evidence map[string]string
}

// Flow fires when the 3s window is liquid enough and one side holds at
// least 80% of the notional.
func Flow(ctx *Context) *Candidate {
	sum := ctx.Buy3s + ctx.Sell3s
	liqTh := math.Max(ctx.MinNotional3s, ctx.LiqK*ctx.DynAbsDelta)
	if sum <= liqTh {
		return nil
	}

	buyShare := 0.5
	if sum > 0 {
		buyShare = ctx.Buy3s / sum
	}

	var dir string
	var shareStrength float64
	switch {
	case buyShare >= 0.8:
		dir = model.SideBuy
		shareStrength = stats.Clip01((buyShare - 0.75) / 0.25)
	case buyShare <= 0.2:
		dir = model.SideSell
		shareStrength = stats.Clip01((0.25 - buyShare) / 0.25)
	default:
		return nil
	}

	delta := ctx.Buy3s - ctx.Sell3s
	signif := stats.Clip01(math.Abs(delta) / (3 * math.Max(ctx.MinNotional3s, ctx.DynAbsDelta)))
	strength := stats.Clip01(0.6*shareStrength + 0.4*signif)

	return &Candidate{
		Ts:       ctx.Now,
		Dir:      dir,
		Src:      SrcFlow,
		Strength: stats.Round3(strength),
		BuyShare: buyShare,
		Evidence: map[string]string{
			"buyShare3s": model.Fmt(buyShare),
			"delta3s":    model.Fmt(delta),
			"sum3s":      model.Fmt(sum),
		},
	}
}

// Delta fires on a 3s notional delta well beyond the adaptive
// threshold, regardless of which side dominates by share.
func Delta(ctx *Context) *Candidate {
	sum := ctx.Buy3s + ctx.Sell3s
	if sum < math.Max(0.5*ctx.MinNotional3s, 0.5*ctx.LiqK*ctx.DynAbsDelta) {
		return nil
	}

	dynTh := math.Max(ctx.MinNotional3s, ctx.DynAbsDelta*ctx.DynDeltaK)
	delta := ctx.Buy3s - ctx.Sell3s
	if math.Abs(delta) <= dynTh {
		return nil
	}

	dir := model.SideBuy
	if delta < 0 {
		dir = model.SideSell
	}
	zLike := math.Abs(delta) / dynTh
	strength := stats.Clip01(math.Abs(delta) / (4 * dynTh))

	return &Candidate{
		Ts:       ctx.Now,
		Dir:      dir,
		Src:      SrcDelta,
		Strength: stats.Round3(strength),
		ZLike:    zLike,
		Evidence: map[string]string{
			"zLike":   model.Fmt(zLike),
			"delta3s": model.Fmt(delta),
			"dynTh":   model.Fmt(dynTh),
		},
	}
}

// Breakout fires when the last price clears the live 1m range by an
// adaptive epsilon with momentum or volume confirmation.
func Breakout(ctx *Context) *Candidate {
	lp := ctx.LastPrices
	if len(lp) < 3 {
		return nil
	}
	band := ctx.Win.High - ctx.Win.Low
	if math.IsNaN(band) || band <= 0 {
		return nil
	}

	pct := stats.Clip(ctx.BreakoutBandPct, 0, 0.2)
	eps := band * pct
	last := lp[len(lp)-1]
	slope := (last - lp[0]) / float64(len(lp)-1)
	volConfirm := ctx.Buy3s+ctx.Sell3s >= 0.5*ctx.DynAbsDelta

	var dir string
	var dist float64
	var slopeBonus float64
	switch {
	case last >= ctx.Win.High+eps && (slope > 0 || volConfirm):
		dir = model.SideBuy
		dist = (last - (ctx.Win.High + eps)) / band
		if slope > 0 {
			slopeBonus = 0.1
		}
	case last <= ctx.Win.Low-eps && (slope < 0 || volConfirm):
		dir = model.SideSell
		dist = ((ctx.Win.Low - eps) - last) / band
		if slope < 0 {
			slopeBonus = 0.1
		}
	default:
		return nil
	}

	strength := stats.Clip01(0.55 + math.Min(0.35, 2*dist) + slopeBonus)

	return &Candidate{
		Ts:       ctx.Now,
		Dir:      dir,
		Src:      SrcBreakout,
		Strength: stats.Round3(strength),
		Evidence: map[string]string{
			"dist":       model.Fmt(dist),
			"slope":      model.Fmt(slope),
			"band":       model.Fmt(band),
			"volConfirm": model.FmtBool(volConfirm),
		},
	}
}
