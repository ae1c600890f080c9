// Package window maintains the live per-symbol trade windows, seals
// 1m bars on minute boundaries and rolls them into 5m/15m bars.
package window

import (
	"quantsignal/internal/model"
)

// Timeframes produced by the worker.
const (
	TF1m  = "1m"
	TF5m  = "5m"
	TF15m = "15m"
)

// RollupTFs are the higher timeframes fed from sealed 1m bars.
var RollupTFs = []string{TF5m, TF15m}

// SpanMs returns the bucket span of a timeframe, 0 for unknown.
func SpanMs(tf string) int64 {
	switch tf {
	case TF1m:
		return 60000
	case TF5m:
		return 300000
	case TF15m:
		return 900000
	}
	return 0
}

// Win is one in-progress window. CloseTs is the bucket close time that
// becomes the sealed bar's ts.
type Win struct {
	Sym     string
	TF      string
	TFMs    int64
	CloseTs int64

	Open float64
	High float64
	Low  float64
	Last float64

	Vol   float64
	VBuy  float64
	VSell float64

	VWAPNum float64
	VWAPDen float64
	TickN   int64
}

// NewWin opens a window seeded at px with no ticks applied yet.
func NewWin(sym, tf string, tfMs, closeTs int64, px float64) *Win {
	return &Win{
		Sym:     sym,
		TF:      tf,
		TFMs:    tfMs,
		CloseTs: closeTs,
		Open:    px,
		High:    px,
		Low:     px,
		Last:    px,
	}
}

// Apply folds one trade into the window. The caller has already
// validated px, qty and side.
func (w *Win) Apply(px, qty float64, side string) {
	w.Last = px
	if px > w.High {
		w.High = px
	}
	if px < w.Low {
		w.Low = px
	}
	w.Vol += qty
	if side == model.SideBuy {
		w.VBuy += qty
	} else {
		w.VSell += qty
	}
	w.VWAPNum += px * qty
	w.VWAPDen += qty
	w.TickN++
}

// AbsorbM1 folds one closed 1m window into a higher-timeframe window.
func (w *Win) AbsorbM1(m1 *Win) {
	w.Last = m1.Last
	if m1.High > w.High {
		w.High = m1.High
	}
	if m1.Low < w.Low {
		w.Low = m1.Low
	}
	w.Vol += m1.Vol
	w.VBuy += m1.VBuy
	w.VSell += m1.VSell
	w.VWAPNum += m1.VWAPNum
	w.VWAPDen += m1.VWAPDen
	w.TickN += m1.TickN
}

// Seal finalizes the window into a bar. nextCloseTs is the bucket that
// triggered the seal; the bar is flagged gap when the two buckets do
// not adjoin.
func (w *Win) Seal(nextCloseTs int64) model.Bar {
	vwap := w.Last
	if w.VWAPDen > 0 {
		vwap = w.VWAPNum / w.VWAPDen
	}
	return model.Bar{
		Sym:   w.Sym,
		TF:    w.TF,
		Ts:    w.CloseTs,
		Open:  w.Open,
		High:  w.High,
		Low:   w.Low,
		Close: w.Last,
		Vol:   w.Vol,
		VBuy:  w.VBuy,
		VSell: w.VSell,
		VWAP:  vwap,
		TickN: w.TickN,
		Gap:   nextCloseTs-w.CloseTs > w.TFMs,
	}
}

// StateFields renders the window for the win:state:{tf}:{sym} hash.
func (w *Win) StateFields(updatedTs int64) map[string]interface{} {
	return map[string]interface{}{
		"closeTs":   model.FmtInt(w.CloseTs),
		"open":      model.Fmt(w.Open),
		"high":      model.Fmt(w.High),
		"low":       model.Fmt(w.Low),
		"last":      model.Fmt(w.Last),
		"vol":       model.Fmt(w.Vol),
		"vbuy":      model.Fmt(w.VBuy),
		"vsell":     model.Fmt(w.VSell),
		"vwapNum":   model.Fmt(w.VWAPNum),
		"vwapDen":   model.Fmt(w.VWAPDen),
		"tickN":     model.FmtInt(w.TickN),
		"updatedTs": model.FmtInt(updatedTs),
	}
}

// WinFromState rebuilds an in-progress window from its state hash,
// ok=false when the hash is missing or lacks a usable closeTs.
func WinFromState(sym, tf string, f model.Fields) (*Win, bool) {
	closeTs, ok := f.Int("closeTs")
	if !ok || closeTs <= 0 {
		return nil, false
	}
	last, ok := f.Float("last")
	if !ok || last <= 0 {
		return nil, false
	}
	w := NewWin(sym, tf, SpanMs(tf), closeTs, last)
	if v, ok := f.Float("open"); ok {
		w.Open = v
	}
	if v, ok := f.Float("high"); ok {
		w.High = v
	}
	if v, ok := f.Float("low"); ok {
		w.Low = v
	}
	w.Vol, _ = f.Float("vol")
	w.VBuy, _ = f.Float("vbuy")
	w.VSell, _ = f.Float("vsell")
	w.VWAPNum, _ = f.Float("vwapNum")
	w.VWAPDen, _ = f.Float("vwapDen")
	w.TickN, _ = f.Int("tickN")
	return w, true
}
