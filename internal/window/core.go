package window

import (
	"math"

	"quantsignal/internal/detect"
	"quantsignal/internal/model"
	"quantsignal/internal/ringbuf"
	"quantsignal/internal/stats"
	"quantsignal/internal/symbols"
)

const (
	// ewmaAlpha smooths the per-trade absolute notional delta.
	ewmaAlpha = 0.01
	// priceRingLen bounds the recent-price history per symbol.
	priceRingLen = 50
)

type symState struct {
	m1     *Win
	tf     map[string]*Win
	flow   Flow3s
	prices *ringbuf.Prices
	ewma   *stats.EWMA
	atr    *ATR
}

// Core is the single-owner window state machine for all symbols of one
// worker. It performs no I/O itself; the hooks receive everything that
// must be persisted or published.
type Core struct {
	reg    *symbols.Registry
	agg    *detect.Aggregator
	params detect.Params
	state  map[string]*symState

	// OnBar fires for every sealed bar, 1m and roll-ups alike.
	OnBar func(bar model.Bar)
	// OnState fires whenever an in-progress window changed.
	OnState func(w *Win)
	// OnLateDrop fires when a trade is too old for the flow window.
	OnLateDrop func(sym string)
	// OnDetectDrop relays aggregator gate drops.
	OnDetectDrop func(reason string)
}

// NewCore creates a core with empty state for every symbol it meets.
func NewCore(reg *symbols.Registry, params detect.Params) *Core {
	c := &Core{
		reg:    reg,
		params: params,
		state:  make(map[string]*symState),
	}
	c.agg = detect.NewAggregator(params)
	c.agg.OnDrop = func(reason string) {
		if c.OnDetectDrop != nil {
			c.OnDetectDrop(reason)
		}
	}
	return c
}

func (c *Core) sym(sym string) *symState {
	st, ok := c.state[sym]
	if !ok {
		st = &symState{
			tf:     make(map[string]*Win),
			prices: ringbuf.NewPrices(priceRingLen),
			ewma:   stats.NewEWMA(ewmaAlpha),
			atr:    NewATR(),
		}
		c.state[sym] = st
	}
	return st
}

// Restore seeds one in-progress window from a persisted state hash.
// Flow, price history and detector state always start empty after a
// restart; only the bar accumulation survives.
func (c *Core) Restore(sym, tf string, f model.Fields) bool {
	w, ok := WinFromState(sym, tf, f)
	if !ok {
		return false
	}
	st := c.sym(sym)
	if tf == TF1m {
		st.m1 = w
	} else {
		st.tf[tf] = w
	}
	return true
}

// HandleTrade runs the full per-trade pipeline: bucket/seal, window
// accumulation, flow and price history, adaptive delta smoothing, then
// the detectors. Returns a signal when the aggregator emitted one.
func (c *Core) HandleTrade(t model.Trade, gate model.GateSnapshot) *model.Signal {
	st := c.sym(t.Sym)

	m1Span := SpanMs(TF1m)
	closeTs := stats.BucketClose(t.Ts, m1Span)
	switch {
	case st.m1 == nil:
		st.m1 = NewWin(t.Sym, TF1m, m1Span, closeTs, t.Px)
	case st.m1.CloseTs != closeTs:
		c.sealM1(st, closeTs)
		st.m1 = NewWin(t.Sym, TF1m, m1Span, closeTs, t.Px)
	}
	st.m1.Apply(t.Px, t.Qty, t.Side)
	c.emitState(st.m1)

	notional := t.Notional(c.reg.Multiplier(t.Sym))
	var buyN, sellN float64
	if t.Side == model.SideBuy {
		buyN = notional
	} else {
		sellN = notional
	}
	if !st.flow.Add(t.Ts, buyN, sellN) {
		if c.OnLateDrop != nil {
			c.OnLateDrop(t.Sym)
		}
		return nil
	}

	st.prices.Push(t.Px)
	st.ewma.Update(math.Abs(buyN - sellN))

	dctx := &detect.Context{
		Now:             t.Ts,
		Sym:             t.Sym,
		Win:             detect.WinView{High: st.m1.High, Low: st.m1.Low, Atr: st.atr.Value()},
		LastPrices:      st.prices.Snapshot(),
		Buy3s:           st.flow.Buy(),
		Sell3s:          st.flow.Sell(),
		MinNotional3s:   gate.MinNotional3s,
		BreakoutBandPct: gate.BreakoutBandPct,
		DynAbsDelta:     st.ewma.Value(),
		DynDeltaK:       c.params.DynDeltaK,
		LiqK:            c.params.LiqK,
	}
	return c.agg.Process(dctx, detect.GatesFrom(&gate))
}

func (c *Core) sealM1(st *symState, nextCloseTs int64) {
	old := st.m1
	bar := old.Seal(nextCloseTs)
	if c.OnBar != nil {
		c.OnBar(bar)
	}
	st.atr.Update(bar)
	c.rollUp(st, old)
}

// rollUp advances the higher-timeframe windows with one closed 1m
// window, sealing any that crossed their own bucket boundary.
func (c *Core) rollUp(st *symState, m1 *Win) {
	for _, tf := range RollupTFs {
		tfMs := SpanMs(tf)
		tfClose := stats.BucketClose(m1.CloseTs-1, tfMs)
		w := st.tf[tf]
		if w != nil && w.CloseTs != tfClose {
			tfBar := w.Seal(tfClose)
			if c.OnBar != nil {
				c.OnBar(tfBar)
			}
			w = nil
		}
		if w == nil {
			w = NewWin(m1.Sym, tf, tfMs, tfClose, m1.Open)
			st.tf[tf] = w
		}
		w.AbsorbM1(m1)
		c.emitState(w)
	}
}

func (c *Core) emitState(w *Win) {
	if c.OnState != nil {
		c.OnState(w)
	}
}
