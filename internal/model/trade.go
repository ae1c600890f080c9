package model

import "fmt"

// Trade is a single taker execution from the venue trade feed.
// Side is the taker side: "buy" means the taker lifted the ask.
type Trade struct {
	Sym      string
	Ts       int64   // exchange timestamp, ms UTC
	Px       float64 // trade price
	Qty      float64 // contracts
	Side     string  // "buy" or "sell"
	TradeID  string
	Taker    bool
	RecvTs   int64  // local receive time, ms (0 when unknown)
	IngestID string // id of the ingest instance that published the row
}

// Notional returns px*qty*mult, the quote-currency value of the fill.
func (t Trade) Notional(mult float64) float64 {
	if mult <= 0 {
		mult = 1
	}
	return t.Px * t.Qty * mult
}

// ToFields renders the trade for XADD.
func (t Trade) ToFields() map[string]interface{} {
	m := map[string]interface{}{
		"ts":   FmtInt(t.Ts),
		"px":   Fmt(t.Px),
		"qty":  Fmt(t.Qty),
		"side": t.Side,
	}
	if t.TradeID != "" {
		m["tradeId"] = t.TradeID
	}
	if t.Taker {
		m["taker"] = "1"
	}
	if t.RecvTs > 0 {
		m["recvTs"] = FmtInt(t.RecvTs)
	}
	if t.IngestID != "" {
		m["ingestId"] = t.IngestID
	}
	return m
}

// ParseTrade decodes one stream entry. A row with a missing or
// non-positive ts/px/qty, or an unknown side, is malformed; the window
// worker skips it without acking so it stays pending.
func ParseTrade(sym string, f Fields) (Trade, error) {
	ts, ok := f.Int("ts")
	if !ok || ts <= 0 {
		return Trade{}, fmt.Errorf("trade %s: bad ts %q", sym, f.Str("ts"))
	}
	px, ok := f.Float("px")
	if !ok || px <= 0 {
		return Trade{}, fmt.Errorf("trade %s: bad px %q", sym, f.Str("px"))
	}
	qty, ok := f.Float("qty")
	if !ok || qty <= 0 {
		return Trade{}, fmt.Errorf("trade %s: bad qty %q", sym, f.Str("qty"))
	}
	side := f.Str("side")
	if side != SideBuy && side != SideSell {
		return Trade{}, fmt.Errorf("trade %s: bad side %q", sym, side)
	}
	rt, _ := f.Int("recvTs")
	return Trade{
		Sym:      sym,
		Ts:       ts,
		Px:       px,
		Qty:      qty,
		Side:     side,
		TradeID:  f.Str("tradeId"),
		Taker:    f.Bool("taker"),
		RecvTs:   rt,
		IngestID: f.Str("ingestId"),
	}, nil
}

// Trade / signal direction constants.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)
