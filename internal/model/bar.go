package model

import "fmt"

// Bar is a sealed OHLCV window. Ts is the bar CLOSE time in ms UTC,
// so the 14:03:00-14:04:00 bar carries ts of 14:04:00.
type Bar struct {
	Sym   string
	TF    string // "1m", "5m", "15m"
	Ts    int64  // close time, ms UTC
	Open  float64
	High  float64
	Low   float64
	Close float64
	Vol   float64 // total contracts
	VBuy  float64 // taker-buy contracts
	VSell float64 // taker-sell contracts
	VWAP  float64
	TickN int64 // trades aggregated into this bar
	Gap   bool  // true when the preceding bar is not contiguous
}

// Range returns high-low.
func (b Bar) Range() float64 { return b.High - b.Low }

// ToFields renders the bar for XADD onto win:{tf}:{sym}.
func (b Bar) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"ts":    FmtInt(b.Ts),
		"open":  Fmt(b.Open),
		"high":  Fmt(b.High),
		"low":   Fmt(b.Low),
		"close": Fmt(b.Close),
		"vol":   Fmt(b.Vol),
		"vbuy":  Fmt(b.VBuy),
		"vsell": Fmt(b.VSell),
		"vwap":  Fmt(b.VWAP),
		"tickN": FmtInt(b.TickN),
		"gap":   FmtBool(b.Gap),
	}
}

// ParseBar decodes a sealed bar row. Only ts and close (alias "c") are
// hard requirements; rows we sealed ourselves always carry the full set.
func ParseBar(sym, tf string, f Fields) (Bar, error) {
	ts, ok := f.Int("ts")
	if !ok || ts <= 0 {
		return Bar{}, fmt.Errorf("bar %s %s: bad ts %q", sym, tf, f.Str("ts"))
	}
	c, ok := f.Float("close")
	if !ok {
		c, ok = f.Float("c")
	}
	if !ok || c <= 0 {
		return Bar{}, fmt.Errorf("bar %s %s: bad close", sym, tf)
	}
	b := Bar{Sym: sym, TF: tf, Ts: ts, Close: c}
	b.Open, _ = f.Float("open")
	b.High, _ = f.Float("high")
	b.Low, _ = f.Float("low")
	b.Vol, _ = f.Float("vol")
	b.VBuy, _ = f.Float("vbuy")
	b.VSell, _ = f.Float("vsell")
	b.VWAP, _ = f.Float("vwap")
	b.TickN, _ = f.Int("tickN")
	b.Gap = f.Bool("gap")
	return b, nil
}
