package model

import "fmt"

// Kline is a venue-produced candle snapshot. Unlike Bar, Ts is the bar
// OPEN time, matching the venue convention. Confirm marks the final
// snapshot of a bucket.
type Kline struct {
	Sym         string
	TF          string // "1m", "5m", "15m"
	Ts          int64  // bar open time, ms UTC
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Vol         float64 // contracts
	VolCcyQuote float64 // quote-currency turnover (0 when the venue omits it)
	Confirm     bool
}

// QuoteTurnover prefers the venue quote turnover and falls back to
// vol·close for venues that omit it.
func (k Kline) QuoteTurnover() float64 {
	if k.VolCcyQuote > 0 {
		return k.VolCcyQuote
	}
	return k.Vol * k.Close
}

// ToFields renders the kline for XADD onto ws:{sym}:kline{tf}.
func (k Kline) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"ts":          FmtInt(k.Ts),
		"tf":          k.TF,
		"o":           Fmt(k.Open),
		"h":           Fmt(k.High),
		"l":           Fmt(k.Low),
		"c":           Fmt(k.Close),
		"vol":         Fmt(k.Vol),
		"volCcyQuote": Fmt(k.VolCcyQuote),
		"confirm":     FmtBool(k.Confirm),
	}
}

// ParseKline decodes a candle row, accepting both the short "c" and
// long "close" field spellings seen across producers.
func ParseKline(sym, tf string, f Fields) (Kline, error) {
	ts, ok := f.Int("ts")
	if !ok || ts <= 0 {
		return Kline{}, fmt.Errorf("kline %s %s: bad ts %q", sym, tf, f.Str("ts"))
	}
	c, ok := f.Float("c")
	if !ok {
		c, ok = f.Float("close")
	}
	if !ok || c <= 0 {
		return Kline{}, fmt.Errorf("kline %s %s: bad close", sym, tf)
	}
	if v := f.Str("tf"); v != "" {
		tf = v
	}
	k := Kline{Sym: sym, TF: tf, Ts: ts, Close: c}
	if v, ok := f.Float("o"); ok {
		k.Open = v
	} else {
		k.Open, _ = f.Float("open")
	}
	if v, ok := f.Float("h"); ok {
		k.High = v
	} else {
		k.High, _ = f.Float("high")
	}
	if v, ok := f.Float("l"); ok {
		k.Low = v
	} else {
		k.Low, _ = f.Float("low")
	}
	k.Vol, _ = f.Float("vol")
	k.VolCcyQuote, _ = f.Float("volCcyQuote")
	k.Confirm = f.Bool("confirm")
	return k, nil
}

// OISample is one open-interest observation.
type OISample struct {
	Sym   string
	Ts    int64   // ms UTC
	OI    float64 // contracts
	OICcy float64 // base-currency open interest (preferred when > 0)
}

// Value prefers the currency-denominated reading.
func (s OISample) Value() float64 {
	if s.OICcy > 0 {
		return s.OICcy
	}
	return s.OI
}

// ToFields renders the sample for XADD onto ws:{sym}:oi.
func (s OISample) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"ts":    FmtInt(s.Ts),
		"oi":    Fmt(s.OI),
		"oiCcy": Fmt(s.OICcy),
	}
}

// ParseOISample decodes one open-interest row.
func ParseOISample(sym string, f Fields) (OISample, error) {
	ts, ok := f.Int("ts")
	if !ok || ts <= 0 {
		return OISample{}, fmt.Errorf("oi %s: bad ts %q", sym, f.Str("ts"))
	}
	s := OISample{Sym: sym, Ts: ts}
	s.OI, _ = f.Float("oi")
	s.OICcy, _ = f.Float("oiCcy")
	if s.OI <= 0 && s.OICcy <= 0 {
		return OISample{}, fmt.Errorf("oi %s: empty sample", sym)
	}
	return s, nil
}

// FundingState is the current funding-rate snapshot kept in the
// state:funding:{sym} hash.
type FundingState struct {
	Sym             string
	Ts              int64   // snapshot time, ms UTC
	Rate            float64 // current period funding rate
	NextFundingTime int64   // ms UTC of the next settlement
}

// ToMap renders the snapshot for HSET.
func (s FundingState) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"ts":              FmtInt(s.Ts),
		"rate":            Fmt(s.Rate),
		"nextFundingTime": FmtInt(s.NextFundingTime),
	}
}

// ParseFundingState decodes the hash form.
func ParseFundingState(sym string, f Fields) FundingState {
	s := FundingState{Sym: sym}
	s.Ts, _ = f.Int("ts")
	s.Rate, _ = f.Float("rate")
	s.NextFundingTime, _ = f.Int("nextFundingTime")
	return s
}
