package model

import (
	"fmt"
	"strings"
)

// Signal is a consolidated intra-bar signal. The same shape travels on
// signal:detected:{sym} (from the aggregator) and signal:final:{sym}
// (from the router, with the RefPx* enrichment populated).
type Signal struct {
	Sym        string
	Ts         int64   // detector time, ms UTC
	Dir        string  // "buy" or "sell"
	Strength   float64 // [0,1], already rounded to 3dp by the producer
	Kind       string  // "intra"
	ApproxKey  string  // coarse signature for near-duplicate suppression
	StrategyID string
	TTLMs      int64
	Evidence   map[string]string // flattened as evidence.* on the wire

	// Router enrichment, zero until accepted.
	RefPx      float64
	RefPxTs    int64
	RefPxSrc   string // "mid" or "last"
	RefPxStale bool
}

// KindIntra marks signals produced by the intra-bar aggregator.
const KindIntra = "intra"

// StrategyIntraV1 is the default strategy id stamped by the router
// when the detected row carries none.
const StrategyIntraV1 = "intra.v1"

// Src returns the winning detector ("flow", "delta", "breakout").
func (s Signal) Src() string { return s.Evidence["src"] }

// ToFields renders the signal for XADD. Evidence keys gain the
// "evidence." prefix; enrichment fields are emitted only when set.
func (s Signal) ToFields() map[string]interface{} {
	m := map[string]interface{}{
		"ts":         FmtInt(s.Ts),
		"sym":        s.Sym,
		"dir":        s.Dir,
		"strength":   FmtFixed(s.Strength, 3),
		"kind":       s.Kind,
		"approx_key": s.ApproxKey,
	}
	if s.StrategyID != "" {
		m["strategyId"] = s.StrategyID
	}
	if s.TTLMs > 0 {
		m["ttlMs"] = FmtInt(s.TTLMs)
	}
	for k, v := range s.Evidence {
		m["evidence."+k] = v
	}
	if s.RefPx > 0 {
		m["refPx"] = Fmt(s.RefPx)
		m["refPxTs"] = FmtInt(s.RefPxTs)
		m["refPxSrc"] = s.RefPxSrc
		m["refPxStale"] = FmtBool(s.RefPxStale)
	}
	return m
}

// ParseSignal decodes a signal row. Strength outside [0,1] and unknown
// directions are malformed; the caller acks and counts bad_row.
func ParseSignal(sym string, f Fields) (Signal, error) {
	ts, ok := f.Int("ts")
	if !ok || ts <= 0 {
		return Signal{}, fmt.Errorf("signal %s: bad ts %q", sym, f.Str("ts"))
	}
	dir := f.Str("dir")
	if dir != SideBuy && dir != SideSell {
		return Signal{}, fmt.Errorf("signal %s: bad dir %q", sym, dir)
	}
	strength, ok := f.Float("strength")
	if !ok || strength < 0 || strength > 1 {
		return Signal{}, fmt.Errorf("signal %s: bad strength %q", sym, f.Str("strength"))
	}
	if v := f.Str("sym"); v != "" {
		sym = v
	}
	sig := Signal{
		Sym:        sym,
		Ts:         ts,
		Dir:        dir,
		Strength:   strength,
		Kind:       f.Str("kind"),
		ApproxKey:  f.Str("approx_key"),
		StrategyID: f.Str("strategyId"),
		Evidence:   map[string]string{},
	}
	sig.TTLMs, _ = f.Int("ttlMs")
	for k, v := range f {
		if strings.HasPrefix(k, "evidence.") {
			sig.Evidence[strings.TrimPrefix(k, "evidence.")] = v
		}
	}
	sig.RefPx, _ = f.Float("refPx")
	sig.RefPxTs, _ = f.Int("refPxTs")
	sig.RefPxSrc = f.Str("refPxSrc")
	sig.RefPxStale = f.Bool("refPxStale")
	return sig, nil
}
