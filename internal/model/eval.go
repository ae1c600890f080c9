package model

import "fmt"

// EvalOutcome is one resolved horizon audit row for an accepted signal.
// One accepted signal yields one outcome per configured horizon.
type EvalOutcome struct {
	Sym           string
	FinalID       string // stream entry id of the accepted signal on signal:final
	StrategyID    string
	Dir           string
	Horizon       string // horizon name, e.g. "5m"
	Ts0           int64  // accepted-signal time, ms UTC
	DueAt         int64  // minute-aligned resolution time, ms UTC
	P0            float64
	UsedPx        float64 // resolution price (0 when MissPx)
	UsedPxTs      int64
	UsedPxSource  string // mid | last | win:1m | ws:kline1m | bf:kline1m
	PriceLagMs    int64  // max(0, usedPxTs - dueAt)
	RetRawBp      float64
	RetNetBp      float64
	ThresholdBp   float64
	NeutralBandBp float64
	Neutral       bool
	Success       bool
	MissPx        bool
	Retry         int
}

// Outcome returns the audit label: success, fail, neutral, or miss_px.
func (o EvalOutcome) Outcome() string {
	switch {
	case o.MissPx:
		return "miss_px"
	case o.Neutral:
		return "neutral"
	case o.Success:
		return "success"
	default:
		return "fail"
	}
}

// ToFields renders the outcome for XADD onto eval:done:{sym}. Price
// fields are omitted on a miss.
func (o EvalOutcome) ToFields() map[string]interface{} {
	m := map[string]interface{}{
		"ts0":           FmtInt(o.Ts0),
		"dueAt":         FmtInt(o.DueAt),
		"horizon":       o.Horizon,
		"dir":           o.Dir,
		"p0":            Fmt(o.P0),
		"thresholdBp":   Fmt(o.ThresholdBp),
		"neutralBandBp": Fmt(o.NeutralBandBp),
		"neutral":       FmtBool(o.Neutral),
		"success":       FmtBool(o.Success),
		"miss_px":       FmtBool(o.MissPx),
		"retry":         FmtInt(int64(o.Retry)),
		"finalId":       o.FinalID,
	}
	if o.StrategyID != "" {
		m["strategyId"] = o.StrategyID
	}
	if !o.MissPx {
		m["usedPx"] = Fmt(o.UsedPx)
		m["usedPx_ts"] = FmtInt(o.UsedPxTs)
		m["usedPx_source"] = o.UsedPxSource
		m["priceLagMs"] = FmtInt(o.PriceLagMs)
		m["retRawBp"] = Fmt(o.RetRawBp)
		m["retNetBp"] = Fmt(o.RetNetBp)
	}
	return m
}

// ParseEvalOutcome decodes an audit row (offline tooling and tests;
// the evaluator itself only writes).
func ParseEvalOutcome(sym string, f Fields) (EvalOutcome, error) {
	ts0, ok := f.Int("ts0")
	if !ok || ts0 <= 0 {
		return EvalOutcome{}, fmt.Errorf("eval %s: bad ts0 %q", sym, f.Str("ts0"))
	}
	o := EvalOutcome{Sym: sym, Ts0: ts0}
	o.DueAt, _ = f.Int("dueAt")
	o.Horizon = f.Str("horizon")
	o.Dir = f.Str("dir")
	o.P0, _ = f.Float("p0")
	o.UsedPx, _ = f.Float("usedPx")
	o.UsedPxTs, _ = f.Int("usedPx_ts")
	o.UsedPxSource = f.Str("usedPx_source")
	o.PriceLagMs, _ = f.Int("priceLagMs")
	o.RetRawBp, _ = f.Float("retRawBp")
	o.RetNetBp, _ = f.Float("retNetBp")
	o.ThresholdBp, _ = f.Float("thresholdBp")
	o.NeutralBandBp, _ = f.Float("neutralBandBp")
	o.Neutral = f.Bool("neutral")
	o.Success = f.Bool("success")
	o.MissPx = f.Bool("miss_px")
	if r, ok := f.Int("retry"); ok {
		o.Retry = int(r)
	}
	o.FinalID = f.Str("finalId")
	o.StrategyID = f.Str("strategyId")
	return o, nil
}
