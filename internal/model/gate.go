package model

// GateVersion tags the parameter-mapping revision in dyn:gate hashes.
const GateVersion = "v1.1"

// GateSnapshot is the adaptive gating state computed by the market-env
// updater and consumed by the detectors, router, and evaluator. The
// whole snapshot is overwritten atomically every update cycle.
type GateSnapshot struct {
	EffMin0         float64 // base strength threshold before consensus relief
	MinNotional3s   float64 // quote units over the 3s flow window
	MinMoveBp       float64
	MinMoveAtrRatio float64
	CooldownMs      int64
	DedupMs         int64
	BreakoutBandPct float64
	VolPct          float64 // volatility percentile, [0,1]
	LiqPct          float64 // liquidity percentile, [0,1]
	RateExc         float64 // signal-rate excess, >= 0
	EventFlag       bool    // funding settlement within 10 min
	OIRegime        int     // -1, 0, +1 after persistence filtering
	UpdatedAt       int64   // ms UTC
	Version         string
}

// DefaultGate is the conservative baseline used when no dyn:gate hash
// exists yet for a symbol (fresh deploy, flushed Redis). Values match
// the v1.1 mapping evaluated at zero percentiles.
func DefaultGate() GateSnapshot {
	return GateSnapshot{
		EffMin0:         0.65,
		MinNotional3s:   2000,
		MinMoveBp:       2,
		MinMoveAtrRatio: 0.15,
		CooldownMs:      6000,
		DedupMs:         30000,
		BreakoutBandPct: 0.02,
		Version:         "default",
	}
}

// ToMap renders the snapshot for HSET, all numerics stringified.
func (g GateSnapshot) ToMap() map[string]interface{} {
	oi := int64(g.OIRegime)
	return map[string]interface{}{
		"effMin0":         Fmt(g.EffMin0),
		"minNotional3s":   Fmt(g.MinNotional3s),
		"minMoveBp":       Fmt(g.MinMoveBp),
		"minMoveAtrRatio": Fmt(g.MinMoveAtrRatio),
		"cooldownMs":      FmtInt(g.CooldownMs),
		"dedupMs":         FmtInt(g.DedupMs),
		"breakoutBandPct": Fmt(g.BreakoutBandPct),
		"volPct":          Fmt(g.VolPct),
		"liqPct":          Fmt(g.LiqPct),
		"rateExc":         Fmt(g.RateExc),
		"eventFlag":       FmtBool(g.EventFlag),
		"oiRegime":        FmtInt(oi),
		"updated_at":      FmtInt(g.UpdatedAt),
		"version":         g.Version,
	}
}

// ParseGate decodes the hash form, falling back to DefaultGate values
// for any individually missing field.
func ParseGate(f Fields) GateSnapshot {
	g := DefaultGate()
	if len(f) == 0 {
		return g
	}
	if v, ok := f.Float("effMin0"); ok {
		g.EffMin0 = v
	}
	if v, ok := f.Float("minNotional3s"); ok {
		g.MinNotional3s = v
	}
	if v, ok := f.Float("minMoveBp"); ok {
		g.MinMoveBp = v
	}
	if v, ok := f.Float("minMoveAtrRatio"); ok {
		g.MinMoveAtrRatio = v
	}
	if v, ok := f.Int("cooldownMs"); ok {
		g.CooldownMs = v
	}
	if v, ok := f.Int("dedupMs"); ok {
		g.DedupMs = v
	}
	if v, ok := f.Float("breakoutBandPct"); ok {
		g.BreakoutBandPct = v
	}
	if v, ok := f.Float("volPct"); ok {
		g.VolPct = v
	}
	if v, ok := f.Float("liqPct"); ok {
		g.LiqPct = v
	}
	if v, ok := f.Float("rateExc"); ok {
		g.RateExc = v
	}
	g.EventFlag = f.Bool("eventFlag")
	if v, ok := f.Int("oiRegime"); ok {
		g.OIRegime = int(v)
	}
	if v, ok := f.Int("updated_at"); ok {
		g.UpdatedAt = v
	}
	if v := f.Str("version"); v != "" {
		g.Version = v
	}
	return g
}
