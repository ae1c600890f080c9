package symbols

import "strconv"

// Keys builds every Redis key used by the pipeline. The instrument id
// is always wrapped in braces so all keys for one symbol share a hash
// slot and multi-key operations stay cluster-safe. An optional prefix
// (e.g. "dev:") namespaces whole deployments.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder with the given namespace prefix.
func NewKeys(prefix string) Keys { return Keys{prefix: prefix} }

func (k Keys) tag(sym string) string { return "{" + sym + "}" }

// ── ingress streams ──

func (k Keys) Trades(sym string) string  { return k.prefix + "ws:" + k.tag(sym) + ":trades" }
func (k Keys) Book(sym string) string    { return k.prefix + "ws:" + k.tag(sym) + ":book" }
func (k Keys) OI(sym string) string      { return k.prefix + "ws:" + k.tag(sym) + ":oi" }
func (k Keys) Funding(sym string) string { return k.prefix + "ws:" + k.tag(sym) + ":funding" }

// Kline returns the venue candle stream for tf in {"1m","5m","15m"}.
func (k Keys) Kline(sym, tf string) string {
	return k.prefix + "ws:" + k.tag(sym) + ":kline" + tf
}

// BackfillKline is the REST backfill stream searched by the price
// resolver as a last resort.
func (k Keys) BackfillKline(sym string) string {
	return k.prefix + "bf:" + k.tag(sym) + ":kline1m"
}

// ── derived windows ──

// Win returns the sealed-bar stream for tf in {"1m","5m","15m"}.
func (k Keys) Win(sym, tf string) string {
	return k.prefix + "win:" + tf + ":" + k.tag(sym)
}

// WinState is the in-progress window hash for tf in {"1m","5m","15m"},
// written on every trade so a restart can resume mid-bar.
func (k Keys) WinState(sym, tf string) string {
	return k.prefix + "win:state:" + tf + ":" + k.tag(sym)
}

// FundingState is the current funding snapshot hash.
func (k Keys) FundingState(sym string) string { return k.prefix + "state:funding:" + k.tag(sym) }

// KlineState is the latest candle snapshot hash for tf, overwritten on
// every venue tick regardless of confirm.
func (k Keys) KlineState(sym, tf string) string {
	return k.prefix + "state:kline:" + tf + ":" + k.tag(sym)
}

// OIState is the latest open-interest snapshot hash.
func (k Keys) OIState(sym string) string { return k.prefix + "state:oi:" + k.tag(sym) }

// ── signals ──

func (k Keys) Detected(sym string) string { return k.prefix + "signal:detected:" + k.tag(sym) }
func (k Keys) Final(sym string) string    { return k.prefix + "signal:final:" + k.tag(sym) }
func (k Keys) EvalDone(sym string) string { return k.prefix + "eval:done:" + k.tag(sym) }

// ── adaptive gates ──

func (k Keys) Gate(sym string) string    { return k.prefix + "dyn:gate:" + k.tag(sym) }
func (k Keys) GateLog(sym string) string { return k.prefix + "dyn:gate:log:" + k.tag(sym) }

// IdemFinal is the publish idempotency lock for one (symbol, dir, src,
// time-bucket) tuple. bucketTs must already be floored to the bucket.
func (k Keys) IdemFinal(sym, dir, src string, bucketTs int64) string {
	return k.prefix + "idem:final:" + k.tag(sym) + ":" + dir + ":" + src + ":" +
		strconv.FormatInt(bucketTs, 10)
}

// Consumer group names. Groups are per-stream in Redis, so one name
// per worker role is enough across all symbols.
const (
	GroupWindow = "cg:window"
	GroupRouter = "cg:signal-router"
	GroupEval   = "cg:signal-eval"
)
