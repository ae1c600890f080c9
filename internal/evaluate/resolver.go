// Package evaluate scores accepted signals against realized prices at
// fixed horizons and appends audit rows.
package evaluate

import (
	"context"

	"go.uber.org/zap"

	"quantsignal/internal/model"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

// Price sources understood by the resolver, in default preference
// order.
const (
	SrcMid       = "mid"
	SrcLast      = "last"
	SrcWin1m     = "win:1m"
	SrcWsKline1m = "ws:kline1m"
	SrcBfKline1m = "bf:kline1m"
)

// DefaultPref is the standard source preference.
var DefaultPref = []string{SrcMid, SrcLast, SrcWin1m, SrcWsKline1m, SrcBfKline1m}

// PricePoint is one resolved observation.
type PricePoint struct {
	Px     float64
	Ts     int64
	Source string
}

// Resolver finds the price closest to an anchor time across a ranked
// list of stream sources.
type Resolver struct {
	bus   *stream.Bus
	keys  symbols.Keys
	pref  []string
	winMs int64
	log   *zap.Logger
}

// NewResolver builds a resolver searching t±winMs in pref order.
func NewResolver(bus *stream.Bus, keys symbols.Keys, pref []string, winMs int64, log *zap.Logger) *Resolver {
	if len(pref) == 0 {
		pref = DefaultPref
	}
	return &Resolver{bus: bus, keys: keys, pref: pref, winMs: winMs, log: log.Named("resolver")}
}

// Resolve returns the best price near t, trying each source in order
// and picking within a source the row minimizing |ts-t|. Failures in
// one source fall through to the next.
func (r *Resolver) Resolve(ctx context.Context, sym string, t int64) (PricePoint, bool) {
	for _, src := range r.pref {
		if pt, ok := r.resolveOne(ctx, src, sym, t); ok {
			return pt, true
		}
	}
	return PricePoint{}, false
}

func (r *Resolver) resolveOne(ctx context.Context, src, sym string, t int64) (PricePoint, bool) {
	var key string
	var px func(f model.Fields) float64
	switch src {
	case SrcMid:
		key = r.keys.Book(sym)
		px = midPx
	case SrcLast:
		key = r.keys.Trades(sym)
		px = tradePx
	case SrcWin1m:
		key = r.keys.Win(sym, "1m")
		px = closePx
	case SrcWsKline1m:
		key = r.keys.Kline(sym, "1m")
		px = closePx
	case SrcBfKline1m:
		key = r.keys.BackfillKline(sym)
		px = closePx
	default:
		return PricePoint{}, false
	}

	entries, err := r.bus.RangeByTime(ctx, key, t-r.winMs, t+r.winMs, 0)
	if err != nil {
		r.log.Debug("source read failed",
			zap.String("source", src), zap.String("sym", sym), zap.Error(err))
		return PricePoint{}, false
	}

	var best PricePoint
	var bestDist int64 = -1
	for _, e := range entries {
		v := px(e.Fields)
		if v <= 0 {
			continue
		}
		ts, ok := e.Fields.Int("ts")
		if !ok || ts <= 0 {
			ts = e.IDTime()
		}
		if ts <= 0 {
			continue
		}
		d := ts - t
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = PricePoint{Px: v, Ts: ts, Source: src}
		}
	}
	return best, best.Px > 0
}

func midPx(f model.Fields) float64 {
	bid, _ := f.Float("bid1.px")
	ask, _ := f.Float("ask1.px")
	if bid > 0 && ask > 0 {
		return (bid + ask) / 2
	}
	return 0
}

func tradePx(f model.Fields) float64 {
	v, _ := f.Float("px")
	return v
}

// closePx accepts both the short and long close spellings seen across
// producers.
func closePx(f model.Fields) float64 {
	if v, ok := f.Float("close"); ok && v > 0 {
		return v
	}
	v, _ := f.Float("c")
	return v
}
