// Package router consumes detected signals, applies the publish gate
// cascade and emits accepted signals with a reference price attached.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"quantsignal/internal/metrics"
	"quantsignal/internal/model"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

// Drop reasons counted under quant_router_dropped_total.
const (
	DropBadRow     = "bad_row"
	DropDisabled   = "disabled"
	DropStrength   = "strength"
	DropCooldown   = "cooldown"
	DropDedup      = "dedup"
	DropMinSpacing = "min_spacing"
	DropHysteresis = "hysteresis"
	DropIdemLock   = "idempotent_lock"
)

const (
	readCount    = 200
	readBlock    = 200 * time.Millisecond
	errBackoff   = 500 * time.Millisecond
	claimMinIdle = 30 * time.Second
	claimEvery   = 30 * time.Second

	// staleRefMs bounds reference-price age before it is flagged.
	staleRefMs  = 200
	finalMaxLen = 5000
	minTTLMs    = 3000
)

// GateSource yields the current gate snapshot for a symbol.
type GateSource interface {
	Gate(ctx context.Context, sym string) model.GateSnapshot
}

// Params are the static routing knobs from process configuration.
type Params struct {
	Enabled          bool
	MinStrengthFloor float64
	ExtraCooldownMs  int64
	MinSpacingMs     int64
	HystHi           float64
	HystLo           float64
	IdemBucketMs     int64
	IdemTTLMs        int64
}

// Router holds the per-symbol emission history that backs the cooldown,
// dedup, spacing and hysteresis gates. Single goroutine, no locks.
type Router struct {
	bus    *stream.Bus
	keys   symbols.Keys
	cons   *stream.Consumer
	gates  GateSource
	syms   []string
	par    Params
	met    *metrics.Metrics
	health *metrics.HealthStatus
	log    *zap.Logger

	lastEmitTs map[string]int64  // sym|dir -> wall ms of last acceptance
	lastDir    map[string]string // sym -> direction of last acceptance
	lastKey    map[string]string // sym -> approx key of last acceptance
	lastKeyTs  map[string]int64  // sym -> wall ms of that acceptance

	nowMs func() int64
}

// New wires the signal router.
func New(
	bus *stream.Bus,
	keys symbols.Keys,
	gates GateSource,
	syms []string,
	par Params,
	met *metrics.Metrics,
	health *metrics.HealthStatus,
	log *zap.Logger,
) *Router {
	return &Router{
		bus:        bus,
		keys:       keys,
		cons:       stream.NewConsumer(bus, symbols.GroupRouter, fmt.Sprintf("router#%d", os.Getpid())),
		gates:      gates,
		syms:       syms,
		par:        par,
		met:        met,
		health:     health,
		log:        log.Named("router"),
		lastEmitTs: make(map[string]int64),
		lastDir:    make(map[string]string),
		lastKey:    make(map[string]string),
		lastKeyTs:  make(map[string]int64),
		nowMs:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Run blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	if len(r.syms) == 0 {
		return errors.New("router: no symbols configured")
	}
	keys := make([]string, len(r.syms))
	for i, s := range r.syms {
		keys[i] = r.keys.Detected(s)
	}
	if err := r.cons.EnsureGroups(ctx, keys, "$"); err != nil {
		return err
	}

	r.health.SetRouterOK(true)
	defer r.health.SetRouterOK(false)
	r.log.Info("signal router started",
		zap.Strings("symbols", r.syms),
		zap.Bool("enabled", r.par.Enabled),
		zap.String("consumer", r.cons.Name()))

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastClaim) >= claimEvery {
			r.claim(ctx, keys)
			lastClaim = time.Now()
		}

		batches, err := r.cons.Read(ctx, keys, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.met.StreamReadErrors.WithLabelValues(symbols.GroupRouter).Inc()
			r.log.Warn("detected read failed", zap.Error(err))
			time.Sleep(errBackoff)
			continue
		}
		for _, b := range batches {
			sym := stream.SymFromKey(b.Key)
			for _, e := range b.Entries {
				if err := r.handle(ctx, b.Key, sym, e); err != nil {
					// Leave unacked; the claim path will retry it.
					r.log.Error("routing failed",
						zap.String("key", b.Key), zap.String("id", e.ID), zap.Error(err))
				}
			}
		}
	}
}

// handle runs the gate cascade for one detected row. A nil return
// means the message was acked (accepted or dropped); an error leaves
// it pending for redelivery.
func (r *Router) handle(ctx context.Context, key, sym string, e stream.Entry) error {
	sig, err := model.ParseSignal(sym, e.Fields)
	if err != nil {
		r.log.Warn("malformed detected row",
			zap.String("key", key), zap.String("id", e.ID), zap.Error(err))
		r.dropAck(ctx, key, e.ID, DropBadRow)
		return nil
	}
	gate := r.gates.Gate(ctx, sig.Sym)
	now := r.nowMs()
	if reason := r.gateCheck(sig, gate, now); reason != "" {
		r.dropAck(ctx, key, e.ID, reason)
		return nil
	}

	bucket := (sig.Ts / r.par.IdemBucketMs) * r.par.IdemBucketMs
	idemKey := r.keys.IdemFinal(sig.Sym, sig.Dir, sig.Src(), bucket)
	locked, err := r.bus.AcquireLock(ctx, idemKey, time.Duration(r.par.IdemTTLMs)*time.Millisecond)
	if err != nil {
		return err
	}
	if !locked {
		r.dropAck(ctx, key, e.ID, DropIdemLock)
		return nil
	}

	// Past this point the idem lock is held, so a redelivery cannot
	// publish again. Reference-price problems degrade the row rather
	// than abort it.
	r.enrichRefPx(ctx, &sig, now)

	if sig.StrategyID == "" {
		sig.StrategyID = model.StrategyIntraV1
	}
	if gate.CooldownMs > minTTLMs {
		sig.TTLMs = gate.CooldownMs
	} else {
		sig.TTLMs = minTTLMs
	}

	if _, err := r.bus.Append(ctx, r.keys.Final(sig.Sym), sig.ToFields(),
		stream.Trim{MaxLen: finalMaxLen}); err != nil {
		return err
	}

	r.record(sig, now)

	r.met.RouterAccepted.Inc()
	if sig.RefPxStale {
		r.met.RouterRefPxStale.Inc()
	}
	r.health.SetLastEventTime(time.Now())
	r.log.Info("signal accepted",
		zap.String("sym", sig.Sym),
		zap.String("dir", sig.Dir),
		zap.Float64("strength", sig.Strength),
		zap.String("src", sig.Src()),
		zap.Float64("refPx", sig.RefPx),
		zap.String("refPxSrc", sig.RefPxSrc))
	r.cons.Ack(ctx, key, e.ID)
	return nil
}

// gateCheck runs the in-memory gate cascade and returns the drop
// reason, "" when the signal passes. Cooldown and dedup compare the
// signal's own timestamp against recorded acceptances; min spacing
// compares wall time, so replayed history cannot flood the output.
func (r *Router) gateCheck(sig model.Signal, gate model.GateSnapshot, now int64) string {
	if !r.par.Enabled {
		return DropDisabled
	}
	if sig.Strength < math.Max(r.par.MinStrengthFloor, gate.EffMin0) {
		return DropStrength
	}

	dirKey := sig.Sym + "|" + sig.Dir
	cool := gate.CooldownMs + r.par.ExtraCooldownMs
	if last, ok := r.lastEmitTs[dirKey]; ok && sig.Ts-last < cool {
		return DropCooldown
	}
	if k, ok := r.lastKey[sig.Sym]; ok && k == sig.ApproxKey && sig.Ts-r.lastKeyTs[sig.Sym] < cool {
		return DropDedup
	}
	if last, ok := r.lastEmitTs[dirKey]; ok && now-last < r.par.MinSpacingMs {
		return DropMinSpacing
	}
	if lastDir, ok := r.lastDir[sig.Sym]; ok {
		need := r.par.HystLo
		if lastDir != sig.Dir {
			need = r.par.HystHi
		}
		if sig.Strength < need {
			return DropHysteresis
		}
	}
	return ""
}

// record remembers an acceptance for the cooldown, spacing, dedup and
// hysteresis gates.
func (r *Router) record(sig model.Signal, now int64) {
	r.lastEmitTs[sig.Sym+"|"+sig.Dir] = now
	r.lastDir[sig.Sym] = sig.Dir
	r.lastKey[sig.Sym] = sig.ApproxKey
	r.lastKeyTs[sig.Sym] = now
}

func (r *Router) dropAck(ctx context.Context, key, id, reason string) {
	r.met.RouterDropped.WithLabelValues(reason).Inc()
	r.cons.Ack(ctx, key, id)
}

// enrichRefPx attaches the best available reference price: book mid
// first, last trade second. When neither source yields a price the
// signal goes out without refPx fields.
func (r *Router) enrichRefPx(ctx context.Context, sig *model.Signal, now int64) {
	if e, ok, err := r.bus.Latest(ctx, r.keys.Book(sig.Sym)); err == nil && ok {
		if b, perr := model.ParseBookTop(sig.Sym, e.Fields); perr == nil {
			if mid := b.Mid(); mid > 0 {
				sig.RefPx = mid
				sig.RefPxTs = b.Ts
				sig.RefPxSrc = "mid"
				sig.RefPxStale = now-b.Ts > staleRefMs
				return
			}
		}
	}
	if e, ok, err := r.bus.Latest(ctx, r.keys.Trades(sig.Sym)); err == nil && ok {
		if t, perr := model.ParseTrade(sig.Sym, e.Fields); perr == nil {
			sig.RefPx = t.Px
			sig.RefPxTs = t.Ts
			sig.RefPxSrc = "last"
			sig.RefPxStale = now-t.Ts > staleRefMs
			return
		}
	}
	r.log.Debug("no reference price", zap.String("sym", sig.Sym))
}

func (r *Router) claim(ctx context.Context, keys []string) {
	for _, key := range keys {
		entries, err := r.cons.Claim(ctx, key, claimMinIdle)
		if err != nil {
			r.log.Warn("claim failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		r.met.StreamClaimed.WithLabelValues(symbols.GroupRouter).Add(float64(len(entries)))
		sym := stream.SymFromKey(key)
		for _, e := range entries {
			if err := r.handle(ctx, key, sym, e); err != nil {
				r.log.Error("reclaimed routing failed",
					zap.String("key", key), zap.String("id", e.ID), zap.Error(err))
			}
		}
	}
}
