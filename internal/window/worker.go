package window

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"quantsignal/internal/detect"
	"quantsignal/internal/metrics"
	"quantsignal/internal/model"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

const (
	readCount    = 200
	readBlock    = 200 * time.Millisecond
	errBackoff   = 500 * time.Millisecond
	claimMinIdle = 30 * time.Second
	claimEvery   = 30 * time.Second

	stateTTL       = 600 * time.Second
	winMaxLen      = 2000
	detectedMaxLen = 5000
)

// GateSource yields the current gate snapshot for a symbol. The
// market-env cache implements it.
type GateSource interface {
	Gate(ctx context.Context, sym string) model.GateSnapshot
}

// Worker consumes the raw trade streams for all configured symbols
// through one consumer-group read and drives the window core.
type Worker struct {
	bus    *stream.Bus
	keys   symbols.Keys
	cons   *stream.Consumer
	core   *Core
	gates  GateSource
	syms   []string
	met    *metrics.Metrics
	health *metrics.HealthStatus
	log    *zap.Logger

	// OnSignal is an optional in-process listener invoked after a
	// detected signal has been published.
	OnSignal func(sig *model.Signal)
}

// NewWorker wires the window worker. syms must be normalized ids.
func NewWorker(
	bus *stream.Bus,
	keys symbols.Keys,
	reg *symbols.Registry,
	gates GateSource,
	syms []string,
	params detect.Params,
	met *metrics.Metrics,
	health *metrics.HealthStatus,
	log *zap.Logger,
) *Worker {
	w := &Worker{
		bus:    bus,
		keys:   keys,
		cons:   stream.NewConsumer(bus, symbols.GroupWindow, fmt.Sprintf("window#%d", os.Getpid())),
		core:   NewCore(reg, params),
		gates:  gates,
		syms:   syms,
		met:    met,
		health: health,
		log:    log.Named("window"),
	}
	w.core.OnLateDrop = func(string) { met.FlowLateDrops.Inc() }
	w.core.OnDetectDrop = func(reason string) {
		met.DetectDropped.WithLabelValues(reason).Inc()
	}
	return w
}

// Run blocks until ctx is cancelled. Group creation failures are fatal
// for this worker; read failures back off and continue.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.syms) == 0 {
		return errors.New("window: no symbols configured")
	}
	keys := make([]string, len(w.syms))
	for i, s := range w.syms {
		keys[i] = w.keys.Trades(s)
	}
	if err := w.cons.EnsureGroups(ctx, keys, "$"); err != nil {
		return err
	}

	w.core.OnBar = func(bar model.Bar) { w.appendBar(ctx, bar) }
	w.core.OnState = func(win *Win) { w.upsertState(ctx, win) }
	w.restore(ctx)

	w.health.SetWindowOK(true)
	defer w.health.SetWindowOK(false)
	w.log.Info("window worker started",
		zap.Strings("symbols", w.syms),
		zap.String("consumer", w.cons.Name()))

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastClaim) >= claimEvery {
			w.claim(ctx, keys)
			lastClaim = time.Now()
		}

		batches, err := w.cons.Read(ctx, keys, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.met.StreamReadErrors.WithLabelValues(symbols.GroupWindow).Inc()
			w.log.Warn("trade read failed", zap.Error(err))
			time.Sleep(errBackoff)
			continue
		}
		for _, b := range batches {
			sym := stream.SymFromKey(b.Key)
			for _, e := range b.Entries {
				w.handle(ctx, b.Key, sym, e)
			}
		}
	}
}

// handle processes one inbound trade entry. Malformed trades stay
// unacked on purpose so they surface through the pending list instead
// of silently vanishing; every other path acks.
func (w *Worker) handle(ctx context.Context, key, sym string, e stream.Entry) {
	t, err := model.ParseTrade(sym, e.Fields)
	if err != nil {
		w.met.BadRows.WithLabelValues("window").Inc()
		w.log.Warn("malformed trade",
			zap.String("key", key), zap.String("id", e.ID), zap.Error(err))
		return
	}

	gate := w.gates.Gate(ctx, t.Sym)
	sig := w.core.HandleTrade(t, gate)
	w.met.TradesTotal.Inc()
	w.health.SetLastEventTime(time.Now())

	if sig != nil {
		w.publish(ctx, sig)
	}
	w.cons.Ack(ctx, key, e.ID)
}

func (w *Worker) publish(ctx context.Context, sig *model.Signal) {
	_, err := w.bus.Append(ctx, w.keys.Detected(sig.Sym), sig.ToFields(),
		stream.Trim{MaxLen: detectedMaxLen})
	if err != nil {
		w.log.Error("detected publish failed",
			zap.String("sym", sig.Sym), zap.Error(err))
		return
	}
	w.met.DetectSignals.WithLabelValues(sig.Src()).Inc()
	w.log.Debug("signal detected",
		zap.String("sym", sig.Sym),
		zap.String("dir", sig.Dir),
		zap.Float64("strength", sig.Strength),
		zap.String("src", sig.Src()))
	if w.OnSignal != nil {
		w.OnSignal(sig)
	}
}

func (w *Worker) appendBar(ctx context.Context, bar model.Bar) {
	_, err := w.bus.Append(ctx, w.keys.Win(bar.Sym, bar.TF), bar.ToFields(),
		stream.Trim{MaxLen: winMaxLen})
	if err != nil {
		w.log.Error("bar append failed",
			zap.String("sym", bar.Sym), zap.String("tf", bar.TF), zap.Error(err))
		return
	}
	w.met.BarsSealed.WithLabelValues(bar.TF).Inc()
}

func (w *Worker) upsertState(ctx context.Context, win *Win) {
	key := w.keys.WinState(win.Sym, win.TF)
	if err := w.bus.SetHash(ctx, key, win.StateFields(time.Now().UnixMilli()), stateTTL); err != nil {
		w.log.Warn("state upsert failed", zap.String("key", key), zap.Error(err))
	}
}

// restore resumes mid-bar windows from their state hashes. A missing
// or expired hash just means a fresh window on the next trade.
func (w *Worker) restore(ctx context.Context) {
	for _, sym := range w.syms {
		for _, tf := range []string{TF1m, TF5m, TF15m} {
			f, err := w.bus.GetHash(ctx, w.keys.WinState(sym, tf))
			if err != nil || len(f) == 0 {
				continue
			}
			if w.core.Restore(sym, tf, model.Fields(f)) {
				w.log.Info("window restored",
					zap.String("sym", sym), zap.String("tf", tf))
			}
		}
	}
}

func (w *Worker) claim(ctx context.Context, keys []string) {
	for _, key := range keys {
		entries, err := w.cons.Claim(ctx, key, claimMinIdle)
		if err != nil {
			w.log.Warn("claim failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		w.met.StreamClaimed.WithLabelValues(symbols.GroupWindow).Add(float64(len(entries)))
		sym := stream.SymFromKey(key)
		for _, e := range entries {
			w.handle(ctx, key, sym, e)
		}
	}
}
