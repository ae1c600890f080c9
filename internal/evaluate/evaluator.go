package evaluate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"quantsignal/internal/metrics"
	"quantsignal/internal/model"
	"quantsignal/internal/stats"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

const (
	readCount    = 100
	readBlock    = 500 * time.Millisecond
	errBackoff   = 500 * time.Millisecond
	claimMinIdle = 30 * time.Second
	claimEvery   = 30 * time.Second

	resolveTick = time.Second
	doneMaxLen  = 5000
	jobBuffer   = 1024
)

// Horizon is one evaluation distance.
type Horizon struct {
	Name string
	Ms   int64
}

// Params are the evaluator settings from process configuration.
type Params struct {
	Horizons      []Horizon
	SuccessBp     float64
	NeutralBandBp float64
	FeeBp         float64
	MaxRetry      int
	SearchMs      int64
	Pref          []string
}

// job is one pending (signal, horizon) resolution.
type job struct {
	key     string // finalID|horizon
	finalID string
	sym     string
	dir     string
	strat   string
	ts0     int64
	dueAt   int64
	p0      float64
	horizon Horizon
	retry   int
}

// Evaluator consumes accepted signals and scores them when their
// horizons come due. Intake and resolution run as two loops; pending
// jobs are owned exclusively by the resolve loop and arrive over a
// channel.
type Evaluator struct {
	bus    *stream.Bus
	keys   symbols.Keys
	cons   *stream.Consumer
	syms   []string
	par    Params
	res    *Resolver
	met    *metrics.Metrics
	health *metrics.HealthStatus
	log    *zap.Logger

	enqueue chan job
	nowMs   func() int64
}

// New wires the evaluator.
func New(
	bus *stream.Bus,
	keys symbols.Keys,
	syms []string,
	par Params,
	met *metrics.Metrics,
	health *metrics.HealthStatus,
	log *zap.Logger,
) *Evaluator {
	return &Evaluator{
		bus:     bus,
		keys:    keys,
		cons:    stream.NewConsumer(bus, symbols.GroupEval, fmt.Sprintf("eval#%d", os.Getpid())),
		syms:    syms,
		par:     par,
		res:     NewResolver(bus, keys, par.Pref, par.SearchMs, log),
		met:     met,
		health:  health,
		log:     log.Named("eval"),
		enqueue: make(chan job, jobBuffer),
		nowMs:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Run blocks until ctx is cancelled, driving the intake loop here and
// the resolve loop on its own goroutine.
func (ev *Evaluator) Run(ctx context.Context) error {
	if len(ev.syms) == 0 {
		return errors.New("evaluate: no symbols configured")
	}
	if len(ev.par.Horizons) == 0 {
		return errors.New("evaluate: no horizons configured")
	}
	keys := make([]string, len(ev.syms))
	for i, s := range ev.syms {
		keys[i] = ev.keys.Final(s)
	}
	if err := ev.cons.EnsureGroups(ctx, keys, "$"); err != nil {
		return err
	}

	ev.health.SetEvalOK(true)
	defer ev.health.SetEvalOK(false)
	ev.log.Info("signal evaluator started",
		zap.Strings("symbols", ev.syms),
		zap.Int("horizons", len(ev.par.Horizons)),
		zap.String("consumer", ev.cons.Name()))

	resolveDone := make(chan struct{})
	go func() {
		defer close(resolveDone)
		ev.resolveLoop(ctx)
	}()

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			<-resolveDone
			return nil
		default:
		}

		if time.Since(lastClaim) >= claimEvery {
			ev.claim(ctx, keys)
			lastClaim = time.Now()
		}

		batches, err := ev.cons.Read(ctx, keys, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				<-resolveDone
				return nil
			}
			ev.met.StreamReadErrors.WithLabelValues(symbols.GroupEval).Inc()
			ev.log.Warn("final read failed", zap.Error(err))
			time.Sleep(errBackoff)
			continue
		}
		for _, b := range batches {
			sym := stream.SymFromKey(b.Key)
			for _, e := range b.Entries {
				ev.intake(ctx, b.Key, sym, e)
			}
		}
	}
}

// intake registers one accepted signal for every configured horizon.
// Rows without a usable ts/dir, or whose entry price cannot be
// resolved at all, are acked and skipped.
func (ev *Evaluator) intake(ctx context.Context, key, sym string, e stream.Entry) {
	f := e.Fields
	ts0, ok := f.Int("ts")
	dir := f.Str("dir")
	if !ok || ts0 <= 0 || (dir != model.SideBuy && dir != model.SideSell) {
		ev.met.BadRows.WithLabelValues("eval").Inc()
		ev.log.Warn("malformed final row",
			zap.String("key", key), zap.String("id", e.ID))
		ev.cons.Ack(ctx, key, e.ID)
		return
	}
	if v := f.Str("sym"); v != "" {
		sym = v
	}

	p0, p0src := ev.entryPrice(ctx, sym, ts0, f)
	if p0 <= 0 {
		ev.log.Warn("no entry price",
			zap.String("sym", sym), zap.Int64("ts0", ts0), zap.String("id", e.ID))
		ev.cons.Ack(ctx, key, e.ID)
		return
	}

	for _, hz := range ev.par.Horizons {
		j := job{
			key:     e.ID + "|" + hz.Name,
			finalID: e.ID,
			sym:     sym,
			dir:     dir,
			strat:   f.Str("strategyId"),
			ts0:     ts0,
			dueAt:   stats.CeilToNextMinute(ts0 + hz.Ms),
			p0:      p0,
			horizon: hz,
		}
		select {
		case ev.enqueue <- j:
		case <-ctx.Done():
			return
		}
	}
	ev.log.Debug("evaluation scheduled",
		zap.String("sym", sym),
		zap.String("finalId", e.ID),
		zap.Float64("p0", p0),
		zap.String("p0Source", p0src))
	ev.cons.Ack(ctx, key, e.ID)
}

// entryPrice prefers the router's reference price when it is fresh and
// close to the signal time, falling back to a full resolver search.
func (ev *Evaluator) entryPrice(ctx context.Context, sym string, ts0 int64, f model.Fields) (float64, string) {
	refPx, _ := f.Float("refPx")
	refTs, _ := f.Int("refPxTs")
	if refPx > 0 && !f.Bool("refPxStale") {
		d := refTs - ts0
		if d < 0 {
			d = -d
		}
		if d <= ev.par.SearchMs {
			return refPx, f.Str("refPxSrc")
		}
	}
	if pt, ok := ev.res.Resolve(ctx, sym, ts0); ok {
		return pt.Px, pt.Source
	}
	return 0, ""
}

// resolveLoop owns the pending-job map: new jobs arrive over the
// channel, the 1s tick sweeps due ones.
func (ev *Evaluator) resolveLoop(ctx context.Context) {
	jobs := make(map[string]*job)
	ticker := time.NewTicker(resolveTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ev.enqueue:
			if _, dup := jobs[j.key]; !dup {
				jobs[j.key] = &j
				ev.met.EvalOpenJobs.Set(float64(len(jobs)))
			}
		case <-ticker.C:
			ev.sweep(ctx, jobs)
		}
	}
}

func (ev *Evaluator) sweep(ctx context.Context, jobs map[string]*job) {
	now := ev.nowMs()
	for k, j := range jobs {
		if j.dueAt > now {
			continue
		}
		pt, ok := ev.res.Resolve(ctx, j.sym, j.dueAt)
		if !ok {
			if j.retry < ev.par.MaxRetry {
				j.retry++
				ev.met.EvalRetries.Inc()
				continue
			}
			ev.emit(ctx, j, PricePoint{}, false)
			delete(jobs, k)
			continue
		}
		ev.emit(ctx, j, pt, true)
		delete(jobs, k)
	}
	ev.met.EvalOpenJobs.Set(float64(len(jobs)))
}

// score turns a resolved (or missing) horizon price into the audit
// outcome. Buys gain when price rises, sells when it falls; the
// neutral band swallows small net moves before the success test.
func (ev *Evaluator) score(j *job, pt PricePoint, havePx bool) model.EvalOutcome {
	out := model.EvalOutcome{
		Sym:           j.sym,
		FinalID:       j.finalID,
		StrategyID:    j.strat,
		Dir:           j.dir,
		Horizon:       j.horizon.Name,
		Ts0:           j.ts0,
		DueAt:         j.dueAt,
		P0:            j.p0,
		ThresholdBp:   ev.par.SuccessBp,
		NeutralBandBp: ev.par.NeutralBandBp,
		Retry:         j.retry,
		MissPx:        !havePx,
	}
	if !havePx {
		return out
	}
	rawBp := (pt.Px/j.p0 - 1) * 1e4
	if j.dir == model.SideSell {
		rawBp = (j.p0/pt.Px - 1) * 1e4
	}
	netBp := rawBp - ev.par.FeeBp
	lag := pt.Ts - j.dueAt
	if lag < 0 {
		lag = 0
	}
	out.UsedPx = pt.Px
	out.UsedPxTs = pt.Ts
	out.UsedPxSource = pt.Source
	out.PriceLagMs = lag
	out.RetRawBp = rawBp
	out.RetNetBp = netBp
	out.Neutral = netBp < ev.par.NeutralBandBp && netBp > -ev.par.NeutralBandBp
	out.Success = !out.Neutral && netBp >= ev.par.SuccessBp
	return out
}

// emit appends one audit row. havePx=false produces a miss_px row.
func (ev *Evaluator) emit(ctx context.Context, j *job, pt PricePoint, havePx bool) {
	out := ev.score(j, pt, havePx)

	_, err := ev.bus.Append(ctx, ev.keys.EvalDone(j.sym), out.ToFields(),
		stream.Trim{MaxLen: doneMaxLen})
	if err != nil {
		ev.log.Error("eval append failed",
			zap.String("sym", j.sym), zap.String("finalId", j.finalID), zap.Error(err))
		return
	}
	ev.met.EvalOutcomes.WithLabelValues(out.Outcome()).Inc()
	ev.log.Debug("evaluation done",
		zap.String("sym", j.sym),
		zap.String("horizon", j.horizon.Name),
		zap.String("outcome", out.Outcome()),
		zap.Float64("retNetBp", out.RetNetBp))
}

func (ev *Evaluator) claim(ctx context.Context, keys []string) {
	for _, key := range keys {
		entries, err := ev.cons.Claim(ctx, key, claimMinIdle)
		if err != nil {
			ev.log.Warn("claim failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		ev.met.StreamClaimed.WithLabelValues(symbols.GroupEval).Add(float64(len(entries)))
		sym := stream.SymFromKey(key)
		for _, e := range entries {
			ev.intake(ctx, key, sym, e)
		}
	}
}
