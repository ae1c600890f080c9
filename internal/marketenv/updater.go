package marketenv

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"quantsignal/internal/metrics"
	"quantsignal/internal/model"
	"quantsignal/internal/stats"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

const gateLogMaxLen = 2000

// Updater recomputes and publishes the dyn:gate hash for every symbol
// on a fixed interval.
type Updater struct {
	bus      *stream.Bus
	keys     symbols.Keys
	syms     []string
	interval time.Duration
	met      *metrics.Metrics
	health   *metrics.HealthStatus
	log      *zap.Logger
	persist  map[string]*persistFilter
}

// NewUpdater wires the market-env updater.
func NewUpdater(
	bus *stream.Bus,
	keys symbols.Keys,
	syms []string,
	interval time.Duration,
	met *metrics.Metrics,
	health *metrics.HealthStatus,
	log *zap.Logger,
) *Updater {
	return &Updater{
		bus:      bus,
		keys:     keys,
		syms:     syms,
		interval: interval,
		met:      met,
		health:   health,
		log:      log.Named("marketenv"),
		persist:  make(map[string]*persistFilter),
	}
}

// Run publishes one gate set immediately, then on every tick until ctx
// is cancelled. Consumers therefore never observe a missing hash for
// longer than the first cycle.
func (u *Updater) Run(ctx context.Context) error {
	if len(u.syms) == 0 {
		return errors.New("marketenv: no symbols configured")
	}
	u.health.SetEnvOK(true)
	defer u.health.SetEnvOK(false)
	u.log.Info("market-env updater started",
		zap.Strings("symbols", u.syms), zap.Duration("interval", u.interval))

	u.cycle(ctx)
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.cycle(ctx)
		}
	}
}

func (u *Updater) cycle(ctx context.Context) {
	for _, sym := range u.syms {
		start := time.Now()
		if err := u.update(ctx, sym); err != nil {
			u.log.Warn("gate update failed", zap.String("sym", sym), zap.Error(err))
		}
		u.met.EnvUpdateDur.Observe(time.Since(start).Seconds())
	}
}

func (u *Updater) update(ctx context.Context, sym string) error {
	now := time.Now().UnixMilli()

	k5 := u.readKlines(ctx, sym, "5m")
	k15 := u.readKlines(ctx, sym, "15m")
	volPct := stats.Clip01(math.Max(pctOfLast(trBpSeries(k5)), pctOfLast(trBpSeries(k15))))
	liqPct := stats.Clip01(math.Max(pctOfLast(turnoverSeries(k5)), pctOfLast(turnoverSeries(k15))))

	raw, oiPct, oiZ := oiRegimeRaw(downsampleOI(u.readOI(ctx, sym, now)), now)
	pf := u.persist[sym]
	if pf == nil {
		pf = &persistFilter{}
		u.persist[sym] = pf
	}
	regime := pf.apply(raw, now)
	// Thin or quiet markets cannot carry an OI regime signal.
	if volPct < 0.4 || liqPct < 0.4 {
		regime = 0
	}

	in := Inputs{
		VolPct:    volPct,
		LiqPct:    liqPct,
		OIRegime:  regime,
		EventFlag: u.fundingSoon(ctx, sym, now),
		RateExc:   u.signalRateExc(ctx, sym, now),
	}
	g := Map(in, now)

	fields := g.ToMap()
	if err := u.bus.SetHash(ctx, u.keys.Gate(sym), fields, 0); err != nil {
		return err
	}

	audit := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		audit[k] = v
	}
	audit["oiPct"] = model.Fmt(oiPct)
	audit["oiZLike"] = model.Fmt(oiZ)
	audit["oiRaw"] = model.FmtInt(int64(raw))
	if _, err := u.bus.Append(ctx, u.keys.GateLog(sym), audit, stream.Trim{MaxLen: gateLogMaxLen}); err != nil {
		u.log.Warn("gate log append failed", zap.String("sym", sym), zap.Error(err))
	}

	u.met.EnvUpdates.Inc()
	u.met.GateVolPct.WithLabelValues(sym).Set(volPct)
	u.met.GateLiqPct.WithLabelValues(sym).Set(liqPct)
	u.met.GateOIRegime.WithLabelValues(sym).Set(float64(regime))

	u.log.Debug("gate updated",
		zap.String("sym", sym),
		zap.Float64("volPct", volPct),
		zap.Float64("liqPct", liqPct),
		zap.Int("oiRegime", regime),
		zap.Float64("effMin0", g.EffMin0),
		zap.Int64("cooldownMs", g.CooldownMs))
	return nil
}

// readKlines returns up to klineDepth parsed candles, oldest first.
func (u *Updater) readKlines(ctx context.Context, sym, tf string) []model.Kline {
	entries, err := u.bus.LatestN(ctx, u.keys.Kline(sym, tf), klineDepth)
	if err != nil {
		u.log.Warn("kline read failed",
			zap.String("sym", sym), zap.String("tf", tf), zap.Error(err))
		return nil
	}
	out := make([]model.Kline, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		k, err := model.ParseKline(sym, tf, entries[i].Fields)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out
}

// readOI returns the raw open-interest samples over the lookback
// window, ascending.
func (u *Updater) readOI(ctx context.Context, sym string, now int64) []model.OISample {
	entries, err := u.bus.RangeByTime(ctx, u.keys.OI(sym), now-oiLookbackMs, now, 0)
	if err != nil {
		u.log.Warn("oi read failed", zap.String("sym", sym), zap.Error(err))
		return nil
	}
	out := make([]model.OISample, 0, len(entries))
	for _, e := range entries {
		s, err := model.ParseOISample(sym, e.Fields)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (u *Updater) fundingSoon(ctx context.Context, sym string, now int64) bool {
	f, err := u.bus.GetHash(ctx, u.keys.FundingState(sym))
	if err != nil || len(f) == 0 {
		return false
	}
	st := model.ParseFundingState(sym, model.Fields(f))
	if st.NextFundingTime <= 0 {
		return false
	}
	d := st.NextFundingTime - now
	return d >= 0 && d <= fundingSoonMs
}

func (u *Updater) signalRateExc(ctx context.Context, sym string, now int64) float64 {
	recent, err := u.bus.RangeByTime(ctx, u.keys.Detected(sym), now-60000, now, 0)
	if err != nil {
		return 0
	}
	base, err := u.bus.RangeByTime(ctx, u.keys.Detected(sym), now-900000, now, 0)
	if err != nil {
		return 0
	}
	return rateExcess(len(recent), len(base), 60000, 900000)
}
