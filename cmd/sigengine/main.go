// Command sigengine runs the derived side of the pipeline: the window
// worker, the market-env updater, the signal router and the signal
// evaluator, all against one shared Redis connection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quantsignal/config"
	"quantsignal/internal/detect"
	"quantsignal/internal/evaluate"
	"quantsignal/internal/logger"
	"quantsignal/internal/marketenv"
	"quantsignal/internal/metrics"
	"quantsignal/internal/router"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
	"quantsignal/internal/window"
)

func main() {
	cfg := config.Load()
	log := logger.Init("sigengine", cfg.LogLevel)
	defer log.Sync()

	syms := symbols.ParseList(cfg.Symbols)
	if len(syms) == 0 {
		log.Fatal("no symbols configured, set SYMBOLS")
	}
	reg, err := symbols.LoadRegistry(cfg.SymbolsFile)
	if err != nil {
		log.Fatal("symbol registry", zap.Error(err))
	}
	keys := symbols.NewKeys(cfg.KeyPrefix)

	met := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(syms)
	srv := metrics.NewServer(cfg.MetricsAddr, health, log.Named("metrics"))
	srv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	bus, err := stream.New(stream.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log.Named("redis"))
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer bus.Close()
	health.SetRedisConnected(true)
	health.StartLivenessChecker(ctx, bus.Client(), 10*time.Second)

	gates := marketenv.NewCache(bus, keys)

	win := window.NewWorker(bus, keys, reg, gates, syms, detect.DefaultParams(), met, health, log)

	rt := router.New(bus, keys, gates, syms, router.Params{
		Enabled:          cfg.SignalsEnabled,
		MinStrengthFloor: cfg.MinStrengthFloor,
		ExtraCooldownMs:  cfg.ExtraCooldownMs,
		MinSpacingMs:     cfg.MinSpacingMs,
		HystHi:           cfg.HystHi,
		HystLo:           cfg.HystLo,
		IdemBucketMs:     cfg.IdemBucketMs,
		IdemTTLMs:        cfg.IdemTTLMs,
	}, met, health, log)

	horizons := make([]evaluate.Horizon, 0, 2)
	for _, h := range cfg.ParseHorizons() {
		horizons = append(horizons, evaluate.Horizon{Name: h.Name, Ms: h.Ms})
	}
	ev := evaluate.New(bus, keys, syms, evaluate.Params{
		Horizons:      horizons,
		SuccessBp:     cfg.EvalSuccessBp,
		NeutralBandBp: cfg.EvalNeutralBp,
		FeeBp:         cfg.EvalFeeBp,
		MaxRetry:      cfg.EvalMaxRetry,
		SearchMs:      cfg.EvalPxSearchMs,
		Pref:          cfg.ParsePricePref(),
	}, met, health, log)

	env := marketenv.NewUpdater(bus, keys, syms,
		time.Duration(cfg.EnvUpdateIntervalMs)*time.Millisecond, met, health, log)

	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Error("worker exited", zap.String("worker", name), zap.Error(err))
			}
		}()
	}
	run("window", win.Run)
	run("router", rt.Run)
	run("eval", ev.Run)
	run("marketenv", env.Run)

	log.Info("signal engine running",
		zap.Strings("symbols", syms),
		zap.String("metrics", cfg.MetricsAddr),
		zap.Bool("signals_enabled", cfg.SignalsEnabled))

	<-sigCh
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
}
