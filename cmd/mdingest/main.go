// Command mdingest runs the venue ingress: it bridges the public
// WebSocket feed onto the Redis streams the signal engine consumes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quantsignal/config"
	"quantsignal/internal/ingest"
	"quantsignal/internal/logger"
	"quantsignal/internal/metrics"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

func main() {
	cfg := config.Load()
	log := logger.Init("mdingest", cfg.LogLevel)
	defer log.Sync()

	syms := symbols.ParseList(cfg.Symbols)
	if len(syms) == 0 {
		log.Fatal("no symbols configured, set SYMBOLS")
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

	w := ingest.New(bus, keys, cfg.WsURL, cfg.RestURL, cfg.BookSampleMs,
		syms, met, health, log.Named("ingest"))

	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("ingest exited", zap.Error(err))
		}
	}()

	log.Info("ingress running",
		zap.Strings("symbols", syms),
		zap.String("ws", cfg.WsURL),
		zap.String("metrics", cfg.MetricsAddr))

	<-sigCh
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
}
