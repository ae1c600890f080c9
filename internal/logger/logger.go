// Package logger builds the process-wide structured logger. Output is
// JSON on stdout with a service field, so one aggregation pipeline
// serves every worker.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init creates the root logger for a service and installs it as the
// zap global. level accepts debug|info|warn|error (default info).
func Init(service, level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build(zap.Fields(zap.String("service", service)))
	if err != nil {
		// Build only fails on a bad config; fall back to a plain
		// production logger rather than crashing startup.
		log = zap.Must(zap.NewProduction()).With(zap.String("service", service))
	}
	zap.ReplaceGlobals(log)
	return log
}
