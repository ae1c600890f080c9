// Package config loads all runtime settings from process env. A local
// .env file is honored when present so dev setups need no exports.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Horizon is one evaluation window parsed from EVAL_HORIZONS.
type Horizon struct {
	Name string // "5m"
	Ms   int64  // 300000
}

// Config holds all application configuration loaded from environment
// variables. One struct serves every binary; unused sections are
// simply ignored.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string
	KeyPrefix     string
	LogLevel      string

	// Instruments
	Symbols     string // comma-separated; short tokens like "btc" allowed
	SymbolsFile string // optional instruments yaml

	// Market-env updater
	EnvUpdateIntervalMs int64

	// Router gating
	SignalsEnabled   bool
	MinStrengthFloor float64
	ExtraCooldownMs  int64
	MinSpacingMs     int64
	HystHi           float64
	HystLo           float64
	IdemBucketMs     int64
	IdemTTLMs        int64

	// Evaluator
	EvalHorizons   string
	EvalSuccessBp  float64
	EvalNeutralBp  float64
	EvalFeeBp      float64
	EvalMaxRetry   int
	EvalPxSearchMs int64
	EvalPricePref  string

	// Venue ingress
	WsURL        string
	RestURL      string
	BookSampleMs int64
}

// Load reads configuration with defaults matching a single-node dev
// deployment.
func Load() *Config {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		KeyPrefix:     getEnv("KEY_PREFIX", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		Symbols:     firstEnv("SYMBOLS", "OKX_ASSETS", "OKX_SYMBOLS"),
		SymbolsFile: getEnv("SYMBOLS_FILE", ""),

		EnvUpdateIntervalMs: getEnvInt64("ENV_UPDATE_INTERVAL_MS", 10000),

		SignalsEnabled:   getEnvBool("SIGNALS_ENABLED", true),
		MinStrengthFloor: getEnvFloat("SIGNAL_MIN_STRENGTH_FLOOR", 0.6),
		ExtraCooldownMs:  getEnvInt64("SIGNAL_EXTRA_COOLDOWN_MS", 0),
		MinSpacingMs:     getEnvInt64("SIGNAL_MIN_SPACING_MS", 10000),
		HystHi:           getEnvFloat("SIGNAL_HYST_HI", 0.75),
		HystLo:           getEnvFloat("SIGNAL_HYST_LO", 0.55),
		IdemBucketMs:     getEnvInt64("SIGNAL_IDEM_BUCKET_MS", 8000),
		IdemTTLMs:        getEnvInt64("SIGNAL_IDEM_TTL_MS", 10000),

		EvalHorizons:   getEnv("EVAL_HORIZONS", "5m,15m"),
		EvalSuccessBp:  getEnvFloat("EVAL_SUCCESS_BP", 5),
		EvalNeutralBp:  getEnvFloat("EVAL_NEUTRAL_BAND_BP", 2),
		EvalFeeBp:      getEnvFloat("EVAL_FEE_BP", 0),
		EvalMaxRetry:   getEnvInt("EVAL_MAX_RETRY", 6),
		EvalPxSearchMs: getEnvInt64("EVAL_PX_SEARCH_MS", 15000),
		EvalPricePref:  getEnv("EVAL_PRICE_PREF", "mid,last,win:1m,ws:kline1m,bf:kline1m"),

		WsURL:        getEnv("OKX_WS_URL", "wss://ws.okx.com:8443/ws/v5/public"),
		RestURL:      getEnv("OKX_REST_URL", "https://www.okx.com"),
		BookSampleMs: getEnvInt64("BOOK_SAMPLE_MS", 150),
	}
}

// ParseHorizons parses EVAL_HORIZONS entries like "5m" or "15m" into
// named millisecond windows. Invalid entries are skipped with a log
// line; an empty result falls back to 5m/15m.
func (c *Config) ParseHorizons() []Horizon {
	var out []Horizon
	for _, p := range strings.Split(c.EvalHorizons, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ms, ok := parseDurationMs(p)
		if !ok {
			log.Printf("[config] skipping invalid horizon: %q", p)
			continue
		}
		out = append(out, Horizon{Name: p, Ms: ms})
	}
	if len(out) == 0 {
		out = []Horizon{{Name: "5m", Ms: 300000}, {Name: "15m", Ms: 900000}}
	}
	return out
}

// ParsePricePref splits the resolver preference list.
func (c *Config) ParsePricePref() []string {
	var out []string
	for _, p := range strings.Split(c.EvalPricePref, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDurationMs understands "90s", "5m", "15m", "1h".
func parseDurationMs(s string) (int64, bool) {
	if len(s) < 2 {
		return 0, false
	}
	unit := s[len(s)-1]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return n * 1000, true
	case 'm':
		return n * 60000, true
	case 'h':
		return n * 3600000, true
	default:
		return 0, false
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
