package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus series for the signal pipeline.
type Metrics struct {
	// Window worker
	TradesTotal   prometheus.Counter
	BarsSealed    *prometheus.CounterVec // labels: tf
	FlowLateDrops prometheus.Counter
	BadRows       *prometheus.CounterVec // labels: worker

	// Detectors / aggregator
	DetectCandidates *prometheus.CounterVec // labels: src
	DetectSignals    *prometheus.CounterVec // labels: src
	DetectDropped    *prometheus.CounterVec // labels: reason

	// Router
	RouterAccepted   prometheus.Counter
	RouterDropped    *prometheus.CounterVec // labels: reason
	RouterRefPxStale prometheus.Counter

	// Market-env updater
	EnvUpdateDur prometheus.Histogram
	EnvUpdates   prometheus.Counter
	GateVolPct   *prometheus.GaugeVec // labels: sym
	GateLiqPct   *prometheus.GaugeVec // labels: sym
	GateOIRegime *prometheus.GaugeVec // labels: sym

	// Evaluator
	EvalOpenJobs prometheus.Gauge
	EvalOutcomes *prometheus.CounterVec // labels: outcome
	EvalRetries  prometheus.Counter

	// Stream plumbing
	StreamClaimed    *prometheus.CounterVec // labels: group
	StreamReadErrors *prometheus.CounterVec // labels: group

	// Venue ingress
	IngestRows       *prometheus.CounterVec // labels: kind
	IngestReconnects prometheus.Counter
	IngestBuffered   prometheus.Counter
	BreakerState     prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips     prometheus.Counter
}

// NewMetrics registers and returns all Prometheus series.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_window_trades_total",
			Help: "Trades consumed by the window worker",
		}),
		BarsSealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_window_bars_sealed_total",
			Help: "Sealed bars appended (by timeframe)",
		}, []string{"tf"}),
		FlowLateDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_window_flow_late_drops_total",
			Help: "Trades dropped from the 3s flow window for arriving late",
		}),
		BadRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_bad_rows_total",
			Help: "Malformed inbound rows (by worker)",
		}, []string{"worker"}),

		DetectCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_detect_candidates_total",
			Help: "Raw detector candidates before consolidation (by source)",
		}, []string{"src"}),
		DetectSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_detect_signals_total",
			Help: "Consolidated signals appended to signal:detected (by source)",
		}, []string{"src"}),
		DetectDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_detect_dropped_total",
			Help: "Aggregator drops (by reason)",
		}, []string{"reason"}),

		RouterAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_router_accepted_total",
			Help: "Signals accepted and published to signal:final",
		}),
		RouterDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_router_dropped_total",
			Help: "Router drops (by gate reason)",
		}, []string{"reason"}),
		RouterRefPxStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_router_refpx_stale_total",
			Help: "Accepted signals whose reference price exceeded the staleness bound",
		}),

		EnvUpdateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quant_env_update_duration_seconds",
			Help:    "Market-env update cycle latency per symbol",
			Buckets: prometheus.DefBuckets,
		}),
		EnvUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_env_updates_total",
			Help: "Completed dyn:gate refreshes",
		}),
		GateVolPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quant_gate_vol_pct",
			Help: "Current volatility percentile per symbol",
		}, []string{"sym"}),
		GateLiqPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quant_gate_liq_pct",
			Help: "Current liquidity percentile per symbol",
		}, []string{"sym"}),
		GateOIRegime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quant_gate_oi_regime",
			Help: "Open-interest regime per symbol (-1, 0, +1)",
		}, []string{"sym"}),

		EvalOpenJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quant_eval_open_jobs",
			Help: "Pending evaluation jobs",
		}),
		EvalOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_eval_outcomes_total",
			Help: "Evaluation audit rows (by outcome)",
		}, []string{"outcome"}),
		EvalRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_eval_retries_total",
			Help: "Resolver retries while waiting for a due price",
		}),

		StreamClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_stream_claimed_total",
			Help: "Pending entries reclaimed via XAUTOCLAIM (by group)",
		}, []string{"group"}),
		StreamReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_stream_read_errors_total",
			Help: "Consumer-group read errors (by group)",
		}, []string{"group"}),

		IngestRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_ingest_rows_total",
			Help: "Rows published to ingress streams (by kind)",
		}, []string{"kind"}),
		IngestReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_ingest_ws_reconnects_total",
			Help: "Venue WebSocket reconnection attempts",
		}),
		IngestBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_ingest_buffered_rows_total",
			Help: "Rows buffered locally while the publish breaker was open",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quant_ingest_breaker_state",
			Help: "Publish circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_ingest_breaker_trips_total",
			Help: "Times the publish circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.TradesTotal,
		m.BarsSealed,
		m.FlowLateDrops,
		m.BadRows,
		m.DetectCandidates,
		m.DetectSignals,
		m.DetectDropped,
		m.RouterAccepted,
		m.RouterDropped,
		m.RouterRefPxStale,
		m.EnvUpdateDur,
		m.EnvUpdates,
		m.GateVolPct,
		m.GateLiqPct,
		m.GateOIRegime,
		m.EvalOpenJobs,
		m.EvalOutcomes,
		m.EvalRetries,
		m.StreamClaimed,
		m.StreamReadErrors,
		m.IngestRows,
		m.IngestReconnects,
		m.IngestBuffered,
		m.BreakerState,
		m.BreakerTrips,
	)

	return m
}

// HealthStatus is the shared health snapshot served on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	WSConnected    bool
	wsRequired     bool
	LastEventTime  time.Time
	WindowOK       bool
	RouterOK       bool
	EvalOK         bool
	EnvOK          bool
	Symbols        []string

	RedisLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// SetWSRequired marks the venue WebSocket as a hard dependency.
// Only the ingest binary calls this.
func (h *HealthStatus) SetWSRequired() {
	h.mu.Lock()
	h.wsRequired = true
	h.mu.Unlock()
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetWindowOK(v bool) {
	h.mu.Lock()
	h.WindowOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRouterOK(v bool) {
	h.mu.Lock()
	h.RouterOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEvalOK(v bool) {
	h.mu.Lock()
	h.EvalOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnvOK(v bool) {
	h.mu.Lock()
	h.EnvOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(syms []string) {
	h.mu.Lock()
	h.Symbols = syms
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic Redis probes until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || (h.wsRequired && !h.WSConnected) {
		overall = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string   `json:"status"`
		Uptime         string   `json:"uptime"`
		RedisConnected bool     `json:"redis_connected"`
		RedisLatencyMs float64  `json:"redis_latency_ms"`
		WSConnected    bool     `json:"ws_connected"`
		LastEventTime  string   `json:"last_event_time"`
		EventAge       string   `json:"event_age"`
		WindowOK       bool     `json:"window_ok"`
		RouterOK       bool     `json:"router_ok"`
		EvalOK         bool     `json:"eval_ok"`
		EnvOK          bool     `json:"env_ok"`
		Symbols        []string `json:"symbols"`
		LastCheckAt    string   `json:"last_check_at"`
	}{
		Status:         overall,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		WSConnected:    h.WSConnected,
		LastEventTime:  h.LastEventTime.Format(time.RFC3339),
		EventAge:       eventAge,
		WindowOK:       h.WindowOK,
		RouterOK:       h.RouterOK,
		EvalOK:         h.EvalOK,
		EnvOK:          h.EnvOK,
		Symbols:        h.Symbols,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		log:  log.Named("metrics"),
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	_ = s.srv.Shutdown(ctx)
}
