package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quantsignal/internal/metrics"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

// Channels subscribed per instrument.
var channels = []string{
	"trades",
	"books5",
	"candle1m",
	"candle5m",
	"candle15m",
	"open-interest",
	"funding-rate",
}

// Worker runs the venue ingress: REST bootstrap once, then the
// WebSocket session loop, publishing every normalized payload.
type Worker struct {
	cl     *Client
	pub    *Publisher
	boot   *Bootstrap
	syms   []string
	met    *metrics.Metrics
	health *metrics.HealthStatus
	log    *zap.Logger
}

// New builds the ingress worker for the given instruments.
func New(bus *stream.Bus, ks symbols.Keys, wsURL, restURL string, bookSampleMs int64, syms []string, met *metrics.Metrics, health *metrics.HealthStatus, log *zap.Logger) *Worker {
	subs := make([]subArg, 0, len(syms)*len(channels))
	for _, sym := range syms {
		for _, ch := range channels {
			subs = append(subs, subArg{Channel: ch, InstID: sym})
		}
	}

	ingestID := "ingest#" + uuid.NewString()[:8]
	return &Worker{
		cl:     NewClient(wsURL, subs, log.Named("ws")),
		pub:    NewPublisher(bus, ks, ingestID, bookSampleMs, met, log.Named("pub")),
		boot:   NewBootstrap(restURL, bus, ks, log.Named("bootstrap")),
		syms:   syms,
		met:    met,
		health: health,
		log:    log,
	}
}

// Run bootstraps history and serves the WebSocket until ctx cancels.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.syms) == 0 {
		return errors.New("ingest: no symbols configured")
	}
	w.health.SetWSRequired()

	w.boot.Run(ctx, w.syms)

	w.cl.OnConnect = func() {
		w.health.SetWSConnected(true)
		w.pub.MarkReconnect()
	}
	w.cl.OnDisconnect = func(err error) {
		w.health.SetWSConnected(false)
		w.met.IngestReconnects.Inc()
	}
	w.cl.OnMessage = func(raw []byte) {
		w.handle(ctx, raw)
	}

	w.log.Info("ingest starting", zap.Strings("symbols", w.syms))
	return w.cl.Run(ctx)
}

func (w *Worker) handle(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.log.Debug("undecodable frame", zap.Error(err))
		return
	}

	if env.Event != "" {
		w.handleEvent(env)
		return
	}
	if len(env.Data) == 0 {
		return
	}

	sym := env.Arg.InstID
	if sym == "" {
		return
	}
	recvTs := time.Now().UnixMilli()

	switch {
	case env.Arg.Channel == "trades":
		trades, err := parseTrades(sym, env.Data, recvTs)
		if err != nil {
			w.badFrame("trades", sym, err)
			return
		}
		w.pub.Trades(ctx, trades)
		w.health.SetLastEventTime(time.Now())

	case env.Arg.Channel == "books5" || env.Arg.Channel == "books":
		b, err := parseBook(sym, env.Data)
		if err != nil {
			w.badFrame("book", sym, err)
			return
		}
		w.pub.Book(ctx, b)

	case strings.HasPrefix(env.Arg.Channel, "candle"):
		tf, ok := channelTF(env.Arg.Channel)
		if !ok {
			return
		}
		ks, err := parseKlines(sym, tf, env.Data)
		if err != nil {
			w.badFrame("kline", sym, err)
			return
		}
		for _, k := range ks {
			w.pub.Kline(ctx, k)
		}

	case env.Arg.Channel == "open-interest":
		samples, err := parseOI(sym, env.Data)
		if err != nil {
			w.badFrame("oi", sym, err)
			return
		}
		for _, s := range samples {
			w.pub.OI(ctx, s)
		}

	case env.Arg.Channel == "funding-rate":
		rows, err := parseFunding(sym, env.Data)
		if err != nil {
			w.badFrame("funding", sym, err)
			return
		}
		for _, f := range rows {
			if f.Ts <= 0 {
				f.Ts = recvTs
			}
			w.pub.Funding(ctx, f)
		}
	}
}

func (w *Worker) handleEvent(env envelope) {
	switch env.Event {
	case "error":
		w.log.Warn("venue error frame",
			zap.String("code", env.Code), zap.String("msg", env.Msg))
	case "subscribe":
		w.log.Debug("subscribed",
			zap.String("channel", env.Arg.Channel), zap.String("instId", env.Arg.InstID))
	}
}

func (w *Worker) badFrame(kind, sym string, err error) {
	w.met.BadRows.WithLabelValues("ingest").Inc()
	w.log.Warn("bad frame", zap.String("kind", kind), zap.String("sym", sym), zap.Error(err))
}
