package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

const (
	// The whole bootstrap shares one hard deadline so a slow venue
	// cannot delay worker startup.
	restTimeout   = 6 * time.Second
	backfillBars  = 120
	backfillTF    = "1m"
	backfillTrim  = 400
	candlesPath   = "/api/v5/market/candles"
	maxRestBody   = 1 << 20
)

// Bootstrap seeds the backfill candle stream from the venue REST API
// on startup so the price resolver has history before the WebSocket
// warms up. Failures are logged and ignored; the live feed catches up.
type Bootstrap struct {
	baseURL string
	bus     *stream.Bus
	keys    symbols.Keys
	http    *http.Client
	log     *zap.Logger
}

// NewBootstrap builds a bootstrap against the given REST base URL.
func NewBootstrap(baseURL string, bus *stream.Bus, ks symbols.Keys, log *zap.Logger) *Bootstrap {
	return &Bootstrap{
		baseURL: baseURL,
		bus:     bus,
		keys:    ks,
		http:    &http.Client{Timeout: restTimeout},
		log:     log,
	}
}

// Run backfills each symbol sequentially under one shared deadline.
func (b *Bootstrap) Run(ctx context.Context, syms []string) {
	ctx, cancel := context.WithTimeout(ctx, restTimeout)
	defer cancel()

	for _, sym := range syms {
		n, err := b.backfill(ctx, sym)
		if err != nil {
			b.log.Warn("backfill skipped", zap.String("sym", sym), zap.Error(err))
			continue
		}
		b.log.Info("backfilled candles", zap.String("sym", sym), zap.Int("bars", n))
	}
}

type candlesResp struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

// backfill fetches recent candles (newest first) and appends confirmed
// bars oldest-first onto the backfill stream.
func (b *Bootstrap) backfill(ctx context.Context, sym string) (int, error) {
	rows, err := b.fetch(ctx, sym)
	if err != nil {
		return 0, err
	}

	appended := 0
	for i := len(rows) - 1; i >= 0; i-- {
		k, ok := klineFromArray(sym, backfillTF, rows[i])
		if !ok || !k.Confirm {
			continue
		}
		_, err := b.bus.Append(ctx, b.keys.BackfillKline(sym), k.ToFields(),
			stream.Trim{MaxLen: backfillTrim})
		if err != nil {
			return appended, err
		}
		appended++
	}
	return appended, nil
}

func (b *Bootstrap) fetch(ctx context.Context, sym string) ([][]string, error) {
	q := url.Values{}
	q.Set("instId", sym)
	q.Set("bar", backfillTF)
	q.Set("limit", fmt.Sprint(backfillBars))
	reqURL := b.baseURL + candlesPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candles %s: status %d", sym, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRestBody))
	if err != nil {
		return nil, err
	}
	var body candlesResp
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("candles %s: %w", sym, err)
	}
	if body.Code != "0" {
		return nil, fmt.Errorf("candles %s: venue code %s %s", sym, body.Code, body.Msg)
	}
	return body.Data, nil
}
