package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quantsignal/internal/metrics"
	"quantsignal/internal/model"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

const (
	// Trades trim by age so the evaluator's price resolver always has
	// its full search window; everything else trims by length.
	tradesRetainMs = 3_600_000
	bookMaxLen     = 2000
	klineMaxLen    = 400
	oiMaxLen       = 2000
	fundingMaxLen  = 200

	klineStateTTL   = time.Hour
	oiStateTTL      = time.Hour
	fundingStateTTL = 4 * time.Hour

	breakerFailures = 5
	breakerRetry    = 5 * time.Second
	maxBuffered     = 10000
)

// pendingRow is one stream append held back while the breaker is open.
type pendingRow struct {
	key    string
	fields map[string]interface{}
	trim   stream.Trim
}

// Publisher writes normalized market data to Redis. Stream appends run
// through a circuit breaker; rows that cannot be written are buffered
// (drop-oldest past maxBuffered) and flushed when the breaker closes.
// Hash snapshots are written through the breaker but never buffered,
// since replaying a stale snapshot has no value.
type Publisher struct {
	bus  *stream.Bus
	keys symbols.Keys
	br   *stream.Breaker
	met  *metrics.Metrics
	log  *zap.Logger

	ingestID     string
	bookSampleMs int64
	nowMs        func() int64

	mu       sync.Mutex
	buffer   []pendingRow
	sampleAt map[string]int64 // sym -> last published book frame, wall ms
	seenBar  map[string]int64 // sym|tf -> open ts of last confirmed bar appended
	snapDone map[string]bool  // sym -> post-connect snapshot frame already sent
}

// NewPublisher builds a publisher stamping rows with ingestID.
func NewPublisher(bus *stream.Bus, ks symbols.Keys, ingestID string, bookSampleMs int64, met *metrics.Metrics, log *zap.Logger) *Publisher {
	p := &Publisher{
		bus:          bus,
		keys:         ks,
		br:           stream.NewBreaker(breakerFailures, breakerRetry),
		met:          met,
		log:          log,
		ingestID:     ingestID,
		bookSampleMs: bookSampleMs,
		nowMs:        func() int64 { return time.Now().UnixMilli() },
		sampleAt:     make(map[string]int64),
		seenBar:      make(map[string]int64),
		snapDone:     make(map[string]bool),
	}
	p.br.OnStateChange = func(from, to stream.BreakerState) {
		p.met.BreakerState.Set(float64(to))
		p.log.Warn("publish breaker transition",
			zap.Stringer("from", from), zap.Stringer("to", to))
		if to == stream.BreakerOpen {
			p.met.BreakerTrips.Inc()
		}
		if to == stream.BreakerClosed {
			go p.flush(context.Background())
		}
	}
	return p
}

// MarkReconnect resets per-connection state: the next depth frame for
// every symbol becomes the session's snapshot frame.
func (p *Publisher) MarkReconnect() {
	p.mu.Lock()
	p.snapDone = make(map[string]bool)
	p.mu.Unlock()
}

// Trades appends executions onto the trade stream, stamped with the
// ingest id and trimmed to the last hour by entry age.
func (p *Publisher) Trades(ctx context.Context, trades []model.Trade) {
	for _, t := range trades {
		t.IngestID = p.ingestID
		p.append(ctx, p.keys.Trades(t.Sym), t.ToFields(),
			stream.Trim{MinIDMs: p.nowMs() - tradesRetainMs})
		p.met.IngestRows.WithLabelValues("trade").Inc()
	}
}

// Book publishes a depth frame. The first frame of a session is the
// snapshot and always passes; updates are downsampled to at most one
// per bookSampleMs per symbol.
func (p *Publisher) Book(ctx context.Context, b model.BookTop) {
	now := p.nowMs()

	p.mu.Lock()
	if !p.snapDone[b.Sym] {
		p.snapDone[b.Sym] = true
		b.Snapshot = true
		b.Action = "snapshot"
	} else {
		b.Action = "update"
		if now-p.sampleAt[b.Sym] < p.bookSampleMs {
			p.mu.Unlock()
			return
		}
	}
	p.sampleAt[b.Sym] = now
	p.mu.Unlock()

	p.append(ctx, p.keys.Book(b.Sym), b.ToFields(), stream.Trim{MaxLen: bookMaxLen})
	p.met.IngestRows.WithLabelValues("book").Inc()
}

// Kline overwrites the candle snapshot hash on every tick and appends
// to the stream only on the first confirm of each bar, deduplicating
// the venue's repeated confirm pushes.
func (p *Publisher) Kline(ctx context.Context, k model.Kline) {
	p.setHash(ctx, p.keys.KlineState(k.Sym, k.TF), k.ToFields(), klineStateTTL)
	p.met.IngestRows.WithLabelValues("kline").Inc()

	if !k.Confirm {
		return
	}
	barKey := k.Sym + "|" + k.TF
	p.mu.Lock()
	if p.seenBar[barKey] >= k.Ts {
		p.mu.Unlock()
		return
	}
	p.seenBar[barKey] = k.Ts
	p.mu.Unlock()

	p.append(ctx, p.keys.Kline(k.Sym, k.TF), k.ToFields(), stream.Trim{MaxLen: klineMaxLen})
}

// OI appends an open-interest sample and refreshes the state hash.
func (p *Publisher) OI(ctx context.Context, s model.OISample) {
	p.append(ctx, p.keys.OI(s.Sym), s.ToFields(), stream.Trim{MaxLen: oiMaxLen})
	p.setHash(ctx, p.keys.OIState(s.Sym), s.ToFields(), oiStateTTL)
	p.met.IngestRows.WithLabelValues("oi").Inc()
}

// Funding appends a funding snapshot and refreshes the state hash the
// market-env updater reads.
func (p *Publisher) Funding(ctx context.Context, f model.FundingState) {
	p.append(ctx, p.keys.Funding(f.Sym), f.ToMap(), stream.Trim{MaxLen: fundingMaxLen})
	p.setHash(ctx, p.keys.FundingState(f.Sym), f.ToMap(), fundingStateTTL)
	p.met.IngestRows.WithLabelValues("funding").Inc()
}

// Pending reports how many rows wait for the breaker to close.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) append(ctx context.Context, key string, fields map[string]interface{}, trim stream.Trim) {
	err := p.br.Do(func() error {
		_, err := p.bus.Append(ctx, key, fields, trim)
		return err
	})
	if err == nil {
		return
	}
	if err != stream.ErrBreakerOpen {
		p.log.Warn("publish failed, buffering", zap.String("key", key), zap.Error(err))
	}
	p.bufferRow(pendingRow{key: key, fields: fields, trim: trim})
}

func (p *Publisher) setHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) {
	err := p.br.Do(func() error {
		return p.bus.SetHash(ctx, key, fields, ttl)
	})
	if err != nil && err != stream.ErrBreakerOpen {
		p.log.Warn("snapshot write failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Publisher) bufferRow(row pendingRow) {
	p.mu.Lock()
	if len(p.buffer) >= maxBuffered {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, row)
	p.mu.Unlock()
	p.met.IngestBuffered.Inc()
}

// flush replays buffered rows oldest-first. A failure mid-flush puts
// the remainder back at the front and waits for the next close.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	for i, row := range toFlush {
		if _, err := p.bus.Append(ctx, row.key, row.fields, row.trim); err != nil {
			p.log.Warn("flush interrupted", zap.Int("flushed", i),
				zap.Int("remaining", len(toFlush)-i), zap.Error(err))
			p.mu.Lock()
			p.buffer = append(toFlush[i:], p.buffer...)
			if len(p.buffer) > maxBuffered {
				p.buffer = p.buffer[len(p.buffer)-maxBuffered:]
			}
			p.mu.Unlock()
			return
		}
	}
	p.log.Info("flushed buffered rows", zap.Int("count", len(toFlush)))
}
