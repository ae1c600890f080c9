package marketenv

import (
	"context"
	"sync"
	"time"

	"quantsignal/internal/model"
	"quantsignal/internal/stream"
	"quantsignal/internal/symbols"
)

// cacheTTL bounds how stale a served gate snapshot can be.
const cacheTTL = time.Second

type cacheEntry struct {
	g  model.GateSnapshot
	at time.Time
}

// Cache serves gate snapshots with a 1s TTL so the hot per-trade and
// per-signal paths avoid a Redis round-trip each time. Safe for use
// from multiple workers.
type Cache struct {
	bus  *stream.Bus
	keys symbols.Keys

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates an empty gate cache.
func NewCache(bus *stream.Bus, keys symbols.Keys) *Cache {
	return &Cache{bus: bus, keys: keys, entries: make(map[string]cacheEntry)}
}

// Gate returns the current snapshot for sym, refreshing from Redis
// when the cached copy is stale. A read failure falls back to the last
// known snapshot, then to the conservative defaults.
func (c *Cache) Gate(ctx context.Context, sym string) model.GateSnapshot {
	c.mu.Lock()
	e, ok := c.entries[sym]
	c.mu.Unlock()
	if ok && time.Since(e.at) < cacheTTL {
		return e.g
	}

	f, err := c.bus.GetHash(ctx, c.keys.Gate(sym))
	if err != nil {
		if ok {
			return e.g
		}
		return model.DefaultGate()
	}
	g := model.ParseGate(model.Fields(f))

	c.mu.Lock()
	c.entries[sym] = cacheEntry{g: g, at: time.Now()}
	c.mu.Unlock()
	return g
}

// Invalidate drops a symbol's cached snapshot (used by tests and
// forced-refresh paths).
func (c *Cache) Invalidate(sym string) {
	c.mu.Lock()
	delete(c.entries, sym)
	c.mu.Unlock()
}
