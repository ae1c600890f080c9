// Package stream provides thin, typed operations over the Redis
// Streams bus: appends with approximate trimming, consumer-group
// reads with stale-entry reclaim, time-window range reads, hash
// snapshots, and one-shot idempotency locks.
package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Trim selects the approximate trimming strategy for an append.
// MaxLen keeps roughly the newest MaxLen entries; MinIDMs drops
// entries older than the given ms timestamp. Zero values disable the
// respective strategy.
type Trim struct {
	MaxLen  int64
	MinIDMs int64
}

// Bus is the shared Redis handle. All workers in a process share one
// Bus; the underlying client pools connections.
type Bus struct {
	client *goredis.Client
	log    *zap.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, log *zap.Logger) (*Bus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Bus{client: client, log: log}, nil
}

// Client exposes the underlying client for health checks.
func (b *Bus) Client() *goredis.Client { return b.client }

// Append XADDs one entry. Nil field values are omitted; everything
// else is stringified by the client.
func (b *Bus) Append(ctx context.Context, key string, fields map[string]interface{}, trim Trim) (string, error) {
	vals := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		vals[k] = v
	}
	args := &goredis.XAddArgs{Stream: key, Values: vals}
	if trim.MaxLen > 0 {
		args.MaxLen = trim.MaxLen
		args.Approx = true
	} else if trim.MinIDMs > 0 {
		args.MinID = strconv.FormatInt(trim.MinIDMs, 10) + "-0"
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", key, err)
	}
	return id, nil
}

// SetHash overwrites hash fields and refreshes the TTL when ttl > 0.
// Both commands ride one pipeline.
func (b *Bus) SetHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	pipe := b.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// GetHash reads a whole hash. A missing key yields an empty map and
// no error.
func (b *Bus) GetHash(ctx context.Context, key string) (map[string]string, error) {
	m, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

// HashField reads one hash field, "" when absent.
func (b *Bus) HashField(ctx context.Context, key, field string) (string, error) {
	v, err := b.client.HGet(ctx, key, field).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("hget %s %s: %w", key, field, err)
	}
	return v, nil
}

// AcquireLock attempts SET NX PX. True means this caller owns the key
// until TTL expiry; there is no explicit unlock.
func (b *Bus) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// RangeByTime XRANGEs entries whose id timestamp lies in [fromMs,
// toMs]. count <= 0 means no limit.
func (b *Bus) RangeByTime(ctx context.Context, key string, fromMs, toMs int64, count int64) ([]Entry, error) {
	start := strconv.FormatInt(fromMs, 10) + "-0"
	end := strconv.FormatInt(toMs, 10) + "-999999"
	var (
		msgs []goredis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = b.client.XRangeN(ctx, key, start, end, count).Result()
	} else {
		msgs, err = b.client.XRange(ctx, key, start, end).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", key, err)
	}
	return toEntries(msgs), nil
}

// LatestN XREVRANGEs the newest n entries, newest first.
func (b *Bus) LatestN(ctx context.Context, key string, n int64) ([]Entry, error) {
	msgs, err := b.client.XRevRangeN(ctx, key, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", key, err)
	}
	return toEntries(msgs), nil
}

// Latest returns the newest entry, ok=false when the stream is empty.
func (b *Bus) Latest(ctx context.Context, key string) (Entry, bool, error) {
	entries, err := b.LatestN(ctx, key, 1)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

// Close releases the underlying client.
func (b *Bus) Close() error { return b.client.Close() }
