package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Consumer wraps consumer-group reads for one worker role. Group and
// consumer names are fixed at construction; the same Consumer may
// serve many stream keys.
type Consumer struct {
	bus   *Bus
	group string
	name  string
	log   *zap.Logger
}

// NewConsumer binds a consumer identity to the bus.
func NewConsumer(bus *Bus, group, name string) *Consumer {
	return &Consumer{
		bus:   bus,
		group: group,
		name:  name,
		log:   bus.log.Named("consumer").With(zap.String("group", group), zap.String("consumer", name)),
	}
}

// Group returns the consumer-group name.
func (c *Consumer) Group() string { return c.group }

// Name returns the consumer name within the group.
func (c *Consumer) Name() string { return c.name }

// EnsureGroups creates the group on every key, creating missing
// streams as empty. BUSYGROUP means the group already exists and is
// treated as success. start is "$" (new messages only) or "0".
func (c *Consumer) EnsureGroups(ctx context.Context, keys []string, start string) error {
	for _, key := range keys {
		err := c.bus.client.XGroupCreateMkStream(ctx, key, c.group, start).Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s on %s: %w", c.group, key, err)
		}
	}
	return nil
}

// Read performs one blocking XREADGROUP over all keys with the ">"
// cursor. A timeout yields (nil, nil); the caller just loops.
func (c *Consumer) Read(ctx context.Context, keys []string, count int64, block time.Duration) ([]Batch, error) {
	args := make([]string, len(keys)*2)
	for i, k := range keys {
		args[i] = k
		args[len(keys)+i] = ">"
	}
	res, err := c.bus.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", c.group, err)
	}
	out := make([]Batch, 0, len(res))
	for _, s := range res {
		out = append(out, Batch{Key: s.Stream, Entries: toEntries(s.Messages)})
	}
	return out, nil
}

// Ack acknowledges processed entries. Failures are only logged; an
// unacked message simply reappears via the claim path.
func (c *Consumer) Ack(ctx context.Context, key string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	if err := c.bus.client.XAck(ctx, key, c.group, ids...).Err(); err != nil {
		c.log.Warn("xack failed", zap.String("key", key), zap.Int("ids", len(ids)), zap.Error(err))
	}
}

// claimPageLimit bounds one Claim call so a huge backlog cannot stall
// the live read loop.
const claimPageLimit = 3

// Claim reclaims entries stuck pending longer than minIdle (dead or
// wedged consumers), iterating at most claimPageLimit XAUTOCLAIM
// pages of 100.
func (c *Consumer) Claim(ctx context.Context, key string, minIdle time.Duration) ([]Entry, error) {
	var out []Entry
	start := "0-0"
	for page := 0; page < claimPageLimit; page++ {
		msgs, next, err := c.bus.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   key,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  minIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			return out, fmt.Errorf("xautoclaim %s: %w", key, err)
		}
		out = append(out, toEntries(msgs)...)
		if next == "0-0" || len(msgs) == 0 {
			break
		}
		start = next
	}
	return out, nil
}
