// Package redis provides Redis implementations of storage ports.
//
// Each (user, action) key has its own sorted set of event IDs scored by
// occurrence time in unix milliseconds. A Lua script counts the window and
// adds the event in one step, which makes the daily limit hold across every
// instance sharing the Redis deployment.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
)

// UsageStore implements ports.AtomicUsageEventStore on Redis.
type UsageStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// Option configures UsageStore.
type Option func(*UsageStore)

// WithKeyPrefix sets the Redis key prefix (default "tutorquota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *UsageStore) { s.keyPrefix = prefix }
}

// NewUsageStore creates a Redis-backed usage store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewUsageStore(client goredis.Cmdable, opts ...Option) *UsageStore {
	s := &UsageStore{
		client:    client,
		keyPrefix: "tutorquota:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func (s *UsageStore) eventsKey(key usage.Key) string {
	return s.keyPrefix + "usage:" + key.String()
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// Count returns the number of events for key in [from, until).
func (s *UsageStore) Count(ctx context.Context, key usage.Key, from, until time.Time) (int64, error) {
	n, err := s.client.ZCount(ctx, s.eventsKey(key),
		strconv.FormatInt(millis(from), 10),
		"("+strconv.FormatInt(millis(until), 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count: %w", err)
	}
	return n, nil
}

// Append records one event.
func (s *UsageStore) Append(ctx context.Context, e usage.Event) error {
	err := s.client.ZAdd(ctx, s.eventsKey(e.Key()), goredis.Z{
		Score:  float64(millis(e.OccurredAt)),
		Member: e.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: append: %w", err)
	}
	return nil
}

// consumeScript counts and conditionally adds in one atomic step.
// KEYS[1] = events sorted set
// ARGV[1] = from (ms, inclusive)
// ARGV[2] = until (ms, exclusive)
// ARGV[3] = limit
// ARGV[4] = score (ms)
// ARGV[5] = event id
//
// Returns {used, appended} where appended is 1 or 0.
var consumeScript = goredis.NewScript(`
local used = redis.call("ZCOUNT", KEYS[1], ARGV[1], "(" .. ARGV[2])
if used >= tonumber(ARGV[3]) then
    return {used, 0}
end
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[5])
return {used, 1}
`)

// ConsumeIfBelow appends e only if fewer than limit events exist for its key
// in [from, until).
func (s *UsageStore) ConsumeIfBelow(ctx context.Context, e usage.Event, from, until time.Time, limit int64) (int64, bool, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.eventsKey(e.Key())},
		millis(from), millis(until), limit, millis(e.OccurredAt), e.ID,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis: consume: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis: unexpected consume result: %v", res)
	}
	return res[0], res[1] == 1, nil
}

// PruneBefore removes events older than cutoff from every key and returns
// how many were removed.
func (s *UsageStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(millis(cutoff), 10)

	var removed int64
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"usage:*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", upper).Result()
		if err != nil {
			return removed, fmt.Errorf("redis: prune %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis: scan: %w", err)
	}
	return removed, nil
}

// HealthCheck pings the server.
func (s *UsageStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Ensure interface compliance.
var (
	_ ports.AtomicUsageEventStore = (*UsageStore)(nil)
	_ ports.UsagePruner           = (*UsageStore)(nil)
	_ ports.HealthChecker         = (*UsageStore)(nil)
)
