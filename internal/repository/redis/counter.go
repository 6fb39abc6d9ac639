// Package redis implements the counter store and a read-through cache for
// delivery lookups on Redis.
package redis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

const counterPrefix = "fortnight:counter"

// incrementScript adds ARGV[1] to n and raises last to ARGV[2] (unix ms) in
// one server-side step.
var incrementScript = redis.NewScript(`
	local n = redis.call("hincrby", KEYS[1], "n", ARGV[1])
	local last = tonumber(redis.call("hget", KEYS[1], "last") or "0")
	if tonumber(ARGV[2]) > last then
		redis.call("hset", KEYS[1], "last", ARGV[2])
	end
	return n
`)

// CounterStore implements analytics.CounterStore on Redis hashes.
type CounterStore struct {
	client *redis.Client
}

// NewCounterStore creates a Redis-backed counter store.
func NewCounterStore(client *redis.Client) *CounterStore {
	return &CounterStore{client: client}
}

// CounterKey returns the Redis key of a bucket.
func CounterKey(k domain.BucketKey) string {
	bucket := "all"
	if !k.Bucket.IsZero() {
		bucket = strconv.FormatInt(k.Bucket.Unix(), 10)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s:%s", counterPrefix,
		k.Family, k.Event, k.Granularity, bucket,
		url.QueryEscape(k.Hash), url.QueryEscape(k.CampaignID), url.QueryEscape(k.BotValue))
}

func (s *CounterStore) IncrementBucket(ctx context.Context, key domain.BucketKey, by int64, at time.Time) error {
	err := incrementScript.Run(ctx, s.client, []string{CounterKey(key)}, by, at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

// GetCounter reads one bucket. A missing bucket reads as zero.
func (s *CounterStore) GetCounter(ctx context.Context, key domain.BucketKey) (domain.Counter, error) {
	c := domain.Counter{Key: key}
	vals, err := s.client.HMGet(ctx, CounterKey(key), "n", "last").Result()
	if err != nil {
		return c, fmt.Errorf("get counter: %w", err)
	}
	if v, ok := vals[0].(string); ok {
		if c.N, err = strconv.ParseInt(v, 10, 64); err != nil {
			return c, fmt.Errorf("parse counter n: %w", err)
		}
	}
	if v, ok := vals[1].(string); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("parse counter last: %w", err)
		}
		c.Last = time.UnixMilli(ms).UTC()
	}
	return c, nil
}
