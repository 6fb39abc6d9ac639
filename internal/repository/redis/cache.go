package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
)

const cachePrefix = "fortnight:cache"

// Store is the set of lookups the cache fronts.
type Store interface {
	delivery.CampaignRepository
	delivery.PlacementRepository
	delivery.TemplateRepository
}

// CachedStore caches placement, template and single-campaign lookups as JSON
// with a TTL. Concurrent misses for one key share a single backend load.
// Eligibility queries are time-sensitive and always go to the backend.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedStore wraps inner with a read-through cache.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{Store: inner, client: client, ttl: ttl}
}

func (c *CachedStore) GetPlacement(ctx context.Context, id string) (*domain.Placement, error) {
	return readThrough(ctx, c, "placement:"+id, func(ctx context.Context) (*domain.Placement, error) {
		return c.Store.GetPlacement(ctx, id)
	})
}

func (c *CachedStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return readThrough(ctx, c, "template:"+id, func(ctx context.Context) (*domain.Template, error) {
		return c.Store.GetTemplate(ctx, id)
	})
}

func (c *CachedStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	return readThrough(ctx, c, "campaign:"+id, func(ctx context.Context) (*domain.Campaign, error) {
		return c.Store.GetCampaign(ctx, id)
	})
}

// Invalidate drops a cached entry, e.g. "placement:<id>".
func (c *CachedStore) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, cachePrefix+":"+key).Err()
}

// readThrough serves key from Redis, loading and storing it on a miss. Redis
// failures degrade to a direct load.
func readThrough[T any](ctx context.Context, c *CachedStore, key string, load func(context.Context) (*T, error)) (*T, error) {
	full := cachePrefix + ":" + key
	raw, err := c.client.Get(ctx, full).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v, nil
		}
		logger.Warn("discarding undecodable cache entry", "key", full)
	case !errors.Is(err, redis.Nil):
		logger.Warn("cache read failed", "key", full, "error", err)
	}

	v, err, _ := c.group.Do(full, func() (interface{}, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if b, err := json.Marshal(loaded); err == nil {
			if err := c.client.Set(ctx, full, b, c.ttl).Err(); err != nil {
				logger.Warn("cache write failed", "key", full, "error", err)
			}
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	out, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("cache %s: unexpected type %T", key, v)
	}
	return out, nil
}
