package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

var viewKey = domain.BucketKey{
	Family:      domain.FamilyHuman,
	Event:       domain.EventView,
	Granularity: domain.GranularityDay,
	Bucket:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	Hash:        "abc",
	CampaignID:  "c1",
}

func TestCounterKey(t *testing.T) {
	assert.Equal(t, "fortnight:counter:human:view:day:1714521600:abc:c1:", CounterKey(viewKey))

	all := viewKey
	all.Granularity = domain.GranularityAll
	all.Bucket = time.Time{}
	all.Family = domain.FamilyBot
	all.CampaignID = ""
	all.BotValue = "quora link preview"
	assert.Equal(t, "fortnight:counter:bot:view:all:all:abc::quora+link+preview", CounterKey(all))
}

func TestCounterStore_Increment(t *testing.T) {
	_, client := setupRedis(t)
	store := NewCounterStore(client)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, store.IncrementBucket(ctx, viewKey, 1, t2))
	require.NoError(t, store.IncrementBucket(ctx, viewKey, 4, t1))

	c, err := store.GetCounter(ctx, viewKey)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.N)
	assert.Equal(t, t2, c.Last, "last never moves backwards")
}

func TestCounterStore_Missing(t *testing.T) {
	_, client := setupRedis(t)
	c, err := NewCounterStore(client).GetCounter(context.Background(), viewKey)
	require.NoError(t, err)
	assert.Zero(t, c.N)
	assert.True(t, c.Last.IsZero())
}

func TestCounterStore_ConcurrentIncrements(t *testing.T) {
	_, client := setupRedis(t)
	store := NewCounterStore(client)
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.IncrementBucket(ctx, viewKey, 1, time.Now()))
		}()
	}
	wg.Wait()

	c, err := store.GetCounter(ctx, viewKey)
	require.NoError(t, err)
	assert.Equal(t, int64(n), c.N)
}

func TestCounterStore_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	mr.Close()
	err := NewCounterStore(client).IncrementBucket(context.Background(), viewKey, 1, time.Now())
	assert.Error(t, err)
}

// countingStore is a backend that counts loads.
type countingStore struct {
	loads   atomic.Int32
	release chan struct{}
}

func (s *countingStore) FindEligible(context.Context, delivery.Query) ([]domain.Campaign, error) {
	return []domain.Campaign{{ID: "c1"}}, nil
}

func (s *countingStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.loads.Add(1)
	return &domain.Campaign{ID: id, URL: "https://a.example.com"}, nil
}

func (s *countingStore) GetPlacement(_ context.Context, id string) (*domain.Placement, error) {
	s.loads.Add(1)
	if id == "missing" {
		return nil, delivery.ErrNotFound
	}
	return &domain.Placement{ID: id, Name: "Sidebar"}, nil
}

func (s *countingStore) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.loads.Add(1)
	if s.release != nil {
		<-s.release
	}
	return &domain.Template{ID: id, HTML: "<div></div>"}, nil
}

func TestCachedStore_ReadThrough(t *testing.T) {
	mr, client := setupRedis(t)
	inner := &countingStore{}
	cache := NewCachedStore(inner, client, time.Minute)
	ctx := context.Background()

	p, err := cache.GetPlacement(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, "Sidebar", p.Name)
	p, err = cache.GetPlacement(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, "P", p.ID)
	assert.Equal(t, int32(1), inner.loads.Load())
	assert.True(t, mr.Exists("fortnight:cache:placement:P"))

	mr.FastForward(2 * time.Minute)
	_, err = cache.GetPlacement(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.loads.Load())

	c, err := cache.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com", c.URL)

	eligible, err := cache.FindEligible(ctx, delivery.Query{})
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	mr, client := setupRedis(t)
	inner := &countingStore{}
	cache := NewCachedStore(inner, client, time.Minute)

	_, err := cache.GetPlacement(context.Background(), "missing")
	assert.ErrorIs(t, err, delivery.ErrNotFound)
	assert.False(t, mr.Exists("fortnight:cache:placement:missing"))
}

func TestCachedStore_Invalidate(t *testing.T) {
	mr, client := setupRedis(t)
	cache := NewCachedStore(&countingStore{}, client, time.Minute)
	ctx := context.Background()

	_, err := cache.GetTemplate(ctx, "T")
	require.NoError(t, err)
	require.True(t, mr.Exists("fortnight:cache:template:T"))
	require.NoError(t, cache.Invalidate(ctx, "template:T"))
	assert.False(t, mr.Exists("fortnight:cache:template:T"))
}

func TestCachedStore_ConcurrentMissesShareLoad(t *testing.T) {
	_, client := setupRedis(t)
	inner := &countingStore{release: make(chan struct{})}
	cache := NewCachedStore(inner, client, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tpl, err := cache.GetTemplate(context.Background(), "T")
			assert.NoError(t, err)
			assert.Equal(t, "T", tpl.ID)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int32(1), inner.loads.Load())
}

func TestCachedStore_RedisDownFallsBackToBackend(t *testing.T) {
	mr, client := setupRedis(t)
	inner := &countingStore{}
	cache := NewCachedStore(inner, client, time.Minute)
	mr.Close()

	p, err := cache.GetPlacement(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, "P", p.ID)
}
