package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

var (
	_ storage.Blobs     = (*Layered)(nil)
	_ storage.KeyLister = (*Layered)(nil)
	_ CacheRepo         = (*RedisCache)(nil)
	_ ColdStorage       = (*storage.BadgerStore)(nil)
)

// memoryCache: CacheRepo в памяти для тестов.
type memoryCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failSet bool
	hits    int64
	misses  int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		m.misses++
		return nil, ErrCacheMiss
	}
	m.hits++
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("redis недоступен")
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryCache) Close() error { return nil }

func (m *memoryCache) GetMetrics() *CacheMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotMetrics(m.hits+m.misses, m.hits, m.misses, 0)
}

func (m *memoryCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func setupLayered(t *testing.T) (*Layered, *memoryCache, *storage.BadgerStore) {
	t.Helper()
	cold, err := storage.NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cold.Close() })

	hot := newMemoryCache()
	return NewLayered(hot, cold, 10*time.Minute), hot, cold
}

func TestLayeredReadThrough(t *testing.T) {
	l, hot, cold := setupLayered(t)
	ctx := context.Background()

	require.NoError(t, cold.Store(ctx, "region:1:1", []byte("blob")))
	assert.False(t, hot.has("region:1:1"))

	val, err := l.Load(ctx, "region:1:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), val)
	assert.True(t, hot.has("region:1:1"), "промах прогревает кэш")
	assert.Equal(t, 10*time.Minute, hot.ttls["region:1:1"])

	_, err = l.Load(ctx, "region:1:1")
	require.NoError(t, err)
	m := l.Metrics()
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.InDelta(t, 0.5, m.HitRatio, 1e-9)

	_, err = l.Load(ctx, "region:9:9")
	assert.ErrorIs(t, err, storage.ErrNotFound, "ошибка холодного хранилища проходит как есть")
}

func TestLayeredWriteThroughAndDelete(t *testing.T) {
	l, hot, cold := setupLayered(t)
	ctx := context.Background()

	require.NoError(t, l.Store(ctx, "region:2:3", []byte("v1")))
	assert.True(t, hot.has("region:2:3"))
	val, err := cold.Load(ctx, "region:2:3")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	hot.failSet = true
	require.NoError(t, l.Store(ctx, "region:2:3", []byte("v2")), "сбой кэша не ломает запись")
	assert.False(t, hot.has("region:2:3"), "старое значение убрано из кэша")
	hot.failSet = false

	val, err = l.Load(ctx, "region:2:3")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)

	keys, err := l.Keys(ctx, "region:")
	require.NoError(t, err)
	assert.Equal(t, []string{"region:2:3"}, keys)

	require.NoError(t, l.Delete(ctx, "region:2:3"))
	assert.False(t, hot.has("region:2:3"))
	_, err = l.Load(ctx, "region:2:3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLayeredRegionStore(t *testing.T) {
	l, hot, _ := setupLayered(t)
	ctx := context.Background()

	regions, err := storage.NewRegionStore(l)
	require.NoError(t, err)
	defer regions.Close()

	dims := terrain.Dims{Width: 8, Height: 8, Depth: 4, ChunkSize: 4}
	loc := terrain.Location{X: 7, Y: -2}
	r, err := storage.FlatGenerator{Surface: 1}.Generate(ctx, loc, dims)
	require.NoError(t, err)

	require.NoError(t, regions.Save(ctx, r.Export()))
	assert.True(t, hot.has(storage.RegionKey(loc)))

	got, err := regions.Load(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, r.Export(), got)

	locs, err := regions.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []terrain.Location{loc}, locs)
}

func TestIsCacheMiss(t *testing.T) {
	assert.True(t, IsCacheMiss(ErrCacheMiss))
	assert.True(t, IsCacheMiss(errors.Join(errors.New("x"), ErrCacheMiss)))
	assert.False(t, IsCacheMiss(ErrInvalidKey))
	assert.False(t, IsCacheMiss(nil))
}

// Живой Redis: TERRAIN_TEST_REDIS=localhost:6379 go test ./internal/cache
func TestRedisCacheLive(t *testing.T) {
	addr := os.Getenv("TERRAIN_TEST_REDIS")
	if addr == "" {
		t.Skip("TERRAIN_TEST_REDIS не задан")
	}
	c, err := NewRedisCache(Options{Addr: addr, KeyPrefix: "terrain-test:"})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, c.Close())
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
}
