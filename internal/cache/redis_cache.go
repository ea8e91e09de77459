package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/voxel-terrain/internal/logging"
)

// Options: параметры подключения к Redis.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // по умолчанию "terrain:"
	PoolSize  int
}

// RedisCache реализует CacheRepo поверх Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	closed atomic.Bool

	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	errors   atomic.Int64
}

// NewRedisCache подключается к Redis и проверяет соединение.
func NewRedisCache(opts Options) (*RedisCache, error) {
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis cache initialized: %s", opts.Addr)
	return NewRedisCacheWithClient(rdb, opts.KeyPrefix), nil
}

// NewRedisCacheWithClient оборачивает готовый клиент.
func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "terrain:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) key(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return r.prefix + key, nil
}

// Get получает значение по ключу.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrCacheClosed
	}
	k, err := r.key(key)
	if err != nil {
		return nil, err
	}
	r.requests.Add(1)

	val, err := r.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		r.hits.Add(1)
		return val, nil
	case errors.Is(err, redis.Nil):
		r.misses.Add(1)
		return nil, ErrCacheMiss
	default:
		r.errors.Add(1)
		logging.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}
}

// Set сохраняет значение в Redis.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrCacheClosed
	}
	k, err := r.key(key)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, k, value, ttl).Err(); err != nil {
		r.errors.Add(1)
		logging.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete удаляет ключ из кэша.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrCacheClosed
	}
	k, err := r.key(key)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, k).Err(); err != nil {
		r.errors.Add(1)
		logging.Error("Redis Delete error for key %s: %v", key, err)
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.client.Close(); err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}
	logging.Info("Redis cache closed")
	return nil
}

// GetMetrics возвращает текущие метрики кэша.
func (r *RedisCache) GetMetrics() *CacheMetrics {
	return snapshotMetrics(r.requests.Load(), r.hits.Load(), r.misses.Load(), r.errors.Load())
}

func snapshotMetrics(requests, hits, misses, errs int64) *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: requests,
		CacheHits:     hits,
		CacheMisses:   misses,
		Errors:        errs,
		LastUpdate:    time.Now(),
	}
	if total := hits + misses; total > 0 {
		m.HitRatio = float64(hits) / float64(total)
	}
	return m
}
