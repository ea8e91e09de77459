package cache

import (
	"context"
	"errors"
	"time"
)

// CacheRepo: горячий кэш закодированных записей регионов.
//
// Использование:
//
//	cache, err := NewRedisCache(Options{Addr: "localhost:6379"})
//	data, err := cache.Get(ctx, "region:4:2")
//	err = cache.Set(ctx, "region:4:2", data, 10*time.Minute)
type CacheRepo interface {
	// Get возвращает значение по ключу или ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение с TTL. TTL = 0: без истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete удаляет ключ из кэша.
	Delete(ctx context.Context, key string) error

	Close() error

	// GetMetrics возвращает копию метрик кэша.
	GetMetrics() *CacheMetrics
}

// ColdStorage: постоянное хранилище за кэшем (BadgerDB).
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// CacheMetrics содержит метрики кэша.
type CacheMetrics struct {
	TotalRequests int64     `json:"total_requests"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	Errors        int64     `json:"errors"`
	HitRatio      float64   `json:"hit_ratio"`
	LastUpdate    time.Time `json:"last_update"`
}

// Ошибки кэша
var (
	ErrCacheMiss   = NewCacheError("cache miss")
	ErrInvalidKey  = NewCacheError("invalid key")
	ErrCacheClosed = NewCacheError("cache closed")
)

// CacheError представляет ошибку кэша.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss проверяет, является ли ошибка промахом кэша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
