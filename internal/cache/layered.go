package cache

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
)

// Layered: read-through / write-through кэш: горячий CacheRepo перед ColdStorage.
// Ошибки горячего слоя не ломают чтение и запись, они только логируются.
type Layered struct {
	hot  CacheRepo
	cold ColdStorage
	ttl  time.Duration
}

// NewLayered создаёт двухуровневое хранилище записей.
func NewLayered(hot CacheRepo, cold ColdStorage, ttl time.Duration) *Layered {
	return &Layered{hot: hot, cold: cold, ttl: ttl}
}

// Load читает из кэша, при промахе из холодного хранилища с прогревом кэша.
// Ошибки холодного хранилища возвращаются как есть.
func (l *Layered) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := l.hot.Get(ctx, key)
	if err == nil {
		return val, nil
	}
	if !IsCacheMiss(err) {
		logging.Warn("⚠️ Горячий кэш недоступен для %s: %v", key, err)
	}

	val, err = l.cold.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := l.hot.Set(ctx, key, val, l.ttl); err != nil {
		logging.Warn("⚠️ Не удалось прогреть кэш для %s: %v", key, err)
	}
	return val, nil
}

// Store пишет в холодное хранилище, затем обновляет кэш.
func (l *Layered) Store(ctx context.Context, key string, value []byte) error {
	if err := l.cold.Store(ctx, key, value); err != nil {
		return err
	}
	if err := l.hot.Set(ctx, key, value, l.ttl); err != nil {
		// Не оставляем в кэше старое значение.
		_ = l.hot.Delete(ctx, key)
		logging.Warn("⚠️ Не удалось обновить кэш для %s: %v", key, err)
	}
	return nil
}

// Delete удаляет запись из обоих слоёв.
func (l *Layered) Delete(ctx context.Context, key string) error {
	if err := l.cold.Delete(ctx, key); err != nil {
		return err
	}
	if err := l.hot.Delete(ctx, key); err != nil {
		logging.Warn("⚠️ Не удалось удалить %s из кэша: %v", key, err)
	}
	return nil
}

// Keys перечисляет ключи холодного хранилища.
func (l *Layered) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, ok := l.cold.(interface {
		Keys(ctx context.Context, prefix string) ([]string, error)
	})
	if !ok {
		return nil, errors.New("холодное хранилище не поддерживает перечисление ключей")
	}
	return lister.Keys(ctx, prefix)
}

// Metrics возвращает метрики горячего слоя.
func (l *Layered) Metrics() *CacheMetrics {
	return l.hot.GetMetrics()
}
