package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

// Blobs: байтовое хранилище записей: BadgerStore или кэш поверх него.
type Blobs interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// KeyLister перечисляет ключи по префиксу.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const regionPrefix = "region:"

// RegionKey возвращает ключ записи региона ("region:x:y").
func RegionKey(loc terrain.Location) string {
	return regionPrefix + loc.Key()
}

// RegionStore сохраняет регионы целиком: тайлы и флаги как есть
// вместе с локацией, индексом мира, биомом и размерами.
type RegionStore struct {
	blobs Blobs
	codec *Codec
}

// NewRegionStore создаёт хранилище регионов поверх blobs.
func NewRegionStore(blobs Blobs) (*RegionStore, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &RegionStore{blobs: blobs, codec: codec}, nil
}

// Close освобождает кодек. blobs закрывает владелец.
func (s *RegionStore) Close() {
	s.codec.Close()
}

// Save сохраняет регион.
func (s *RegionStore) Save(ctx context.Context, data terrain.RegionData) error {
	record, err := s.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("кодирование региона %s: %w", data.Location, err)
	}
	if err := s.blobs.Store(ctx, RegionKey(data.Location), record); err != nil {
		return fmt.Errorf("сохранение региона %s: %w", data.Location, err)
	}
	storageLog().Debug("💾 Регион %s сохранён (версия %d, %d байт)", data.Location, data.Version, len(record))
	return nil
}

// SaveRegion реализует registry.Sink.
func (s *RegionStore) SaveRegion(ctx context.Context, data terrain.RegionData) error {
	return s.Save(ctx, data)
}

// Load читает сохранённый регион. Отсутствие записи: ErrNotFound.
func (s *RegionStore) Load(ctx context.Context, loc terrain.Location) (terrain.RegionData, error) {
	record, err := s.blobs.Load(ctx, RegionKey(loc))
	if err != nil {
		return terrain.RegionData{}, err
	}
	data, err := s.codec.Decode(record)
	if err != nil {
		return data, fmt.Errorf("регион %s: %w", loc, err)
	}
	if data.Location != loc {
		return data, fmt.Errorf("%w: под ключом %s лежит регион %s", ErrCorrupt, RegionKey(loc), data.Location)
	}
	return data, nil
}

// LoadRegion читает регион и восстанавливает его без пересчёта флагов.
func (s *RegionStore) LoadRegion(ctx context.Context, loc terrain.Location) (*terrain.Region, error) {
	data, err := s.Load(ctx, loc)
	if err != nil {
		return nil, err
	}
	return terrain.Restore(data)
}

// Delete удаляет сохранённый регион.
func (s *RegionStore) Delete(ctx context.Context, loc terrain.Location) error {
	return s.blobs.Delete(ctx, RegionKey(loc))
}

// Locations перечисляет сохранённые регионы.
func (s *RegionStore) Locations(ctx context.Context) ([]terrain.Location, error) {
	lister, ok := s.blobs.(KeyLister)
	if !ok {
		return nil, errors.New("хранилище не поддерживает перечисление ключей")
	}
	keys, err := lister.Keys(ctx, regionPrefix)
	if err != nil {
		return nil, err
	}

	out := make([]terrain.Location, 0, len(keys))
	for _, key := range keys {
		var loc terrain.Location
		if _, err := fmt.Sscanf(strings.TrimPrefix(key, regionPrefix), "%d:%d", &loc.X, &loc.Y); err != nil {
			storageLog().Warn("Ошибка парсинга ключа '%s': %v", key, err)
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}
