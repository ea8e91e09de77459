package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

var (
	// ErrNotFound: ключа нет в хранилище.
	ErrNotFound = errors.New("запись не найдена")
	// ErrClosed: хранилище уже закрыто.
	ErrClosed = errors.New("хранилище закрыто")
)

// BadgerStore: байтовое хранилище записей поверх BadgerDB.
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создаёт) базу в dataPath/regions.
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "regions")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Path возвращает каталог базы.
func (s *BadgerStore) Path() string {
	return s.dbPath
}

// Close закрывает хранилище данных
func (s *BadgerStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	return s.db.Close()
}

// Load читает запись по ключу. Отсутствие ключа: ErrNotFound.
func (s *BadgerStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("ключ %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

// Store записывает значение по ключу.
func (s *BadgerStore) Store(ctx context.Context, key string, value []byte) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Delete удаляет ключ. Удаление отсутствующего ключа не ошибка.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// Keys возвращает ключи с заданным префиксом.
func (s *BadgerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrClosed
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}
	return keys, nil
}
