package rebuild

import (
	"sync"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

// Store хранит последний результат перестройки каждого чанка.
// Более старые версии не затирают более новые.
type Store struct {
	mu      sync.RWMutex
	results map[terrain.ChunkID]Result
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{results: make(map[terrain.ChunkID]Result)}
}

// Put сохраняет результат. Возвращает false, если уже есть более новая версия.
func (s *Store) Put(res Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.results[res.ID]; ok && cur.Version > res.Version {
		return false
	}
	s.results[res.ID] = res
	return true
}

// Get возвращает результат чанка.
func (s *Store) Get(id terrain.ChunkID) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[id]
	return res, ok
}

// DropRegion удаляет результаты выгруженного региона.
func (s *Store) DropRegion(loc terrain.Location) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.results {
		if id.Region == loc {
			delete(s.results, id)
			n++
		}
	}
	return n
}

// Len возвращает число сохранённых результатов.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
