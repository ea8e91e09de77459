package registry

import (
	"sync"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

// Lease: закрепление конкретного экземпляра региона.
// Пока аренда не освобождена, регион не выгружается.
type Lease struct {
	reg    *Registry
	region *terrain.Region
	once   sync.Once
}

// Region возвращает арендованный регион.
func (l *Lease) Region() *terrain.Region {
	return l.region
}

// Snapshot копирует чанк под блокировкой чтения региона.
func (l *Lease) Snapshot(cc terrain.ChunkCoord) terrain.ChunkSnapshot {
	return l.region.SnapshotChunk(cc)
}

// Live сообщает, что регион всё ещё загружен в реестре.
func (l *Lease) Live() bool {
	return l.reg.IsCurrent(l.region)
}

// Release снимает закрепление; повторные вызовы ничего не делают.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.reg.Unpin(l.region)
	})
}
