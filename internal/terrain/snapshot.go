package terrain

// ChunkSnapshot: копия тайлов и флагов одного чанка на момент постановки задачи
// перестройки. Последующие коммиты снимок не видят.
type ChunkSnapshot struct {
	ID      ChunkID
	Origin  Coord
	Size    int
	Version uint64
	Tiles   []TileType // локальный порядок z, y, x
	Flags   []Flags
}

// Local возвращает пространство локальных индексов снимка.
func (s *ChunkSnapshot) Local() Extent {
	return Extent{W: s.Size, H: s.Size, D: s.Size}
}

// At возвращает тайл и флаги по локальным координатам.
func (s *ChunkSnapshot) At(x, y, z int) (TileType, Flags) {
	i := s.Local().ToIndex(x, y, z)
	return s.Tiles[i], s.Flags[i]
}

// SnapshotChunk копирует чанк под блокировкой чтения.
func (r *Region) SnapshotChunk(cc ChunkCoord) ChunkSnapshot {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return r.snapshotChunkLocked(cc)
}

func (r *Region) snapshotChunkLocked(cc ChunkCoord) ChunkSnapshot {
	size := r.dims.ChunkSize
	n := size * size * size
	snap := ChunkSnapshot{
		ID:      ChunkID{Region: r.location, Chunk: cc},
		Origin:  r.chunks.Origin(cc),
		Size:    size,
		Version: r.version.Load(),
		Tiles:   make([]TileType, 0, n),
		Flags:   make([]Flags, 0, n),
	}
	for idx := range r.chunks.ChunkTiles(cc) {
		snap.Tiles = append(snap.Tiles, r.tiles[idx])
		snap.Flags = append(snap.Flags, r.flags[idx])
	}
	return snap
}
