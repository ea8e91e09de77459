package terrain

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// ChunkCoord: координата чанка в сетке чанков региона.
type ChunkCoord struct {
	X, Y, Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("[%d,%d,%d]", c.X, c.Y, c.Z)
}

// ChunkID идентифицирует чанк глобально: регион плюс координата чанка.
type ChunkID struct {
	Region Location
	Chunk  ChunkCoord
}

func (id ChunkID) String() string {
	return fmt.Sprintf("%s%s", id.Region, id.Chunk)
}

// DirtySet: набор чанков, ожидающих перестройки.
type DirtySet map[ChunkCoord]struct{}

// Has проверяет наличие чанка.
func (s DirtySet) Has(cc ChunkCoord) bool {
	_, ok := s[cc]
	return ok
}

// Len возвращает количество чанков.
func (s DirtySet) Len() int {
	return len(s)
}

// Sorted возвращает чанки в порядке плоского индекса сетки (z, y, x).
func (s DirtySet) Sorted() []ChunkCoord {
	out := make([]ChunkCoord, 0, len(s))
	for cc := range s {
		out = append(out, cc)
	}
	slices.SortFunc(out, func(a, b ChunkCoord) int {
		if a.Z != b.Z {
			return a.Z - b.Z
		}
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})
	return out
}

// Partitioner делит объём региона на кубические чанки и ведёт набор грязных чанков.
// Принадлежность тайла чанку вычисляется арифметически и нигде не хранится.
type Partitioner struct {
	dims  Dims
	mu    sync.Mutex
	dirty DirtySet
}

// NewPartitioner создаёт разбиение для заданных размеров.
func NewPartitioner(dims Dims) *Partitioner {
	return &Partitioner{dims: dims, dirty: make(DirtySet)}
}

// Dims возвращает размеры разбиваемого региона.
func (p *Partitioner) Dims() Dims {
	return p.dims
}

// OwningChunk возвращает чанк, содержащий тайл (x,y,z).
func (p *Partitioner) OwningChunk(x, y, z int) ChunkCoord {
	if debugChecks && !p.dims.Tiles().Contains(Coord{X: x, Y: y, Z: z}) {
		panic(fmt.Sprintf("terrain: тайл (%d,%d,%d) вне региона", x, y, z))
	}
	c := p.dims.ChunkSize
	return ChunkCoord{X: x / c, Y: y / c, Z: z / c}
}

// ChunkOf возвращает чанк, содержащий тайл с плоским индексом idx.
func (p *Partitioner) ChunkOf(idx TileIndex) ChunkCoord {
	c := p.dims.Tiles().ToCoord(idx)
	return p.OwningChunk(c.X, c.Y, c.Z)
}

// ValidChunk проверяет координату чанка.
func (p *Partitioner) ValidChunk(cc ChunkCoord) bool {
	return p.dims.Chunks().Contains(Coord{X: cc.X, Y: cc.Y, Z: cc.Z})
}

// ChunkCount возвращает число чанков в регионе.
func (p *Partitioner) ChunkCount() int {
	return p.dims.Chunks().Len()
}

// Origin возвращает координату первого тайла чанка.
func (p *Partitioner) Origin(cc ChunkCoord) Coord {
	return Coord{X: cc.X, Y: cc.Y, Z: cc.Z}.Mul(p.dims.ChunkSize)
}

// ChunkTiles перечисляет индексы тайлов чанка в локальном порядке (z, y, x).
func (p *Partitioner) ChunkTiles(cc ChunkCoord) iter.Seq[TileIndex] {
	if debugChecks && !p.ValidChunk(cc) {
		panic(fmt.Sprintf("terrain: чанк %s вне региона", cc))
	}
	ext := p.dims.Tiles()
	origin := p.Origin(cc)
	c := p.dims.ChunkSize
	return func(yield func(TileIndex) bool) {
		for z := origin.Z; z < origin.Z+c; z++ {
			for y := origin.Y; y < origin.Y+c; y++ {
				row := ext.ToIndex(origin.X, y, z)
				for dx := 0; dx < c; dx++ {
					if !yield(row + TileIndex(dx)) {
						return
					}
				}
			}
		}
	}
}

// MarkTileDirty помечает грязным чанк, которому принадлежит тайл.
func (p *Partitioner) MarkTileDirty(idx TileIndex) {
	p.MarkChunkDirty(p.ChunkOf(idx))
}

// MarkChunkDirty добавляет чанк в набор; повторная пометка ничего не меняет.
func (p *Partitioner) MarkChunkDirty(cc ChunkCoord) {
	p.mu.Lock()
	p.dirty[cc] = struct{}{}
	p.mu.Unlock()
}

// DrainDirty атомарно забирает и очищает набор грязных чанков.
// Единственная точка передачи диспетчеру перестройки.
func (p *Partitioner) DrainDirty() DirtySet {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.dirty
	p.dirty = make(DirtySet)
	return out
}

// DirtyCount возвращает текущий размер набора.
func (p *Partitioner) DirtyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirty)
}
