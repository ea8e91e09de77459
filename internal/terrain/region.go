package terrain

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Watcher получает уведомление о любом изменении тайлов региона.
// Invalidate вызывается под блокировкой записи региона и не должен
// обращаться к региону.
type Watcher interface {
	Invalidate()
}

// Region: плотная 3D-сетка тайлов одной ячейки планеты.
//
// Mu защищает тайлы и флаги. Писатель один: коммит пакета изменений;
// читатели (снимки чанков, навигация, сохранение) берут RLock.
// Get/Set/Flags/AvailableExits блокировку не берут: её держит вызывающий.
type Region struct {
	Mu sync.RWMutex

	location   Location
	worldIndex int
	biome      BiomeRef
	dims       Dims
	ext        Extent

	tiles []TileType
	flags []Flags

	chunks  *Partitioner
	version atomic.Uint64

	watchersMu  sync.Mutex
	watchers    map[uint64]Watcher
	nextWatcher uint64
}

func newRegion(loc Location, worldIndex int, biome BiomeRef, dims Dims) *Region {
	n := dims.Tiles().Len()
	return &Region{
		location:   loc,
		worldIndex: worldIndex,
		biome:      biome,
		dims:       dims,
		ext:        dims.Tiles(),
		tiles:      make([]TileType, n),
		flags:      make([]Flags, n),
		chunks:     NewPartitioner(dims),
		watchers:   make(map[uint64]Watcher),
	}
}

// NewRegion создаёт регион, заполненный Empty.
func NewRegion(loc Location, worldIndex int, biome BiomeRef, dims Dims) (*Region, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	return newRegion(loc, worldIndex, biome, dims), nil
}

// FromGenerated строит регион из выхода генератора и пересчитывает флаги.
// Срез tiles копируется.
func FromGenerated(loc Location, worldIndex int, biome BiomeRef, dims Dims, tiles []TileType) (*Region, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if len(tiles) != dims.Tiles().Len() {
		return nil, fmt.Errorf("%w: %d тайлов, ожидалось %d", ErrDimsMismatch, len(tiles), dims.Tiles().Len())
	}
	r := newRegion(loc, worldIndex, biome, dims)
	copy(r.tiles, tiles)
	r.RecomputeFlags()
	return r, nil
}

// RegionData: сохраняемое представление региона: массивы тайлов и флагов как есть
// плюс идентифицирующие метаданные.
type RegionData struct {
	Location   Location
	WorldIndex int
	Biome      BiomeRef
	Dims       Dims
	Version    uint64
	Tiles      []TileType
	Flags      []Flags
}

// Restore восстанавливает регион из сохранённых данных без пересчёта флагов.
func Restore(data RegionData) (*Region, error) {
	if err := data.Dims.Validate(); err != nil {
		return nil, err
	}
	n := data.Dims.Tiles().Len()
	if len(data.Tiles) != n || len(data.Flags) != n {
		return nil, fmt.Errorf("%w: тайлов %d, флагов %d, ожидалось %d",
			ErrDimsMismatch, len(data.Tiles), len(data.Flags), n)
	}
	for i, t := range data.Tiles {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %s в тайле %d", ErrInvalidTile, t, i)
		}
	}
	r := newRegion(data.Location, data.WorldIndex, data.Biome, data.Dims)
	copy(r.tiles, data.Tiles)
	copy(r.flags, data.Flags)
	r.version.Store(data.Version)
	return r, nil
}

// Export копирует состояние региона под блокировкой чтения.
func (r *Region) Export() RegionData {
	r.Mu.RLock()
	defer r.Mu.RUnlock()
	return RegionData{
		Location:   r.location,
		WorldIndex: r.worldIndex,
		Biome:      r.biome,
		Dims:       r.dims,
		Version:    r.version.Load(),
		Tiles:      append([]TileType(nil), r.tiles...),
		Flags:      append([]Flags(nil), r.flags...),
	}
}

func (r *Region) Location() Location  { return r.location }
func (r *Region) WorldIndex() int     { return r.worldIndex }
func (r *Region) Biome() BiomeRef     { return r.biome }
func (r *Region) Dims() Dims          { return r.dims }
func (r *Region) Extent() Extent      { return r.ext }
func (r *Region) Chunks() *Partitioner { return r.chunks }

// Version: число применённых коммитов.
func (r *Region) Version() uint64 {
	return r.version.Load()
}

// ValidIndex проверяет индекс тайла.
func (r *Region) ValidIndex(idx TileIndex) bool {
	return r.ext.ValidIndex(idx)
}

func (r *Region) check(idx TileIndex) {
	if debugChecks && !r.ext.ValidIndex(idx) {
		panic(fmt.Sprintf("terrain: индекс %d вне региона %s", idx, r.location))
	}
}

// Get возвращает тайл.
func (r *Region) Get(idx TileIndex) TileType {
	r.check(idx)
	return r.tiles[idx]
}

// Set записывает тайл. Флаги и грязные чанки не трогает: правки
// идут через конвейер пакетов.
func (r *Region) Set(idx TileIndex, t TileType) {
	r.check(idx)
	r.tiles[idx] = t
}

// Flags возвращает флаги тайла.
func (r *Region) Flags(idx TileIndex) Flags {
	r.check(idx)
	return r.flags[idx]
}

// SetFlags записывает флаги тайла целиком.
func (r *Region) SetFlags(idx TileIndex, f Flags) {
	r.check(idx)
	r.flags[idx] = f
}

// IsSolid проверяет бит SOLID.
func (r *Region) IsSolid(idx TileIndex) bool {
	r.check(idx)
	return r.flags[idx]&FlagSolid != 0
}

// RecomputeFlags: полный проход классификации твёрдости.
// Вызывается после массовой генерации, не после точечных правок.
func (r *Region) RecomputeFlags() {
	for i, t := range r.tiles {
		r.flags[i] = solidBit(r.flags[i], t)
	}
}

// RecomputeTileFlags пересчитывает SOLID одного тайла, сохраняя прочие биты.
func (r *Region) RecomputeTileFlags(idx TileIndex) {
	r.check(idx)
	r.flags[idx] = solidBit(r.flags[idx], r.tiles[idx])
}

func solidBit(f Flags, t TileType) Flags {
	if t.IsSolid() {
		return f | FlagSolid
	}
	return f &^ FlagSolid
}

// AvailableExits возвращает проходимых соседей в порядке N, S, E, W, Up, Down.
// Соседи за границей региона пропускаются.
func (r *Region) AvailableExits(idx TileIndex) []TileIndex {
	return r.AppendExits(make([]TileIndex, 0, 6), idx, false)
}

// AvailablePlanarExits: то же, но только горизонтальные соседи N, S, E, W.
func (r *Region) AvailablePlanarExits(idx TileIndex) []TileIndex {
	return r.AppendExits(make([]TileIndex, 0, 4), idx, true)
}

// AppendExits дописывает выходы в dst без лишних аллокаций.
func (r *Region) AppendExits(dst []TileIndex, idx TileIndex, planar bool) []TileIndex {
	from := r.ext.ToCoord(idx)
	dirs := vec.Neighbours6[:]
	if planar {
		dirs = vec.Neighbours4[:]
	}
	for _, d := range dirs {
		n := from.Add(d)
		if !r.ext.Contains(n) {
			continue
		}
		ni := r.ext.IndexOf(n)
		if r.flags[ni]&FlagSolid != 0 {
			continue
		}
		dst = append(dst, ni)
	}
	return dst
}

// AddWatcher подписывает w на изменения региона. Возвращает функцию отписки.
func (r *Region) AddWatcher(w Watcher) (cancel func()) {
	r.watchersMu.Lock()
	id := r.nextWatcher
	r.nextWatcher++
	r.watchers[id] = w
	r.watchersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.watchersMu.Lock()
			delete(r.watchers, id)
			r.watchersMu.Unlock()
		})
	}
}

// WatcherCount возвращает число подписчиков.
func (r *Region) WatcherCount() int {
	r.watchersMu.Lock()
	defer r.watchersMu.Unlock()
	return len(r.watchers)
}

// Invalidate увеличивает версию региона и уведомляет всех подписчиков.
// Вызывается коммитом под r.Mu.Lock, до снятия блокировки.
func (r *Region) Invalidate() uint64 {
	v := r.version.Add(1)
	r.watchersMu.Lock()
	defer r.watchersMu.Unlock()
	for _, w := range r.watchers {
		w.Invalidate()
	}
	return v
}
