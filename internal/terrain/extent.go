package terrain

import (
	"errors"
	"fmt"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Coord: координата тайла внутри региона.
type Coord = vec.Vec3

// Location: ключ ячейки планеты, которой соответствует регион.
type Location = vec.Vec2

// TileIndex: плоское смещение тайла: z*H*W + y*W + x.
type TileIndex int

var (
	// ErrDimsMismatch возвращается, когда массив тайлов не совпадает с размерами мира.
	ErrDimsMismatch = errors.New("размеры данных не совпадают с размерами мира")
	// ErrInvalidDims: размеры мира не кратны ребру чанка или не положительны.
	ErrInvalidDims = errors.New("некорректные размеры мира")
	// ErrInvalidTile: вариант тайла неизвестен или его нагрузка вне диапазона.
	ErrInvalidTile = errors.New("недопустимый тайл")
)

// Extent описывает прямоугольный объём W×H×D и его плоскую нумерацию.
// Одна и та же формула используется для тайлов региона, сетки чанков
// и локального пространства чанка.
type Extent struct {
	W, H, D int
}

// Len возвращает количество ячеек.
func (e Extent) Len() int {
	return e.W * e.H * e.D
}

// Contains проверяет, лежит ли координата внутри объёма.
func (e Extent) Contains(c Coord) bool {
	return c.X >= 0 && c.X < e.W &&
		c.Y >= 0 && c.Y < e.H &&
		c.Z >= 0 && c.Z < e.D
}

// ValidIndex проверяет плоский индекс.
func (e Extent) ValidIndex(idx TileIndex) bool {
	return idx >= 0 && int(idx) < e.Len()
}

// ToIndex переводит координату в плоский индекс.
func (e Extent) ToIndex(x, y, z int) TileIndex {
	if debugChecks && !e.Contains(Coord{X: x, Y: y, Z: z}) {
		panic(fmt.Sprintf("terrain: координата (%d,%d,%d) вне %dx%dx%d", x, y, z, e.W, e.H, e.D))
	}
	return TileIndex(z*e.H*e.W + y*e.W + x)
}

// IndexOf: ToIndex для Coord.
func (e Extent) IndexOf(c Coord) TileIndex {
	return e.ToIndex(c.X, c.Y, c.Z)
}

// ToCoord: обратное к ToIndex.
func (e Extent) ToCoord(idx TileIndex) Coord {
	if debugChecks && !e.ValidIndex(idx) {
		panic(fmt.Sprintf("terrain: индекс %d вне [0,%d)", idx, e.Len()))
	}
	i := int(idx)
	plane := e.W * e.H
	z := i / plane
	i -= z * plane
	return Coord{X: i % e.W, Y: i / e.W, Z: z}
}

// Dims: размеры региона и ребро чанка. Одинаковы для всей сессии мира.
type Dims struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	Depth     int `json:"depth"`
	ChunkSize int `json:"chunk_size"`
}

// DefaultDims: размеры региона по умолчанию.
var DefaultDims = Dims{Width: 256, Height: 256, Depth: 128, ChunkSize: 32}

// Validate проверяет, что каждая сторона кратна ребру чанка.
func (d Dims) Validate() error {
	if d.ChunkSize <= 0 || d.Width <= 0 || d.Height <= 0 || d.Depth <= 0 {
		return fmt.Errorf("%w: %dx%dx%d, чанк %d", ErrInvalidDims, d.Width, d.Height, d.Depth, d.ChunkSize)
	}
	if d.Width%d.ChunkSize != 0 || d.Height%d.ChunkSize != 0 || d.Depth%d.ChunkSize != 0 {
		return fmt.Errorf("%w: %dx%dx%d не кратно %d", ErrInvalidDims, d.Width, d.Height, d.Depth, d.ChunkSize)
	}
	return nil
}

// Tiles: пространство тайлов региона.
func (d Dims) Tiles() Extent {
	return Extent{W: d.Width, H: d.Height, D: d.Depth}
}

// Chunks: сетка чанков региона.
func (d Dims) Chunks() Extent {
	return Extent{W: d.Width / d.ChunkSize, H: d.Height / d.ChunkSize, D: d.Depth / d.ChunkSize}
}

// Local: пространство тайлов одного чанка.
func (d Dims) Local() Extent {
	return Extent{W: d.ChunkSize, H: d.ChunkSize, D: d.ChunkSize}
}
