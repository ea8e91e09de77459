package rebuild

import (
	"context"

	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// Census: сводка содержимого чанка. Демон использует её вместо меша:
// построение вершин: забота внешнего рендера.
type Census struct {
	Solid      int                      `json:"solid"`
	Open       int                      `json:"open"`
	Vegetation int                      `json:"vegetation"`
	Kinds      map[terrain.TileKind]int `json:"kinds"`
	// Exposed: твёрдые тайлы хотя бы с одной открытой гранью внутри чанка.
	Exposed int `json:"exposed"`
}

// Empty сообщает, что в чанке нечего рисовать.
func (c Census) Empty() bool {
	return c.Solid == 0 && c.Vegetation == 0
}

// CensusBuilder считает тайлы снимка по видам.
type CensusBuilder struct{}

func (CensusBuilder) Build(ctx context.Context, snap *terrain.ChunkSnapshot) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := Census{Kinds: make(map[terrain.TileKind]int)}
	local := snap.Local()
	for i, t := range snap.Tiles {
		c.Kinds[t.Kind]++
		if t.HasVegetation() {
			c.Vegetation++
		}
		if !snap.Flags[i].Has(terrain.FlagSolid) {
			c.Open++
			continue
		}
		c.Solid++
		if exposed(snap, local, terrain.TileIndex(i)) {
			c.Exposed++
		}
	}
	return c, nil
}

// exposed: грани на границе чанка считаются закрытыми, соседние чанки
// в снимок не входят.
func exposed(snap *terrain.ChunkSnapshot, local terrain.Extent, i terrain.TileIndex) bool {
	at := local.ToCoord(i)
	for _, d := range vec.Neighbours6 {
		n := at.Add(d)
		if !local.Contains(n) {
			continue
		}
		if !snap.Flags[local.IndexOf(n)].Has(terrain.FlagSolid) {
			return true
		}
	}
	return false
}
