package navigation

import "github.com/annel0/voxel-terrain/internal/terrain"

// GoalSet задаёт источники поля расстояний.
// Goals вызывается под блокировкой чтения региона.
type GoalSet interface {
	Goals(r *terrain.Region) []terrain.TileIndex
}

// GoalTiles: явный список целевых тайлов. Индексы вне региона игнорируются.
type GoalTiles []terrain.TileIndex

func (g GoalTiles) Goals(r *terrain.Region) []terrain.TileIndex {
	out := make([]terrain.TileIndex, 0, len(g))
	for _, idx := range g {
		if r.ValidIndex(idx) {
			out = append(out, idx)
		}
	}
	return out
}

// BorderExits: проходимые тайлы на боковой границе региона:
// через них агент уходит в соседнюю ячейку планеты.
// Level >= 0 ограничивает поиск одним z-слоем.
type BorderExits struct {
	Level int
}

// AllLevels: BorderExits по всем z-слоям.
var AllLevels = BorderExits{Level: -1}

func (b BorderExits) Goals(r *terrain.Region) []terrain.TileIndex {
	ext := r.Extent()
	zFrom, zTo := 0, ext.D
	if b.Level >= 0 {
		if b.Level >= ext.D {
			return nil
		}
		zFrom, zTo = b.Level, b.Level+1
	}

	var out []terrain.TileIndex
	add := func(x, y, z int) {
		idx := ext.ToIndex(x, y, z)
		if !r.IsSolid(idx) {
			out = append(out, idx)
		}
	}
	for z := zFrom; z < zTo; z++ {
		for x := 0; x < ext.W; x++ {
			add(x, 0, z)
			if ext.H > 1 {
				add(x, ext.H-1, z)
			}
		}
		for y := 1; y < ext.H-1; y++ {
			add(0, y, z)
			if ext.W > 1 {
				add(ext.W-1, y, z)
			}
		}
	}
	return out
}

// GoalFunc выбирает цели предикатом по всем тайлам региона.
type GoalFunc func(idx terrain.TileIndex, t terrain.TileType, f terrain.Flags) bool

func (fn GoalFunc) Goals(r *terrain.Region) []terrain.TileIndex {
	var out []terrain.TileIndex
	n := r.Extent().Len()
	for i := 0; i < n; i++ {
		idx := terrain.TileIndex(i)
		if fn(idx, r.Get(idx), r.Flags(idx)) {
			out = append(out, idx)
		}
	}
	return out
}

// TilesOfKind: цели по виду тайла (например, все лестницы).
func TilesOfKind(kind terrain.TileKind) GoalFunc {
	return func(_ terrain.TileIndex, t terrain.TileType, _ terrain.Flags) bool {
		return t.Kind == kind
	}
}
