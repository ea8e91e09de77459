package vec

import "fmt"

// Vec2 представляет 2D координаты ячейки планеты (локация региона)
type Vec2 struct {
	X, Y int
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// ManhattanTo возвращает манхэттенское расстояние между ячейками
func (v Vec2) ManhattanTo(other Vec2) int {
	return abs(v.X-other.X) + abs(v.Y-other.Y)
}

// Key возвращает строковый ключ "x:y" для хранилищ и кэша
func (v Vec2) Key() string {
	return fmt.Sprintf("%d:%d", v.X, v.Y)
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
