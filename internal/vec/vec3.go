package vec

import "fmt"

// Vec3 представляет трехмерный вектор с целочисленными координатами
type Vec3 struct {
	X int
	Y int
	Z int
}

// Шесть ортогональных направлений в порядке N, S, E, W, Up, Down.
// Север: уменьшение Y, верх: увеличение Z.
var (
	North = Vec3{Y: -1}
	South = Vec3{Y: 1}
	East  = Vec3{X: 1}
	West  = Vec3{X: -1}
	Up    = Vec3{Z: 1}
	Down  = Vec3{Z: -1}
)

// Neighbours6: порядок перечисления соседей; от него зависит разбор ничьих в навигации.
var Neighbours6 = [6]Vec3{North, South, East, West, Up, Down}

// Neighbours4: только горизонтальные соседи.
var Neighbours4 = [4]Vec3{North, South, East, West}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Div делит покомпонентно на положительное c (для неотрицательных координат)
func (v Vec3) Div(c int) Vec3 {
	return Vec3{X: v.X / c, Y: v.Y / c, Z: v.Z / c}
}

// Mul умножает покомпонентно на c
func (v Vec3) Mul(c int) Vec3 {
	return Vec3{X: v.X * c, Y: v.Y * c, Z: v.Z * c}
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}
