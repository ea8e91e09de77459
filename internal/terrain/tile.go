package terrain

import "fmt"

// TileKind: вариант тайла.
type TileKind uint8

const (
	KindEmpty TileKind = iota
	KindSolid
	KindFloor
	KindWall
	KindRamp
	KindStairs
	KindSemiMoltenRock
	KindWindow
	KindTreeTrunk
	KindTreeFoliage

	numKinds
)

var kindNames = [numKinds]string{
	"Empty", "Solid", "Floor", "Wall", "Ramp", "Stairs",
	"SemiMoltenRock", "Window", "TreeTrunk", "TreeFoliage",
}

func (k TileKind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("TileKind(%d)", uint8(k))
}

// Valid сообщает, известен ли вариант.
func (k TileKind) Valid() bool {
	return k < numKinds
}

// ParseTileKind разбирает имя варианта ("Solid", "Floor", ...).
func ParseTileKind(name string) (TileKind, bool) {
	for i, n := range kindNames {
		if n == name {
			return TileKind(i), true
		}
	}
	return 0, false
}

// Ссылки полезной нагрузки. Это ключи во внешние таблицы, а не владение.
type (
	PlantRef      uint32 // 0: растения нет
	TreeID        uint32
	RampDirection uint32
	StairsKind    uint32
	BiomeRef      uint32
)

const (
	RampNorth RampDirection = iota
	RampSouth
	RampEast
	RampWest
)

const (
	StairsUp StairsKind = iota
	StairsDown
	StairsUpDown
)

// TileType: значение ячейки. Arg хранит полезную нагрузку варианта:
// PlantRef для Floor, RampDirection, StairsKind или TreeID.
// Сравнение структурное: a == b.
type TileType struct {
	Kind TileKind
	Arg  uint32
}

func EmptyTile() TileType          { return TileType{Kind: KindEmpty} }
func SolidTile() TileType          { return TileType{Kind: KindSolid} }
func WallTile() TileType           { return TileType{Kind: KindWall} }
func WindowTile() TileType         { return TileType{Kind: KindWindow} }
func SemiMoltenRockTile() TileType { return TileType{Kind: KindSemiMoltenRock} }

// FloorTile создаёт пол; plant == 0 означает пол без растения.
func FloorTile(plant PlantRef) TileType {
	return TileType{Kind: KindFloor, Arg: uint32(plant)}
}

func RampTile(dir RampDirection) TileType  { return TileType{Kind: KindRamp, Arg: uint32(dir)} }
func StairsTile(kind StairsKind) TileType  { return TileType{Kind: KindStairs, Arg: uint32(kind)} }
func TreeTrunkTile(id TreeID) TileType     { return TileType{Kind: KindTreeTrunk, Arg: uint32(id)} }
func TreeFoliageTile(id TreeID) TileType   { return TileType{Kind: KindTreeFoliage, Arg: uint32(id)} }

// Plant возвращает растение на полу.
func (t TileType) Plant() (PlantRef, bool) {
	if t.Kind != KindFloor || t.Arg == 0 {
		return 0, false
	}
	return PlantRef(t.Arg), true
}

// Tree возвращает дерево, которому принадлежит ствол или крона.
func (t TileType) Tree() (TreeID, bool) {
	if t.Kind != KindTreeTrunk && t.Kind != KindTreeFoliage {
		return 0, false
	}
	return TreeID(t.Arg), true
}

// HasVegetation: пол с растением или крона дерева.
func (t TileType) HasVegetation() bool {
	_, plant := t.Plant()
	return plant || t.Kind == KindTreeFoliage
}

// Valid проверяет вариант и полезную нагрузку.
func (t TileType) Valid() bool {
	switch t.Kind {
	case KindEmpty, KindSolid, KindWall, KindWindow, KindSemiMoltenRock:
		return t.Arg == 0
	case KindRamp:
		return RampDirection(t.Arg) <= RampWest
	case KindStairs:
		return StairsKind(t.Arg) <= StairsUpDown
	case KindFloor, KindTreeTrunk, KindTreeFoliage:
		return true
	default:
		return false
	}
}

// IsSolid: вариант блокирует проход.
func (t TileType) IsSolid() bool {
	switch t.Kind {
	case KindSolid, KindSemiMoltenRock, KindTreeTrunk, KindWall:
		return true
	}
	return false
}

func (t TileType) String() string {
	if t.Arg == 0 {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s{%d}", t.Kind, t.Arg)
}

// Flags: битовая маска тайла. Бит 0: SOLID, остальные зарезервированы.
type Flags uint8

const (
	FlagSolid Flags = 1 << iota
	FlagReserved1
	FlagReserved2
	FlagReserved3
)

// Has проверяет, установлены ли все биты f.
func (f Flags) Has(bits Flags) bool {
	return f&bits == bits
}
