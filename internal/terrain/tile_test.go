package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allSampleTiles() []TileType {
	return []TileType{
		EmptyTile(), SolidTile(), FloorTile(0), FloorTile(12), WallTile(),
		RampTile(RampEast), StairsTile(StairsUpDown), SemiMoltenRockTile(),
		WindowTile(), TreeTrunkTile(3), TreeFoliageTile(3),
	}
}

func TestTileSolidity(t *testing.T) {
	solid := map[TileKind]bool{
		KindSolid: true, KindSemiMoltenRock: true, KindWall: true, KindTreeTrunk: true,
	}
	for _, tile := range allSampleTiles() {
		assert.Equal(t, solid[tile.Kind], tile.IsSolid(), "тайл %s", tile)
		assert.True(t, tile.Valid(), "тайл %s должен быть корректным", tile)
	}
}

func TestTileEqualityIsStructural(t *testing.T) {
	assert.Equal(t, FloorTile(5), FloorTile(5))
	assert.NotEqual(t, FloorTile(5), FloorTile(6))
	assert.NotEqual(t, TreeTrunkTile(1), TreeFoliageTile(1))
	assert.True(t, TreeTrunkTile(9) == TreeTrunkTile(9))
}

func TestTilePayload(t *testing.T) {
	p, ok := FloorTile(7).Plant()
	assert.True(t, ok)
	assert.Equal(t, PlantRef(7), p)

	_, ok = FloorTile(0).Plant()
	assert.False(t, ok, "пол без растения")

	id, ok := TreeFoliageTile(42).Tree()
	assert.True(t, ok)
	assert.Equal(t, TreeID(42), id)

	assert.True(t, FloorTile(1).HasVegetation())
	assert.True(t, TreeFoliageTile(1).HasVegetation())
	assert.False(t, TreeTrunkTile(1).HasVegetation())
}

func TestTileValidity(t *testing.T) {
	assert.False(t, TileType{Kind: numKinds}.Valid())
	assert.False(t, TileType{Kind: KindSolid, Arg: 1}.Valid())
	assert.False(t, TileType{Kind: KindRamp, Arg: 99}.Valid())

	k, ok := ParseTileKind("SemiMoltenRock")
	assert.True(t, ok)
	assert.Equal(t, KindSemiMoltenRock, k)
	_, ok = ParseTileKind("Lava")
	assert.False(t, ok)
}
