package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var toyDims = Dims{Width: 16, Height: 16, Depth: 4, ChunkSize: 4}

func TestExtentBijection(t *testing.T) {
	for _, ext := range []Extent{toyDims.Tiles(), toyDims.Chunks(), toyDims.Local(), {W: 3, H: 5, D: 7}} {
		for z := 0; z < ext.D; z++ {
			for y := 0; y < ext.H; y++ {
				for x := 0; x < ext.W; x++ {
					idx := ext.ToIndex(x, y, z)
					require.True(t, ext.ValidIndex(idx))
					assert.Equal(t, Coord{X: x, Y: y, Z: z}, ext.ToCoord(idx))
				}
			}
		}
		for i := 0; i < ext.Len(); i++ {
			c := ext.ToCoord(TileIndex(i))
			assert.Equal(t, TileIndex(i), ext.IndexOf(c), "индекс должен совпадать после обратного преобразования")
		}
	}
}

func TestExtentLayout(t *testing.T) {
	ext := toyDims.Tiles()
	assert.Equal(t, TileIndex(0), ext.ToIndex(0, 0, 0))
	assert.Equal(t, TileIndex(1), ext.ToIndex(1, 0, 0))
	assert.Equal(t, TileIndex(16), ext.ToIndex(0, 1, 0))
	assert.Equal(t, TileIndex(256), ext.ToIndex(0, 0, 1))
	assert.Equal(t, TileIndex(2*256+8*16+8), ext.ToIndex(8, 8, 2))
	assert.Equal(t, 1024, ext.Len())
}

func TestExtentContains(t *testing.T) {
	ext := Extent{W: 2, H: 2, D: 2}
	assert.True(t, ext.Contains(Coord{X: 1, Y: 1, Z: 1}))
	assert.False(t, ext.Contains(Coord{X: -1}))
	assert.False(t, ext.Contains(Coord{Z: 2}))
	assert.False(t, ext.ValidIndex(8))
	assert.False(t, ext.ValidIndex(-1))
}

func TestDimsValidate(t *testing.T) {
	assert.NoError(t, toyDims.Validate())
	assert.NoError(t, DefaultDims.Validate())
	assert.ErrorIs(t, Dims{Width: 18, Height: 16, Depth: 4, ChunkSize: 4}.Validate(), ErrInvalidDims)
	assert.ErrorIs(t, Dims{Width: 16, Height: 16, Depth: 4}.Validate(), ErrInvalidDims)
	assert.Equal(t, Extent{W: 4, H: 4, D: 1}, toyDims.Chunks())
}
