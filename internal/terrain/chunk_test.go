package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwningChunk(t *testing.T) {
	p := NewPartitioner(toyDims)
	assert.Equal(t, ChunkCoord{X: 2, Y: 2, Z: 0}, p.OwningChunk(8, 8, 2))
	assert.Equal(t, ChunkCoord{X: 3, Y: 0, Z: 0}, p.OwningChunk(15, 3, 3))
	assert.Equal(t, 16, p.ChunkCount())
}

func TestChunkTilesPartitionRegion(t *testing.T) {
	p := NewPartitioner(toyDims)
	seen := make(map[TileIndex]ChunkCoord)

	chunks := toyDims.Chunks()
	for i := 0; i < chunks.Len(); i++ {
		c := chunks.ToCoord(TileIndex(i))
		cc := ChunkCoord{X: c.X, Y: c.Y, Z: c.Z}
		n := 0
		for idx := range p.ChunkTiles(cc) {
			_, dup := seen[idx]
			assert.False(t, dup, "тайл %d принадлежит двум чанкам", idx)
			seen[idx] = cc
			assert.Equal(t, cc, p.ChunkOf(idx))
			n++
		}
		assert.Equal(t, 64, n)
	}
	assert.Len(t, seen, toyDims.Tiles().Len())
}

func TestChunkTilesEarlyStop(t *testing.T) {
	p := NewPartitioner(toyDims)
	n := 0
	for range p.ChunkTiles(ChunkCoord{X: 1, Y: 1}) {
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestDirtyCoalescing(t *testing.T) {
	p := NewPartitioner(toyDims)
	ext := toyDims.Tiles()

	for x := 8; x < 12; x++ {
		p.MarkTileDirty(ext.ToIndex(x, 9, 1))
	}
	p.MarkChunkDirty(ChunkCoord{X: 2, Y: 2})
	assert.Equal(t, 1, p.DirtyCount(), "повторные пометки одного чанка схлопываются")

	p.MarkTileDirty(ext.ToIndex(0, 0, 0))
	set := p.DrainDirty()
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has(ChunkCoord{X: 2, Y: 2}))
	assert.Equal(t, []ChunkCoord{{}, {X: 2, Y: 2}}, set.Sorted())

	assert.Equal(t, 0, p.DirtyCount())
	assert.Equal(t, 0, p.DrainDirty().Len(), "набор забирается ровно один раз")
}
