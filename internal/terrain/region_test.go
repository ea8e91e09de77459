package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToyRegion(t *testing.T) *Region {
	t.Helper()
	r, err := NewRegion(Location{X: 1, Y: 2}, 7, 3, toyDims)
	require.NoError(t, err)
	return r
}

type countingWatcher struct{ n int }

func (w *countingWatcher) Invalidate() { w.n++ }

func TestRecomputeFlagsConsistency(t *testing.T) {
	samples := allSampleTiles()
	tiles := make([]TileType, toyDims.Tiles().Len())
	for i := range tiles {
		tiles[i] = samples[i%len(samples)]
	}
	r, err := FromGenerated(Location{}, 0, 0, toyDims, tiles)
	require.NoError(t, err)

	for i := range tiles {
		idx := TileIndex(i)
		assert.Equal(t, r.Get(idx).IsSolid(), r.IsSolid(idx), "тайл %d (%s)", i, r.Get(idx))
	}
}

func TestRecomputeTileFlagsKeepsReservedBits(t *testing.T) {
	r := newToyRegion(t)
	r.SetFlags(5, FlagReserved2)
	r.Set(5, WallTile())
	r.RecomputeTileFlags(5)
	assert.Equal(t, FlagSolid|FlagReserved2, r.Flags(5))

	r.Set(5, EmptyTile())
	r.RecomputeTileFlags(5)
	assert.Equal(t, FlagReserved2, r.Flags(5))
}

func TestSetDoesNotTouchFlagsOrDirty(t *testing.T) {
	r := newToyRegion(t)
	idx := r.Extent().ToIndex(3, 3, 0)
	r.Set(idx, SolidTile())
	assert.False(t, r.IsSolid(idx))
	assert.Equal(t, 0, r.Chunks().DirtyCount())
}

func TestFromGeneratedDimsMismatch(t *testing.T) {
	_, err := FromGenerated(Location{}, 0, 0, toyDims, make([]TileType, 10))
	assert.ErrorIs(t, err, ErrDimsMismatch)
}

func TestAvailableExitsOrderAndBounds(t *testing.T) {
	r := newToyRegion(t)
	ext := r.Extent()

	center := ext.ToIndex(5, 5, 1)
	assert.Equal(t, []TileIndex{
		ext.ToIndex(5, 4, 1), // N
		ext.ToIndex(5, 6, 1), // S
		ext.ToIndex(6, 5, 1), // E
		ext.ToIndex(4, 5, 1), // W
		ext.ToIndex(5, 5, 2), // Up
		ext.ToIndex(5, 5, 0), // Down
	}, r.AvailableExits(center))

	corner := ext.ToIndex(0, 0, 0)
	assert.Equal(t, []TileIndex{
		ext.ToIndex(0, 1, 0),
		ext.ToIndex(1, 0, 0),
		ext.ToIndex(0, 0, 1),
	}, r.AvailableExits(corner), "соседи за границей пропускаются без паники")

	top := ext.ToIndex(15, 15, 3)
	assert.Len(t, r.AvailableExits(top), 3)
	assert.Len(t, r.AvailablePlanarExits(center), 4)
}

func TestAvailableExitsSkipSolid(t *testing.T) {
	r := newToyRegion(t)
	ext := r.Extent()
	wall := ext.ToIndex(6, 5, 1)
	r.Set(wall, WallTile())
	r.RecomputeTileFlags(wall)

	exits := r.AvailableExits(ext.ToIndex(5, 5, 1))
	assert.NotContains(t, exits, wall)
	assert.Len(t, exits, 5)
}

func TestExportRestoreVerbatim(t *testing.T) {
	r := newToyRegion(t)
	r.Set(10, FloorTile(4))
	r.SetFlags(10, FlagReserved1) // флаги сохраняются как есть, без пересчёта
	r.Invalidate()

	data := r.Export()
	restored, err := Restore(data)
	require.NoError(t, err)

	assert.Equal(t, r.Location(), restored.Location())
	assert.Equal(t, 7, restored.WorldIndex())
	assert.Equal(t, BiomeRef(3), restored.Biome())
	assert.Equal(t, uint64(1), restored.Version())
	assert.Equal(t, FloorTile(4), restored.Get(10))
	assert.Equal(t, FlagReserved1, restored.Flags(10))

	data.Flags = data.Flags[:3]
	_, err = Restore(data)
	assert.ErrorIs(t, err, ErrDimsMismatch)
}

func TestRestoreRejectsInvalidTiles(t *testing.T) {
	for _, bad := range []TileType{
		{Kind: numKinds},
		{Kind: KindRamp, Arg: 99},
		{Kind: KindWall, Arg: 1},
	} {
		data := newToyRegion(t).Export()
		data.Tiles[5] = bad
		_, err := Restore(data)
		assert.ErrorIs(t, err, ErrInvalidTile, bad.String())
	}
}

func TestWatchersNotifiedOnInvalidate(t *testing.T) {
	r := newToyRegion(t)
	w := &countingWatcher{}
	cancel := r.AddWatcher(w)
	assert.Equal(t, 1, r.WatcherCount())

	assert.Equal(t, uint64(1), r.Invalidate())
	assert.Equal(t, 1, w.n)

	cancel()
	cancel()
	r.Invalidate()
	assert.Equal(t, 1, w.n, "после отписки уведомлений нет")
	assert.Equal(t, 0, r.WatcherCount())
}

func TestSnapshotChunkIsCopy(t *testing.T) {
	r := newToyRegion(t)
	ext := r.Extent()
	idx := ext.ToIndex(9, 8, 2)
	r.Set(idx, SolidTile())
	r.RecomputeTileFlags(idx)

	cc := r.Chunks().ChunkOf(idx)
	snap := r.SnapshotChunk(cc)
	assert.Equal(t, ChunkID{Region: r.Location(), Chunk: ChunkCoord{X: 2, Y: 2, Z: 0}}, snap.ID)
	assert.Len(t, snap.Tiles, 64)

	tile, flags := snap.At(1, 0, 2)
	assert.Equal(t, SolidTile(), tile)
	assert.True(t, flags.Has(FlagSolid))

	r.Set(idx, EmptyTile())
	tile, _ = snap.At(1, 0, 2)
	assert.Equal(t, SolidTile(), tile, "снимок не видит последующих изменений")
}
