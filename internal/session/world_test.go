package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/pipeline"
	"github.com/annel0/voxel-terrain/internal/rebuild"
	"github.com/annel0/voxel-terrain/internal/registry"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

var toyDims = terrain.Dims{Width: 16, Height: 16, Depth: 4, ChunkSize: 4}

type memorySink struct {
	mu    sync.Mutex
	saved map[terrain.Location]terrain.RegionData
}

func (s *memorySink) SaveRegion(_ context.Context, data terrain.RegionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[terrain.Location]terrain.RegionData)
	}
	s.saved[data.Location] = data
	return nil
}

func (s *memorySink) get(loc terrain.Location) (terrain.RegionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.saved[loc]
	return d, ok
}

type eventLog struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (l *eventLog) handle(_ context.Context, ev *eventbus.Envelope) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func newTestWorld(t *testing.T) (*World, *memorySink, *eventLog) {
	t.Helper()
	sink := &memorySink{}
	w, err := New(context.Background(), Options{
		Dims:     toyDims,
		Rebuild:  rebuild.Options{Workers: 2, QueueSize: 4, ResultsBuffer: 4},
		Provider: storage.NewProvider(nil, storage.FlatGenerator{Surface: 1}),
		Sink:     sink,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })

	events := &eventLog{}
	_, err = w.Bus().Subscribe(context.Background(), eventbus.Filter{}, events.handle)
	require.NoError(t, err)
	return w, sink, events
}

func TestSpawnBuildsAllChunks(t *testing.T) {
	w, _, events := newTestWorld(t)
	loc := terrain.Location{X: 1, Y: 1}

	_, created, err := w.Spawn(context.Background(), loc, registry.Required)
	require.NoError(t, err)
	require.True(t, created)

	chunks := toyDims.Chunks().Len()
	require.Eventually(t, func() bool { return w.Geometry().Len() == chunks }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return events.count(eventbus.TypeChunkRebuilt) == chunks }, 5*time.Second, 10*time.Millisecond)

	res, ok := w.Geometry().Get(terrain.ChunkID{Region: loc, Chunk: terrain.ChunkCoord{}})
	require.True(t, ok)
	census, ok := res.Geometry.(rebuild.Census)
	require.True(t, ok)
	assert.Equal(t, 16, census.Solid, "нижний слой чанка (z=0): порода")
}

func TestPeekRegionBuiltOnlyOnceRequired(t *testing.T) {
	w, _, events := newTestWorld(t)
	ctx := context.Background()
	loc := terrain.Location{X: 2, Y: 7}

	region, created, err := w.Spawn(ctx, loc, registry.Peek)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, 0, w.Dispatcher().Pending(loc), "Peek не строит геометрию")
	assert.Equal(t, 0, w.Geometry().Len())

	b := pipeline.NewBatch(loc)
	require.NoError(t, b.Enqueue(pipeline.SetTile{Index: region.Extent().ToIndex(8, 8, 2), Tile: terrain.WallTile()}))
	_, err = w.Submit(ctx, b)
	assert.ErrorIs(t, err, registry.ErrRegionReadOnly)
	assert.Equal(t, uint64(0), region.Version())

	require.True(t, w.Acquire(loc, registry.Required))
	chunks := toyDims.Chunks().Len()
	require.Eventually(t, func() bool { return w.Geometry().Len() == chunks }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return events.count(eventbus.TypeChunkRebuilt) == chunks }, 5*time.Second, 10*time.Millisecond)

	b = pipeline.NewBatch(loc)
	require.NoError(t, b.Enqueue(pipeline.SetTile{Index: region.Extent().ToIndex(8, 8, 2), Tile: terrain.WallTile()}))
	_, err = w.Submit(ctx, b)
	require.NoError(t, err)
}

func TestResultFromReplacedInstanceDropped(t *testing.T) {
	w, _, _ := newTestWorld(t)
	ctx := context.Background()
	loc := terrain.Location{X: 6, Y: 1}

	old, _, err := w.Spawn(ctx, loc, registry.Required)
	require.NoError(t, err)

	d := rebuild.NewDispatcher(rebuild.CensusBuilder{}, rebuild.Options{ResultsBuffer: 1})
	d.Start(ctx)
	defer func() { _ = d.Stop() }()
	lease, ok := w.Registry().Lease(old)
	require.True(t, ok)
	id := terrain.ChunkID{Region: loc, Chunk: terrain.ChunkCoord{X: 1}}
	require.True(t, d.Schedule(id, lease))
	var res rebuild.Result
	select {
	case res = <-d.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("результат перестройки не пришёл")
	}

	require.True(t, w.Release(loc, registry.Required))
	require.Eventually(t, func() bool { return w.Evict(ctx, loc) == nil }, 5*time.Second, 10*time.Millisecond)
	fresh, created, err := w.Spawn(ctx, loc, registry.Peek)
	require.NoError(t, err)
	require.True(t, created)
	require.NotSame(t, old, fresh)

	assert.False(t, w.storeResult(res), "геометрия старого экземпляра не применяется к новому")
	_, ok = w.Geometry().Get(id)
	assert.False(t, ok)
}

func TestSubmitRebuildsDirtyChunk(t *testing.T) {
	w, _, events := newTestWorld(t)
	ctx := context.Background()
	loc := terrain.Location{X: 0, Y: 0}

	region, _, err := w.Spawn(ctx, loc, registry.Required)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return w.Dispatcher().Pending(loc) == 0 }, 5*time.Second, 10*time.Millisecond)

	idx := region.Extent().ToIndex(8, 8, 2)
	b := pipeline.NewBatch(loc)
	require.NoError(t, b.Enqueue(pipeline.SetTile{Index: idx, Tile: terrain.WallTile()}))
	res, err := w.Submit(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []terrain.ChunkCoord{{X: 2, Y: 2, Z: 0}}, res.Dirty)

	id := terrain.ChunkID{Region: loc, Chunk: terrain.ChunkCoord{X: 2, Y: 2, Z: 0}}
	require.Eventually(t, func() bool {
		got, ok := w.Geometry().Get(id)
		return ok && got.Version == res.Version
	}, 5*time.Second, 10*time.Millisecond)
	got, _ := w.Geometry().Get(id)
	assert.Equal(t, 1, got.Geometry.(rebuild.Census).Kinds[terrain.KindWall])
	assert.Eventually(t, func() bool { return events.count(eventbus.TypeTerrainCommitted) == 1 }, time.Second, 10*time.Millisecond)
}

func TestEvictPersistsAndForgets(t *testing.T) {
	w, sink, events := newTestWorld(t)
	ctx := context.Background()
	loc := terrain.Location{X: 3, Y: 2}

	_, _, err := w.Spawn(ctx, loc, registry.Peek)
	require.NoError(t, err)
	_, err = w.FlowMap(loc, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Evict(ctx, loc), registry.ErrRegionInUse, "намерение peek ещё держит регион")
	require.True(t, w.Release(loc, registry.Peek))

	require.Eventually(t, func() bool { return w.Evict(ctx, loc) == nil }, 5*time.Second, 10*time.Millisecond,
		"после завершения перестроек регион выгружается")

	_, ok := sink.get(loc)
	assert.True(t, ok, "регион сохранён перед выгрузкой")
	assert.Equal(t, 0, w.Geometry().DropRegion(loc), "геометрия уже удалена")
	assert.Eventually(t, func() bool { return events.count(eventbus.TypeRegionEvicted) == 1 }, time.Second, 10*time.Millisecond)

	_, err = w.FlowMap(loc, 0)
	assert.ErrorIs(t, err, pipeline.ErrRegionNotFound)
}

func TestFlowMapCachedPerRegionInstance(t *testing.T) {
	w, _, _ := newTestWorld(t)
	ctx := context.Background()
	loc := terrain.Location{X: 5, Y: 5}

	region, _, err := w.Spawn(ctx, loc, registry.Required)
	require.NoError(t, err)

	fm1, err := w.FlowMap(loc, 1)
	require.NoError(t, err)
	fm2, err := w.FlowMap(loc, 1)
	require.NoError(t, err)
	assert.Same(t, fm1, fm2)

	ext := region.Extent()
	next, ok, err := fm1.FindLowestCostExit(ctx, ext.ToIndex(1, 8, 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ext.ToIndex(0, 8, 1), next, "ближайший выход: западная граница")
}

func TestCloseSavesResidentRegions(t *testing.T) {
	w, sink, _ := newTestWorld(t)
	loc := terrain.Location{X: 7, Y: 7}
	_, _, err := w.Spawn(context.Background(), loc, registry.Required)
	require.NoError(t, err)

	require.NoError(t, w.Close(context.Background()))
	_, ok := sink.get(loc)
	assert.True(t, ok)
	assert.NoError(t, w.Close(context.Background()), "повторное закрытие")
}
