package rebuild

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

var toyDims = terrain.Dims{Width: 16, Height: 16, Depth: 4, ChunkSize: 4}

type fakeSource struct {
	region   *terrain.Region
	live     atomic.Bool
	released atomic.Int32
}

func newSource(r *terrain.Region) *fakeSource {
	s := &fakeSource{region: r}
	s.live.Store(true)
	return s
}

func (s *fakeSource) Snapshot(cc terrain.ChunkCoord) terrain.ChunkSnapshot {
	return s.region.SnapshotChunk(cc)
}
func (s *fakeSource) Live() bool { return s.live.Load() }
func (s *fakeSource) Release()   { s.released.Add(1) }

// gatedBuilder блокирует построение до закрытия gate и следит,
// чтобы один чанк не строился параллельно.
type gatedBuilder struct {
	started chan terrain.ChunkID
	gate    chan struct{}

	mu       sync.Mutex
	inflight map[terrain.ChunkID]bool
	overlap  atomic.Bool
}

func newGatedBuilder() *gatedBuilder {
	return &gatedBuilder{
		started:  make(chan terrain.ChunkID, 64),
		gate:     make(chan struct{}),
		inflight: make(map[terrain.ChunkID]bool),
	}
}

func (b *gatedBuilder) Build(ctx context.Context, snap *terrain.ChunkSnapshot) (any, error) {
	b.mu.Lock()
	if b.inflight[snap.ID] {
		b.overlap.Store(true)
	}
	b.inflight[snap.ID] = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, snap.ID)
		b.mu.Unlock()
	}()

	b.started <- snap.ID
	select {
	case <-b.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return snap.Tiles[0], nil
}

func newRegion(t *testing.T, loc terrain.Location) *terrain.Region {
	t.Helper()
	r, err := terrain.NewRegion(loc, 0, 0, toyDims)
	require.NoError(t, err)
	return r
}

// commit имитирует коммит: правка под блокировкой записи и новая версия.
func commit(r *terrain.Region, idx terrain.TileIndex, tile terrain.TileType) {
	r.Mu.Lock()
	r.Set(idx, tile)
	r.RecomputeTileFlags(idx)
	r.Invalidate()
	r.Mu.Unlock()
}

func nextResult(t *testing.T, d *Dispatcher) Result {
	t.Helper()
	select {
	case res := <-d.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("результат перестройки не пришёл")
		return Result{}
	}
}

func assertNoResult(t *testing.T, d *Dispatcher) {
	t.Helper()
	select {
	case res := <-d.Results():
		t.Fatalf("неожиданный результат %v", res.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitStarted(t *testing.T, b *gatedBuilder) terrain.ChunkID {
	t.Helper()
	select {
	case id := <-b.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("построение не началось")
		return terrain.ChunkID{}
	}
}

func startDispatcher(t *testing.T, b Builder, opts Options) *Dispatcher {
	t.Helper()
	d := NewDispatcher(b, opts)
	d.Start(context.Background())
	t.Cleanup(func() { _ = d.Stop() })
	return d
}

func TestScheduleDeliversCensus(t *testing.T) {
	region := newRegion(t, terrain.Location{X: 1})
	ext := region.Extent()
	commit(region, ext.ToIndex(1, 1, 1), terrain.SolidTile())
	commit(region, ext.ToIndex(2, 1, 1), terrain.FloorTile(3))

	d := startDispatcher(t, CensusBuilder{}, Options{Workers: 2, QueueSize: 4, ResultsBuffer: 4})
	src := newSource(region)
	id := terrain.ChunkID{Region: region.Location(), Chunk: terrain.ChunkCoord{}}
	assert.True(t, d.Schedule(id, src))

	res := nextResult(t, d)
	require.NoError(t, res.Err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, uint64(2), res.Version)

	c, ok := res.Geometry.(Census)
	require.True(t, ok)
	assert.Equal(t, 1, c.Solid)
	assert.Equal(t, 1, c.Exposed)
	assert.Equal(t, 1, c.Vegetation)
	assert.Equal(t, 63, c.Open)
	assert.Equal(t, 62, c.Kinds[terrain.KindEmpty])
	assert.Equal(t, int32(1), src.released.Load(), "закрепление снимается ровно один раз")
}

func TestScheduleCoalescesWhileRunning(t *testing.T) {
	region := newRegion(t, terrain.Location{})
	b := newGatedBuilder()
	d := startDispatcher(t, b, Options{Workers: 4, QueueSize: 8, ResultsBuffer: 8})
	id := terrain.ChunkID{Region: region.Location()}
	origin := region.Extent().ToIndex(0, 0, 0)

	first := newSource(region)
	require.True(t, d.Schedule(id, first))
	waitStarted(t, b)

	second, third := newSource(region), newSource(region)
	commit(region, origin, terrain.WallTile())
	assert.False(t, d.Schedule(id, second), "чанк уже строится")
	commit(region, origin, terrain.SolidTile())
	assert.False(t, d.Schedule(id, third))
	assert.Equal(t, 1, d.Pending(region.Location()))

	close(b.gate)

	r1 := nextResult(t, d)
	assert.Equal(t, terrain.EmptyTile(), r1.Geometry, "задача видит состояние на момент постановки")
	assert.Equal(t, uint64(0), r1.Version)

	r2 := nextResult(t, d)
	assert.Equal(t, terrain.SolidTile(), r2.Geometry, "повторная задача видит последнюю правку")
	assert.Equal(t, uint64(2), r2.Version)

	assertNoResult(t, d)
	assert.False(t, b.overlap.Load(), "один чанк не строится параллельно")
	assert.Equal(t, 0, d.Pending(region.Location()))

	for _, s := range []*fakeSource{first, second, third} {
		assert.Equal(t, int32(1), s.released.Load())
	}
}

func TestScheduleCoalescesWhileQueued(t *testing.T) {
	region := newRegion(t, terrain.Location{})
	b := newGatedBuilder()
	d := startDispatcher(t, b, Options{Workers: 1, QueueSize: 8, ResultsBuffer: 8})

	busy := terrain.ChunkID{Region: region.Location(), Chunk: terrain.ChunkCoord{X: 1}}
	require.True(t, d.Schedule(busy, newSource(region)))
	waitStarted(t, b)

	// единственный воркер занят: задача по id ждёт в очереди
	id := terrain.ChunkID{Region: region.Location()}
	assert.True(t, d.Schedule(id, newSource(region)))
	commit(region, 0, terrain.SolidTile())
	assert.False(t, d.Schedule(id, newSource(region)))

	close(b.gate)
	got := map[terrain.ChunkID]Result{}
	for i := 0; i < 2; i++ {
		res := nextResult(t, d)
		got[res.ID] = res
	}
	assert.Equal(t, terrain.SolidTile(), got[id].Geometry, "ожидающая задача получила свежий снимок")
	assertNoResult(t, d)
}

func TestResultDiscardedAfterEviction(t *testing.T) {
	evicted := newRegion(t, terrain.Location{X: 1})
	kept := newRegion(t, terrain.Location{X: 2})
	b := newGatedBuilder()
	d := startDispatcher(t, b, Options{Workers: 2, QueueSize: 4, ResultsBuffer: 4})

	src := newSource(evicted)
	require.True(t, d.Schedule(terrain.ChunkID{Region: evicted.Location()}, src))
	waitStarted(t, b)
	src.live.Store(false)

	keptID := terrain.ChunkID{Region: kept.Location()}
	require.True(t, d.Schedule(keptID, newSource(kept)))
	close(b.gate)

	res := nextResult(t, d)
	assert.Equal(t, keptID, res.ID)
	assertNoResult(t, d)
}

func TestResultStaleAfterDelivery(t *testing.T) {
	region := newRegion(t, terrain.Location{X: 3})
	d := startDispatcher(t, CensusBuilder{}, Options{Workers: 1, QueueSize: 4, ResultsBuffer: 4})

	src := newSource(region)
	require.True(t, d.Schedule(terrain.ChunkID{Region: region.Location()}, src))
	res := nextResult(t, d)
	assert.False(t, res.Stale())

	// Регион выгружен между доставкой и применением результата.
	src.live.Store(false)
	assert.True(t, res.Stale())
	assert.False(t, Result{}.Stale(), "результат без источника не считается устаревшим")
}

func TestBacklogAbsorbsOverflow(t *testing.T) {
	region := newRegion(t, terrain.Location{})
	b := newGatedBuilder()
	d := startDispatcher(t, b, Options{Workers: 1, QueueSize: 1, ResultsBuffer: 16})

	var ids []terrain.ChunkID
	for x := 0; x < 4; x++ {
		for y := 0; y < 2; y++ {
			ids = append(ids, terrain.ChunkID{Region: region.Location(), Chunk: terrain.ChunkCoord{X: x, Y: y}})
		}
	}
	require.True(t, d.Schedule(ids[0], newSource(region)))
	waitStarted(t, b)
	for _, id := range ids[1:] {
		assert.True(t, d.Schedule(id, newSource(region)), "постановка не блокируется при полной очереди")
	}
	assert.Greater(t, d.Backlog(), 0)

	close(b.gate)
	seen := map[terrain.ChunkID]bool{}
	for range ids {
		seen[nextResult(t, d).ID] = true
	}
	assert.Len(t, seen, len(ids))
	assert.Equal(t, 0, d.Backlog())
}

func TestBuildErrorReportedInResult(t *testing.T) {
	region := newRegion(t, terrain.Location{})
	boom := errors.New("сбой построения")
	d := startDispatcher(t, BuilderFunc(func(context.Context, *terrain.ChunkSnapshot) (any, error) {
		return nil, boom
	}), Options{Workers: 1, QueueSize: 1, ResultsBuffer: 1})

	d.Schedule(terrain.ChunkID{Region: region.Location()}, newSource(region))
	res := nextResult(t, d)
	assert.ErrorIs(t, res.Err, boom)
}

func TestStopReleasesPending(t *testing.T) {
	region := newRegion(t, terrain.Location{})
	b := newGatedBuilder()
	d := NewDispatcher(b, Options{Workers: 1, QueueSize: 4})
	d.Start(context.Background())

	require.True(t, d.Schedule(terrain.ChunkID{Region: region.Location()}, newSource(region)))
	waitStarted(t, b)
	waiting := newSource(region)
	d.Schedule(terrain.ChunkID{Region: region.Location(), Chunk: terrain.ChunkCoord{X: 1}}, waiting)

	require.NoError(t, d.Stop())
	assert.Equal(t, int32(1), waiting.released.Load())
	assert.ErrorIs(t, d.Stop(), ErrStopped)

	late := newSource(region)
	assert.False(t, d.Schedule(terrain.ChunkID{Region: region.Location()}, late))
	assert.Equal(t, int32(1), late.released.Load())

	_, open := <-d.Results()
	assert.False(t, open, "канал результатов закрыт")
}

func TestStoreKeepsNewest(t *testing.T) {
	s := NewStore()
	id := terrain.ChunkID{Region: terrain.Location{X: 1}}
	assert.True(t, s.Put(Result{ID: id, Version: 3}))
	assert.False(t, s.Put(Result{ID: id, Version: 2}))
	res, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(3), res.Version)

	s.Put(Result{ID: terrain.ChunkID{Region: terrain.Location{X: 2}}})
	assert.Equal(t, 1, s.DropRegion(terrain.Location{X: 1}))
	assert.Equal(t, 1, s.Len())
}
