package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/navigation"
	"github.com/annel0/voxel-terrain/internal/pipeline"
	"github.com/annel0/voxel-terrain/internal/rebuild"
	"github.com/annel0/voxel-terrain/internal/registry"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

// Options настраивают игровую сессию.
type Options struct {
	Dims     terrain.Dims
	Rebuild  rebuild.Options
	Builder  rebuild.Builder // nil: rebuild.CensusBuilder
	Provider registry.Provider
	Sink     registry.Sink
	Bus      eventbus.EventBus // nil: собственная in-memory шина
	Metrics  *metrics.Terrain
}

type flowKey struct {
	loc   terrain.Location
	level int
}

// World: состояние ландшафта одной сессии: реестр регионов, конвейер
// изменений, диспетчер перестройки и шина событий. Создаётся при старте
// сессии и закрывается при её завершении.
type World struct {
	reg     *registry.Registry
	disp    *rebuild.Dispatcher
	pipe    *pipeline.Pipeline
	geo     *rebuild.Store
	bus     eventbus.EventBus
	ownsBus bool
	metrics *metrics.Terrain
	log     *logging.Logger

	flowMu sync.Mutex
	flows  map[flowKey]*navigation.FlowMap

	// geoMu упорядочивает запись геометрии и её удаление при выгрузке.
	geoMu sync.Mutex

	consumerDone chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

// New создаёт и запускает сессию.
func New(ctx context.Context, opts Options) (*World, error) {
	if err := opts.Dims.Validate(); err != nil {
		return nil, err
	}
	if opts.Builder == nil {
		opts.Builder = rebuild.CensusBuilder{}
	}
	opts.Rebuild.Metrics = opts.Metrics

	w := &World{
		geo:          rebuild.NewStore(),
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		log:          logging.GetComponentLogger("session"),
		flows:        make(map[flowKey]*navigation.FlowMap),
		consumerDone: make(chan struct{}),
	}
	if w.bus == nil {
		w.bus = eventbus.NewMemoryBus(1024)
		w.ownsBus = true
	}

	w.reg = registry.New(opts.Dims, registry.Options{
		Provider:   opts.Provider,
		Sink:       opts.Sink,
		Metrics:    opts.Metrics,
		OnRequired: w.simulate,
	})
	w.disp = rebuild.NewDispatcher(opts.Builder, opts.Rebuild)
	w.pipe = pipeline.New(w.reg, pipeline.Options{
		Scheduler: w.disp,
		Bus:       w.bus,
		Metrics:   opts.Metrics,
	})

	w.disp.Start(ctx)
	go w.consumeResults()

	w.log.Info("🌍 Сессия запущена: регион %dx%dx%d, чанк %d",
		opts.Dims.Width, opts.Dims.Height, opts.Dims.Depth, opts.Dims.ChunkSize)
	return w, nil
}

func (w *World) Registry() *registry.Registry    { return w.reg }
func (w *World) Pipeline() *pipeline.Pipeline    { return w.pipe }
func (w *World) Dispatcher() *rebuild.Dispatcher { return w.disp }
func (w *World) Geometry() *rebuild.Store        { return w.geo }
func (w *World) Bus() eventbus.EventBus          { return w.bus }
func (w *World) Dims() terrain.Dims              { return w.reg.Dims() }

// Spawn делает регион резидентным с намерением intent.
// Регион под Peek геометрии не получает: полная перестройка ставится,
// когда у него появляется первое намерение Required.
func (w *World) Spawn(ctx context.Context, loc terrain.Location, intent registry.Intent) (*terrain.Region, bool, error) {
	return w.reg.SpawnRegion(ctx, loc, intent)
}

func (w *World) simulate(region *terrain.Region) {
	n := w.scheduleAll(region)
	w.log.Info("🗺️ Регион %s симулируется, на перестройку %d чанков", region.Location(), n)
}

func (w *World) scheduleAll(region *terrain.Region) int {
	grid := region.Dims().Chunks()
	n := 0
	for z := 0; z < grid.D; z++ {
		for y := 0; y < grid.H; y++ {
			for x := 0; x < grid.W; x++ {
				lease, ok := w.reg.Lease(region)
				if !ok {
					return n
				}
				id := terrain.ChunkID{Region: region.Location(), Chunk: terrain.ChunkCoord{X: x, Y: y, Z: z}}
				if w.disp.Schedule(id, lease) {
					n++
				}
			}
		}
	}
	return n
}

// Acquire добавляет намерение к уже загруженному региону.
func (w *World) Acquire(loc terrain.Location, intent registry.Intent) bool {
	return w.reg.AddIntent(loc, intent)
}

// Release снимает одно намерение. Регион остаётся резидентным до Evict.
func (w *World) Release(loc terrain.Location, intent registry.Intent) bool {
	return w.reg.ReleaseIntent(loc, intent)
}

// Submit коммитит пакет изменений.
func (w *World) Submit(ctx context.Context, b *pipeline.Batch) (*pipeline.CommitResult, error) {
	return w.pipe.Submit(ctx, b)
}

// Evict сохраняет и выгружает регион без намерений и закреплений.
func (w *World) Evict(ctx context.Context, loc terrain.Location) error {
	if err := w.reg.Evict(ctx, loc); err != nil {
		return err
	}
	w.forget(ctx, loc)
	return nil
}

// EvictIdle выгружает все регионы без намерений и закреплений.
func (w *World) EvictIdle(ctx context.Context) ([]terrain.Location, error) {
	evicted, err := w.reg.EvictIdle(ctx)
	for _, loc := range evicted {
		w.forget(ctx, loc)
	}
	return evicted, err
}

func (w *World) forget(ctx context.Context, loc terrain.Location) {
	w.flowMu.Lock()
	for key, fm := range w.flows {
		if key.loc == loc {
			fm.Close()
			delete(w.flows, key)
		}
	}
	w.flowMu.Unlock()

	w.geoMu.Lock()
	dropped := w.geo.DropRegion(loc)
	w.geoMu.Unlock()
	w.publish(ctx, eventbus.TypeRegionEvicted, eventbus.RegionEvicted{RegionX: loc.X, RegionY: loc.Y}, "")
	w.log.Info("📤 Регион %s выгружен, геометрия %d чанков удалена", loc, dropped)
}

// FlowMap возвращает карту расстояний до выходов региона на уровне level
// (navigation.AllLevels.Level: все уровни). Карта кэшируется до выгрузки региона.
func (w *World) FlowMap(loc terrain.Location, level int) (*navigation.FlowMap, error) {
	region, ok := w.reg.Get(loc)
	if !ok {
		return nil, fmt.Errorf("локация %s: %w", loc, pipeline.ErrRegionNotFound)
	}

	key := flowKey{loc: loc, level: level}
	w.flowMu.Lock()
	defer w.flowMu.Unlock()
	if fm, ok := w.flows[key]; ok {
		if fm.Region() == region {
			return fm, nil
		}
		fm.Close()
	}
	fm := navigation.NewFlowMap(region, navigation.BorderExits{Level: level}, navigation.Options{
		Planar:  level >= 0,
		Metrics: w.metrics,
	})
	w.flows[key] = fm
	return fm, nil
}

func (w *World) consumeResults() {
	defer close(w.consumerDone)
	for res := range w.disp.Results() {
		if !w.storeResult(res) {
			continue
		}

		payload := eventbus.ChunkRebuilt{
			RegionX:    res.ID.Region.X,
			RegionY:    res.ID.Region.Y,
			Chunk:      eventbus.ChunkRef{X: res.ID.Chunk.X, Y: res.ID.Chunk.Y, Z: res.ID.Chunk.Z},
			Version:    res.Version,
			DurationMS: float64(res.Duration.Microseconds()) / 1000,
		}
		if res.Err != nil {
			payload.Error = res.Err.Error()
		}
		w.publish(context.Background(), eventbus.TypeChunkRebuilt, payload, "")
	}
}

// storeResult сохраняет геометрию, если экземпляр региона, с которого
// снят снимок, всё ещё текущий.
func (w *World) storeResult(res rebuild.Result) bool {
	w.geoMu.Lock()
	defer w.geoMu.Unlock()
	if res.Stale() {
		w.log.Debug("Результат чанка %s от выгруженного экземпляра региона отброшен", res.ID)
		return false
	}
	if _, ok := w.reg.Get(res.ID.Region); !ok {
		return false
	}
	if res.Err != nil {
		w.log.Warn("⚠️ Перестройка чанка %s не удалась: %v", res.ID, res.Err)
		return true
	}
	w.geo.Put(res)
	return true
}

func (w *World) publish(ctx context.Context, eventType string, payload any, correlation string) {
	ev, err := eventbus.Encode(eventType, payload)
	if err != nil {
		w.log.Error("Событие %s не сформировано: %v", eventType, err)
		return
	}
	ev.CorrelationID = correlation
	if err := w.bus.Publish(ctx, ev); err != nil && !errors.Is(err, eventbus.ErrClosed) {
		w.log.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}

// Close останавливает перестройку, сохраняет резидентные регионы
// и закрывает собственную шину. Повторный вызов возвращает тот же результат.
func (w *World) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		var errs []error
		if err := w.disp.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("остановка перестройки: %w", err))
		}
		<-w.consumerDone

		w.flowMu.Lock()
		for key, fm := range w.flows {
			fm.Close()
			delete(w.flows, key)
		}
		w.flowMu.Unlock()

		if err := w.reg.SaveAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("сохранение регионов: %w", err))
		}
		if w.ownsBus {
			if err := w.bus.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		w.closeErr = errors.Join(errs...)
		w.log.Info("🛑 Сессия закрыта, регионов в памяти: %d", w.reg.Len())
	})
	return w.closeErr
}
