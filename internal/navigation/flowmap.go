package navigation

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/observability"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

var inf = float32(math.Inf(1))

// StepCost: цена перехода from → to. Отрицательное значение или +Inf запрещает переход.
type StepCost func(r *terrain.Region, from, to terrain.TileIndex) float32

// UnitCost: каждый шаг стоит 1.
func UnitCost(*terrain.Region, terrain.TileIndex, terrain.TileIndex) float32 { return 1 }

// Options настраивают карту потока.
type Options struct {
	// Planar: только горизонтальные переходы N, S, E, W.
	Planar bool
	// Cost по умолчанию UnitCost.
	Cost StepCost
	// CheckEvery: как часто (в извлечениях из кучи) проверять отмену контекста.
	CheckEvery int
	Metrics    *metrics.Terrain
	Tracer     trace.Tracer
}

// FlowMap: поле расстояний до целей по всем тайлам региона.
//
// Пересчёт ленивый: любое изменение региона помечает карту грязной,
// следующий запрос выполняет полный многоисточниковый Дейкстра.
// Значения осмысленны только у чистой карты.
type FlowMap struct {
	region *terrain.Region
	goals  GoalSet
	opts   Options
	log    *logging.Logger

	mu     sync.Mutex
	dist   []float32
	isGoal []uint64 // битовая маска целей последнего пересчёта
	queue  nodeQueue
	exits  []terrain.TileIndex

	// state = epoch<<1 | dirty
	state  atomic.Uint64
	cancel func()
}

// NewFlowMap создаёт грязную карту и подписывает её на изменения региона.
func NewFlowMap(region *terrain.Region, goals GoalSet, opts Options) *FlowMap {
	if opts.Cost == nil {
		opts.Cost = UnitCost
	}
	if opts.CheckEvery <= 0 {
		opts.CheckEvery = 4096
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.Tracer()
	}
	n := region.Extent().Len()
	fm := &FlowMap{
		region: region,
		goals:  goals,
		opts:   opts,
		log:    logging.GetNavigationLogger(),
		dist:   make([]float32, n),
		isGoal: make([]uint64, (n+63)/64),
		exits:  make([]terrain.TileIndex, 0, 6),
	}
	for i := range fm.dist {
		fm.dist[i] = inf
	}
	fm.state.Store(1)
	fm.cancel = region.AddWatcher(fm)
	return fm
}

// Region возвращает регион карты.
func (fm *FlowMap) Region() *terrain.Region {
	return fm.region
}

// IsDirty сообщает, что значения устарели.
func (fm *FlowMap) IsDirty() bool {
	return fm.state.Load()&1 != 0
}

// Invalidate помечает карту грязной. Вызывается коммитом под блокировкой записи региона.
func (fm *FlowMap) Invalidate() {
	for {
		old := fm.state.Load()
		next := (old>>1+1)<<1 | 1
		if fm.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// Close отписывает карту от региона.
func (fm *FlowMap) Close() {
	fm.cancel()
}

// Recompute пересчитывает поле, если карта грязная.
// При отмене контекста карта остаётся грязной.
func (fm *FlowMap) Recompute(ctx context.Context) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.region.Mu.RLock()
	defer fm.region.Mu.RUnlock()
	return fm.ensureFreshLocked(ctx)
}

// ensureFreshLocked: держатся fm.mu и блокировка чтения региона.
func (fm *FlowMap) ensureFreshLocked(ctx context.Context) error {
	state := fm.state.Load()
	if state&1 == 0 {
		return nil
	}

	ctx, span := fm.opts.Tracer.Start(ctx, "navigation.Recompute", trace.WithAttributes(
		attribute.String("region", fm.region.Location().Key()),
		attribute.Int("tiles", len(fm.dist)),
	))
	defer span.End()

	start := time.Now()
	if err := fm.compute(ctx); err != nil {
		fm.opts.Metrics.FlowRecomputed(time.Since(start), true)
		span.RecordError(err)
		fm.log.Debug("Пересчёт карты региона %s прерван: %v", fm.region.Location(), err)
		return err
	}
	elapsed := time.Since(start)
	fm.opts.Metrics.FlowRecomputed(elapsed, false)

	// Если за время пересчёта пришла инвалидация, state изменился и карта остаётся грязной.
	fm.state.CompareAndSwap(state, state&^1)
	fm.log.Debug("🧭 Карта региона %s пересчитана за %v", fm.region.Location(), elapsed)
	return nil
}

func (fm *FlowMap) compute(ctx context.Context) error {
	for i := range fm.dist {
		fm.dist[i] = inf
	}
	clear(fm.isGoal)
	fm.queue = fm.queue[:0]

	for _, g := range fm.goals.Goals(fm.region) {
		fm.dist[g] = 0
		fm.isGoal[g>>6] |= 1 << (uint(g) & 63)
		heap.Push(&fm.queue, node{idx: g})
	}

	popped := 0
	for fm.queue.Len() > 0 {
		cur := heap.Pop(&fm.queue).(node)
		if cur.dist > fm.dist[cur.idx] {
			continue
		}
		popped++
		if popped%fm.opts.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		fm.exits = fm.region.AppendExits(fm.exits[:0], cur.idx, fm.opts.Planar)
		for _, n := range fm.exits {
			// Агент идёт из n в cur.
			c := fm.opts.Cost(fm.region, n, cur.idx)
			if c < 0 || math.IsInf(float64(c), 1) {
				continue
			}
			if nd := cur.dist + c; nd < fm.dist[n] {
				fm.dist[n] = nd
				heap.Push(&fm.queue, node{idx: n, dist: nd})
			}
		}
	}
	return ctx.Err()
}

// FindLowestCostExit возвращает соседа tile с наименьшим расстоянием до цели.
// Ничья разрешается порядком перечисления выходов.
// ok == false, если выходов нет, ни один сосед не достижим или tile сам является целью.
func (fm *FlowMap) FindLowestCostExit(ctx context.Context, tile terrain.TileIndex) (terrain.TileIndex, bool, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.region.Mu.RLock()
	defer fm.region.Mu.RUnlock()

	if err := fm.ensureFreshLocked(ctx); err != nil {
		return 0, false, err
	}
	if !fm.region.ValidIndex(tile) || fm.goalLocked(tile) {
		return 0, false, nil
	}

	best, bestDist := terrain.TileIndex(0), inf
	for _, n := range fm.region.AppendExits(fm.exits[:0], tile, fm.opts.Planar) {
		if d := fm.dist[n]; d < bestDist {
			best, bestDist = n, d
		}
	}
	if math.IsInf(float64(bestDist), 1) {
		return 0, false, nil
	}
	return best, true, nil
}

// Distance возвращает расстояние от tile до ближайшей цели (+Inf: недостижим).
func (fm *FlowMap) Distance(ctx context.Context, tile terrain.TileIndex) (float32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.region.Mu.RLock()
	defer fm.region.Mu.RUnlock()

	if err := fm.ensureFreshLocked(ctx); err != nil {
		return inf, err
	}
	if !fm.region.ValidIndex(tile) {
		return inf, nil
	}
	return fm.dist[tile], nil
}

// AtGoal сообщает, является ли tile целью.
func (fm *FlowMap) AtGoal(ctx context.Context, tile terrain.TileIndex) (bool, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.region.Mu.RLock()
	defer fm.region.Mu.RUnlock()

	if err := fm.ensureFreshLocked(ctx); err != nil {
		return false, err
	}
	return fm.region.ValidIndex(tile) && fm.goalLocked(tile), nil
}

func (fm *FlowMap) goalLocked(tile terrain.TileIndex) bool {
	return fm.isGoal[tile>>6]&(1<<(uint(tile)&63)) != 0
}
