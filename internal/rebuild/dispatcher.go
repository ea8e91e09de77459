package rebuild

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

// Builder строит геометрию чанка по снимку. Содержимое геометрии диспетчер не трактует.
type Builder interface {
	Build(ctx context.Context, snap *terrain.ChunkSnapshot) (any, error)
}

// BuilderFunc адаптирует функцию к Builder.
type BuilderFunc func(ctx context.Context, snap *terrain.ChunkSnapshot) (any, error)

func (f BuilderFunc) Build(ctx context.Context, snap *terrain.ChunkSnapshot) (any, error) {
	return f(ctx, snap)
}

// Source: закреплённый регион, из которого берётся снимок.
// Release снимает закрепление и вызывается диспетчером ровно один раз.
type Source interface {
	Snapshot(cc terrain.ChunkCoord) terrain.ChunkSnapshot
	Live() bool
	Release()
}

// Result: итог перестройки чанка.
type Result struct {
	ID       terrain.ChunkID
	Version  uint64 // версия региона в момент снимка
	Geometry any
	Err      error
	Duration time.Duration

	src Source
}

// Stale сообщает, что экземпляр региона, с которого снят снимок,
// выгружен или заменён. Такой результат применять нельзя.
func (r Result) Stale() bool {
	return r.src != nil && !r.src.Live()
}

// Options настраивают диспетчер.
type Options struct {
	Workers       int
	QueueSize     int
	ResultsBuffer int
	Metrics       *metrics.Terrain
}

// chunkState: учёт одного чанка. Одновременно не больше одной
// выполняющейся и одной ожидающей задачи.
type chunkState struct {
	queued  bool // ID лежит в очереди или бэклоге
	running bool

	next    *terrain.ChunkSnapshot
	nextSrc Source // закреплён, пока задача ожидает
	curSrc  Source
}

var ErrStopped = errors.New("диспетчер остановлен")

// Dispatcher: пул воркеров перестройки чанков с ограниченной очередью.
// Очередь несёт только ChunkID; снимок хранится в состоянии чанка и
// берётся в момент постановки задачи.
type Dispatcher struct {
	builder Builder
	opts    Options
	metrics *metrics.Terrain
	log     *logging.Logger

	mu      sync.Mutex
	states  map[terrain.ChunkID]*chunkState
	backlog []terrain.ChunkID
	stopped bool

	queue   chan terrain.ChunkID
	results chan Result

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDispatcher создаёт диспетчер. Воркеры запускаются в Start.
func NewDispatcher(builder Builder, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.ResultsBuffer < 0 {
		opts.ResultsBuffer = 0
	}
	return &Dispatcher{
		builder: builder,
		opts:    opts,
		metrics: opts.Metrics,
		log:     logging.GetRebuildLogger(),
		states:  make(map[terrain.ChunkID]*chunkState),
		queue:   make(chan terrain.ChunkID, opts.QueueSize),
		results: make(chan Result, opts.ResultsBuffer),
	}
}

// Start запускает воркеры.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	d.group = g
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			return d.worker(gctx)
		})
	}
	d.log.Info("🔧 Диспетчер перестройки запущен: воркеров %d, очередь %d", d.opts.Workers, d.opts.QueueSize)
}

// Results: канал завершённых перестроек. Закрывается после Stop.
// Воркер блокируется, пока результат не прочитан.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Schedule ставит перестройку чанка id. Снимок берётся сразу.
// Если по чанку уже есть ожидающая задача, она получает более свежий снимок;
// если задача выполняется, после неё запускается одна повторная.
// Возвращает true, если создана новая задача, false: если запрос слит.
// Source освобождается диспетчером в любом случае.
func (d *Dispatcher) Schedule(id terrain.ChunkID, src Source) bool {
	snap := src.Snapshot(id.Chunk)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		src.Release()
		return false
	}

	st, ok := d.states[id]
	if !ok {
		st = &chunkState{}
		d.states[id] = st
	}

	if st.next == nil || st.next.Version <= snap.Version {
		st.next = &snap
	}
	if st.nextSrc == nil {
		st.nextSrc = src
	} else {
		src.Release()
	}

	if st.queued || st.running {
		d.metrics.RebuildScheduled(true)
		return false
	}
	st.queued = true
	d.enqueueLocked(id)
	d.metrics.RebuildScheduled(false)
	return true
}

// enqueueLocked не блокирует коммит: при полной очереди ID уходит в бэклог.
func (d *Dispatcher) enqueueLocked(id terrain.ChunkID) {
	if len(d.backlog) == 0 {
		select {
		case d.queue <- id:
			return
		default:
		}
	}
	d.backlog = append(d.backlog, id)
	d.metrics.SetRebuildBacklog(len(d.backlog))
}

// refillLocked переносит бэклог в освободившиеся места очереди.
func (d *Dispatcher) refillLocked() {
	if len(d.backlog) == 0 {
		return
	}
refill:
	for len(d.backlog) > 0 {
		select {
		case d.queue <- d.backlog[0]:
			d.backlog = d.backlog[1:]
		default:
			break refill
		}
	}
	d.metrics.SetRebuildBacklog(len(d.backlog))
}

func (d *Dispatcher) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-d.queue:
			d.run(ctx, id)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id terrain.ChunkID) {
	d.mu.Lock()
	d.refillLocked()
	st, ok := d.states[id]
	if !ok || st.next == nil {
		d.mu.Unlock()
		return
	}
	snap, src := st.next, st.nextSrc
	st.next, st.nextSrc = nil, nil
	st.queued = false
	st.running = true
	st.curSrc = src
	d.mu.Unlock()

	// Снимок уже снят: закрепление больше не нужно, регион можно выгрузить.
	src.Release()

	start := time.Now()
	geometry, err := d.builder.Build(ctx, snap)
	elapsed := time.Since(start)
	d.metrics.RebuildCompleted(elapsed, err)
	if err != nil {
		d.log.Warn("⚠️ Перестройка чанка %s завершилась ошибкой: %v", id, err)
	}

	if src.Live() {
		res := Result{ID: id, Version: snap.Version, Geometry: geometry, Err: err, Duration: elapsed, src: src}
		select {
		case d.results <- res:
		case <-ctx.Done():
		}
	} else {
		d.metrics.RebuildDiscarded()
		d.log.Debug("Регион %s выгружен, результат чанка %s отброшен", id.Region, id.Chunk)
	}

	d.mu.Lock()
	st.running = false
	st.curSrc = nil
	if st.next != nil && !d.stopped {
		st.queued = true
		d.enqueueLocked(id)
	} else if st.next == nil {
		delete(d.states, id)
	}
	d.mu.Unlock()
}

// Pending возвращает число чанков региона loc с ожидающей или выполняющейся задачей.
func (d *Dispatcher) Pending(loc terrain.Location) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for id := range d.states {
		if id.Region == loc {
			n++
		}
	}
	return n
}

// Backlog возвращает число задач, ожидающих места в очереди.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

// Stop останавливает воркеры, снимает закрепления ожидающих задач
// и закрывает канал результатов.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.stopped = true
	for id, st := range d.states {
		if st.nextSrc != nil {
			st.nextSrc.Release()
			st.nextSrc = nil
		}
		st.next = nil
		if !st.running {
			delete(d.states, id)
		}
	}
	d.backlog = nil
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	var err error
	if d.group != nil {
		err = d.group.Wait()
	}
	close(d.results)
	d.log.Info("🛑 Диспетчер перестройки остановлен")
	return err
}
