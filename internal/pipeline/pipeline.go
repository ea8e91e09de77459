package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/observability"
	"github.com/annel0/voxel-terrain/internal/rebuild"
	"github.com/annel0/voxel-terrain/internal/registry"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

// ErrRegionNotFound: регион пакета отсутствует в реестре на момент коммита.
var ErrRegionNotFound = errors.New("регион не найден")

// Scheduler принимает перестройки чанков. Реализуется rebuild.Dispatcher.
type Scheduler interface {
	Schedule(id terrain.ChunkID, src rebuild.Source) bool
}

// Diagnostic описывает отброшенный запрос.
type Diagnostic struct {
	Position int // позиция запроса в пакете
	Request  ChangeRequest
	Reason   string
	Err      error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("#%d %s: %v", d.Position, d.Request, d.Err)
}

// CommitResult: итог коммита пакета.
type CommitResult struct {
	BatchID     string
	Region      terrain.Location
	Version     uint64 // версия региона после коммита
	Applied     int
	Diagnostics []Diagnostic
	Dirty       []terrain.ChunkCoord // чанки, затронутые коммитом
	Scheduled   int                  // новые задачи перестройки
	Coalesced   int                  // слитые с ожидающими задачами
}

// Options настраивают конвейер.
type Options struct {
	// Scheduler nil: грязные чанки остаются в регионе для внешнего DrainDirty.
	Scheduler Scheduler
	Bus       eventbus.EventBus
	Metrics   *metrics.Terrain
	Tracer    trace.Tracer
}

// Pipeline применяет пакеты изменений к регионам реестра.
type Pipeline struct {
	reg       *registry.Registry
	scheduler Scheduler
	bus       eventbus.EventBus
	metrics   *metrics.Terrain
	tracer    trace.Tracer
	log       *logging.Logger
}

// New создаёт конвейер над реестром reg.
func New(reg *registry.Registry, opts Options) *Pipeline {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}
	return &Pipeline{
		reg:       reg,
		scheduler: opts.Scheduler,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		tracer:    tracer,
		log:       logging.GetPipelineLogger(),
	}
}

// Submit коммитит пакет атомарно.
//
// Регион закрепляется в реестре на время коммита; если его нет, пакет
// целиком отклоняется с ErrRegionNotFound и ничего не применяется.
// Регион только с намерением Peek отклоняет пакет с registry.ErrRegionReadOnly.
// Запросы применяются по порядку под блокировкой записи; некорректные
// отбрасываются с диагностикой. Подписчики региона уведомляются до снятия
// блокировки, затем по каждому грязному чанку ставится перестройка.
func (p *Pipeline) Submit(ctx context.Context, b *Batch) (*CommitResult, error) {
	requests, err := b.seal()
	if err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Submit", trace.WithAttributes(
		attribute.String("batch.id", b.ID.String()),
		attribute.String("region", b.Region.Key()),
		attribute.Int("batch.requests", len(requests)),
	))
	defer span.End()

	region, err := p.reg.PinForEdit(b.Region)
	if err != nil {
		b.finish(Failed)
		p.metrics.BatchFailed()
		if errors.Is(err, registry.ErrRegionNotLoaded) {
			err = fmt.Errorf("пакет %s, регион %s: %w", b.ID, b.Region, ErrRegionNotFound)
		} else {
			err = fmt.Errorf("пакет %s: %w", b.ID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "region unavailable")
		p.log.Warn("❌ Пакет %s отклонён: %v", b.ID, err)
		return nil, err
	}
	defer p.reg.Unpin(region)

	res := &CommitResult{BatchID: b.ID.String(), Region: b.Region}

	start := time.Now()
	region.Mu.Lock()
	chunks := region.Chunks()
	for i, req := range requests {
		if err := req.apply(region); err != nil {
			reason := reasonOf(err)
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Position: i, Request: req, Reason: reason, Err: err})
			p.metrics.RequestDropped(reason)
			continue
		}
		idx := req.Target()
		region.RecomputeTileFlags(idx)
		chunks.MarkTileDirty(idx)
		res.Applied++
	}
	if res.Applied > 0 {
		res.Version = region.Invalidate()
	} else {
		res.Version = region.Version()
	}
	var dirty terrain.DirtySet
	if p.scheduler != nil {
		dirty = chunks.DrainDirty()
	}
	region.Mu.Unlock()
	p.metrics.BatchCommitted(res.Applied, time.Since(start))

	for _, d := range res.Diagnostics {
		p.log.Warn("⚠️ Пакет %s: запрос отброшен %s", b.ID, d)
	}

	if dirty != nil {
		res.Dirty = dirty.Sorted()
		p.schedule(region, res)
	}

	b.finish(Committed)
	span.SetAttributes(
		attribute.Int("batch.applied", res.Applied),
		attribute.Int("batch.dropped", len(res.Diagnostics)),
		attribute.Int("chunks.dirty", len(res.Dirty)),
	)
	p.publish(ctx, res)
	p.log.Debug("✅ Пакет %s: применено %d, отброшено %d, чанков %d (новых задач %d)",
		b.ID, res.Applied, len(res.Diagnostics), len(res.Dirty), res.Scheduled)
	return res, nil
}

func (p *Pipeline) schedule(region *terrain.Region, res *CommitResult) {
	for _, cc := range res.Dirty {
		lease, ok := p.reg.Lease(region)
		if !ok {
			// регион закреплён коммитом, сюда попасть нельзя
			p.log.Error("Регион %s исчез во время коммита", region.Location())
			return
		}
		if p.scheduler.Schedule(terrain.ChunkID{Region: region.Location(), Chunk: cc}, lease) {
			res.Scheduled++
		} else {
			res.Coalesced++
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, res *CommitResult) {
	if p.bus == nil {
		return
	}
	payload := eventbus.TerrainCommitted{
		BatchID: res.BatchID,
		RegionX: res.Region.X,
		RegionY: res.Region.Y,
		Version: res.Version,
		Applied: res.Applied,
		Dropped: len(res.Diagnostics),
	}
	for _, cc := range res.Dirty {
		payload.DirtyChunk = append(payload.DirtyChunk, eventbus.ChunkRef{X: cc.X, Y: cc.Y, Z: cc.Z})
	}
	ev, err := eventbus.Encode(eventbus.TypeTerrainCommitted, payload)
	if err != nil {
		p.log.Error("Событие коммита не сформировано: %v", err)
		return
	}
	ev.CorrelationID = res.BatchID
	ev.Priority = 5
	if err := p.bus.Publish(ctx, ev); err != nil {
		p.log.Warn("Событие коммита %s не опубликовано: %v", res.BatchID, err)
	}
}
