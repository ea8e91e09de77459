package eventbus

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID            string            // UUID события
	Timestamp     time.Time         // время создания (UTC)
	Source        string            // имя сервиса-источника
	EventType     string            // TerrainCommitted, ChunkRebuilt…
	Version       int               // схема полезной нагрузки
	CorrelationID string            // ID пакета изменений
	Priority      int               // 0=Low … 9=Critical (для backpressure)
	Payload       []byte            // JSON полезной нагрузки
	Metadata      map[string]string // произвольные метаданные
}

// NewEnvelope заполняет служебные поля события.
func NewEnvelope(source, eventType string, payload []byte) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // пусто: все типы
	Sources []string // пусто: все источники
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus: шина событий ландшафта. Реализации: in-memory и JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	published   atomic.Uint64
	consumed    atomic.Uint64
	dropped     atomic.Uint64
	buffer      chan *Envelope
	closed      atomic.Bool
	quit        chan struct{}
	done        chan struct{}
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину с указанным буфером.
// Подписчики получают события по порядку публикации.
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	if mb.closed.Load() {
		return ErrClosed
	}

	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	// Буфер заполнен: низкий приоритет (<5) отбрасываем
	if ev.Priority < 5 {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	case <-mb.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	if mb.closed.Load() {
		return nil, ErrClosed
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.buffer),
	}
}

// Close прекращает приём событий и дожидается доставки уже принятых.
func (mb *memoryBus) Close() error {
	if !mb.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(mb.quit)
	<-mb.done

	mb.mu.Lock()
	for id, sub := range mb.subscribers {
		sub.cancel()
		delete(mb.subscribers, id)
	}
	mb.mu.Unlock()
	return nil
}

// dispatchLoop рассылает события подписчикам по одному.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	for {
		select {
		case ev := <-mb.buffer:
			mb.deliver(ev)
		case <-mb.quit:
			for {
				select {
				case ev := <-mb.buffer:
					mb.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (mb *memoryBus) deliver(ev *Envelope) {
	mb.mu.RLock()
	subs := make([]subscriber, 0, len(mb.subscribers))
	for _, sub := range mb.subscribers {
		if matchFilter(ev, sub.filter) {
			subs = append(subs, sub)
		}
	}
	mb.mu.RUnlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		sub.handler(sub.ctx, ev)
		mb.consumed.Add(1)
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		return len(arr) == 0 || slices.Contains(arr, val)
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
