package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

// ErrBatchSealed: пакет уже передан в конвейер.
var ErrBatchSealed = errors.New("пакет уже отправлен")

// State: состояние пакета изменений.
type State int

const (
	Building State = iota
	Submitted
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Submitted:
		return "submitted"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Batch: упорядоченный набор запросов к одному региону, применяемый атомарно.
type Batch struct {
	ID        uuid.UUID
	Region    terrain.Location
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	requests []ChangeRequest
}

// NewBatch создаёт пакет в состоянии Building.
func NewBatch(loc terrain.Location) *Batch {
	return &Batch{
		ID:        uuid.New(),
		Region:    loc,
		CreatedAt: time.Now(),
	}
}

// Enqueue добавляет запрос. Вне состояния Building возвращает ErrBatchSealed.
func (b *Batch) Enqueue(req ChangeRequest) error {
	if req == nil {
		return fmt.Errorf("пустой запрос: %w", ErrInvalidRequest)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Building {
		return fmt.Errorf("пакет %s (%s): %w", b.ID, b.state, ErrBatchSealed)
	}
	b.requests = append(b.requests, req)
	return nil
}

// State возвращает текущее состояние.
func (b *Batch) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Len возвращает число запросов.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// seal переводит пакет в Submitted и возвращает его запросы.
func (b *Batch) seal() ([]ChangeRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Building {
		return nil, fmt.Errorf("пакет %s (%s): %w", b.ID, b.state, ErrBatchSealed)
	}
	b.state = Submitted
	return b.requests, nil
}

func (b *Batch) finish(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}
