package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed возвращается шиной после Close.
var ErrClosed = errors.New("шина событий закрыта")

// Типы событий ландшафта.
const (
	TypeTerrainCommitted = "TerrainCommitted"
	TypeChunkRebuilt     = "ChunkRebuilt"
	TypeRegionEvicted    = "RegionEvicted"
)

// SourceTerrain: имя источника событий демона.
const SourceTerrain = "terraind"

// ChunkRef: координаты чанка в событиях.
type ChunkRef struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// TerrainCommitted публикуется после коммита пакета изменений.
type TerrainCommitted struct {
	BatchID    string     `json:"batch_id"`
	RegionX    int        `json:"region_x"`
	RegionY    int        `json:"region_y"`
	Version    uint64     `json:"version"`
	Applied    int        `json:"applied"`
	Dropped    int        `json:"dropped"`
	DirtyChunk []ChunkRef `json:"dirty_chunks"`
}

// ChunkRebuilt публикуется после перестройки геометрии чанка.
type ChunkRebuilt struct {
	RegionX    int      `json:"region_x"`
	RegionY    int      `json:"region_y"`
	Chunk      ChunkRef `json:"chunk"`
	Version    uint64   `json:"version"`
	DurationMS float64  `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

// RegionEvicted публикуется после выгрузки региона.
type RegionEvicted struct {
	RegionX int `json:"region_x"`
	RegionY int `json:"region_y"`
}

// Encode упаковывает полезную нагрузку в конверт.
func Encode(eventType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("кодирование %s: %w", eventType, err)
	}
	return NewEnvelope(SourceTerrain, eventType, data), nil
}

// Decode распаковывает полезную нагрузку конверта.
func Decode[T any](ev *Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("разбор %s: %w", ev.EventType, err)
	}
	return out, nil
}
