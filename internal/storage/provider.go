package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

func storageLog() *logging.Logger { return logging.GetStorageLogger() }

// Generator поставляет новый регион, которого нет в хранилище.
type Generator interface {
	Generate(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error)
}

// GeneratorFunc адаптирует функцию к Generator.
type GeneratorFunc func(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error)

func (f GeneratorFunc) Generate(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error) {
	return f(ctx, loc, dims)
}

// FlatGenerator строит плоский регион: порода ниже Surface,
// пол на уровне Surface, пустота выше.
type FlatGenerator struct {
	Surface    int
	Biome      terrain.BiomeRef
	WorldWidth int // ширина мира в ячейках для индекса; 0: индекс не считается
}

func (g FlatGenerator) Generate(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := dims.Validate(); err != nil {
		return nil, err
	}

	ext := dims.Tiles()
	tiles := make([]terrain.TileType, ext.Len())
	for z := 0; z < ext.D; z++ {
		var tile terrain.TileType
		switch {
		case z < g.Surface:
			tile = terrain.SolidTile()
		case z == g.Surface:
			tile = terrain.FloorTile(0)
		default:
			tile = terrain.EmptyTile()
		}
		start := ext.ToIndex(0, 0, z)
		for i := 0; i < ext.W*ext.H; i++ {
			tiles[int(start)+i] = tile
		}
	}

	worldIndex := 0
	if g.WorldWidth > 0 {
		worldIndex = loc.Y*g.WorldWidth + loc.X
	}
	return terrain.FromGenerated(loc, worldIndex, g.Biome, dims, tiles)
}

// Provider реализует registry.Provider: сначала хранилище, затем генератор.
type Provider struct {
	store *RegionStore
	gen   Generator
}

// NewProvider создаёт поставщика регионов. store или gen могут быть nil.
func NewProvider(store *RegionStore, gen Generator) *Provider {
	return &Provider{store: store, gen: gen}
}

// ProvideRegion загружает сохранённый регион или генерирует новый.
func (p *Provider) ProvideRegion(ctx context.Context, loc terrain.Location, dims terrain.Dims) (*terrain.Region, error) {
	if p.store != nil {
		region, err := p.store.LoadRegion(ctx, loc)
		switch {
		case err == nil:
			storageLog().Debug("📂 Регион %s загружен из хранилища (версия %d)", loc, region.Version())
			return region, nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	if p.gen == nil {
		return nil, fmt.Errorf("регион %s: %w", loc, ErrNotFound)
	}
	region, err := p.gen.Generate(ctx, loc, dims)
	if err != nil {
		return nil, fmt.Errorf("генерация региона %s: %w", loc, err)
	}
	storageLog().Debug("🌱 Регион %s сгенерирован", loc)
	return region, nil
}
