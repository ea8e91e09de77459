package storage

import (
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

// ErrCorrupt: запись региона не удаётся разобрать.
var ErrCorrupt = errors.New("повреждённая запись региона")

// Версия формата записи. Первый байт записи, дальше zstd-кадр.
const codecVersion byte = 1

// Номера полей записи региона (protobuf wire format).
const (
	fieldLocX       protowire.Number = 1
	fieldLocY       protowire.Number = 2
	fieldWorldIndex protowire.Number = 3
	fieldBiome      protowire.Number = 4
	fieldWidth      protowire.Number = 5
	fieldHeight     protowire.Number = 6
	fieldDepth      protowire.Number = 7
	fieldChunkSize  protowire.Number = 8
	fieldVersion    protowire.Number = 9
	fieldTiles      protowire.Number = 10 // пары varint (kind, arg)
	fieldFlags      protowire.Number = 11 // байт на тайл
)

// Codec кодирует RegionData в компактную запись: protowire + zstd.
// Безопасен для параллельного использования.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec создаёт кодек.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("ошибка создания zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Close освобождает ресурсы zstd.
func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}

// Encode сериализует регион. Тайлы и флаги пишутся как есть.
func (c *Codec) Encode(data terrain.RegionData) ([]byte, error) {
	if len(data.Tiles) != len(data.Flags) {
		return nil, fmt.Errorf("%w: тайлов %d, флагов %d", terrain.ErrDimsMismatch, len(data.Tiles), len(data.Flags))
	}

	buf := make([]byte, 0, 64+len(data.Tiles)*3)
	buf = appendSigned(buf, fieldLocX, int64(data.Location.X))
	buf = appendSigned(buf, fieldLocY, int64(data.Location.Y))
	buf = appendSigned(buf, fieldWorldIndex, int64(data.WorldIndex))
	buf = appendUnsigned(buf, fieldBiome, uint64(data.Biome))
	buf = appendUnsigned(buf, fieldWidth, uint64(data.Dims.Width))
	buf = appendUnsigned(buf, fieldHeight, uint64(data.Dims.Height))
	buf = appendUnsigned(buf, fieldDepth, uint64(data.Dims.Depth))
	buf = appendUnsigned(buf, fieldChunkSize, uint64(data.Dims.ChunkSize))
	buf = appendUnsigned(buf, fieldVersion, data.Version)

	packed := make([]byte, 0, len(data.Tiles)*2)
	for _, t := range data.Tiles {
		packed = protowire.AppendVarint(packed, uint64(t.Kind))
		packed = protowire.AppendVarint(packed, uint64(t.Arg))
	}
	buf = protowire.AppendTag(buf, fieldTiles, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packed)

	flags := make([]byte, len(data.Flags))
	for i, f := range data.Flags {
		flags[i] = byte(f)
	}
	buf = protowire.AppendTag(buf, fieldFlags, protowire.BytesType)
	buf = protowire.AppendBytes(buf, flags)

	return c.enc.EncodeAll(buf, []byte{codecVersion}), nil
}

// Decode разбирает запись, созданную Encode.
func (c *Codec) Decode(record []byte) (terrain.RegionData, error) {
	var data terrain.RegionData
	if len(record) == 0 {
		return data, fmt.Errorf("%w: пустая запись", ErrCorrupt)
	}
	if record[0] != codecVersion {
		return data, fmt.Errorf("%w: неизвестная версия формата %d", ErrCorrupt, record[0])
	}
	raw, err := c.dec.DecodeAll(record[1:], nil)
	if err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var tiles, flags []byte
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return data, fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return data, fmt.Errorf("%w: поле %d: %v", ErrCorrupt, num, protowire.ParseError(n))
			}
			b = b[n:]
			setVarintField(&data, num, v)
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return data, fmt.Errorf("%w: поле %d: %v", ErrCorrupt, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldTiles:
				tiles = v
			case fieldFlags:
				flags = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return data, fmt.Errorf("%w: поле %d: %v", ErrCorrupt, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if err := data.Dims.Validate(); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	expected := data.Dims.Tiles().Len()

	if len(flags) != expected {
		return data, fmt.Errorf("%w: флагов %d, ожидалось %d", ErrCorrupt, len(flags), expected)
	}

	data.Tiles = make([]terrain.TileType, 0, min(expected, len(tiles)/2))
	for len(tiles) > 0 {
		i := len(data.Tiles)
		if i == expected {
			return data, fmt.Errorf("%w: лишние %d байт после %d тайлов", ErrCorrupt, len(tiles), expected)
		}
		kind, n := protowire.ConsumeVarint(tiles)
		if n < 0 {
			return data, fmt.Errorf("%w: тайл %d: %v", ErrCorrupt, i, protowire.ParseError(n))
		}
		tiles = tiles[n:]
		arg, n := protowire.ConsumeVarint(tiles)
		if n < 0 {
			return data, fmt.Errorf("%w: тайл %d: %v", ErrCorrupt, i, protowire.ParseError(n))
		}
		tiles = tiles[n:]
		if kind > math.MaxUint8 || arg > math.MaxUint32 {
			return data, fmt.Errorf("%w: тайл %d: (%d, %d) вне диапазона", ErrCorrupt, i, kind, arg)
		}
		t := terrain.TileType{Kind: terrain.TileKind(kind), Arg: uint32(arg)}
		if !t.Valid() {
			return data, fmt.Errorf("%w: тайл %d: недопустимый %s", ErrCorrupt, i, t)
		}
		data.Tiles = append(data.Tiles, t)
	}
	if len(data.Tiles) != expected {
		return data, fmt.Errorf("%w: тайлов %d, ожидалось %d", ErrCorrupt, len(data.Tiles), expected)
	}

	data.Flags = make([]terrain.Flags, len(flags))
	for i, f := range flags {
		data.Flags[i] = terrain.Flags(f)
	}
	return data, nil
}

func setVarintField(data *terrain.RegionData, num protowire.Number, v uint64) {
	switch num {
	case fieldLocX:
		data.Location.X = int(protowire.DecodeZigZag(v))
	case fieldLocY:
		data.Location.Y = int(protowire.DecodeZigZag(v))
	case fieldWorldIndex:
		data.WorldIndex = int(protowire.DecodeZigZag(v))
	case fieldBiome:
		data.Biome = terrain.BiomeRef(v)
	case fieldWidth:
		data.Dims.Width = int(v)
	case fieldHeight:
		data.Dims.Height = int(v)
	case fieldDepth:
		data.Dims.Depth = int(v)
	case fieldChunkSize:
		data.Dims.ChunkSize = int(v)
	case fieldVersion:
		data.Version = v
	}
}

func appendSigned(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendUnsigned(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
