package pipeline

import (
	"errors"
	"fmt"

	"github.com/annel0/voxel-terrain/internal/terrain"
)

// ErrInvalidRequest: запрос нельзя применить к региону.
var ErrInvalidRequest = errors.New("некорректный запрос изменения")

// Причины отбраковки запросов (метка метрики и поле диагностики).
const (
	ReasonOutOfRange  = "out_of_range"
	ReasonInvalidTile = "invalid_tile"
	ReasonDerivedFlag = "derived_flag"
)

// ChangeRequest: намерение изменить один тайл. Набор вариантов закрыт:
// SetTile, ClearVegetation, ApplyFlag. После постановки в пакет не меняется.
type ChangeRequest interface {
	fmt.Stringer
	// Target возвращает индекс изменяемого тайла.
	Target() terrain.TileIndex
	// apply применяет запрос под блокировкой записи региона.
	apply(r *terrain.Region) error
}

// SetTile заменяет тип тайла.
type SetTile struct {
	Index terrain.TileIndex
	Tile  terrain.TileType
}

func (s SetTile) Target() terrain.TileIndex { return s.Index }

func (s SetTile) String() string {
	return fmt.Sprintf("SetTile(%d, %s)", s.Index, s.Tile)
}

func (s SetTile) apply(r *terrain.Region) error {
	if err := checkIndex(r, s.Index); err != nil {
		return err
	}
	if !s.Tile.Valid() {
		return invalid(ReasonInvalidTile, "тип %s недопустим", s.Tile)
	}
	r.Set(s.Index, s.Tile)
	return nil
}

// ClearVegetation убирает растение с пола и крону дерева.
// Тайлы без растительности не меняются.
type ClearVegetation struct {
	Index terrain.TileIndex
}

func (c ClearVegetation) Target() terrain.TileIndex { return c.Index }

func (c ClearVegetation) String() string {
	return fmt.Sprintf("ClearVegetation(%d)", c.Index)
}

func (c ClearVegetation) apply(r *terrain.Region) error {
	if err := checkIndex(r, c.Index); err != nil {
		return err
	}
	switch t := r.Get(c.Index); t.Kind {
	case terrain.KindFloor:
		r.Set(c.Index, terrain.FloorTile(0))
	case terrain.KindTreeFoliage:
		r.Set(c.Index, terrain.EmptyTile())
	}
	return nil
}

// ApplyFlag устанавливает (или снимает при Clear) зарезервированные биты флагов.
// SOLID выводится из типа тайла и вручную не меняется.
type ApplyFlag struct {
	Index terrain.TileIndex
	Flag  terrain.Flags
	Clear bool
}

func (a ApplyFlag) Target() terrain.TileIndex { return a.Index }

func (a ApplyFlag) String() string {
	op := "set"
	if a.Clear {
		op = "clear"
	}
	return fmt.Sprintf("ApplyFlag(%d, %s %#04x)", a.Index, op, uint8(a.Flag))
}

func (a ApplyFlag) apply(r *terrain.Region) error {
	if err := checkIndex(r, a.Index); err != nil {
		return err
	}
	if a.Flag&terrain.FlagSolid != 0 {
		return invalid(ReasonDerivedFlag, "бит SOLID вычисляется по типу тайла")
	}
	f := r.Flags(a.Index)
	if a.Clear {
		f &^= a.Flag
	} else {
		f |= a.Flag
	}
	r.SetFlags(a.Index, f)
	return nil
}

func checkIndex(r *terrain.Region, idx terrain.TileIndex) error {
	if !r.ValidIndex(idx) {
		return invalid(ReasonOutOfRange, "индекс %d вне региона (%d тайлов)", idx, r.Extent().Len())
	}
	return nil
}

// rejection несёт причину отбраковки вместе с ErrInvalidRequest.
type rejection struct {
	reason string
	msg    string
}

func (e *rejection) Error() string { return e.reason + ": " + e.msg }
func (e *rejection) Unwrap() error { return ErrInvalidRequest }

func invalid(reason, format string, args ...any) error {
	return &rejection{reason: reason, msg: fmt.Sprintf(format, args...)}
}

func reasonOf(err error) string {
	var rej *rejection
	if errors.As(err, &rej) {
		return rej.reason
	}
	return "unknown"
}
