package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/annel0/voxel-terrain/internal/middleware"
	"github.com/annel0/voxel-terrain/internal/navigation"
	"github.com/annel0/voxel-terrain/internal/pipeline"
	"github.com/annel0/voxel-terrain/internal/registry"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

// CoordJSON: координата тайла или чанка в ответах.
type CoordJSON struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func coordJSON(c terrain.Coord) CoordJSON { return CoordJSON{X: c.X, Y: c.Y, Z: c.Z} }

// TileJSON описывает тайл и его выходы.
type TileJSON struct {
	Position CoordJSON   `json:"position"`
	Index    int         `json:"index"`
	Kind     string      `json:"kind"`
	Arg      uint32      `json:"arg,omitempty"`
	Flags    uint8       `json:"flags"`
	Solid    bool        `json:"solid"`
	Chunk    CoordJSON   `json:"chunk"`
	Exits    []CoordJSON `json:"exits"`
	Version  uint64      `json:"version"`
}

// IntentRequest: запрос на загрузку региона.
type IntentRequest struct {
	Intent string `json:"intent" binding:"required"`
}

// ChangeJSON: один запрос пакета изменений.
// op: set_tile | clear_vegetation | apply_flag.
type ChangeJSON struct {
	Op    string `json:"op" binding:"required"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
	Kind  string `json:"kind,omitempty"`
	Arg   uint32 `json:"arg,omitempty"`
	Flag  uint8  `json:"flag,omitempty"`
	Clear bool   `json:"clear,omitempty"`
}

// BatchRequest: пакет изменений одного региона.
type BatchRequest struct {
	Changes []ChangeJSON `json:"changes" binding:"required"`
}

// DiagnosticJSON: отброшенный запрос пакета.
type DiagnosticJSON struct {
	Position int    `json:"position"`
	Reason   string `json:"reason"`
	Error    string `json:"error"`
}

// CommitJSON: итог коммита.
type CommitJSON struct {
	BatchID   string           `json:"batch_id"`
	Version   uint64           `json:"version"`
	Applied   int              `json:"applied"`
	Dropped   []DiagnosticJSON `json:"dropped"`
	Dirty     []CoordJSON      `json:"dirty_chunks"`
	Scheduled int              `json:"scheduled"`
	Coalesced int              `json:"coalesced"`
}

func (rs *RestServer) fail(c *gin.Context, status int, message string) {
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

func (rs *RestServer) failErr(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		rs.log.Error("❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	rs.fail(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRegionNotFound), errors.Is(err, storage.ErrNotFound),
		errors.Is(err, registry.ErrNoProvider):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrRegionInUse), errors.Is(err, registry.ErrRegionReadOnly),
		errors.Is(err, pipeline.ErrBatchSealed):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrInvalidRequest), errors.Is(err, terrain.ErrDimsMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(c *gin.Context, name string) (int, error) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, fmt.Errorf("параметр %s: %w", name, err)
	}
	return v, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s: %w", name, err)
	}
	return v, nil
}

func locationParam(c *gin.Context) (terrain.Location, error) {
	x, err := intParam(c, "rx")
	if err != nil {
		return terrain.Location{}, err
	}
	y, err := intParam(c, "ry")
	if err != nil {
		return terrain.Location{}, err
	}
	return terrain.Location{X: x, Y: y}, nil
}

func chunkParam(c *gin.Context) (terrain.ChunkCoord, error) {
	var cc terrain.ChunkCoord
	var err error
	if cc.X, err = intParam(c, "cx"); err != nil {
		return cc, err
	}
	if cc.Y, err = intParam(c, "cy"); err != nil {
		return cc, err
	}
	if cc.Z, err = intParam(c, "cz"); err != nil {
		return cc, err
	}
	return cc, nil
}

func tileQuery(c *gin.Context) (terrain.Coord, error) {
	var at terrain.Coord
	var err error
	if at.X, err = intQuery(c, "x", 0); err != nil {
		return at, err
	}
	if at.Y, err = intQuery(c, "y", 0); err != nil {
		return at, err
	}
	if at.Z, err = intQuery(c, "z", 0); err != nil {
		return at, err
	}
	return at, nil
}

// handleListRegions возвращает резидентные регионы
func (rs *RestServer) handleListRegions(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Резидентные регионы",
		Data:    rs.world.Registry().List(),
	})
}

func (rs *RestServer) handleDescribeRegion(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	info, ok := rs.world.Registry().Describe(loc)
	if !ok {
		rs.fail(c, http.StatusNotFound, "регион не загружен")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Регион", Data: info})
}

// handleInspectTile возвращает тайл, флаги и выходы
func (rs *RestServer) handleInspectTile(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	at, err := tileQuery(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	planar := c.Query("planar") == "true"

	region, ok := rs.world.Registry().Get(loc)
	if !ok {
		rs.fail(c, http.StatusNotFound, "регион не загружен")
		return
	}
	ext := region.Extent()
	if !ext.Contains(at) {
		rs.fail(c, http.StatusBadRequest, fmt.Sprintf("тайл %s вне региона", at))
		return
	}
	idx := ext.IndexOf(at)

	region.Mu.RLock()
	tile := region.Get(idx)
	flags := region.Flags(idx)
	exits := region.AppendExits(nil, idx, planar)
	version := region.Version()
	region.Mu.RUnlock()

	cc := region.Chunks().ChunkOf(idx)
	out := TileJSON{
		Position: coordJSON(at),
		Index:    int(idx),
		Kind:     tile.Kind.String(),
		Arg:      tile.Arg,
		Flags:    uint8(flags),
		Solid:    flags.Has(terrain.FlagSolid),
		Chunk:    CoordJSON{X: cc.X, Y: cc.Y, Z: cc.Z},
		Exits:    make([]CoordJSON, 0, len(exits)),
		Version:  version,
	}
	for _, e := range exits {
		out.Exits = append(out.Exits, coordJSON(ext.ToCoord(e)))
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Тайл", Data: out})
}

// handleFlowExit: следующий шаг к ближайшему выходу из региона
func (rs *RestServer) handleFlowExit(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	at, err := tileQuery(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	level, err := intQuery(c, "level", navigation.AllLevels.Level)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	fm, err := rs.world.FlowMap(loc, level)
	if err != nil {
		rs.failErr(c, err)
		return
	}
	ext := fm.Region().Extent()
	if !ext.Contains(at) {
		rs.fail(c, http.StatusBadRequest, fmt.Sprintf("тайл %s вне региона", at))
		return
	}
	idx := ext.IndexOf(at)

	ctx := c.Request.Context()
	next, ok, err := fm.FindLowestCostExit(ctx, idx)
	if err != nil {
		rs.failErr(c, err)
		return
	}
	dist, err := fm.Distance(ctx, idx)
	if err != nil {
		rs.failErr(c, err)
		return
	}

	data := gin.H{"from": coordJSON(at), "found": ok}
	if ok {
		data["next"] = coordJSON(ext.ToCoord(next))
		data["distance"] = dist
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Выход", Data: data})
}

// handleChunkGeometry возвращает последний результат перестройки чанка
func (rs *RestServer) handleChunkGeometry(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	cc, err := chunkParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	res, ok := rs.world.Geometry().Get(terrain.ChunkID{Region: loc, Chunk: cc})
	if !ok {
		rs.fail(c, http.StatusNotFound, "геометрия чанка ещё не построена")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Геометрия чанка",
		Data: gin.H{
			"chunk":       CoordJSON{X: cc.X, Y: cc.Y, Z: cc.Z},
			"version":     res.Version,
			"duration_ms": float64(res.Duration.Microseconds()) / 1000,
			"geometry":    res.Geometry,
		},
	})
}

// handleSpawn загружает регион с намерением
func (rs *RestServer) handleSpawn(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	intent, ok := registry.ParseIntent(req.Intent)
	if !ok {
		rs.fail(c, http.StatusBadRequest, "неизвестное намерение: "+req.Intent)
		return
	}

	_, created, err := rs.world.Spawn(c.Request.Context(), loc, intent)
	if err != nil {
		rs.failErr(c, err)
		return
	}
	info, _ := rs.world.Registry().Describe(loc)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	rs.log.Info("📥 Оператор %s: %s для региона %s", middleware.OperatorFrom(c), intent, loc)
	c.JSON(status, GenericResponse{Success: true, Message: "Регион загружен", Data: info})
}

// handleRelease снимает одно намерение
func (rs *RestServer) handleRelease(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	intent, ok := registry.ParseIntent(c.Param("intent"))
	if !ok {
		rs.fail(c, http.StatusBadRequest, "неизвестное намерение: "+c.Param("intent"))
		return
	}
	if !rs.world.Release(loc, intent) {
		rs.fail(c, http.StatusNotFound, "намерение не найдено")
		return
	}
	info, _ := rs.world.Registry().Describe(loc)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Намерение снято", Data: info})
}

// toRequest переводит JSON в запрос конвейера. Координаты вне региона
// дают индекс -1, такой запрос отбрасывается конвейером с диагностикой.
func toRequest(ext terrain.Extent, ch ChangeJSON) (pipeline.ChangeRequest, error) {
	idx := terrain.TileIndex(-1)
	if at := (terrain.Coord{X: ch.X, Y: ch.Y, Z: ch.Z}); ext.Contains(at) {
		idx = ext.IndexOf(at)
	}

	switch ch.Op {
	case "set_tile":
		kind, ok := terrain.ParseTileKind(ch.Kind)
		if !ok {
			return nil, fmt.Errorf("неизвестный вид тайла %q", ch.Kind)
		}
		return pipeline.SetTile{Index: idx, Tile: terrain.TileType{Kind: kind, Arg: ch.Arg}}, nil
	case "clear_vegetation":
		return pipeline.ClearVegetation{Index: idx}, nil
	case "apply_flag":
		return pipeline.ApplyFlag{Index: idx, Flag: terrain.Flags(ch.Flag), Clear: ch.Clear}, nil
	default:
		return nil, fmt.Errorf("неизвестная операция %q", ch.Op)
	}
}

// handleSubmitBatch коммитит пакет изменений
func (rs *RestServer) handleSubmitBatch(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	ext := rs.world.Dims().Tiles()
	batch := pipeline.NewBatch(loc)
	for i, ch := range req.Changes {
		r, err := toRequest(ext, ch)
		if err != nil {
			rs.fail(c, http.StatusBadRequest, fmt.Sprintf("изменение #%d: %v", i, err))
			return
		}
		if err := batch.Enqueue(r); err != nil {
			rs.failErr(c, err)
			return
		}
	}

	res, err := rs.world.Submit(c.Request.Context(), batch)
	if err != nil {
		rs.failErr(c, err)
		return
	}

	out := CommitJSON{
		BatchID:   res.BatchID,
		Version:   res.Version,
		Applied:   res.Applied,
		Dropped:   make([]DiagnosticJSON, 0, len(res.Diagnostics)),
		Dirty:     make([]CoordJSON, 0, len(res.Dirty)),
		Scheduled: res.Scheduled,
		Coalesced: res.Coalesced,
	}
	for _, d := range res.Diagnostics {
		out.Dropped = append(out.Dropped, DiagnosticJSON{Position: d.Position, Reason: d.Reason, Error: d.Err.Error()})
	}
	for _, cc := range res.Dirty {
		out.Dirty = append(out.Dirty, CoordJSON{X: cc.X, Y: cc.Y, Z: cc.Z})
	}
	rs.log.Info("✏️ Оператор %s: пакет %s для %s, применено %d, отброшено %d",
		middleware.OperatorFrom(c), res.BatchID, loc, res.Applied, len(res.Diagnostics))
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Пакет применён", Data: out})
}

// handleEvict сохраняет и выгружает регион
func (rs *RestServer) handleEvict(c *gin.Context) {
	loc, err := locationParam(c)
	if err != nil {
		rs.fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := rs.world.Registry().Get(loc); !ok {
		rs.fail(c, http.StatusNotFound, "регион не загружен")
		return
	}
	if err := rs.world.Evict(c.Request.Context(), loc); err != nil {
		rs.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Регион выгружен"})
}

func (rs *RestServer) handleEvictIdle(c *gin.Context) {
	evicted, err := rs.world.EvictIdle(c.Request.Context())
	if err != nil {
		rs.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Простаивающие регионы выгружены", Data: evicted})
}
