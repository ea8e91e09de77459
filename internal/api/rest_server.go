package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxel-terrain/internal/auth"
	"github.com/annel0/voxel-terrain/internal/cache"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/middleware"
	"github.com/annel0/voxel-terrain/internal/registry"
	"github.com/annel0/voxel-terrain/internal/session"
)

// CacheStats: источник метрик кэша для /api/stats.
type CacheStats interface {
	Metrics() *cache.CacheMetrics
}

// RestServer: административный REST API демона ландшафта
type RestServer struct {
	router  *gin.Engine
	server  *http.Server
	world   *session.World
	issuer  *auth.TokenIssuer
	cache   CacheStats
	port    string
	metrics *ServerMetrics
	log     *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port        string            // адрес, например ":8088"
	ServiceName string            // имя для трассировки
	World       *session.World    // сессия ландшафта
	Issuer      *auth.TokenIssuer // проверка операторских токенов
	Cache       CacheStats        // может быть nil
	Registerer  prometheus.Registerer
	Gatherer    prometheus.Gatherer
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.ServiceName == "" {
		config.ServiceName = "terraind"
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.NewRequestLogger(logging.GetAPILogger()).Handler())

	promMw := middleware.NewPrometheusMiddleware("terrain", config.Registerer, config.Gatherer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:  router,
		world:   config.World,
		issuer:  config.Issuer,
		cache:   config.Cache,
		port:    config.Port,
		metrics: NewServerMetrics(),
		log:     logging.GetAPILogger(),
	}
	rs.server = &http.Server{
		Addr:              config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.GET("/stats", rs.handleStats)
	api.GET("/regions", rs.handleListRegions)

	region := api.Group("/regions/:rx/:ry")
	{
		region.GET("", rs.handleDescribeRegion)
		region.GET("/tiles", rs.handleInspectTile)
		region.GET("/flow", rs.handleFlowExit)
		region.GET("/chunks/:cx/:cy/:cz", rs.handleChunkGeometry)
	}

	// Изменяющие эндпоинты (требуют JWT)
	write := api.Group("/regions/:rx/:ry")
	write.Use(middleware.RequireScope(rs.issuer, auth.ScopeWrite))
	{
		write.POST("/intents", rs.handleSpawn)
		write.DELETE("/intents/:intent", rs.handleRelease)
		write.POST("/batches", rs.handleSubmitBatch)
	}

	// Административные эндпоинты
	admin := api.Group("/admin")
	admin.Use(middleware.RequireScope(rs.issuer, auth.ScopeAdmin))
	{
		admin.DELETE("/regions/:rx/:ry", rs.handleEvict)
		admin.POST("/evict-idle", rs.handleEvictIdle)
	}
}

// Handler возвращает http.Handler роутера.
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStats возвращает статистику сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	reg := rs.world.Registry()
	stats["terrain"] = map[string]interface{}{
		"regions":         reg.Len(),
		"required":        len(reg.Locations(registry.Required)),
		"rebuild_backlog": rs.world.Dispatcher().Backlog(),
		"geometry_chunks": rs.world.Geometry().Len(),
		"bus":             rs.world.Bus().Metrics(),
	}
	if rs.cache != nil {
		stats["cache"] = rs.cache.Metrics()
	}

	cpuPercent, _ := rs.metrics.GetCPUUsage()
	rssMB, _ := rs.metrics.GetRSS()
	hostMem, _ := rs.metrics.GetHostMemory()
	stats["server"] = map[string]interface{}{
		"uptime":       rs.metrics.GetUptime(),
		"rss_mb":       fmt.Sprintf("%.2f", rssMB),
		"cpu_percent":  fmt.Sprintf("%.2f", cpuPercent),
		"host_mem_pct": fmt.Sprintf("%.2f", hostMem),
		"server_time":  time.Now().Unix(),
	}
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// Start запускает REST сервер и блокируется до Stop.
func (rs *RestServer) Start() error {
	rs.log.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop плавно останавливает REST сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}
