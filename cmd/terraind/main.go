package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/voxel-terrain/internal/api"
	"github.com/annel0/voxel-terrain/internal/auth"
	"github.com/annel0/voxel-terrain/internal/cache"
	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/metrics"
	"github.com/annel0/voxel-terrain/internal/observability"
	"github.com/annel0/voxel-terrain/internal/rebuild"
	"github.com/annel0/voxel-terrain/internal/registry"
	"github.com/annel0/voxel-terrain/internal/session"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

func main() {
	var (
		configPath  = flag.String("config", "", "путь к YAML конфигурации (или TERRAIN_CONFIG)")
		issueToken  = flag.String("issue-token", "", "выпустить токен для оператора и выйти")
		tokenScopes = flag.String("scopes", auth.ScopeWrite, "scope токена через запятую")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenScopes); err != nil {
			log.Fatalf("❌ Ошибка выпуска токена: %v", err)
		}
		return
	}

	if err := setupLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer func() { _ = logging.GetLoggerManager().CloseAll() }()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func setupLogging(lc config.LoggingConfig) error {
	level := logging.ParseLevel(lc.Level)
	opts := logging.Options{
		ConsoleLevel:  level,
		FileLevel:     logging.DEBUG,
		ConsoleOutput: true,
	}
	if lc.File != "" {
		opts.File = logging.FileConfig{
			Path:       lc.File,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		}
	}
	if err := logging.InitDefaultLoggerWithOptions("terraind", opts); err != nil {
		return err
	}

	dir := ""
	if lc.File != "" {
		dir = filepath.Dir(lc.File)
	}
	compOpts := opts
	compOpts.File = logging.FileConfig{
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
	logging.GetLoggerManager().Configure(dir, compOpts)
	return nil
}

func printToken(cfg *config.Config, operator, scopes string) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (или TERRAIN_JWT_SECRET) не задан")
	}
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	token, err := issuer.Generate(operator, strings.Split(scopes, ",")...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🌍 Запуск terraind: регион %dx%dx%d, чанк %d",
		cfg.World.Width, cfg.World.Height, cfg.World.Depth, cfg.World.ChunkSize)

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Enabled)
	if err != nil {
		return fmt.Errorf("инициализация телеметрии: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	dims := terrain.Dims{
		Width:     cfg.World.Width,
		Height:    cfg.World.Height,
		Depth:     cfg.World.Depth,
		ChunkSize: cfg.World.ChunkSize,
	}
	surface := cfg.World.Surface
	if surface == 0 {
		surface = dims.Depth / 2
	}
	gen := storage.FlatGenerator{Surface: surface, WorldWidth: cfg.World.Cells}

	// === ХРАНИЛИЩЕ ===
	var (
		store     *storage.RegionStore
		sink      registry.Sink
		cacheInfo api.CacheStats
	)
	if cfg.Storage.Enabled {
		badgerStore, err := storage.NewBadgerStore(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer badgerStore.Close()

		var blobs storage.Blobs = badgerStore
		if cfg.Cache.Enabled {
			redisCache, err := cache.NewRedisCache(cache.Options{
				Addr:     cfg.Cache.RedisURL,
				Password: cfg.Cache.RedisPassword,
				DB:       cfg.Cache.RedisDB,
			})
			if err != nil {
				return err
			}
			defer redisCache.Close()
			layered := cache.NewLayered(redisCache, badgerStore, cfg.Cache.TTL)
			blobs, cacheInfo = layered, layered
			logging.Info("⚡ Кэш регионов Redis: %s (TTL %s)", cfg.Cache.RedisURL, cfg.Cache.TTL)
		}

		store, err = storage.NewRegionStore(blobs)
		if err != nil {
			return err
		}
		defer store.Close()
		sink = store
		logging.Info("💾 Хранилище регионов: %s", badgerStore.Path())
	} else {
		logging.Warn("⚠️ Хранилище отключено: изменения ландшафта не сохраняются")
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		js, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream,
			time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			return err
		}
		bus = js
		logging.Info("📨 JetStream: %s, стрим %s", cfg.EventBus.URL, cfg.EventBus.Stream)
	} else {
		bus = eventbus.NewMemoryBus(cfg.EventBus.Buffer)
	}
	defer bus.Close()

	if sub, err := eventbus.StartLoggingListener(ctx, bus); err == nil {
		defer sub.Unsubscribe()
	} else {
		logging.Warn("⚠️ LoggingListener не запущен: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus, prometheus.DefaultRegisterer)
	busMetrics.Start(5 * time.Second)
	defer busMetrics.Stop()

	// === СЕССИЯ ===
	world, err := session.New(context.Background(), session.Options{
		Dims: dims,
		Rebuild: rebuild.Options{
			Workers:       cfg.Rebuild.Workers,
			QueueSize:     cfg.Rebuild.QueueSize,
			ResultsBuffer: cfg.Rebuild.ResultsBuffer,
		},
		Provider: storage.NewProvider(store, gen),
		Sink:     sink,
		Bus:      bus,
		Metrics:  metrics.NewTerrain(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = world.Close(context.Background())
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		logging.Warn("⚠️ auth.jwt_secret не задан: ключ сгенерирован, токены действуют до перезапуска")
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	server := api.NewRestServer(api.Config{
		Port:        restPort,
		ServiceName: cfg.Telemetry.ServiceName,
		World:       world,
		Issuer:      issuer,
		Cache:       cacheInfo,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	logging.Info("✅ terraind запущен")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", restPort)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, остановка...")
	case err := <-serverErr:
		if err != nil {
			logging.Error("❌ REST API остановлен с ошибкой: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := world.Close(shutdownCtx); err != nil {
		return fmt.Errorf("закрытие сессии: %w", err)
	}

	logging.Info("👋 terraind остановлен")
	return nil
}
