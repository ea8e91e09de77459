package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации terraind.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorldConfig: размеры региона и ребро чанка, общие для всей сессии.
// Surface: z-слой поверхности плоского генератора (0: середина по глубине),
// Cells: ширина планеты в регионах для индекса ячейки.
type WorldConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	Depth     int `yaml:"depth"`
	ChunkSize int `yaml:"chunk_size"`
	Surface   int `yaml:"surface"`
	Cells     int `yaml:"cells"`
}

type RebuildConfig struct {
	Workers       int `yaml:"workers"`
	QueueSize     int `yaml:"queue_size"`
	ResultsBuffer int `yaml:"results_buffer"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// EventBusConfig: пустой URL: только in-memory шина.
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		World: WorldConfig{Width: 256, Height: 256, Depth: 128, ChunkSize: 32, Cells: 64},
		Rebuild: RebuildConfig{
			Workers:       4,
			QueueSize:     256,
			ResultsBuffer: 256,
		},
		Storage: StorageConfig{Enabled: true, Path: "data"},
		Cache: CacheConfig{
			RedisURL: "localhost:6379",
			TTL:      10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Stream:    "TERRAIN",
			Retention: 24,
			Buffer:    1024,
		},
		Auth:      AuthConfig{TokenTTL: time.Hour},
		Telemetry: TelemetryConfig{ServiceName: "terraind"},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "logs/terraind.log",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// GetRESTPort возвращает порт REST API: config -> TERRAIN_REST_PORT -> 8088
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "TERRAIN_REST_PORT", 8088)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	w := c.World
	if w.ChunkSize <= 0 {
		return errors.New("world.chunk_size должен быть > 0")
	}
	if w.Width <= 0 || w.Height <= 0 || w.Depth <= 0 {
		return fmt.Errorf("world: некорректные размеры %dx%dx%d", w.Width, w.Height, w.Depth)
	}
	if w.Width%w.ChunkSize != 0 || w.Height%w.ChunkSize != 0 || w.Depth%w.ChunkSize != 0 {
		return fmt.Errorf("world: размеры %dx%dx%d не кратны chunk_size %d", w.Width, w.Height, w.Depth, w.ChunkSize)
	}
	if w.Surface < 0 || w.Surface >= w.Depth {
		return fmt.Errorf("world.surface %d вне [0, %d)", w.Surface, w.Depth)
	}
	if c.Rebuild.Workers <= 0 {
		return errors.New("rebuild.workers должен быть > 0")
	}
	if c.Rebuild.QueueSize <= 0 {
		return errors.New("rebuild.queue_size должен быть > 0")
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return errors.New("storage.path не задан")
	}
	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return errors.New("cache.redis_url не задан")
	}
	return nil
}

// Load читает YAML поверх Default().
// Если path == "", берётся TERRAIN_CONFIG; если и он пуст: возвращаются дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
		}
	}

	if secret := os.Getenv("TERRAIN_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return cfg, nil
}
