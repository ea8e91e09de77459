package logging

import (
	"fmt"
	"path/filepath"
	"sync"
)

// LoggerManager управляет логгерами подсистем (pipeline, rebuild, navigation, ...)
type LoggerManager struct {
	mu       sync.RWMutex
	loggers  map[string]*Logger
	dir      string
	baseOpts Options
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
			baseOpts: Options{
				ConsoleLevel:  INFO,
				FileLevel:     DEBUG,
				ConsoleOutput: true,
			},
		}
	})
	return globalManager
}

// Configure задаёт уровни и каталог для логгеров, создаваемых после вызова.
// Пустой dir отключает файловый вывод. Ненулевой opts.File.MaxSizeMB задаёт ротацию.
func (lm *LoggerManager) Configure(dir string, opts Options) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.dir = dir
	lm.baseOpts = opts
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Повторная проверка под write lock
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	opts := lm.baseOpts
	if lm.dir != "" {
		rotation := opts.File
		opts.File = DefaultFileConfig(component)
		opts.File.Path = filepath.Join(lm.dir, component+".log")
		if rotation.MaxSizeMB > 0 {
			opts.File.MaxSizeMB = rotation.MaxSizeMB
			opts.File.MaxBackups = rotation.MaxBackups
			opts.File.MaxAgeDays = rotation.MaxAgeDays
			opts.File.Compress = rotation.Compress
		}
	} else {
		opts.File = FileConfig{}
	}

	logger, err := NewLoggerWithOptions(component, opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать логгер %s: %w", component, err)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или логгер по умолчанию при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return defaultLogger
	}
	return logger
}

// CloseAll закрывает все логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("не удалось закрыть логгер %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// ListComponents возвращает список зарегистрированных компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	return components
}

// SetLogLevel устанавливает уровень логирования для компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("логгер компонента %s не найден", component)
	}

	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

// GetComponentLogger: короткий путь к логгеру компонента.
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetPipelineLogger() *Logger   { return GetComponentLogger("pipeline") }
func GetRebuildLogger() *Logger    { return GetComponentLogger("rebuild") }
func GetNavigationLogger() *Logger { return GetComponentLogger("navigation") }
func GetRegistryLogger() *Logger   { return GetComponentLogger("registry") }
func GetAPILogger() *Logger        { return GetComponentLogger("api") }
func GetStorageLogger() *Logger    { return GetComponentLogger("storage") }
